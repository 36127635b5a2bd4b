package booking

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// drawGuardTTL bounds how long the cross-process draw lock is held. The
// database drawn_at record is the real idempotency barrier; the guard only
// keeps two concurrent handlers from racing to it.
const drawGuardTTL = 30 * time.Second

// drawWinners deterministically selects up to capacity winners from the
// entries. Entries are ordered by entry time before shuffling so the same
// seed always yields the same winner set regardless of query order.
func drawWinners(entries []*Booking, capacity int, seed int64) []*Booking {
	sorted := make([]*Booking, len(entries))
	copy(sorted, entries)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].EnteredAt.Equal(sorted[j].EnteredAt) {
			return sorted[i].ID.String() < sorted[j].ID.String()
		}
		return sorted[i].EnteredAt.Before(sorted[j].EnteredAt)
	})

	rng := rand.New(rand.NewSource(seed))
	rng.Shuffle(len(sorted), func(i, j int) {
		sorted[i], sorted[j] = sorted[j], sorted[i]
	})

	if capacity > len(sorted) {
		capacity = len(sorted)
	}
	return sorted[:capacity]
}

// drawGuard serializes draw attempts per slot across processes via
// SET NX. Without redis the database record alone decides, which is still
// correct, just noisier under races.
type drawGuard struct {
	client *redis.Client
}

func (g *drawGuard) acquire(ctx context.Context, slotID uuid.UUID) (bool, error) {
	if g.client == nil {
		return true, nil
	}
	key := fmt.Sprintf("booking:draw:%s", slotID)
	return g.client.SetNX(ctx, key, "1", drawGuardTTL).Result()
}

func (g *drawGuard) release(ctx context.Context, slotID uuid.UUID) {
	if g.client == nil {
		return
	}
	g.client.Del(ctx, fmt.Sprintf("booking:draw:%s", slotID))
}
