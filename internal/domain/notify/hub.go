package notify

import (
	"context"
	"encoding/json"
	"expvar"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// Event names pushed to clients
const (
	EventLotteryWon    = "lottery_won"
	EventSelected      = "selected"
	EventWaitlistOffer = "waitlist_offer"
	EventEscrowUpdate  = "escrow_update"
	EventDispute       = "dispute_update"
)

const eventsChannel = "notify:events"

var (
	wsConnectionsGauge   = expvar.NewInt("websocket_connections")
	wsEventsSentTotal    = expvar.NewInt("websocket_events_sent_total")
	wsEventsDroppedTotal = expvar.NewInt("websocket_events_dropped_total")
)

// Event is one push notification
type Event struct {
	Type      string    `json:"type"`
	UserID    uuid.UUID `json:"user_id"`
	BookingID uuid.UUID `json:"booking_id,omitempty"`
	Data      any       `json:"data,omitempty"`
	SentAt    time.Time `json:"sent_at"`

	// senderInstanceID keeps an instance from re-delivering its own
	// redis fanout
	SenderInstanceID string `json:"sender_instance_id,omitempty"`
}

// Connection represents one WebSocket client
type Connection struct {
	UserID uuid.UUID
	Conn   *websocket.Conn
	Send   chan []byte
}

// Hub fans booking and escrow events out to connected clients. Redis
// Pub/Sub carries events between instances; without redis the hub still
// delivers to local connections.
type Hub struct {
	connections map[uuid.UUID]map[*Connection]bool
	mu          sync.RWMutex

	redis  *redis.Client
	pubsub *redis.PubSub

	register   chan *Connection
	unregister chan *Connection

	ctx    context.Context
	cancel context.CancelFunc

	instanceID string
}

// NewHub creates a notification hub
func NewHub(redisClient *redis.Client) *Hub {
	ctx, cancel := context.WithCancel(context.Background())

	h := &Hub{
		connections: make(map[uuid.UUID]map[*Connection]bool),
		redis:       redisClient,
		register:    make(chan *Connection),
		unregister:  make(chan *Connection),
		ctx:         ctx,
		cancel:      cancel,
		instanceID:  uuid.NewString(),
	}
	if redisClient != nil {
		h.pubsub = redisClient.Subscribe(ctx, eventsChannel)
	}
	return h
}

// Run starts the hub (call in goroutine)
func (h *Hub) Run() {
	if h.pubsub != nil {
		go h.runRedisSubscriber()
	}

	for {
		select {
		case <-h.ctx.Done():
			return

		case conn := <-h.register:
			h.mu.Lock()
			if h.connections[conn.UserID] == nil {
				h.connections[conn.UserID] = make(map[*Connection]bool)
			}
			h.connections[conn.UserID][conn] = true
			h.mu.Unlock()
			wsConnectionsGauge.Add(1)
			log.Debug().Str("user_id", conn.UserID.String()).Msg("User connected to notifications")

		case conn := <-h.unregister:
			h.mu.Lock()
			if conns, ok := h.connections[conn.UserID]; ok {
				if _, exists := conns[conn]; exists {
					delete(conns, conn)
					close(conn.Send)
					wsConnectionsGauge.Add(-1)
				}
				if len(conns) == 0 {
					delete(h.connections, conn.UserID)
				}
			}
			h.mu.Unlock()
			log.Debug().Str("user_id", conn.UserID.String()).Msg("User disconnected from notifications")
		}
	}
}

// Stop shuts the hub down
func (h *Hub) Stop() {
	h.cancel()
	if h.pubsub != nil {
		h.pubsub.Close()
	}
}

func (h *Hub) runRedisSubscriber() {
	ch := h.pubsub.Channel()
	for {
		select {
		case <-h.ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var event Event
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				continue
			}
			if event.SenderInstanceID == h.instanceID {
				continue
			}
			h.deliverLocal(&event)
		}
	}
}

// Publish delivers an event to the target user on every instance
func (h *Hub) Publish(ctx context.Context, event *Event) {
	event.SentAt = time.Now()
	h.deliverLocal(event)

	if h.redis == nil {
		return
	}
	event.SenderInstanceID = h.instanceID
	data, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal notification event")
		return
	}
	if err := h.redis.Publish(ctx, eventsChannel, data).Err(); err != nil {
		log.Warn().Err(err).Msg("failed to publish notification event")
	}
}

func (h *Hub) deliverLocal(event *Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	conns, ok := h.connections[event.UserID]
	if !ok {
		return
	}

	data, err := json.Marshal(event)
	if err != nil {
		return
	}
	for conn := range conns {
		select {
		case conn.Send <- data:
			wsEventsSentTotal.Add(1)
		default:
			wsEventsDroppedTotal.Add(1)
			log.Warn().Str("user_id", event.UserID.String()).Msg("WebSocket send buffer full")
		}
	}
}

// Register adds a connection
func (h *Hub) Register(conn *Connection) {
	h.register <- conn
}

// Unregister removes a connection
func (h *Hub) Unregister(conn *Connection) {
	h.unregister <- conn
}

// BookingEvent pushes a booking lifecycle event to one user
func (h *Hub) BookingEvent(ctx context.Context, userID uuid.UUID, event string, bookingID uuid.UUID) {
	h.Publish(ctx, &Event{
		Type:      event,
		UserID:    userID,
		BookingID: bookingID,
	})
}

// EscrowEvent pushes an escrow state change to one user. The new state
// rides in the payload.
func (h *Hub) EscrowEvent(ctx context.Context, userID, escrowID uuid.UUID, state string) {
	h.Publish(ctx, &Event{
		Type:   EventEscrowUpdate,
		UserID: userID,
		Data:   map[string]string{"escrow_id": escrowID.String(), "state": state},
	})
}

// DisputeEvent pushes a dispute lifecycle change to one user
func (h *Hub) DisputeEvent(ctx context.Context, userID, disputeID uuid.UUID, resolution string) {
	h.Publish(ctx, &Event{
		Type:   EventDispute,
		UserID: userID,
		Data:   map[string]string{"dispute_id": disputeID.String(), "resolution": resolution},
	})
}
