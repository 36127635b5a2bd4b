package user

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// Role represents user role in the system (matches user_role enum)
type Role string

const (
	RoleParticipant  Role = "participant"
	RolePhotographer Role = "photographer"
	RoleOrganizer    Role = "organizer"
	RoleAdmin        Role = "admin"
)

// Rank represents a priority tier used by rank-gated booking windows
type Rank string

const (
	RankGeneral  Rank = "general"
	RankGold     Rank = "gold"
	RankPlatinum Rank = "platinum"
)

// User represents a user account (matches users table)
type User struct {
	ID           uuid.UUID `db:"id"`
	Email        string    `db:"email"`
	PasswordHash string    `db:"password_hash"`
	DisplayName  string    `db:"display_name"`
	Role         Role      `db:"role"`
	Rank         Rank      `db:"rank"`

	// Login tracking
	LastLoginAt sql.NullTime   `db:"last_login_at"`
	LastLoginIP sql.NullString `db:"last_login_ip"`

	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

// IsAdmin returns true if user is an admin
func (u *User) IsAdmin() bool {
	return u.Role == RoleAdmin
}

// CanHostSessions returns true if user can create photo sessions
func (u *User) CanHostSessions() bool {
	return u.Role == RoleOrganizer || u.Role == RolePhotographer || u.Role == RoleAdmin
}

// TierLevel maps a rank to its numeric priority (higher opens earlier)
func (r Rank) TierLevel() int {
	switch r {
	case RankPlatinum:
		return 2
	case RankGold:
		return 1
	default:
		return 0
	}
}

// ValidRoles returns list of valid roles for registration
func ValidRoles() []Role {
	return []Role{RoleParticipant, RolePhotographer, RoleOrganizer}
}

// IsValidRole checks if role is valid for registration
func IsValidRole(role string) bool {
	for _, r := range ValidRoles() {
		if string(r) == role {
			return true
		}
	}
	return false
}
