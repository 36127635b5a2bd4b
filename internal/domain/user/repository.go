package user

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// Repository defines user data access interface
type Repository interface {
	Create(ctx context.Context, user *User) error
	GetByID(ctx context.Context, id uuid.UUID) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
	UpdateRank(ctx context.Context, id uuid.UUID, rank Rank) error
	UpdateLastLogin(ctx context.Context, id uuid.UUID, ip string) error
}

type repository struct {
	db *sqlx.DB
}

// NewRepository creates user repository
func NewRepository(db *sqlx.DB) Repository {
	return &repository{db: db}
}

func (r *repository) Create(ctx context.Context, u *User) error {
	query := `
		INSERT INTO users (id, email, password_hash, display_name, role, rank, created_at, updated_at)
		VALUES (:id, :email, :password_hash, :display_name, :role, :rank, :created_at, :updated_at)
	`
	_, err := r.db.NamedExecContext(ctx, query, u)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return ErrEmailAlreadyExists
		}
		return err
	}
	return nil
}

func (r *repository) GetByID(ctx context.Context, id uuid.UUID) (*User, error) {
	var u User
	err := r.db.GetContext(ctx, &u, `SELECT * FROM users WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *repository) GetByEmail(ctx context.Context, email string) (*User, error) {
	var u User
	err := r.db.GetContext(ctx, &u, `SELECT * FROM users WHERE email = $1`, email)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *repository) UpdateRank(ctx context.Context, id uuid.UUID, rank Rank) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE users SET rank = $1, updated_at = $2 WHERE id = $3`,
		rank, time.Now(), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrUserNotFound
	}
	return nil
}

func (r *repository) UpdateLastLogin(ctx context.Context, id uuid.UUID, ip string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE users SET last_login_at = $1, last_login_ip = $2 WHERE id = $3`,
		time.Now(), ip, id)
	return err
}
