package user

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Store reads user rows from PostgreSQL.
type Store struct {
	db *sql.DB
}

// NewStore creates a user store backed by the given database handle.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// FindByID returns the user with the given ID, or nil if absent.
func (s *Store) FindByID(ctx context.Context, id uuid.UUID) (*User, error) {
	const query = `
		SELECT uuid, tag, name, role,
		       COALESCE(status, ''), COALESCE(city, ''),
		       COALESCE(institution, ''), COALESCE(specialization, ''),
		       COALESCE(bio, ''), COALESCE(avatar_url, ''), created_at
		FROM users
		WHERE uuid = $1`

	var u User
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&u.UUID, &u.Tag, &u.Name, &u.Role,
		&u.Status, &u.City, &u.Institution, &u.Specialization,
		&u.Bio, &u.AvatarURL, &u.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("user: find by id: %w", err)
	}
	return &u, nil
}
