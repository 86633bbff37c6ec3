// Package user provides read access to the user directory. The chat subsystem
// only needs to confirm that an authenticated subject still exists and to
// resolve companion profiles for chat summaries; account management lives in
// the profile service.
package user

import (
	"time"

	"github.com/google/uuid"
)

// User is a directory entry with the public profile fields.
type User struct {
	UUID           uuid.UUID `json:"uuid"`
	Tag            string    `json:"tag"`
	Name           string    `json:"name"`
	Role           string    `json:"role"`
	Status         string    `json:"status"`
	City           string    `json:"city"`
	Institution    string    `json:"institution"`
	Specialization string    `json:"specialization"`
	Bio            string    `json:"bio"`
	AvatarURL      string    `json:"avatar_url"`
	CreatedAt      time.Time `json:"created_at"`
}
