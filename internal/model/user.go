package model

import (
	"fmt"
	"time"
)

// User is a pull-only account record used for assignment and chat
type User struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Role      string    `json:"role,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ToRecord converts the user to its synced form
func (u User) ToRecord() Record {
	return toRecord(u)
}

// UserFromRecord decodes a cached user record
func UserFromRecord(r Record) (User, error) {
	var u User
	if err := fromRecord(r, &u); err != nil {
		return User{}, fmt.Errorf("failed to decode user %s: %w", r.ID(), err)
	}
	return u, nil
}
