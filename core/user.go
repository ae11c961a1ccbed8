package core

import (
	"context"
	"errors"
)

type User struct {
	Name     string `json:"name" validate:"required"`
	Username string `json:"username" validate:"required,min=3,max=32"`
	Password string `json:"password" validate:"required,min=8"`
}

// Validate validates the user input for registration.
func (u *User) Validate() error {
	return validate.Struct(u)
}

// UserWithoutSecrets is the public profile of a user.
type UserWithoutSecrets struct {
	Name     string `json:"name"`
	Username string `json:"username"`
}

var (
	// ErrConflictedUser is returned when a username is already taken.
	ErrConflictedUser = errors.New("user already exists")
)

type UserStore interface {
	CreateUser(ctx context.Context, user User) error

	// GetUserByUsername returns the user with the given username.
	// If the user is not found, it returns nil.
	GetUserByUsername(ctx context.Context, username string) (*UserWithoutSecrets, error)

	GetUsersByUsernames(ctx context.Context, usernames ...string) ([]UserWithoutSecrets, error)

	ComparePassword(ctx context.Context, username, password string) (bool, error)
}
