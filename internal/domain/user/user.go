// Package user exposes the identity collaborator to the order core. Users
// are registered and managed elsewhere; this side only reads them.
package user

import (
	"context"

	"github.com/go-faster/errors"
)

var ErrUserNotFound = errors.New("user not found")

type User struct {
	ID    string
	Email string
	Name  string
	Role  string
}

// Directory looks up users by id.
type Directory interface {
	Get(ctx context.Context, id string) (*User, error)
}
