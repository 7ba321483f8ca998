package store

import (
	"context"
	"database/sql"

	"github.com/go-faster/errors"

	"github.com/example/ec-orders/internal/domain/user"
)

var _ user.Directory = (*PostgresUserDirectory)(nil)

// PostgresUserDirectory reads the users table owned by the identity service.
type PostgresUserDirectory struct {
	db *sql.DB
}

func NewPostgresUserDirectory(db *sql.DB) *PostgresUserDirectory {
	return &PostgresUserDirectory{db: db}
}

func (d *PostgresUserDirectory) Get(ctx context.Context, id string) (*user.User, error) {
	var u user.User
	err := d.db.QueryRowContext(ctx,
		`SELECT id, email, name, role FROM users WHERE id = $1`,
		id,
	).Scan(&u.ID, &u.Email, &u.Name, &u.Role)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, user.ErrUserNotFound
	}
	if err != nil {
		return nil, errors.Wrapf(err, "get user %s", id)
	}
	return &u, nil
}
