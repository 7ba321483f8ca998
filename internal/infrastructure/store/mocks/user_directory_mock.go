package mocks

import (
	"context"
	"sync"

	"github.com/example/ec-orders/internal/domain/user"
)

// MockUserDirectory is an in-memory user.Directory
type MockUserDirectory struct {
	mu    sync.Mutex
	users map[string]user.User

	GetErr error
}

// NewMockUserDirectory creates a MockUserDirectory seeded with users
func NewMockUserDirectory(users ...user.User) *MockUserDirectory {
	m := &MockUserDirectory{users: make(map[string]user.User, len(users))}
	for _, u := range users {
		m.users[u.ID] = u
	}
	return m
}

func (m *MockUserDirectory) Get(ctx context.Context, id string) (*user.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.GetErr != nil {
		return nil, m.GetErr
	}
	u, ok := m.users[id]
	if !ok {
		return nil, user.ErrUserNotFound
	}
	return &u, nil
}
