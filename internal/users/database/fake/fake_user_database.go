package fake

import (
	"sync"

	"github.com/OliverSchlueter/mail-submit/internal/users"
)

type DB struct {
	byName map[string]users.User
	mu     sync.Mutex
}

func NewDB() *DB {
	return &DB{
		byName: make(map[string]users.User),
	}
}

func (db *DB) GetByName(name string) (*users.User, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	user, exists := db.byName[name]
	if !exists {
		return nil, users.ErrUserNotFound
	}
	return &user, nil
}

func (db *DB) GetByEmail(email string) (*users.User, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	for _, user := range db.byName {
		if user.Owns(email) {
			return &user, nil
		}
	}
	return nil, users.ErrUserNotFound
}

func (db *DB) Insert(user users.User) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if _, exists := db.byName[user.Name]; exists {
		return users.ErrUserAlreadyExists
	}
	db.byName[user.Name] = user
	return nil
}
