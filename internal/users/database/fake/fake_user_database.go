package fake

import (
	"sync"

	"github.com/OliverSchlueter/mail-transport/internal/users"
)

type DB struct {
	Users []users.User
	mu    sync.Mutex
}

func NewDB() *DB {
	return &DB{
		Users: []users.User{},
	}
}

func (db *DB) GetByName(name string) (*users.User, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	for _, user := range db.Users {
		if user.Name == name {
			return &user, nil
		}
	}
	return nil, users.ErrUserNotFound
}

func (db *DB) GetByEmail(email string) (*users.User, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	for _, user := range db.Users {
		if user.HasEmail(email) {
			return &user, nil
		}
	}
	return nil, users.ErrUserNotFound
}

func (db *DB) Insert(user users.User) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	for _, existing := range db.Users {
		if existing.Name == user.Name {
			return users.ErrUserAlreadyExists
		}
	}

	db.Users = append(db.Users, user)
	return nil
}
