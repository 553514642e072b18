package users

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

type DB interface {
	GetByName(name string) (*User, error)
	GetByEmail(email string) (*User, error)
	Insert(user User) error
}

type Store struct {
	db DB
}

type Configuration struct {
	DB DB
}

func NewStore(config Configuration) *Store {
	return &Store{
		db: config.DB,
	}
}

func (s *Store) GetByName(name string) (*User, error) {
	return s.db.GetByName(name)
}

func (s *Store) GetByEmail(email string) (*User, error) {
	return s.db.GetByEmail(strings.ToLower(email))
}

func (s *Store) Create(u User) error {
	hash, err := Hash(u.Password)
	if err != nil {
		return err
	}

	u.ID = GenerateID()
	u.Password = hash
	u.PrimaryEmail = strings.ToLower(u.PrimaryEmail)
	emails := make([]string, len(u.Emails))
	for i, e := range u.Emails {
		emails[i] = strings.ToLower(e)
	}
	u.Emails = emails

	return s.db.Insert(u)
}

// Authenticate returns the user if the password matches. Unknown users and
// wrong passwords both yield ErrInvalidCredentials.
func (s *Store) Authenticate(name, password string) (*User, error) {
	u, err := s.db.GetByName(name)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(u.Password), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	return u, nil
}

func GenerateID() string {
	return uuid.New().String()
}

func Hash(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}
