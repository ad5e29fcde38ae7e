package users

import (
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"fmt"

	"github.com/google/uuid"
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
	return s.db.GetByEmail(email)
}

// Create stores u with a fresh id and its password and token hashed.
func (s *Store) Create(u User) error {
	u.ID = GenerateID()
	u.Password = Hash(u.Password)
	if u.Token != "" {
		u.Token = Hash(u.Token)
	}

	return s.db.Insert(u)
}

// Authenticate checks a name/password pair.
func (s *Store) Authenticate(name, password string) (*User, error) {
	return s.verify(name, func(u *User) string { return u.Password }, password)
}

// AuthenticateToken checks a name/bearer-token pair.
func (s *Store) AuthenticateToken(name, token string) (*User, error) {
	return s.verify(name, func(u *User) string { return u.Token }, token)
}

func (s *Store) verify(name string, stored func(*User) string, secret string) (*User, error) {
	u, err := s.db.GetByName(name)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("failed to get user %s: %w", name, err)
	}

	want := stored(u)
	if want == "" || subtle.ConstantTimeCompare([]byte(want), []byte(Hash(secret))) != 1 {
		return nil, ErrInvalidCredentials
	}
	return u, nil
}

func GenerateID() string {
	return uuid.New().String()
}

func Hash(password string) string {
	h := sha256.New()
	h.Write([]byte(password))
	bs := h.Sum(nil)
	return fmt.Sprintf("%x", bs)
}
