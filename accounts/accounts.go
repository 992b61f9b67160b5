// Package accounts holds user records and credential verification. Tokens
// are the API layer's business; this package only answers "who is this"
// and "is the password right".
package accounts

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

const minPasswordLen = 8

var (
	ErrEmailTaken     = errors.New("email already registered")
	ErrBadCredentials = errors.New("invalid email or password")
	ErrNotFound       = errors.New("user not found")
	ErrValidation     = errors.New("validation failed")
)

// User is one registered account. PasswordHash never leaves the process.
type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// Store is the in-memory user record, email-unique. An archive hook mirrors
// writes to durable storage when configured.
type Store struct {
	mu      sync.RWMutex
	byID    map[string]*User
	byEmail map[string]*User
	archive func(User)
}

func NewStore() *Store {
	return &Store{
		byID:    make(map[string]*User),
		byEmail: make(map[string]*User),
	}
}

// SetArchive installs the durable-store mirror.
func (s *Store) SetArchive(fn func(User)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.archive = fn
}

// Register creates a user with a bcrypt-hashed password. Email is the login
// key and is stored lowercased; an empty username defaults to the email's
// local part.
func (s *Store) Register(email, username, password string) (User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || !strings.Contains(email, "@") {
		return User{}, fmt.Errorf("%w: invalid email", ErrValidation)
	}
	if len(password) < minPasswordLen {
		return User{}, fmt.Errorf("%w: password must be at least %d characters", ErrValidation, minPasswordLen)
	}
	if username == "" {
		username = email[:strings.Index(email, "@")]
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return User{}, fmt.Errorf("hash password: %w", err)
	}

	u := &User{
		ID:           uuid.NewString(),
		Email:        email,
		Username:     username,
		PasswordHash: string(hash),
		CreatedAt:    time.Now().UTC(),
	}

	s.mu.Lock()
	if _, taken := s.byEmail[email]; taken {
		s.mu.Unlock()
		return User{}, fmt.Errorf("%w: %s", ErrEmailTaken, email)
	}
	s.byID[u.ID] = u
	s.byEmail[email] = u
	archive := s.archive
	s.mu.Unlock()

	if archive != nil {
		archive(*u)
	}
	return *u, nil
}

// Authenticate checks email + password. The error does not distinguish an
// unknown email from a wrong password.
func (s *Store) Authenticate(email, password string) (User, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	s.mu.RLock()
	u, ok := s.byEmail[email]
	s.mu.RUnlock()
	if !ok {
		return User{}, ErrBadCredentials
	}
	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) != nil {
		return User{}, ErrBadCredentials
	}
	return *u, nil
}

// Get returns a user by id.
func (s *Store) Get(id string) (User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.byID[id]
	if !ok {
		return User{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return *u, nil
}

// Count reports the number of registered users.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID)
}
