// Package accounts registers and authenticates logins against the users
// table created for the default connection.
package accounts

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/melkeydev/treedb/databases"
	"github.com/melkeydev/treedb/types"
	"golang.org/x/crypto/bcrypt"
)

const usersTable = "users"

var (
	ErrLoginTaken         = errors.New("login already registered")
	ErrInvalidCredentials = errors.New("invalid login or password")
)

type Service struct {
	mu       sync.Mutex
	reader   *databases.Reader
	modifier *databases.Modifier
	cost     int
}

type Option func(*Service)

// WithCost sets the bcrypt cost. Tests use bcrypt.MinCost.
func WithCost(cost int) Option {
	return func(s *Service) { s.cost = cost }
}

func New(registry *databases.Registry, connectionName string, opts ...Option) *Service {
	s := &Service{
		reader:   databases.NewReader(registry, connectionName),
		modifier: databases.NewModifier(registry, connectionName),
		cost:     bcrypt.DefaultCost,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register stores login with a bcrypt hash of password and returns the new
// user id.
func (s *Service) Register(ctx context.Context, login, password string) (int64, error) {
	if login == "" || password == "" {
		return -1, fmt.Errorf("login or password: %w", databases.ErrEmpty)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return -1, fmt.Errorf("failed to hash password: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	inserted, err := s.modifier.InsertIfNotExists(ctx, usersTable, types.Values{
		"login":    login,
		"password": string(hash),
	}, []string{"login"})
	if err != nil {
		return -1, err
	}
	if !inserted {
		return -1, ErrLoginTaken
	}
	return s.modifier.LastInsertID(), nil
}

// Authenticate returns the user id when password matches the stored hash.
// An unknown login and a wrong password fail the same way.
func (s *Service) Authenticate(ctx context.Context, login, password string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.reader.FindByColumn(ctx, usersTable, "login", login)
	if err != nil {
		return -1, err
	}
	if len(rows) == 0 {
		return -1, ErrInvalidCredentials
	}

	hash := rows[0].Value("password").String()
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return -1, ErrInvalidCredentials
		}
		return -1, fmt.Errorf("failed to verify password: %w", err)
	}

	id, _ := rows[0].Value("id").Int64()
	return id, nil
}

// ChangePassword replaces the stored hash after checking the current
// password.
func (s *Service) ChangePassword(ctx context.Context, login, current, next string) error {
	id, err := s.Authenticate(ctx, login, current)
	if err != nil {
		return err
	}
	if next == "" {
		return fmt.Errorf("password: %w", databases.ErrEmpty)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(next), s.cost)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err = s.modifier.UpdateRecordByID(ctx, usersTable, id, types.Values{"password": string(hash)}, "id")
	return err
}
