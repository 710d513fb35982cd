package services

import (
	"context"
	"errors"
	"net/mail"
	"strings"
	"unicode/utf8"

	"github.com/jjudge-oj/marketplace/internal/store"
	"github.com/jjudge-oj/marketplace/types"
	"golang.org/x/crypto/bcrypt"
)

const (
	maxUsernameLength = 150
	maxEmailLength    = 255
	minPasswordLength = 3
	// bcrypt ignores everything past 72 bytes.
	maxPasswordBytes = 72
)

// UserRepository defines persistence operations for users.
type UserRepository interface {
	GetByID(ctx context.Context, id int) (types.User, error)
	GetByUsername(ctx context.Context, username string) (types.User, error)
	Create(ctx context.Context, user types.User) (types.User, error)
}

// UserService encapsulates user use-cases.
type UserService struct {
	repo     UserRepository
	hashCost int
}

type UserOption func(*UserService)

// WithHashCost overrides the bcrypt cost. Out-of-range costs are ignored.
func WithHashCost(cost int) UserOption {
	return func(s *UserService) {
		if cost >= bcrypt.MinCost && cost <= bcrypt.MaxCost {
			s.hashCost = cost
		}
	}
}

func NewUserService(repo UserRepository, opts ...UserOption) *UserService {
	s := &UserService{repo: repo, hashCost: bcrypt.DefaultCost}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *UserService) GetByID(ctx context.Context, id int) (types.User, error) {
	return s.repo.GetByID(ctx, id)
}

// Signup validates the input, hashes the password and creates the user.
// A taken username yields store.ErrConflict.
func (s *UserService) Signup(ctx context.Context, username, email, password string) (types.User, error) {
	username = strings.TrimSpace(username)
	email = strings.TrimSpace(email)

	switch {
	case username == "":
		return types.User{}, invalid("username", "Username is required.")
	case utf8.RuneCountInString(username) > maxUsernameLength:
		return types.User{}, invalid("username", "Username is too long.")
	case strings.ContainsAny(username, " \t\r\n"):
		return types.User{}, invalid("username", "Username must not contain spaces.")
	}

	if email == "" {
		return types.User{}, invalid("email", "Email is required.")
	}
	if len(email) > maxEmailLength {
		return types.User{}, invalid("email", "Email is too long.")
	}
	if addr, err := mail.ParseAddress(email); err != nil || addr.Address != email {
		return types.User{}, invalid("email", "Email address is not valid.")
	}

	if len(password) < minPasswordLength {
		return types.User{}, invalid("password", "Password is too short.")
	}
	if len(password) > maxPasswordBytes {
		return types.User{}, invalid("password", "Password is too long.")
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(password), s.hashCost)
	if err != nil {
		return types.User{}, err
	}

	return s.repo.Create(ctx, types.User{
		Username:     username,
		Email:        email,
		PasswordHash: string(hashed),
	})
}

// Authenticate returns the user whose password matches.
func (s *UserService) Authenticate(ctx context.Context, username, password string) (types.User, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return types.User{}, ErrInvalidCredentials
	}

	user, err := s.repo.GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return types.User{}, ErrInvalidCredentials
		}
		return types.User{}, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return types.User{}, ErrInvalidCredentials
	}
	return user, nil
}
