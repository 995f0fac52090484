// Package authpw provides username/email/password registration and login.
package authpw

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"golang.org/x/crypto/bcrypt"

	"milestonetracker/api/internal/rbac"
	"milestonetracker/api/internal/store"
	"milestonetracker/api/internal/util"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrEmailTaken         = errors.New("email already registered")
	ErrUsernameTaken      = errors.New("username already taken")
)

// DefaultInterestCategories are given to every new tracker.
var DefaultInterestCategories = []string{"Requirements Analysis", "System Design", "Testing"}

// UserStore defines the storage interface for auth
type UserStore interface {
	GetUserByEmail(ctx context.Context, email string) (store.User, error)
	GetUserByUsername(ctx context.Context, username string) (store.User, error)
	CreateUser(ctx context.Context, user store.User) error
}

// Service provides password authentication
type Service struct {
	store      UserStore
	dailyLimit int
	validate   *validator.Validate
	cost       int
	now        func() time.Time
}

// NewService creates a new auth service. dailyLimit is the allowance new trackers start with.
func NewService(store UserStore, dailyLimit int) *Service {
	if dailyLimit <= 0 {
		dailyLimit = 3
	}
	return &Service{
		store:      store,
		dailyLimit: dailyLimit,
		validate:   validator.New(validator.WithRequiredStructEnabled()),
		cost:       bcrypt.DefaultCost,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// RegisterRequest contains sign-up parameters. Role accepts owner, tracker or the legacy pm1/pm2.
type RegisterRequest struct {
	Username string `json:"username" validate:"required,min=3,max=40,alphanum"`
	Email    string `json:"email" validate:"required,email,max=254"`
	Password string `json:"password" validate:"required,min=6,max=72"`
	Role     string `json:"role" validate:"required,oneof=owner tracker pm1 pm2"`
}

// ValidationError lists the request fields that failed validation.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for field, rule := range e.Fields {
		parts = append(parts, field+" "+rule)
	}
	return "invalid request: " + strings.Join(parts, ", ")
}

func (s *Service) Validate(v any) error {
	err := s.validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("validate request: %w", err)
	}
	out := &ValidationError{Fields: make(map[string]string, len(verrs))}
	for _, fe := range verrs {
		out.Fields[lowerFirst(fe.Field())] = fe.Tag()
	}
	return out
}

// Register creates a new user account
func (s *Service) Register(ctx context.Context, req RegisterRequest) (store.User, error) {
	req.Username = strings.TrimSpace(req.Username)
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	req.Role = strings.ToLower(strings.TrimSpace(req.Role))
	if err := s.Validate(req); err != nil {
		return store.User{}, err
	}

	if _, err := s.store.GetUserByEmail(ctx, req.Email); err == nil {
		return store.User{}, ErrEmailTaken
	} else if !errors.Is(err, store.ErrNotFound) {
		return store.User{}, fmt.Errorf("check email: %w", err)
	}
	if _, err := s.store.GetUserByUsername(ctx, req.Username); err == nil {
		return store.User{}, ErrUsernameTaken
	} else if !errors.Is(err, store.ErrNotFound) {
		return store.User{}, fmt.Errorf("check username: %w", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), s.cost)
	if err != nil {
		return store.User{}, fmt.Errorf("hash password: %w", err)
	}

	role := rbac.Normalize(req.Role)
	user := store.User{
		ID:                   util.NewID("usr"),
		Username:             req.Username,
		Email:                req.Email,
		PasswordHash:         string(hash),
		Role:                 string(role),
		DailyLimit:           s.dailyLimit,
		Remaining:            s.dailyLimit,
		NotificationSettings: store.DefaultNotificationSettings(),
		InterestCategories:   []string{},
		CreatedAt:            s.now(),
	}
	if role == rbac.RoleTracker {
		user.InterestCategories = append([]string(nil), DefaultInterestCategories...)
	}

	if err := s.store.CreateUser(ctx, user); err != nil {
		if errors.Is(err, store.ErrConflict) {
			// Lost a race with a concurrent sign-up.
			return store.User{}, ErrEmailTaken
		}
		return store.User{}, fmt.Errorf("create user: %w", err)
	}
	return user, nil
}

// Login authenticates a user by email and password
func (s *Service) Login(ctx context.Context, email, password string) (store.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		return store.User{}, ErrInvalidCredentials
	}

	user, err := s.store.GetUserByEmail(ctx, email)
	if errors.Is(err, store.ErrNotFound) {
		return store.User{}, ErrInvalidCredentials
	}
	if err != nil {
		return store.User{}, fmt.Errorf("load user: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return store.User{}, ErrInvalidCredentials
	}
	return user, nil
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToLower(s[:1]) + s[1:]
}
