package authpw

import (
	"context"
	"errors"
	"testing"

	"golang.org/x/crypto/bcrypt"

	"milestonetracker/api/internal/store"
)

// mockUserStore is a mock implementation of UserStore for testing
type mockUserStore struct {
	users      map[string]store.User
	emailIndex map[string]string
	nameIndex  map[string]string
	createErr  error
}

func newMockUserStore() *mockUserStore {
	return &mockUserStore{
		users:      make(map[string]store.User),
		emailIndex: make(map[string]string),
		nameIndex:  make(map[string]string),
	}
}

func (m *mockUserStore) GetUserByEmail(ctx context.Context, email string) (store.User, error) {
	if userID, ok := m.emailIndex[email]; ok {
		return m.users[userID], nil
	}
	return store.User{}, store.ErrNotFound
}

func (m *mockUserStore) GetUserByUsername(ctx context.Context, username string) (store.User, error) {
	if userID, ok := m.nameIndex[username]; ok {
		return m.users[userID], nil
	}
	return store.User{}, store.ErrNotFound
}

func (m *mockUserStore) CreateUser(ctx context.Context, user store.User) error {
	if m.createErr != nil {
		return m.createErr
	}
	m.users[user.ID] = user
	m.emailIndex[user.Email] = user.ID
	m.nameIndex[user.Username] = user.ID
	return nil
}

func newTestService(s UserStore) *Service {
	svc := NewService(s, 3)
	svc.cost = bcrypt.MinCost
	return svc
}

func TestRegisterTrackerGetsDefaults(t *testing.T) {
	mock := newMockUserStore()
	svc := newTestService(mock)

	user, err := svc.Register(context.Background(), RegisterRequest{
		Username: "pm2user",
		Email:    " PM2@Example.com ",
		Password: "password123",
		Role:     "pm2",
	})
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if user.Role != "tracker" {
		t.Errorf("expected role tracker, got %q", user.Role)
	}
	if user.Email != "pm2@example.com" {
		t.Errorf("expected normalized email, got %q", user.Email)
	}
	if user.DailyLimit != 3 || user.Remaining != 3 {
		t.Errorf("expected quota 3/3, got %d/%d", user.Remaining, user.DailyLimit)
	}
	if len(user.InterestCategories) != 3 || user.InterestCategories[1] != "System Design" {
		t.Errorf("unexpected interest categories %v", user.InterestCategories)
	}
	if !user.NotificationSettings.Email || user.NotificationSettings.Push {
		t.Errorf("unexpected notification settings %+v", user.NotificationSettings)
	}
	if user.PasswordHash == "password123" {
		t.Error("password stored in plain text")
	}
}

func TestRegisterOwnerHasNoCategories(t *testing.T) {
	svc := newTestService(newMockUserStore())
	user, err := svc.Register(context.Background(), RegisterRequest{
		Username: "pm1user", Email: "pm1@example.com", Password: "password123", Role: "owner",
	})
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if user.Role != "owner" || len(user.InterestCategories) != 0 || user.InterestCategories == nil {
		t.Fatalf("unexpected owner: %+v", user)
	}
}

func TestRegisterValidation(t *testing.T) {
	svc := newTestService(newMockUserStore())
	tests := []struct {
		name  string
		req   RegisterRequest
		field string
	}{
		{"missing username", RegisterRequest{Email: "a@example.com", Password: "password123", Role: "owner"}, "username"},
		{"bad email", RegisterRequest{Username: "alice", Email: "nope", Password: "password123", Role: "owner"}, "email"},
		{"short password", RegisterRequest{Username: "alice", Email: "a@example.com", Password: "abc", Role: "owner"}, "password"},
		{"unknown role", RegisterRequest{Username: "alice", Email: "a@example.com", Password: "password123", Role: "admin"}, "role"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Register(context.Background(), tt.req)
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			if _, ok := verr.Fields[tt.field]; !ok {
				t.Fatalf("expected %s to fail, got %v", tt.field, verr.Fields)
			}
		})
	}
}

func TestRegisterRejectsDuplicates(t *testing.T) {
	mock := newMockUserStore()
	svc := newTestService(mock)
	ctx := context.Background()
	req := RegisterRequest{Username: "alice", Email: "alice@example.com", Password: "password123", Role: "tracker"}
	if _, err := svc.Register(ctx, req); err != nil {
		t.Fatalf("first register: %v", err)
	}

	dupEmail := req
	dupEmail.Username = "alice2"
	if _, err := svc.Register(ctx, dupEmail); !errors.Is(err, ErrEmailTaken) {
		t.Fatalf("expected ErrEmailTaken, got %v", err)
	}

	dupName := req
	dupName.Email = "other@example.com"
	if _, err := svc.Register(ctx, dupName); !errors.Is(err, ErrUsernameTaken) {
		t.Fatalf("expected ErrUsernameTaken, got %v", err)
	}

	mock.createErr = store.ErrConflict
	race := RegisterRequest{Username: "bob", Email: "bob@example.com", Password: "password123", Role: "tracker"}
	if _, err := svc.Register(ctx, race); !errors.Is(err, ErrEmailTaken) {
		t.Fatalf("expected ErrEmailTaken on insert conflict, got %v", err)
	}
}

func TestLogin(t *testing.T) {
	svc := newTestService(newMockUserStore())
	ctx := context.Background()
	registered, err := svc.Register(ctx, RegisterRequest{
		Username: "alice", Email: "alice@example.com", Password: "password123", Role: "owner",
	})
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	user, err := svc.Login(ctx, "Alice@Example.com", "password123")
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if user.ID != registered.ID {
		t.Errorf("expected user %s, got %s", registered.ID, user.ID)
	}

	for _, tc := range []struct{ email, password string }{
		{"alice@example.com", "wrong-password"},
		{"nobody@example.com", "password123"},
		{"", ""},
	} {
		if _, err := svc.Login(ctx, tc.email, tc.password); !errors.Is(err, ErrInvalidCredentials) {
			t.Errorf("Login(%q): expected ErrInvalidCredentials, got %v", tc.email, err)
		}
	}
}
