package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"milestonetracker/api/internal/auth"
	"milestonetracker/api/internal/authpw"
	"milestonetracker/api/internal/config"
	"milestonetracker/api/internal/rbac"
	"milestonetracker/api/internal/search"
	"milestonetracker/api/internal/store"
	"milestonetracker/api/internal/tracking"
	"milestonetracker/api/internal/util"
)

type Session struct {
	Token        string
	RefreshToken string
	UserID       string
	UserName     string
	Role         string
	JTI          string
	ExpiresAt    time.Time
}

func (s Session) caller() tracking.Caller {
	return tracking.Caller{ID: s.UserID, Role: rbac.Role(s.Role)}
}

// SessionStore keeps refresh sessions and revoked access tokens. Both the SQL
// store and session.RedisStore satisfy it.
type SessionStore interface {
	SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error
	LookupRefreshSession(ctx context.Context, tokenHash string) (string, error)
	RevokeRefreshSession(ctx context.Context, tokenHash string) error
	RevokeAccessToken(ctx context.Context, jti string, expiresAt time.Time) error
	IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error)
}

type DataStore interface {
	authpw.UserStore
	GetUserByID(ctx context.Context, id string) (store.User, error)
	UpdateNotificationSettings(ctx context.Context, userID string, settings store.NotificationSettings) error
	UpdateInterestCategories(ctx context.Context, userID string, categories []string) error
	CreateMilestone(ctx context.Context, milestone store.Milestone) error
	GetMilestone(ctx context.Context, id string) (store.Milestone, error)
	ListMilestonesByOwner(ctx context.Context, ownerID string) ([]store.Milestone, error)
	ListAvailableMilestones(ctx context.Context, trackerID string) ([]store.Milestone, error)
	UpdateMilestoneDetails(ctx context.Context, id, name, description string, at time.Time) error
	ListTrackingsByMilestone(ctx context.Context, milestoneID string) ([]store.Tracking, error)
	ListTrackingsByTracker(ctx context.Context, trackerID string) ([]store.TrackedMilestone, error)
	CountDistinctTrackers(ctx context.Context, ownerID string) (int, error)
	ListNotifications(ctx context.Context, recipientID string, filter store.NotificationFilter) ([]store.Notification, error)
	CountUnread(ctx context.Context, recipientID string) (int, error)
	MarkNotificationRead(ctx context.Context, recipientID, notificationID string) error
	MarkAllNotificationsRead(ctx context.Context, recipientID string) (int, error)
	Ping(ctx context.Context) error
}

// Engine is the tracking core as the HTTP layer sees it.
type Engine interface {
	TrackMilestone(ctx context.Context, caller tracking.Caller, milestoneID string) (tracking.TrackResult, error)
	UpdateProgress(ctx context.Context, caller tracking.Caller, milestoneID string, progress int) (tracking.ProgressResult, error)
	ResetQuota(ctx context.Context, caller tracking.Caller) (int, error)
}

type Pinger interface {
	Ping(ctx context.Context) error
}

type Deps struct {
	Store DataStore
	// Sessions defaults to Store when nil.
	Sessions SessionStore
	Engine   Engine
	Auth     *authpw.Service
	Search   *search.Service
	// Cache is pinged by the readiness check when set.
	Cache  Pinger
	Logger *zap.Logger
}

type Service struct {
	cfg      config.Config
	store    DataStore
	sessions SessionStore
	engine   Engine
	auth     *authpw.Service
	search   *search.Service
	cache    Pinger
	logger   *zap.Logger
	validate *validator.Validate
	now      func() time.Time
}

func New(cfg config.Config, deps Deps) *Service {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	sessions := deps.Sessions
	if sessions == nil {
		if fromStore, ok := deps.Store.(SessionStore); ok {
			sessions = fromStore
		}
	}
	return &Service{
		cfg:      cfg,
		store:    deps.Store,
		sessions: sessions,
		engine:   deps.Engine,
		auth:     deps.Auth,
		search:   deps.Search,
		cache:    deps.Cache,
		logger:   logger,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) Register(ctx context.Context, req authpw.RegisterRequest) (Session, store.User, error) {
	user, err := s.auth.Register(ctx, req)
	if err != nil {
		return Session{}, store.User{}, err
	}
	session, err := s.issueSession(ctx, user)
	if err != nil {
		return Session{}, store.User{}, err
	}
	s.logger.Info("user registered", zap.String("user_id", user.ID), zap.String("role", user.Role))
	return session, user, nil
}

func (s *Service) Login(ctx context.Context, email, password string) (Session, store.User, error) {
	user, err := s.auth.Login(ctx, email, password)
	if err != nil {
		return Session{}, store.User{}, err
	}
	session, err := s.issueSession(ctx, user)
	if err != nil {
		return Session{}, store.User{}, err
	}
	return session, user, nil
}

// Refresh rotates a refresh token. The old one stops working immediately.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	if strings.TrimSpace(refreshToken) == "" {
		return Session{}, auth.ErrInvalidToken
	}
	tokenHash := auth.HashToken(refreshToken)
	userID, err := s.sessions.LookupRefreshSession(ctx, tokenHash)
	if errors.Is(err, store.ErrNotFound) {
		return Session{}, auth.ErrInvalidToken
	}
	if err != nil {
		return Session{}, err
	}
	if err := s.sessions.RevokeRefreshSession(ctx, tokenHash); err != nil {
		return Session{}, err
	}
	user, err := s.store.GetUserByID(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return Session{}, auth.ErrInvalidToken
	}
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) issueSession(ctx context.Context, user store.User) (Session, error) {
	now := time.Now()
	expiresAt := now.Add(s.cfg.AccessTTL)
	jti := util.NewID("jti")

	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), auth.Claims{
		Sub:  user.ID,
		Name: user.Username,
		Role: user.Role,
		JTI:  jti,
		Exp:  expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, err
	}

	refresh := util.NewID("rft") + util.NewID("")
	refreshExpires := now.Add(s.cfg.RefreshTTL).UTC()
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refresh), user.ID, refreshExpires); err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		UserID:       user.ID,
		UserName:     user.Username,
		Role:         user.Role,
		JTI:          jti,
		ExpiresAt:    expiresAt,
	}, nil
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	revoked, err := s.sessions.IsAccessTokenRevoked(ctx, claims.JTI)
	if err != nil {
		return Session{}, err
	}
	if revoked {
		return Session{}, auth.ErrInvalidToken
	}

	user, err := s.store.GetUserByID(ctx, claims.Sub)
	if errors.Is(err, store.ErrNotFound) {
		return Session{}, auth.ErrInvalidToken
	}
	if err != nil {
		return Session{}, err
	}

	return Session{
		Token:     token,
		UserID:    user.ID,
		UserName:  user.Username,
		Role:      user.Role,
		JTI:       claims.JTI,
		ExpiresAt: time.Unix(claims.Exp, 0),
	}, nil
}

func (s *Service) Logout(ctx context.Context, session Session, refreshToken string) error {
	if session.JTI != "" {
		if err := s.sessions.RevokeAccessToken(ctx, session.JTI, session.ExpiresAt.UTC()); err != nil {
			s.logger.Warn("revoke access token", zap.Error(err))
		}
	}
	if refreshToken != "" {
		if err := s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken)); err != nil {
			s.logger.Warn("revoke refresh session", zap.Error(err))
		}
	}
	return nil
}

func (s *Service) Profile(ctx context.Context, session Session) (store.User, error) {
	user, err := s.store.GetUserByID(ctx, session.UserID)
	if errors.Is(err, store.ErrNotFound) {
		return store.User{}, domainError(http.StatusNotFound, "NOT_FOUND", "User not found", nil)
	}
	return user, err
}

type NotificationSettingsInput struct {
	Email        *bool `json:"email"`
	DailySummary *bool `json:"dailySummary"`
	Push         *bool `json:"push"`
}

// UpdateNotificationSettings applies only the flags present in input.
func (s *Service) UpdateNotificationSettings(ctx context.Context, session Session, input NotificationSettingsInput) (store.NotificationSettings, error) {
	user, err := s.Profile(ctx, session)
	if err != nil {
		return store.NotificationSettings{}, err
	}
	settings := user.NotificationSettings
	if input.Email != nil {
		settings.Email = *input.Email
	}
	if input.DailySummary != nil {
		settings.DailySummary = *input.DailySummary
	}
	if input.Push != nil {
		settings.Push = *input.Push
	}
	if err := s.store.UpdateNotificationSettings(ctx, user.ID, settings); err != nil {
		return store.NotificationSettings{}, err
	}
	return settings, nil
}

type InterestCategoriesInput struct {
	Categories []string `json:"categories" validate:"required,max=20,dive,required,max=80"`
}

func (s *Service) UpdateInterestCategories(ctx context.Context, session Session, input InterestCategoriesInput) ([]string, error) {
	if !rbac.Can(rbac.Role(session.Role), rbac.ActionTrack) {
		return nil, tracking.ErrForbidden
	}
	if err := s.check(input); err != nil {
		return nil, err
	}
	categories := make([]string, 0, len(input.Categories))
	for _, c := range input.Categories {
		categories = append(categories, strings.TrimSpace(c))
	}
	if err := s.store.UpdateInterestCategories(ctx, session.UserID, categories); err != nil {
		return nil, err
	}
	return categories, nil
}

func (s *Service) ResetQuota(ctx context.Context, session Session) (int, error) {
	return s.engine.ResetQuota(ctx, session.caller())
}

func (s *Service) MyMilestones(ctx context.Context, session Session) ([]store.Milestone, error) {
	if !rbac.Can(rbac.Role(session.Role), rbac.ActionManageMilestone) {
		return nil, tracking.ErrForbidden
	}
	return s.store.ListMilestonesByOwner(ctx, session.UserID)
}

type CreateMilestoneInput struct {
	Name        string     `json:"name" validate:"required,max=120"`
	Description string     `json:"description" validate:"max=2000"`
	EndDate     *time.Time `json:"endDate"`
}

func (s *Service) CreateMilestone(ctx context.Context, session Session, input CreateMilestoneInput) (store.Milestone, error) {
	if !rbac.Can(rbac.Role(session.Role), rbac.ActionManageMilestone) {
		return store.Milestone{}, tracking.ErrForbidden
	}
	input.Name = strings.TrimSpace(input.Name)
	input.Description = strings.TrimSpace(input.Description)
	if err := s.check(input); err != nil {
		return store.Milestone{}, err
	}

	now := s.now()
	milestone := store.Milestone{
		ID:          util.NewID("mst"),
		OwnerID:     session.UserID,
		OwnerName:   session.UserName,
		Name:        input.Name,
		Description: input.Description,
		Version:     1,
		StartDate:   now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if input.EndDate != nil {
		end := input.EndDate.UTC()
		if end.Before(now) {
			return store.Milestone{}, validationFailed("endDate must be in the future", map[string]string{"endDate": "future"})
		}
		milestone.EndDate = &end
	}
	if err := s.store.CreateMilestone(ctx, milestone); err != nil {
		return store.Milestone{}, err
	}
	s.indexMilestone(milestone)
	s.logger.Info("milestone created", zap.String("milestone_id", milestone.ID), zap.String("owner_id", milestone.OwnerID))
	return milestone, nil
}

type UpdateMilestoneInput struct {
	Name        *string `json:"name" validate:"omitempty,min=1,max=120"`
	Description *string `json:"description" validate:"omitempty,max=2000"`
}

func (s *Service) UpdateMilestone(ctx context.Context, session Session, milestoneID string, input UpdateMilestoneInput) (store.Milestone, error) {
	milestone, err := s.ownedMilestone(ctx, session, milestoneID)
	if err != nil {
		return store.Milestone{}, err
	}
	if err := s.check(input); err != nil {
		return store.Milestone{}, err
	}
	if input.Name != nil {
		name := strings.TrimSpace(*input.Name)
		if name == "" {
			return store.Milestone{}, validationFailed("name is required", map[string]string{"name": "required"})
		}
		milestone.Name = name
	}
	if input.Description != nil {
		milestone.Description = strings.TrimSpace(*input.Description)
	}
	now := s.now()
	if err := s.store.UpdateMilestoneDetails(ctx, milestone.ID, milestone.Name, milestone.Description, now); err != nil {
		return store.Milestone{}, err
	}
	milestone.UpdatedAt = now
	milestone.Version++
	s.indexMilestone(milestone)
	return milestone, nil
}

func (s *Service) UpdateProgress(ctx context.Context, session Session, milestoneID string, progress int) (tracking.ProgressResult, error) {
	result, err := s.engine.UpdateProgress(ctx, session.caller(), milestoneID, progress)
	if err != nil {
		return tracking.ProgressResult{}, err
	}
	s.indexMilestone(result.Milestone)
	return result, nil
}

func (s *Service) AvailableMilestones(ctx context.Context, session Session) ([]store.Milestone, error) {
	if !rbac.Can(rbac.Role(session.Role), rbac.ActionTrack) {
		return nil, tracking.ErrForbidden
	}
	return s.store.ListAvailableMilestones(ctx, session.UserID)
}

func (s *Service) SearchMilestones(ctx context.Context, text string, limit, offset int) search.Response {
	if s.search == nil {
		return search.Response{Results: []search.Result{}, Query: text}
	}
	return s.search.Search(ctx, search.Query{Text: strings.TrimSpace(text), Limit: limit, Offset: offset})
}

func (s *Service) TrackMilestone(ctx context.Context, session Session, milestoneID string) (tracking.TrackResult, error) {
	return s.engine.TrackMilestone(ctx, session.caller(), milestoneID)
}

func (s *Service) MyTracked(ctx context.Context, session Session) ([]store.TrackedMilestone, error) {
	if !rbac.Can(rbac.Role(session.Role), rbac.ActionTrack) {
		return nil, tracking.ErrForbidden
	}
	return s.store.ListTrackingsByTracker(ctx, session.UserID)
}

func (s *Service) MilestoneTrackers(ctx context.Context, session Session, milestoneID string) ([]store.Tracking, error) {
	if _, err := s.ownedMilestone(ctx, session, milestoneID); err != nil {
		return nil, err
	}
	return s.store.ListTrackingsByMilestone(ctx, milestoneID)
}

func (s *Service) TotalTrackers(ctx context.Context, session Session) (int, error) {
	if !rbac.Can(rbac.Role(session.Role), rbac.ActionManageMilestone) {
		return 0, tracking.ErrForbidden
	}
	return s.store.CountDistinctTrackers(ctx, session.UserID)
}

func (s *Service) Notifications(ctx context.Context, session Session, unreadOnly bool, limit int) ([]store.Notification, int, error) {
	items, err := s.store.ListNotifications(ctx, session.UserID, store.NotificationFilter{UnreadOnly: unreadOnly, Limit: limit})
	if err != nil {
		return nil, 0, err
	}
	unread, err := s.store.CountUnread(ctx, session.UserID)
	if err != nil {
		return nil, 0, err
	}
	return items, unread, nil
}

func (s *Service) MarkNotificationRead(ctx context.Context, session Session, notificationID string) error {
	err := s.store.MarkNotificationRead(ctx, session.UserID, notificationID)
	if errors.Is(err, store.ErrNotFound) {
		return domainError(http.StatusNotFound, "NOT_FOUND", "Notification not found", nil)
	}
	return err
}

func (s *Service) MarkAllNotificationsRead(ctx context.Context, session Session) (int, error) {
	return s.store.MarkAllNotificationsRead(ctx, session.UserID)
}

// Ready reports per-dependency health. The map is keyed by dependency name.
func (s *Service) Ready(ctx context.Context) (bool, map[string]any) {
	ok := true
	checks := map[string]any{"database": map[string]any{"status": "ok"}}
	if err := s.store.Ping(ctx); err != nil {
		ok = false
		checks["database"] = map[string]any{"status": "error", "error": err.Error()}
	}
	if s.cache != nil {
		checks["redis"] = map[string]any{"status": "ok"}
		if err := s.cache.Ping(ctx); err != nil {
			ok = false
			checks["redis"] = map[string]any{"status": "error", "error": err.Error()}
		}
	}
	return ok, checks
}

func (s *Service) ownedMilestone(ctx context.Context, session Session, milestoneID string) (store.Milestone, error) {
	if !rbac.Can(rbac.Role(session.Role), rbac.ActionManageMilestone) {
		return store.Milestone{}, tracking.ErrForbidden
	}
	milestone, err := s.store.GetMilestone(ctx, milestoneID)
	if errors.Is(err, store.ErrNotFound) {
		return store.Milestone{}, domainError(http.StatusNotFound, "NOT_FOUND", "Milestone not found", nil)
	}
	if err != nil {
		return store.Milestone{}, err
	}
	if milestone.OwnerID != session.UserID {
		return store.Milestone{}, domainError(http.StatusForbidden, "FORBIDDEN", "Not authorized", nil)
	}
	return milestone, nil
}

func (s *Service) indexMilestone(m store.Milestone) {
	if s.search != nil {
		s.search.IndexMilestone(m)
	}
}

func (s *Service) check(input any) error {
	err := s.validate.Struct(input)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("validate input: %w", err)
	}
	fields := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		fields[strings.ToLower(fe.Field()[:1])+fe.Field()[1:]] = fe.Tag()
	}
	return validationFailed("Invalid request", fields)
}
