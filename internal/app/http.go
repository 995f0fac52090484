package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"milestonetracker/api/internal/authpw"
	"milestonetracker/api/internal/logging"
	"milestonetracker/api/internal/metrics"
	"milestonetracker/api/internal/store"
	"milestonetracker/api/internal/util"
)

type HTTPServer struct {
	service    *Service
	corsOrigin string
	logger     *zap.Logger
	limiter    *clientLimiter
}

func NewHTTPServer(service *Service, corsOrigin string, authRate rate.Limit, authBurst int) *HTTPServer {
	return &HTTPServer{
		service:    service,
		corsOrigin: corsOrigin,
		logger:     service.logger,
		limiter:    newClientLimiter(authRate, authBurst),
	}
}

type authedHandler func(w http.ResponseWriter, r *http.Request, session Session)

func (s *HTTPServer) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	})
	mux.HandleFunc("GET /api/ready", s.handleReady)
	mux.Handle("GET /metrics", metrics.Handler())

	mux.HandleFunc("POST /api/auth/register", s.rateLimited(s.handleRegister))
	mux.HandleFunc("POST /api/auth/login", s.rateLimited(s.handleLogin))
	mux.HandleFunc("POST /api/auth/refresh", s.rateLimited(s.handleRefresh))
	mux.HandleFunc("POST /api/auth/logout", s.handleLogout)

	mux.HandleFunc("GET /api/users/profile", s.authed(s.handleProfile))
	mux.HandleFunc("PATCH /api/users/notification-settings", s.authed(s.handleNotificationSettings))
	mux.HandleFunc("PATCH /api/users/interest-categories", s.authed(s.handleInterestCategories))
	mux.HandleFunc("POST /api/users/reset-queue", s.authed(s.handleResetQueue))

	mux.HandleFunc("GET /api/milestones/my-milestones", s.authed(s.handleMyMilestones))
	mux.HandleFunc("GET /api/milestones/available", s.authed(s.handleAvailableMilestones))
	mux.HandleFunc("GET /api/milestones/search", s.authed(s.handleSearchMilestones))
	mux.HandleFunc("POST /api/milestones", s.authed(s.handleCreateMilestone))
	mux.HandleFunc("PATCH /api/milestones/{id}", s.authed(s.handleUpdateMilestone))
	mux.HandleFunc("PATCH /api/milestones/{id}/progress", s.authed(s.handleUpdateProgress))

	mux.HandleFunc("GET /api/tracking/my-tracked", s.authed(s.handleMyTracked))
	mux.HandleFunc("GET /api/tracking/total-trackers", s.authed(s.handleTotalTrackers))
	mux.HandleFunc("GET /api/tracking/trackers/{milestoneId}", s.authed(s.handleMilestoneTrackers))
	mux.HandleFunc("POST /api/tracking/{milestoneId}", s.authed(s.handleTrackMilestone))

	mux.HandleFunc("GET /api/notifications", s.authed(s.handleNotifications))
	mux.HandleFunc("POST /api/notifications/read-all", s.authed(s.handleReadAllNotifications))
	mux.HandleFunc("POST /api/notifications/{id}/read", s.authed(s.handleReadNotification))

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
	})

	return s.withMiddleware(mux)
}

func (s *HTTPServer) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	ok, checks := s.service.Ready(ctx)
	status, statusCode := "ready", http.StatusOK
	if !ok {
		status, statusCode = "not_ready", http.StatusServiceUnavailable
	}
	writeJSON(w, statusCode, map[string]any{
		"ok":     ok,
		"status": status,
		"checks": checks,
	})
}

func (s *HTTPServer) handleRegister(w http.ResponseWriter, r *http.Request) {
	var body authpw.RegisterRequest
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	session, user, err := s.service.Register(r.Context(), body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, sessionPayload(session, user))
}

func (s *HTTPServer) handleLogin(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	session, user, err := s.service.Login(r.Context(), body.Email, body.Password)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionPayload(session, user))
}

func (s *HTTPServer) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var body struct {
		RefreshToken string `json:"refreshToken"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	session, err := s.service.Refresh(r.Context(), body.RefreshToken)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"accessToken":  session.Token,
		"refreshToken": session.RefreshToken,
		"userId":       session.UserID,
		"userName":     session.UserName,
		"role":         session.Role,
		"expiresAt":    session.ExpiresAt.Unix(),
	})
}

func (s *HTTPServer) handleLogout(w http.ResponseWriter, r *http.Request) {
	session := Session{}
	if token := requestToken(r); token != "" {
		if parsed, err := s.service.SessionFromToken(r.Context(), token); err == nil {
			session = parsed
		}
	}
	var body struct {
		RefreshToken string `json:"refreshToken"`
	}
	_ = decodeBody(r, &body)
	_ = s.service.Logout(r.Context(), session, body.RefreshToken)
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleProfile(w http.ResponseWriter, r *http.Request, session Session) {
	user, err := s.service.Profile(r.Context(), session)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, userView(user))
}

func (s *HTTPServer) handleNotificationSettings(w http.ResponseWriter, r *http.Request, session Session) {
	var body NotificationSettingsInput
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	settings, err := s.service.UpdateNotificationSettings(r.Context(), session, body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message":              "Notification settings updated",
		"notificationSettings": settings,
	})
}

func (s *HTTPServer) handleInterestCategories(w http.ResponseWriter, r *http.Request, session Session) {
	var body InterestCategoriesInput
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	categories, err := s.service.UpdateInterestCategories(r.Context(), session, body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message":            "Interest categories updated",
		"interestCategories": categories,
	})
}

func (s *HTTPServer) handleResetQueue(w http.ResponseWriter, r *http.Request, session Session) {
	remaining, err := s.service.ResetQuota(r.Context(), session)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message":       "Queue position reset",
		"queuePosition": remaining,
	})
}

func (s *HTTPServer) handleMyMilestones(w http.ResponseWriter, r *http.Request, session Session) {
	items, err := s.service.MyMilestones(r.Context(), session)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, milestoneViews(items))
}

func (s *HTTPServer) handleAvailableMilestones(w http.ResponseWriter, r *http.Request, session Session) {
	items, err := s.service.AvailableMilestones(r.Context(), session)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, milestoneViews(items))
}

func (s *HTTPServer) handleSearchMilestones(w http.ResponseWriter, r *http.Request, session Session) {
	query := r.URL.Query()
	limit := parsePositiveInt(query.Get("limit"), 20)
	offset := parsePositiveInt(query.Get("offset"), 0)
	writeJSON(w, http.StatusOK, s.service.SearchMilestones(r.Context(), query.Get("q"), limit, offset))
}

func (s *HTTPServer) handleCreateMilestone(w http.ResponseWriter, r *http.Request, session Session) {
	var body CreateMilestoneInput
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	milestone, err := s.service.CreateMilestone(r.Context(), session, body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, milestoneView(milestone))
}

func (s *HTTPServer) handleUpdateMilestone(w http.ResponseWriter, r *http.Request, session Session) {
	var body UpdateMilestoneInput
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	milestone, err := s.service.UpdateMilestone(r.Context(), session, r.PathValue("id"), body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, milestoneView(milestone))
}

func (s *HTTPServer) handleUpdateProgress(w http.ResponseWriter, r *http.Request, session Session) {
	var body struct {
		Progress *int `json:"progress"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	if body.Progress == nil {
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "progress is required", map[string]string{"progress": "required"})
		return
	}
	result, err := s.service.UpdateProgress(r.Context(), session, r.PathValue("id"), *body.Progress)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	payload := milestoneView(result.Milestone)
	payload["completed"] = result.Completed
	payload["notifiedTrackers"] = result.Notified
	writeJSON(w, http.StatusOK, payload)
}

func (s *HTTPServer) handleMyTracked(w http.ResponseWriter, r *http.Request, session Session) {
	items, err := s.service.MyTracked(r.Context(), session)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	out := make([]map[string]any, 0, len(items))
	for _, item := range items {
		view := milestoneView(item.Milestone)
		view["trackedAt"] = item.TrackedAt
		view["lastNotifiedAt"] = item.LastNotifiedAt
		out = append(out, view)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *HTTPServer) handleTrackMilestone(w http.ResponseWriter, r *http.Request, session Session) {
	result, err := s.service.TrackMilestone(r.Context(), session, r.PathValue("milestoneId"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"message":       "Milestone tracked successfully",
		"queuePosition": result.Remaining,
	})
}

func (s *HTTPServer) handleMilestoneTrackers(w http.ResponseWriter, r *http.Request, session Session) {
	items, err := s.service.MilestoneTrackers(r.Context(), session, r.PathValue("milestoneId"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	out := make([]map[string]any, 0, len(items))
	for _, item := range items {
		out = append(out, map[string]any{
			"trackerId":      item.TrackerID,
			"username":       item.TrackerName,
			"trackedAt":      item.CreatedAt,
			"lastNotifiedAt": item.LastNotifiedAt,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *HTTPServer) handleTotalTrackers(w http.ResponseWriter, r *http.Request, session Session) {
	total, err := s.service.TotalTrackers(r.Context(), session)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"totalTrackers": total})
}

func (s *HTTPServer) handleNotifications(w http.ResponseWriter, r *http.Request, session Session) {
	query := r.URL.Query()
	unreadOnly, _ := strconv.ParseBool(query.Get("unread"))
	items, unread, err := s.service.Notifications(r.Context(), session, unreadOnly, parsePositiveInt(query.Get("limit"), 0))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	out := make([]map[string]any, 0, len(items))
	for _, n := range items {
		out = append(out, notificationView(n))
	}
	writeJSON(w, http.StatusOK, map[string]any{"notifications": out, "unreadCount": unread})
}

func (s *HTTPServer) handleReadNotification(w http.ResponseWriter, r *http.Request, session Session) {
	if err := s.service.MarkNotificationRead(r.Context(), session, r.PathValue("id")); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleReadAllNotifications(w http.ResponseWriter, r *http.Request, session Session) {
	updated, err := s.service.MarkAllNotificationsRead(r.Context(), session)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "updated": updated})
}

func (s *HTTPServer) authed(next authedHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		session, ok := s.requireSession(w, r)
		if !ok {
			return
		}
		next(w, r, session)
	}
}

func (s *HTTPServer) requireSession(w http.ResponseWriter, r *http.Request) (Session, bool) {
	token := requestToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "No token, authorization denied", nil)
		return Session{}, false
	}
	session, err := s.service.SessionFromToken(r.Context(), token)
	if err != nil {
		s.fail(w, r, err)
		return Session{}, false
	}
	return session, true
}

func (s *HTTPServer) rateLimited(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.allow(clientKey(r)) {
			writeError(w, http.StatusTooManyRequests, "RATE_LIMITED", "Too many requests", nil)
			return
		}
		next(w, r)
	}
}

// fail maps err to a response. Unmapped errors are logged since their detail is hidden from the client.
func (s *HTTPServer) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message, details := mapError(err)
	if status >= http.StatusInternalServerError {
		logging.FromContext(r.Context(), s.logger).Error("request failed", zap.Error(err))
	}
	writeError(w, status, code, message, details)
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = util.NewID("req")
		}
		r = r.WithContext(logging.WithRequestID(r.Context(), s.logger, requestID))

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		if r.Method == http.MethodOptions {
			writer.WriteHeader(http.StatusNoContent)
		} else {
			next.ServeHTTP(writer, r)
		}

		duration := time.Since(started)
		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		metrics.RecordHTTPRequest(r.Method, route, writer.status, duration)
		logging.FromContext(r.Context(), s.logger).Info("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", writer.status),
			zap.Int64("duration_ms", duration.Milliseconds()),
		)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID, x-auth-token")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PATCH,OPTIONS")
	header.Set("Cache-Control", "no-store")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, http.ErrBodyReadAfterClose) || errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

// requestToken reads the bearer token, falling back to the legacy x-auth-token header.
func requestToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	}
	return strings.TrimSpace(r.Header.Get("x-auth-token"))
}

func parsePositiveInt(raw string, fallback int) int {
	value, err := strconv.Atoi(raw)
	if err != nil || value < 0 {
		return fallback
	}
	return value
}

func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// clientLimiter hands out one token bucket per client address.
type clientLimiter struct {
	mu       sync.Mutex
	limit    rate.Limit
	burst    int
	limiters map[string]*rate.Limiter
}

func newClientLimiter(limit rate.Limit, burst int) *clientLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &clientLimiter{limit: limit, burst: burst, limiters: make(map[string]*rate.Limiter)}
}

func (c *clientLimiter) allow(key string) bool {
	if c.limit <= 0 {
		return true
	}
	c.mu.Lock()
	limiter, ok := c.limiters[key]
	if !ok {
		limiter = rate.NewLimiter(c.limit, c.burst)
		c.limiters[key] = limiter
	}
	c.mu.Unlock()
	return limiter.Allow()
}

func sessionPayload(session Session, user store.User) map[string]any {
	return map[string]any{
		"accessToken":  session.Token,
		"token":        session.Token,
		"refreshToken": session.RefreshToken,
		"userId":       session.UserID,
		"userName":     session.UserName,
		"role":         session.Role,
		"expiresAt":    session.ExpiresAt.Unix(),
		"user":         userView(user),
	}
}

func userView(user store.User) map[string]any {
	view := map[string]any{
		"id":                   user.ID,
		"username":             user.Username,
		"email":                user.Email,
		"role":                 user.Role,
		"notificationSettings": user.NotificationSettings,
		"interestCategories":   user.InterestCategories,
		"createdAt":            user.CreatedAt,
	}
	if user.Role == "tracker" {
		view["dailyTrackingLimit"] = user.DailyLimit
		view["queuePosition"] = user.Remaining
	}
	return view
}

func milestoneView(m store.Milestone) map[string]any {
	return map[string]any{
		"id":            m.ID,
		"ownerId":       m.OwnerID,
		"ownerName":     m.OwnerName,
		"name":          m.Name,
		"description":   m.Description,
		"progress":      m.Progress,
		"trackingCount": m.TrackingCount,
		"startDate":     m.StartDate,
		"endDate":       m.EndDate,
		"createdAt":     m.CreatedAt,
		"updatedAt":     m.UpdatedAt,
	}
}

func milestoneViews(items []store.Milestone) []map[string]any {
	out := make([]map[string]any, 0, len(items))
	for _, m := range items {
		out = append(out, milestoneView(m))
	}
	return out
}

func notificationView(n store.Notification) map[string]any {
	view := map[string]any{
		"id":        n.ID,
		"title":     n.Title,
		"message":   n.Message,
		"type":      n.Kind,
		"read":      n.Read,
		"createdAt": n.CreatedAt,
	}
	if n.RelatedMilestoneID != "" {
		view["relatedMilestoneId"] = n.RelatedMilestoneID
	}
	return view
}
