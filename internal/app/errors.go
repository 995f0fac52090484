package app

import (
	"errors"
	"fmt"
	"net/http"

	"milestonetracker/api/internal/auth"
	"milestonetracker/api/internal/authpw"
	"milestonetracker/api/internal/store"
	"milestonetracker/api/internal/tracking"
)

type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

func validationFailed(message string, details any) *DomainError {
	return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", message, details)
}

var trackingStatus = map[tracking.Kind]struct {
	status int
	code   string
}{
	tracking.KindUnauthenticated: {http.StatusUnauthorized, "UNAUTHORIZED"},
	tracking.KindForbidden:       {http.StatusForbidden, "FORBIDDEN"},
	tracking.KindNotFound:        {http.StatusNotFound, "NOT_FOUND"},
	tracking.KindInvalidArgument: {http.StatusUnprocessableEntity, "VALIDATION_ERROR"},
	tracking.KindQuotaExhausted:  {http.StatusTooManyRequests, "QUOTA_EXHAUSTED"},
	tracking.KindAlreadyTracking: {http.StatusConflict, "ALREADY_TRACKING"},
	tracking.KindConflict:        {http.StatusConflict, "ALREADY_TRACKING"},
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	var trackingErr *tracking.Error
	if errors.As(err, &trackingErr) {
		if mapped, ok := trackingStatus[trackingErr.Kind]; ok {
			return mapped.status, mapped.code, trackingErr.Message, nil
		}
	}
	var validationErr *authpw.ValidationError
	if errors.As(err, &validationErr) {
		return http.StatusUnprocessableEntity, "VALIDATION_ERROR", "Invalid request", validationErr.Fields
	}
	switch {
	case errors.Is(err, authpw.ErrInvalidCredentials):
		return http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid credentials", nil
	case errors.Is(err, authpw.ErrEmailTaken), errors.Is(err, authpw.ErrUsernameTaken):
		return http.StatusConflict, "USER_EXISTS", "User already exists with that email or username", nil
	case errors.Is(err, auth.ErrInvalidToken), errors.Is(err, auth.ErrExpiredToken):
		return http.StatusUnauthorized, "UNAUTHORIZED", "Token is not valid", nil
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
