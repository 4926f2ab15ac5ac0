package app

import (
	"errors"
	"fmt"
	"log"
	"net/http"

	"curricula/api/internal/auth"
	"curricula/api/internal/lifecycle"
	"curricula/api/internal/reconcile"
	"curricula/api/internal/snapshot"
	"curricula/api/internal/store"
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

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}

	var validationErr *snapshot.ValidationError
	if errors.As(err, &validationErr) {
		return http.StatusUnprocessableEntity, "VALIDATION_ERROR", validationErr.Error(), map[string]any{
			"reason": validationErr.Code,
			"issues": validationErr.Issues,
		}
	}

	var dependencyErr *reconcile.DependencyError
	if errors.As(err, &dependencyErr) {
		return http.StatusConflict, "DEPENDENCY_BLOCKED", dependencyErr.Error(), dependencyErr
	}

	var stateErr *lifecycle.StateError
	if errors.As(err, &stateErr) {
		details := map[string]any{"reason": stateErr.Code, "from": stateErr.From, "event": stateErr.Event}
		if stateErr.Unauthorized() {
			return http.StatusForbidden, "FORBIDDEN", "Forbidden", details
		}
		return http.StatusConflict, "INVALID_STATE", stateErr.Error(), details
	}

	if store.IsTransient(err) {
		log.Printf("app: store unavailable: %v", err)
		return http.StatusServiceUnavailable, "STORE_UNAVAILABLE", "Content store unavailable, retry shortly", nil
	}
	if errors.Is(err, store.ErrNotFound) {
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	}
	if errors.Is(err, auth.ErrInvalidToken) || errors.Is(err, auth.ErrExpiredToken) {
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	}

	log.Printf("app: unexpected error: %v", err)
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
