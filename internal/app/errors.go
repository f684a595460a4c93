package app

import (
	"errors"
	"fmt"
	"net/http"

	"gitsheet/api/internal/forge"
	"gitsheet/api/internal/store"
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

func validationError(message string) *DomainError {
	return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", message, nil)
}

func notFoundError(message string) *DomainError {
	return domainError(http.StatusNotFound, "NOT_FOUND", message, nil)
}

func conflictError(message string) *DomainError {
	return domainError(http.StatusConflict, "CONFLICT", message, nil)
}

// translate folds store and upstream errors into the domain taxonomy.
// Errors already carrying a DomainError pass through unchanged.
func translate(err error) error {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return err
	}
	switch {
	case errors.Is(err, store.ErrNotFound):
		return notFoundError("resource not found")
	case errors.Is(err, store.ErrDuplicateMapping):
		return domainError(http.StatusConflict, "DUPLICATE_MAPPING", "commit already has an active mapping", nil)
	case errors.Is(err, store.ErrDuplicateRepository):
		return conflictError("repository is already connected")
	case forge.IsAuth(err):
		return domainError(http.StatusBadGateway, "AUTH_ERROR", "upstream rejected the credentials", nil)
	case forge.IsNotFound(err):
		return notFoundError("upstream repository not found")
	case forge.IsRateLimited(err):
		return domainError(http.StatusServiceUnavailable, "RATE_LIMITED", "upstream rate limit exceeded", nil)
	case forge.IsTransient(err):
		return domainError(http.StatusBadGateway, "TRANSIENT_NETWORK", "upstream temporarily unavailable", nil)
	}
	return err
}
