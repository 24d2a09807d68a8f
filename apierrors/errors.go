package apierrors

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/pkg/errors"
)

// ApiError is the external error vocabulary: every failure surfaced to a
// caller is one of these, serialized as {message, description}. Exactly one
// condition maps to each (status, message) pair; requests fail on the first
// violated condition in the order malformed-id, missing/invalid auth,
// not-found, forbidden, conflict, which is the order the layers run in.
type ApiError struct {
	Status      int    `json:"-"`
	Message     string `json:"message"`
	Description string `json:"description,omitempty"`
}

func (e *ApiError) Error() string {
	return e.Message
}

var (
	ErrInvalidId = &ApiError{
		Status:      http.StatusBadRequest,
		Message:     "Some ID provided does not have a valid format!",
		Description: "A 24-byte hex ID similar to this: 507f191e810c19729de860ea is expected.",
	}

	ErrUnauthorized = &ApiError{
		Status:      http.StatusUnauthorized,
		Message:     "UNAUTHORIZED",
		Description: "Authentication failed for lack of valid credentials.",
	}

	ErrForbidden = &ApiError{
		Status:      http.StatusForbidden,
		Message:     "FORBIDDEN",
		Description: "Authorization failed due to insufficient permissions.",
	}

	ErrInstitutionHasAssociation = &ApiError{
		Status:      http.StatusBadRequest,
		Message:     "The institution is associated with one or more users.",
		Description: "It is necessary to disassociate the users before deleting the institution.",
	}

	ErrInstitutionNotRegistered = &ApiError{
		Status:      http.StatusBadRequest,
		Message:     "The institution provided does not have a registration.",
		Description: "It is necessary that the institution be registered before proceeding.",
	}
)

func NewNotFound(resource string) *ApiError {
	return &ApiError{
		Status:      http.StatusNotFound,
		Message:     fmt.Sprintf("%s not found!", resource),
		Description: fmt.Sprintf("%s not found or already removed. A new operation for the same resource is required.", resource),
	}
}

func NewConflict(resource string) *ApiError {
	return &ApiError{
		Status:      http.StatusConflict,
		Message:     fmt.Sprintf("%s is already registered!", resource),
		Description: "A registration with the same unique information already exists.",
	}
}

func NewRequiredFields(fields ...string) *ApiError {
	return &ApiError{
		Status:      http.StatusBadRequest,
		Message:     "Required fields were not provided!",
		Description: fmt.Sprintf("%s are required!", strings.Join(fields, ", ")),
	}
}

// NewChildrenNotRegistered appends the offending identifiers to the
// description, the only condition that does so.
func NewChildrenNotRegistered(ids ...string) *ApiError {
	return &ApiError{
		Status:      http.StatusBadRequest,
		Message:     "It is necessary that children be registered before proceeding.",
		Description: "The following IDs were verified without registration: " + strings.Join(ids, ", "),
	}
}

func NewValidationError(description string) *ApiError {
	return &ApiError{
		Status:      http.StatusBadRequest,
		Message:     "One or more request fields are invalid...",
		Description: description,
	}
}

var serverError = &ApiError{
	Status:      http.StatusInternalServerError,
	Message:     "An internal server error has occurred.",
	Description: "Please try again later.",
}

// EncodeError is the single go-kit ServerErrorEncoder. Services wrap store
// sentinels into ApiErrors before returning, so any cause that is not an
// ApiError is an unexpected internal failure.
func EncodeError(_ context.Context, err error, w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")

	apiErr, ok := errors.Cause(err).(*ApiError)
	if !ok {
		apiErr = serverError
	}

	w.WriteHeader(apiErr.Status)
	json.NewEncoder(w).Encode(apiErr)
}
