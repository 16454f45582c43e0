package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"

	"github.com/crypto-dashboard/internal/types"
)

// ErrorCategory represents the category of an error
type ErrorCategory string

const (
	// CategoryInvalidInput represents rejected caller input (4xx)
	CategoryInvalidInput ErrorCategory = "invalid_input"
	// CategoryInsufficientHoldings represents a sell larger than the held quantity
	CategoryInsufficientHoldings ErrorCategory = "insufficient_holdings"
	// CategoryUpstream represents a failed or malformed remote data source call
	CategoryUpstream ErrorCategory = "upstream"
	// CategoryFatal represents a request for which no data source could answer
	CategoryFatal ErrorCategory = "fatal"
	// CategoryStorage represents persistence errors
	CategoryStorage ErrorCategory = "storage"
	// CategoryNotFound represents not found errors
	CategoryNotFound ErrorCategory = "not_found"
	// CategorySystem represents unexpected internal errors
	CategorySystem ErrorCategory = "system"
)

// Error codes surfaced to API consumers
const (
	CodeInvalidInput         = "INVALID_INPUT"
	CodeInsufficientHoldings = "INSUFFICIENT_HOLDINGS"
	CodeUpstreamFailure      = "UPSTREAM_FAILURE"
	CodeDataUnavailable      = "DATA_UNAVAILABLE"
	CodeStorage              = "STORAGE_ERROR"
	CodeNotFound             = "NOT_FOUND"
	CodeInternal             = "INTERNAL_ERROR"
)

// CategorizedError represents an error with category and HTTP status code
type CategorizedError struct {
	Category   ErrorCategory
	StatusCode int
	Code       string
	Message    string
	Details    map[string]interface{}
	Cause      error
	// Permanent marks upstream conditions that must not be retried
	Permanent bool
}

// Error implements the error interface
func (e *CategorizedError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause
func (e *CategorizedError) Unwrap() error {
	return e.Cause
}

// ToServiceError converts to a ServiceError
func (e *CategorizedError) ToServiceError() *types.ServiceError {
	return &types.ServiceError{
		Code:    e.Code,
		Message: e.Message,
		Details: e.Details,
	}
}

// NewInvalidInputError creates an invalid input error
func NewInvalidInputError(param string, reason string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryInvalidInput,
		StatusCode: http.StatusBadRequest,
		Code:       CodeInvalidInput,
		Message:    fmt.Sprintf("invalid parameter '%s': %s", param, reason),
		Details: map[string]interface{}{
			"parameter": param,
			"reason":    reason,
		},
	}
}

// NewInsufficientHoldingsError creates an insufficient holdings error
func NewInsufficientHoldingsError(assetID types.AssetID, held, requested string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryInsufficientHoldings,
		StatusCode: http.StatusConflict,
		Code:       CodeInsufficientHoldings,
		Message:    fmt.Sprintf("insufficient holdings for asset %d: have %s, want %s", assetID, held, requested),
		Details: map[string]interface{}{
			"assetId":   assetID,
			"held":      held,
			"requested": requested,
		},
	}
}

// NewUpstreamError creates a remote data source error
func NewUpstreamError(provider string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryUpstream,
		StatusCode: http.StatusBadGateway,
		Code:       CodeUpstreamFailure,
		Message:    fmt.Sprintf("data provider error: %s", provider),
		Cause:      cause,
		Details: map[string]interface{}{
			"provider": provider,
		},
	}
}

// NewPermanentUpstreamError creates an upstream error that retrying cannot fix,
// e.g. an endpoint that requires a paid plan
func NewPermanentUpstreamError(provider string, reason string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryUpstream,
		StatusCode: http.StatusBadGateway,
		Code:       CodeUpstreamFailure,
		Message:    fmt.Sprintf("data provider error: %s: %s", provider, reason),
		Permanent:  true,
		Details: map[string]interface{}{
			"provider": provider,
			"reason":   reason,
		},
	}
}

// NewFatalError creates the error returned when both data paths failed
func NewFatalError(operation string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryFatal,
		StatusCode: http.StatusServiceUnavailable,
		Code:       CodeDataUnavailable,
		Message:    fmt.Sprintf("no data source could serve %s", operation),
		Cause:      cause,
		Details: map[string]interface{}{
			"operation": operation,
		},
	}
}

// NewStorageError creates a persistence error
func NewStorageError(operation string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryStorage,
		StatusCode: http.StatusInternalServerError,
		Code:       CodeStorage,
		Message:    fmt.Sprintf("storage error during %s", operation),
		Cause:      cause,
		Details: map[string]interface{}{
			"operation": operation,
		},
	}
}

// NewNotFoundError creates a not found error
func NewNotFoundError(resource string, id string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryNotFound,
		StatusCode: http.StatusNotFound,
		Code:       CodeNotFound,
		Message:    fmt.Sprintf("%s not found: %s", resource, id),
		Details: map[string]interface{}{
			"resource": resource,
			"id":       id,
		},
	}
}

// NewInternalError creates an internal server error
func NewInternalError(message string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategorySystem,
		StatusCode: http.StatusInternalServerError,
		Code:       CodeInternal,
		Message:    message,
		Cause:      cause,
	}
}

// Categorize categorizes an existing error
func Categorize(err error) *CategorizedError {
	if err == nil {
		return nil
	}

	var catErr *CategorizedError
	if stderrors.As(err, &catErr) {
		return catErr
	}

	var svcErr *types.ServiceError
	if stderrors.As(err, &svcErr) {
		return &CategorizedError{
			Category:   CategorySystem,
			StatusCode: http.StatusInternalServerError,
			Code:       svcErr.Code,
			Message:    svcErr.Message,
			Details:    svcErr.Details,
			Cause:      err,
		}
	}

	return NewInternalError("unexpected error", err)
}

func hasCategory(err error, category ErrorCategory) bool {
	var catErr *CategorizedError
	return stderrors.As(err, &catErr) && catErr.Category == category
}

// IsInvalidInput reports whether err is an invalid input rejection
func IsInvalidInput(err error) bool {
	return hasCategory(err, CategoryInvalidInput)
}

// IsInsufficientHoldings reports whether err is an insufficient holdings rejection
func IsInsufficientHoldings(err error) bool {
	return hasCategory(err, CategoryInsufficientHoldings)
}

// IsUpstream reports whether err came from a remote data source
func IsUpstream(err error) bool {
	return hasCategory(err, CategoryUpstream)
}

// IsFatal reports whether no data source could serve the request
func IsFatal(err error) bool {
	return hasCategory(err, CategoryFatal)
}

// IsPermanent reports whether an upstream error must not be retried
func IsPermanent(err error) bool {
	var catErr *CategorizedError
	return stderrors.As(err, &catErr) && catErr.Permanent
}

// GetHTTPStatusCode returns the HTTP status code for an error
func GetHTTPStatusCode(err error) int {
	if catErr := Categorize(err); catErr != nil {
		return catErr.StatusCode
	}
	return http.StatusInternalServerError
}

// IsUserError determines if an error is a user error (4xx)
func IsUserError(err error) bool {
	catErr := Categorize(err)
	if catErr == nil {
		return false
	}

	return catErr.StatusCode >= 400 && catErr.StatusCode < 500
}
