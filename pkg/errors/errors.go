package errors

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/medflow/medflow-pharmacy/pkg/i18n"
)

// Standard error types
var (
	ErrNotFound          = errors.New("resource not found")
	ErrBadRequest        = errors.New("bad request")
	ErrConflict          = errors.New("resource conflict")
	ErrInternal          = errors.New("internal server error")
	ErrValidation        = errors.New("validation error")
	ErrInvalidState      = errors.New("invalid state")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrVersionConflict   = errors.New("version conflict")
	ErrNothingToBill     = errors.New("nothing to bill")
)

// AppError represents an application error with context
type AppError struct {
	Err        error             `json:"-"`
	Message    string            `json:"message"`
	MessageKey string            `json:"-"` // i18n key for localization
	Params     map[string]string `json:"-"` // Parameters for i18n interpolation
	Code       string            `json:"code"`
	StatusCode int               `json:"status_code"`
	Details    map[string]string `json:"details,omitempty"`
	Retryable  bool              `json:"retryable,omitempty"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the wrapped error
func (e *AppError) Unwrap() error {
	return e.Err
}

// Localize returns a localized version of the error message
func (e *AppError) Localize(ctx context.Context) string {
	if e.MessageKey == "" {
		return e.Message
	}
	return i18n.TFromContext(ctx, e.MessageKey, e.Params)
}

// LocalizeWith returns a localized version using a specific localizer
func (e *AppError) LocalizeWith(l *i18n.Localizer) string {
	if e.MessageKey == "" {
		return e.Message
	}
	return l.T(e.MessageKey, e.Params)
}

// New creates a new AppError
func New(code string, message string, statusCode int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		StatusCode: statusCode,
	}
}

// Wrap wraps an error with additional context
func Wrap(err error, code string, message string, statusCode int) *AppError {
	return &AppError{
		Err:        err,
		Code:       code,
		Message:    message,
		StatusCode: statusCode,
	}
}

// WithDetails adds details to an AppError
func (e *AppError) WithDetails(details map[string]string) *AppError {
	e.Details = details
	return e
}

// Common error constructors

func NotFound(resource string) *AppError {
	return &AppError{
		Err:        ErrNotFound,
		Code:       "NOT_FOUND",
		Message:    fmt.Sprintf("%s not found", resource),
		MessageKey: "errors.not_found",
		Params:     map[string]string{"resource": resource},
		StatusCode: http.StatusNotFound,
		Details:    map[string]string{"resource": resource},
	}
}

func BadRequest(message string) *AppError {
	return &AppError{
		Err:        ErrBadRequest,
		Code:       "BAD_REQUEST",
		Message:    message,
		MessageKey: "errors.bad_request",
		StatusCode: http.StatusBadRequest,
	}
}

func Conflict(message string) *AppError {
	return &AppError{
		Err:        ErrConflict,
		Code:       "CONFLICT",
		Message:    message,
		MessageKey: "errors.conflict",
		StatusCode: http.StatusConflict,
	}
}

func Internal(message string) *AppError {
	return &AppError{
		Err:        ErrInternal,
		Code:       "INTERNAL_ERROR",
		Message:    message,
		MessageKey: "errors.internal",
		StatusCode: http.StatusInternalServerError,
	}
}

func Validation(details map[string]string) *AppError {
	return &AppError{
		Err:        ErrValidation,
		Code:       "VALIDATION_ERROR",
		Message:    "validation failed",
		MessageKey: "errors.validation_failed",
		StatusCode: http.StatusBadRequest,
		Details:    details,
	}
}

// InvalidState reports an operation that the current state of a resource forbids.
// Callers must not resubmit the same request.
func InvalidState(message string, details map[string]string) *AppError {
	return &AppError{
		Err:        ErrInvalidState,
		Code:       "INVALID_STATE",
		Message:    message,
		MessageKey: "errors.invalid_state",
		Params:     map[string]string{"reason": message},
		StatusCode: http.StatusConflict,
		Details:    details,
	}
}

// InsufficientStock reports that a product cannot cover the requested quantity.
func InsufficientStock(productID, available, requested string) *AppError {
	return &AppError{
		Err:        ErrInsufficientStock,
		Code:       "INSUFFICIENT_STOCK",
		Message:    fmt.Sprintf("insufficient stock for product %s: available %s, requested %s", productID, available, requested),
		MessageKey: "errors.insufficient_stock",
		Params:     map[string]string{"product": productID, "available": available, "requested": requested},
		StatusCode: http.StatusUnprocessableEntity,
		Details: map[string]string{
			"product_id": productID,
			"available":  available,
			"requested":  requested,
		},
	}
}

// VersionConflict reports that a lot changed between read and write.
// The whole operation may be retried against fresh state.
func VersionConflict(lotID string, expectedVersion int64) *AppError {
	return &AppError{
		Err:        ErrVersionConflict,
		Code:       "VERSION_CONFLICT",
		Message:    fmt.Sprintf("stock for lot %s changed during this operation; please retry", lotID),
		MessageKey: "errors.version_conflict",
		Params:     map[string]string{"lot": lotID},
		StatusCode: http.StatusConflict,
		Details: map[string]string{
			"lot_id":           lotID,
			"expected_version": fmt.Sprintf("%d", expectedVersion),
		},
		Retryable: true,
	}
}

// ConcurrentUpdate reports a transaction the database aborted because of a
// concurrent one (deadlock or serialization failure). It is a VersionConflict
// for callers: the whole operation may be retried.
func ConcurrentUpdate(reason string) *AppError {
	return &AppError{
		Err:        ErrVersionConflict,
		Code:       "VERSION_CONFLICT",
		Message:    "concurrent update, please retry",
		MessageKey: "errors.concurrent_update",
		StatusCode: http.StatusConflict,
		Details:    map[string]string{"reason": reason},
		Retryable:  true,
	}
}

// NothingToBill reports a point-of-sale dispense whose sales total is zero.
func NothingToBill(prescriptionID string) *AppError {
	return &AppError{
		Err:        ErrNothingToBill,
		Code:       "NOTHING_TO_BILL",
		Message:    "nothing to bill for this dispense",
		MessageKey: "errors.nothing_to_bill",
		StatusCode: http.StatusUnprocessableEntity,
		Details:    map[string]string{"prescription_id": prescriptionID},
	}
}

// IsRetryable reports whether err carries a retryable AppError
func IsRetryable(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Retryable
	}
	return false
}

// Is checks if the error matches a target error
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As attempts to convert an error to a specific type
func As(err error, target any) bool {
	return errors.As(err, target)
}
