package httputil

import (
	"encoding/json"
	"net/http"

	"github.com/medflow/medflow-pharmacy/pkg/errors"
	"github.com/medflow/medflow-pharmacy/pkg/i18n"
)

// Response is a standard API response
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *ErrorBody  `json:"error,omitempty"`
	Meta    *Meta       `json:"meta,omitempty"`
}

// ErrorBody represents an error in the response.
// Retryable tells clients whether resubmitting the same request may succeed.
type ErrorBody struct {
	Code      string            `json:"code"`
	Message   string            `json:"message"`
	Details   map[string]string `json:"details,omitempty"`
	Retryable bool              `json:"retryable"`
}

// Meta contains pagination metadata
type Meta struct {
	Limit  int   `json:"limit,omitempty"`
	Offset int   `json:"offset,omitempty"`
	Total  int64 `json:"total,omitempty"`
}

// JSON sends a JSON response
func JSON(w http.ResponseWriter, statusCode int, data interface{}) {
	write(w, statusCode, Response{
		Success: statusCode >= 200 && statusCode < 300,
		Data:    data,
	})
}

// JSONWithMeta sends a JSON response with metadata
func JSONWithMeta(w http.ResponseWriter, statusCode int, data interface{}, meta *Meta) {
	write(w, statusCode, Response{
		Success: statusCode >= 200 && statusCode < 300,
		Data:    data,
		Meta:    meta,
	})
}

// Created sends a 201 Created response
func Created(w http.ResponseWriter, data interface{}) {
	JSON(w, http.StatusCreated, data)
}

// Error sends an error response using the default locale
func Error(w http.ResponseWriter, err error) {
	var appErr *errors.AppError
	if errors.As(err, &appErr) {
		write(w, appErr.StatusCode, Response{Error: bodyFor(appErr, appErr.Message)})
		return
	}

	write(w, http.StatusInternalServerError, Response{
		Error: &ErrorBody{Code: "INTERNAL_ERROR", Message: "an unexpected error occurred"},
	})
}

// ErrorLocalized sends a localized error response using the request locale
func ErrorLocalized(w http.ResponseWriter, r *http.Request, err error) {
	var appErr *errors.AppError
	if errors.As(err, &appErr) {
		write(w, appErr.StatusCode, Response{Error: bodyFor(appErr, appErr.Localize(r.Context()))})
		return
	}

	localizer := i18n.LocalizerFromContext(r.Context())
	write(w, http.StatusInternalServerError, Response{
		Error: &ErrorBody{Code: "INTERNAL_ERROR", Message: localizer.T("errors.internal")},
	})
}

// DecodeJSON decodes the request body into v, rejecting unknown fields
func DecodeJSON(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		appErr := errors.BadRequest(i18n.LocalizerFromContext(r.Context()).T("errors.invalid_json"))
		appErr.MessageKey = "errors.invalid_json"
		return appErr
	}
	return nil
}

func bodyFor(appErr *errors.AppError, message string) *ErrorBody {
	return &ErrorBody{
		Code:      appErr.Code,
		Message:   message,
		Details:   appErr.Details,
		Retryable: appErr.Retryable,
	}
}

func write(w http.ResponseWriter, statusCode int, response Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(response)
}
