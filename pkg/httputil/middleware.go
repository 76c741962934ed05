package httputil

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/medflow/medflow-pharmacy/pkg/actor"
	"github.com/medflow/medflow-pharmacy/pkg/errors"
	"github.com/medflow/medflow-pharmacy/pkg/logger"
	"github.com/medflow/medflow-pharmacy/pkg/permissions"
	"github.com/medflow/medflow-pharmacy/pkg/tenant"
)

type contextKey string

const (
	RequestIDKey   contextKey = "request_id"
	PermissionsKey contextKey = "permissions"
)

// Headers set by the API gateway after authentication.
const (
	HeaderRequestID   = "X-Request-ID"
	HeaderTenantID    = "X-Tenant-ID"
	HeaderTenantSlug  = "X-Tenant-Slug"
	HeaderUserID      = "X-User-ID"
	HeaderUserName    = "X-User-Name"
	HeaderUserRole    = "X-User-Role"
	HeaderPermissions = "X-User-Permissions"
)

// RequestID middleware adds a request ID to each request
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get(HeaderRequestID)
		if requestID == "" {
			requestID = uuid.New().String()
		}

		ctx := context.WithValue(r.Context(), RequestIDKey, requestID)
		w.Header().Set(HeaderRequestID, requestID)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Logger middleware logs HTTP requests
func Logger(log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(wrapped, r)

			tenantID, _ := tenant.TenantID(r.Context())
			log.Info().
				Str("request_id", GetRequestID(r.Context())).
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", wrapped.statusCode).
				Dur("duration", time.Since(start)).
				Str("tenant_id", tenantID).
				Str("user_id", actor.IDFromContext(r.Context())).
				Msg("HTTP request")
		})
	}
}

// Recoverer middleware recovers from panics
func Recoverer(log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					log.Error().
						Interface("panic", err).
						Str("path", r.URL.Path).
						Str("request_id", GetRequestID(r.Context())).
						Msg("panic recovered")

					Error(w, errors.Internal("internal server error"))
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// GetRequestID retrieves the request ID from context
func GetRequestID(ctx context.Context) string {
	if id, ok := ctx.Value(RequestIDKey).(string); ok {
		return id
	}
	return ""
}

// TenantMiddleware extracts the tenant from gateway headers into the request context.
// Missing or malformed tenant ids are rejected with 403; /health and /metrics are exempt.
func TenantMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" || r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		tenantID := strings.TrimSpace(r.Header.Get(HeaderTenantID))
		if err := tenant.Validate(tenantID); err != nil {
			appErr := errors.New("FORBIDDEN", "missing tenant context", http.StatusForbidden)
			Error(w, appErr)
			return
		}

		ctx := tenant.WithTenantContext(r.Context(), tenantID, r.Header.Get(HeaderTenantSlug))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// ActorMiddleware attaches the acting user and their permissions to the context.
func ActorMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if userID := r.Header.Get(HeaderUserID); userID != "" {
			tenantID, _ := tenant.TenantID(ctx)
			ctx = actor.WithActor(ctx, &actor.Actor{
				ID:       userID,
				Name:     r.Header.Get(HeaderUserName),
				RoleName: r.Header.Get(HeaderUserRole),
				TenantID: tenantID,
			})
		}
		ctx = context.WithValue(ctx, PermissionsKey, permissions.Parse(r.Header.Get(HeaderPermissions)))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequirePermission rejects requests whose caller lacks the given permission.
func RequirePermission(required string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			granted, _ := r.Context().Value(PermissionsKey).([]string)
			if !permissions.HasPermission(granted, required) {
				Error(w, errors.New("FORBIDDEN", "missing permission "+required, http.StatusForbidden))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
