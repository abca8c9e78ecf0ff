package server

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Identity headers set by the fronting authentication layer
const (
	HeaderUserID    = "X-Argh-User-Id"
	HeaderUserLogin = "X-Argh-User-Login"
	HeaderOrgMember = "X-Argh-Org-Member"
)

// Identity is the caller as reported by the authentication layer
type Identity struct {
	UserID    int64
	Login     string
	OrgMember bool
}

type identityKey struct{}

// IdentityFrom returns the caller attached by RequireMember
func IdentityFrom(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(Identity)
	return id, ok
}

// RequireMember trusts the identity headers and lets only organization
// members through
func RequireMember(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, err := strconv.ParseInt(strings.TrimSpace(r.Header.Get(HeaderUserID)), 10, 64)
		if err != nil || userID <= 0 {
			writeError(w, http.StatusUnauthorized, "unauthenticated", "missing or invalid "+HeaderUserID)
			return
		}
		member, _ := strconv.ParseBool(strings.TrimSpace(r.Header.Get(HeaderOrgMember)))
		if !member {
			writeError(w, http.StatusForbidden, "forbidden", "organization membership required")
			return
		}

		id := Identity{UserID: userID, Login: r.Header.Get(HeaderUserLogin), OrgMember: member}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), identityKey{}, id)))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// LoggingMiddleware logs each request with its status and duration
func LoggingMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

			next.ServeHTTP(rec, r)

			logger.Info("request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", rec.status,
				"duration_ms", time.Since(start).Milliseconds(),
			)
		})
	}
}

// RecoveryMiddleware turns panics into a 500 response
func RecoveryMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered", "panic", rec, "path", r.URL.Path)
					writeError(w, http.StatusInternalServerError, "internal", "internal error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}
