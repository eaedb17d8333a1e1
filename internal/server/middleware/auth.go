package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/faucetdb/kevd/internal/model"
	"github.com/faucetdb/kevd/internal/service"
)

type contextKeyAuth string

const (
	// AuthPrincipalKey is the context key for the authenticated principal.
	AuthPrincipalKey contextKeyAuth = "auth_principal"
)

// Principal is the application identity resolved from a valid API key.
type Principal struct {
	KeyID     int64
	AppName   string
	KeyPrefix string
}

// Authenticator validates a presented key and application name.
type Authenticator interface {
	Authenticate(ctx context.Context, rawKey, appName string) (*model.Credential, error)
}

// Authenticate returns an HTTP middleware that requires a valid API key and
// matching application name on every request. The key is read with
// ExtractKey before anything else, so a keyless request is rejected without
// reading its body or touching the store. On success, a Principal is
// attached to the request context.
func Authenticate(auth Authenticator, maxBodySize int64, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := ExtractKey(r)
			if key == "" {
				writeAuthError(w, http.StatusUnauthorized,
					"Authentication required. Provide X-API-Key header or api_key parameter.")
				return
			}
			appName, err := ExtractAppName(r, maxBodySize)
			if err != nil {
				status := http.StatusBadRequest
				if errors.Is(err, ErrBodyTooLarge) {
					status = http.StatusRequestEntityTooLarge
				}
				writeAuthError(w, status, err.Error())
				return
			}
			if appName == "" {
				writeAuthError(w, http.StatusUnauthorized,
					"Authentication required. Provide App-Name header or app_name parameter.")
				return
			}

			cred, err := auth.Authenticate(r.Context(), key, appName)
			if err != nil {
				if errors.Is(err, service.ErrInvalidCredentials) {
					logger.Warn("authentication failed",
						"app_name", appName,
						"path", r.URL.Path,
						"request_id", GetRequestID(r.Context()),
					)
					writeAuthError(w, http.StatusUnauthorized, "Invalid API key or application name")
					return
				}
				logger.Error("authentication lookup failed", "error", err)
				writeAuthError(w, http.StatusInternalServerError, "Authentication unavailable")
				return
			}

			p := &Principal{
				KeyID:     cred.ID,
				AppName:   cred.AppName,
				KeyPrefix: cred.KeyPrefix,
			}
			if dst, ok := r.Context().Value(principalSinkKey{}).(**Principal); ok {
				*dst = p
			}
			ctx := context.WithValue(r.Context(), AuthPrincipalKey, p)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetPrincipal extracts the authenticated principal from the context.
// Returns nil if no principal is present (i.e., unauthenticated request).
func GetPrincipal(ctx context.Context) *Principal {
	if p, ok := ctx.Value(AuthPrincipalKey).(*Principal); ok {
		return p
	}
	return nil
}

// principalSinkKey carries a slot that Authenticate fills for the request
// logger.
type principalSinkKey struct{}

func withPrincipalSink(ctx context.Context, dst **Principal) context.Context {
	return context.WithValue(ctx, principalSinkKey{}, dst)
}

func writeAuthError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(model.ErrorResponse{
		Error: model.ErrorDetail{Code: status, Message: message},
	})
}
