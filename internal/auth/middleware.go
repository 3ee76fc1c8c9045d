package auth

import (
	"context"
	"crypto/subtle"
	"fmt"
	"net/http"

	"github.com/coreos/go-oidc/v3/oidc"

	"ms-checkin/internal/logger"
)

type contextKey string

const userIDKey contextKey = "user_id"

// Options configures the host API middleware. With an OIDC issuer the bearer
// token is verified against it; otherwise it must equal StaticToken.
type Options struct {
	OIDCIssuer  string
	StaticToken string
	// Logger, when set, records rejected requests.
	Logger *logger.Logger
}

func Middleware(opts Options) (func(http.Handler) http.Handler, error) {
	var verifier *oidc.IDTokenVerifier
	if opts.OIDCIssuer != "" {
		provider, err := oidc.NewProvider(context.Background(), opts.OIDCIssuer)
		if err != nil {
			return nil, fmt.Errorf("failed to create OIDC provider: %w", err)
		}
		verifier = provider.Verifier(&oidc.Config{SkipClientIDCheck: true})
	}

	reject := func(w http.ResponseWriter, r *http.Request, reason string) {
		if opts.Logger != nil {
			opts.Logger.LogSecurity("REJECTED", fmt.Sprintf("%s %s from %s: %s", r.Method, r.URL.Path, r.RemoteAddr, reason))
		}
		http.Error(w, reason, http.StatusUnauthorized)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rawToken, err := ExtractTokenFromRequest(r)
			if err != nil {
				reject(w, r, err.Error())
				return
			}

			var subject string
			if verifier != nil {
				idToken, err := verifier.Verify(r.Context(), rawToken)
				if err != nil {
					reject(w, r, fmt.Sprintf("invalid token: %v", err))
					return
				}
				subject = idToken.Subject
			} else {
				if opts.StaticToken == "" || subtle.ConstantTimeCompare([]byte(rawToken), []byte(opts.StaticToken)) != 1 {
					reject(w, r, "invalid token")
					return
				}
				subject = "host-operator"
			}

			ctx := context.WithValue(r.Context(), userIDKey, subject)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}, nil
}

// Helper to extract user ID in handlers
func UserID(ctx context.Context) string {
	if uid, ok := ctx.Value(userIDKey).(string); ok {
		return uid
	}
	return ""
}
