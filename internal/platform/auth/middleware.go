package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/batimat/api/internal/platform/httpx"
)

const defaultVerifyTimeout = 5 * time.Second

// TokenVerifier verifies session tokens and returns the identity they carry.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (*Identity, error)
}

// Authenticator wires token verification into HTTP middleware.
type Authenticator struct {
	verifier TokenVerifier
	timeout  time.Duration
}

// Option customises Authenticator behaviour.
type Option func(*Authenticator)

// WithVerificationTimeout bounds the time spent verifying a token.
func WithVerificationTimeout(d time.Duration) Option {
	return func(a *Authenticator) {
		if d > 0 {
			a.timeout = d
		}
	}
}

// NewAuthenticator constructs an Authenticator around the verifier.
func NewAuthenticator(verifier TokenVerifier, opts ...Option) *Authenticator {
	a := &Authenticator{
		verifier: verifier,
		timeout:  defaultVerifyTimeout,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	return a
}

// Optional attaches the identity when a bearer token is present. Requests without a token pass
// through as guests; requests with an invalid token are rejected.
func (a *Authenticator) Optional() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if strings.TrimSpace(header) == "" {
				next.ServeHTTP(w, r)
				return
			}
			identity, ok := a.authenticate(w, r, header)
			if !ok {
				return
			}
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), identity)))
		})
	}
}

// Require rejects requests without a valid token, and when roles are given, identities
// holding none of them.
func (a *Authenticator) Require(roles ...string) func(http.Handler) http.Handler {
	allowed := make([]string, 0, len(roles))
	for _, role := range roles {
		if role = normaliseRole(role); role != "" {
			allowed = append(allowed, role)
		}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, ok := IdentityFromContext(r.Context())
			if !ok {
				identity, ok = a.authenticate(w, r, r.Header.Get("Authorization"))
				if !ok {
					return
				}
			}
			if len(allowed) > 0 && !identity.HasAnyRole(allowed...) {
				respondAuthError(r.Context(), w, http.StatusForbidden, "forbidden", "insufficient role")
				return
			}
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), identity)))
		})
	}
}

func (a *Authenticator) authenticate(w http.ResponseWriter, r *http.Request, header string) (*Identity, bool) {
	if a == nil || a.verifier == nil {
		respondAuthError(r.Context(), w, http.StatusInternalServerError, "auth_unavailable", "authentication is not configured")
		return nil, false
	}
	token, ok := extractBearerToken(header)
	if !ok {
		respondAuthError(r.Context(), w, http.StatusUnauthorized, "unauthenticated", "missing bearer token")
		return nil, false
	}

	ctx, cancel := context.WithTimeout(r.Context(), a.timeout)
	defer cancel()
	identity, err := a.verifier.Verify(ctx, token)
	if err != nil {
		if errors.Is(err, ErrTokenExpired) {
			respondAuthError(r.Context(), w, http.StatusUnauthorized, "token_expired", "session token expired")
		} else {
			respondAuthError(r.Context(), w, http.StatusUnauthorized, "invalid_token", "session token invalid")
		}
		return nil, false
	}
	if identity == nil || strings.TrimSpace(identity.UID) == "" {
		respondAuthError(r.Context(), w, http.StatusUnauthorized, "invalid_token", "session token invalid")
		return nil, false
	}
	return identity, true
}

func extractBearerToken(header string) (string, bool) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", false
	}
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func respondAuthError(ctx context.Context, w http.ResponseWriter, status int, code, message string) {
	if status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", `Bearer realm="batimat"`)
	}
	httpx.WriteError(ctx, w, httpx.NewError(code, message, status))
}
