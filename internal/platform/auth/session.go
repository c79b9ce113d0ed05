package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

const (
	defaultRoleClaim   = "roles"
	defaultLocaleClaim = "locale"
	defaultEmailClaim  = "email"
	defaultLeeway      = 30 * time.Second
)

var (
	// ErrTokenExpired signals that the session token is past its expiry.
	ErrTokenExpired = errors.New("auth: session token expired")
	// ErrTokenInvalid signals a malformed token, a bad signature or unexpected claims.
	ErrTokenInvalid = errors.New("auth: session token invalid")
)

// SessionVerifier validates HS256 session tokens minted by the SSO service.
type SessionVerifier struct {
	secret   []byte
	issuer   string
	audience string
	leeway   time.Duration
	now      func() time.Time

	roleClaim   string
	localeClaim string
	emailClaim  string
}

// SessionOption customises a SessionVerifier.
type SessionOption func(*SessionVerifier)

// WithIssuer requires the iss claim to match.
func WithIssuer(issuer string) SessionOption {
	return func(v *SessionVerifier) {
		v.issuer = strings.TrimSpace(issuer)
	}
}

// WithAudience requires the aud claim to contain audience.
func WithAudience(audience string) SessionOption {
	return func(v *SessionVerifier) {
		v.audience = strings.TrimSpace(audience)
	}
}

// WithLeeway tolerates clock skew when checking exp, nbf and iat.
func WithLeeway(d time.Duration) SessionOption {
	return func(v *SessionVerifier) {
		if d >= 0 {
			v.leeway = d
		}
	}
}

// WithClock overrides the time source used for claim validation.
func WithClock(now func() time.Time) SessionOption {
	return func(v *SessionVerifier) {
		if now != nil {
			v.now = now
		}
	}
}

// WithRoleClaim overrides the claim roles are read from.
func WithRoleClaim(claim string) SessionOption {
	return func(v *SessionVerifier) {
		if claim = strings.TrimSpace(claim); claim != "" {
			v.roleClaim = claim
		}
	}
}

// NewSessionVerifier constructs a verifier for tokens signed with secret.
func NewSessionVerifier(secret []byte, opts ...SessionOption) (*SessionVerifier, error) {
	if len(secret) < 32 {
		return nil, errors.New("auth: session secret must be at least 32 bytes")
	}
	v := &SessionVerifier{
		secret:      secret,
		leeway:      defaultLeeway,
		now:         time.Now,
		roleClaim:   defaultRoleClaim,
		localeClaim: defaultLocaleClaim,
		emailClaim:  defaultEmailClaim,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(v)
		}
	}
	return v, nil
}

// Verify parses the token and returns the identity it carries.
func (v *SessionVerifier) Verify(_ context.Context, token string) (*Identity, error) {
	if v == nil {
		return nil, ErrTokenInvalid
	}
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithoutClaimsValidation(),
	)
	claims := jwt.MapClaims{}
	if _, err := parser.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	}); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}

	if _, ok := claims["exp"]; !ok {
		return nil, fmt.Errorf("%w: exp claim missing", ErrTokenInvalid)
	}
	now := v.now().Unix()
	leeway := int64(v.leeway / time.Second)
	if !claims.VerifyExpiresAt(now-leeway, true) {
		return nil, ErrTokenExpired
	}
	if !claims.VerifyNotBefore(now+leeway, false) || !claims.VerifyIssuedAt(now+leeway, false) {
		return nil, fmt.Errorf("%w: token not valid yet", ErrTokenInvalid)
	}
	if v.issuer != "" && !claims.VerifyIssuer(v.issuer, true) {
		return nil, fmt.Errorf("%w: issuer mismatch", ErrTokenInvalid)
	}
	if v.audience != "" && !claims.VerifyAudience(v.audience, true) {
		return nil, fmt.Errorf("%w: audience mismatch", ErrTokenInvalid)
	}

	subject, _ := claims["sub"].(string)
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return nil, fmt.Errorf("%w: subject missing", ErrTokenInvalid)
	}
	identity := &Identity{
		UID:    subject,
		Email:  claimAsString(claims, v.emailClaim),
		Locale: claimAsString(claims, v.localeClaim),
		Roles:  rolesFromClaims(claims, v.roleClaim),
		Claims: make(map[string]any, len(claims)),
	}
	for key, value := range claims {
		identity.Claims[key] = value
	}
	return identity, nil
}

func rolesFromClaims(claims map[string]any, key string) []string {
	var raw []string
	switch v := claims[key].(type) {
	case string:
		raw = strings.Fields(strings.ReplaceAll(v, ",", " "))
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok {
				raw = append(raw, s)
			}
		}
	case []string:
		raw = v
	}

	out := make([]string, 0, len(raw))
	for _, item := range raw {
		role := normaliseRole(item)
		if role == "" || containsRole(out, role) {
			continue
		}
		out = append(out, role)
	}
	return out
}

func containsRole(roles []string, role string) bool {
	for _, r := range roles {
		if r == role {
			return true
		}
	}
	return false
}

func claimAsString(claims map[string]any, key string) string {
	value, _ := claims[key].(string)
	return strings.TrimSpace(value)
}

func normaliseRole(role string) string {
	return strings.ToLower(strings.TrimSpace(role))
}
