package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

var testNow = time.Date(2025, 2, 10, 9, 30, 0, 0, time.UTC)

func newTestVerifier(t *testing.T) *SessionVerifier {
	t.Helper()
	v, err := NewSessionVerifier(testSecret,
		WithIssuer("https://sso.batimat.test"),
		WithAudience("batimat-api"),
		WithClock(func() time.Time { return testNow }),
	)
	require.NoError(t, err)
	return v
}

func signToken(t *testing.T, method jwt.SigningMethod, key any, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(method, claims).SignedString(key)
	require.NoError(t, err)
	return token
}

func validClaims() jwt.MapClaims {
	return jwt.MapClaims{
		"sub":   "cust-1",
		"email": "client@example.ma",
		"roles": []any{"Customer", "customer", " staff "},
		"iss":   "https://sso.batimat.test",
		"aud":   "batimat-api",
		"iat":   testNow.Add(-time.Minute).Unix(),
		"exp":   testNow.Add(time.Hour).Unix(),
	}
}

func TestSessionVerifier_Valid(t *testing.T) {
	v := newTestVerifier(t)
	token := signToken(t, jwt.SigningMethodHS256, testSecret, validClaims())

	identity, err := v.Verify(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, "cust-1", identity.UID)
	assert.Equal(t, "client@example.ma", identity.Email)
	assert.Equal(t, []string{"customer", "staff"}, identity.Roles)
	assert.True(t, identity.IsStaff())
	assert.Equal(t, "cust-1", identity.Claims["sub"])
}

func TestSessionVerifier_Rejects(t *testing.T) {
	v := newTestVerifier(t)

	tests := []struct {
		name   string
		token  func(t *testing.T) string
		target error
	}{
		{
			name: "expired",
			token: func(t *testing.T) string {
				c := validClaims()
				c["exp"] = testNow.Add(-time.Hour).Unix()
				return signToken(t, jwt.SigningMethodHS256, testSecret, c)
			},
			target: ErrTokenExpired,
		},
		{
			name: "missing exp",
			token: func(t *testing.T) string {
				c := validClaims()
				delete(c, "exp")
				return signToken(t, jwt.SigningMethodHS256, testSecret, c)
			},
			target: ErrTokenInvalid,
		},
		{
			name: "wrong secret",
			token: func(t *testing.T) string {
				return signToken(t, jwt.SigningMethodHS256, []byte("another-secret-another-secret-xx"), validClaims())
			},
			target: ErrTokenInvalid,
		},
		{
			name: "wrong algorithm",
			token: func(t *testing.T) string {
				return signToken(t, jwt.SigningMethodHS512, testSecret, validClaims())
			},
			target: ErrTokenInvalid,
		},
		{
			name: "wrong issuer",
			token: func(t *testing.T) string {
				c := validClaims()
				c["iss"] = "https://evil.test"
				return signToken(t, jwt.SigningMethodHS256, testSecret, c)
			},
			target: ErrTokenInvalid,
		},
		{
			name: "wrong audience",
			token: func(t *testing.T) string {
				c := validClaims()
				c["aud"] = "other"
				return signToken(t, jwt.SigningMethodHS256, testSecret, c)
			},
			target: ErrTokenInvalid,
		},
		{
			name: "not yet valid",
			token: func(t *testing.T) string {
				c := validClaims()
				c["nbf"] = testNow.Add(10 * time.Minute).Unix()
				return signToken(t, jwt.SigningMethodHS256, testSecret, c)
			},
			target: ErrTokenInvalid,
		},
		{
			name: "missing subject",
			token: func(t *testing.T) string {
				c := validClaims()
				c["sub"] = "  "
				return signToken(t, jwt.SigningMethodHS256, testSecret, c)
			},
			target: ErrTokenInvalid,
		},
		{
			name:   "garbage",
			token:  func(*testing.T) string { return "not-a-jwt" },
			target: ErrTokenInvalid,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := v.Verify(context.Background(), tc.token(t))
			require.Error(t, err)
			assert.ErrorIs(t, err, tc.target)
		})
	}
}

func TestSessionVerifier_ToleratesSkew(t *testing.T) {
	v := newTestVerifier(t)
	c := validClaims()
	c["exp"] = testNow.Add(-10 * time.Second).Unix()
	_, err := v.Verify(context.Background(), signToken(t, jwt.SigningMethodHS256, testSecret, c))
	assert.NoError(t, err)
}

func TestNewSessionVerifier_ShortSecret(t *testing.T) {
	_, err := NewSessionVerifier([]byte("short"))
	assert.Error(t, err)
}

func TestRolesFromClaims_String(t *testing.T) {
	roles := rolesFromClaims(map[string]any{"roles": "Staff, admin staff"}, "roles")
	assert.Equal(t, []string{"staff", "admin"}, roles)
}

type stubVerifier struct {
	identity *Identity
	err      error
	calls    int
}

func (s *stubVerifier) Verify(context.Context, string) (*Identity, error) {
	s.calls++
	return s.identity, s.err
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestAuthenticator_Optional(t *testing.T) {
	verifier := &stubVerifier{identity: &Identity{UID: "cust-1", Roles: []string{RoleCustomer}}}
	authn := NewAuthenticator(verifier)

	var seen *Identity
	handler := authn.Optional()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = IdentityFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	t.Run("guest passes through", func(t *testing.T) {
		seen = nil
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/quote", nil))
		assert.Equal(t, http.StatusNoContent, rec.Code)
		assert.Nil(t, seen)
		assert.Zero(t, verifier.calls)
	})

	t.Run("token attaches identity", func(t *testing.T) {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/v1/quote", nil)
		req.Header.Set("Authorization", "Bearer abc")
		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusNoContent, rec.Code)
		require.NotNil(t, seen)
		assert.Equal(t, "cust-1", seen.UID)
	})

	t.Run("malformed header rejected", func(t *testing.T) {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/v1/quote", nil)
		req.Header.Set("Authorization", "Basic abc")
		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Equal(t, "unauthenticated", decodeEnvelope(t, rec)["error"])
	})
}

func TestAuthenticator_Require(t *testing.T) {
	tests := []struct {
		name     string
		verifier *stubVerifier
		header   string
		roles    []string
		status   int
		code     string
	}{
		{
			name:     "missing token",
			verifier: &stubVerifier{},
			status:   http.StatusUnauthorized,
			code:     "unauthenticated",
		},
		{
			name:     "expired token",
			verifier: &stubVerifier{err: ErrTokenExpired},
			header:   "Bearer abc",
			status:   http.StatusUnauthorized,
			code:     "token_expired",
		},
		{
			name:     "invalid token",
			verifier: &stubVerifier{err: ErrTokenInvalid},
			header:   "Bearer abc",
			status:   http.StatusUnauthorized,
			code:     "invalid_token",
		},
		{
			name:     "role missing",
			verifier: &stubVerifier{identity: &Identity{UID: "cust-1", Roles: []string{RoleCustomer}}},
			header:   "Bearer abc",
			roles:    []string{RoleStaff, RoleAdmin},
			status:   http.StatusForbidden,
			code:     "forbidden",
		},
		{
			name:     "role present",
			verifier: &stubVerifier{identity: &Identity{UID: "staff-1", Roles: []string{RoleAdmin}}},
			header:   "bearer abc",
			roles:    []string{"Staff", "ADMIN"},
			status:   http.StatusOK,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			authn := NewAuthenticator(tc.verifier)
			handler := authn.Require(tc.roles...)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				identity, ok := IdentityFromContext(r.Context())
				require.True(t, ok)
				assert.NotEmpty(t, identity.UID)
				w.WriteHeader(http.StatusOK)
			}))
			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/api/v1/me/credit", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			handler.ServeHTTP(rec, req)
			assert.Equal(t, tc.status, rec.Code)
			if tc.code != "" {
				assert.Equal(t, tc.code, decodeEnvelope(t, rec)["error"])
			}
			if tc.status == http.StatusUnauthorized {
				assert.Contains(t, rec.Header().Get("WWW-Authenticate"), "Bearer")
			}
		})
	}
}

func TestAuthenticator_RequireReusesOptionalIdentity(t *testing.T) {
	verifier := &stubVerifier{identity: &Identity{UID: "cust-1"}}
	authn := NewAuthenticator(verifier)
	handler := authn.Optional()(authn.Require()(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer abc")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, verifier.calls)
}
