package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"github.com/stretchr/testify/require"

	"github.com/nushkakush/experiencetrack-dash-sub003/internal/common"
)

const testSecret = "super-secret-key"

var fixedNow = time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

func newVerifier(t *testing.T) *Verifier {
	t.Helper()
	v, err := NewVerifier(VerifierConfig{Secret: testSecret, Issuer: "https://auth.example.com", Audience: "authenticated"})
	require.NoError(t, err)
	v.WithNow(func() time.Time { return fixedNow })
	return v
}

func sign(t *testing.T, alg jwa.SignatureAlgorithm, key any, mutate func(*jwt.Builder) *jwt.Builder) string {
	t.Helper()
	b := jwt.NewBuilder().
		Subject("user-1").
		Issuer("https://auth.example.com").
		Audience([]string{"authenticated"}).
		IssuedAt(fixedNow).
		Expiration(fixedNow.Add(time.Hour)).
		Claim("email", "admin@example.com").
		Claim("role", "authenticated")
	if mutate != nil {
		b = mutate(b)
	}
	tok, err := b.Build()
	require.NoError(t, err)
	signed, err := jwt.Sign(tok, jwt.WithKey(alg, key))
	require.NoError(t, err)
	return string(signed)
}

func TestVerifyAcceptsValidToken(t *testing.T) {
	v := newVerifier(t)
	claims, err := v.Verify(sign(t, jwa.HS256, []byte(testSecret), nil))
	require.NoError(t, err)
	require.Equal(t, Claims{Subject: "user-1", Email: "admin@example.com", Role: "authenticated"}, claims)
}

func TestVerifyPrefersApplicationRole(t *testing.T) {
	v := newVerifier(t)
	token := sign(t, jwa.HS256, []byte(testSecret), func(b *jwt.Builder) *jwt.Builder {
		return b.Claim("app_metadata", map[string]any{"role": "fee_admin"})
	})
	claims, err := v.Verify(token)
	require.NoError(t, err)
	require.Equal(t, "fee_admin", claims.Role)
}

func TestVerifyRejections(t *testing.T) {
	v := newVerifier(t)
	cases := map[string]string{
		"wrong secret":    sign(t, jwa.HS256, []byte("other-secret"), nil),
		"wrong algorithm": sign(t, jwa.HS512, []byte(testSecret), nil),
		"expired": sign(t, jwa.HS256, []byte(testSecret), func(b *jwt.Builder) *jwt.Builder {
			return b.Expiration(fixedNow.Add(-time.Hour))
		}),
		"wrong issuer": sign(t, jwa.HS256, []byte(testSecret), func(b *jwt.Builder) *jwt.Builder {
			return b.Issuer("https://evil.example.com")
		}),
		"wrong audience": sign(t, jwa.HS256, []byte(testSecret), func(b *jwt.Builder) *jwt.Builder {
			return b.Audience([]string{"anon"})
		}),
		"no subject": sign(t, jwa.HS256, []byte(testSecret), func(b *jwt.Builder) *jwt.Builder {
			return b.Subject("")
		}),
		"garbage": "not-a-token",
		"empty":   "  ",
	}
	for name, token := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := v.Verify(token)
			appErr, ok := common.AsAppError(err)
			require.True(t, ok)
			require.Equal(t, http.StatusUnauthorized, appErr.HTTPStatus)
		})
	}
}

func TestNewVerifierRequiresSecret(t *testing.T) {
	_, err := NewVerifier(VerifierConfig{Secret: " "})
	require.Error(t, err)
}

func TestRequireAuthMiddleware(t *testing.T) {
	m := Middleware{Verifier: newVerifier(t)}
	var seenUser string
	h := m.RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenUser, _ = common.UserID(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Contains(t, rec.Body.String(), `"code":"UNAUTHORIZED"`)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+sign(t, jwa.HS256, []byte(testSecret), nil))
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Equal(t, "user-1", seenUser)
}

func TestRequireRole(t *testing.T) {
	m := Middleware{Verifier: newVerifier(t)}
	h := m.RequireAuth(RequireRole("fee_admin")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})))

	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.Header.Set("Authorization", "bearer "+sign(t, jwa.HS256, []byte(testSecret), nil))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusForbidden, rec.Code)

	req = httptest.NewRequest(http.MethodPost, "/", nil)
	req.Header.Set("Authorization", "Bearer "+sign(t, jwa.HS256, []byte(testSecret), func(b *jwt.Builder) *jwt.Builder {
		return b.Claim("app_metadata", map[string]any{"role": "fee_admin"})
	}))
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}
