package auth

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	testSessionSigningSecret = "secret"
	testSessionIssuer        = "curriculum"
	testSessionCookieName    = "app_session"
	testSessionUserID        = "editor-123"
)

func newTestValidator(t *testing.T, clockNow time.Time) *SessionValidator {
	t.Helper()
	validator, err := NewSessionValidator(SessionValidatorConfig{
		SigningSecret: []byte(testSessionSigningSecret),
		Issuer:        testSessionIssuer,
		CookieName:    testSessionCookieName,
		Clock: func() time.Time {
			return clockNow
		},
	})
	if err != nil {
		t.Fatalf("failed to construct validator: %v", err)
	}
	return validator
}

func signTestToken(t *testing.T, clockNow time.Time, issuer string, expiresIn time.Duration, method jwt.SigningMethod) string {
	t.Helper()
	token := jwt.NewWithClaims(method, SessionClaims{
		UserID: testSessionUserID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   testSessionUserID,
			IssuedAt:  jwt.NewNumericDate(clockNow.Add(-time.Minute)),
			NotBefore: jwt.NewNumericDate(clockNow.Add(-time.Minute)),
			ExpiresAt: jwt.NewNumericDate(clockNow.Add(expiresIn)),
		},
	})
	signed, err := token.SignedString([]byte(testSessionSigningSecret))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return signed
}

func TestSessionValidatorValidateToken(t *testing.T) {
	clockNow := time.Date(2024, 9, 1, 12, 0, 0, 0, time.UTC)
	validator := newTestValidator(t, clockNow)

	claims, err := validator.ValidateToken(signTestToken(t, clockNow, testSessionIssuer, time.Hour, jwt.SigningMethodHS256))
	if err != nil {
		t.Fatalf("unexpected validation failure: %v", err)
	}
	if claims.UserID != testSessionUserID {
		t.Fatalf("unexpected user id: %s", claims.UserID)
	}
}

func TestSessionValidatorRejectsBadTokens(t *testing.T) {
	clockNow := time.Date(2024, 9, 1, 12, 0, 0, 0, time.UTC)
	validator := newTestValidator(t, clockNow)

	testCases := []struct {
		name  string
		token string
		want  error
	}{
		{name: "empty", token: "  ", want: ErrMissingSessionToken},
		{name: "expired", token: signTestToken(t, clockNow, testSessionIssuer, -time.Minute, jwt.SigningMethodHS256), want: ErrExpiredSessionToken},
		{name: "wrong issuer", token: signTestToken(t, clockNow, "someone-else", time.Hour, jwt.SigningMethodHS256), want: ErrInvalidSessionToken},
		{name: "wrong algorithm", token: signTestToken(t, clockNow, testSessionIssuer, time.Hour, jwt.SigningMethodHS512), want: ErrInvalidSessionToken},
		{name: "garbage", token: "not.a.jwt", want: ErrInvalidSessionToken},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			_, err := validator.ValidateToken(testCase.token)
			if !errors.Is(err, testCase.want) {
				t.Fatalf("expected %v, got %v", testCase.want, err)
			}
		})
	}
}

func TestSessionValidatorValidateRequest(t *testing.T) {
	clockNow := time.Date(2024, 9, 1, 12, 0, 0, 0, time.UTC)
	validator := newTestValidator(t, clockNow)
	signed := signTestToken(t, clockNow, testSessionIssuer, time.Hour, jwt.SigningMethodHS256)

	cookieRequest := httptest.NewRequest(http.MethodGet, "/curriculum/tree", nil)
	cookieRequest.AddCookie(&http.Cookie{Name: testSessionCookieName, Value: signed})
	if _, err := validator.ValidateRequest(cookieRequest); err != nil {
		t.Fatalf("expected cookie session to validate: %v", err)
	}

	bearerRequest := httptest.NewRequest(http.MethodGet, "/curriculum/tree", nil)
	bearerRequest.Header.Set("Authorization", "Bearer "+signed)
	if _, err := validator.ValidateRequest(bearerRequest); err != nil {
		t.Fatalf("expected bearer token to validate: %v", err)
	}

	anonymous := httptest.NewRequest(http.MethodGet, "/curriculum/tree", nil)
	if _, err := validator.ValidateRequest(anonymous); !errors.Is(err, ErrMissingSessionToken) {
		t.Fatalf("expected missing token error, got %v", err)
	}
}

func TestNewSessionValidatorRequiresConfiguration(t *testing.T) {
	if _, err := NewSessionValidator(SessionValidatorConfig{Issuer: "x", CookieName: "c"}); !errors.Is(err, ErrMissingSessionSigningKey) {
		t.Fatalf("expected missing key error, got %v", err)
	}
	if _, err := NewSessionValidator(SessionValidatorConfig{SigningSecret: []byte("s"), CookieName: "c"}); !errors.Is(err, ErrMissingSessionIssuer) {
		t.Fatalf("expected missing issuer error, got %v", err)
	}
	if _, err := NewSessionValidator(SessionValidatorConfig{SigningSecret: []byte("s"), Issuer: "x"}); !errors.Is(err, ErrMissingSessionCookieName) {
		t.Fatalf("expected missing cookie error, got %v", err)
	}
}
