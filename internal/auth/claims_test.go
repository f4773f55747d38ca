package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const testSecret = "test-secret-key-for-jwt-signing"

func TestIssueAndParseToken(t *testing.T) {
	token, err := IssueToken(testSecret, "ops-laptop", RoleOperator, time.Hour)
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}

	claims, err := ParseToken(token, testSecret)
	if err != nil {
		t.Fatalf("ParseToken() error = %v", err)
	}

	if claims.Subject != "ops-laptop" {
		t.Errorf("Subject = %q, want %q", claims.Subject, "ops-laptop")
	}
	if claims.Role != RoleOperator {
		t.Errorf("Role = %q, want %q", claims.Role, RoleOperator)
	}
	if claims.ID == "" {
		t.Error("JTI (ID) should not be empty")
	}

	expectedExpiry := time.Now().Add(time.Hour)
	if diff := claims.ExpiresAt.Time.Sub(expectedExpiry); diff < -time.Minute || diff > time.Minute {
		t.Errorf("expiry diff = %v, want ~0", diff)
	}
}

func TestIssueToken_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		subject string
		role    Role
	}{
		{"missing subject", "", RoleViewer},
		{"unknown role", "ops", Role("owner")},
		{"empty role", "ops", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := IssueToken(testSecret, tt.subject, tt.role, time.Hour); !errors.Is(err, ErrTokenInvalid) {
				t.Errorf("IssueToken() error = %v, want ErrTokenInvalid", err)
			}
		})
	}
}

// sign builds a token with arbitrary claims, bypassing IssueToken checks.
func sign(t *testing.T, method jwt.SigningMethod, claims jwt.Claims, key any) string {
	t.Helper()
	s, err := jwt.NewWithClaims(method, claims).SignedString(key)
	if err != nil {
		t.Fatalf("SignedString: %v", err)
	}
	return s
}

func TestParseToken_Rejects(t *testing.T) {
	valid, err := IssueToken(testSecret, "ops", RoleViewer, time.Hour)
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}
	expired, err := IssueToken(testSecret, "ops", RoleViewer, -time.Minute)
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}
	future := jwt.NewNumericDate(time.Now().Add(time.Hour))

	tests := []struct {
		name   string
		token  string
		secret string
	}{
		{"empty", "", testSecret},
		{"garbage", "not-a-valid-jwt", testSecret},
		{"malformed", "abc.def", testSecret},
		{"wrong secret", valid, "wrong-secret"},
		{"expired", expired, testSecret},
		{"no expiry", sign(t, jwt.SigningMethodHS256, Claims{
			RegisteredClaims: jwt.RegisteredClaims{Subject: "ops"}, Role: RoleViewer,
		}, []byte(testSecret)), testSecret},
		{"other HMAC", sign(t, jwt.SigningMethodHS512, Claims{
			RegisteredClaims: jwt.RegisteredClaims{Subject: "ops", ExpiresAt: future}, Role: RoleViewer,
		}, []byte(testSecret)), testSecret},
		{"missing subject", sign(t, jwt.SigningMethodHS256, Claims{
			RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: future}, Role: RoleViewer,
		}, []byte(testSecret)), testSecret},
		{"unknown role", sign(t, jwt.SigningMethodHS256, Claims{
			RegisteredClaims: jwt.RegisteredClaims{Subject: "ops", ExpiresAt: future}, Role: "owner",
		}, []byte(testSecret)), testSecret},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseToken(tt.token, tt.secret); !errors.Is(err, ErrTokenInvalid) {
				t.Errorf("ParseToken() error = %v, want ErrTokenInvalid", err)
			}
		})
	}
}
