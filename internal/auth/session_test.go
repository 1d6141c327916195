package auth

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/example/ambulance-dispatch/internal/models"
)

const testSecret = "test-secret"

func mint(t *testing.T, secret, subject, role string, exp time.Time) string {
	t.Helper()
	claims := Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return raw
}

func TestSessionRoundtrip(t *testing.T) {
	v := NewVerifier(testSecret)
	raw := mint(t, testSecret, "driver-1", "driver", time.Now().Add(time.Hour))

	sess, err := v.Session(raw)
	if err != nil {
		t.Fatalf("session: %v", err)
	}
	if sess.UserID != "driver-1" || sess.Role != models.RoleDriver {
		t.Fatalf("unexpected session: %+v", sess)
	}
}

func TestSessionRejections(t *testing.T) {
	v := NewVerifier(testSecret)
	cases := []struct {
		name string
		raw  string
	}{
		{"wrong secret", mint(t, "other-secret", "u1", "driver", time.Now().Add(time.Hour))},
		{"expired", mint(t, testSecret, "u1", "driver", time.Now().Add(-time.Hour))},
		{"unknown role", mint(t, testSecret, "u1", "admin", time.Now().Add(time.Hour))},
		{"missing subject", mint(t, testSecret, "", "driver", time.Now().Add(time.Hour))},
		{"garbage", "not.a.token"},
	}
	for _, tc := range cases {
		if _, err := v.Session(tc.raw); err != ErrInvalidToken {
			t.Fatalf("%s: expected ErrInvalidToken, got %v", tc.name, err)
		}
	}
}

func TestSessionFromRequest(t *testing.T) {
	v := NewVerifier(testSecret)
	raw := mint(t, testSecret, "rider-1", "requester", time.Now().Add(time.Hour))

	r := httptest.NewRequest("GET", "/", nil)
	if _, err := v.SessionFromRequest(r); err != ErrNoToken {
		t.Fatalf("expected ErrNoToken, got %v", err)
	}

	r.Header.Set("Authorization", raw)
	if _, err := v.SessionFromRequest(r); err != ErrNoToken {
		t.Fatalf("non-bearer header: expected ErrNoToken, got %v", err)
	}

	r.Header.Set("Authorization", "Bearer "+raw)
	sess, err := v.SessionFromRequest(r)
	if err != nil {
		t.Fatalf("session: %v", err)
	}
	if sess.UserID != "rider-1" || sess.Role != models.RoleRequester {
		t.Fatalf("unexpected session: %+v", sess)
	}
}
