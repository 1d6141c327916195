package auth

import (
	"errors"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/example/ambulance-dispatch/internal/models"
)

// Token issuance is the identity provider's job; this package only
// verifies bearer tokens it minted and extracts the session claims.

var (
	ErrNoToken      = errors.New("no bearer token")
	ErrInvalidToken = errors.New("invalid token")
)

type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Verifier validates tokens with a shared HMAC secret.
type Verifier struct {
	secret []byte
}

func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

// Session parses and verifies a raw token into the caller's session.
func (v *Verifier) Session(raw string) (models.Session, error) {
	var claims Claims
	tok, err := jwt.ParseWithClaims(raw, &claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return v.secret, nil
	})
	if err != nil || !tok.Valid {
		return models.Session{}, ErrInvalidToken
	}
	role := models.Role(claims.Role)
	if role != models.RoleRequester && role != models.RoleDriver {
		return models.Session{}, ErrInvalidToken
	}
	if claims.Subject == "" {
		return models.Session{}, ErrInvalidToken
	}
	return models.Session{UserID: claims.Subject, Role: role}, nil
}

// SessionFromRequest reads the Authorization header. Absent credentials
// are a distinct outcome from bad ones.
func (v *Verifier) SessionFromRequest(r *http.Request) (models.Session, error) {
	h := r.Header.Get("Authorization")
	if h == "" {
		return models.Session{}, ErrNoToken
	}
	raw := strings.TrimPrefix(h, "Bearer ")
	if raw == h {
		return models.Session{}, ErrNoToken
	}
	return v.Session(raw)
}
