// Package auth verifies bearer tokens and resolves them to an identity.
package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/cryptonex/flashtrade/internal/domain"
)

// Roles carried in token claims. Operators get the admin surfaces; everyone
// else is a regular user.
const (
	RoleUser     = "user"
	RoleOperator = "admin"
)

// Identity is the authenticated principal extracted from a token.
type Identity struct {
	UserID string
	Role   string
}

// Operator reports whether the identity may use admin surfaces.
func (id Identity) Operator() bool {
	return id.Role == RoleOperator
}

type claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Verifier validates HMAC-signed JWTs issued by the platform's account
// service.
type Verifier struct {
	secret []byte
}

// NewVerifier creates a Verifier for the given signing secret.
func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

// Verify parses and validates a token and returns the identity it carries.
// Expired, malformed, or foreign-signed tokens return domain.ErrUnauthorized.
func (v *Verifier) Verify(tokenString string) (Identity, error) {
	var c claims
	token, err := jwt.ParseWithClaims(tokenString, &c, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return v.secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil || !token.Valid {
		return Identity{}, domain.ErrUnauthorized
	}
	if c.Subject == "" {
		return Identity{}, domain.ErrUnauthorized
	}

	role := c.Role
	if role == "" {
		role = RoleUser
	}
	return Identity{UserID: c.Subject, Role: role}, nil
}

// Issue signs a token for the given identity with the given lifetime. The
// account service is the issuer of record in production; Issue backs local
// runs and tests.
func (v *Verifier) Issue(userID, role string, ttl time.Duration) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	})
	signed, err := token.SignedString(v.secret)
	if err != nil {
		return "", fmt.Errorf("auth: sign token: %w", err)
	}
	return signed, nil
}
