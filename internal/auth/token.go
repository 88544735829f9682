// Package auth issues and verifies the HS256 bearer tokens of the ledger
// service. The subject is the caller's address and the role claim selects
// what the caller may do.
package auth

import (
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"

	"github.com/CamberLoid/Amortiza/internal/loan"
)

var (
	ErrInvalidAuthorizationHeader = errors.New("invalid authorization header")
	ErrInvalidToken               = errors.New("invalid token")
)

// Claims are the registered claims plus the caller's role.
type Claims struct {
	jwt.RegisteredClaims
	Role loan.Role `json:"role"`
}

// Caller returns the ledger identity the claims stand for.
func (c *Claims) Caller() loan.Caller {
	return loan.Caller{Address: c.Subject, Role: c.Role}
}

// Issuer signs tokens for one service.
type Issuer struct {
	name     string
	key      []byte
	duration time.Duration
}

func NewIssuer(name, signKey string, duration time.Duration) (*Issuer, error) {
	if name == "" || signKey == "" || duration <= 0 {
		return nil, errors.New("invalid params for issuing tokens")
	}
	return &Issuer{name: name, key: []byte(signKey), duration: duration}, nil
}

// Issue returns a signed token for address acting as role.
func (i *Issuer) Issue(address string, role loan.Role) (string, error) {
	if address == "" {
		return "", errors.New("empty subject")
	}
	if !role.Valid() {
		return "", errors.Errorf("unknown role %q", role)
	}

	now := time.Now()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.name,
			Subject:   address,
			ExpiresAt: jwt.NewNumericDate(now.Add(i.duration)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
		Role: role,
	}
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.key)
	if err != nil {
		return "", errors.Wrap(err, "signing token")
	}
	return s, nil
}

// Parse validates signature, issuer and expiry and returns the claims.
func (i *Issuer) Parse(raw string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		return i.key, nil
	}, jwt.WithIssuer(i.name), jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return nil, errors.Wrap(ErrInvalidToken, err.Error())
	}
	if claims.Subject == "" {
		return nil, errors.Wrap(ErrInvalidToken, "empty subject")
	}
	if !claims.Role.Valid() {
		return nil, errors.Wrapf(ErrInvalidToken, "unknown role %q", claims.Role)
	}
	return claims, nil
}

// BearerToken extracts the token of an "Authorization: Bearer <token>"
// header value.
func BearerToken(header string) (string, error) {
	parts := strings.Fields(header)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", ErrInvalidAuthorizationHeader
	}
	return parts[1], nil
}
