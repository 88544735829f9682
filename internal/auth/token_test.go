package auth_test

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CamberLoid/Amortiza/internal/auth"
	"github.com/CamberLoid/Amortiza/internal/loan"
)

func TestIssuer_RoundTrip(t *testing.T) {
	iss, err := auth.NewIssuer("amortiza", "secret", time.Hour)
	require.NoError(t, err)

	raw, err := iss.Issue("0xb0b", loan.RoleBorrower)
	require.NoError(t, err)

	claims, err := iss.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, loan.Caller{Address: "0xb0b", Role: loan.RoleBorrower}, claims.Caller())
}

func TestIssuer_Rejects(t *testing.T) {
	iss, err := auth.NewIssuer("amortiza", "secret", time.Hour)
	require.NoError(t, err)
	other, err := auth.NewIssuer("amortiza", "other", time.Hour)
	require.NoError(t, err)
	elsewhere, err := auth.NewIssuer("elsewhere", "secret", time.Hour)
	require.NoError(t, err)

	wrongKey, err := other.Issue("0xb0b", loan.RoleAdvisor)
	require.NoError(t, err)
	wrongIssuer, err := elsewhere.Issue("0xb0b", loan.RoleAdvisor)
	require.NoError(t, err)

	expired, err := jwt.NewWithClaims(jwt.SigningMethodHS256, &auth.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "amortiza",
			Subject:   "0xb0b",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
		},
		Role: loan.RoleBorrower,
	}).SignedString([]byte("secret"))
	require.NoError(t, err)

	badRole, err := jwt.NewWithClaims(jwt.SigningMethodHS256, &auth.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "amortiza",
			Subject:   "0xb0b",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Role: "admin",
	}).SignedString([]byte("secret"))
	require.NoError(t, err)

	for name, raw := range map[string]string{
		"wrong key":    wrongKey,
		"wrong issuer": wrongIssuer,
		"expired":      expired,
		"bad role":     badRole,
		"garbage":      "not.a.token",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := iss.Parse(raw)
			assert.ErrorIs(t, err, auth.ErrInvalidToken)
		})
	}
}

func TestIssuer_IssueValidation(t *testing.T) {
	_, err := auth.NewIssuer("", "secret", time.Hour)
	assert.Error(t, err)

	iss, err := auth.NewIssuer("amortiza", "secret", time.Hour)
	require.NoError(t, err)
	_, err = iss.Issue("", loan.RoleBorrower)
	assert.Error(t, err)
	_, err = iss.Issue("0xb0b", "admin")
	assert.Error(t, err)
}

func TestBearerToken(t *testing.T) {
	tok, err := auth.BearerToken("Bearer abc.def")
	require.NoError(t, err)
	assert.Equal(t, "abc.def", tok)

	for _, h := range []string{"", "abc", "Basic abc", "Bearer"} {
		_, err := auth.BearerToken(h)
		assert.ErrorIs(t, err, auth.ErrInvalidAuthorizationHeader, h)
	}
}
