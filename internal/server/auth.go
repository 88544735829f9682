package server

import (
	"context"
	"net/http"
	"slices"

	"github.com/pkg/errors"

	"github.com/CamberLoid/Amortiza/internal/auth"
	"github.com/CamberLoid/Amortiza/internal/loan"
)

type callerCtxKey struct{}

// authenticated rejects requests without a valid bearer token and stores
// the caller in the request context.
func (s *Server) authenticated(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, err := auth.BearerToken(r.Header.Get("Authorization"))
		if err != nil {
			returnFailure(w, r, err, http.StatusUnauthorized)
			return
		}
		claims, err := s.tokens.Parse(raw)
		if err != nil {
			returnFailure(w, r, err, http.StatusUnauthorized)
			return
		}
		ctx := context.WithValue(r.Context(), callerCtxKey{}, claims.Caller())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func requireRole(roles ...loan.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			c := callerFrom(r.Context())
			if !slices.Contains(roles, c.Role) {
				returnError(w, r, errors.Wrapf(loan.ErrUnauthorized, "role %s", c.Role))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func callerFrom(ctx context.Context) loan.Caller {
	c, _ := ctx.Value(callerCtxKey{}).(loan.Caller)
	return c
}
