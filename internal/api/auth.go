package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

type ctxKey int

const ownerKeyCtx ctxKey = iota

// OwnerFromContext returns the authenticated owner key for the request.
func OwnerFromContext(ctx context.Context) string {
	owner, _ := ctx.Value(ownerKeyCtx).(string)
	return owner
}

// authMiddleware resolves the owner key that scopes session capacity. With
// a JWT secret configured the bearer token's subject claim is the owner;
// without one, auth is disabled and the X-Owner-Key header (or "anonymous")
// identifies the caller. Disabled auth is for local development only.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.jwtSecret == "" {
			owner := r.Header.Get("X-Owner-Key")
			if owner == "" {
				owner = "anonymous"
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ownerKeyCtx, owner)))
			return
		}

		header := r.Header.Get("Authorization")
		raw, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || raw == "" {
			s.writeAuthFailure(w, "missing bearer token")
			return
		}

		owner, err := s.ownerFromToken(raw)
		if err != nil {
			s.logger.Debug("Rejected bearer token", zap.Error(err))
			s.writeAuthFailure(w, "invalid bearer token")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ownerKeyCtx, owner)))
	})
}

func (s *Server) ownerFromToken(raw string) (string, error) {
	token, err := jwt.ParseWithClaims(raw, &jwt.RegisteredClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(s.jwtSecret), nil
	})
	if err != nil {
		return "", fmt.Errorf("token parse/validation error: %w", err)
	}
	claims, ok := token.Claims.(*jwt.RegisteredClaims)
	if !ok || claims.Subject == "" {
		return "", fmt.Errorf("token carries no subject claim")
	}
	return claims.Subject, nil
}
