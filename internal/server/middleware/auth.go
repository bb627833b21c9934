// Package middleware provides HTTP middleware for the admin API.
package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/limiquantix/drsim/internal/config"
)

// ContextKey is the type for context keys.
type ContextKey string

// ClaimsKey is the context key for verified token claims.
const ClaimsKey ContextKey = "claims"

const (
	issuer   = "drsim"
	audience = "drsim-api"
)

// Claims represents the JWT claims accepted by the admin API.
type Claims struct {
	jwt.RegisteredClaims
}

// TokenManager signs and verifies HS256 operator tokens.
type TokenManager struct {
	secret      []byte
	tokenExpiry time.Duration
}

// NewTokenManager creates a token manager from the auth configuration.
func NewTokenManager(cfg config.AuthConfig) *TokenManager {
	return &TokenManager{
		secret:      []byte(cfg.JWTSecret),
		tokenExpiry: cfg.TokenExpiry,
	}
}

// Generate signs a token for the given operator.
func (m *TokenManager) Generate(subject string) (string, error) {
	now := time.Now()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   subject,
			Audience:  jwt.ClaimStrings{audience},
			ExpiresAt: jwt.NewNumericDate(now.Add(m.tokenExpiry)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// Verify validates a token and returns its claims.
func (m *TokenManager) Verify(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return m.secret, nil
	}, jwt.WithIssuer(issuer), jwt.WithAudience(audience))
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token claims")
	}
	return claims, nil
}

// Auth guards mutating requests with a bearer token. Safe methods pass through.
type Auth struct {
	tokens *TokenManager
	logger *zap.Logger
}

// NewAuth creates the bearer-token middleware.
func NewAuth(tokens *TokenManager, logger *zap.Logger) *Auth {
	return &Auth{
		tokens: tokens,
		logger: logger.With(zap.String("middleware", "auth")),
	}
}

// Wrap returns next guarded by the token check.
func (a *Auth) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions:
			next.ServeHTTP(w, r)
			return
		}

		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			a.logger.Debug("Missing authorization header", zap.String("path", r.URL.Path))
			unauthorized(w, "missing authorization header")
			return
		}

		tokenString := strings.TrimPrefix(authHeader, "Bearer ")
		if tokenString == authHeader {
			unauthorized(w, "invalid authorization format, expected 'Bearer <token>'")
			return
		}

		claims, err := a.tokens.Verify(tokenString)
		if err != nil {
			a.logger.Debug("Token verification failed", zap.Error(err))
			unauthorized(w, "invalid or expired token")
			return
		}

		a.logger.Debug("Request authenticated",
			zap.String("subject", claims.Subject),
			zap.String("path", r.URL.Path),
		)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ClaimsKey, claims)))
	})
}

func unauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", "Bearer")
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
