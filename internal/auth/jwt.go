package auth

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultTokenTTL is used when JWTConfig.TTL is zero.
const DefaultTokenTTL = 24 * time.Hour

// Claims represents JWT claims for relay authentication. Subject carries the user id.
type Claims struct {
	Name   string `json:"name,omitempty"`
	Avatar string `json:"avatar,omitempty"`
	jwt.RegisteredClaims
}

// JWTConfig holds JWT configuration.
type JWTConfig struct {
	Secret   []byte
	Issuer   string
	Audience string
	TTL      time.Duration
}

// GenerateToken creates a new HS256 token for id.
func GenerateToken(cfg *JWTConfig, id Identity) (string, error) {
	if len(cfg.Secret) == 0 {
		return "", errors.New("jwt secret is empty")
	}
	if id.UserID == "" {
		return "", errors.New("user id is required")
	}
	ttl := cfg.TTL
	if ttl == 0 {
		ttl = DefaultTokenTTL
	}

	now := time.Now()
	claims := Claims{
		Name:   id.DisplayName,
		Avatar: id.Avatar,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.UserID,
			Issuer:    cfg.Issuer,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	if cfg.Audience != "" {
		claims.Audience = jwt.ClaimStrings{cfg.Audience}
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(cfg.Secret)
}

// ValidateToken parses and validates a JWT token.
func ValidateToken(cfg *JWTConfig, tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return cfg.Secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token claims")
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("token has no subject")
	}
	if cfg.Issuer != "" && claims.Issuer != cfg.Issuer {
		return nil, fmt.Errorf("invalid issuer")
	}
	if cfg.Audience != "" && !slices.Contains(claims.Audience, cfg.Audience) {
		return nil, fmt.Errorf("invalid audience")
	}

	return claims, nil
}

// JWT verifies the join token and takes the identity from its claims.
type JWT struct {
	cfg *JWTConfig
}

// NewJWT returns a provider backed by cfg.
func NewJWT(cfg *JWTConfig) *JWT {
	return &JWT{cfg: cfg}
}

// Config returns the provider's JWT settings.
func (p *JWT) Config() *JWTConfig {
	return p.cfg
}

// Identify implements Provider. A claimed user id that differs from the token
// subject is rejected.
func (p *JWT) Identify(_ context.Context, token string, claimed Identity) (Identity, error) {
	if token == "" {
		return Identity{}, fmt.Errorf("%w: token required", ErrUnauthorized)
	}
	claims, err := ValidateToken(p.cfg, token)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %w", ErrUnauthorized, err)
	}
	if claimed.UserID != "" && claimed.UserID != claims.Subject {
		return Identity{}, fmt.Errorf("%w: userId does not match token subject", ErrUnauthorized)
	}

	id := Identity{
		UserID:      claims.Subject,
		DisplayName: claims.Name,
		Avatar:      claims.Avatar,
	}
	if id.DisplayName == "" {
		id.DisplayName = claimed.DisplayName
	}
	if id.DisplayName == "" {
		id.DisplayName = id.UserID
	}
	return id, nil
}
