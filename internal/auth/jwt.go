// Package auth issues and validates the bearer tokens that admit a host
// shell onto the bridge and operators onto the call API.
package auth

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Token lifetimes.
const (
	// DefaultTokenTTL is the lifetime of tokens issued without an explicit TTL.
	DefaultTokenTTL = 24 * time.Hour

	// MinSigningKeyLength is the shortest accepted HMAC secret, in bytes.
	MinSigningKeyLength = 16
)

// Role is what a token holder may do.
type Role string

const (
	// RoleShell may attach to the bridge websocket.
	RoleShell Role = "shell"
	// RoleOperator may read call state and manage the push token.
	RoleOperator Role = "operator"
)

// Token errors.
var (
	ErrInvalidToken   = errors.New("invalid token")
	ErrTokenExpired   = errors.New("token has expired")
	ErrWeakSigningKey = errors.New("signing key too short")
	ErrUnknownRole    = errors.New("unknown role")
)

// Claims are the claims carried by bridge tokens.
type Claims struct {
	jwt.RegisteredClaims

	Role Role `json:"role"`
}

// Allows reports whether the claims grant role. Operators may do anything a
// shell may.
func (c *Claims) Allows(role Role) bool {
	return c.Role == role || c.Role == RoleOperator
}

// TokenConfig holds configuration for the TokenService.
type TokenConfig struct {
	// SigningKey is the HMAC secret shared with the host shell.
	SigningKey string

	// Issuer is the issuer claim for tokens.
	Issuer string

	// Audience is the audience claim for tokens.
	Audience string
}

// DefaultTokenConfig returns the issuer and audience the daemon uses.
func DefaultTokenConfig(signingKey string) TokenConfig {
	return TokenConfig{
		SigningKey: signingKey,
		Issuer:     "callbridged",
		Audience:   "callbridge-bridge",
	}
}

// TokenService handles JWT creation and validation.
type TokenService struct {
	signingKey []byte
	issuer     string
	audience   string
	now        func() time.Time
}

// NewTokenService creates a new token service.
func NewTokenService(cfg TokenConfig) (*TokenService, error) {
	if len(cfg.SigningKey) < MinSigningKeyLength {
		return nil, ErrWeakSigningKey
	}
	return &TokenService{
		signingKey: []byte(cfg.SigningKey),
		issuer:     cfg.Issuer,
		audience:   cfg.Audience,
		now:        time.Now,
	}, nil
}

// Issue creates a token for subject with the given role. A non-positive ttl
// uses DefaultTokenTTL.
func (s *TokenService) Issue(subject string, role Role, ttl time.Duration) (string, time.Time, error) {
	if role != RoleShell && role != RoleOperator {
		return "", time.Time{}, fmt.Errorf("%w: %q", ErrUnknownRole, role)
	}
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}

	now := s.now()
	expiresAt := now.Add(ttl)

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   subject,
			Audience:  jwt.ClaimStrings{s.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			NotBefore: jwt.NewNumericDate(now),
			ID:        generateTokenID(),
		},
		Role: role,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(s.signingKey)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("signing token: %w", err)
	}

	return tokenString, expiresAt, nil
}

// Validate validates a token and returns its claims.
func (s *TokenService) Validate(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.signingKey, nil
	}, jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithIssuer(s.issuer),
		jwt.WithAudience(s.audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %s", ErrInvalidToken, err.Error())
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Role != RoleShell && claims.Role != RoleOperator {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, ErrUnknownRole)
	}

	return claims, nil
}

// generateTokenID generates a unique token ID.
func generateTokenID() string {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		return ""
	}
	return base64.RawURLEncoding.EncodeToString(bytes)
}
