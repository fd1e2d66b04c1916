package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

// ErrInvalidToken 令牌无效或已过期
var ErrInvalidToken = errors.New("invalid relay token")

// RoleBroadcaster may open relay sessions.
const RoleBroadcaster = "broadcaster"

// HashPassword generates a bcrypt hash of the admin password.
func HashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(bytes), nil
}

// CheckPasswordHash compares a password with a bcrypt hash.
func CheckPasswordHash(password, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// RelayClaims 推流令牌声明
type RelayClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Signer 签发与校验推流令牌
type Signer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewSigner returns a signer; ttl <= 0 means 12 hours.
func NewSigner(secret string, ttl time.Duration) *Signer {
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	return &Signer{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// Enabled reports whether a secret is configured.
func (s *Signer) Enabled() bool { return s != nil && len(s.secret) > 0 }

// Issue 签发一个 HS256 令牌
func (s *Signer) Issue(subject, role string) (string, error) {
	now := s.now()
	claims := RelayClaims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    "radioroyal",
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// Parse 校验令牌并返回声明
func (s *Signer) Parse(tokenString string) (*RelayClaims, error) {
	claims := &RelayClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer("radioroyal"),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
