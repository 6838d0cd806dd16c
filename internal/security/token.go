package security

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	ErrInvalidToken   = errors.New("invalid token")
	ErrExpiredToken   = errors.New("token has expired")
	ErrWrongTokenType = errors.New("wrong token type for this endpoint")
)

type TokenType string

const (
	TokenTypeAccess  TokenType = "access"
	TokenTypeService TokenType = "service"
)

const issuer = "barterpool"

// UserClaims identifies the caller. Service tokens carry the collaborator
// name in Subject and leave UserID empty.
type UserClaims struct {
	UserID string    `json:"user_id,omitempty"`
	Type   TokenType `json:"type"`
	jwt.RegisteredClaims
}

type TokenManager interface {
	GenerateAccessToken(userID string) (string, error)
	// GenerateServiceToken issues a token for a collaborator calling back into the API.
	GenerateServiceToken(service string) (string, error)
	ValidateToken(tokenString string) (*UserClaims, error)
}

type tokenManager struct {
	secret     []byte
	accessTTL  time.Duration
	serviceTTL time.Duration
}

func NewTokenManager(secret string) TokenManager {
	return &tokenManager{
		secret:     []byte(secret),
		accessTTL:  time.Hour,
		serviceTTL: 24 * time.Hour,
	}
}

func (m *tokenManager) GenerateAccessToken(userID string) (string, error) {
	if userID == "" {
		return "", ErrInvalidToken
	}
	return m.sign(UserClaims{
		UserID:           userID,
		Type:             TokenTypeAccess,
		RegisteredClaims: m.registered(userID, "api-access", m.accessTTL),
	})
}

func (m *tokenManager) GenerateServiceToken(service string) (string, error) {
	if service == "" {
		return "", ErrInvalidToken
	}
	return m.sign(UserClaims{
		Type:             TokenTypeService,
		RegisteredClaims: m.registered(service, "api-callback", m.serviceTTL),
	})
}

func (m *tokenManager) registered(subject, audience string, ttl time.Duration) jwt.RegisteredClaims {
	now := time.Now()
	return jwt.RegisteredClaims{
		Subject:   subject,
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		IssuedAt:  jwt.NewNumericDate(now),
		Issuer:    issuer,
		Audience:  jwt.ClaimStrings{audience},
		ID:        uuid.NewString(),
	}
}

func (m *tokenManager) sign(claims UserClaims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(m.secret)
}

func (m *tokenManager) ValidateToken(tokenString string) (*UserClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &UserClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return m.secret, nil
	}, jwt.WithIssuer(issuer))

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*UserClaims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	// Access tokens identify the user by subject as well.
	if claims.Type == TokenTypeAccess && claims.UserID == "" {
		claims.UserID = claims.Subject
	}
	if claims.Type == TokenTypeAccess && claims.UserID == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
