package security

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"circle_go/internal/domain"
)

// TokenService wraps JWT creation and validation. The subject claim is the
// user's profile id.
type TokenService struct {
	secret    []byte
	expiresIn time.Duration
}

func NewTokenService(secret string, expiresIn time.Duration) *TokenService {
	return &TokenService{
		secret:    []byte(secret),
		expiresIn: expiresIn,
	}
}

// CreateForUser creates a JWT for the given user using the default TTL.
func (t *TokenService) CreateForUser(userID uuid.UUID, name string) (string, error) {
	return t.CreateWithTTL(userID, name, t.expiresIn)
}

// CreateWithTTL creates a JWT for the given user with an explicit TTL.
func (t *TokenService) CreateWithTTL(userID uuid.UUID, name string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub":  userID.String(),
		"name": name,
		"iat":  now.Unix(),
		"exp":  now.Add(ttl).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(t.secret)
}

// Parse validates a token and returns its claims.
func (t *TokenService) Parse(tokenStr string) (jwt.MapClaims, error) {
	token, err := jwt.Parse(tokenStr, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return t.secret, nil
	})
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, jwt.ErrSignatureInvalid
	}
	if claims, ok := token.Claims.(jwt.MapClaims); ok {
		return claims, nil
	}
	return nil, jwt.ErrTokenMalformed
}

// Identity is what a valid token says about its bearer.
type Identity struct {
	UserID uuid.UUID
	Name   string
}

// ParseIdentity validates tokenStr and extracts the user id. Every failure
// wraps domain.ErrAuthRequired.
func (t *TokenService) ParseIdentity(tokenStr string) (Identity, error) {
	claims, err := t.Parse(tokenStr)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %w", domain.ErrAuthRequired, err)
	}
	sub, err := claims.GetSubject()
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %w", domain.ErrAuthRequired, err)
	}
	id, err := uuid.Parse(sub)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: subject is not a user id", domain.ErrAuthRequired)
	}
	name, _ := claims["name"].(string)
	return Identity{UserID: id, Name: name}, nil
}
