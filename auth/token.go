package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"

	"chat-sync/domain"
)

// SessionClaims is the identity carried by a session token. The core
// trusts this identity and does not re-verify it.
type SessionClaims struct {
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
	jwt.RegisteredClaims
}

// GenerateToken creates a signed JWT for a user session.
func GenerateToken(secret []byte, user domain.User, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &SessionClaims{
		UserID:      user.ID,
		DisplayName: user.Name,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    "chat-sync",
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(secret)
}

// ParseToken validates the signature and expiration of a session token
// and returns the embedded claims.
func ParseToken(secret []byte, tokenString string) (*SessionClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &SessionClaims{}, func(token *jwt.Token) (interface{}, error) {
		return secret, nil
	})
	if err != nil {
		return nil, err
	}

	if claims, ok := token.Claims.(*SessionClaims); ok && token.Valid {
		return claims, nil
	}
	return nil, jwt.ErrSignatureInvalid
}
