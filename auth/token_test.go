package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"chat-sync/domain"
)

func TestToken_RoundTrip(t *testing.T) {
	req := require.New(t)
	secret := []byte("test-secret")
	user := domain.User{ID: "u1", Name: "Alice"}

	token, err := GenerateToken(secret, user, time.Hour)
	req.NoError(err)

	claims, err := ParseToken(secret, token)
	req.NoError(err)
	req.Equal("u1", claims.UserID)
	req.Equal("Alice", claims.DisplayName)
}

func TestToken_WrongSecret(t *testing.T) {
	req := require.New(t)
	user := domain.User{ID: "u1", Name: "Alice"}

	token, err := GenerateToken([]byte("test-secret"), user, time.Hour)
	req.NoError(err)

	_, err = ParseToken([]byte("another-secret"), token)
	req.Error(err)
}

func TestToken_Expired(t *testing.T) {
	req := require.New(t)
	secret := []byte("test-secret")
	user := domain.User{ID: "u1", Name: "Alice"}

	token, err := GenerateToken(secret, user, -time.Minute)
	req.NoError(err)

	_, err = ParseToken(secret, token)
	req.Error(err)
}
