package signal

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken = errors.New("invalid room token")
	ErrExpiredToken = errors.New("room token expired")
)

// RoomClaims are the claims of a room access token minted for a
// credentialed login.
type RoomClaims struct {
	Nickname string `json:"nickname"`
	Room     string `json:"room"`
	jwt.RegisteredClaims
}

// MintRoomToken signs an HS256 room access token for one virtual user.
func MintRoomToken(secret, nickname, room string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &RoomClaims{
		Nickname: nickname,
		Room:     room,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

// ParseRoomToken validates a signed room token and returns its claims.
func ParseRoomToken(secret, tokenString string) (*RoomClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &RoomClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return []byte(secret), nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*RoomClaims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
