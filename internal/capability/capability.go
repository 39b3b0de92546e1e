// Package capability issues and checks signed room tokens. A token binds a
// user id to one room id so that guessing a room id is not enough to join it.
package capability

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrMissingToken  = errors.New("room token is required")
	ErrInvalidToken  = errors.New("room token is invalid")
	ErrRoomMismatch  = errors.New("room token is for another room")
	ErrUserMismatch  = errors.New("room token is for another user")
	ErrEmptySecret   = errors.New("room token secret is empty")
	ErrEmptyRoomUser = errors.New("room and user are required")
)

// Claims are the JWT claims of a room token.
type Claims struct {
	Room string `json:"room"`
	jwt.RegisteredClaims
}

// Issuer signs and verifies room tokens with a shared HMAC secret.
type Issuer struct {
	secret []byte
	now    func() time.Time
}

func NewIssuer(secret string) (*Issuer, error) {
	if secret == "" {
		return nil, ErrEmptySecret
	}
	return &Issuer{secret: []byte(secret), now: time.Now}, nil
}

// Issue mints a token letting userID join roomID for ttl.
func (i *Issuer) Issue(roomID, userID string, ttl time.Duration) (string, error) {
	if roomID == "" || userID == "" {
		return "", ErrEmptyRoomUser
	}
	now := i.now()
	claims := Claims{
		Room: roomID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("sign room token: %w", err)
	}
	return signed, nil
}

// Parse validates the signature and expiry and returns the claims.
func (i *Issuer) Parse(tokenString string) (*Claims, error) {
	if tokenString == "" {
		return nil, ErrMissingToken
	}
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		return i.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(i.now))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return claims, nil
}

// VerifyJoin checks that tokenString admits userID into roomID.
func (i *Issuer) VerifyJoin(tokenString, roomID, userID string) error {
	claims, err := i.Parse(tokenString)
	if err != nil {
		return err
	}
	if claims.Room != roomID {
		return ErrRoomMismatch
	}
	if claims.Subject != userID {
		return ErrUserMismatch
	}
	return nil
}

// VerifyRoom checks that tokenString admits its holder into roomID,
// whoever that holder is.
func (i *Issuer) VerifyRoom(tokenString, roomID string) (*Claims, error) {
	claims, err := i.Parse(tokenString)
	if err != nil {
		return nil, err
	}
	if claims.Room != roomID {
		return nil, ErrRoomMismatch
	}
	return claims, nil
}
