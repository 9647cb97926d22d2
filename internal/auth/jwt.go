package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken is returned for any token that fails verification:
// bad signature, wrong algorithm, expired, or missing user id.
var ErrInvalidToken = errors.New("invalid token")

// Claims carried by chat session tokens.
type Claims struct {
	UserID string `json:"userId"`
	jwt.RegisteredClaims
}

// JWTValidator verifies HS256 session tokens issued by the REST API.
// It implements chat.AuthValidator.
type JWTValidator struct {
	secretKey     []byte
	tokenDuration time.Duration
}

// NewJWTValidator creates a validator sharing the REST API's signing secret.
// tokenDuration is only used by Generate.
func NewJWTValidator(secretKey string, tokenDuration time.Duration) *JWTValidator {
	return &JWTValidator{
		secretKey:     []byte(secretKey),
		tokenDuration: tokenDuration,
	}
}

// Validate verifies the token and returns the user id it authenticates.
func (v *JWTValidator) Validate(tokenString string) (string, error) {
	token, err := jwt.ParseWithClaims(
		tokenString,
		&Claims{},
		func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return v.secretKey, nil
		},
	)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return "", ErrInvalidToken
	}
	if claims.UserID == "" {
		return "", fmt.Errorf("%w: missing userId claim", ErrInvalidToken)
	}
	return claims.UserID, nil
}

// Generate signs a token for the given user. Used by tests and local tooling;
// production tokens come from the REST API.
func (v *JWTValidator) Generate(userID string) (string, error) {
	now := time.Now()
	claims := &Claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(v.tokenDuration)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    "chatd",
			Subject:   userID,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(v.secretKey)
}
