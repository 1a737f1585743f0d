package utils

import (
	"fmt"
	"os"
	"time"

	"github.com/dgrijalva/jwt-go"
)

// Client tokens are issued by the auth service; this backend only validates them.
type JwtCustomClaim struct {
	ID    int    `json:"id"`
	Role  string `json:"role"`
	Scope string `json:"scope"`
	Email string `json:"email"`
	jwt.StandardClaims
}

const RoleAdmin = "admin"

func jwtSecret() []byte {
	secret := os.Getenv("API_SECRET")
	if secret == "" {
		return []byte("cargo-mirror-secret")
	}
	return []byte(secret)
}

// JwtGenerate is used by ops tooling and tests; production tokens come from the auth service.
func JwtGenerate(userID int, role string, scope string, email string, lifespan time.Duration) (string, error) {
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, &JwtCustomClaim{
		ID:    userID,
		Role:  role,
		Scope: scope,
		Email: email,
		StandardClaims: jwt.StandardClaims{
			ExpiresAt: time.Now().Add(lifespan).Unix(),
			IssuedAt:  time.Now().Unix(),
		},
	})

	token, err := t.SignedString(jwtSecret())
	if err != nil {
		return "", err
	}

	return token, nil
}

func JwtValidate(token string) (*jwt.Token, error) {
	return jwt.ParseWithClaims(token, &JwtCustomClaim{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("there's a problem with the signing method")
		}
		return jwtSecret(), nil
	})
}
