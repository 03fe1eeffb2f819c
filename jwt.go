package main

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

const (
	tokenIssuer = "projectmanager"
	tokenTTL    = 24 * time.Hour
)

// operator is the API caller a token was issued to. Project writes are
// logged with the operator's username.
type operator struct {
	ID       primitive.ObjectID
	Username string
}

type operatorClaims struct {
	Username string `json:"username,omitempty"`
	jwt.RegisteredClaims
}

// signJWT creates an HS256 token for op, valid for tokenTTL.
func signJWT(secret string, op operator, now time.Time) (string, error) {
	claims := operatorClaims{
		Username: op.Username,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   op.ID.Hex(),
			Issuer:    tokenIssuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(tokenTTL)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// parseJWT validates the token and returns the operator it was issued to.
func parseJWT(secret, tokenStr string) (operator, error) {
	var claims operatorClaims
	tok, err := jwt.ParseWithClaims(tokenStr, &claims, func(t *jwt.Token) (any, error) {
		return []byte(secret), nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil || !tok.Valid {
		return operator{}, errors.New("invalid token")
	}
	if claims.Subject == "" {
		return operator{}, errors.New("no subject")
	}
	id, err := primitive.ObjectIDFromHex(claims.Subject)
	if err != nil {
		return operator{}, err
	}
	return operator{ID: id, Username: claims.Username}, nil
}
