// Package identity turns bearer tokens into user ids.
package identity

import (
	"context"
	"errors"
	"fmt"
	"time"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/auth"
	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken is returned for any token that cannot be trusted.
var ErrInvalidToken = errors.New("identity: invalid token")

// Principal is the authenticated caller.
type Principal struct {
	UserID string
	Name   string
	Email  string
}

type Verifier interface {
	Verify(ctx context.Context, token string) (Principal, error)
}

// JWT verifies HS256 tokens signed with a shared secret.
type JWT struct {
	secret []byte
	now    func() time.Time
}

func NewJWT(secret string) *JWT {
	return &JWT{secret: []byte(secret), now: time.Now}
}

// Issue signs a token for p that expires after ttl. It backs local
// development and tests; production clients sign in through Firebase.
func (j *JWT) Issue(p Principal, ttl time.Duration) (string, error) {
	claims := jwt.MapClaims{
		"id":    p.UserID,
		"name":  p.Name,
		"email": p.Email,
		"exp":   j.now().Add(ttl).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(j.secret)
}

func (j *JWT) Verify(ctx context.Context, tokenString string) (Principal, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		return j.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(j.now))
	if err != nil || !token.Valid {
		return Principal{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return Principal{}, ErrInvalidToken
	}
	if _, ok := claims["exp"]; !ok {
		return Principal{}, fmt.Errorf("%w: missing exp", ErrInvalidToken)
	}
	id, _ := claims["id"].(string)
	if id == "" {
		id, _ = claims["sub"].(string)
	}
	if id == "" {
		return Principal{}, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	name, _ := claims["name"].(string)
	email, _ := claims["email"].(string)
	return Principal{UserID: id, Name: name, Email: email}, nil
}

type idTokenVerifier interface {
	VerifyIDToken(ctx context.Context, idToken string) (*auth.Token, error)
}

// Firebase verifies Firebase Authentication ID tokens.
type Firebase struct {
	client idTokenVerifier
}

func NewFirebase(ctx context.Context, app *firebase.App) (*Firebase, error) {
	client, err := app.Auth(ctx)
	if err != nil {
		return nil, fmt.Errorf("firebase: auth client: %w", err)
	}
	return &Firebase{client: client}, nil
}

func (f *Firebase) Verify(ctx context.Context, idToken string) (Principal, error) {
	tok, err := f.client.VerifyIDToken(ctx, idToken)
	if err != nil {
		return Principal{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	p := Principal{UserID: tok.UID}
	p.Name, _ = tok.Claims["name"].(string)
	p.Email, _ = tok.Claims["email"].(string)
	return p, nil
}
