package identity

import (
	"context"
	"errors"
	"testing"
	"time"

	"firebase.google.com/go/v4/auth"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJWTRoundTrip(t *testing.T) {
	j := NewJWT("s3cret")
	token, err := j.Issue(Principal{UserID: "u1", Name: "Ann", Email: "ann@uni.edu"}, time.Hour)
	require.NoError(t, err)

	p, err := j.Verify(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, Principal{UserID: "u1", Name: "Ann", Email: "ann@uni.edu"}, p)
}

func TestJWTRejects(t *testing.T) {
	ctx := context.Background()
	j := NewJWT("s3cret")

	other, err := NewJWT("different").Issue(Principal{UserID: "u1"}, time.Hour)
	require.NoError(t, err)
	_, err = j.Verify(ctx, other)
	assert.ErrorIs(t, err, ErrInvalidToken)

	expired, err := j.Issue(Principal{UserID: "u1"}, -time.Minute)
	require.NoError(t, err)
	_, err = j.Verify(ctx, expired)
	assert.ErrorIs(t, err, ErrInvalidToken)

	noSubject, err := j.Issue(Principal{}, time.Hour)
	require.NoError(t, err)
	_, err = j.Verify(ctx, noSubject)
	assert.ErrorIs(t, err, ErrInvalidToken)

	noExp, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"id": "u1"}).SignedString([]byte("s3cret"))
	require.NoError(t, err)
	_, err = j.Verify(ctx, noExp)
	assert.ErrorIs(t, err, ErrInvalidToken)

	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{"id": "u1", "exp": time.Now().Add(time.Hour).Unix()}).
		SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = j.Verify(ctx, none)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = j.Verify(ctx, "garbage")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestJWTAcceptsSubClaim(t *testing.T) {
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "u2",
		"exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte("k"))
	require.NoError(t, err)

	p, err := NewJWT("k").Verify(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, "u2", p.UserID)
}

type fakeIDTokens map[string]*auth.Token

func (f fakeIDTokens) VerifyIDToken(ctx context.Context, idToken string) (*auth.Token, error) {
	if tok, ok := f[idToken]; ok {
		return tok, nil
	}
	return nil, errors.New("ID token has invalid signature")
}

func TestFirebaseVerify(t *testing.T) {
	f := &Firebase{client: fakeIDTokens{
		"good": {UID: "uid-7", Claims: map[string]interface{}{"name": "Kim", "email": "kim@uni.edu"}},
	}}

	p, err := f.Verify(context.Background(), "good")
	require.NoError(t, err)
	assert.Equal(t, Principal{UserID: "uid-7", Name: "Kim", Email: "kim@uni.edu"}, p)

	_, err = f.Verify(context.Background(), "bad")
	assert.ErrorIs(t, err, ErrInvalidToken)
}
