package auth

import (
	"testing"
	"time"

	herderrors "herdchat/errors"

	"github.com/stretchr/testify/require"
)

func Test_Token_Roundtrip(t *testing.T) {
	req := require.New(t)
	tokens := NewTokens("test_secret_key", time.Hour)

	signed, err := tokens.Generate("u1")
	req.NoError(err)

	identity, err := tokens.Validate(signed)
	req.NoError(err)
	req.Equal("u1", identity.UserID)
}

func Test_Empty_Token_Requires_Auth(t *testing.T) {
	_, err := NewTokens("test_secret_key", time.Hour).Validate("")
	require.ErrorIs(t, err, herderrors.ErrAuthRequired)
}

func Test_Expired_Token_Is_Invalid(t *testing.T) {
	req := require.New(t)
	tokens := NewTokens("test_secret_key", -time.Minute)

	signed, err := tokens.Generate("u1")
	req.NoError(err)

	_, err = tokens.Validate(signed)
	req.ErrorIs(err, herderrors.ErrInvalidToken)
}

func Test_Wrong_Secret_Is_Invalid(t *testing.T) {
	req := require.New(t)
	signed, err := NewTokens("one_secret", time.Hour).Generate("u1")
	req.NoError(err)

	_, err = NewTokens("another_secret", time.Hour).Validate(signed)
	req.ErrorIs(err, herderrors.ErrInvalidToken)
}
