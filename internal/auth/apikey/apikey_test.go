package apikey

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate(t *testing.T) {
	v := NewValidator([]string{"first-key", "", "second-key"})
	ctx := context.Background()

	assert.True(t, v.Enabled())

	info, err := v.Validate(ctx, "second-key")
	require.NoError(t, err)
	assert.Equal(t, "admin-2", info.Name)
	assert.Equal(t, HashKey("second-key")[:8], info.ID)

	_, err = v.Validate(ctx, "second-key ")
	assert.ErrorIs(t, err, ErrInvalidKey)
	_, err = v.Validate(ctx, "")
	assert.ErrorIs(t, err, ErrInvalidKey)
}

func TestAuthenticateReturnsKeyID(t *testing.T) {
	v := NewValidator([]string{"first-key"})

	id, err := v.Authenticate(context.Background(), "first-key")

	require.NoError(t, err)
	assert.Len(t, id, 8)
}

func TestNoKeysConfigured(t *testing.T) {
	v := NewValidator(nil)

	assert.False(t, v.Enabled())
	_, err := v.Validate(context.Background(), "anything")
	assert.ErrorIs(t, err, ErrInvalidKey)
}

func TestGenerateKey(t *testing.T) {
	a, err := GenerateKey()
	require.NoError(t, err)
	b, err := GenerateKey()
	require.NoError(t, err)

	assert.Len(t, a, 64)
	assert.NotEqual(t, a, b)
	assert.Len(t, HashKey(a), 64)
}
