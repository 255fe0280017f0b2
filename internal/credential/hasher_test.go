package credential

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestBcryptHasher(t *testing.T) {
	h := NewBcryptHasher(bcrypt.MinCost)

	hash, err := h.Hash("correct horse")
	require.NoError(t, err)
	assert.NotEqual(t, "correct horse", hash)

	assert.NoError(t, h.Compare(hash, "correct horse"))
	assert.ErrorIs(t, h.Compare(hash, "wrong"), ErrPasswordMismatch)
	assert.Error(t, h.Compare("not-a-hash", "x"))
}

func TestCredentialWithoutSecrets(t *testing.T) {
	c := Credential{PasswordHash: "h", RefreshTokenHash: "r", Roles: []string{RoleUser}}
	stripped := c.WithoutSecrets()
	assert.Empty(t, stripped.PasswordHash)
	assert.Empty(t, stripped.RefreshTokenHash)
	assert.True(t, stripped.HasRole(RoleUser))
	assert.False(t, stripped.HasRole(RoleAdmin))

	stripped.Roles[0] = "changed"
	assert.Equal(t, RoleUser, c.Roles[0])
}
