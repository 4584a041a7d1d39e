// ABOUTME: Tests for API key sealing
// ABOUTME: Covers plaintext passthrough, tamper detection and key mismatch

package store

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCredentialSealer_SealOpen(t *testing.T) {
	sealer, err := NewCredentialSealer("passphrase")
	require.NoError(t, err)

	sealed, err := sealer.Seal("sk-live-123")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(sealed, sealedPrefix))

	again, err := sealer.Seal("sk-live-123")
	require.NoError(t, err)
	assert.NotEqual(t, sealed, again, "nonces must differ between seals")

	opened, err := sealer.Open(sealed)
	require.NoError(t, err)
	assert.Equal(t, "sk-live-123", opened)
}

func TestCredentialSealer_PlaintextPassthrough(t *testing.T) {
	sealer, err := NewCredentialSealer("passphrase")
	require.NoError(t, err)

	opened, err := sealer.Open("legacy-plaintext")
	require.NoError(t, err)
	assert.Equal(t, "legacy-plaintext", opened)

	var none *CredentialSealer
	sealed, err := none.Seal("sk")
	require.NoError(t, err)
	assert.Equal(t, "sk", sealed)
}

func TestCredentialSealer_WrongKey(t *testing.T) {
	a, err := NewCredentialSealer("first")
	require.NoError(t, err)
	b, err := NewCredentialSealer("second")
	require.NoError(t, err)

	sealed, err := a.Seal("sk")
	require.NoError(t, err)

	_, err = b.Open(sealed)
	assert.ErrorIs(t, err, ErrCredentialTampered)

	var none *CredentialSealer
	_, err = none.Open(sealed)
	assert.Error(t, err)
}

func TestNewCredentialSealer_EmptyPassphrase(t *testing.T) {
	_, err := NewCredentialSealer("")
	assert.Error(t, err)
}
