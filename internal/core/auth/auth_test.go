package auth

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileStoreRoundTrip(t *testing.T) {
	t.Parallel()

	store := NewFileStore(filepath.Join(t.TempDir(), "sub", "creds.json"))

	creds := Credentials{
		Email:     "me@example.com",
		UniqueID:  "0b6a9f2e-1111-2222-3333-444455556666",
		DeviceID:  DefaultDeviceName,
		Token:     "tok",
		AccountID: 1234,
		ClientID:  5678,
		Tier:      "u011",
		Host:      "rest-u011.immedia-semi.com",
	}
	require.NoError(t, store.Save(creds))

	got, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, creds, got)
	assert.True(t, got.LoggedIn())
}

func TestFileStoreMissingFile(t *testing.T) {
	t.Parallel()

	store := NewFileStore(filepath.Join(t.TempDir(), "creds.json"))

	got, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, Credentials{}, got)
	assert.False(t, got.LoggedIn())
}

func TestBootstrapKeepsUniqueID(t *testing.T) {
	t.Parallel()

	var creds Credentials
	creds.Bootstrap("me@example.com")

	require.NotEmpty(t, creds.UniqueID)
	assert.Equal(t, DefaultDeviceName, creds.DeviceID)

	id := creds.UniqueID
	creds.Token = "tok"
	creds.AccountID = 1

	// same account: session and identity survive
	creds.Bootstrap("me@example.com")
	assert.Equal(t, id, creds.UniqueID)
	assert.Equal(t, "tok", creds.Token)

	// account change: session dropped, identity kept
	creds.Bootstrap("other@example.com")
	assert.Equal(t, id, creds.UniqueID)
	assert.Empty(t, creds.Token)
	assert.Zero(t, creds.AccountID)
	assert.Equal(t, "other@example.com", creds.Email)
}
