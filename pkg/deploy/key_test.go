package deploy

import (
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeySpecGroupReturnsGroupNotUser(t *testing.T) {
	// Regression test for the accessor bug called out in spec.md §9: the
	// original implementation's group() returned the user field.
	k, err := NewTextKey("secret", "/run/keys", "alice", "0400", WithGroup("keys"))
	require.NoError(t, err)
	assert.Equal(t, "alice", k.User())
	assert.Equal(t, "keys", k.Group())
}

func TestKeySpecGroupDefaultsToUser(t *testing.T) {
	k, err := NewTextKey("secret", "/run/keys", "alice", "0400")
	require.NoError(t, err)
	assert.Equal(t, "alice", k.Group())
}

func TestKeySpecRejectsRelativeDestDir(t *testing.T) {
	_, err := NewTextKey("secret", "run/keys", "alice", "0400")
	require.Error(t, err)
}

func TestKeySpecRejectsInvalidUnixName(t *testing.T) {
	_, err := NewTextKey("secret", "/run/keys", "Alice", "0400")
	require.Error(t, err)
}

func TestKeySpecRejectsEmptyCommand(t *testing.T) {
	_, err := NewCommandKey(nil, "/run/keys", "alice", "0400")
	require.Error(t, err)
}

func TestKeySpecTextReader(t *testing.T) {
	k, err := NewTextKey("hunter2", "/run/keys", "alice", "0400")
	require.NoError(t, err)

	r, err := k.Reader(context.Background())
	require.NoError(t, err)
	defer r.Close()

	data, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "hunter2", string(data))
}

func TestKeySpecDefaultUploadTimeIsPreActivation(t *testing.T) {
	k, err := NewTextKey("x", "/run/keys", "alice", "0400")
	require.NoError(t, err)
	assert.Equal(t, PreActivation, k.UploadAt())
}

func TestKeySpecPostActivationOption(t *testing.T) {
	k, err := NewTextKey("x", "/run/keys", "alice", "0400", WithPostActivation())
	require.NoError(t, err)
	assert.Equal(t, PostActivation, k.UploadAt())
}
