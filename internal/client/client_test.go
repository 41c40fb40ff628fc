package client_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lazylocker/lazylocker/internal/client"
	"github.com/lazylocker/lazylocker/internal/config"
)

// absentSocket returns a path no agent listens on.
func absentSocket(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "agent.sock")
}

func TestIsRunning_NoAgent(t *testing.T) {
	c, err := client.New(absentSocket(t))
	require.NoError(t, err)

	// Unreachable is a false, not an error.
	assert.False(t, c.IsRunning(context.Background()))
}

func TestStatus_NoAgent(t *testing.T) {
	c, err := client.New(absentSocket(t))
	require.NoError(t, err)

	_, err = c.Status(context.Background())
	assert.ErrorIs(t, err, client.ErrAgentUnreachable)
	assert.NotErrorIs(t, err, client.ErrSessionLocked)
}

func TestInjectSecrets_NoAgent(t *testing.T) {
	c, err := client.New(absentSocket(t))
	require.NoError(t, err)

	count, err := c.InjectSecrets(context.Background())
	assert.ErrorIs(t, err, client.ErrAgentUnreachable)
	assert.Zero(t, count)
}

func TestLock_NoAgent(t *testing.T) {
	c, err := client.New(absentSocket(t))
	require.NoError(t, err)

	err = c.Lock(context.Background())
	assert.ErrorIs(t, err, client.ErrAgentUnreachable)
}

func TestNew_SocketDiscoveryFromEnv(t *testing.T) {
	override := filepath.Join(t.TempDir(), "custom.sock")
	t.Setenv(config.EnvSocket, override)

	c, err := client.New("")
	require.NoError(t, err)
	// No agent on the override path either; the point is that resolution
	// succeeds and targets the env-provided socket.
	assert.False(t, c.IsRunning(context.Background()))
}
