package server_test

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/lazylocker/lazylocker/internal/client"
	"github.com/lazylocker/lazylocker/internal/server"
	"github.com/lazylocker/lazylocker/internal/session"
)

// startAgent runs a server over a fresh unix socket and returns a client
// for it. The server is torn down with the test.
func startAgent(t *testing.T, manager *session.Manager) *client.Client {
	t.Helper()

	socketPath := filepath.Join(t.TempDir(), "agent.sock")
	srv := server.New(socketPath, manager, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx) }()
	t.Cleanup(func() {
		cancel()
		require.NoError(t, <-done)
	})

	c, err := client.New(socketPath)
	require.NoError(t, err)

	// Wait for the listener to come up.
	deadline := time.Now().Add(2 * time.Second)
	for !c.IsRunning(context.Background()) {
		if time.Now().After(deadline) {
			t.Fatal("agent did not start listening")
		}
		time.Sleep(10 * time.Millisecond)
	}
	return c
}

func unlockedManager(t *testing.T, ttl time.Duration) *session.Manager {
	t.Helper()
	m := session.NewManager()
	m.Begin(map[string][]byte{
		"test":        []byte("abc123"),
		"DB_PASSWORD": []byte("s3cret"),
	}, ttl)
	t.Cleanup(m.Close)
	return m
}

// TestEndToEnd drives the full client scenario: unlock, status, inject,
// lock, then verify secrets are refused while liveness still answers.
func TestEndToEnd(t *testing.T) {
	ctx := context.Background()
	c := startAgent(t, unlockedManager(t, 3600*time.Second))

	assert.True(t, c.IsRunning(ctx))

	st, err := c.Status(ctx)
	require.NoError(t, err)
	assert.False(t, st.Locked)
	assert.InDelta(t, 3600, st.TTLRemainingSecs, 2)

	t.Setenv("test", "")
	t.Setenv("DB_PASSWORD", "")
	count, err := c.InjectSecrets(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
	assert.Equal(t, "abc123", os.Getenv("test"))
	assert.Equal(t, "s3cret", os.Getenv("DB_PASSWORD"))

	require.NoError(t, c.Lock(ctx))

	_, err = c.InjectSecrets(ctx)
	assert.ErrorIs(t, err, client.ErrSessionLocked)

	st, err = c.Status(ctx)
	require.NoError(t, err)
	assert.True(t, st.Locked)
	assert.Equal(t, uint64(0), st.TTLRemainingSecs)

	assert.True(t, c.IsRunning(ctx), "liveness must survive locking")
}

func TestStatus_LockedAgent(t *testing.T) {
	m := session.NewManager()
	c := startAgent(t, m)

	st, err := c.Status(context.Background())
	require.NoError(t, err)
	assert.True(t, st.Locked)
	assert.Equal(t, uint64(0), st.TTLRemainingSecs)
}

func TestInject_RepeatedReadsIdentical(t *testing.T) {
	ctx := context.Background()
	c := startAgent(t, unlockedManager(t, time.Hour))

	first, err := c.Secrets(ctx)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		again, err := c.Secrets(ctx)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestExpiry_SecretsRefusedAfterTTL(t *testing.T) {
	ctx := context.Background()
	c := startAgent(t, unlockedManager(t, 50*time.Millisecond))

	_, err := c.Secrets(ctx)
	require.NoError(t, err)

	deadline := time.Now().Add(2 * time.Second)
	for {
		st, err := c.Status(ctx)
		require.NoError(t, err)
		if st.Locked || time.Now().After(deadline) {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	_, err = c.Secrets(ctx)
	assert.ErrorIs(t, err, client.ErrSessionLocked)
	assert.True(t, c.IsRunning(ctx))
}

func TestConcurrentClients(t *testing.T) {
	ctx := context.Background()
	c := startAgent(t, unlockedManager(t, time.Hour))

	var wg sync.WaitGroup
	errs := make(chan error, 32)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			secrets, err := c.Secrets(ctx)
			if err != nil {
				errs <- err
				return
			}
			if secrets["test"] != "abc123" || secrets["DB_PASSWORD"] != "s3cret" {
				t.Errorf("inconsistent secrets: %v", secrets)
			}
		}()
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := c.Status(ctx); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("concurrent request failed: %v", err)
	}
}

func TestLock_VisibleToAllConnections(t *testing.T) {
	ctx := context.Background()
	c := startAgent(t, unlockedManager(t, time.Hour))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			// Reads may land before or after the lock; each must either
			// succeed fully or fail with the locked error, never tear.
			secrets, err := c.Secrets(ctx)
			if err != nil {
				assert.ErrorIs(t, err, client.ErrSessionLocked)
				return
			}
			assert.Len(t, secrets, 2)
		}()
	}
	require.NoError(t, c.Lock(ctx))
	wg.Wait()

	_, err := c.Secrets(ctx)
	assert.ErrorIs(t, err, client.ErrSessionLocked)
}

func TestList_NamesWithoutValues(t *testing.T) {
	ctx := context.Background()
	c := startAgent(t, unlockedManager(t, time.Hour))

	names, err := c.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"DB_PASSWORD", "test"}, names)
}

func TestList_LockedAgent(t *testing.T) {
	c := startAgent(t, session.NewManager())

	_, err := c.List(context.Background())
	assert.ErrorIs(t, err, client.ErrSessionLocked)
}

// TestStalledClientDropped opens a raw connection, sends nothing, and
// expects the server to close it once the read timeout elapses, so a
// misbehaving client cannot pin server resources.
func TestStalledClientDropped(t *testing.T) {
	socketPath := filepath.Join(t.TempDir(), "agent.sock")
	srv := server.NewWithTimeouts(socketPath, session.NewManager(), zap.NewNop(), server.Timeouts{
		Read: 100 * time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, err := os.Stat(socketPath); err == nil || time.Now().After(deadline) {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	conn, err := net.Dial("unix", socketPath)
	require.NoError(t, err)
	defer conn.Close()

	// Bound our own read so a server that never drops the connection
	// fails the test instead of hanging it.
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	_, err = conn.Read(make([]byte, 1))
	require.Error(t, err)
	assert.False(t, errors.Is(err, os.ErrDeadlineExceeded),
		"server did not drop the stalled connection within the read timeout")
}

func TestUnknownOperation(t *testing.T) {
	socketPath := filepath.Join(t.TempDir(), "agent.sock")
	srv := server.New(socketPath, session.NewManager(), zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	httpClient := &http.Client{
		Transport: &http.Transport{
			DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
				return (&net.Dialer{}).DialContext(ctx, "unix", socketPath)
			},
		},
	}
	var resp *http.Response
	var err error
	deadline := time.Now().Add(2 * time.Second)
	for {
		resp, err = httpClient.Get("http://lazylocker/v1/nonsense")
		if err == nil || time.Now().After(deadline) {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	// A malformed request must not stop the agent from serving others.
	resp2, err := httpClient.Get("http://lazylocker/v1/ping")
	require.NoError(t, err)
	defer resp2.Body.Close()
	assert.Equal(t, http.StatusOK, resp2.StatusCode)
}

func TestSocketPermissions(t *testing.T) {
	socketPath := filepath.Join(t.TempDir(), "agent.sock")
	srv := server.New(socketPath, session.NewManager(), zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	var info os.FileInfo
	var err error
	deadline := time.Now().Add(2 * time.Second)
	for {
		info, err = os.Stat(socketPath)
		if err == nil || time.Now().After(deadline) {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestShutdown_RemovesSocket(t *testing.T) {
	socketPath := filepath.Join(t.TempDir(), "agent.sock")
	srv := server.New(socketPath, session.NewManager(), zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, err := os.Stat(socketPath); err == nil || time.Now().After(deadline) {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	cancel()
	require.NoError(t, <-done)

	_, err := os.Stat(socketPath)
	assert.True(t, os.IsNotExist(err), "socket file should be removed on shutdown")
}
