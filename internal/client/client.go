// Package client is the Go client library for the agent's IPC protocol.
// It mirrors the wire contract implemented by the other runtime SDKs:
// liveness probing, status, environment injection, and lock, over the
// agent's unix socket.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/lazylocker/lazylocker/internal/config"
)

// Errors returned by client operations.
var (
	// ErrAgentUnreachable means no agent is listening on the socket. The
	// caller can recover by starting the agent.
	ErrAgentUnreachable = errors.New("client: agent unreachable")

	// ErrSessionLocked means the agent is present but holds no active
	// session; secrets require a fresh unlock.
	ErrSessionLocked = errors.New("client: session locked")
)

// Status is the agent's lock state and remaining session lifetime.
type Status struct {
	Locked           bool   `json:"locked"`
	TTLRemainingSecs uint64 `json:"ttl_remaining_secs"`
}

// Client talks to a local agent over its unix socket.
type Client struct {
	httpClient *http.Client
}

// New returns a Client for the agent at socketPath. An empty socketPath
// resolves the well-known location, honoring LAZYLOCKER_SOCKET.
func New(socketPath string) (*Client, error) {
	if socketPath == "" {
		if env := os.Getenv(config.EnvSocket); env != "" {
			socketPath = env
		} else {
			var err error
			if socketPath, err = config.DefaultSocketPath(); err != nil {
				return nil, err
			}
		}
	}

	dialer := &net.Dialer{Timeout: 2 * time.Second}
	return &Client{
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
			Transport: &http.Transport{
				DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
					return dialer.DialContext(ctx, "unix", socketPath)
				},
			},
		},
	}, nil
}

// IsRunning reports whether an agent answers on the socket. It returns
// false, never an error, when the channel cannot be reached.
func (c *Client) IsRunning(ctx context.Context) bool {
	var body struct {
		Status string `json:"status"`
	}
	if err := c.get(ctx, "/v1/ping", &body); err != nil {
		return false
	}
	return body.Status == "ok"
}

// Status returns the agent's lock state and remaining TTL. A locked agent
// is a normal result; an absent agent is ErrAgentUnreachable.
func (c *Client) Status(ctx context.Context) (Status, error) {
	var st Status
	if err := c.get(ctx, "/v1/status", &st); err != nil {
		return Status{}, err
	}
	return st, nil
}

// InjectSecrets fetches the decrypted secrets and writes each key/value
// into this process's environment. It returns the number of variables
// injected. While locked it fails with ErrSessionLocked.
func (c *Client) InjectSecrets(ctx context.Context) (int, error) {
	var body struct {
		Secrets map[string]string `json:"secrets"`
		Count   int               `json:"count"`
	}
	if err := c.get(ctx, "/v1/secrets", &body); err != nil {
		return 0, err
	}
	for name, value := range body.Secrets {
		if err := os.Setenv(name, value); err != nil {
			return 0, fmt.Errorf("set %s: %w", name, err)
		}
	}
	return body.Count, nil
}

// Secrets fetches the decrypted secrets without touching the environment.
func (c *Client) Secrets(ctx context.Context) (map[string]string, error) {
	var body struct {
		Secrets map[string]string `json:"secrets"`
	}
	if err := c.get(ctx, "/v1/secrets", &body); err != nil {
		return nil, err
	}
	return body.Secrets, nil
}

// List returns the names of the secrets in the active session, without
// their values. While locked it fails with ErrSessionLocked.
func (c *Client) List(ctx context.Context) ([]string, error) {
	var body struct {
		Names []string `json:"names"`
	}
	if err := c.get(ctx, "/v1/list", &body); err != nil {
		return nil, err
	}
	return body.Names, nil
}

// Lock asks the agent to end the session immediately.
func (c *Client) Lock(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "http://lazylocker/v1/lock", nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrAgentUnreachable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("lock failed: %s", resp.Status)
	}
	return nil
}

// get performs a GET round trip and decodes the JSON response into out.
// Transport failures map to ErrAgentUnreachable; a 423 maps to
// ErrSessionLocked.
func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://lazylocker"+path, nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrAgentUnreachable, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
		return nil
	case http.StatusLocked:
		return ErrSessionLocked
	default:
		return fmt.Errorf("unexpected response: %s", resp.Status)
	}
}
