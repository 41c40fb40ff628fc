// Package config provides configuration options for the agent and CLI,
// resolved from defaults, an optional JSON config file, and environment
// variables.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Environment variables recognized by the agent and CLI. They override
// both built-in defaults and the config file.
const (
	// EnvSocket overrides the agent socket path; client libraries in
	// other runtimes honor the same variable for discovery.
	EnvSocket = "LAZYLOCKER_SOCKET"
	// EnvVault overrides the vault file path.
	EnvVault = "LAZYLOCKER_VAULT"
	// EnvTTL overrides the session TTL (Go duration syntax, e.g. "8h").
	EnvTTL = "LAZYLOCKER_TTL"
	// EnvPassphrase supplies the passphrase non-interactively, for
	// scripting and CI. Prefer the interactive prompt elsewhere.
	EnvPassphrase = "LAZYLOCKER_PASSPHRASE"
)

// DefaultTTL is the session lifetime when none is configured.
const DefaultTTL = 8 * time.Hour

// Options holds the resolved configuration values.
type Options struct {
	// SocketPath is the unix socket the agent listens on.
	SocketPath string `json:"socket_path"`

	// VaultPath is the encrypted vault file.
	VaultPath string `json:"vault_path"`

	// TTL is the session time-to-live after a successful unlock.
	TTL time.Duration `json:"-"`

	// TTLString is the config-file form of TTL (Go duration syntax).
	TTLString string `json:"ttl"`

	// LogLevel is the zap log level name.
	LogLevel string `json:"log_level"`
}

// baseDir returns the lazylocker state directory, creating nothing.
func baseDir() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("determine user config directory: %w", err)
	}
	return filepath.Join(dir, ".lazylocker"), nil
}

// DefaultSocketPath returns the well-known agent socket path.
func DefaultSocketPath() (string, error) {
	dir, err := baseDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "agent.sock"), nil
}

// DefaultVaultPath returns the well-known vault file path.
func DefaultVaultPath() (string, error) {
	dir, err := baseDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "vault.llv"), nil
}

// Load resolves options in increasing precedence: built-in defaults, the
// JSON config file at configPath (ignored if absent or configPath is
// empty), then environment variables.
func Load(configPath string) (*Options, error) {
	opts := &Options{
		TTL:      DefaultTTL,
		LogLevel: "info",
	}

	var err error
	if opts.SocketPath, err = DefaultSocketPath(); err != nil {
		return nil, err
	}
	if opts.VaultPath, err = DefaultVaultPath(); err != nil {
		return nil, err
	}

	if configPath != "" {
		data, err := os.ReadFile(configPath)
		switch {
		case errors.Is(err, os.ErrNotExist):
			// Config file is optional.
		case err != nil:
			return nil, fmt.Errorf("read config file: %w", err)
		default:
			if err := json.Unmarshal(data, opts); err != nil {
				return nil, fmt.Errorf("parse config file %s: %w", configPath, err)
			}
			if opts.TTLString != "" {
				if opts.TTL, err = time.ParseDuration(opts.TTLString); err != nil {
					return nil, fmt.Errorf("parse ttl in config file: %w", err)
				}
			}
		}
	}

	if v := os.Getenv(EnvSocket); v != "" {
		opts.SocketPath = v
	}
	if v := os.Getenv(EnvVault); v != "" {
		opts.VaultPath = v
	}
	if v := os.Getenv(EnvTTL); v != "" {
		ttl, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", EnvTTL, err)
		}
		opts.TTL = ttl
	}

	return opts, nil
}
