package main

import (
	"fmt"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/lazylocker/lazylocker/internal/config"
)

// readPassphrase obtains the vault passphrase. Priority: the
// LAZYLOCKER_PASSPHRASE environment variable (for scripting), then an
// interactive no-echo prompt. The caller should zeroize the returned
// bytes when done.
func readPassphrase(prompt string) ([]byte, error) {
	if env := os.Getenv(config.EnvPassphrase); env != "" {
		return []byte(env), nil
	}

	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return nil, fmt.Errorf("no terminal for passphrase prompt; set %s", config.EnvPassphrase)
	}

	fmt.Fprint(os.Stderr, prompt)
	pass, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("read passphrase: %w", err)
	}
	if len(pass) == 0 {
		return nil, fmt.Errorf("empty passphrase")
	}
	return pass, nil
}

// mask obscures a secret value for display, keeping the first three
// characters.
func mask(value string) string {
	if len(value) <= 3 {
		return "***"
	}
	return value[:3] + strings.Repeat("*", len(value)-3)
}
