package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/lazylocker/lazylocker/internal/config"
	"github.com/lazylocker/lazylocker/internal/secmem"
	"github.com/lazylocker/lazylocker/internal/vault"
)

var (
	initForce  bool
	addStdin   bool
	getJSON    bool
	exportJSON bool
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a new empty vault",
	RunE:  runInit,
}

var addCmd = &cobra.Command{
	Use:   "add <name> [value]",
	Short: "Add or replace a secret in the vault",
	Args:  cobra.RangeArgs(1, 2),
	RunE:  runAdd,
}

var getCmd = &cobra.Command{
	Use:   "get <name>",
	Short: "Print a secret value from the vault",
	Args:  cobra.ExactArgs(1),
	RunE:  runGet,
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List secret names in the vault (never values)",
	RunE:  runList,
}

var removeCmd = &cobra.Command{
	Use:   "remove <name>",
	Short: "Remove a secret from the vault",
	Args:  cobra.ExactArgs(1),
	RunE:  runRemove,
}

var importCmd = &cobra.Command{
	Use:   "import <file.env>",
	Short: "Import secrets from a dotenv file",
	Args:  cobra.ExactArgs(1),
	RunE:  runImport,
}

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export all secrets in dotenv form to stdout",
	RunE:  runExport,
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "overwrite an existing vault")
	addCmd.Flags().BoolVar(&addStdin, "stdin", false, "read the value from stdin")
	getCmd.Flags().BoolVar(&getJSON, "json", false, "print as JSON")
	exportCmd.Flags().BoolVar(&exportJSON, "json", false, "export as JSON instead of dotenv")
}

func runInit(cmd *cobra.Command, _ []string) error {
	opts, err := config.Load("")
	if err != nil {
		return err
	}

	if _, err := os.Stat(opts.VaultPath); err == nil && !initForce {
		return fmt.Errorf("vault already exists at %s; use --force to overwrite", opts.VaultPath)
	}

	pass, err := readPassphrase("New vault passphrase: ")
	if err != nil {
		return err
	}
	defer secmem.Zero(pass)

	if err := vault.Seal(opts.VaultPath, map[string][]byte{}, pass, vault.DefaultParams); err != nil {
		return err
	}
	fmt.Printf("Vault initialized at %s\n", opts.VaultPath)
	return nil
}

func runAdd(cmd *cobra.Command, args []string) error {
	name := args[0]

	var value []byte
	switch {
	case addStdin:
		raw, err := io.ReadAll(os.Stdin)
		if err != nil {
			return fmt.Errorf("read value from stdin: %w", err)
		}
		value = []byte(strings.TrimRight(string(raw), "\r\n"))
	case len(args) == 2:
		value = []byte(args[1])
	default:
		return errors.New("value required: pass it as an argument or use --stdin")
	}
	defer secmem.Zero(value)

	return withVault(func(secrets map[string][]byte) error {
		copied := make([]byte, len(value))
		copy(copied, value)
		secrets[name] = copied
		fmt.Printf("Secret %q added\n", name)
		return nil
	}, true)
}

func runGet(cmd *cobra.Command, args []string) error {
	name := args[0]
	return withVault(func(secrets map[string][]byte) error {
		value, ok := secrets[name]
		if !ok {
			return fmt.Errorf("secret %q not found", name)
		}
		if getJSON {
			return json.NewEncoder(os.Stdout).Encode(map[string]string{
				"name":  name,
				"value": string(value),
			})
		}
		fmt.Println(string(value))
		return nil
	}, false)
}

func runList(cmd *cobra.Command, _ []string) error {
	return withVault(func(secrets map[string][]byte) error {
		names := make([]string, 0, len(secrets))
		for name := range secrets {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Println(name)
		}
		return nil
	}, false)
}

func runRemove(cmd *cobra.Command, args []string) error {
	name := args[0]
	return withVault(func(secrets map[string][]byte) error {
		if _, ok := secrets[name]; !ok {
			return fmt.Errorf("secret %q not found", name)
		}
		secmem.Zero(secrets[name])
		delete(secrets, name)
		fmt.Printf("Secret %q removed\n", name)
		return nil
	}, true)
}

func runImport(cmd *cobra.Command, args []string) error {
	imported, err := godotenv.Read(args[0])
	if err != nil {
		return fmt.Errorf("read dotenv file: %w", err)
	}
	if len(imported) == 0 {
		return fmt.Errorf("no variables found in %s", args[0])
	}

	return withVault(func(secrets map[string][]byte) error {
		for name, value := range imported {
			secrets[name] = []byte(value)
		}
		fmt.Printf("Imported %d secrets\n", len(imported))
		return nil
	}, true)
}

func runExport(cmd *cobra.Command, _ []string) error {
	return withVault(func(secrets map[string][]byte) error {
		out, err := formatExport(secrets, exportJSON)
		if err != nil {
			return err
		}
		fmt.Print(out)
		return nil
	}, false)
}

// formatExport renders the secret mapping as dotenv lines or a JSON
// object, both newline-terminated.
func formatExport(secrets map[string][]byte, asJSON bool) (string, error) {
	plain := make(map[string]string, len(secrets))
	for name, value := range secrets {
		plain[name] = string(value)
	}

	if asJSON {
		data, err := json.MarshalIndent(plain, "", "  ")
		if err != nil {
			return "", fmt.Errorf("encode export: %w", err)
		}
		return string(data) + "\n", nil
	}

	out, err := godotenv.Marshal(plain)
	if err != nil {
		return "", fmt.Errorf("encode export: %w", err)
	}
	return out + "\n", nil
}

// withVault opens the vault with a prompted passphrase, runs fn on the
// decrypted mapping, and reseals the vault afterwards when mutate is
// set. The mapping is zeroized before return on every path.
func withVault(fn func(secrets map[string][]byte) error, mutate bool) error {
	opts, err := config.Load("")
	if err != nil {
		return err
	}

	pass, err := readPassphrase("Vault passphrase: ")
	if err != nil {
		return err
	}
	defer secmem.Zero(pass)

	secrets, err := vault.Open(opts.VaultPath, pass)
	if err != nil {
		return err
	}
	defer secmem.ZeroMap(secrets)

	if err := fn(secrets); err != nil {
		return err
	}
	if mutate {
		return vault.Seal(opts.VaultPath, secrets, pass, vault.DefaultParams)
	}
	return nil
}
