// Lazylocker — local secrets agent.
//
// A single binary covering vault management (init, add, get, list,
// remove, import), the agent daemon, and client operations against a
// running agent (status, inject, lock, ping).
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// version and buildDate are set via ldflags.
	version   string
	buildDate string
)

var rootCmd = &cobra.Command{
	Use:   "lazylocker",
	Short: "Local secrets agent: unlock once, inject everywhere.",
	Long: `Lazylocker keeps an encrypted vault of secrets on disk, unlocks it
once with a passphrase, and serves the decrypted values to local
processes over a unix socket for a bounded time.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.AddCommand(
		initCmd, addCmd, getCmd, listCmd, removeCmd, importCmd, exportCmd,
		agentCmd,
		statusCmd, injectCmd, lockCmd, pingCmd,
		versionCmd,
	)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print build version",
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Printf("Build version: %s\n", orNA(version))
		fmt.Printf("Build date: %s\n", orNA(buildDate))
	},
}

func orNA(s string) string {
	if s == "" {
		return "N/A"
	}
	return s
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
