package main

import (
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/lazylocker/lazylocker/internal/config"
	"github.com/lazylocker/lazylocker/internal/logger"
	"github.com/lazylocker/lazylocker/internal/secmem"
	"github.com/lazylocker/lazylocker/internal/server"
	"github.com/lazylocker/lazylocker/internal/session"
	"github.com/lazylocker/lazylocker/internal/vault"
)

var (
	agentConfigPath string
	agentTTL        time.Duration
	agentSocket     string
	agentVault      string
)

var agentCmd = &cobra.Command{
	Use:   "agent",
	Short: "Unlock the vault and serve secrets to local processes",
	Long: `Unlock the vault with a passphrase and serve the decrypted secrets
over a unix socket until the session TTL elapses, the session is locked,
or the process receives SIGINT/SIGTERM. Secrets exist only in memory and
are zeroized on every exit path.`,
	RunE: runAgent,
}

func init() {
	agentCmd.Flags().StringVar(&agentConfigPath, "config", "", "path to JSON config file")
	agentCmd.Flags().DurationVar(&agentTTL, "ttl", 0, "session TTL (default 8h)")
	agentCmd.Flags().StringVar(&agentSocket, "socket", "", "unix socket path override")
	agentCmd.Flags().StringVar(&agentVault, "vault", "", "vault file path override")
}

func runAgent(cmd *cobra.Command, _ []string) error {
	opts, err := config.Load(agentConfigPath)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("ttl") {
		opts.TTL = agentTTL
	}
	if agentSocket != "" {
		opts.SocketPath = agentSocket
	}
	if agentVault != "" {
		opts.VaultPath = agentVault
	}

	log := logger.New()
	if err := log.Init(opts.LogLevel); err != nil {
		return err
	}
	defer func() { _ = log.Log.Sync() }()

	pass, err := readPassphrase("Vault passphrase: ")
	if err != nil {
		return err
	}

	secrets, err := vault.Open(opts.VaultPath, pass)
	secmem.Zero(pass)
	if err != nil {
		return err
	}

	count := len(secrets)
	manager := session.NewManager()
	manager.Begin(secrets, opts.TTL)
	defer manager.Close()

	log.Log.Info("session unlocked",
		zap.Int("secrets", count),
		zap.Duration("ttl", opts.TTL),
	)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := server.New(opts.SocketPath, manager, log.Log)
	return srv.Serve(ctx)
}
