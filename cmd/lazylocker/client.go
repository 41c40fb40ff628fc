package main

import (
	"errors"
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/lazylocker/lazylocker/internal/client"
)

var clientSocket string

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show agent lock state and remaining session time",
	RunE:  runStatus,
}

var injectCmd = &cobra.Command{
	Use:   "inject",
	Short: "Inject secrets into the environment and print them masked",
	RunE:  runInject,
}

var lockCmd = &cobra.Command{
	Use:   "lock",
	Short: "Lock the running agent's session immediately",
	RunE:  runLock,
}

var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Check whether an agent is running",
	RunE:  runPing,
}

func init() {
	for _, cmd := range []*cobra.Command{statusCmd, injectCmd, lockCmd, pingCmd} {
		cmd.Flags().StringVar(&clientSocket, "socket", "", "unix socket path override")
	}
}

func runStatus(cmd *cobra.Command, _ []string) error {
	c, err := client.New(clientSocket)
	if err != nil {
		return err
	}
	st, err := c.Status(cmd.Context())
	if err != nil {
		if errors.Is(err, client.ErrAgentUnreachable) {
			return fmt.Errorf("agent not running; start it with 'lazylocker agent'")
		}
		return err
	}
	if st.Locked {
		fmt.Println("Agent running, session locked")
		return nil
	}
	hours := st.TTLRemainingSecs / 3600
	mins := st.TTLRemainingSecs % 3600 / 60
	fmt.Printf("Agent running, unlocked (TTL: %dh %dm)\n", hours, mins)
	return nil
}

func runInject(cmd *cobra.Command, _ []string) error {
	c, err := client.New(clientSocket)
	if err != nil {
		return err
	}
	count, err := c.InjectSecrets(cmd.Context())
	if err != nil {
		switch {
		case errors.Is(err, client.ErrSessionLocked):
			return fmt.Errorf("session locked; restart the agent to unlock")
		case errors.Is(err, client.ErrAgentUnreachable):
			return fmt.Errorf("agent not running; start it with 'lazylocker agent'")
		}
		return err
	}
	fmt.Printf("%d secrets injected\n", count)

	secrets, err := c.Secrets(cmd.Context())
	if err != nil {
		return err
	}
	names := make([]string, 0, len(secrets))
	for name := range secrets {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Printf("  %s = %s\n", name, mask(os.Getenv(name)))
	}
	return nil
}

func runLock(cmd *cobra.Command, _ []string) error {
	c, err := client.New(clientSocket)
	if err != nil {
		return err
	}
	if err := c.Lock(cmd.Context()); err != nil {
		if errors.Is(err, client.ErrAgentUnreachable) {
			return fmt.Errorf("agent not running")
		}
		return err
	}
	fmt.Println("Session locked")
	return nil
}

func runPing(cmd *cobra.Command, _ []string) error {
	c, err := client.New(clientSocket)
	if err != nil {
		return err
	}
	if !c.IsRunning(cmd.Context()) {
		return fmt.Errorf("agent not running")
	}
	fmt.Println("Agent running")
	return nil
}
