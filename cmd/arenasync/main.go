// Command arenasync runs the arena realtime sync client.
//
//	arenasync listen               connect, keep subscriptions current, print notifications
//	arenasync deposit --amount N   start a mobile-money deposit and wait for confirmation
//	arenasync payments             list recorded payment attempts
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/rickgao/arena-sync/internal/config"
	"github.com/rickgao/arena-sync/internal/version"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "arenasync",
		Short:         "Realtime sync client for the competition arena",
		Version:       version.String(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringP("config", "c", "configs/arenasync.yaml", "path to config file")

	root.AddCommand(listenCmd())
	root.AddCommand(depositCmd())
	root.AddCommand(paymentsCmd())

	return root
}

// loadConfig loads the file named by --config and installs the logger.
func loadConfig(cmd *cobra.Command) (*config.Config, *slog.Logger, error) {
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, nil, err
	}

	cfg, err := config.LoadAndValidate(path)
	if err != nil {
		return nil, nil, fmt.Errorf("load config %s: %w", path, err)
	}

	logger, err := newLogger(cfg.Logging, cmd.ErrOrStderr())
	if err != nil {
		return nil, nil, err
	}
	slog.SetDefault(logger)

	logger.Info("starting arenasync",
		"command", cmd.Name(),
		"version", version.Version,
		"commit", version.Commit,
		"config", path,
	)
	return cfg, logger, nil
}
