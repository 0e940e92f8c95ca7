package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func listenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "listen",
		Short: "Connect and keep local state in sync with realtime events",
		Long: `Open the realtime connection, subscribe to every live competition the
user created or joined, and reconcile local data on each event.
Notifications are printed as they arrive. Stop with Ctrl-C.`,
		Args: cobra.NoArgs,
		RunE: runListen,
	}
}

func runListen(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(cfg, logger, cmd.OutOrStdout())
	if err != nil {
		return err
	}

	logger.Info("arenasync running",
		"user_id", cfg.User.ID,
		"realtime_url", cfg.Realtime.URL,
		"health_addr", cfg.Health.Addr,
	)
	return a.run(ctx)
}
