package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/rickgao/arena-sync/internal/api"
	"github.com/rickgao/arena-sync/internal/config"
	"github.com/rickgao/arena-sync/internal/payment"
	"github.com/rickgao/arena-sync/internal/paymentlog"
)

func depositCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "deposit",
		Short: "Start a mobile-money payment and wait for confirmation",
		Long: `Send a payment prompt to the phone and poll until the provider reports a
final status. With --competition the payment is a competition entry fee,
polled on the join cadence with an attempt cap.`,
		Args: cobra.NoArgs,
		RunE: runDeposit,
	}

	cmd.Flags().Int64P("amount", "a", 0, "amount in minor units (required)")
	cmd.Flags().StringP("phone", "p", "", "payer phone number (default: payment.phone)")
	cmd.Flags().String("competition", "", "competition id to pay the entry fee for")
	cmd.Flags().String("key", "", "idempotency key (default: random)")
	cmd.MarkFlagRequired("amount")

	return cmd
}

func runDeposit(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	amount, _ := cmd.Flags().GetInt64("amount")
	phone, _ := cmd.Flags().GetString("phone")
	competition, _ := cmd.Flags().GetString("competition")
	key, _ := cmd.Flags().GetString("key")

	if phone == "" {
		phone = cfg.Payment.Phone
	}
	if amount <= 0 {
		return errors.New("--amount must be positive")
	}
	if phone == "" {
		return errors.New("--phone is required when payment.phone is not set")
	}
	if key == "" {
		key = uuid.NewString()
	}

	req := payment.Request{
		Amount:         amount,
		Phone:          phone,
		Purpose:        payment.PurposeDeposit,
		IdempotencyKey: key,
	}
	if competition != "" {
		req.Purpose = payment.PurposeJoin
		req.CompetitionID = competition
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return confirmPayment(ctx, cfg, logger, req, cmd.OutOrStdout())
}

// confirmPayment runs one poller to a terminal status. It returns an error
// unless the payment completed.
func confirmPayment(ctx context.Context, cfg *config.Config, logger *slog.Logger, req payment.Request, out io.Writer) error {
	client := newAPIClient(cfg, logger)

	opts := []payment.Option{
		payment.WithBalanceRefresher(payment.BalanceRefresherFunc(func(ctx context.Context) error {
			balance, err := client.GetBalance(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "New balance: %s\n", formatAmount(balance.Currency, balance.Amount))
			return nil
		})),
	}

	log, err := paymentlog.Open(ctx, cfg.PaymentLog, logger)
	switch {
	case errors.Is(err, paymentlog.ErrDisabled):
	case err != nil:
		return fmt.Errorf("open payment log: %w", err)
	default:
		defer log.Close()
		opts = append(opts, payment.WithRecorder(log))
	}

	p := payment.New(pollConfig(cfg, req.Purpose), api.NewGateway(client), logger, opts...)

	fmt.Fprintf(out, "Requesting %s from %s...\n",
		formatAmount(cfg.Reconciler.Currency, req.Amount), paymentlog.MaskPhone(req.Phone))

	if err := p.Start(ctx, req); err != nil {
		fmt.Fprintln(out, p.Snapshot().Message)
		return err
	}
	fmt.Fprintln(out, p.Snapshot().Message)

	select {
	case <-p.Done():
	case <-ctx.Done():
		stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := p.Stop(stopCtx); err != nil {
			logger.Warn("payment poller stop incomplete", "error", err)
		}
		return fmt.Errorf("payment %s abandoned: %w", p.Snapshot().CheckoutID, ctx.Err())
	}

	conf := p.Snapshot()
	fmt.Fprintln(out, conf.Message)
	if conf.Status != payment.StatusCompleted {
		return fmt.Errorf("payment %s ended %s after %d checks", conf.CheckoutID, conf.Status, conf.Attempts)
	}
	return nil
}

func pollConfig(cfg *config.Config, purpose payment.Purpose) payment.Config {
	poll := cfg.Payment.Deposit
	if purpose == payment.PurposeJoin {
		poll = cfg.Payment.Join
	}
	return payment.Config{
		Interval:     poll.Interval,
		MaxAttempts:  poll.MaxAttempts,
		QueryTimeout: cfg.Payment.QueryTimeout,
	}
}

// formatAmount renders minor units as "KES 1,250.00".
func formatAmount(currency string, minor int64) string {
	return fmt.Sprintf("%s %s", currency, amountPrinter.Sprintf("%.2f", float64(minor)/100))
}
