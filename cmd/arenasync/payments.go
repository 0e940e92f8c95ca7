package main

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/rickgao/arena-sync/internal/paymentlog"
)

var amountPrinter = message.NewPrinter(language.English)

func paymentsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "payments",
		Short: "List recorded payment attempts, newest first",
		Args:  cobra.NoArgs,
		RunE:  runPayments,
	}

	cmd.Flags().IntP("limit", "n", 20, "maximum rows")
	return cmd
}

func runPayments(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	limit, _ := cmd.Flags().GetInt("limit")

	log, err := paymentlog.Open(cmd.Context(), cfg.PaymentLog, logger)
	if errors.Is(err, paymentlog.ErrDisabled) {
		return errors.New("payment log is disabled (payment_log.driver: none)")
	}
	if err != nil {
		return fmt.Errorf("open payment log: %w", err)
	}
	defer log.Close()

	entries, err := log.Recent(cmd.Context(), limit)
	if err != nil {
		return err
	}

	return printEntries(cmd.OutOrStdout(), entries, cfg.Reconciler.Currency)
}

func printEntries(w io.Writer, entries []paymentlog.Entry, currency string) error {
	if len(entries) == 0 {
		_, err := fmt.Fprintln(w, "No payments recorded.")
		return err
	}

	table := tablewriter.NewWriter(w)
	table.Header("Started", "Purpose", "Amount", "Phone", "Status", "Checks", "Checkout")
	for _, e := range entries {
		if err := table.Append(
			e.StartedAt.Local().Format(time.DateTime),
			e.Purpose,
			formatAmount(currency, e.Amount),
			e.Phone,
			string(e.Status),
			strconv.Itoa(e.Attempts),
			e.CheckoutID,
		); err != nil {
			return err
		}
	}
	return table.Render()
}
