package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/reliefgrid/coordinator/app"
	"github.com/reliefgrid/coordinator/config"
	"github.com/reliefgrid/coordinator/core/store"
	"github.com/reliefgrid/coordinator/jobs/usagekpi"
)

var (
	backfillSince string
	backfillUntil string
)

var usageCmd = &cobra.Command{
	Use:   "usage",
	Short: "Daily resource usage KPIs",
}

var backfillCmd = &cobra.Command{
	Use:   "backfill",
	Short: "Rebuild daily usage from the consumption history",
	RunE:  runBackfill,
}

func init() {
	backfillCmd.Flags().StringVar(&backfillSince, "since", "", "first day to backfill (YYYY-MM-DD)")
	backfillCmd.Flags().StringVar(&backfillUntil, "until", "", "day to stop before (YYYY-MM-DD), open if empty")
	_ = backfillCmd.MarkFlagRequired("since")
	usageCmd.AddCommand(backfillCmd)
	rootCmd.AddCommand(usageCmd)
}

func parseDay(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.ParseInLocation("2006-01-02", s, time.UTC)
}

func runBackfill(cmd *cobra.Command, args []string) error {
	since, err := parseDay(backfillSince)
	if err != nil {
		return fmt.Errorf("--since: %w", err)
	}
	until, err := parseDay(backfillUntil)
	if err != nil {
		return fmt.Errorf("--until: %w", err)
	}
	if !until.IsZero() && !until.After(since) {
		return errors.New("--until must be after --since")
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	svc, err := app.New(cfg, app.WithoutFeeds())
	if err != nil {
		return err
	}
	defer func() { _ = svc.Close() }()
	if svc.Usage() == nil {
		return errors.New("no usage sink configured")
	}

	recs, err := svc.Engine.Consumption(cmd.Context(), store.ConsumptionFilter{})
	if err != nil {
		return err
	}
	n, err := usagekpi.Backfill(svc.Usage(), recs, since, until)
	if err != nil {
		return fmt.Errorf("backfill: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "backfilled %d consumption records\n", n)
	return nil
}
