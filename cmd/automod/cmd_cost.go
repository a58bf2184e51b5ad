package main

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/coinstax/reddit-ai-automod-sub000/internal/cost"
	"github.com/coinstax/reddit-ai-automod-sub000/internal/kvstore"
)

var (
	reportDays   int
	dailyLimit   float64
	monthlyLimit float64
	cacheVersion string
)

var costCmd = &cobra.Command{
	Use:   "cost",
	Short: "Inspect and manage AI spending",
}

// costTracker connects to the configured redis and builds a tracker for
// offline inspection. Alerts stay disabled here.
func costTracker(ctx context.Context) (*cost.Tracker, func(), error) {
	store, err := kvstore.NewRedisStore(ctx, kvstore.RedisConfig{Addr: redisAddr})
	if err != nil {
		return nil, nil, fmt.Errorf("connect redis: %w", err)
	}
	tracker := cost.NewTracker(store, kvstore.NewKeyspace(cacheVersion), cost.Config{
		DailyLimitUSD:   dailyLimit,
		MonthlyLimitUSD: monthlyLimit,
	}, nil)
	return tracker, func() { _ = store.Close() }, nil
}

var costReportCmd = &cobra.Command{
	Use:   "report",
	Short: "Print a spending report over a trailing window of days",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
		defer cancel()

		tracker, closeFn, err := costTracker(ctx)
		if err != nil {
			return err
		}
		defer closeFn()

		report, err := tracker.Report(ctx, reportDays)
		if err != nil {
			return fmt.Errorf("build report: %w", err)
		}

		fmt.Printf("%-12s %10s %10s  %s\n", "DATE", "TOTAL", "REQUESTS", "BY PROVIDER")
		for _, day := range report.Days {
			providers := make([]string, 0, len(day.ByProvider))
			for p := range day.ByProvider {
				providers = append(providers, p)
			}
			sort.Strings(providers)
			parts := make([]string, 0, len(providers))
			for _, p := range providers {
				parts = append(parts, fmt.Sprintf("%s=$%.2f", p, day.ByProvider[p]))
			}
			fmt.Printf("%-12s %9.2f$ %10d  %s\n",
				day.Date, day.TotalUSD, day.RequestsEst, strings.Join(parts, " "))
		}
		fmt.Printf("\nTotal: $%.2f over %d days\n", report.TotalUSD, len(report.Days))

		status, err := tracker.Status(ctx)
		if err != nil {
			return fmt.Errorf("read status: %w", err)
		}
		if status.DailyLimitUSD > 0 {
			fmt.Printf("Today: $%.2f of $%.2f (%.0f%%)\n",
				status.DailySpentUSD, status.DailyLimitUSD, status.PercentUsed)
		}
		return nil
	},
}

var costResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Archive yesterday's counters and clear them",
	Long: `Performs the daily counter rollover by hand. Normally the digest job
does this; the command exists for recovery after a missed run. Idempotent.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
		defer cancel()

		tracker, closeFn, err := costTracker(ctx)
		if err != nil {
			return err
		}
		defer closeFn()

		if err := tracker.ResetDaily(ctx); err != nil {
			return fmt.Errorf("reset daily counters: %w", err)
		}
		fmt.Println("daily counters rolled over")
		return nil
	},
}

func init() {
	costReportCmd.Flags().IntVar(&reportDays, "days", 7, "report window in days (max 90)")
	costCmd.PersistentFlags().Float64Var(&dailyLimit, "daily-limit", 5, "daily budget in USD")
	costCmd.PersistentFlags().Float64Var(&monthlyLimit, "monthly-limit", 100, "monthly budget in USD")
	costCmd.PersistentFlags().StringVar(&cacheVersion, "cache-version", "1", "keyspace cache version")

	costCmd.AddCommand(costReportCmd)
	costCmd.AddCommand(costResetCmd)
}
