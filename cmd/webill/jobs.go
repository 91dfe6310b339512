package main

import (
	"context"
	"fmt"
	"time"

	"github.com/septivank/webill/internal/service"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
)

var retryLimit int

var notifyRetryCmd = &cobra.Command{
	Use:   "notify-retry",
	Short: "Re-send notices for bills that were never delivered",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runJob(true, func(ctx context.Context, svc *service.Service) error {
			report, err := svc.RetryNotifications(ctx, retryLimit)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "attempted %d, sent %d, failed %d\n", report.Attempted, report.Sent, report.Failed)
			return nil
		})
	},
}

var remindCmd = &cobra.Command{
	Use:   "remind",
	Short: "Remind consumers who have not submitted this period's reading",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runJob(true, func(ctx context.Context, svc *service.Service) error {
			sent, err := svc.SendReminders(ctx, time.Now())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "sent %d reminders\n", sent)
			return nil
		})
	},
}

var purgeCmd = &cobra.Command{
	Use:   "purge-accounts",
	Short: "Delete accounts disabled longer than the retention window",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runJob(false, func(ctx context.Context, svc *service.Service) error {
			n, err := svc.PurgeAccounts(ctx, time.Now())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "purged %d accounts\n", n)
			return nil
		})
	},
}

func init() {
	notifyRetryCmd.Flags().IntVar(&retryLimit, "limit", 100, "maximum bills to retry")
	rootCmd.AddCommand(notifyRetryCmd, remindCmd, purgeCmd)
}

// runJob runs a one-shot job against the wired service
func runJob(needsBroker bool, job func(ctx context.Context, svc *service.Service) error) error {
	var svc *service.Service
	opts := []fx.Option{coreModule, fx.Populate(&svc)}
	if needsBroker {
		opts = append(opts, fx.Invoke(requireRabbitMQ))
	}

	app := fx.New(opts...)
	if err := app.Err(); err != nil {
		return err
	}
	return runOnce(app, func(ctx context.Context) error {
		return job(ctx, svc)
	})
}
