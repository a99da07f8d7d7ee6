package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"trustcenter.dev/internal/app"
)

func salesforceCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "salesforce", Short: "Salesforce integration tasks"}

	var timeout time.Duration
	sync := &cobra.Command{
		Use:   "sync",
		Short: "Run one account sync now",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := configFrom(cmd)
			if !cfg.SalesforceEnabled() {
				return errors.New("salesforce is not configured")
			}
			svc, err := app.Build(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer svc.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			report, err := svc.Syncer.Run(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "accounts=%d contacts=%d created=%d updated=%d skipped=%d\n",
				report.Accounts, report.Contacts, report.Created, report.Updated, report.Skipped)
			return nil
		},
	}
	sync.Flags().DurationVar(&timeout, "timeout", 10*time.Minute, "sync timeout")

	cmd.AddCommand(sync)
	return cmd
}
