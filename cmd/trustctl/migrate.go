package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/spf13/cobra"

	"trustcenter.dev/internal/migrate"
	"trustcenter.dev/internal/store/pg"
	"trustcenter.dev/ops/migrations"
)

func migrateCmd() *cobra.Command {
	var (
		dir     string
		steps   int
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:       "migrate [up|down|seed|status|pending]",
		Short:     "Apply, roll back or inspect schema migrations",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"up", "down", "seed", "status", "pending"},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := configFrom(cmd)
			if cfg.PGDSN == "" {
				return errors.New("missing DSN: set TRUSTCENTER_PG_DSN")
			}
			st, err := pg.Open(cfg.PGDSN)
			if err != nil {
				return fmt.Errorf("open db: %w", err)
			}
			defer st.Close()

			var fsys fs.FS = migrations.FS
			if dir != "" {
				fsys = os.DirFS(dir)
			}
			mgr := migrate.NewManager(st.DB(), fsys, migrations.SQLDir, migrations.SeedsDir)

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			return runMigrate(ctx, mgr, args[0], steps, cmd)
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "", "directory holding sql/ and seeds/ to use instead of the embedded files")
	cmd.Flags().IntVar(&steps, "steps", 1, "number of migrations to roll back with down")
	cmd.Flags().DurationVar(&timeout, "timeout", 2*time.Minute, "overall timeout")
	return cmd
}

func runMigrate(ctx context.Context, mgr *migrate.Manager, action string, steps int, cmd *cobra.Command) error {
	out := cmd.OutOrStdout()
	var err error
	switch action {
	case "up", "seed":
		var n int
		if action == "up" {
			n, err = mgr.Up(ctx)
		} else {
			n, err = mgr.Seed(ctx)
		}
		if err == nil {
			fmt.Fprintf(out, "%s: %d file(s) applied\n", action, n)
		}
	case "down":
		err = mgr.Down(ctx, steps)
	case "status":
		var applied []migrate.Applied
		applied, err = mgr.Status(ctx)
		for _, a := range applied {
			fmt.Fprintf(out, "%s\t%s\n", a.Name, a.AppliedAt.UTC().Format(time.RFC3339))
		}
	case "pending":
		var names []string
		names, err = mgr.Pending(ctx)
		for _, name := range names {
			fmt.Fprintln(out, name)
		}
	default:
		return fmt.Errorf("unknown migrate action %q", action)
	}
	if err != nil {
		return fmt.Errorf("migrate %s: %w", action, err)
	}
	return nil
}
