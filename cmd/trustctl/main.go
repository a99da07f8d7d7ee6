// Command trustctl runs operational tasks against a trust center deployment.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"trustcenter.dev/internal/config"
	"trustcenter.dev/internal/obs"
)

var rootCmd = &cobra.Command{
	Use:           "trustctl",
	Short:         "trustctl manages the trust center database, admins and integrations",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		obs.InitLogger(obs.LogConfig{Level: cfg.Log.Level, File: cfg.Log.File})
		cmd.SetContext(withConfig(cmd.Context(), cfg))
		return nil
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd(), adminCmd(), salesforceCmd())
}

type configKey struct{}

func withConfig(ctx context.Context, cfg config.Config) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, configKey{}, cfg)
}

func configFrom(cmd *cobra.Command) config.Config {
	cfg, _ := cmd.Context().Value(configKey{}).(config.Config)
	return cfg
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		obs.Logger().Error("trustctl", zap.Error(err))
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
