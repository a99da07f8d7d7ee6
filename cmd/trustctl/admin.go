package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"trustcenter.dev/internal/app"
	"trustcenter.dev/internal/auth"
	"trustcenter.dev/internal/trust"
)

func adminCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "admin", Short: "Manage admin accounts"}

	var in auth.NewAdmin
	var role string
	create := &cobra.Command{
		Use:   "create",
		Short: "Create an admin account",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := configFrom(cmd)
			if cfg.PGDSN == "" {
				return errors.New("admin create needs a database: set TRUSTCENTER_PG_DSN")
			}
			svc, err := app.Build(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer svc.Close()

			in.Role = trust.AdminRole(role)
			admin, err := svc.Auth.CreateAdmin(cmd.Context(), in)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created %s admin %s (%s)\n", admin.Role, admin.Email, admin.ID)
			return nil
		},
	}
	create.Flags().StringVar(&in.Email, "email", "", "login email")
	create.Flags().StringVar(&in.Name, "name", "", "display name")
	create.Flags().StringVar(&in.Password, "password", "", "initial password")
	create.Flags().StringVar(&role, "role", string(trust.RoleSuperAdmin), "admin or super_admin")
	_ = create.MarkFlagRequired("email")
	_ = create.MarkFlagRequired("password")

	cmd.AddCommand(create)
	return cmd
}
