package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/MrEthical07/authkit"
)

func newMigrateCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the database schema",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				st, err := a.openStore(cmd.Context())
				if err != nil {
					return err
				}
				defer st.Close()
				return st.Migrate(cmd.Context())
			},
		},
		&cobra.Command{
			Use:   "down",
			Short: "Roll back the most recent migration",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				st, err := a.openStore(cmd.Context())
				if err != nil {
					return err
				}
				defer st.Close()
				return st.MigrateDown(cmd.Context())
			},
		},
		&cobra.Command{
			Use:   "status",
			Short: "Print the current schema version",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				st, err := a.openStore(cmd.Context())
				if err != nil {
					return err
				}
				defer st.Close()
				v, err := st.MigrationVersion(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "schema version %d\n", v)
				return nil
			},
		},
	)
	return cmd
}

func newSeedRolesCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "seed-roles",
		Short: "Create or refresh the built-in roles and permissions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withEngine(cmd.Context(), func(e *authkit.Engine) error {
				if err := e.SeedRoles(cmd.Context(), nil); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "roles seeded")
				return nil
			})
		},
	}
}

func newGrantRoleCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "grant-role <email> <role>",
		Short: "Assign a role to a user, bypassing the actor checks",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withUser(cmd.Context(), args[0], func(e *authkit.Engine, user *authkit.User) error {
				err := e.AssignRole(cmd.Context(), authkit.RoleChange{UserID: user.ID, Role: args[1], System: true})
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "granted %s to %s\n", args[1], user.Email)
				return nil
			})
		},
	}
}

func newDisableTwoFactorCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "disable-2fa <email>",
		Short: "Remove a user's two-factor credential and end their sessions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withUser(cmd.Context(), args[0], func(e *authkit.Engine, user *authkit.User) error {
				if err := e.ResetTwoFactor(cmd.Context(), "", user.ID); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "two-factor disabled for %s\n", user.Email)
				return nil
			})
		},
	}
}

func newVerifyEmailCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "verify-email <email>",
		Short: "Mark a user's email as verified",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withUser(cmd.Context(), args[0], func(e *authkit.Engine, user *authkit.User) error {
				if err := e.MarkEmailVerified(cmd.Context(), "", user.ID); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "email verified for %s\n", user.Email)
				return nil
			})
		},
	}
}

func (a *app) withUser(ctx context.Context, email string, fn func(*authkit.Engine, *authkit.User) error) error {
	return a.withEngine(ctx, func(e *authkit.Engine) error {
		user, err := e.UserByEmail(ctx, email)
		if err != nil {
			return fmt.Errorf("%s: %w", email, err)
		}
		return fn(e, user)
	})
}
