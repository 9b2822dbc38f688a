package main

import (
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/drfirst/go-rxdraft/internal/auth"
	"github.com/drfirst/go-rxdraft/internal/infrastructure/postgres"
)

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			pool, err := pgxpool.New(cmd.Context(), cfg.DatabaseURL)
			if err != nil {
				return fmt.Errorf("connect: %w", err)
			}
			defer pool.Close()
			if err := postgres.Migrate(cmd.Context(), pool); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "schema up to date")
			return nil
		},
	}
}

func tokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Development bearer tokens",
	}

	issue := &cobra.Command{
		Use:   "issue <user-id>",
		Short: "Sign a token with JWT_SECRET",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			role, _ := cmd.Flags().GetString("role")
			doctorID, _ := cmd.Flags().GetString("doctor-id")
			ttl, _ := cmd.Flags().GetDuration("ttl")

			p := auth.Principal{UserID: args[0], Role: auth.Role(role), DoctorID: doctorID}
			switch p.Role {
			case auth.RoleDoctor:
				if p.DoctorID == "" {
					return fmt.Errorf("--doctor-id is required for role %s", p.Role)
				}
			case auth.RoleReceptionist, auth.RoleAdmin:
			default:
				return fmt.Errorf("unknown role %q", role)
			}

			v, err := auth.NewValidator(auth.Config{Secret: []byte(cfg.JWTSecret), Issuer: cfg.JWTIssuer})
			if err != nil {
				return err
			}
			token, err := v.Issue(p, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	issue.Flags().String("role", string(auth.RoleDoctor), "doctor, receptionist or admin")
	issue.Flags().String("doctor-id", "", "doctor the token acts for")
	issue.Flags().Duration("ttl", 12*time.Hour, "token lifetime")

	cmd.AddCommand(issue)
	return cmd
}
