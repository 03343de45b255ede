package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/unimate/roommate/internal/config"
	"github.com/unimate/roommate/internal/migrations"
)

func newMigrateCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the Postgres schema",
	}

	loadDSN := func() (string, error) {
		cfg, err := config.Load(*configPath)
		if err != nil {
			return "", err
		}
		if cfg.DatabaseDSN == "" {
			return "", fmt.Errorf("matchd: database.dsn is not set")
		}
		return cfg.DatabaseDSN, nil
	}

	up := &cobra.Command{
		Use:   "up",
		Short: "Apply every pending migration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			dsn, err := loadDSN()
			if err != nil {
				return err
			}
			if err := migrations.Up(cmd.Context(), dsn); err != nil {
				return err
			}
			cmd.Println("migrations applied")
			return nil
		},
	}

	down := &cobra.Command{
		Use:   "down [steps]",
		Short: "Roll back the given number of migrations (default 1)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			steps := 1
			if len(args) == 1 {
				n, err := strconv.Atoi(args[0])
				if err != nil || n <= 0 {
					return fmt.Errorf("matchd: steps must be a positive integer, got %q", args[0])
				}
				steps = n
			}
			dsn, err := loadDSN()
			if err != nil {
				return err
			}
			if err := migrations.Down(cmd.Context(), dsn, steps); err != nil {
				return err
			}
			cmd.Printf("rolled back %d migration(s)\n", steps)
			return nil
		},
	}

	version := &cobra.Command{
		Use:   "version",
		Short: "Print the current schema version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			dsn, err := loadDSN()
			if err != nil {
				return err
			}
			v, dirty, err := migrations.Version(cmd.Context(), dsn)
			if err != nil {
				return err
			}
			cmd.Printf("version %d (dirty: %t)\n", v, dirty)
			return nil
		},
	}

	cmd.AddCommand(up, down, version)
	return cmd
}
