package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/smallbiznis/agentmarket/internal/migration"
	pkgdb "github.com/smallbiznis/agentmarket/pkg/db"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

const commandTimeout = time.Minute

var errPostgresOnly = errors.New("versioned migrations are only tracked on postgres")

var rollbackSteps int

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDB(func(ctx context.Context, conn *gorm.DB) error {
			if err := migration.Apply(conn); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "schema up to date")
			return nil
		})
	},
}

var migrateDownCmd = &cobra.Command{
	Use:   "down",
	Short: "Revert the most recent migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDB(func(ctx context.Context, conn *gorm.DB) error {
			if !pkgdb.IsPostgres(conn) {
				return errPostgresOnly
			}
			sqlDB, err := conn.DB()
			if err != nil {
				return err
			}
			if err := migration.Rollback(sqlDB, rollbackSteps); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "rolled back %d migration(s)\n", rollbackSteps)
			return nil
		})
	},
}

var migrateVersionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the applied migration version",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDB(func(ctx context.Context, conn *gorm.DB) error {
			if !pkgdb.IsPostgres(conn) {
				return errPostgresOnly
			}
			sqlDB, err := conn.DB()
			if err != nil {
				return err
			}
			version, dirty, err := migration.Version(sqlDB)
			if err != nil {
				return err
			}
			printVersion(cmd.OutOrStdout(), version, dirty)
			return nil
		})
	},
}

func init() {
	migrateDownCmd.Flags().IntVar(&rollbackSteps, "steps", 1, "number of migrations to revert")
	migrateCmd.AddCommand(migrateDownCmd)
	migrateCmd.AddCommand(migrateVersionCmd)
}

func printVersion(w io.Writer, version uint, dirty bool) {
	if dirty {
		fmt.Fprintf(w, "version %d (dirty)\n", version)
		return
	}
	fmt.Fprintf(w, "version %d\n", version)
}

// withDB starts the core graph, runs fn against the database and stops the app.
func withDB(fn func(ctx context.Context, conn *gorm.DB) error) error {
	var conn *gorm.DB
	app := fx.New(
		coreOptions(),
		fx.Populate(&conn),
		fx.NopLogger,
	)
	if err := app.Err(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()
	if err := app.Start(ctx); err != nil {
		return err
	}
	defer func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer stopCancel()
		_ = app.Stop(stopCtx)
	}()

	return fn(ctx, conn)
}
