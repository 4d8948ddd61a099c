package migration

import (
	"database/sql"
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	agentdomain "github.com/smallbiznis/agentmarket/internal/agent/domain"
	apikeydomain "github.com/smallbiznis/agentmarket/internal/apikey/domain"
	orgdomain "github.com/smallbiznis/agentmarket/internal/organization/domain"
	paymentdomain "github.com/smallbiznis/agentmarket/internal/payment/domain"
	rundomain "github.com/smallbiznis/agentmarket/internal/run/domain"
	subscriptiondomain "github.com/smallbiznis/agentmarket/internal/subscription/domain"
	usagedomain "github.com/smallbiznis/agentmarket/internal/usage/domain"
	"github.com/smallbiznis/agentmarket/pkg/db"
	"gorm.io/gorm"
)

// Apply brings the schema up to date. Postgres runs the embedded SQL
// migrations; every other dialect is migrated from the models.
func Apply(conn *gorm.DB) error {
	if conn == nil {
		return errors.New("migration database handle is required")
	}
	if !db.IsPostgres(conn) {
		return AutoMigrate(conn)
	}
	sqlDB, err := conn.DB()
	if err != nil {
		return err
	}
	return RunMigrations(sqlDB)
}

// RunMigrations applies the embedded postgres migrations.
func RunMigrations(db *sql.DB) error {
	migrator, err := newMigrator(db)
	if err != nil {
		return err
	}

	upErr := migrator.Up()
	if upErr != nil && !errors.Is(upErr, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", upErr)
	}
	// Do not call migrator.Close here because it would close the shared *sql.DB.

	return nil
}

// Rollback reverts the given number of postgres migrations.
func Rollback(db *sql.DB, steps int) error {
	if steps <= 0 {
		return fmt.Errorf("rollback steps must be positive, got %d", steps)
	}
	migrator, err := newMigrator(db)
	if err != nil {
		return err
	}
	if err := migrator.Steps(-steps); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("rollback migrations: %w", err)
	}
	return nil
}

// Version reports the applied postgres migration version.
func Version(db *sql.DB) (uint, bool, error) {
	migrator, err := newMigrator(db)
	if err != nil {
		return 0, false, err
	}
	version, dirty, err := migrator.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	return version, dirty, err
}

func newMigrator(db *sql.DB) (*migrate.Migrate, error) {
	if db == nil {
		return nil, errors.New("migration database handle is required")
	}

	sub, err := fs.Sub(embeddedMigrations, migrationsDir)
	if err != nil {
		return nil, fmt.Errorf("open migrations: %w", err)
	}

	source, err := iofs.New(sub, ".")
	if err != nil {
		return nil, fmt.Errorf("create migration source: %w", err)
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return nil, fmt.Errorf("create migration driver: %w", err)
	}

	migrator, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return nil, fmt.Errorf("create migrator: %w", err)
	}
	return migrator, nil
}

// AutoMigrate creates the schema from the models. Tests and the sqlite
// and mysql dialects use it.
func AutoMigrate(conn *gorm.DB) error {
	return conn.AutoMigrate(
		&orgdomain.Organization{},
		&orgdomain.Member{},
		&orgdomain.Invite{},
		&subscriptiondomain.Subscription{},
		&usagedomain.UsagePeriod{},
		&usagedomain.LedgerEntry{},
		&agentdomain.Agent{},
		&rundomain.Run{},
		&paymentdomain.BillingEvent{},
		&apikeydomain.APIKey{},
	)
}
