package postgres

import (
	"embed"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"beatsync/internal/config"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Migrate applies all pending migrations. Returns nil when the schema is
// already up to date.
func Migrate(cfg *config.Config) error {
	const op = "storage.postgres.Migrate"

	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("%s: failed to create migration source: %w", op, err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", source, "pgx5://"+dsnHostPart(cfg))
	if err != nil {
		return fmt.Errorf("%s: failed to create migrator: %w", op, err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("%s: failed to run migrations: %w", op, err)
	}

	return nil
}

func dsnHostPart(cfg *config.Config) string {
	return fmt.Sprintf(
		"%s:%s@%s:%d/%s?sslmode=%s",
		cfg.Postgres.User,
		cfg.Postgres.Password,
		cfg.Postgres.Host,
		cfg.Postgres.Port,
		cfg.Postgres.DBName,
		cfg.Postgres.SSLMode,
	)
}
