package remote

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/dmitrijs2005/propcheck/internal/agent/remote/migrations"
	"github.com/dmitrijs2005/propcheck/internal/dbx"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

// OpenPostgres opens the remote database through the pgx stdlib driver.
// Opening does not require connectivity; the pool connects lazily.
func OpenPostgres(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("db open error: %w", err)
	}
	return db, nil
}

// RunMigrations brings the remote schema up to date.
func RunMigrations(ctx context.Context, db *sql.DB) error {
	if err := dbx.Migrate(ctx, db, goose.DialectPostgres, migrations.Migrations); err != nil {
		return fmt.Errorf("migration error: %w", err)
	}
	return nil
}
