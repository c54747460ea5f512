package queue

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
)

// migrationManager handles jobs table schema creation and updates.
type migrationManager struct {
	db         *sql.DB
	logger     *slog.Logger
	migrations map[int]string
}

func newMigrationManager(logger *slog.Logger, db *sql.DB, migrations map[int]string) *migrationManager {
	return &migrationManager{
		db:         db,
		logger:     logger,
		migrations: migrations,
	}
}

func (m *migrationManager) runMigrations(ctx context.Context) error {
	m.logger.InfoContext(ctx, "Starting queue schema migrations")

	createMigrationsSQL := `
		CREATE TABLE IF NOT EXISTS queue_schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
		);
	`

	_, err := m.db.ExecContext(ctx, createMigrationsSQL)
	if err != nil {
		return fmt.Errorf("failed to create queue_schema_migrations table: %w", err)
	}

	var currentVersion int

	err = m.db.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM queue_schema_migrations").Scan(&currentVersion)
	if err != nil {
		return fmt.Errorf("failed to query current schema version: %w", err)
	}

	for version := currentVersion + 1; ; version++ {
		migration, ok := m.migrations[version]
		if !ok {
			break
		}

		m.logger.InfoContext(ctx, "Applying queue migration", "version", version)

		tx, err := m.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin migration transaction: %w", err)
		}

		_, err = tx.ExecContext(ctx, migration)
		if err != nil {
			_ = tx.Rollback()

			return fmt.Errorf("failed to apply migration %d: %w", version, err)
		}

		_, err = tx.ExecContext(ctx, "INSERT INTO queue_schema_migrations (version) VALUES ($1)", version)
		if err != nil {
			_ = tx.Rollback()

			return fmt.Errorf("failed to record migration %d: %w", version, err)
		}

		err = tx.Commit()
		if err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", version, err)
		}
	}

	m.logger.InfoContext(ctx, "Queue schema migrations completed")

	return nil
}

func migrations() map[int]string {
	return map[int]string{
		1: `
			CREATE TABLE IF NOT EXISTS jobs (
				id TEXT PRIMARY KEY,
				type TEXT NOT NULL,
				resource_id TEXT NOT NULL,
				input JSONB,
				tenant_id TEXT,
				user_id TEXT,
				project_id TEXT,
				status TEXT NOT NULL,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				started_at TIMESTAMP WITH TIME ZONE,
				completed_at TIMESTAMP WITH TIME ZONE,
				result JSONB,
				error TEXT,
				retry_count INTEGER NOT NULL DEFAULT 0,
				max_retries INTEGER NOT NULL DEFAULT 0,
				metadata JSONB
			);

			CREATE INDEX IF NOT EXISTS idx_jobs_status_created_at ON jobs (status, created_at);
			CREATE INDEX IF NOT EXISTS idx_jobs_tenant_id ON jobs (tenant_id);
		`,
	}
}
