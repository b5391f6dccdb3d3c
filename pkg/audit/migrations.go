package audit

import (
	"context"
	"database/sql"

	"github.com/platinummonkey/dataroom/pkg/database"
	"github.com/platinummonkey/dataroom/pkg/observability"
)

const migrationsTable = "audit_migrations"

// GetMigrations returns the PostgreSQL schema of the audit log
func GetMigrations() []database.Migration {
	return []database.Migration{
		{
			Version:     1,
			Description: "Create audit entries",
			SQL: `
				CREATE TABLE IF NOT EXISTS audit_entries (
					id TEXT PRIMARY KEY,
					seq BIGSERIAL NOT NULL UNIQUE,
					action VARCHAR(64) NOT NULL,
					resource_type VARCHAR(64) NOT NULL,
					resource_id TEXT NOT NULL DEFAULT '',
					data_room_id TEXT,
					user_id TEXT,
					metadata JSONB NOT NULL DEFAULT '{}'::jsonb,
					ip_address TEXT,
					user_agent TEXT,
					previous_hash CHAR(64),
					hash CHAR(64) NOT NULL,
					created_at TIMESTAMPTZ NOT NULL
				);

				CREATE INDEX IF NOT EXISTS idx_audit_entries_chain ON audit_entries(created_at, seq);
				CREATE INDEX IF NOT EXISTS idx_audit_entries_user_action ON audit_entries(user_id, action, created_at DESC);
				CREATE INDEX IF NOT EXISTS idx_audit_entries_resource ON audit_entries(resource_type, resource_id);
				CREATE INDEX IF NOT EXISTS idx_audit_entries_data_room ON audit_entries(data_room_id, created_at DESC);
			`,
		},
		{
			Version:     2,
			Description: "Reject updates and deletes of audit entries",
			SQL: `
				CREATE OR REPLACE FUNCTION audit_entries_immutable() RETURNS trigger AS $$
				BEGIN
					RAISE EXCEPTION 'audit entries are append-only';
				END;
				$$ LANGUAGE plpgsql;

				DROP TRIGGER IF EXISTS audit_entries_no_update ON audit_entries;
				CREATE TRIGGER audit_entries_no_update
					BEFORE UPDATE OR DELETE ON audit_entries
					FOR EACH ROW EXECUTE FUNCTION audit_entries_immutable();
			`,
		},
	}
}

// RunMigrations applies pending audit migrations
func RunMigrations(ctx context.Context, db *sql.DB, logger *observability.Logger) error {
	return database.Migrate(ctx, db, migrationsTable, GetMigrations(), logger)
}
