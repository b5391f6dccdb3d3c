package permissions

import (
	"context"
	"database/sql"

	"github.com/platinummonkey/dataroom/pkg/database"
	"github.com/platinummonkey/dataroom/pkg/observability"
)

const migrationsTable = "permission_migrations"

// GetMigrations returns the PostgreSQL schema for groups, memberships,
// resources and the four grant tables
func GetMigrations() []database.Migration {
	return []database.Migration{
		{
			Version:     1,
			Description: "Create groups and memberships",
			SQL: `
				CREATE TABLE IF NOT EXISTS data_room_groups (
					id TEXT PRIMARY KEY,
					data_room_id TEXT NOT NULL,
					name TEXT NOT NULL,
					type VARCHAR(20) NOT NULL CHECK (type IN ('ADMINISTRATOR', 'USER', 'CUSTOM')),
					can_view_due_diligence_checklist BOOLEAN NOT NULL DEFAULT FALSE,
					can_manage_document_permissions BOOLEAN NOT NULL DEFAULT FALSE,
					can_view_group_users BOOLEAN NOT NULL DEFAULT FALSE,
					can_view_group_activity BOOLEAN NOT NULL DEFAULT FALSE,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				);

				CREATE INDEX IF NOT EXISTS idx_data_room_groups_data_room ON data_room_groups(data_room_id);

				CREATE TABLE IF NOT EXISTS data_room_group_members (
					group_id TEXT NOT NULL REFERENCES data_room_groups(id) ON DELETE CASCADE,
					user_id TEXT NOT NULL,
					joined_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					PRIMARY KEY (group_id, user_id)
				);

				CREATE INDEX IF NOT EXISTS idx_data_room_group_members_user ON data_room_group_members(user_id);
			`,
		},
		{
			Version:     2,
			Description: "Create documents and folders",
			SQL: `
				CREATE TABLE IF NOT EXISTS folders (
					id TEXT PRIMARY KEY,
					data_room_id TEXT NOT NULL
				);

				CREATE TABLE IF NOT EXISTS documents (
					id TEXT PRIMARY KEY,
					data_room_id TEXT NOT NULL
				);
			`,
		},
		{
			Version:     3,
			Description: "Create document and folder grant tables",
			SQL: `
				CREATE TABLE IF NOT EXISTS document_group_permissions (
					document_id TEXT NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
					group_id TEXT NOT NULL REFERENCES data_room_groups(id) ON DELETE CASCADE,
					can_view BOOLEAN NOT NULL DEFAULT TRUE,
					can_download_pdf BOOLEAN NOT NULL DEFAULT FALSE,
					can_download_encrypted BOOLEAN NOT NULL DEFAULT FALSE,
					can_download_original BOOLEAN NOT NULL DEFAULT FALSE,
					can_upload BOOLEAN NOT NULL DEFAULT FALSE,
					can_manage BOOLEAN NOT NULL DEFAULT FALSE,
					can_fence BOOLEAN NOT NULL DEFAULT FALSE,
					updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					UNIQUE (document_id, group_id)
				);

				CREATE TABLE IF NOT EXISTS folder_group_permissions (
					folder_id TEXT NOT NULL REFERENCES folders(id) ON DELETE CASCADE,
					group_id TEXT NOT NULL REFERENCES data_room_groups(id) ON DELETE CASCADE,
					can_view BOOLEAN NOT NULL DEFAULT TRUE,
					can_download_pdf BOOLEAN NOT NULL DEFAULT FALSE,
					can_download_encrypted BOOLEAN NOT NULL DEFAULT FALSE,
					can_download_original BOOLEAN NOT NULL DEFAULT FALSE,
					can_upload BOOLEAN NOT NULL DEFAULT FALSE,
					can_manage BOOLEAN NOT NULL DEFAULT FALSE,
					can_fence BOOLEAN NOT NULL DEFAULT FALSE,
					updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					UNIQUE (folder_id, group_id)
				);

				CREATE TABLE IF NOT EXISTS document_user_permissions (
					document_id TEXT NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
					user_id TEXT NOT NULL,
					can_view BOOLEAN NOT NULL DEFAULT TRUE,
					can_download_pdf BOOLEAN NOT NULL DEFAULT FALSE,
					can_download_encrypted BOOLEAN NOT NULL DEFAULT FALSE,
					can_download_original BOOLEAN NOT NULL DEFAULT FALSE,
					can_upload BOOLEAN NOT NULL DEFAULT FALSE,
					can_manage BOOLEAN NOT NULL DEFAULT FALSE,
					can_fence BOOLEAN NOT NULL DEFAULT FALSE,
					updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					UNIQUE (document_id, user_id)
				);

				CREATE TABLE IF NOT EXISTS folder_user_permissions (
					folder_id TEXT NOT NULL REFERENCES folders(id) ON DELETE CASCADE,
					user_id TEXT NOT NULL,
					can_view BOOLEAN NOT NULL DEFAULT TRUE,
					can_download_pdf BOOLEAN NOT NULL DEFAULT FALSE,
					can_download_encrypted BOOLEAN NOT NULL DEFAULT FALSE,
					can_download_original BOOLEAN NOT NULL DEFAULT FALSE,
					can_upload BOOLEAN NOT NULL DEFAULT FALSE,
					can_manage BOOLEAN NOT NULL DEFAULT FALSE,
					can_fence BOOLEAN NOT NULL DEFAULT FALSE,
					updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					UNIQUE (folder_id, user_id)
				);

				CREATE INDEX IF NOT EXISTS idx_document_group_permissions_group ON document_group_permissions(group_id);
				CREATE INDEX IF NOT EXISTS idx_folder_group_permissions_group ON folder_group_permissions(group_id);
			`,
		},
	}
}

// RunMigrations applies pending permission migrations
func RunMigrations(ctx context.Context, db *sql.DB, logger *observability.Logger) error {
	return database.Migrate(ctx, db, migrationsTable, GetMigrations(), logger)
}
