package permissions

import (
	"context"
	"database/sql"
	"testing"

	_ "github.com/mattn/go-sqlite3"
)

func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	// Every pooled connection to :memory: is a separate database.
	db.SetMaxOpenConns(1)

	_, err = db.Exec(`
		CREATE TABLE data_room_groups (
			id TEXT PRIMARY KEY,
			data_room_id TEXT NOT NULL,
			name TEXT NOT NULL,
			type TEXT NOT NULL,
			can_view_due_diligence_checklist BOOLEAN NOT NULL DEFAULT 0,
			can_manage_document_permissions BOOLEAN NOT NULL DEFAULT 0,
			can_view_group_users BOOLEAN NOT NULL DEFAULT 0,
			can_view_group_activity BOOLEAN NOT NULL DEFAULT 0,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		);

		CREATE TABLE data_room_group_members (
			group_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			joined_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (group_id, user_id)
		);

		CREATE TABLE documents (
			id TEXT PRIMARY KEY,
			data_room_id TEXT NOT NULL
		);

		CREATE TABLE folders (
			id TEXT PRIMARY KEY,
			data_room_id TEXT NOT NULL
		);

		CREATE TABLE document_group_permissions (
			document_id TEXT NOT NULL,
			group_id TEXT NOT NULL,
			can_view BOOLEAN NOT NULL DEFAULT 1,
			can_download_pdf BOOLEAN NOT NULL DEFAULT 0,
			can_download_encrypted BOOLEAN NOT NULL DEFAULT 0,
			can_download_original BOOLEAN NOT NULL DEFAULT 0,
			can_upload BOOLEAN NOT NULL DEFAULT 0,
			can_manage BOOLEAN NOT NULL DEFAULT 0,
			can_fence BOOLEAN NOT NULL DEFAULT 0,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			UNIQUE (document_id, group_id)
		);

		CREATE TABLE folder_group_permissions (
			folder_id TEXT NOT NULL,
			group_id TEXT NOT NULL,
			can_view BOOLEAN NOT NULL DEFAULT 1,
			can_download_pdf BOOLEAN NOT NULL DEFAULT 0,
			can_download_encrypted BOOLEAN NOT NULL DEFAULT 0,
			can_download_original BOOLEAN NOT NULL DEFAULT 0,
			can_upload BOOLEAN NOT NULL DEFAULT 0,
			can_manage BOOLEAN NOT NULL DEFAULT 0,
			can_fence BOOLEAN NOT NULL DEFAULT 0,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			UNIQUE (folder_id, group_id)
		);

		CREATE TABLE document_user_permissions (
			document_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			can_view BOOLEAN NOT NULL DEFAULT 1,
			can_download_pdf BOOLEAN NOT NULL DEFAULT 0,
			can_download_encrypted BOOLEAN NOT NULL DEFAULT 0,
			can_download_original BOOLEAN NOT NULL DEFAULT 0,
			can_upload BOOLEAN NOT NULL DEFAULT 0,
			can_manage BOOLEAN NOT NULL DEFAULT 0,
			can_fence BOOLEAN NOT NULL DEFAULT 0,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			UNIQUE (document_id, user_id)
		);

		CREATE TABLE folder_user_permissions (
			folder_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			can_view BOOLEAN NOT NULL DEFAULT 1,
			can_download_pdf BOOLEAN NOT NULL DEFAULT 0,
			can_download_encrypted BOOLEAN NOT NULL DEFAULT 0,
			can_download_original BOOLEAN NOT NULL DEFAULT 0,
			can_upload BOOLEAN NOT NULL DEFAULT 0,
			can_manage BOOLEAN NOT NULL DEFAULT 0,
			can_fence BOOLEAN NOT NULL DEFAULT 0,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			UNIQUE (folder_id, user_id)
		);
	`)
	if err != nil {
		t.Fatalf("Failed to create test tables: %v", err)
	}

	t.Cleanup(func() { db.Close() })
	return db
}

// fixture seeds a data room with one document and one folder
type fixture struct {
	t     *testing.T
	ctx   context.Context
	store *Store
}

const (
	testRoom     = "room-1"
	otherRoom    = "room-2"
	testDocument = "doc-1"
	testFolder   = "folder-1"
)

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{t: t, ctx: context.Background(), store: NewStore(setupTestDB(t))}
	if err := f.store.RegisterResource(f.ctx, KindDocument, testDocument, testRoom); err != nil {
		t.Fatalf("RegisterResource failed: %v", err)
	}
	if err := f.store.RegisterResource(f.ctx, KindFolder, testFolder, testRoom); err != nil {
		t.Fatalf("RegisterResource failed: %v", err)
	}
	return f
}

// group creates a group in room and adds the members
func (f *fixture) group(id, room string, typ GroupType, members ...string) {
	f.t.Helper()

	if err := f.store.CreateGroup(f.ctx, &Group{ID: id, DataRoomID: room, Name: id, Type: typ}); err != nil {
		f.t.Fatalf("CreateGroup failed: %v", err)
	}
	for _, m := range members {
		if err := f.store.AddMember(f.ctx, id, m); err != nil {
			f.t.Fatalf("AddMember failed: %v", err)
		}
	}
}

func (f *fixture) groupGrant(kind ResourceKind, resourceID, groupID string, p PermissionSet) {
	f.t.Helper()

	if err := f.store.UpsertGroupGrant(f.ctx, &GroupGrant{Kind: kind, ResourceID: resourceID, GroupID: groupID, Permissions: p}); err != nil {
		f.t.Fatalf("UpsertGroupGrant failed: %v", err)
	}
}

func (f *fixture) userGrant(kind ResourceKind, resourceID, userID string, p PermissionSet) {
	f.t.Helper()

	if err := f.store.UpsertUserGrant(f.ctx, &UserGrant{Kind: kind, ResourceID: resourceID, UserID: userID, Permissions: p}); err != nil {
		f.t.Fatalf("UpsertUserGrant failed: %v", err)
	}
}
