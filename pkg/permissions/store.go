package permissions

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Reader is the read side the resolver needs. Store implements it against
// SQL; tests may substitute their own.
type Reader interface {
	ResourceDataRoom(ctx context.Context, kind ResourceKind, resourceID string) (string, error)
	UserGroups(ctx context.Context, userID, dataRoomID string) ([]Group, error)
	GroupGrants(ctx context.Context, kind ResourceKind, resourceID string, groupIDs []string) ([]PermissionSet, error)
	UserGrant(ctx context.Context, kind ResourceKind, resourceID, userID string) (*PermissionSet, error)
}

// kindTables names the tables and key column used for one resource kind
type kindTables struct {
	resources string
	groups    string
	users     string
	column    string
}

var tablesByKind = map[ResourceKind]kindTables{
	KindDocument: {
		resources: "documents",
		groups:    "document_group_permissions",
		users:     "document_user_permissions",
		column:    "document_id",
	},
	KindFolder: {
		resources: "folders",
		groups:    "folder_group_permissions",
		users:     "folder_user_permissions",
		column:    "folder_id",
	},
}

func tablesFor(kind ResourceKind) (kindTables, error) {
	t, ok := tablesByKind[kind]
	if !ok {
		return kindTables{}, fmt.Errorf("%w: unknown resource kind %q", ErrInvalidInput, kind)
	}
	return t, nil
}

const permissionColumns = "can_view, can_download_pdf, can_download_encrypted, can_download_original, can_upload, can_manage, can_fence"

// Store handles group, membership and grant persistence
type Store struct {
	db *sql.DB
}

// NewStore creates a new permission store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// RegisterResource records which data room a document or folder belongs to.
// Re-registering an id moves it to the given data room.
func (s *Store) RegisterResource(ctx context.Context, kind ResourceKind, resourceID, dataRoomID string) error {
	t, err := tablesFor(kind)
	if err != nil {
		return err
	}
	if resourceID == "" || dataRoomID == "" {
		return fmt.Errorf("%w: resource id and data room id are required", ErrInvalidInput)
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (id, data_room_id)
		VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE SET data_room_id = excluded.data_room_id
	`, t.resources)

	if _, err := s.db.ExecContext(ctx, query, resourceID, dataRoomID); err != nil {
		return fmt.Errorf("failed to register %s: %w", kind, err)
	}
	return nil
}

// ResourceDataRoom returns the data room of a document or folder
func (s *Store) ResourceDataRoom(ctx context.Context, kind ResourceKind, resourceID string) (string, error) {
	t, err := tablesFor(kind)
	if err != nil {
		return "", err
	}

	query := fmt.Sprintf("SELECT data_room_id FROM %s WHERE id = $1", t.resources)

	var dataRoomID string
	err = s.db.QueryRowContext(ctx, query, resourceID).Scan(&dataRoomID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%s %s: %w", kind, resourceID, ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("failed to look up %s: %w", kind, err)
	}
	return dataRoomID, nil
}

// CreateGroup creates a group. An empty ID is replaced with a generated one.
func (s *Store) CreateGroup(ctx context.Context, group *Group) error {
	if group.DataRoomID == "" || group.Name == "" {
		return fmt.Errorf("%w: group requires data room and name", ErrInvalidInput)
	}
	if !group.Type.Valid() {
		return fmt.Errorf("%w: unknown group type %q", ErrInvalidInput, group.Type)
	}
	if group.ID == "" {
		group.ID = uuid.NewString()
	}

	query := `
		INSERT INTO data_room_groups (id, data_room_id, name, type,
			can_view_due_diligence_checklist, can_manage_document_permissions,
			can_view_group_users, can_view_group_activity, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, query,
		group.ID,
		group.DataRoomID,
		group.Name,
		string(group.Type),
		group.Capabilities.CanViewDueDiligenceChecklist,
		group.Capabilities.CanManageDocumentPermissions,
		group.Capabilities.CanViewGroupUsers,
		group.Capabilities.CanViewGroupActivity,
		now,
	)
	if err != nil {
		return fmt.Errorf("failed to create group: %w", err)
	}

	group.CreatedAt = now
	return nil
}

// GetGroup retrieves a group by ID
func (s *Store) GetGroup(ctx context.Context, groupID string) (*Group, error) {
	query := `
		SELECT id, data_room_id, name, type,
			can_view_due_diligence_checklist, can_manage_document_permissions,
			can_view_group_users, can_view_group_activity, created_at
		FROM data_room_groups
		WHERE id = $1
	`

	group, err := scanGroup(s.db.QueryRowContext(ctx, query, groupID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("group %s: %w", groupID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get group: %w", err)
	}
	return group, nil
}

// DeleteGroup removes a group along with its memberships and every grant
// that references it.
func (s *Store) DeleteGroup(ctx context.Context, groupID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	statements := []string{
		"DELETE FROM data_room_group_members WHERE group_id = $1",
		"DELETE FROM document_group_permissions WHERE group_id = $1",
		"DELETE FROM folder_group_permissions WHERE group_id = $1",
	}
	for _, stmt := range statements {
		if _, err := tx.ExecContext(ctx, stmt, groupID); err != nil {
			return fmt.Errorf("failed to delete group references: %w", err)
		}
	}

	result, err := tx.ExecContext(ctx, "DELETE FROM data_room_groups WHERE id = $1", groupID)
	if err != nil {
		return fmt.Errorf("failed to delete group: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("group %s: %w", groupID, ErrNotFound)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit group deletion: %w", err)
	}
	return nil
}

// AddMember adds a user to a group. Adding an existing member is a no-op.
func (s *Store) AddMember(ctx context.Context, groupID, userID string) error {
	if groupID == "" || userID == "" {
		return fmt.Errorf("%w: group id and user id are required", ErrInvalidInput)
	}

	query := `
		INSERT INTO data_room_group_members (group_id, user_id, joined_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (group_id, user_id) DO NOTHING
	`

	if _, err := s.db.ExecContext(ctx, query, groupID, userID, time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to add member: %w", err)
	}
	return nil
}

// RemoveMember removes a user from a group
func (s *Store) RemoveMember(ctx context.Context, groupID, userID string) error {
	query := "DELETE FROM data_room_group_members WHERE group_id = $1 AND user_id = $2"

	if _, err := s.db.ExecContext(ctx, query, groupID, userID); err != nil {
		return fmt.Errorf("failed to remove member: %w", err)
	}
	return nil
}

// GroupMembers lists the user ids of a group
func (s *Store) GroupMembers(ctx context.Context, groupID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT user_id FROM data_room_group_members WHERE group_id = $1 ORDER BY user_id",
		groupID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list members: %w", err)
	}
	defer rows.Close()

	var users []string
	for rows.Next() {
		var userID string
		if err := rows.Scan(&userID); err != nil {
			return nil, fmt.Errorf("failed to scan member: %w", err)
		}
		users = append(users, userID)
	}
	return users, rows.Err()
}

// UserGroups returns the groups the user belongs to inside one data room
func (s *Store) UserGroups(ctx context.Context, userID, dataRoomID string) ([]Group, error) {
	query := `
		SELECT g.id, g.data_room_id, g.name, g.type,
			g.can_view_due_diligence_checklist, g.can_manage_document_permissions,
			g.can_view_group_users, g.can_view_group_activity, g.created_at
		FROM data_room_groups g
		JOIN data_room_group_members m ON m.group_id = g.id
		WHERE m.user_id = $1 AND g.data_room_id = $2
		ORDER BY g.id
	`

	rows, err := s.db.QueryContext(ctx, query, userID, dataRoomID)
	if err != nil {
		return nil, fmt.Errorf("failed to query user groups: %w", err)
	}
	defer rows.Close()

	var groups []Group
	for rows.Next() {
		group, err := scanGroup(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan group: %w", err)
		}
		groups = append(groups, *group)
	}
	return groups, rows.Err()
}

// GroupGrants returns the grants of a resource held by any of the given groups
func (s *Store) GroupGrants(ctx context.Context, kind ResourceKind, resourceID string, groupIDs []string) ([]PermissionSet, error) {
	t, err := tablesFor(kind)
	if err != nil {
		return nil, err
	}
	if len(groupIDs) == 0 {
		return nil, nil
	}

	args := make([]interface{}, 0, len(groupIDs)+1)
	args = append(args, resourceID)
	placeholders := make([]string, len(groupIDs))
	for i, id := range groupIDs {
		placeholders[i] = fmt.Sprintf("$%d", i+2)
		args = append(args, id)
	}

	query := fmt.Sprintf(
		"SELECT %s FROM %s WHERE %s = $1 AND group_id IN (%s)",
		permissionColumns, t.groups, t.column, strings.Join(placeholders, ", "),
	)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query group grants: %w", err)
	}
	defer rows.Close()

	var grants []PermissionSet
	for rows.Next() {
		p, err := scanPermissionSet(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan group grant: %w", err)
		}
		grants = append(grants, p)
	}
	return grants, rows.Err()
}

// UserGrant returns the user override for a resource, or nil when absent
func (s *Store) UserGrant(ctx context.Context, kind ResourceKind, resourceID, userID string) (*PermissionSet, error) {
	t, err := tablesFor(kind)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf(
		"SELECT %s FROM %s WHERE %s = $1 AND user_id = $2",
		permissionColumns, t.users, t.column,
	)

	p, err := scanPermissionSet(s.db.QueryRowContext(ctx, query, resourceID, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query user grant: %w", err)
	}
	return &p, nil
}

// UpsertGroupGrant creates or replaces the grant of one group on one resource
func (s *Store) UpsertGroupGrant(ctx context.Context, grant *GroupGrant) error {
	t, err := tablesFor(grant.Kind)
	if err != nil {
		return err
	}
	if grant.ResourceID == "" || grant.GroupID == "" {
		return fmt.Errorf("%w: resource id and group id are required", ErrInvalidInput)
	}

	query := fmt.Sprintf(`
		INSERT INTO %[1]s (%[2]s, group_id, %[3]s, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (%[2]s, group_id) DO UPDATE SET
			can_view = excluded.can_view,
			can_download_pdf = excluded.can_download_pdf,
			can_download_encrypted = excluded.can_download_encrypted,
			can_download_original = excluded.can_download_original,
			can_upload = excluded.can_upload,
			can_manage = excluded.can_manage,
			can_fence = excluded.can_fence,
			updated_at = excluded.updated_at
	`, t.groups, t.column, permissionColumns)

	now := time.Now().UTC()
	args := append([]interface{}{grant.ResourceID, grant.GroupID}, permissionArgs(grant.Permissions)...)
	args = append(args, now)

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to upsert group grant: %w", err)
	}

	grant.UpdatedAt = now
	return nil
}

// ListGroupGrants returns every group grant on a resource
func (s *Store) ListGroupGrants(ctx context.Context, kind ResourceKind, resourceID string) ([]GroupGrant, error) {
	t, err := tablesFor(kind)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf(
		"SELECT group_id, %s, updated_at FROM %s WHERE %s = $1 ORDER BY group_id",
		permissionColumns, t.groups, t.column,
	)

	rows, err := s.db.QueryContext(ctx, query, resourceID)
	if err != nil {
		return nil, fmt.Errorf("failed to list group grants: %w", err)
	}
	defer rows.Close()

	var grants []GroupGrant
	for rows.Next() {
		g := GroupGrant{Kind: kind, ResourceID: resourceID}
		p := &g.Permissions
		if err := rows.Scan(&g.GroupID,
			&p.CanView, &p.CanDownloadPdf, &p.CanDownloadEncrypted, &p.CanDownloadOriginal,
			&p.CanUpload, &p.CanManage, &p.CanFence,
			&g.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan group grant: %w", err)
		}
		grants = append(grants, g)
	}
	return grants, rows.Err()
}

// UpsertUserGrant creates or replaces the override of one user on one resource
func (s *Store) UpsertUserGrant(ctx context.Context, grant *UserGrant) error {
	t, err := tablesFor(grant.Kind)
	if err != nil {
		return err
	}
	if grant.ResourceID == "" || grant.UserID == "" {
		return fmt.Errorf("%w: resource id and user id are required", ErrInvalidInput)
	}

	query := fmt.Sprintf(`
		INSERT INTO %[1]s (%[2]s, user_id, %[3]s, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (%[2]s, user_id) DO UPDATE SET
			can_view = excluded.can_view,
			can_download_pdf = excluded.can_download_pdf,
			can_download_encrypted = excluded.can_download_encrypted,
			can_download_original = excluded.can_download_original,
			can_upload = excluded.can_upload,
			can_manage = excluded.can_manage,
			can_fence = excluded.can_fence,
			updated_at = excluded.updated_at
	`, t.users, t.column, permissionColumns)

	now := time.Now().UTC()
	args := append([]interface{}{grant.ResourceID, grant.UserID}, permissionArgs(grant.Permissions)...)
	args = append(args, now)

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to upsert user grant: %w", err)
	}

	grant.UpdatedAt = now
	return nil
}

// DeleteUserGrant removes a user override. Removing a missing override is not
// an error.
func (s *Store) DeleteUserGrant(ctx context.Context, kind ResourceKind, resourceID, userID string) error {
	t, err := tablesFor(kind)
	if err != nil {
		return err
	}

	query := fmt.Sprintf("DELETE FROM %s WHERE %s = $1 AND user_id = $2", t.users, t.column)
	if _, err := s.db.ExecContext(ctx, query, resourceID, userID); err != nil {
		return fmt.Errorf("failed to delete user grant: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanGroup(row rowScanner) (*Group, error) {
	var g Group
	var groupType string
	err := row.Scan(
		&g.ID,
		&g.DataRoomID,
		&g.Name,
		&groupType,
		&g.Capabilities.CanViewDueDiligenceChecklist,
		&g.Capabilities.CanManageDocumentPermissions,
		&g.Capabilities.CanViewGroupUsers,
		&g.Capabilities.CanViewGroupActivity,
		&g.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	g.Type = GroupType(groupType)
	return &g, nil
}

func scanPermissionSet(row rowScanner) (PermissionSet, error) {
	var p PermissionSet
	err := row.Scan(
		&p.CanView,
		&p.CanDownloadPdf,
		&p.CanDownloadEncrypted,
		&p.CanDownloadOriginal,
		&p.CanUpload,
		&p.CanManage,
		&p.CanFence,
	)
	return p, err
}

func permissionArgs(p PermissionSet) []interface{} {
	return []interface{}{
		p.CanView,
		p.CanDownloadPdf,
		p.CanDownloadEncrypted,
		p.CanDownloadOriginal,
		p.CanUpload,
		p.CanManage,
		p.CanFence,
	}
}
