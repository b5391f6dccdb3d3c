package permissions

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_RegisterResource(t *testing.T) {
	f := newFixture(t)

	room, err := f.store.ResourceDataRoom(f.ctx, KindDocument, testDocument)
	require.NoError(t, err)
	assert.Equal(t, testRoom, room)

	// Re-registering moves the resource.
	require.NoError(t, f.store.RegisterResource(f.ctx, KindDocument, testDocument, otherRoom))
	room, err = f.store.ResourceDataRoom(f.ctx, KindDocument, testDocument)
	require.NoError(t, err)
	assert.Equal(t, otherRoom, room)

	_, err = f.store.ResourceDataRoom(f.ctx, KindFolder, "missing")
	assert.True(t, errors.Is(err, ErrNotFound))

	err = f.store.RegisterResource(f.ctx, ResourceKind("page"), "p", testRoom)
	assert.True(t, errors.Is(err, ErrInvalidInput))
}

func TestStore_GroupCRUD(t *testing.T) {
	f := newFixture(t)

	group := &Group{
		DataRoomID: testRoom,
		Name:       "Reviewers",
		Type:       GroupTypeCustom,
		Capabilities: GroupCapabilities{
			CanViewDueDiligenceChecklist: true,
		},
	}
	require.NoError(t, f.store.CreateGroup(f.ctx, group))
	assert.NotEmpty(t, group.ID, "expected generated id")
	assert.False(t, group.CreatedAt.IsZero())

	got, err := f.store.GetGroup(f.ctx, group.ID)
	require.NoError(t, err)
	assert.Equal(t, "Reviewers", got.Name)
	assert.Equal(t, GroupTypeCustom, got.Type)
	assert.True(t, got.Capabilities.CanViewDueDiligenceChecklist)
	assert.False(t, got.Capabilities.CanViewGroupUsers)

	_, err = f.store.GetGroup(f.ctx, "nope")
	assert.True(t, errors.Is(err, ErrNotFound))

	err = f.store.CreateGroup(f.ctx, &Group{DataRoomID: testRoom, Name: "x", Type: "OWNER"})
	assert.True(t, errors.Is(err, ErrInvalidInput))
}

func TestStore_Membership(t *testing.T) {
	f := newFixture(t)
	f.group("g1", testRoom, GroupTypeUser, "alice", "bob")
	f.group("g2", otherRoom, GroupTypeUser, "alice")

	// Adding twice is a no-op.
	require.NoError(t, f.store.AddMember(f.ctx, "g1", "alice"))

	members, err := f.store.GroupMembers(f.ctx, "g1")
	require.NoError(t, err)
	assert.Equal(t, []string{"alice", "bob"}, members)

	groups, err := f.store.UserGroups(f.ctx, "alice", testRoom)
	require.NoError(t, err)
	require.Len(t, groups, 1, "groups from other data rooms must not be returned")
	assert.Equal(t, "g1", groups[0].ID)

	require.NoError(t, f.store.RemoveMember(f.ctx, "g1", "alice"))
	groups, err = f.store.UserGroups(f.ctx, "alice", testRoom)
	require.NoError(t, err)
	assert.Empty(t, groups)
}

func TestStore_GroupGrantUpsert(t *testing.T) {
	f := newFixture(t)
	f.group("g1", testRoom, GroupTypeUser, "alice")

	f.groupGrant(KindDocument, testDocument, "g1", DefaultGrant())
	f.groupGrant(KindDocument, testDocument, "g1", PermissionSet{CanView: true, CanDownloadPdf: true})

	grants, err := f.store.ListGroupGrants(f.ctx, KindDocument, testDocument)
	require.NoError(t, err)
	require.Len(t, grants, 1, "at most one row per (resource, group)")
	assert.Equal(t, "g1", grants[0].GroupID)
	assert.Equal(t, PermissionSet{CanView: true, CanDownloadPdf: true}, grants[0].Permissions)

	// Folder grants live in their own table.
	folderGrants, err := f.store.ListGroupGrants(f.ctx, KindFolder, testFolder)
	require.NoError(t, err)
	assert.Empty(t, folderGrants)

	sets, err := f.store.GroupGrants(f.ctx, KindDocument, testDocument, []string{"g1", "g-other"})
	require.NoError(t, err)
	assert.Len(t, sets, 1)

	sets, err = f.store.GroupGrants(f.ctx, KindDocument, testDocument, nil)
	require.NoError(t, err)
	assert.Empty(t, sets)
}

func TestStore_UserGrant(t *testing.T) {
	f := newFixture(t)

	override, err := f.store.UserGrant(f.ctx, KindFolder, testFolder, "alice")
	require.NoError(t, err)
	assert.Nil(t, override)

	f.userGrant(KindFolder, testFolder, "alice", PermissionSet{CanUpload: true})
	f.userGrant(KindFolder, testFolder, "alice", PermissionSet{CanManage: true})

	override, err = f.store.UserGrant(f.ctx, KindFolder, testFolder, "alice")
	require.NoError(t, err)
	require.NotNil(t, override)
	assert.Equal(t, PermissionSet{CanManage: true}, *override)

	require.NoError(t, f.store.DeleteUserGrant(f.ctx, KindFolder, testFolder, "alice"))
	override, err = f.store.UserGrant(f.ctx, KindFolder, testFolder, "alice")
	require.NoError(t, err)
	assert.Nil(t, override)

	// Deleting a missing override is fine.
	assert.NoError(t, f.store.DeleteUserGrant(f.ctx, KindFolder, testFolder, "alice"))
}

func TestStore_DeleteGroupCascades(t *testing.T) {
	f := newFixture(t)
	f.group("g1", testRoom, GroupTypeUser, "alice")
	f.groupGrant(KindDocument, testDocument, "g1", FullAccess())
	f.groupGrant(KindFolder, testFolder, "g1", FullAccess())

	require.NoError(t, f.store.DeleteGroup(f.ctx, "g1"))

	members, err := f.store.GroupMembers(f.ctx, "g1")
	require.NoError(t, err)
	assert.Empty(t, members)

	docGrants, err := f.store.ListGroupGrants(f.ctx, KindDocument, testDocument)
	require.NoError(t, err)
	assert.Empty(t, docGrants)

	folderGrants, err := f.store.ListGroupGrants(f.ctx, KindFolder, testFolder)
	require.NoError(t, err)
	assert.Empty(t, folderGrants)

	err = f.store.DeleteGroup(f.ctx, "g1")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestStore_ValidatesInput(t *testing.T) {
	f := newFixture(t)

	err := f.store.UpsertGroupGrant(f.ctx, &GroupGrant{Kind: KindDocument, ResourceID: testDocument})
	assert.True(t, errors.Is(err, ErrInvalidInput))

	err = f.store.UpsertUserGrant(f.ctx, &UserGrant{Kind: "nope", ResourceID: testDocument, UserID: "u"})
	assert.True(t, errors.Is(err, ErrInvalidInput))

	err = f.store.AddMember(f.ctx, "", "alice")
	assert.True(t, errors.Is(err, ErrInvalidInput))
}
