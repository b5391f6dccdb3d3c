package permissions

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolver_GroupGrantsAreOrCombined(t *testing.T) {
	f := newFixture(t)
	f.group("group-1", testRoom, GroupTypeUser, "alice")
	f.group("group-2", testRoom, GroupTypeCustom, "alice")
	f.groupGrant(KindDocument, testDocument, "group-1", PermissionSet{CanDownloadPdf: true})
	f.groupGrant(KindDocument, testDocument, "group-2", PermissionSet{CanDownloadOriginal: true})

	resolver := NewResolver(f.store)
	res, err := resolver.ResolveDetailed(f.ctx, KindDocument, "alice", testDocument)
	require.NoError(t, err)

	assert.Equal(t, SourceGroups, res.Source)
	assert.Equal(t, PermissionSet{CanDownloadPdf: true, CanDownloadOriginal: true}, res.Permissions)
}

func TestResolver_OrCombineEveryField(t *testing.T) {
	fields := []Capability{CapView, CapDownloadPdf, CapDownloadEncrypted, CapDownloadOriginal, CapUpload, CapManage, CapFence}

	for _, c := range fields {
		t.Run(string(c), func(t *testing.T) {
			f := newFixture(t)
			f.group("narrow", testRoom, GroupTypeUser, "alice")
			f.group("wide", testRoom, GroupTypeUser, "alice")
			f.groupGrant(KindFolder, testFolder, "narrow", PermissionSet{})
			f.groupGrant(KindFolder, testFolder, "wide", only(c))

			p, err := NewResolver(f.store).Resolve(f.ctx, KindFolder, "alice", testFolder)
			require.NoError(t, err)
			assert.Equal(t, only(c), p, "a narrower group must not remove access")
		})
	}
}

func TestResolver_UserOverrideReplacesGroups(t *testing.T) {
	f := newFixture(t)
	f.group("g1", testRoom, GroupTypeUser, "alice")
	f.groupGrant(KindDocument, testDocument, "g1", PermissionSet{
		CanView:        true,
		CanDownloadPdf: true,
		CanManage:      true,
	})

	// The override clears fields groups set and sets fields groups did not.
	override := PermissionSet{CanView: true, CanFence: true}
	f.userGrant(KindDocument, testDocument, "alice", override)

	res, err := NewResolver(f.store).ResolveDetailed(f.ctx, KindDocument, "alice", testDocument)
	require.NoError(t, err)
	assert.Equal(t, SourceUserOverride, res.Source)
	assert.Equal(t, override, res.Permissions)
}

func TestResolver_AllFalseOverrideRevokes(t *testing.T) {
	f := newFixture(t)
	f.group("g1", testRoom, GroupTypeUser, "alice")
	f.groupGrant(KindDocument, testDocument, "g1", FullAccess())
	f.userGrant(KindDocument, testDocument, "alice", PermissionSet{})

	p, err := NewResolver(f.store).Resolve(f.ctx, KindDocument, "alice", testDocument)
	require.NoError(t, err)
	assert.Equal(t, PermissionSet{}, p)
}

func TestResolver_OverrideWithoutGroups(t *testing.T) {
	f := newFixture(t)
	f.userGrant(KindFolder, testFolder, "carol", PermissionSet{CanUpload: true})

	p, err := NewResolver(f.store).Resolve(f.ctx, KindFolder, "carol", testFolder)
	require.NoError(t, err)
	assert.Equal(t, PermissionSet{CanUpload: true}, p)
}

func TestResolver_DefaultDeny(t *testing.T) {
	f := newFixture(t)
	f.group("g1", testRoom, GroupTypeUser, "alice")
	f.groupGrant(KindDocument, testDocument, "g1", FullAccess())

	resolver := NewResolver(f.store)

	t.Run("no memberships", func(t *testing.T) {
		res, err := resolver.ResolveDetailed(f.ctx, KindDocument, "mallory", testDocument)
		require.NoError(t, err)
		assert.Equal(t, PermissionSet{}, res.Permissions)
		assert.Equal(t, SourceNone, res.Source)
	})

	t.Run("groups without grants", func(t *testing.T) {
		f.group("g-empty", testRoom, GroupTypeUser, "dave")
		p, err := resolver.Resolve(f.ctx, KindDocument, "dave", testDocument)
		require.NoError(t, err)
		assert.Equal(t, PermissionSet{}, p)
	})

	t.Run("unknown resource", func(t *testing.T) {
		p, err := resolver.Resolve(f.ctx, KindDocument, "alice", "doc-missing")
		require.NoError(t, err)
		assert.Equal(t, PermissionSet{}, p)
	})

	t.Run("empty user", func(t *testing.T) {
		p, err := resolver.Resolve(f.ctx, KindDocument, "", testDocument)
		require.NoError(t, err)
		assert.Equal(t, PermissionSet{}, p)
	})
}

func TestResolver_MembershipIsScopedToDataRoom(t *testing.T) {
	f := newFixture(t)
	// A group in another data room holding a grant row on this document must
	// not leak access.
	f.group("foreign", otherRoom, GroupTypeUser, "alice")
	f.groupGrant(KindDocument, testDocument, "foreign", FullAccess())

	p, err := NewResolver(f.store).Resolve(f.ctx, KindDocument, "alice", testDocument)
	require.NoError(t, err)
	assert.Equal(t, PermissionSet{}, p)
}

func TestResolver_AdministratorBypass(t *testing.T) {
	f := newFixture(t)
	f.group("admins", testRoom, GroupTypeAdministrator, "root")
	f.userGrant(KindDocument, testDocument, "root", PermissionSet{})

	res, err := NewResolver(f.store).ResolveDetailed(f.ctx, KindDocument, "root", testDocument)
	require.NoError(t, err)
	assert.Equal(t, SourceAdministrator, res.Source)
	assert.Equal(t, FullAccess(), res.Permissions)

	// Administrators of another data room get nothing here.
	f.group("other-admins", otherRoom, GroupTypeAdministrator, "eve")
	p, err := NewResolver(f.store).Resolve(f.ctx, KindDocument, "eve", testDocument)
	require.NoError(t, err)
	assert.Equal(t, PermissionSet{}, p)
}

func TestResolver_DownloadKindDispatch(t *testing.T) {
	tests := []struct {
		grant PermissionSet
		want  map[DownloadKind]bool
	}{
		{PermissionSet{CanDownloadPdf: true}, map[DownloadKind]bool{DownloadPDF: true, DownloadEncrypted: false, DownloadOriginal: false}},
		{PermissionSet{CanDownloadEncrypted: true}, map[DownloadKind]bool{DownloadPDF: false, DownloadEncrypted: true, DownloadOriginal: false}},
		{PermissionSet{CanDownloadOriginal: true}, map[DownloadKind]bool{DownloadPDF: false, DownloadEncrypted: false, DownloadOriginal: true}},
	}

	for _, tt := range tests {
		f := newFixture(t)
		f.group("g1", testRoom, GroupTypeUser, "alice")
		f.groupGrant(KindDocument, testDocument, "g1", tt.grant)
		resolver := NewResolver(f.store)

		for kind, want := range tt.want {
			got, err := resolver.CanDownloadDocument(f.ctx, "alice", testDocument, kind)
			require.NoError(t, err)
			assert.Equal(t, want, got, "grant %+v kind %s", tt.grant, kind)
		}

		got, err := resolver.CanDownloadDocument(f.ctx, "alice", testDocument, DownloadKind("docx"))
		require.NoError(t, err)
		assert.False(t, got, "unknown download kinds are denied")
	}
}

func TestResolver_Projections(t *testing.T) {
	f := newFixture(t)
	f.group("g1", testRoom, GroupTypeUser, "alice")
	f.groupGrant(KindDocument, testDocument, "g1", PermissionSet{CanView: true})
	f.groupGrant(KindFolder, testFolder, "g1", PermissionSet{CanUpload: true, CanManage: true})

	resolver := NewResolver(f.store)

	check := func(fn func(context.Context, string, string) (bool, error), id string, want bool) {
		t.Helper()
		got, err := fn(f.ctx, "alice", id)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	check(resolver.CanViewDocument, testDocument, true)
	check(resolver.CanManageDocument, testDocument, false)
	check(resolver.CanViewFolder, testFolder, false)
	check(resolver.CanUploadToFolder, testFolder, true)
	check(resolver.CanManageFolder, testFolder, true)
}

func TestResolver_ResolveCapabilities(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.store.CreateGroup(f.ctx, &Group{
		ID: "checklist", DataRoomID: testRoom, Name: "checklist", Type: GroupTypeCustom,
		Capabilities: GroupCapabilities{CanViewDueDiligenceChecklist: true},
	}))
	require.NoError(t, f.store.CreateGroup(f.ctx, &Group{
		ID: "activity", DataRoomID: testRoom, Name: "activity", Type: GroupTypeCustom,
		Capabilities: GroupCapabilities{CanViewGroupActivity: true},
	}))
	// USER groups never contribute flags even if the columns are set.
	require.NoError(t, f.store.CreateGroup(f.ctx, &Group{
		ID: "plain", DataRoomID: testRoom, Name: "plain", Type: GroupTypeUser,
		Capabilities: GroupCapabilities{CanManageDocumentPermissions: true},
	}))
	for _, g := range []string{"checklist", "activity", "plain"} {
		require.NoError(t, f.store.AddMember(f.ctx, g, "alice"))
	}
	f.group("admins", testRoom, GroupTypeAdministrator, "root")

	resolver := NewResolver(f.store)

	caps, err := resolver.ResolveCapabilities(f.ctx, "alice", testRoom)
	require.NoError(t, err)
	assert.Equal(t, GroupCapabilities{CanViewDueDiligenceChecklist: true, CanViewGroupActivity: true}, caps)

	caps, err = resolver.ResolveCapabilities(f.ctx, "root", testRoom)
	require.NoError(t, err)
	assert.Equal(t, allCapabilities(), caps)

	caps, err = resolver.ResolveCapabilities(f.ctx, "nobody", testRoom)
	require.NoError(t, err)
	assert.Equal(t, GroupCapabilities{}, caps)
}

func TestResolver_InvalidKind(t *testing.T) {
	f := newFixture(t)
	_, err := NewResolver(f.store).Resolve(f.ctx, ResourceKind("page"), "alice", "p1")
	assert.True(t, errors.Is(err, ErrInvalidInput))
}

// failingReader lets a single read fail
type failingReader struct {
	Reader
	groupsErr error
	userErr   error
}

func (r failingReader) UserGroups(ctx context.Context, userID, dataRoomID string) ([]Group, error) {
	if r.groupsErr != nil {
		return nil, r.groupsErr
	}
	return r.Reader.UserGroups(ctx, userID, dataRoomID)
}

func (r failingReader) UserGrant(ctx context.Context, kind ResourceKind, resourceID, userID string) (*PermissionSet, error) {
	if r.userErr != nil {
		return nil, r.userErr
	}
	return r.Reader.UserGrant(ctx, kind, resourceID, userID)
}

func TestResolver_StoreErrorsPropagate(t *testing.T) {
	f := newFixture(t)
	boom := errors.New("connection reset")

	_, err := NewResolver(failingReader{Reader: f.store, groupsErr: boom}).Resolve(f.ctx, KindDocument, "alice", testDocument)
	assert.ErrorIs(t, err, boom)

	_, err = NewResolver(failingReader{Reader: f.store, userErr: boom}).Resolve(f.ctx, KindDocument, "alice", testDocument)
	assert.ErrorIs(t, err, boom)
}

func TestCombine(t *testing.T) {
	override := &PermissionSet{CanFence: true}
	grants := []PermissionSet{{CanView: true}, {CanUpload: true}}

	assert.Equal(t, Resolution{Permissions: FullAccess(), Source: SourceAdministrator}, combine(true, grants, override))
	assert.Equal(t, Resolution{Permissions: *override, Source: SourceUserOverride}, combine(false, grants, override))
	assert.Equal(t, Resolution{Permissions: PermissionSet{CanView: true, CanUpload: true}, Source: SourceGroups}, combine(false, grants, nil))
	assert.Equal(t, Resolution{Source: SourceNone}, combine(false, nil, nil))
}

func only(c Capability) PermissionSet {
	var p PermissionSet
	switch c {
	case CapView:
		p.CanView = true
	case CapDownloadPdf:
		p.CanDownloadPdf = true
	case CapDownloadEncrypted:
		p.CanDownloadEncrypted = true
	case CapDownloadOriginal:
		p.CanDownloadOriginal = true
	case CapUpload:
		p.CanUpload = true
	case CapManage:
		p.CanManage = true
	case CapFence:
		p.CanFence = true
	}
	return p
}

// pausingReader holds the first UserGrant call after its read until release
// is closed, simulating a slow store read overlapping a grant change
type pausingReader struct {
	Reader
	once    sync.Once
	paused  chan struct{}
	release chan struct{}
	calls   atomic.Int32
	ctxErr  chan error
}

func newPausingReader(r Reader) *pausingReader {
	return &pausingReader{
		Reader:  r,
		paused:  make(chan struct{}),
		release: make(chan struct{}),
		ctxErr:  make(chan error, 1),
	}
}

func (r *pausingReader) UserGrant(ctx context.Context, kind ResourceKind, resourceID, userID string) (*PermissionSet, error) {
	r.calls.Add(1)
	p, err := r.Reader.UserGrant(ctx, kind, resourceID, userID)

	first := false
	r.once.Do(func() { first = true })
	if first {
		close(r.paused)
		<-r.release
		r.ctxErr <- ctx.Err()
	}
	return p, err
}

func TestResolver_InvalidationDuringReadIsNotCached(t *testing.T) {
	f := newFixture(t)
	f.userGrant(KindDocument, testDocument, "alice", FullAccess())

	reader := newPausingReader(f.store)
	resolver := NewResolver(reader, WithCache(NewCache(nil, DefaultCacheConfig(), nil, nil)))

	stale := make(chan PermissionSet, 1)
	go func() {
		p, _ := resolver.Resolve(f.ctx, KindDocument, "alice", testDocument)
		stale <- p
	}()
	<-reader.paused

	f.userGrant(KindDocument, testDocument, "alice", PermissionSet{})
	resolver.InvalidateResource(f.ctx, KindDocument, testDocument)

	// A caller after the invalidation must not join the paused read
	fresh, err := resolver.Resolve(f.ctx, KindDocument, "alice", testDocument)
	require.NoError(t, err)
	assert.Equal(t, PermissionSet{}, fresh)

	close(reader.release)
	assert.Equal(t, FullAccess(), <-stale, "the overlapping read still answers its own caller")

	after, err := resolver.Resolve(f.ctx, KindDocument, "alice", testDocument)
	require.NoError(t, err)
	assert.Equal(t, PermissionSet{}, after, "the pre-change read must not be cached")
}

func TestResolver_SharedReadSurvivesCallerCancellation(t *testing.T) {
	f := newFixture(t)
	f.userGrant(KindDocument, testDocument, "alice", PermissionSet{CanView: true})

	reader := newPausingReader(f.store)
	resolver := NewResolver(reader, WithCache(NewCache(nil, DefaultCacheConfig(), nil, nil)))

	ctx, cancel := context.WithCancel(f.ctx)
	errs := make(chan error, 1)
	go func() {
		_, err := resolver.Resolve(ctx, KindDocument, "alice", testDocument)
		errs <- err
	}()
	<-reader.paused

	cancel()
	select {
	case err := <-errs:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("cancelled caller did not return")
	}

	close(reader.release)
	assert.NoError(t, <-reader.ctxErr, "the shared read must not inherit the caller's cancellation")

	require.Eventually(t, func() bool {
		p, err := resolver.Resolve(f.ctx, KindDocument, "alice", testDocument)
		return err == nil && p.CanView && reader.calls.Load() == 1
	}, 5*time.Second, 10*time.Millisecond, "the shared read should have filled the cache")
}
