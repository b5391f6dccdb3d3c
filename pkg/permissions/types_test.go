package permissions

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseResourceKind(t *testing.T) {
	for _, s := range []string{"document", "documents"} {
		k, err := ParseResourceKind(s)
		require.NoError(t, err)
		assert.Equal(t, KindDocument, k)
	}
	for _, s := range []string{"folder", "folders"} {
		k, err := ParseResourceKind(s)
		require.NoError(t, err)
		assert.Equal(t, KindFolder, k)
	}

	_, err := ParseResourceKind("Document")
	assert.True(t, errors.Is(err, ErrInvalidInput))
}

func TestPermissionSet_Defaults(t *testing.T) {
	assert.Equal(t, PermissionSet{}, PermissionSet{}.Or(PermissionSet{}))
	assert.Equal(t, PermissionSet{CanView: true}, DefaultGrant())

	full := FullAccess()
	for _, c := range []Capability{CapView, CapDownloadPdf, CapDownloadEncrypted, CapDownloadOriginal, CapUpload, CapManage, CapFence} {
		assert.True(t, full.Has(c), string(c))
		assert.False(t, PermissionSet{}.Has(c), string(c))
		assert.Equal(t, only(c), only(c).Or(PermissionSet{}))
	}
	assert.False(t, full.Has(Capability("delete")))
}

func TestPermissionSet_OrIsCommutative(t *testing.T) {
	a := PermissionSet{CanView: true, CanFence: true}
	b := PermissionSet{CanUpload: true}
	assert.Equal(t, a.Or(b), b.Or(a))
	assert.Equal(t, PermissionSet{CanView: true, CanFence: true, CanUpload: true}, a.Or(b))
}

func TestGroupType_Valid(t *testing.T) {
	assert.True(t, GroupTypeAdministrator.Valid())
	assert.True(t, GroupTypeUser.Valid())
	assert.True(t, GroupTypeCustom.Valid())
	assert.False(t, GroupType("administrator").Valid())
}
