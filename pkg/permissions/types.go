package permissions

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotFound is returned by store lookups for missing rows
	ErrNotFound = errors.New("not found")
	// ErrInvalidInput is returned for malformed requests
	ErrInvalidInput = errors.New("invalid input")
)

// ResourceKind discriminates the two grant-bearing resource types.
// Documents and folders share one permission shape and one resolver.
type ResourceKind string

const (
	KindDocument ResourceKind = "document"
	KindFolder   ResourceKind = "folder"
)

// Valid reports whether k is a known resource kind
func (k ResourceKind) Valid() bool {
	return k == KindDocument || k == KindFolder
}

// ParseResourceKind accepts singular and plural forms ("document",
// "documents", "folder", "folders").
func ParseResourceKind(s string) (ResourceKind, error) {
	switch s {
	case "document", "documents":
		return KindDocument, nil
	case "folder", "folders":
		return KindFolder, nil
	}
	return "", fmt.Errorf("%w: unknown resource kind %q", ErrInvalidInput, s)
}

// GroupType classifies a group within a data room
type GroupType string

const (
	GroupTypeAdministrator GroupType = "ADMINISTRATOR"
	GroupTypeUser          GroupType = "USER"
	GroupTypeCustom        GroupType = "CUSTOM"
)

// Valid reports whether t is a known group type
func (t GroupType) Valid() bool {
	switch t {
	case GroupTypeAdministrator, GroupTypeUser, GroupTypeCustom:
		return true
	}
	return false
}

// DownloadKind selects which download capability is checked
type DownloadKind string

const (
	DownloadPDF       DownloadKind = "pdf"
	DownloadEncrypted DownloadKind = "encrypted"
	DownloadOriginal  DownloadKind = "original"
)

// PermissionSet is the seven-capability record shared by every grant table
// and by the resolved effective permission. The zero value denies everything.
type PermissionSet struct {
	CanView              bool `json:"canView"`
	CanDownloadPdf       bool `json:"canDownloadPdf"`
	CanDownloadEncrypted bool `json:"canDownloadEncrypted"`
	CanDownloadOriginal  bool `json:"canDownloadOriginal"`
	CanUpload            bool `json:"canUpload"`
	CanManage            bool `json:"canManage"`
	CanFence             bool `json:"canFence"`
}

// DefaultGrant is the persisted default of a new grant row: view only.
func DefaultGrant() PermissionSet {
	return PermissionSet{CanView: true}
}

// FullAccess grants every capability
func FullAccess() PermissionSet {
	return PermissionSet{
		CanView:              true,
		CanDownloadPdf:       true,
		CanDownloadEncrypted: true,
		CanDownloadOriginal:  true,
		CanUpload:            true,
		CanManage:            true,
		CanFence:             true,
	}
}

// Or returns the field-wise OR of p and other
func (p PermissionSet) Or(other PermissionSet) PermissionSet {
	return PermissionSet{
		CanView:              p.CanView || other.CanView,
		CanDownloadPdf:       p.CanDownloadPdf || other.CanDownloadPdf,
		CanDownloadEncrypted: p.CanDownloadEncrypted || other.CanDownloadEncrypted,
		CanDownloadOriginal:  p.CanDownloadOriginal || other.CanDownloadOriginal,
		CanUpload:            p.CanUpload || other.CanUpload,
		CanManage:            p.CanManage || other.CanManage,
		CanFence:             p.CanFence || other.CanFence,
	}
}

// CanDownload dispatches on the download kind. Unknown kinds are denied.
func (p PermissionSet) CanDownload(kind DownloadKind) bool {
	switch kind {
	case DownloadPDF:
		return p.CanDownloadPdf
	case DownloadEncrypted:
		return p.CanDownloadEncrypted
	case DownloadOriginal:
		return p.CanDownloadOriginal
	}
	return false
}

// Capability names a single boolean of a PermissionSet
type Capability string

const (
	CapView              Capability = "view"
	CapDownloadPdf       Capability = "download_pdf"
	CapDownloadEncrypted Capability = "download_encrypted"
	CapDownloadOriginal  Capability = "download_original"
	CapUpload            Capability = "upload"
	CapManage            Capability = "manage"
	CapFence             Capability = "fence"
)

// Has reports whether the set grants the capability
func (p PermissionSet) Has(c Capability) bool {
	switch c {
	case CapView:
		return p.CanView
	case CapDownloadPdf:
		return p.CanDownloadPdf
	case CapDownloadEncrypted:
		return p.CanDownloadEncrypted
	case CapDownloadOriginal:
		return p.CanDownloadOriginal
	case CapUpload:
		return p.CanUpload
	case CapManage:
		return p.CanManage
	case CapFence:
		return p.CanFence
	}
	return false
}

// Group is a named set of users inside one data room
type Group struct {
	ID           string            `json:"id"`
	DataRoomID   string            `json:"dataRoomId"`
	Name         string            `json:"name"`
	Type         GroupType         `json:"type"`
	Capabilities GroupCapabilities `json:"capabilities"`
	CreatedAt    time.Time         `json:"createdAt"`
}

// GroupCapabilities are the data-room level flags carried by CUSTOM groups
type GroupCapabilities struct {
	CanViewDueDiligenceChecklist bool `json:"canViewDueDiligenceChecklist"`
	CanManageDocumentPermissions bool `json:"canManageDocumentPermissions"`
	CanViewGroupUsers            bool `json:"canViewGroupUsers"`
	CanViewGroupActivity         bool `json:"canViewGroupActivity"`
}

// Or returns the field-wise OR of c and other
func (c GroupCapabilities) Or(other GroupCapabilities) GroupCapabilities {
	return GroupCapabilities{
		CanViewDueDiligenceChecklist: c.CanViewDueDiligenceChecklist || other.CanViewDueDiligenceChecklist,
		CanManageDocumentPermissions: c.CanManageDocumentPermissions || other.CanManageDocumentPermissions,
		CanViewGroupUsers:            c.CanViewGroupUsers || other.CanViewGroupUsers,
		CanViewGroupActivity:         c.CanViewGroupActivity || other.CanViewGroupActivity,
	}
}

func allCapabilities() GroupCapabilities {
	return GroupCapabilities{
		CanViewDueDiligenceChecklist: true,
		CanManageDocumentPermissions: true,
		CanViewGroupUsers:            true,
		CanViewGroupActivity:         true,
	}
}

// GroupMember joins a user to a group
type GroupMember struct {
	GroupID  string    `json:"groupId"`
	UserID   string    `json:"userId"`
	JoinedAt time.Time `json:"joinedAt"`
}

// GroupGrant is a DocumentGroupPermission or FolderGroupPermission row
type GroupGrant struct {
	Kind        ResourceKind  `json:"kind"`
	ResourceID  string        `json:"resourceId"`
	GroupID     string        `json:"groupId"`
	Permissions PermissionSet `json:"permissions"`
	UpdatedAt   time.Time     `json:"updatedAt"`
}

// UserGrant is a DocumentUserPermission or FolderUserPermission row. When
// present it replaces the group-derived result for that user and resource.
type UserGrant struct {
	Kind        ResourceKind  `json:"kind"`
	ResourceID  string        `json:"resourceId"`
	UserID      string        `json:"userId"`
	Permissions PermissionSet `json:"permissions"`
	UpdatedAt   time.Time     `json:"updatedAt"`
}

// Resolution is an effective permission set plus where it came from
type Resolution struct {
	Permissions PermissionSet `json:"permissions"`
	Source      Source        `json:"source"`
}

// Source explains which branch of the resolution algorithm produced the result
type Source string

const (
	SourceNone          Source = "none"
	SourceGroups        Source = "groups"
	SourceUserOverride  Source = "user_override"
	SourceAdministrator Source = "administrator"
)
