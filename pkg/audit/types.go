package audit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/platinummonkey/dataroom/pkg/contextkeys"
)

var (
	// ErrNotFound is returned when an entry does not exist
	ErrNotFound = errors.New("audit entry not found")
	// ErrInvalidEvent is returned for events missing required fields
	ErrInvalidEvent = errors.New("invalid audit event")
	// ErrWriterClosed is returned by appends after Close
	ErrWriterClosed = errors.New("audit writer closed")
)

// Action names what happened
type Action string

const (
	ActionLogin             Action = "login"
	ActionLogout            Action = "logout"
	ActionViewed            Action = "viewed"
	ActionDownloaded        Action = "downloaded"
	ActionUploaded          Action = "uploaded"
	ActionDeleted           Action = "deleted"
	ActionAccessDenied      Action = "access_denied"
	ActionPermissionUpdated Action = "permission_updated"
	ActionPermissionRevoked Action = "permission_revoked"
	ActionGroupCreated      Action = "group_created"
	ActionGroupDeleted      Action = "group_deleted"
	ActionMemberAdded       Action = "member_added"
	ActionMemberRemoved     Action = "member_removed"
	ActionChainVerified     Action = "chain_verified"
)

// ResourceType names what the action applied to
type ResourceType string

const (
	ResourceDocument ResourceType = "document"
	ResourceFolder   ResourceType = "folder"
	ResourceGroup    ResourceType = "group"
	ResourceUser     ResourceType = "user"
	ResourceDataRoom ResourceType = "data_room"
	ResourceAuditLog ResourceType = "audit_log"
)

// Event is what callers hand to the writer. Empty optional strings are
// stored as NULL.
type Event struct {
	Action       Action
	ResourceType ResourceType
	ResourceID   string
	DataRoomID   string
	UserID       string
	Metadata     Value
	IPAddress    string
	UserAgent    string
}

// Validate checks the required fields
func (e Event) Validate() error {
	if e.Action == "" {
		return fmt.Errorf("%w: action is required", ErrInvalidEvent)
	}
	if e.ResourceType == "" {
		return fmt.Errorf("%w: resource type is required", ErrInvalidEvent)
	}
	return nil
}

// withRequestContext fills the user and network origin from the request
// context when the caller left them empty
func (e Event) withRequestContext(ctx context.Context) Event {
	if e.UserID == "" {
		e.UserID = contextkeys.GetUserID(ctx)
	}
	client := contextkeys.GetClient(ctx)
	if e.IPAddress == "" {
		e.IPAddress = client.IPAddress
	}
	if e.UserAgent == "" {
		e.UserAgent = client.UserAgent
	}
	return e
}

// Entry is one persisted, immutable link of the hash chain
type Entry struct {
	ID           string       `json:"id"`
	Seq          int64        `json:"seq"`
	Action       Action       `json:"action"`
	ResourceType ResourceType `json:"resourceType"`
	ResourceID   string       `json:"resourceId"`
	DataRoomID   string       `json:"dataRoomId,omitempty"`
	UserID       string       `json:"userId,omitempty"`
	Metadata     Value        `json:"metadata"`
	IPAddress    string       `json:"ipAddress,omitempty"`
	UserAgent    string       `json:"userAgent,omitempty"`
	PreviousHash string       `json:"previousHash,omitempty"`
	Hash         string       `json:"hash"`
	CreatedAt    time.Time    `json:"createdAt"`
}

// Filter selects entries for search, export and counting. Zero fields do not
// filter. Since and Until are inclusive.
type Filter struct {
	UserID       string
	Actions      []Action
	DataRoomID   string
	ResourceType ResourceType
	ResourceID   string
	IPAddress    string
	Since        time.Time
	Until        time.Time
	// Metadata matches top-level metadata fields by their text rendering,
	// e.g. {"success": "false"}
	Metadata map[string]string
	// ExcludeID drops one entry, used to look at history without the entry
	// under inspection
	ExcludeID string
	// BeforeSeq keeps entries appended before the given sequence number.
	// Entries sharing a timestamp are told apart by it.
	BeforeSeq int64

	Limit  int
	Offset int
	// Ascending returns chain order instead of newest first
	Ascending bool
}

const (
	DefaultSearchLimit = 100
	MaxSearchLimit     = 1000
)

// normalizedLimit clamps Limit for search queries
func (f Filter) normalizedLimit() int {
	switch {
	case f.Limit <= 0:
		return DefaultSearchLimit
	case f.Limit > MaxSearchLimit:
		return MaxSearchLimit
	}
	return f.Limit
}
