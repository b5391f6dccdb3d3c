package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/dataroom/pkg/audit"
	"github.com/platinummonkey/dataroom/pkg/contextkeys"
	"github.com/platinummonkey/dataroom/pkg/httputil"
	"github.com/platinummonkey/dataroom/pkg/observability"
	"github.com/platinummonkey/dataroom/pkg/permissions"
)

// GrantStore is the persistence the handlers write through
type GrantStore interface {
	ResourceDataRoom(ctx context.Context, kind permissions.ResourceKind, resourceID string) (string, error)
	ListGroupGrants(ctx context.Context, kind permissions.ResourceKind, resourceID string) ([]permissions.GroupGrant, error)
	UpsertGroupGrant(ctx context.Context, grant *permissions.GroupGrant) error
	UpsertUserGrant(ctx context.Context, grant *permissions.UserGrant) error
	DeleteUserGrant(ctx context.Context, kind permissions.ResourceKind, resourceID, userID string) error

	CreateGroup(ctx context.Context, group *permissions.Group) error
	GetGroup(ctx context.Context, groupID string) (*permissions.Group, error)
	DeleteGroup(ctx context.Context, groupID string) error
	AddMember(ctx context.Context, groupID, userID string) error
	RemoveMember(ctx context.Context, groupID, userID string) error
	GroupMembers(ctx context.Context, groupID string) ([]string, error)
}

// Auditor records audit events
type Auditor interface {
	Log(ctx context.Context, event audit.Event)
}

// Handlers serves permission reads, grant management and the download check
type Handlers struct {
	resolver *permissions.Resolver
	store    GrantStore
	auditor  Auditor
}

// NewHandlers creates the data room handlers
func NewHandlers(resolver *permissions.Resolver, store GrantStore, auditor Auditor) *Handlers {
	return &Handlers{
		resolver: resolver,
		store:    store,
		auditor:  auditor,
	}
}

// RegisterRoutes registers the data room routes under /api/v1
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	r := router.PathPrefix("/api/v1").Subrouter()

	// Effective permissions for the caller
	r.HandleFunc("/{kind:documents|folders}/{id}/permissions", h.GetEffectivePermissions).Methods("GET")

	// Grants
	r.HandleFunc("/{kind:documents|folders}/{id}/groups", h.ListGroupGrants).Methods("GET")
	r.HandleFunc("/{kind:documents|folders}/{id}/groups/{groupID}/permissions", h.PutGroupGrant).Methods("PUT")
	r.HandleFunc("/{kind:documents|folders}/{id}/users/{userID}/permissions", h.PutUserGrant).Methods("PUT")
	r.HandleFunc("/{kind:documents|folders}/{id}/users/{userID}/permissions", h.DeleteUserGrant).Methods("DELETE")

	// Access checks
	r.HandleFunc("/documents/{id}/download", h.Download).Methods("GET")
	access := permissions.NewMiddleware(h.resolver).OnDenied(h.recordDenied)
	r.Handle("/documents/{id}/view",
		access.RequireDocumentPermission(permissions.CapView)(http.HandlerFunc(h.View))).Methods("GET")
	r.Handle("/folders/{id}/uploads",
		access.RequireFolderPermission(permissions.CapUpload)(http.HandlerFunc(h.Upload))).Methods("POST")

	// Groups and membership
	r.HandleFunc("/datarooms/{roomID}/groups", h.CreateGroup).Methods("POST")
	r.HandleFunc("/groups/{groupID}", h.DeleteGroup).Methods("DELETE")
	r.HandleFunc("/groups/{groupID}/members", h.ListMembers).Methods("GET")
	r.HandleFunc("/groups/{groupID}/members/{userID}", h.AddMember).Methods("PUT")
	r.HandleFunc("/groups/{groupID}/members/{userID}", h.RemoveMember).Methods("DELETE")
}

// resourceFromPath reads the {kind} and {id} route variables
func resourceFromPath(w http.ResponseWriter, r *http.Request) (permissions.ResourceKind, string, bool) {
	kind, err := permissions.ParseResourceKind(mux.Vars(r)["kind"])
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return "", "", false
	}
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return "", "", false
	}
	return kind, id, true
}

// currentUser returns the authenticated caller or writes 401
func currentUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID := contextkeys.GetUserID(r.Context())
	if userID == "" {
		httputil.WriteUnauthorized(w, "authentication required")
		return "", false
	}
	return userID, true
}

// dataRoomOf looks up the data room of a resource for audit context. A
// lookup failure leaves the field empty rather than failing the request.
func (h *Handlers) dataRoomOf(ctx context.Context, kind permissions.ResourceKind, resourceID string) string {
	room, err := h.store.ResourceDataRoom(ctx, kind, resourceID)
	if err != nil && !errors.Is(err, permissions.ErrNotFound) {
		observability.FromContext(ctx).WithError(err).Warn("Data room lookup failed")
	}
	return room
}

func (h *Handlers) log(ctx context.Context, event audit.Event) {
	if h.auditor == nil {
		return
	}
	h.auditor.Log(ctx, event)
}

func writeStoreError(w http.ResponseWriter, r *http.Request, err error, message string) {
	switch {
	case errors.Is(err, permissions.ErrNotFound):
		httputil.WriteNotFoundError(w, "not found")
	case errors.Is(err, permissions.ErrInvalidInput):
		httputil.WriteBadRequest(w, err.Error())
	default:
		observability.FromContext(r.Context()).WithError(err).Error(message)
		httputil.WriteInternalError(w)
	}
}
