package api

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/dataroom/pkg/audit"
	"github.com/platinummonkey/dataroom/pkg/httputil"
	"github.com/platinummonkey/dataroom/pkg/observability"
	"github.com/platinummonkey/dataroom/pkg/permissions"
)

// EffectivePermissionsResponse is the caller's resolved permission set
type EffectivePermissionsResponse struct {
	Kind        permissions.ResourceKind  `json:"kind"`
	ResourceID  string                    `json:"resourceId"`
	Permissions permissions.PermissionSet `json:"permissions"`
	Source      permissions.Source        `json:"source"`
}

// GetEffectivePermissions handles GET /api/v1/{kind}/{id}/permissions
func (h *Handlers) GetEffectivePermissions(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	kind, resourceID, ok := resourceFromPath(w, r)
	if !ok {
		return
	}

	res, err := h.resolver.ResolveDetailed(r.Context(), kind, userID, resourceID)
	if err != nil {
		writeStoreError(w, r, err, "Permission resolution failed")
		return
	}

	httputil.WriteSuccess(w, EffectivePermissionsResponse{
		Kind:        kind,
		ResourceID:  resourceID,
		Permissions: res.Permissions,
		Source:      res.Source,
	})
}

// ListGroupGrants handles GET /api/v1/{kind}/{id}/groups
func (h *Handlers) ListGroupGrants(w http.ResponseWriter, r *http.Request) {
	kind, resourceID, ok := h.requireManage(w, r)
	if !ok {
		return
	}

	grants, err := h.store.ListGroupGrants(r.Context(), kind, resourceID)
	if err != nil {
		writeStoreError(w, r, err, "Failed to list group grants")
		return
	}
	if grants == nil {
		grants = []permissions.GroupGrant{}
	}
	httputil.WriteSuccess(w, grants)
}

// PutGroupGrant handles PUT /api/v1/{kind}/{id}/groups/{groupID}/permissions.
// Fields missing from the body take the defaults of a new grant.
func (h *Handlers) PutGroupGrant(w http.ResponseWriter, r *http.Request) {
	kind, resourceID, ok := h.requireManage(w, r)
	if !ok {
		return
	}
	groupID := mux.Vars(r)["groupID"]

	perms := permissions.DefaultGrant()
	if !httputil.ParseJSONOrError(w, r, &perms) {
		return
	}

	room := h.dataRoomOf(r.Context(), kind, resourceID)
	group, err := h.store.GetGroup(r.Context(), groupID)
	if err != nil {
		writeStoreError(w, r, err, "Failed to load group")
		return
	}
	if group.DataRoomID != room {
		httputil.WriteBadRequest(w, "group belongs to a different data room")
		return
	}

	grant := &permissions.GroupGrant{
		Kind:        kind,
		ResourceID:  resourceID,
		GroupID:     groupID,
		Permissions: perms,
	}
	if err := h.store.UpsertGroupGrant(r.Context(), grant); err != nil {
		writeStoreError(w, r, err, "Failed to upsert group grant")
		return
	}
	h.resolver.InvalidateResource(r.Context(), kind, resourceID)

	h.log(r.Context(), audit.Event{
		Action:       audit.ActionPermissionUpdated,
		ResourceType: audit.ResourceType(kind),
		ResourceID:   resourceID,
		DataRoomID:   room,
		Metadata:     grantMetadata("groupId", groupID, perms),
	})

	httputil.WriteSuccess(w, grant)
}

// PutUserGrant handles PUT /api/v1/{kind}/{id}/users/{userID}/permissions.
// The stored set replaces whatever the user's groups would grant.
func (h *Handlers) PutUserGrant(w http.ResponseWriter, r *http.Request) {
	kind, resourceID, ok := h.requireManage(w, r)
	if !ok {
		return
	}
	targetID := mux.Vars(r)["userID"]

	perms := permissions.DefaultGrant()
	if !httputil.ParseJSONOrError(w, r, &perms) {
		return
	}

	grant := &permissions.UserGrant{
		Kind:        kind,
		ResourceID:  resourceID,
		UserID:      targetID,
		Permissions: perms,
	}
	if err := h.store.UpsertUserGrant(r.Context(), grant); err != nil {
		writeStoreError(w, r, err, "Failed to upsert user grant")
		return
	}
	h.resolver.InvalidateResource(r.Context(), kind, resourceID)

	h.log(r.Context(), audit.Event{
		Action:       audit.ActionPermissionUpdated,
		ResourceType: audit.ResourceType(kind),
		ResourceID:   resourceID,
		DataRoomID:   h.dataRoomOf(r.Context(), kind, resourceID),
		Metadata:     grantMetadata("targetUserId", targetID, perms),
	})

	httputil.WriteSuccess(w, grant)
}

// DeleteUserGrant handles DELETE /api/v1/{kind}/{id}/users/{userID}/permissions
func (h *Handlers) DeleteUserGrant(w http.ResponseWriter, r *http.Request) {
	kind, resourceID, ok := h.requireManage(w, r)
	if !ok {
		return
	}
	targetID := mux.Vars(r)["userID"]

	if err := h.store.DeleteUserGrant(r.Context(), kind, resourceID, targetID); err != nil {
		writeStoreError(w, r, err, "Failed to delete user grant")
		return
	}
	h.resolver.InvalidateResource(r.Context(), kind, resourceID)

	h.log(r.Context(), audit.Event{
		Action:       audit.ActionPermissionRevoked,
		ResourceType: audit.ResourceType(kind),
		ResourceID:   resourceID,
		DataRoomID:   h.dataRoomOf(r.Context(), kind, resourceID),
		Metadata:     audit.Object(map[string]audit.Value{"targetUserId": audit.String(targetID)}),
	})

	httputil.WriteNoContent(w)
}

// Download handles GET /api/v1/documents/{id}/download?type=pdf|encrypted|original.
// It only authorizes: 204 when allowed, 403 when not, with either outcome
// recorded in the audit trail.
func (h *Handlers) Download(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	documentID, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}

	kind := permissions.DownloadKind(httputil.ParseQueryString(r, "type", string(permissions.DownloadPDF)))
	switch kind {
	case permissions.DownloadPDF, permissions.DownloadEncrypted, permissions.DownloadOriginal:
	default:
		httputil.WriteBadRequest(w, "type must be one of pdf, encrypted, original")
		return
	}

	allowed, err := h.resolver.CanDownloadDocument(r.Context(), userID, documentID, kind)
	if err != nil {
		writeStoreError(w, r, err, "Download authorization failed")
		return
	}

	event := audit.Event{
		Action:       audit.ActionDownloaded,
		ResourceType: audit.ResourceDocument,
		ResourceID:   documentID,
		DataRoomID:   h.dataRoomOf(r.Context(), permissions.KindDocument, documentID),
		Metadata:     audit.Object(map[string]audit.Value{"type": audit.String(string(kind))}),
	}
	if !allowed {
		event.Action = audit.ActionAccessDenied
		event.Metadata = audit.Object(map[string]audit.Value{
			"type":      audit.String(string(kind)),
			"operation": audit.String("download"),
		})
		h.log(r.Context(), event)
		httputil.WriteForbidden(w, "insufficient permissions")
		return
	}

	h.log(r.Context(), event)
	httputil.WriteNoContent(w)
}

// requireManage authenticates the caller and checks CanManage on the
// resource named by the route
func (h *Handlers) requireManage(w http.ResponseWriter, r *http.Request) (permissions.ResourceKind, string, bool) {
	userID, ok := currentUser(w, r)
	if !ok {
		return "", "", false
	}
	kind, resourceID, ok := resourceFromPath(w, r)
	if !ok {
		return "", "", false
	}

	p, err := h.resolver.Resolve(r.Context(), kind, userID, resourceID)
	if err != nil {
		if errors.Is(err, permissions.ErrInvalidInput) {
			httputil.WriteBadRequest(w, err.Error())
			return "", "", false
		}
		observability.FromContext(r.Context()).WithError(err).Error("Permission check failed")
		httputil.WriteInternalError(w)
		return "", "", false
	}
	if !p.CanManage {
		httputil.WriteForbidden(w, "insufficient permissions")
		return "", "", false
	}
	return kind, resourceID, true
}

// grantMetadata records who the grant targets and the stored flags
func grantMetadata(targetKey, targetID string, p permissions.PermissionSet) audit.Value {
	return audit.Object(map[string]audit.Value{
		targetKey: audit.String(targetID),
		"permissions": audit.Object(map[string]audit.Value{
			"canView":              audit.Bool(p.CanView),
			"canDownloadPdf":       audit.Bool(p.CanDownloadPdf),
			"canDownloadEncrypted": audit.Bool(p.CanDownloadEncrypted),
			"canDownloadOriginal":  audit.Bool(p.CanDownloadOriginal),
			"canUpload":            audit.Bool(p.CanUpload),
			"canManage":            audit.Bool(p.CanManage),
			"canFence":             audit.Bool(p.CanFence),
		}),
	})
}
