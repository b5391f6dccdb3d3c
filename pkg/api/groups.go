package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/dataroom/pkg/audit"
	"github.com/platinummonkey/dataroom/pkg/httputil"
	"github.com/platinummonkey/dataroom/pkg/observability"
	"github.com/platinummonkey/dataroom/pkg/permissions"
)

// CreateGroupRequest is the body of POST /api/v1/datarooms/{roomID}/groups
type CreateGroupRequest struct {
	ID           string                        `json:"id,omitempty"`
	Name         string                        `json:"name"`
	Type         permissions.GroupType         `json:"type"`
	Capabilities permissions.GroupCapabilities `json:"capabilities"`
}

// CreateGroup handles POST /api/v1/datarooms/{roomID}/groups
func (h *Handlers) CreateGroup(w http.ResponseWriter, r *http.Request) {
	roomID := mux.Vars(r)["roomID"]
	if !h.requireRoomCapability(w, r, roomID, canManagePermissions) {
		return
	}

	var req CreateGroupRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.Type == "" {
		req.Type = permissions.GroupTypeCustom
	}

	group := &permissions.Group{
		ID:           req.ID,
		DataRoomID:   roomID,
		Name:         req.Name,
		Type:         req.Type,
		Capabilities: req.Capabilities,
	}
	if err := h.store.CreateGroup(r.Context(), group); err != nil {
		writeStoreError(w, r, err, "Failed to create group")
		return
	}

	h.log(r.Context(), audit.Event{
		Action:       audit.ActionGroupCreated,
		ResourceType: audit.ResourceGroup,
		ResourceID:   group.ID,
		DataRoomID:   roomID,
		Metadata: audit.Object(map[string]audit.Value{
			"name": audit.String(group.Name),
			"type": audit.String(string(group.Type)),
		}),
	})

	httputil.WriteJSON(w, http.StatusCreated, group)
}

// DeleteGroup handles DELETE /api/v1/groups/{groupID}
func (h *Handlers) DeleteGroup(w http.ResponseWriter, r *http.Request) {
	group, ok := h.groupFromPath(w, r, canManagePermissions)
	if !ok {
		return
	}

	if err := h.store.DeleteGroup(r.Context(), group.ID); err != nil {
		writeStoreError(w, r, err, "Failed to delete group")
		return
	}
	// Grants of the group may sit under any cached resolution.
	h.resolver.InvalidateAll(r.Context())

	h.log(r.Context(), audit.Event{
		Action:       audit.ActionGroupDeleted,
		ResourceType: audit.ResourceGroup,
		ResourceID:   group.ID,
		DataRoomID:   group.DataRoomID,
		Metadata:     audit.Object(map[string]audit.Value{"name": audit.String(group.Name)}),
	})

	httputil.WriteNoContent(w)
}

// ListMembers handles GET /api/v1/groups/{groupID}/members
func (h *Handlers) ListMembers(w http.ResponseWriter, r *http.Request) {
	group, ok := h.groupFromPath(w, r, canViewGroupUsers)
	if !ok {
		return
	}

	members, err := h.store.GroupMembers(r.Context(), group.ID)
	if err != nil {
		writeStoreError(w, r, err, "Failed to list group members")
		return
	}
	if members == nil {
		members = []string{}
	}
	httputil.WriteSuccess(w, members)
}

// AddMember handles PUT /api/v1/groups/{groupID}/members/{userID}
func (h *Handlers) AddMember(w http.ResponseWriter, r *http.Request) {
	group, ok := h.groupFromPath(w, r, canManagePermissions)
	if !ok {
		return
	}
	memberID := mux.Vars(r)["userID"]

	if err := h.store.AddMember(r.Context(), group.ID, memberID); err != nil {
		writeStoreError(w, r, err, "Failed to add group member")
		return
	}
	h.resolver.InvalidateUser(r.Context(), memberID)

	h.log(r.Context(), audit.Event{
		Action:       audit.ActionMemberAdded,
		ResourceType: audit.ResourceGroup,
		ResourceID:   group.ID,
		DataRoomID:   group.DataRoomID,
		Metadata:     audit.Object(map[string]audit.Value{"memberId": audit.String(memberID)}),
	})

	httputil.WriteNoContent(w)
}

// RemoveMember handles DELETE /api/v1/groups/{groupID}/members/{userID}
func (h *Handlers) RemoveMember(w http.ResponseWriter, r *http.Request) {
	group, ok := h.groupFromPath(w, r, canManagePermissions)
	if !ok {
		return
	}
	memberID := mux.Vars(r)["userID"]

	if err := h.store.RemoveMember(r.Context(), group.ID, memberID); err != nil {
		writeStoreError(w, r, err, "Failed to remove group member")
		return
	}
	h.resolver.InvalidateUser(r.Context(), memberID)

	h.log(r.Context(), audit.Event{
		Action:       audit.ActionMemberRemoved,
		ResourceType: audit.ResourceGroup,
		ResourceID:   group.ID,
		DataRoomID:   group.DataRoomID,
		Metadata:     audit.Object(map[string]audit.Value{"memberId": audit.String(memberID)}),
	})

	httputil.WriteNoContent(w)
}

func canManagePermissions(c permissions.GroupCapabilities) bool {
	return c.CanManageDocumentPermissions
}

func canViewGroupUsers(c permissions.GroupCapabilities) bool {
	return c.CanViewGroupUsers
}

// groupFromPath loads the {groupID} group and checks the caller's
// capability in the group's data room
func (h *Handlers) groupFromPath(w http.ResponseWriter, r *http.Request, allowed func(permissions.GroupCapabilities) bool) (*permissions.Group, bool) {
	if _, ok := currentUser(w, r); !ok {
		return nil, false
	}
	groupID, ok := httputil.ParsePathStringOrError(w, r, "groupID")
	if !ok {
		return nil, false
	}

	group, err := h.store.GetGroup(r.Context(), groupID)
	if err != nil {
		writeStoreError(w, r, err, "Failed to load group")
		return nil, false
	}
	if !h.requireRoomCapability(w, r, group.DataRoomID, allowed) {
		return nil, false
	}
	return group, true
}

// requireRoomCapability checks a data-room level flag of the caller
func (h *Handlers) requireRoomCapability(w http.ResponseWriter, r *http.Request, roomID string, allowed func(permissions.GroupCapabilities) bool) bool {
	userID, ok := currentUser(w, r)
	if !ok {
		return false
	}

	caps, err := h.resolver.ResolveCapabilities(r.Context(), userID, roomID)
	if err != nil {
		observability.FromContext(r.Context()).WithError(err).Error("Capability check failed")
		httputil.WriteInternalError(w)
		return false
	}
	if !allowed(caps) {
		httputil.WriteForbidden(w, "insufficient permissions")
		return false
	}
	return true
}
