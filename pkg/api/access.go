package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/dataroom/pkg/audit"
	"github.com/platinummonkey/dataroom/pkg/httputil"
	"github.com/platinummonkey/dataroom/pkg/permissions"
)

// View handles GET /api/v1/documents/{id}/view. The permission middleware
// has already checked CanView; this records the access.
func (h *Handlers) View(w http.ResponseWriter, r *http.Request) {
	documentID := mux.Vars(r)["id"]

	h.log(r.Context(), audit.Event{
		Action:       audit.ActionViewed,
		ResourceType: audit.ResourceDocument,
		ResourceID:   documentID,
		DataRoomID:   h.dataRoomOf(r.Context(), permissions.KindDocument, documentID),
	})
	httputil.WriteNoContent(w)
}

// Upload handles POST /api/v1/folders/{id}/uploads?name=<file>. The
// permission middleware has already checked CanUpload.
func (h *Handlers) Upload(w http.ResponseWriter, r *http.Request) {
	folderID := mux.Vars(r)["id"]

	name := httputil.ParseQueryString(r, "name", "")
	if name == "" {
		httputil.WriteBadRequest(w, "name is required")
		return
	}

	h.log(r.Context(), audit.Event{
		Action:       audit.ActionUploaded,
		ResourceType: audit.ResourceFolder,
		ResourceID:   folderID,
		DataRoomID:   h.dataRoomOf(r.Context(), permissions.KindFolder, folderID),
		Metadata:     audit.Object(map[string]audit.Value{"fileName": audit.String(name)}),
	})
	httputil.WriteNoContent(w)
}

// recordDenied audits requests the permission middleware rejected
func (h *Handlers) recordDenied(r *http.Request, kind permissions.ResourceKind, resourceID string, c permissions.Capability) {
	resourceType := audit.ResourceDocument
	if kind == permissions.KindFolder {
		resourceType = audit.ResourceFolder
	}

	h.log(r.Context(), audit.Event{
		Action:       audit.ActionAccessDenied,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		DataRoomID:   h.dataRoomOf(r.Context(), kind, resourceID),
		Metadata:     audit.Object(map[string]audit.Value{"operation": audit.String(string(c))}),
	})
}
