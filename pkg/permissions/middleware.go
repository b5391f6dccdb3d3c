package permissions

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/dataroom/pkg/contextkeys"
	"github.com/platinummonkey/dataroom/pkg/httputil"
	"github.com/platinummonkey/dataroom/pkg/observability"
)

// DeniedFunc is told about every request the middleware rejects with 403
type DeniedFunc func(r *http.Request, kind ResourceKind, resourceID string, c Capability)

// Middleware turns resolved permissions into HTTP authorization decisions
type Middleware struct {
	resolver *Resolver
	denied   DeniedFunc
}

// NewMiddleware creates permission middleware backed by the resolver
func NewMiddleware(resolver *Resolver) *Middleware {
	return &Middleware{resolver: resolver}
}

// OnDenied sets the hook called before a 403 is written
func (m *Middleware) OnDenied(fn DeniedFunc) *Middleware {
	m.denied = fn
	return m
}

// Require rejects the request with 403 unless the caller holds the
// capability on the resource named by the idVar route variable
func (m *Middleware) Require(kind ResourceKind, c Capability, idVar string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID := contextkeys.GetUserID(r.Context())
			if userID == "" {
				httputil.WriteUnauthorized(w, "authentication required")
				return
			}

			resourceID := mux.Vars(r)[idVar]
			if resourceID == "" {
				httputil.WriteBadRequest(w, "missing path parameter: "+idVar)
				return
			}

			p, err := m.resolver.Resolve(r.Context(), kind, userID, resourceID)
			if err != nil {
				observability.FromContext(r.Context()).WithError(err).Error("Permission check failed")
				httputil.WriteInternalError(w)
				return
			}

			if !p.Has(c) {
				if m.denied != nil {
					m.denied(r, kind, resourceID, c)
				}
				httputil.WriteForbidden(w, "insufficient permissions")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// RequireDocumentPermission requires a capability on the {id} document
func (m *Middleware) RequireDocumentPermission(c Capability) func(http.Handler) http.Handler {
	return m.Require(KindDocument, c, "id")
}

// RequireFolderPermission requires a capability on the {id} folder
func (m *Middleware) RequireFolderPermission(c Capability) func(http.Handler) http.Handler {
	return m.Require(KindFolder, c, "id")
}
