package audit

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"golang.org/x/sync/singleflight"

	"github.com/platinummonkey/dataroom/pkg/contextkeys"
	"github.com/platinummonkey/dataroom/pkg/httputil"
	"github.com/platinummonkey/dataroom/pkg/observability"
)

// Authorizer decides whether a user may read the audit log of a data room
type Authorizer interface {
	CanReadAuditLog(ctx context.Context, userID, dataRoomID string) (bool, error)
}

// DefaultVerifyInterval is the minimum time between chain replays started
// over HTTP
const DefaultVerifyInterval = time.Minute

// Handlers serves the audit log over HTTP
type Handlers struct {
	store    Store
	writer   *Writer
	verifier *Verifier
	authz    Authorizer

	verifyInterval time.Duration
	now            func() time.Time
	verifyFlight   singleflight.Group

	mu           sync.Mutex
	lastVerify   *VerifyResult
	lastVerifyAt time.Time
}

// HandlerOption configures Handlers
type HandlerOption func(*Handlers)

// WithVerifyInterval sets the minimum time between chain replays. Requests
// inside the interval are answered with the previous result; zero replays on
// every request.
func WithVerifyInterval(d time.Duration) HandlerOption {
	return func(h *Handlers) { h.verifyInterval = d }
}

// WithHandlerClock replaces time.Now for the verify interval
func WithHandlerClock(now func() time.Time) HandlerOption {
	return func(h *Handlers) { h.now = now }
}

// NewHandlers creates audit handlers. writer receives chain_verified events
// and may be nil; a nil authz lets every authenticated user read everything.
func NewHandlers(store Store, writer *Writer, verifier *Verifier, authz Authorizer, opts ...HandlerOption) *Handlers {
	h := &Handlers{
		store:          store,
		writer:         writer,
		verifier:       verifier,
		authz:          authz,
		verifyInterval: DefaultVerifyInterval,
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// RegisterRoutes registers audit routes
func (h *Handlers) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/audit/entries", h.searchEntries).Methods("GET")
	r.HandleFunc("/audit/entries/{id}", h.getEntry).Methods("GET")
	r.HandleFunc("/audit/export", h.exportEntries).Methods("GET")
	r.HandleFunc("/audit/verify", h.verifyChain).Methods("GET", "POST")
}

// SearchResponse is a page of entries
type SearchResponse struct {
	Entries []*Entry `json:"entries"`
	Total   int      `json:"total"`
	Limit   int      `json:"limit"`
	Offset  int      `json:"offset"`
}

// searchEntries handles GET /audit/entries
func (h *Handlers) searchEntries(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	if !h.authorize(w, r, filter.DataRoomID) {
		return
	}

	entries, err := h.store.Search(r.Context(), filter)
	if err != nil {
		observability.FromContext(r.Context()).WithError(err).Error("Audit search failed")
		httputil.WriteInternalError(w)
		return
	}

	total, err := h.store.Count(r.Context(), filter)
	if err != nil {
		observability.FromContext(r.Context()).WithError(err).Error("Audit count failed")
		httputil.WriteInternalError(w)
		return
	}

	httputil.WriteSuccess(w, SearchResponse{
		Entries: entries,
		Total:   total,
		Limit:   filter.normalizedLimit(),
		Offset:  filter.Offset,
	})
}

// getEntry handles GET /audit/entries/{id}
func (h *Handlers) getEntry(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}

	entry, err := h.store.Get(r.Context(), id)
	if errors.Is(err, ErrNotFound) {
		httputil.WriteNotFoundError(w, "audit entry not found")
		return
	}
	if err != nil {
		observability.FromContext(r.Context()).WithError(err).Error("Audit lookup failed")
		httputil.WriteInternalError(w)
		return
	}

	if !h.authorize(w, r, entry.DataRoomID) {
		return
	}
	httputil.WriteSuccess(w, entry)
}

// exportEntries handles GET /audit/export?format=json|csv|ndjson
func (h *Handlers) exportEntries(w http.ResponseWriter, r *http.Request) {
	format, err := ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	filter, err := parseFilter(r)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	if !h.authorize(w, r, filter.DataRoomID) {
		return
	}

	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=audit.%s", format))

	if _, err := Export(r.Context(), h.store, w, format, filter); err != nil {
		// Headers are already sent; the truncated body is all we can do.
		observability.FromContext(r.Context()).WithError(err).Error("Audit export failed")
	}
}

// verifyChain handles /audit/verify. Callers need audit access to the data
// room named by dataRoomId.
func (h *Handlers) verifyChain(w http.ResponseWriter, r *http.Request) {
	if !h.authorize(w, r, r.URL.Query().Get("dataRoomId")) {
		return
	}

	result, verifiedAt, err := h.verify(r.Context())
	if err != nil {
		observability.FromContext(r.Context()).WithError(err).Error("Audit verification failed")
		httputil.WriteInternalError(w)
		return
	}

	w.Header().Set("Last-Modified", verifiedAt.UTC().Format(http.TimeFormat))
	status := http.StatusOK
	if !result.Valid {
		status = http.StatusConflict
	}
	httputil.WriteJSON(w, status, result)
}

// verify replays the chain at most once per interval. Concurrent requests
// share one replay, and only a replay that actually ran is recorded on the
// chain.
func (h *Handlers) verify(ctx context.Context) (VerifyResult, time.Time, error) {
	h.mu.Lock()
	if h.lastVerify != nil && h.verifyInterval > 0 && h.now().Sub(h.lastVerifyAt) < h.verifyInterval {
		result, at := *h.lastVerify, h.lastVerifyAt
		h.mu.Unlock()
		return result, at, nil
	}
	h.mu.Unlock()

	ch := h.verifyFlight.DoChan("verify", func() (interface{}, error) {
		// The replay outlives a caller that gives up
		replayCtx := context.WithoutCancel(ctx)

		result, err := h.verifier.Verify(replayCtx)
		if err != nil {
			return nil, err
		}
		at := h.now()

		h.mu.Lock()
		h.lastVerify, h.lastVerifyAt = &result, at
		h.mu.Unlock()

		if h.writer != nil {
			h.writer.Log(replayCtx, Event{
				Action:       ActionChainVerified,
				ResourceType: ResourceAuditLog,
				Metadata: Object(map[string]Value{
					"valid":   Bool(result.Valid),
					"checked": Number(float64(result.Checked)),
				}),
			})
		}
		return verifyOutcome{result: result, at: at}, nil
	})

	select {
	case out := <-ch:
		if out.Err != nil {
			return VerifyResult{}, time.Time{}, out.Err
		}
		outcome := out.Val.(verifyOutcome)
		return outcome.result, outcome.at, nil
	case <-ctx.Done():
		return VerifyResult{}, time.Time{}, ctx.Err()
	}
}

type verifyOutcome struct {
	result VerifyResult
	at     time.Time
}

func (h *Handlers) authorize(w http.ResponseWriter, r *http.Request, dataRoomID string) bool {
	userID := contextkeys.GetUserID(r.Context())
	if userID == "" {
		httputil.WriteUnauthorized(w, "authentication required")
		return false
	}
	if h.authz == nil {
		return true
	}
	if dataRoomID == "" {
		httputil.WriteBadRequest(w, "dataRoomId is required")
		return false
	}

	ok, err := h.authz.CanReadAuditLog(r.Context(), userID, dataRoomID)
	if err != nil {
		observability.FromContext(r.Context()).WithError(err).Error("Audit authorization failed")
		httputil.WriteInternalError(w)
		return false
	}
	if !ok {
		httputil.WriteForbidden(w, "insufficient permissions")
		return false
	}
	return true
}

// parseFilter reads the search query parameters
func parseFilter(r *http.Request) (Filter, error) {
	q := r.URL.Query()

	filter := Filter{
		UserID:       q.Get("userId"),
		DataRoomID:   q.Get("dataRoomId"),
		ResourceType: ResourceType(q.Get("resourceType")),
		ResourceID:   q.Get("resourceId"),
		IPAddress:    q.Get("ipAddress"),
		Ascending:    q.Get("order") == "asc",
	}

	for _, a := range httputil.ParseQueryList(r, "action") {
		filter.Actions = append(filter.Actions, Action(a))
	}

	var err error
	if filter.Since, err = httputil.ParseQueryTime(r, "since"); err != nil {
		return Filter{}, err
	}
	if filter.Until, err = httputil.ParseQueryTime(r, "until"); err != nil {
		return Filter{}, err
	}
	if filter.Limit, err = httputil.ParseQueryInt(r, "limit", DefaultSearchLimit); err != nil {
		return Filter{}, err
	}
	if filter.Offset, err = httputil.ParseQueryInt(r, "offset", 0); err != nil {
		return Filter{}, err
	}
	return filter, nil
}
