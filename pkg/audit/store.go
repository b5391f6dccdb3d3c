package audit

import (
	"context"
	"sort"
	"sync"
)

// BuildFunc creates the next entry given the current chain head, which is
// nil for an empty log
type BuildFunc func(prev *Entry) (*Entry, error)

// Store persists the hash chain. AppendEntry must run the read of the head,
// the build and the insert as one atomic step with respect to every other
// AppendEntry on the same log.
type Store interface {
	AppendEntry(ctx context.Context, build BuildFunc) (*Entry, error)
	Get(ctx context.Context, id string) (*Entry, error)
	Search(ctx context.Context, filter Filter) ([]*Entry, error)
	Count(ctx context.Context, filter Filter) (int, error)
	// Walk visits entries matching the filter in chain order, in pages,
	// ignoring Limit, Offset and Ascending
	Walk(ctx context.Context, filter Filter, fn func(*Entry) error) error
}

// MemoryStore keeps the chain in process. It backs tests and deployments
// without a database.
type MemoryStore struct {
	mu      sync.RWMutex
	entries []*Entry
	byID    map[string]*Entry
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byID: make(map[string]*Entry)}
}

// AppendEntry implements Store
func (s *MemoryStore) AppendEntry(ctx context.Context, build BuildFunc) (*Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var prev *Entry
	if n := len(s.entries); n > 0 {
		prev = copyEntry(s.entries[n-1])
	}

	entry, err := build(prev)
	if err != nil {
		return nil, err
	}

	stored := copyEntry(entry)
	stored.Seq = int64(len(s.entries) + 1)
	s.entries = append(s.entries, stored)
	s.byID[stored.ID] = stored

	return copyEntry(stored), nil
}

// Get implements Store
func (s *MemoryStore) Get(ctx context.Context, id string) (*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyEntry(entry), nil
}

// Search implements Store
func (s *MemoryStore) Search(ctx context.Context, filter Filter) ([]*Entry, error) {
	matched := s.matching(filter)
	if !filter.Ascending {
		sort.SliceStable(matched, func(i, j int) bool { return matched[i].Seq > matched[j].Seq })
	}

	if filter.Offset >= len(matched) {
		return []*Entry{}, nil
	}
	matched = matched[filter.Offset:]
	if limit := filter.normalizedLimit(); len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

// Count implements Store
func (s *MemoryStore) Count(ctx context.Context, filter Filter) (int, error) {
	return len(s.matching(filter)), nil
}

// Walk implements Store
func (s *MemoryStore) Walk(ctx context.Context, filter Filter, fn func(*Entry) error) error {
	for _, entry := range s.matching(filter) {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(entry); err != nil {
			return err
		}
	}
	return nil
}

// Tamper replaces a stored entry in place. Tests use it to simulate an
// attacker with write access to the log.
func (s *MemoryStore) Tamper(id string, mutate func(*Entry)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.byID[id]
	if !ok {
		return ErrNotFound
	}
	mutate(entry)
	return nil
}

// matching returns copies of matching entries in chain order
func (s *MemoryStore) matching(filter Filter) []*Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Entry
	for _, entry := range s.entries {
		if filter.matches(entry) {
			out = append(out, copyEntry(entry))
		}
	}
	return out
}

// matches evaluates the filter in process with the same semantics as the
// SQL built by DBStore
func (f Filter) matches(e *Entry) bool {
	if f.UserID != "" && e.UserID != f.UserID {
		return false
	}
	if len(f.Actions) > 0 && !containsAction(f.Actions, e.Action) {
		return false
	}
	if f.DataRoomID != "" && e.DataRoomID != f.DataRoomID {
		return false
	}
	if f.ResourceType != "" && e.ResourceType != f.ResourceType {
		return false
	}
	if f.ResourceID != "" && e.ResourceID != f.ResourceID {
		return false
	}
	if f.IPAddress != "" && e.IPAddress != f.IPAddress {
		return false
	}
	if !f.Since.IsZero() && e.CreatedAt.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && e.CreatedAt.After(f.Until) {
		return false
	}
	if f.ExcludeID != "" && e.ID == f.ExcludeID {
		return false
	}
	if f.BeforeSeq > 0 && e.Seq >= f.BeforeSeq {
		return false
	}
	for key, want := range f.Metadata {
		field, ok := e.Metadata.Get(key)
		if !ok {
			return false
		}
		text, ok := field.Text()
		if !ok || text != want {
			return false
		}
	}
	return true
}

func containsAction(actions []Action, a Action) bool {
	for _, candidate := range actions {
		if candidate == a {
			return true
		}
	}
	return false
}

func copyEntry(e *Entry) *Entry {
	if e == nil {
		return nil
	}
	c := *e
	return &c
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
