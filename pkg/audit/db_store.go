package audit

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
)

// chainLockKey is the pg_advisory_xact_lock key serializing appends across
// processes
const chainLockKey int64 = 0x6175646974 // "audit"

const walkPageSize = 500

const entryColumns = "id, seq, action, resource_type, resource_id, data_room_id, user_id, metadata, ip_address, user_agent, previous_hash, hash, created_at"

// DBStore persists the chain in PostgreSQL
type DBStore struct {
	db *sql.DB
}

// NewDBStore creates a new PostgreSQL audit store
func NewDBStore(db *sql.DB) *DBStore {
	return &DBStore{db: db}
}

// AppendEntry reads the chain head and inserts the built entry in one
// transaction holding an advisory lock, so appends from every process are
// totally ordered
func (s *DBStore) AppendEntry(ctx context.Context, build BuildFunc) (*Entry, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "SELECT pg_advisory_xact_lock($1)", chainLockKey); err != nil {
		return nil, fmt.Errorf("failed to acquire chain lock: %w", err)
	}

	prev, err := scanEntry(tx.QueryRowContext(ctx,
		"SELECT "+entryColumns+" FROM audit_entries ORDER BY created_at DESC, seq DESC LIMIT 1",
	))
	if errors.Is(err, ErrNotFound) {
		prev = nil
	} else if err != nil {
		return nil, fmt.Errorf("failed to read chain head: %w", err)
	}

	entry, err := build(prev)
	if err != nil {
		return nil, err
	}

	metadata, err := entry.Metadata.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("failed to marshal metadata: %w", err)
	}

	err = tx.QueryRowContext(ctx, `
		INSERT INTO audit_entries (id, action, resource_type, resource_id, data_room_id, user_id, metadata, ip_address, user_agent, previous_hash, hash, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING seq
	`,
		entry.ID,
		string(entry.Action),
		string(entry.ResourceType),
		entry.ResourceID,
		nullString(entry.DataRoomID),
		nullString(entry.UserID),
		string(metadata),
		nullString(entry.IPAddress),
		nullString(entry.UserAgent),
		nullString(entry.PreviousHash),
		entry.Hash,
		entry.CreatedAt,
	).Scan(&entry.Seq)
	if err != nil {
		return nil, fmt.Errorf("failed to insert audit entry: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit audit entry: %w", err)
	}

	return entry, nil
}

// Get implements Store
func (s *DBStore) Get(ctx context.Context, id string) (*Entry, error) {
	entry, err := scanEntry(s.db.QueryRowContext(ctx,
		"SELECT "+entryColumns+" FROM audit_entries WHERE id = $1", id,
	))
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("failed to get audit entry: %w", err)
	}
	return entry, err
}

// Search implements Store
func (s *DBStore) Search(ctx context.Context, filter Filter) ([]*Entry, error) {
	where, args := filter.whereClause()

	order := "DESC"
	if filter.Ascending {
		order = "ASC"
	}

	args = append(args, filter.normalizedLimit(), filter.Offset)
	query := fmt.Sprintf("SELECT %s FROM audit_entries%s ORDER BY created_at %s, seq %s LIMIT $%d OFFSET $%d",
		entryColumns, where, order, order, len(args)-1, len(args))

	return s.query(ctx, query, args...)
}

// Count implements Store
func (s *DBStore) Count(ctx context.Context, filter Filter) (int, error) {
	where, args := filter.whereClause()

	var count int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM audit_entries"+where, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count audit entries: %w", err)
	}
	return count, nil
}

// Walk implements Store using keyset pagination on (created_at, seq)
func (s *DBStore) Walk(ctx context.Context, filter Filter, fn func(*Entry) error) error {
	where, args := filter.whereClause()

	var (
		lastCreated time.Time
		lastSeq     int64
		started     bool
	)

	for {
		pageArgs := append([]interface{}{}, args...)
		cond := where
		if started {
			pageArgs = append(pageArgs, lastCreated, lastSeq)
			keyset := fmt.Sprintf("(created_at, seq) > ($%d, $%d)", len(pageArgs)-1, len(pageArgs))
			if cond == "" {
				cond = " WHERE " + keyset
			} else {
				cond += " AND " + keyset
			}
		}
		pageArgs = append(pageArgs, walkPageSize)
		query := fmt.Sprintf("SELECT %s FROM audit_entries%s ORDER BY created_at ASC, seq ASC LIMIT $%d",
			entryColumns, cond, len(pageArgs))

		page, err := s.query(ctx, query, pageArgs...)
		if err != nil {
			return err
		}

		for _, entry := range page {
			if err := fn(entry); err != nil {
				return err
			}
		}

		if len(page) < walkPageSize {
			return nil
		}
		last := page[len(page)-1]
		lastCreated, lastSeq, started = last.CreatedAt, last.Seq, true
	}
}

func (s *DBStore) query(ctx context.Context, query string, args ...interface{}) ([]*Entry, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit entries: %w", err)
	}
	defer rows.Close()

	entries := []*Entry{}
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate audit entries: %w", err)
	}
	return entries, nil
}

// whereClause renders the filter as SQL with positional arguments starting
// at $1
func (f Filter) whereClause() (string, []interface{}) {
	var (
		conds []string
		args  []interface{}
	)
	add := func(format string, value interface{}) {
		args = append(args, value)
		conds = append(conds, fmt.Sprintf(format, len(args)))
	}

	if f.UserID != "" {
		add("user_id = $%d", f.UserID)
	}
	if len(f.Actions) > 0 {
		actions := make([]string, len(f.Actions))
		for i, a := range f.Actions {
			actions[i] = string(a)
		}
		add("action = ANY($%d)", pq.Array(actions))
	}
	if f.DataRoomID != "" {
		add("data_room_id = $%d", f.DataRoomID)
	}
	if f.ResourceType != "" {
		add("resource_type = $%d", string(f.ResourceType))
	}
	if f.ResourceID != "" {
		add("resource_id = $%d", f.ResourceID)
	}
	if f.IPAddress != "" {
		add("ip_address = $%d", f.IPAddress)
	}
	if !f.Since.IsZero() {
		add("created_at >= $%d", f.Since)
	}
	if !f.Until.IsZero() {
		add("created_at <= $%d", f.Until)
	}
	if f.ExcludeID != "" {
		add("id <> $%d", f.ExcludeID)
	}
	if f.BeforeSeq > 0 {
		add("seq < $%d", f.BeforeSeq)
	}
	for _, key := range sortedKeys(f.Metadata) {
		args = append(args, key, f.Metadata[key])
		conds = append(conds, fmt.Sprintf("metadata->>$%d = $%d", len(args)-1, len(args)))
	}

	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanEntry(row rowScanner) (*Entry, error) {
	var (
		entry        Entry
		action       string
		resourceType string
		dataRoomID   sql.NullString
		userID       sql.NullString
		ipAddress    sql.NullString
		agent        sql.NullString
		previousHash sql.NullString
		metadata     []byte
	)

	err := row.Scan(
		&entry.ID,
		&entry.Seq,
		&action,
		&resourceType,
		&entry.ResourceID,
		&dataRoomID,
		&userID,
		&metadata,
		&ipAddress,
		&agent,
		&previousHash,
		&entry.Hash,
		&entry.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if err := entry.Metadata.UnmarshalJSON(metadata); err != nil {
		return nil, fmt.Errorf("failed to decode metadata of %s: %w", entry.ID, err)
	}

	entry.Action = Action(action)
	entry.ResourceType = ResourceType(resourceType)
	entry.DataRoomID = dataRoomID.String
	entry.UserID = userID.String
	entry.IPAddress = ipAddress.String
	entry.UserAgent = agent.String
	entry.PreviousHash = strings.TrimSpace(previousHash.String)
	entry.Hash = strings.TrimSpace(entry.Hash)
	entry.CreatedAt = entry.CreatedAt.UTC()

	return &entry, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
