package audit

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
)

// Format is an export encoding
type Format string

const (
	FormatJSON   Format = "json"
	FormatCSV    Format = "csv"
	FormatNDJSON Format = "ndjson"
)

// ParseFormat accepts json, csv and ndjson; empty means json
func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case "", FormatJSON:
		return FormatJSON, nil
	case FormatCSV:
		return FormatCSV, nil
	case FormatNDJSON:
		return FormatNDJSON, nil
	}
	return "", fmt.Errorf("unsupported export format %q", s)
}

// ContentType returns the MIME type of the format
func (f Format) ContentType() string {
	switch f {
	case FormatCSV:
		return "text/csv"
	case FormatNDJSON:
		return "application/x-ndjson"
	}
	return "application/json"
}

var csvHeader = []string{
	"id", "seq", "created_at", "action", "resource_type", "resource_id",
	"data_room_id", "user_id", "ip_address", "user_agent", "metadata",
	"previous_hash", "hash",
}

// Export streams every entry matching filter, in chain order, to w. It
// returns the number of entries written.
func Export(ctx context.Context, store Store, w io.Writer, format Format, filter Filter) (int, error) {
	switch format {
	case FormatJSON:
		return exportJSON(ctx, store, w, filter)
	case FormatCSV:
		return exportCSV(ctx, store, w, filter)
	case FormatNDJSON:
		return exportNDJSON(ctx, store, w, filter)
	}
	return 0, fmt.Errorf("unsupported export format %q", format)
}

func exportJSON(ctx context.Context, store Store, w io.Writer, filter Filter) (int, error) {
	if _, err := io.WriteString(w, "["); err != nil {
		return 0, err
	}

	count := 0
	err := store.Walk(ctx, filter, func(entry *Entry) error {
		data, err := json.Marshal(entry)
		if err != nil {
			return err
		}
		if count > 0 {
			if _, err := io.WriteString(w, ","); err != nil {
				return err
			}
		}
		count++
		_, err = w.Write(data)
		return err
	})
	if err != nil {
		return count, fmt.Errorf("failed to export audit entries: %w", err)
	}

	_, err = io.WriteString(w, "]\n")
	return count, err
}

func exportNDJSON(ctx context.Context, store Store, w io.Writer, filter Filter) (int, error) {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)

	count := 0
	err := store.Walk(ctx, filter, func(entry *Entry) error {
		count++
		return enc.Encode(entry)
	})
	if err != nil {
		return count, fmt.Errorf("failed to export audit entries: %w", err)
	}
	return count, nil
}

func exportCSV(ctx context.Context, store Store, w io.Writer, filter Filter) (int, error) {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return 0, err
	}

	count := 0
	err := store.Walk(ctx, filter, func(entry *Entry) error {
		metadata, err := entry.Metadata.MarshalJSON()
		if err != nil {
			return err
		}
		count++
		return cw.Write([]string{
			entry.ID,
			strconv.FormatInt(entry.Seq, 10),
			FormatTimestamp(entry.CreatedAt),
			string(entry.Action),
			string(entry.ResourceType),
			entry.ResourceID,
			entry.DataRoomID,
			entry.UserID,
			entry.IPAddress,
			entry.UserAgent,
			string(metadata),
			entry.PreviousHash,
			entry.Hash,
		})
	})
	if err != nil {
		return count, fmt.Errorf("failed to export audit entries: %w", err)
	}

	cw.Flush()
	return count, cw.Error()
}
