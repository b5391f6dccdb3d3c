package audit

import (
	"bufio"
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFormat(t *testing.T) {
	for in, want := range map[string]Format{"": FormatJSON, "json": FormatJSON, "csv": FormatCSV, "ndjson": FormatNDJSON} {
		got, err := ParseFormat(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	_, err := ParseFormat("xml")
	assert.Error(t, err)
}

func TestExport_JSON(t *testing.T) {
	store := NewMemoryStore()
	entries := seedChain(t, store, 3)

	var buf bytes.Buffer
	count, err := Export(context.Background(), store, &buf, FormatJSON, Filter{})
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	var decoded []*Entry
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	require.Len(t, decoded, 3)
	for i, entry := range decoded {
		assert.Equal(t, entries[i].ID, entry.ID)
		assert.Equal(t, entries[i].Hash, ComputeHash(entry), "exported entries still verify")
	}
}

func TestExport_EmptyJSON(t *testing.T) {
	var buf bytes.Buffer
	count, err := Export(context.Background(), NewMemoryStore(), &buf, FormatJSON, Filter{})
	require.NoError(t, err)
	assert.Zero(t, count)
	assert.Equal(t, "[]\n", buf.String())
}

func TestExport_NDJSON(t *testing.T) {
	store := NewMemoryStore()
	seedChain(t, store, 4)

	var buf bytes.Buffer
	count, err := Export(context.Background(), store, &buf, FormatNDJSON, Filter{})
	require.NoError(t, err)
	assert.Equal(t, 4, count)

	lines := 0
	scanner := bufio.NewScanner(&buf)
	for scanner.Scan() {
		var e Entry
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &e))
		lines++
	}
	assert.Equal(t, 4, lines)
}

func TestExport_CSV(t *testing.T) {
	store := NewMemoryStore()
	entries := seedChain(t, store, 2)

	var buf bytes.Buffer
	count, err := Export(context.Background(), store, &buf, FormatCSV, Filter{})
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	records, err := csv.NewReader(strings.NewReader(buf.String())).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, csvHeader, records[0])
	assert.Equal(t, entries[0].ID, records[1][0])
	assert.Equal(t, string(ActionViewed), records[1][3])
	assert.Equal(t, `{"page":0}`, records[1][10])
	assert.Equal(t, entries[0].Hash, records[2][11], "second row links to the first")
}

func TestExport_Filter(t *testing.T) {
	store := NewMemoryStore()
	seedChain(t, store, 3)

	var buf bytes.Buffer
	count, err := Export(context.Background(), store, &buf, FormatNDJSON, Filter{UserID: "nobody"})
	require.NoError(t, err)
	assert.Zero(t, count)
	assert.Empty(t, buf.String())
}
