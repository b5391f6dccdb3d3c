package audit

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// TimestampFormat is the millisecond UTC form hashed for CreatedAt
const TimestampFormat = "2006-01-02T15:04:05.000Z"

// FormatTimestamp renders t as hashed
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampFormat)
}

// CanonicalJSON returns the hashed document of an entry. Field order is
// fixed: action, resourceType, resourceId, userId, metadata, previousHash,
// timestamp. A missing userId or previousHash is null.
func CanonicalJSON(e *Entry) []byte {
	var buf bytes.Buffer

	buf.WriteString(`{"action":`)
	writeString(&buf, string(e.Action))
	buf.WriteString(`,"resourceType":`)
	writeString(&buf, string(e.ResourceType))
	buf.WriteString(`,"resourceId":`)
	writeString(&buf, e.ResourceID)
	buf.WriteString(`,"userId":`)
	writeOptional(&buf, e.UserID)
	buf.WriteString(`,"metadata":`)
	e.Metadata.writeCanonical(&buf)
	buf.WriteString(`,"previousHash":`)
	writeOptional(&buf, e.PreviousHash)
	buf.WriteString(`,"timestamp":`)
	writeString(&buf, FormatTimestamp(e.CreatedAt))
	buf.WriteByte('}')

	return buf.Bytes()
}

func writeOptional(buf *bytes.Buffer, s string) {
	if s == "" {
		buf.WriteString("null")
		return
	}
	writeString(buf, s)
}

// ComputeHash returns the hex SHA-256 of the entry's canonical JSON
func ComputeHash(e *Entry) string {
	sum := sha256.Sum256(CanonicalJSON(e))
	return hex.EncodeToString(sum[:])
}
