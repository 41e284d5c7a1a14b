package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"sort"
	"strings"
	"time"
)

// ReceivedAtField is the record field holding the ingest timestamp.
const ReceivedAtField = "receivedAt"

// Acknowledgement frames written by the ingest server when the relay runs in
// acknowledged mode.
var (
	AckOK    = []byte("OK")
	AckError = []byte("ERR")
)

// Record is a decoded form submission stamped with its receipt time
type Record struct {
	Fields     map[string]string
	ReceivedAt time.Time
}

// DecodeError lists the fragments of a payload that could not be decoded.
// Decoding is permissive: the remaining fields are still returned.
type DecodeError struct {
	Fragments []string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("dropped %d malformed fragment(s): %s", len(e.Fragments), strings.Join(e.Fragments, ", "))
}

// Decode parses an application/x-www-form-urlencoded payload into a field map.
// Keys and values are percent-decoded with '+' as space. For a repeated key the
// last value wins. Pairs with an empty key or empty value are skipped, and
// fragments that fail to unescape are dropped and reported through *DecodeError.
func Decode(data []byte) (map[string]string, error) {
	fields := make(map[string]string)
	var malformed []string

	for _, part := range strings.Split(string(data), "&") {
		if part == "" {
			continue
		}
		rawKey, rawValue, _ := strings.Cut(part, "=")
		key, err := url.QueryUnescape(rawKey)
		if err != nil {
			malformed = append(malformed, part)
			continue
		}
		value, err := url.QueryUnescape(rawValue)
		if err != nil {
			malformed = append(malformed, part)
			continue
		}

		if key == "" || value == "" {
			continue
		}
		fields[key] = value
	}

	if len(malformed) > 0 {
		return fields, &DecodeError{Fragments: malformed}
	}
	return fields, nil
}

// ParseDatagram decodes a relay datagram and stamps it with receivedAt.
// A *DecodeError is returned alongside a usable record.
func ParseDatagram(data []byte, receivedAt time.Time) (*Record, error) {
	fields, err := Decode(data)
	return NewRecord(fields, receivedAt), err
}

// NewRecord builds a record; a client supplied receivedAt field is replaced by
// the server stamp.
func NewRecord(fields map[string]string, receivedAt time.Time) *Record {
	delete(fields, ReceivedAtField)
	return &Record{Fields: fields, ReceivedAt: receivedAt}
}

// Document returns the flat form persisted by document stores.
func (r *Record) Document() map[string]any {
	doc := make(map[string]any, len(r.Fields)+1)
	for k, v := range r.Fields {
		doc[k] = v
	}
	doc[ReceivedAtField] = r.ReceivedAt
	return doc
}

// MarshalJSON encodes the record as a flat JSON object.
func (r *Record) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.Document())
}

// Keys returns the field names in sorted order
func (r *Record) Keys() []string {
	keys := make([]string, 0, len(r.Fields))
	for k := range r.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// LogValue renders the record as a log group.
func (r *Record) LogValue() slog.Value {
	attrs := make([]slog.Attr, 0, len(r.Fields)+1)
	for _, k := range r.Keys() {
		attrs = append(attrs, slog.String(k, r.Fields[k]))
	}
	attrs = append(attrs, slog.Time(ReceivedAtField, r.ReceivedAt))
	return slog.GroupValue(attrs...)
}

// String returns a human-readable representation of the record
func (r *Record) String() string {
	var b strings.Builder
	b.WriteString("Record{")
	for i, k := range r.Keys() {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%s:%q", k, r.Fields[k])
	}
	fmt.Fprintf(&b, ", %s:%s}", ReceivedAtField, r.ReceivedAt.Format(time.RFC3339Nano))
	return b.String()
}

// ParseAck interprets an acknowledgement frame. It reports whether the record
// was stored, or an error for an unrecognised frame.
func ParseAck(data []byte) (bool, error) {
	switch {
	case bytes.Equal(data, AckOK):
		return true, nil
	case bytes.Equal(data, AckError):
		return false, nil
	default:
		return false, fmt.Errorf("unknown ack frame: %q", data)
	}
}
