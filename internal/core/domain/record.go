package domain

import (
	"fmt"
	"sort"
	"strings"
)

// ContentField is the field whose value is used verbatim as record text.
const ContentField = "content"

// Field is one named value of a record.
type Field struct {
	Name  string
	Value any
}

// Record is one unit produced by an extractor.
// Fields keep the order in which the extractor found them.
type Record struct {
	// Kind is the source kind tag.
	Kind SourceKind

	// Fields holds the record values. Names starting with "_" are internal.
	Fields []Field

	// Metadata carries origin information (sheet, page, section).
	Metadata map[string]any
}

// NewRecord creates a record from ordered fields.
func NewRecord(kind SourceKind, fields ...Field) Record {
	return Record{Kind: kind, Fields: fields, Metadata: make(map[string]any)}
}

// Get returns the value of a field.
func (r Record) Get(name string) (any, bool) {
	for _, f := range r.Fields {
		if f.Name == name {
			return f.Value, true
		}
	}
	return nil, false
}

// IsInternal reports whether a field name is an internal tag.
func IsInternal(name string) bool {
	return strings.HasPrefix(name, "_")
}

// PublicFields returns fields without internal tags.
func (r Record) PublicFields() []Field {
	out := make([]Field, 0, len(r.Fields))
	for _, f := range r.Fields {
		if !IsInternal(f.Name) {
			out = append(out, f)
		}
	}
	return out
}

// Text renders the record for chunking. The content field wins; otherwise
// "field: value" lines are joined in field order, skipping internal tags.
func (r Record) Text() string {
	if v, ok := r.Get(ContentField); ok {
		if s := FormatValue(v); strings.TrimSpace(s) != "" {
			return s
		}
	}
	lines := make([]string, 0, len(r.Fields))
	for _, f := range r.PublicFields() {
		lines = append(lines, f.Name+": "+FormatValue(f.Value))
	}
	return strings.Join(lines, "\n")
}

// FormatValue renders a field value deterministically.
func FormatValue(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case []any:
		parts := make([]string, len(val))
		for i, item := range val {
			parts[i] = FormatValue(item)
		}
		return strings.Join(parts, ", ")
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, len(keys))
		for i, k := range keys {
			parts[i] = k + "=" + FormatValue(val[k])
		}
		return "{" + strings.Join(parts, ", ") + "}"
	case float64:
		if val == float64(int64(val)) {
			return fmt.Sprintf("%d", int64(val))
		}
		return fmt.Sprintf("%g", val)
	default:
		return fmt.Sprint(val)
	}
}
