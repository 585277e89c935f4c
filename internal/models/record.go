package models

// NotAvailable is the value stored for empty or missing cells.
const NotAvailable = "N/A"

// Field is one labelled cell of an ingested row.
// Value is nil, a string, a numeric type or a time.Time.
type Field struct {
	Label string
	Value any
}

// RawRecord is one ingested row in original column order.
type RawRecord []Field

// NormalizedRecord maps canonical keys to string values, preserving the
// order in which keys first appeared in the source row.
type NormalizedRecord struct {
	keys   []string
	values map[string]string
}

// NewNormalizedRecord returns an empty record ready for Set.
func NewNormalizedRecord(capacity int) NormalizedRecord {
	return NormalizedRecord{
		keys:   make([]string, 0, capacity),
		values: make(map[string]string, capacity),
	}
}

// Set stores value under key. The first occurrence of a key fixes its position.
func (r *NormalizedRecord) Set(key, value string) {
	if r.values == nil {
		r.values = make(map[string]string)
	}
	if _, ok := r.values[key]; !ok {
		r.keys = append(r.keys, key)
	}
	r.values[key] = value
}

// Lookup returns the value for key and whether the key exists.
func (r NormalizedRecord) Lookup(key string) (string, bool) {
	v, ok := r.values[key]
	return v, ok
}

// Value returns the value for key, or NotAvailable when the key is absent.
func (r NormalizedRecord) Value(key string) string {
	if v, ok := r.values[key]; ok {
		return v
	}
	return NotAvailable
}

// Keys returns the canonical keys in source order.
func (r NormalizedRecord) Keys() []string {
	out := make([]string, len(r.keys))
	copy(out, r.keys)
	return out
}

// Len reports how many keys the record holds.
func (r NormalizedRecord) Len() int { return len(r.keys) }

// Map returns a copy of the key/value pairs, suitable for template binding.
func (r NormalizedRecord) Map() map[string]string {
	out := make(map[string]string, len(r.values))
	for k, v := range r.values {
		out[k] = v
	}
	return out
}

// NormalizedField is a key/value pair of a NormalizedRecord.
type NormalizedField struct {
	Key   string
	Value string
}

// Fields returns the key/value pairs in source order.
func (r NormalizedRecord) Fields() []NormalizedField {
	out := make([]NormalizedField, 0, len(r.keys))
	for _, k := range r.keys {
		out = append(out, NormalizedField{Key: k, Value: r.values[k]})
	}
	return out
}

// RecordIdentifier is the filesystem-safe, batch-unique name of a record's output.
type RecordIdentifier string

// RenderedDocument is the markup produced for one record.
type RenderedDocument struct {
	ID       RecordIdentifier
	Position int
	HTML     string
}

// GeneratedArtifact is the binary document produced for one record.
// Path is a transient file owned by the pipeline run.
type GeneratedArtifact struct {
	ID       RecordIdentifier
	Position int
	Path     string
	Payload  []byte
	Pages    int
}

// SkippedRecord describes a record that was left out of the archive.
type SkippedRecord struct {
	ID       RecordIdentifier
	Position int
	Reason   string
}
