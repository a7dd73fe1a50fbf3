package client

// Record is one service-request observation as returned by the API: a flat
// mapping of field name to value. Socrata serializes almost everything as a
// string; nested values (location objects) are kept as-is. A Record is a
// snapshot at fetch time and is never mutated after decoding.
type Record map[string]any

// Str returns the named field as a string, or "" if the field is absent or
// not a string. Missing and empty are deliberately indistinguishable: the
// API omits null fields rather than sending them.
func (r Record) Str(key string) string {
	if v, ok := r[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// UniqueKey returns the logical entity identifier for this observation.
func (r Record) UniqueKey() string {
	return r.Str("unique_key")
}

// CreatedDate returns the ISO-8601 creation timestamp, or "".
func (r Record) CreatedDate() string {
	return r.Str("created_date")
}

// UpdatedDate returns the resolution_action_updated_date timestamp, or "".
// This is the version field used for last-write-wins deduplication.
func (r Record) UpdatedDate() string {
	return r.Str("resolution_action_updated_date")
}
