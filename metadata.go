package transport

import "strings"

// Metadata is the application-visible representation of an HTTP/2 header or
// trailer block, once the Header Converter (spec.md §6) has stripped
// pseudo-headers. Keys are lower-cased, matching HTTP/2's wire requirement.
type Metadata map[string][]string

// Add appends a value under key, lower-casing key the way HPACK requires
// header field names to be sent.
func (m Metadata) Add(key, value string) {
	key = strings.ToLower(key)
	m[key] = append(m[key], value)
}

// Get returns the first value stored under key, if any.
func (m Metadata) Get(key string) string {
	vs := m[strings.ToLower(key)]
	if len(vs) == 0 {
		return ""
	}
	return vs[0]
}

func newMetadata() Metadata {
	return make(Metadata)
}
