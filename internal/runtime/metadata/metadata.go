package metadata

import "strings"

// Metadata represents the headers carried alongside a record envelope.
type Metadata map[string]string

func (m Metadata) cloneWithExtra(extra int) Metadata {
	size := len(m) + extra
	if size <= 0 {
		return Metadata{}
	}

	cloned := make(Metadata, size)
	for k, v := range m {
		cloned[k] = v
	}
	return cloned
}

// Clone returns a shallow copy of the headers.
func (m Metadata) Clone() Metadata {
	return m.cloneWithExtra(0)
}

// With returns a copy with key set to value.
func (m Metadata) With(key, value string) Metadata {
	cloned := m.cloneWithExtra(1)
	cloned[key] = value
	return cloned
}

// WithAll returns a copy with every entry of extra applied on top.
func (m Metadata) WithAll(extra Metadata) Metadata {
	cloned := m.cloneWithExtra(len(extra))
	for k, v := range extra {
		cloned[k] = v
	}
	return cloned
}

// WithoutPrefix returns a copy without the headers whose key starts with prefix.
func (m Metadata) WithoutPrefix(prefix string) Metadata {
	cloned := m.cloneWithExtra(0)
	for k := range cloned {
		if strings.HasPrefix(k, prefix) {
			delete(cloned, k)
		}
	}
	return cloned
}

// New constructs headers from alternating key/value pairs. A trailing key
// without a value is ignored.
func New(pairs ...string) Metadata {
	md := make(Metadata, len(pairs)/2)
	for i := 0; i < len(pairs)-1; i += 2 {
		md[pairs[i]] = pairs[i+1]
	}
	return md
}
