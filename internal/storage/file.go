// Package storage uploads binary payloads to object storage and rewrites
// job inputs so that only URLs reach the queue.
package storage

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrInlineBytes is returned when inline bytes would be serialized.
var ErrInlineBytes = errors.New("inline file bytes must be externalized before submission")

type fileKind uint8

const (
	kindNone fileKind = iota
	kindURL
	kindBytes
)

// FileResource is either a remote URL or an inline byte payload.
// The zero value holds neither and serializes as null.
type FileResource struct {
	kind fileKind
	url  string
	data []byte
}

// URL creates a FileResource pointing at a remote file.
func URL(u string) FileResource {
	return FileResource{kind: kindURL, url: u}
}

// Bytes creates a FileResource carrying inline content.
func Bytes(data []byte) FileResource {
	return FileResource{kind: kindBytes, data: data}
}

// IsZero reports whether neither variant is set.
func (f FileResource) IsZero() bool { return f.kind == kindNone }

// IsInline reports whether f holds inline bytes.
func (f FileResource) IsInline() bool { return f.kind == kindBytes }

// RemoteURL returns the URL variant.
func (f FileResource) RemoteURL() (string, bool) {
	return f.url, f.kind == kindURL
}

// InlineBytes returns the bytes variant.
func (f FileResource) InlineBytes() ([]byte, bool) {
	return f.data, f.kind == kindBytes
}

// String implements fmt.Stringer without dumping payloads.
func (f FileResource) String() string {
	switch f.kind {
	case kindURL:
		return f.url
	case kindBytes:
		return fmt.Sprintf("<%d inline bytes>", len(f.data))
	default:
		return "<none>"
	}
}

// MarshalJSON emits the URL as a JSON string. Inline bytes are refused.
func (f FileResource) MarshalJSON() ([]byte, error) {
	switch f.kind {
	case kindURL:
		return json.Marshal(f.url)
	case kindBytes:
		return nil, ErrInlineBytes
	case kindNone:
		return []byte("null"), nil
	default:
		return nil, fmt.Errorf("unknown file resource kind %d", f.kind)
	}
}

// UnmarshalJSON reads a URL string. null leaves the zero value.
func (f *FileResource) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*f = FileResource{}
		return nil
	}
	var u string
	if err := json.Unmarshal(data, &u); err != nil {
		return fmt.Errorf("file resource must be a URL string: %w", err)
	}
	*f = URL(u)
	return nil
}
