package storage

import (
	"context"
	"fmt"
	"maps"
	"slices"
)

// FileUploader stores a payload and returns its URL.
type FileUploader interface {
	Upload(ctx context.Context, data []byte, opts ...UploadOption) (string, error)
}

// FileHolder is implemented by job inputs that carry file fields.
// FileFields must return pointers into the receiver in a fixed order.
type FileHolder interface {
	FileFields() []*FileResource
}

// HasInline reports whether input carries any inline file payload.
func HasInline(input any) bool {
	switch v := input.(type) {
	case FileHolder:
		return slices.ContainsFunc(v.FileFields(), func(f *FileResource) bool {
			return f != nil && f.IsInline()
		})
	case map[string]any:
		for _, val := range v {
			if f, ok := fileValue(val); ok && f.IsInline() {
				return true
			}
		}
	}
	return false
}

// Externalize returns a copy of input in which every inline file has been
// uploaded and replaced by its URL. URL fields pass through unchanged and
// input itself is left untouched. Any upload failure fails the whole call.
//
// Struct inputs opt in by implementing FileHolder on their pointer type and
// must be passed by value. map[string]any inputs are scanned for
// FileResource values in key order.
func Externalize[T any](ctx context.Context, up FileUploader, input T) (T, error) {
	out := input

	if m, ok := any(out).(map[string]any); ok {
		cloned, err := externalizeMap(ctx, up, m)
		if err != nil {
			var zero T
			return zero, err
		}
		return any(cloned).(T), nil
	}

	holder, ok := any(&out).(FileHolder)
	if !ok {
		return input, nil
	}

	for i, field := range holder.FileFields() {
		if field == nil {
			continue
		}
		data, inline := field.InlineBytes()
		if !inline {
			continue
		}
		u, err := up.Upload(ctx, data)
		if err != nil {
			var zero T
			return zero, fmt.Errorf("file field %d: %w", i, err)
		}
		*field = URL(u)
	}

	return out, nil
}

func externalizeMap(ctx context.Context, up FileUploader, m map[string]any) (map[string]any, error) {
	if m == nil {
		return nil, nil
	}
	out := maps.Clone(m)
	for _, key := range slices.Sorted(maps.Keys(m)) {
		f, ok := fileValue(m[key])
		if !ok || !f.IsInline() {
			continue
		}
		data, _ := f.InlineBytes()
		u, err := up.Upload(ctx, data)
		if err != nil {
			return nil, fmt.Errorf("file field %q: %w", key, err)
		}
		out[key] = URL(u)
	}
	return out, nil
}

func fileValue(v any) (FileResource, bool) {
	switch f := v.(type) {
	case FileResource:
		return f, true
	case *FileResource:
		if f == nil {
			return FileResource{}, false
		}
		return *f, true
	default:
		return FileResource{}, false
	}
}
