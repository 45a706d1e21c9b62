// Package pipeline moves file items through a single build stage.
package pipeline

import (
	"io"
	"io/fs"
	"path/filepath"
)

// File is one item flowing through a pipeline. Exactly one of Contents and
// Stream is set for items with a payload; both are nil for null items.
type File struct {
	// Path is the absolute path of the item.
	Path string
	// Base is the directory Relative is computed against.
	Base string
	Mode fs.FileMode

	Contents []byte
	Stream   io.ReadCloser
}

// IsNull reports whether the item carries no payload.
func (f *File) IsNull() bool {
	return f.Contents == nil && f.Stream == nil
}

// IsBuffer reports whether the payload is held in memory.
func (f *File) IsBuffer() bool {
	return f.Contents != nil
}

// IsStream reports whether the payload is a non-seekable stream.
func (f *File) IsStream() bool {
	return f.Stream != nil
}

// Relative returns Path relative to Base, or the base name when that fails.
func (f *File) Relative() string {
	if f.Base != "" {
		if rel, err := filepath.Rel(f.Base, f.Path); err == nil {
			return rel
		}
	}
	return filepath.Base(f.Path)
}

// Close releases a streaming payload.
func (f *File) Close() error {
	if f.Stream != nil {
		return f.Stream.Close()
	}
	return nil
}
