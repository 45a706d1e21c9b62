// Package payload reads the JSON side files of an invocation.
package payload

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// EmptyEvent is used when the event file does not exist.
var EmptyEvent = json.RawMessage("{}")

// ReadOptional reads and validates the JSON document at path. A missing file
// or an empty path yields (nil, nil); any other read or parse failure is
// returned.
func ReadOptional(path string) (json.RawMessage, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	return compact(data)
}

// ReadEvent reads the event document, falling back to EmptyEvent.
func ReadEvent(path string) (json.RawMessage, error) {
	doc, err := ReadOptional(path)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return EmptyEvent, nil
	}
	return doc, nil
}

// Resolve makes path absolute against base. Absolute paths are returned as is.
func Resolve(base, path string) string {
	if path == "" {
		return ""
	}
	if filepath.IsAbs(path) {
		return filepath.Clean(path)
	}
	return filepath.Join(base, path)
}

// SideData holds the optional documents attached to the handler context.
type SideData struct {
	ClientContext json.RawMessage
	Identity      json.RawMessage
}

// LoadSideData reads the client context and identity documents relative to base.
func LoadSideData(base, clientContextPath, identityPath string) (SideData, error) {
	var sd SideData
	var err error

	if sd.ClientContext, err = ReadOptional(Resolve(base, clientContextPath)); err != nil {
		return SideData{}, fmt.Errorf("client context: %w", err)
	}
	if sd.Identity, err = ReadOptional(Resolve(base, identityPath)); err != nil {
		return SideData{}, fmt.Errorf("identity: %w", err)
	}
	return sd, nil
}

func compact(data []byte) (json.RawMessage, error) {
	var buf bytes.Buffer
	if err := json.Compact(&buf, data); err != nil {
		return nil, err
	}
	return json.RawMessage(buf.Bytes()), nil
}
