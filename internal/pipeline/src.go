package pipeline

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/bmatcuk/doublestar/v4"
)

// SrcOptions controls how Src reads matched files.
type SrcOptions struct {
	// Read loads file payloads. When false every item is null.
	Read bool
	// Buffer holds payloads in memory. When false payloads are streamed.
	Buffer bool
	// Base overrides the glob base used for relative paths.
	Base string
}

// DefaultSrcOptions reads and buffers payloads.
func DefaultSrcOptions() SrcOptions {
	return SrcOptions{Read: true, Buffer: true}
}

// Src expands patterns relative to the working directory and returns the
// matched items in a stable order. Patterns may use ** to match any number of
// directories. A pattern that matches nothing is an error.
func Src(patterns []string, opts SrcOptions) (files []*File, err error) {
	defer func() {
		if err != nil {
			for _, opened := range files {
				opened.Close()
			}
			files = nil
		}
	}()
	seen := make(map[string]bool)

	for _, pattern := range patterns {
		matches, err := doublestar.FilepathGlob(pattern)
		if err != nil {
			return files, fmt.Errorf("glob %q: %w", pattern, err)
		}
		if len(matches) == 0 {
			return files, fmt.Errorf("no files match %q", pattern)
		}
		sort.Strings(matches)

		base := opts.Base
		if base == "" {
			base = globBase(pattern)
		}
		absBase, err := filepath.Abs(base)
		if err != nil {
			return files, err
		}

		for _, m := range matches {
			abs, err := filepath.Abs(m)
			if err != nil {
				return files, err
			}
			if seen[abs] {
				continue
			}
			seen[abs] = true

			f, err := open(abs, absBase, opts)
			if err != nil {
				return files, err
			}
			files = append(files, f)
		}
	}
	return files, nil
}

func open(path, base string, opts SrcOptions) (*File, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	f := &File{Path: path, Base: base, Mode: info.Mode()}
	if info.IsDir() || !opts.Read {
		return f, nil
	}

	if opts.Buffer {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		if data == nil {
			data = []byte{}
		}
		f.Contents = data
		return f, nil
	}

	stream, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	f.Stream = stream
	return f, nil
}

// globBase returns the leading directory of pattern that contains no glob
// metacharacters.
func globBase(pattern string) string {
	base, _ := doublestar.SplitPattern(filepath.ToSlash(filepath.Clean(pattern)))
	return filepath.FromSlash(base)
}
