package pipeline

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Dest writes forwarded items below dir, keeping their relative path.
func Dest(dir string) Sink {
	return SinkFunc(func(_ context.Context, f *File) error {
		target := filepath.Join(dir, f.Relative())

		if f.Mode.IsDir() {
			return os.MkdirAll(target, 0755)
		}
		if f.IsNull() {
			return nil
		}
		if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
			return fmt.Errorf("create %s: %w", filepath.Dir(target), err)
		}

		perm := f.Mode.Perm()
		if perm == 0 {
			perm = 0644
		}
		if f.IsBuffer() {
			if err := os.WriteFile(target, f.Contents, perm); err != nil {
				return fmt.Errorf("write %s: %w", target, err)
			}
			return nil
		}

		out, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, perm)
		if err != nil {
			return fmt.Errorf("create %s: %w", target, err)
		}
		defer out.Close()
		defer f.Close()
		if _, err := io.Copy(out, f.Stream); err != nil {
			return fmt.Errorf("write %s: %w", target, err)
		}
		return nil
	})
}
