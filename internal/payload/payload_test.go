package payload

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestReadOptionalMissing(t *testing.T) {
	doc, err := ReadOptional(filepath.Join(t.TempDir(), "absent.json"))
	if err != nil {
		t.Fatalf("missing file should not fail: %v", err)
	}
	if doc != nil {
		t.Fatalf("expected nil document, got %s", doc)
	}
}

func TestReadOptionalCompacts(t *testing.T) {
	path := writeFile(t, t.TempDir(), "doc.json", "{\n  \"a\": [1, 2]\n}\n")
	doc, err := ReadOptional(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(doc) != `{"a":[1,2]}` {
		t.Fatalf("unexpected document %s", doc)
	}
}

func TestReadOptionalMalformed(t *testing.T) {
	path := writeFile(t, t.TempDir(), "bad.json", "{not json")
	if _, err := ReadOptional(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestReadOptionalDirectory(t *testing.T) {
	_, err := ReadOptional(t.TempDir())
	if err == nil {
		t.Fatal("reading a directory should fail")
	}
	if errors.Is(err, fs.ErrNotExist) {
		t.Fatal("directory error must not look like a missing file")
	}
}

func TestReadEventDefaultsToEmptyObject(t *testing.T) {
	doc, err := ReadEvent(filepath.Join(t.TempDir(), "event.json"))
	if err != nil {
		t.Fatal(err)
	}
	if string(doc) != "{}" {
		t.Fatalf("expected {}, got %s", doc)
	}
}

func TestLoadSideData(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "client_context.json", `{"client":{"app_title":"demo"}}`)

	sd, err := LoadSideData(dir, "client_context.json", "identity.json")
	if err != nil {
		t.Fatal(err)
	}
	if string(sd.ClientContext) != `{"client":{"app_title":"demo"}}` {
		t.Fatalf("unexpected client context %s", sd.ClientContext)
	}
	if sd.Identity != nil {
		t.Fatalf("missing identity should be nil, got %s", sd.Identity)
	}

	writeFile(t, dir, "identity.json", "[")
	if _, err := LoadSideData(dir, "client_context.json", "identity.json"); err == nil {
		t.Fatal("malformed identity should fail")
	}
}

func TestResolve(t *testing.T) {
	if got := Resolve("/base", "event.json"); got != filepath.Join("/base", "event.json") {
		t.Fatalf("unexpected %s", got)
	}
	if got := Resolve("/base", "/abs/event.json"); got != "/abs/event.json" {
		t.Fatalf("unexpected %s", got)
	}
	if got := Resolve("/base", ""); got != "" {
		t.Fatalf("empty path should stay empty, got %s", got)
	}
}
