package pipeline

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

type recordingStage struct {
	seen    []string
	flushed int
	failOn  string
}

func (s *recordingStage) Transform(_ context.Context, f *File, push Push) error {
	s.seen = append(s.seen, filepath.Base(f.Path))
	if filepath.Base(f.Path) == s.failOn {
		return errors.New("transform failed")
	}
	if f.IsNull() {
		return push(f)
	}
	return nil
}

func (s *recordingStage) Flush(_ context.Context, push Push) error {
	s.flushed++
	return push(&File{Path: "/out/flushed.js", Contents: []byte("x")})
}

func TestRunOffersAllThenFlushes(t *testing.T) {
	stage := &recordingStage{}
	sink := &Collect{}
	files := []*File{
		{Path: "/a.js", Contents: []byte("a")},
		{Path: "/dir"},
		{Path: "/b.js", Contents: []byte("b")},
	}

	if err := Run(context.Background(), files, stage, sink); err != nil {
		t.Fatal(err)
	}
	if strings.Join(stage.seen, ",") != "a.js,dir,b.js" {
		t.Fatalf("unexpected transform order %v", stage.seen)
	}
	if stage.flushed != 1 {
		t.Fatalf("expected exactly one flush, got %d", stage.flushed)
	}
	if len(sink.Files) != 2 || sink.Files[0].Path != "/dir" || sink.Files[1].Path != "/out/flushed.js" {
		t.Fatalf("unexpected forwarded items %+v", sink.Files)
	}
}

func TestRunStopsAtFirstError(t *testing.T) {
	stage := &recordingStage{failOn: "a.js"}
	files := []*File{
		{Path: "/a.js", Contents: []byte("a")},
		{Path: "/b.js", Contents: []byte("b")},
	}
	if err := Run(context.Background(), files, stage, Discard); err == nil {
		t.Fatal("expected error")
	}
	if len(stage.seen) != 1 || stage.flushed != 0 {
		t.Fatalf("run should stop before later items and flush, seen=%v flushed=%d", stage.seen, stage.flushed)
	}
}

func TestRunCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Run(ctx, []*File{{Path: "/a.js"}}, &recordingStage{}, Discard)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestFileKinds(t *testing.T) {
	null := &File{Path: "/x"}
	buf := &File{Path: "/x", Contents: []byte{}}
	stream := &File{Path: "/x", Stream: io.NopCloser(strings.NewReader(""))}

	if !null.IsNull() || null.IsBuffer() || null.IsStream() {
		t.Fatal("null item misclassified")
	}
	if buf.IsNull() || !buf.IsBuffer() {
		t.Fatal("empty buffer must not be null")
	}
	if !stream.IsStream() || stream.IsNull() {
		t.Fatal("stream item misclassified")
	}
}

func TestSrcModes(t *testing.T) {
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "src", "lib"), 0755); err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"src/index.js", "src/other.js"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("module.exports = {};"), 0644); err != nil {
			t.Fatal(err)
		}
	}
	pattern := filepath.Join(dir, "src", "*")

	files, err := Src([]string{pattern}, DefaultSrcOptions())
	if err != nil {
		t.Fatal(err)
	}
	if len(files) != 3 {
		t.Fatalf("expected 3 items, got %d", len(files))
	}
	if files[0].Relative() != "index.js" || !files[0].IsBuffer() {
		t.Fatalf("unexpected first item %+v", files[0])
	}
	if files[1].Relative() != "lib" || !files[1].IsNull() {
		t.Fatalf("directories should be null items, got %+v", files[1])
	}

	streamed, err := Src([]string{filepath.Join(dir, "src", "index.js")}, SrcOptions{Read: true})
	if err != nil {
		t.Fatal(err)
	}
	defer streamed[0].Close()
	if !streamed[0].IsStream() {
		t.Fatal("Buffer=false should produce a stream item")
	}

	unread, err := Src([]string{filepath.Join(dir, "src", "index.js")}, SrcOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if !unread[0].IsNull() {
		t.Fatal("Read=false should produce a null item")
	}

	if _, err := Src([]string{filepath.Join(dir, "nothing", "*.js")}, DefaultSrcOptions()); err == nil {
		t.Fatal("expected error for unmatched pattern")
	}
}

func TestDestWritesRelativePath(t *testing.T) {
	out := t.TempDir()
	sink := Dest(out)

	buffered := &File{Path: "/proj/src/app/index.js", Base: "/proj/src", Contents: []byte("buf"), Mode: 0644}
	if err := sink.Write(context.Background(), buffered); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(filepath.Join(out, "app", "index.js"))
	if err != nil || string(data) != "buf" {
		t.Fatalf("unexpected output %q err=%v", data, err)
	}

	streamed := &File{Path: "/proj/src/s.js", Base: "/proj/src", Stream: io.NopCloser(strings.NewReader("stream"))}
	if err := sink.Write(context.Background(), streamed); err != nil {
		t.Fatal(err)
	}
	data, err = os.ReadFile(filepath.Join(out, "s.js"))
	if err != nil || string(data) != "stream" {
		t.Fatalf("unexpected output %q err=%v", data, err)
	}
}

func TestSrcRecursivePattern(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"src/top.js", "src/fn/index.js", "src/fn/deep/nested.js", "src/readme.md"} {
		path := filepath.Join(dir, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte("x"), 0644); err != nil {
			t.Fatal(err)
		}
	}

	files, err := Src([]string{filepath.Join(dir, "src", "**", "*.js")}, DefaultSrcOptions())
	if err != nil {
		t.Fatal(err)
	}
	var got []string
	for _, f := range files {
		got = append(got, filepath.ToSlash(f.Relative()))
	}
	want := "fn/deep/nested.js,fn/index.js,top.js"
	if strings.Join(got, ",") != want {
		t.Fatalf("expected %s, got %v", want, got)
	}
}

func TestGlobBase(t *testing.T) {
	tests := []struct {
		pattern string
		want    string
	}{
		{filepath.FromSlash("/proj/src/**/*.js"), filepath.FromSlash("/proj/src")},
		{filepath.FromSlash("/proj/src/index.js"), filepath.FromSlash("/proj/src")},
		{filepath.FromSlash("/proj/*/index.js"), filepath.FromSlash("/proj")},
		{"index.js", "."},
	}
	for _, tt := range tests {
		if got := globBase(tt.pattern); got != tt.want {
			t.Errorf("globBase(%q) = %q, want %q", tt.pattern, got, tt.want)
		}
	}
}

func TestSrcClosesStreamsWhenLaterPatternFails(t *testing.T) {
	if _, err := os.Stat("/proc/self/fd"); err != nil {
		t.Skip("needs /proc/self/fd")
	}
	dir := t.TempDir()
	path := filepath.Join(dir, "index.js")
	if err := os.WriteFile(path, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	openFDs := func() int {
		entries, err := os.ReadDir("/proc/self/fd")
		if err != nil {
			t.Fatal(err)
		}
		return len(entries)
	}

	openFDs()
	before := openFDs()
	files, err := Src([]string{path, filepath.Join(dir, "missing", "*.js")}, SrcOptions{Read: true})
	if err == nil {
		t.Fatal("expected error for unmatched pattern")
	}
	if files != nil {
		t.Fatalf("expected no files on error, got %d", len(files))
	}
	if after := openFDs(); after != before {
		t.Fatalf("stream left open: %d fds before, %d after", before, after)
	}
}
