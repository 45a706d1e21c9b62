package node

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/oriys/lambda-invoke/internal/lambda"
)

func requireNode(t *testing.T) string {
	t.Helper()
	bin, err := exec.LookPath("node")
	if err != nil {
		t.Skip("node not found in PATH")
	}
	return bin
}

func writeModule(t *testing.T, dir, source string) string {
	t.Helper()
	path := filepath.Join(dir, "handler.js")
	if err := os.WriteFile(path, []byte(source), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

type invocation struct {
	outcome lambda.Outcome
	ok      bool
	ignored int
	err     error
}

func invoke(t *testing.T, timeout time.Duration, source, name string, event string) invocation {
	t.Helper()
	dir := t.TempDir()
	path := writeModule(t, dir, source)

	loader := NewLoader(requireNode(t), WithOutput(io.Discard, io.Discard))
	mod, err := loader.Load(context.Background(), lambda.LoadRequest{Path: path, WorkDir: dir})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	defer mod.Close()

	h, err := mod.Lookup(name)
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}

	completion := lambda.NewCompletion(nil)
	ic := lambda.NewInvocationContext(json.RawMessage(`{"client":{"app_title":"demo"}}`), nil,
		lambda.FunctionInfo{Name: "smoke", MemoryMB: 128}, completion)

	ctx := context.Background()
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	err = h.Invoke(ctx, json.RawMessage(event), ic)
	o, ok := completion.Outcome()
	return invocation{outcome: o, ok: ok, ignored: completion.Ignored(), err: err}
}

func TestInvokeSucceedObject(t *testing.T) {
	res := invoke(t, 0, `
exports.run = function (event, ctx) { ctx.succeed({ ok: true }); };
`, "run", `{}`)
	if res.err != nil {
		t.Fatal(res.err)
	}
	if !res.ok || !res.outcome.Succeeded {
		t.Fatalf("expected success, got %+v", res)
	}
	if got := res.outcome.Message(); got != `{"ok":true}` {
		t.Fatalf("unexpected message %q", got)
	}
}

func TestInvokeReceivesEventAndContext(t *testing.T) {
	res := invoke(t, 0, `
exports.handler = (event, ctx) => {
  ctx.done(null, {
    greeting: event.greeting,
    requestId: ctx.awsRequestId,
    stream: ctx.logStreamName,
    app: ctx.clientContext.client.app_title,
    identity: ctx.identity,
    cwd: process.cwd(),
    fn: ctx.functionName,
  });
};
`, "handler", `{"greeting":"hi"}`)
	if res.err != nil {
		t.Fatal(res.err)
	}
	var got map[string]any
	if err := json.Unmarshal(res.outcome.Result.JSON, &got); err != nil {
		t.Fatalf("decode result %s: %v", res.outcome.Result.JSON, err)
	}
	if got["greeting"] != "hi" || got["requestId"] != lambda.RequestID || got["stream"] != lambda.RequestID {
		t.Fatalf("unexpected result %v", got)
	}
	if got["app"] != "demo" || got["identity"] != nil || got["fn"] != "smoke" {
		t.Fatalf("unexpected side data %v", got)
	}
	if got["cwd"] == "" {
		t.Fatal("expected a working directory")
	}
}

func TestInvokeFailWithError(t *testing.T) {
	res := invoke(t, 0, `
exports.handler = (event, ctx) => { setTimeout(() => ctx.fail(new TypeError('bad input')), 5); };
`, "handler", `{}`)
	if res.err != nil {
		t.Fatal(res.err)
	}
	if !res.ok || res.outcome.Succeeded {
		t.Fatalf("expected failure, got %+v", res)
	}
	msg := res.outcome.Message()
	if !strings.Contains(msg, `"errorType":"TypeError"`) || !strings.Contains(msg, `"errorMessage":"bad input"`) {
		t.Fatalf("unexpected failure message %q", msg)
	}
}

func TestInvokeDoneWithStringError(t *testing.T) {
	res := invoke(t, 0, `
exports.handler = (event, ctx) => ctx.done('nope');
`, "handler", `{}`)
	if res.outcome.Succeeded || res.outcome.Message() != "nope" {
		t.Fatalf("unexpected outcome %+v", res.outcome)
	}
}

func TestInvokeSucceedUndefined(t *testing.T) {
	res := invoke(t, 0, `
exports.handler = (event, ctx) => ctx.succeed();
`, "handler", `{}`)
	if !res.outcome.Succeeded || res.outcome.Message() != "Successful!" {
		t.Fatalf("unexpected outcome %+v", res.outcome)
	}
}

func TestInvokePromise(t *testing.T) {
	res := invoke(t, 0, `
exports.handler = async (event) => ({ doubled: event.n * 2 });
`, "handler", `{"n":21}`)
	if !res.outcome.Succeeded || res.outcome.Message() != `{"doubled":42}` {
		t.Fatalf("unexpected outcome %+v", res.outcome)
	}
}

func TestInvokeThrow(t *testing.T) {
	res := invoke(t, 0, `
exports.handler = () => { throw new Error('sync boom'); };
`, "handler", `{}`)
	if res.outcome.Succeeded || !strings.Contains(res.outcome.Message(), "sync boom") {
		t.Fatalf("unexpected outcome %+v", res.outcome)
	}
}

func TestInvokeDuplicateCallsIgnored(t *testing.T) {
	res := invoke(t, 0, `
exports.handler = (event, ctx) => { ctx.succeed('first'); ctx.fail('second'); };
`, "handler", `{}`)
	if !res.outcome.Succeeded || res.outcome.Message() != "first" {
		t.Fatalf("first call should win, got %+v", res.outcome)
	}
	if res.ignored != 1 {
		t.Fatalf("expected 1 ignored call, got %d", res.ignored)
	}
}

func TestInvokeWithoutCompletion(t *testing.T) {
	res := invoke(t, 0, `
exports.handler = () => {};
`, "handler", `{}`)
	if res.err != nil {
		t.Fatal(res.err)
	}
	if res.ok {
		t.Fatalf("expected no outcome, got %+v", res.outcome)
	}
}

func TestInvokeTimeout(t *testing.T) {
	res := invoke(t, 300*time.Millisecond, `
exports.handler = () => { setInterval(() => {}, 1000); };
`, "handler", `{}`)
	if !errors.Is(res.err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", res.err)
	}
}

func TestInvokeReturnsOnceResolvedWithPendingWork(t *testing.T) {
	start := time.Now()
	res := invoke(t, 0, `
exports.handler = (event, ctx) => {
  ctx.succeed({ ok: true });
  setInterval(() => {}, 1000);
};
`, "handler", `{}`)
	if res.err != nil {
		t.Fatalf("expected a clean return after succeed, got %v", res.err)
	}
	if !res.ok || res.outcome.Message() != `{"ok":true}` {
		t.Fatalf("unexpected outcome %+v", res)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Fatalf("invoke took %s after the handler succeeded", elapsed)
	}
}

func TestInvokeCountsCallsDuringGrace(t *testing.T) {
	res := invoke(t, 0, `
exports.handler = (event, ctx) => {
  ctx.succeed('first');
  setTimeout(() => ctx.fail('late'), 10);
  setInterval(() => {}, 1000);
};
`, "handler", `{}`)
	if res.err != nil {
		t.Fatal(res.err)
	}
	if !res.outcome.Succeeded || res.outcome.Message() != "first" {
		t.Fatalf("first call should win, got %+v", res.outcome)
	}
	if res.ignored != 1 {
		t.Fatalf("expected the late call to be counted, got %d", res.ignored)
	}
}

func TestLookupNotFunction(t *testing.T) {
	dir := t.TempDir()
	path := writeModule(t, dir, `exports.handler = 42; exports.other = () => {};`)

	loader := NewLoader(requireNode(t), WithOutput(io.Discard, io.Discard))
	mod, err := loader.Load(context.Background(), lambda.LoadRequest{Path: path, WorkDir: dir})
	if err != nil {
		t.Fatal(err)
	}
	defer mod.Close()

	for _, name := range []string{"handler", "missing"} {
		_, err := mod.Lookup(name)
		if !errors.Is(err, lambda.ErrNotFunction) {
			t.Fatalf("Lookup(%q): expected ErrNotFunction, got %v", name, err)
		}
	}
	if _, err := mod.Lookup("other"); err != nil {
		t.Fatalf("Lookup(other): %v", err)
	}
}

func TestLoadSyntaxError(t *testing.T) {
	dir := t.TempDir()
	path := writeModule(t, dir, `exports.handler = (;`)

	loader := NewLoader(requireNode(t), WithOutput(io.Discard, io.Discard))
	_, err := loader.Load(context.Background(), lambda.LoadRequest{Path: path, WorkDir: dir})
	if err == nil || !strings.Contains(err.Error(), "SyntaxError") {
		t.Fatalf("expected SyntaxError, got %v", err)
	}
}

func TestLoadMissingBinary(t *testing.T) {
	loader := NewLoader(filepath.Join(t.TempDir(), "no-such-node"))
	_, err := loader.Load(context.Background(), lambda.LoadRequest{Path: "/x.js", WorkDir: t.TempDir()})
	if err == nil {
		t.Fatal("expected start error")
	}
}

func TestTailBuffer(t *testing.T) {
	tb := newTailBuffer(5)
	tb.Write([]byte("abc"))
	tb.Write([]byte("defgh"))
	if got := tb.String(); got != "defgh" {
		t.Fatalf("expected last 5 bytes, got %q", got)
	}
}

func TestExitErrorMessage(t *testing.T) {
	err := &ExitError{Code: 2, Stderr: "  trace\n"}
	if err.Error() != "node exited with code 2: trace" {
		t.Fatalf("unexpected message %q", err.Error())
	}
}
