// Package invoker implements the build stage that invokes a Lambda handler
// module once, at the end of the stream.
package invoker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/oriys/lambda-invoke/internal/config"
	"github.com/oriys/lambda-invoke/internal/lambda"
	"github.com/oriys/lambda-invoke/internal/logging"
	"github.com/oriys/lambda-invoke/internal/metrics"
	"github.com/oriys/lambda-invoke/internal/observability"
	"github.com/oriys/lambda-invoke/internal/payload"
	"github.com/oriys/lambda-invoke/internal/pipeline"
	"github.com/oriys/lambda-invoke/internal/runtime/node"
	"go.opentelemetry.io/otel/attribute"
)

// SourceExtension is the suffix the handler module path must carry.
const SourceExtension = ".js"

// defaultSettle bounds how long a resolved handler may keep running before
// its context is cancelled. Runtimes normally stop on their own well before.
const defaultSettle = 2 * time.Second

// Invoker is a pipeline.Stage. It keeps the first file with a payload and
// invokes it as a handler module when the stream ends.
type Invoker struct {
	opts     config.Options
	baseDir  string
	workDir  string
	sideData payload.SideData
	function lambda.FunctionInfo
	env      []string
	timeout  time.Duration
	settle   time.Duration
	runtime  string

	loader  lambda.Loader
	metrics *metrics.PrometheusMetrics
	records *logging.RecordLog
	runID   string
	log     *slog.Logger

	handlerRef *pipeline.File
}

var _ pipeline.Stage = (*Invoker)(nil)

type Option func(*Invoker)

// WithLoader sets the module loader. The default runs modules with node.
func WithLoader(l lambda.Loader, runtime string) Option {
	return func(inv *Invoker) {
		inv.loader = l
		inv.runtime = runtime
	}
}

// WithBaseDir sets the directory side files and PackageFolder are resolved
// against. The default is the working directory at construction.
func WithBaseDir(dir string) Option {
	return func(inv *Invoker) {
		inv.baseDir = dir
	}
}

// WithFunction sets the function metadata exposed on the handler context.
func WithFunction(fn lambda.FunctionInfo) Option {
	return func(inv *Invoker) {
		inv.function = fn
	}
}

// WithEnv appends variables to the handler environment.
func WithEnv(env ...string) Option {
	return func(inv *Invoker) {
		inv.env = append(inv.env, env...)
	}
}

// WithTimeout bounds the invocation. Zero waits indefinitely.
func WithTimeout(d time.Duration) Option {
	return func(inv *Invoker) {
		inv.timeout = d
	}
}

// WithMetrics sets the metrics recorder
func WithMetrics(pm *metrics.PrometheusMetrics) Option {
	return func(inv *Invoker) {
		inv.metrics = pm
	}
}

// WithRecordLog sets the invocation record log
func WithRecordLog(rl *logging.RecordLog) Option {
	return func(inv *Invoker) {
		inv.records = rl
	}
}

// WithRunID sets the id used to correlate logs of this run.
func WithRunID(id string) Option {
	return func(inv *Invoker) {
		inv.runID = id
	}
}

// New merges opts over the defaults, loads the client context and identity
// documents and resolves the package folder. Any side file that exists but
// cannot be read or parsed aborts construction.
func New(ctx context.Context, opts config.Options, options ...Option) (*Invoker, error) {
	inv := &Invoker{
		opts:   config.DefaultOptions().Merge(opts),
		settle: defaultSettle,
	}
	for _, opt := range options {
		opt(inv)
	}

	if inv.runID == "" {
		inv.runID = uuid.New().String()[:8]
	}
	ctx, span := observability.StartSpan(ctx, "lambda.setup", observability.AttrRunID.String(inv.runID))
	defer span.End()
	inv.log = logging.OpWithRun(inv.runID, observability.GetTraceID(ctx))

	if inv.baseDir == "" {
		cwd, err := os.Getwd()
		if err != nil {
			observability.SetSpanError(span, err)
			return nil, fmt.Errorf("get working directory: %w", err)
		}
		inv.baseDir = cwd
	}

	sd, err := payload.LoadSideData(inv.baseDir, inv.opts.ClientContext, inv.opts.Identity)
	if err != nil {
		observability.SetSpanError(span, err)
		return nil, err
	}
	inv.sideData = sd

	inv.workDir = inv.baseDir
	if inv.opts.PackageFolder != "" {
		inv.workDir = payload.Resolve(inv.baseDir, inv.opts.PackageFolder)
		info, err := os.Stat(inv.workDir)
		if err != nil {
			observability.SetSpanError(span, err)
			return nil, fmt.Errorf("package folder: %w", err)
		}
		if !info.IsDir() {
			err := fmt.Errorf("package folder %s is not a directory", inv.workDir)
			observability.SetSpanError(span, err)
			return nil, err
		}
	}

	if inv.loader == nil {
		inv.loader = node.NewLoader("node")
		inv.runtime = "node"
	}

	inv.log.Debug("invoker ready",
		"handler", inv.opts.Handler,
		"work_dir", inv.workDir,
		"client_context", sd.ClientContext != nil,
		"identity", sd.Identity != nil,
	)
	observability.SetSpanOK(span)
	return inv, nil
}

// Options returns the merged options.
func (inv *Invoker) Options() config.Options {
	return inv.opts
}

// WorkDir returns the directory the handler runs in.
func (inv *Invoker) WorkDir() string {
	return inv.workDir
}

// Transform passes null items through, rejects streams and remembers the
// first item with a payload. Nothing else is forwarded until Flush.
func (inv *Invoker) Transform(ctx context.Context, f *pipeline.File, push pipeline.Push) error {
	if f.IsNull() {
		return push(f)
	}
	if f.IsStream() {
		return lambda.NewError(lambda.ErrUnsupportedInput, "Streaming is not supported")
	}
	if inv.handlerRef == nil {
		inv.handlerRef = f
		return nil
	}
	inv.log.Debug("ignoring additional file", "path", f.Path)
	return nil
}

// Flush invokes the captured module and forwards it when the handler
// succeeds.
func (inv *Invoker) Flush(ctx context.Context, push pipeline.Push) error {
	if inv.handlerRef == nil {
		return lambda.NewError(lambda.ErrNoInput, "No code.")
	}
	if !strings.HasSuffix(inv.handlerRef.Path, SourceExtension) {
		return lambda.NewError(lambda.ErrInvalidExtension, "Provided file must have "+SourceExtension+" extension")
	}

	modulePath := payload.Resolve(inv.baseDir, inv.handlerRef.Path)

	inv.log.Info(fmt.Sprintf("Invoking Lambda function %q...", inv.opts.Handler))

	ctx, span := observability.StartSpan(ctx, "lambda.invoke",
		observability.AttrRunID.String(inv.runID),
		observability.AttrHandler.String(inv.opts.Handler),
		observability.AttrModule.String(modulePath),
		observability.AttrWorkDir.String(inv.workDir),
	)
	defer span.End()

	start := time.Now()
	outcome, completion, eventSize, err := inv.invoke(ctx, modulePath)
	duration := time.Since(start)

	ignored := 0
	if completion != nil {
		ignored = completion.Ignored()
	}
	span.SetAttributes(
		observability.AttrDurationMs.Int64(duration.Milliseconds()),
		observability.AttrIgnored.Int(ignored),
	)

	record := &logging.InvocationRecord{
		RunID:      inv.runID,
		TraceID:    observability.GetTraceID(ctx),
		Handler:    inv.opts.Handler,
		Module:     modulePath,
		DurationMs: duration.Milliseconds(),
		EventSize:  eventSize,
		Ignored:    ignored,
	}

	if err != nil {
		label := metrics.OutcomeError
		if errors.Is(err, lambda.ErrNoCompletion) {
			label = metrics.OutcomeNoCompletion
		}
		inv.finish(record, label, duration, ignored, err.Error())
		span.SetAttributes(observability.AttrOutcome.String(label))
		observability.SetSpanError(span, err)
		return err
	}

	msg := outcome.Message()
	record.Message = msg
	if outcome.Succeeded {
		inv.log.Info("AWS Lambda success: " + msg)
		record.Success = true
		inv.finish(record, metrics.OutcomeSuccess, duration, ignored, "")
		span.SetAttributes(observability.AttrOutcome.String(metrics.OutcomeSuccess))
		observability.SetSpanOK(span)
		return push(inv.handlerRef)
	}

	inv.log.Info("AWS Lambda fail: " + msg)
	inv.finish(record, metrics.OutcomeFailure, duration, ignored, msg)
	failure := lambda.NewError(lambda.ErrHandlerFailure, msg)
	span.SetAttributes(observability.AttrOutcome.String(metrics.OutcomeFailure))
	observability.SetSpanError(span, failure)
	return failure
}

func (inv *Invoker) invoke(ctx context.Context, modulePath string) (lambda.Outcome, *lambda.Completion, int, error) {
	completion := lambda.NewCompletion(func(o lambda.Outcome) {
		inv.log.Warn("ignoring completion call after the invocation was resolved",
			"succeeded", o.Succeeded, "message", o.Message())
	})
	ic := lambda.NewInvocationContext(inv.sideData.ClientContext, inv.sideData.Identity, inv.function, completion)

	event, err := payload.ReadEvent(payload.Resolve(inv.workDir, inv.opts.Event))
	if err != nil {
		return lambda.Outcome{}, nil, 0, fmt.Errorf("event: %w", err)
	}

	if inv.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, inv.timeout)
		defer cancel()
		ic.Deadline = time.Now().Add(inv.timeout)
	}

	env := append(append([]string(nil), inv.env...), observability.TraceEnv(ctx)...)
	loadStart := time.Now()
	mod, err := inv.loader.Load(ctx, lambda.LoadRequest{Path: modulePath, WorkDir: inv.workDir, Env: env})
	if err != nil {
		return lambda.Outcome{}, completion, len(event), fmt.Errorf("load handler module: %w", err)
	}
	defer func() {
		if err := mod.Close(); err != nil {
			inv.log.Warn("close handler module", "error", err)
		}
	}()
	inv.metrics.RecordModuleLoad(inv.runtime, time.Since(loadStart))

	h, err := mod.Lookup(lambda.FunctionName(inv.opts.Handler))
	if err != nil {
		return lambda.Outcome{}, completion, len(event), inv.lookupError(err)
	}

	invokeErr := inv.call(ctx, h, event, ic)
	if errors.Is(invokeErr, lambda.ErrNotFunction) {
		return lambda.Outcome{}, completion, len(event), inv.lookupError(invokeErr)
	}

	if outcome, ok := completion.Outcome(); ok {
		if invokeErr != nil {
			inv.log.Debug("runtime exited with error after completion", "error", invokeErr)
		}
		return outcome, completion, len(event), nil
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		msg := "handler interrupted before calling done, succeed or fail"
		if errors.Is(ctxErr, context.DeadlineExceeded) && inv.timeout > 0 {
			msg = fmt.Sprintf("handler did not complete within %s", inv.timeout)
		}
		return lambda.Outcome{}, completion, len(event), lambda.WrapError(lambda.ErrNoCompletion, msg, ctxErr)
	}
	if invokeErr != nil {
		return lambda.Outcome{}, completion, len(event),
			lambda.WrapError(lambda.ErrNoCompletion, "handler exited without calling done, succeed or fail", invokeErr)
	}
	return lambda.Outcome{}, completion, len(event),
		lambda.NewError(lambda.ErrNoCompletion, "handler exited without calling done, succeed or fail")
}

// call runs h and returns when it does, or once the completion is resolved
// and the handler has had inv.settle to wind down.
func (inv *Invoker) call(ctx context.Context, h lambda.Handler, event json.RawMessage, ic *lambda.InvocationContext) error {
	callCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	errc := make(chan error, 1)
	go func() {
		errc <- h.Invoke(callCtx, event, ic)
	}()

	select {
	case err := <-errc:
		return err
	case <-ic.Completion().Done():
	}

	timer := time.NewTimer(inv.settle)
	defer timer.Stop()
	select {
	case err := <-errc:
		return err
	case <-timer.C:
		inv.log.Debug("handler still running after completion, cancelling", "settle", inv.settle)
		cancel()
		return <-errc
	}
}

func (inv *Invoker) lookupError(err error) error {
	if errors.Is(err, lambda.ErrNotFunction) {
		return lambda.WrapError(lambda.ErrHandlerNotFunction, "handler not a function: "+inv.opts.Handler, err)
	}
	return err
}

func (inv *Invoker) finish(record *logging.InvocationRecord, outcome string, duration time.Duration, ignored int, errMsg string) {
	record.Error = errMsg
	inv.metrics.RecordInvocation(inv.opts.Handler, outcome, duration, ignored)
	if err := inv.records.Log(record); err != nil {
		inv.log.Warn("write invocation record", "error", err)
	}
}

// Attributes returns span attributes describing the invoker configuration.
func (inv *Invoker) Attributes() []attribute.KeyValue {
	return []attribute.KeyValue{
		observability.AttrHandler.String(inv.opts.Handler),
		observability.AttrWorkDir.String(inv.workDir),
		observability.AttrRunID.String(inv.runID),
	}
}
