// Package node runs JavaScript handler modules in a Node.js child process.
package node

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/oriys/lambda-invoke/internal/lambda"
	"github.com/oriys/lambda-invoke/internal/logging"
)

const (
	defaultTailSize = 4096
	maxMessageSize  = 64 << 20

	// settleGrace is how long a runtime may keep running after the handler
	// resolved, so calls already in flight still reach the completion.
	settleGrace = 200 * time.Millisecond
)

// ExitError reports a runtime process that exited unsuccessfully.
type ExitError struct {
	Code   int
	Stderr string
}

func (e *ExitError) Error() string {
	msg := fmt.Sprintf("node exited with code %d", e.Code)
	if s := strings.TrimSpace(e.Stderr); s != "" {
		msg += ": " + s
	}
	return msg
}

// Loader starts one Node.js process per loaded module.
type Loader struct {
	nodeBin  string
	stdout   io.Writer
	stderr   io.Writer
	tailSize int
	grace    time.Duration
}

// Option configures a Loader.
type Option func(*Loader)

// WithOutput sets where handler stdout and stderr are copied.
func WithOutput(stdout, stderr io.Writer) Option {
	return func(l *Loader) {
		l.stdout = stdout
		l.stderr = stderr
	}
}

// NewLoader creates a loader that runs nodeBin.
func NewLoader(nodeBin string, opts ...Option) *Loader {
	if nodeBin == "" {
		nodeBin = "node"
	}
	l := &Loader{
		nodeBin:  nodeBin,
		stdout:   os.Stdout,
		stderr:   os.Stderr,
		tailSize: defaultTailSize,
		grace:    settleGrace,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Load starts the runtime, loads req.Path and waits until the module's
// exports are known.
func (l *Loader) Load(ctx context.Context, req lambda.LoadRequest) (lambda.Module, error) {
	bootstrap, err := os.CreateTemp("", "lambda-invoke-bootstrap-*.js")
	if err != nil {
		return nil, fmt.Errorf("create bootstrap: %w", err)
	}
	bootstrapPath := bootstrap.Name()
	if _, err := bootstrap.WriteString(bootstrapNode); err != nil {
		bootstrap.Close()
		os.Remove(bootstrapPath)
		return nil, fmt.Errorf("write bootstrap: %w", err)
	}
	bootstrap.Close()

	ctrlOutR, ctrlOutW, err := os.Pipe()
	if err != nil {
		os.Remove(bootstrapPath)
		return nil, fmt.Errorf("create control pipe: %w", err)
	}
	ctrlInR, ctrlInW, err := os.Pipe()
	if err != nil {
		ctrlOutR.Close()
		ctrlOutW.Close()
		os.Remove(bootstrapPath)
		return nil, fmt.Errorf("create control pipe: %w", err)
	}

	tail := newTailBuffer(l.tailSize)
	cmd := exec.Command(l.nodeBin, bootstrapPath, req.Path)
	cmd.Dir = req.WorkDir
	cmd.Env = append(os.Environ(), req.Env...)
	cmd.Stdout = l.stdout
	cmd.Stderr = io.MultiWriter(l.stderr, tail)
	cmd.ExtraFiles = []*os.File{ctrlOutW, ctrlInR}
	cmd.WaitDelay = time.Second
	setProcessGroup(cmd)

	if err := cmd.Start(); err != nil {
		ctrlOutR.Close()
		ctrlOutW.Close()
		ctrlInR.Close()
		ctrlInW.Close()
		os.Remove(bootstrapPath)
		return nil, fmt.Errorf("start %s: %w", l.nodeBin, err)
	}
	// The child holds its own copies.
	ctrlOutW.Close()
	ctrlInR.Close()

	m := &module{
		cmd:       cmd,
		bootstrap: bootstrapPath,
		ctrlIn:    ctrlInW,
		msgs:      make(chan Message, 16),
		exited:    make(chan struct{}),
		closed:    make(chan struct{}),
		tail:      tail,
		grace:     l.grace,
	}
	go m.readLoop(ctrlOutR)
	go m.wait()

	logging.Op().Debug("runtime started", "pid", cmd.Process.Pid, "module", req.Path, "work_dir", req.WorkDir)

	select {
	case msg, ok := <-m.msgs:
		if !ok {
			<-m.exited
			m.Close()
			return nil, fmt.Errorf("runtime exited before loading module: %w", m.exitError())
		}
		switch msg.Type {
		case MsgLoaded:
			m.exports = msg.Exports
			return m, nil
		case MsgLoadError:
			m.Close()
			return nil, fmt.Errorf("load module %s: %s", req.Path, msg.Error.Format("unknown error"))
		default:
			m.Close()
			return nil, fmt.Errorf("unexpected control message %q", msg.Type)
		}
	case <-ctx.Done():
		m.Close()
		return nil, ctx.Err()
	}
}

type module struct {
	cmd       *exec.Cmd
	bootstrap string
	ctrlIn    *os.File
	msgs      chan Message
	exited    chan struct{}
	closed    chan struct{}
	waitErr   error
	tail      *tailBuffer
	exports   map[string]string
	grace     time.Duration

	invokeMu  sync.Mutex
	invoked   bool
	closeOnce sync.Once
}

func (m *module) readLoop(r io.ReadCloser) {
	defer close(m.msgs)
	defer r.Close()

	br := bufio.NewReaderSize(r, 64*1024)
	for {
		line, err := br.ReadBytes('\n')
		if len(line) > maxMessageSize {
			logging.Op().Warn("dropping oversized control message", "bytes", len(line))
		} else if len(strings.TrimSpace(string(line))) > 0 {
			var msg Message
			if jerr := json.Unmarshal(line, &msg); jerr != nil {
				logging.Op().Warn("invalid control message", "error", jerr)
			} else {
				select {
				case m.msgs <- msg:
				case <-m.closed:
					return
				}
			}
		}
		if err != nil {
			return
		}
	}
}

func (m *module) wait() {
	m.waitErr = m.cmd.Wait()
	close(m.exited)
}

func (m *module) exitError() error {
	var exitErr *exec.ExitError
	if errors.As(m.waitErr, &exitErr) {
		return &ExitError{Code: exitErr.ExitCode(), Stderr: m.tail.String()}
	}
	return m.waitErr
}

func (m *module) Lookup(name string) (lambda.Handler, error) {
	kind, ok := m.exports[name]
	if !ok {
		kind = "undefined"
	}
	if kind != "function" {
		return nil, fmt.Errorf("%w: %q is %s (exports: %s)", lambda.ErrNotFunction, name, kind, m.functionNames())
	}
	return &handler{module: m, name: name}, nil
}

func (m *module) functionNames() string {
	var names []string
	for name, kind := range m.exports {
		if kind == "function" {
			names = append(names, name)
		}
	}
	if len(names) == 0 {
		return "none"
	}
	sort.Strings(names)
	return strings.Join(names, ", ")
}

// Close stops the runtime if it is still running and removes the bootstrap.
func (m *module) Close() error {
	var err error
	m.closeOnce.Do(func() {
		close(m.closed)
		m.ctrlIn.Close()
		select {
		case <-m.exited:
		default:
			if kerr := killProcessGroup(m.cmd); kerr != nil {
				err = fmt.Errorf("kill runtime: %w", kerr)
			}
			<-m.exited
		}
		os.Remove(m.bootstrap)
	})
	return err
}

type handler struct {
	module *module
	name   string
}

// Invoke sends the request and relays terminal calls to ic. It returns when
// the runtime exits, or shortly after ic is resolved: a handler that leaves
// timers or sockets open is stopped once the grace period ends, as Lambda
// freezes the sandbox after the callback. A non-zero exit before resolution
// is returned as *ExitError.
func (h *handler) Invoke(ctx context.Context, event json.RawMessage, ic *lambda.InvocationContext) error {
	m := h.module

	m.invokeMu.Lock()
	if m.invoked {
		m.invokeMu.Unlock()
		return errors.New("module already invoked")
	}
	m.invoked = true
	m.invokeMu.Unlock()

	data, err := json.Marshal(InvokeRequest{Handler: h.name, Event: event, Context: ic.Wire()})
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	if _, err := m.ctrlIn.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	m.ctrlIn.Close()

	notFunction := false
	resolved := ic.Completion().Done()
	var settle <-chan time.Time
	for {
		select {
		case msg, ok := <-m.msgs:
			if !ok {
				<-m.exited
				if notFunction {
					return fmt.Errorf("%w: %q", lambda.ErrNotFunction, h.name)
				}
				return m.exitError()
			}
			switch msg.Type {
			case MsgCall:
				dispatch(ic, msg)
			case MsgNotFunction:
				notFunction = true
			default:
				logging.Op().Warn("unexpected control message", "type", msg.Type)
			}
		case <-resolved:
			resolved = nil
			timer := time.NewTimer(m.grace)
			defer timer.Stop()
			settle = timer.C
		case <-settle:
			logging.Op().Debug("stopping runtime after completion", "pid", m.cmd.Process.Pid)
			if err := killProcessGroup(m.cmd); err != nil {
				logging.Op().Warn("kill runtime failed", "error", err)
			}
			for msg := range m.msgs {
				if msg.Type == MsgCall {
					dispatch(ic, msg)
				}
			}
			<-m.exited
			return nil
		case <-ctx.Done():
			if err := killProcessGroup(m.cmd); err != nil {
				logging.Op().Warn("kill runtime failed", "error", err)
			}
			<-m.exited
			return ctx.Err()
		}
	}
}
