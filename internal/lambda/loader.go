package lambda

import (
	"context"
	"encoding/json"
	"strings"
)

// LoadRequest describes the module to load.
type LoadRequest struct {
	// Path is the absolute path of the module source.
	Path string
	// WorkDir is the working directory of the handler.
	WorkDir string
	// Env is appended to the handler environment.
	Env []string
}

// Loader loads a handler module.
type Loader interface {
	Load(ctx context.Context, req LoadRequest) (Module, error)
}

// Module is a loaded handler module.
type Module interface {
	// Lookup resolves an exported function. It returns an error wrapping
	// ErrNotFunction when the export is absent or not callable.
	Lookup(name string) (Handler, error)
	Close() error
}

// Handler is a resolved exported function.
type Handler interface {
	// Invoke calls the function with event and ic, and returns once the
	// function has finished running. Terminal calls are reported through ic.
	Invoke(ctx context.Context, event json.RawMessage, ic *InvocationContext) error
}

// FunctionName returns the last dot-separated segment of a handler reference.
func FunctionName(handlerRef string) string {
	return handlerRef[strings.LastIndex(handlerRef, ".")+1:]
}
