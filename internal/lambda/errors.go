package lambda

import (
	"errors"
	"fmt"
)

// PluginName prefixes every error raised by the invoke stage.
const PluginName = "lambda-invoke"

// Error kinds. Every PluginError unwraps to exactly one of these.
var (
	ErrUnsupportedInput   = errors.New("unsupported input")
	ErrNoInput            = errors.New("no input")
	ErrInvalidExtension   = errors.New("invalid extension")
	ErrHandlerNotFunction = errors.New("handler not a function")
	ErrHandlerFailure     = errors.New("handler failure")
	ErrNoCompletion       = errors.New("handler did not complete")
)

// ErrNotFunction is returned by Module.Lookup when the requested export is
// missing or is not callable.
var ErrNotFunction = errors.New("export is not a function")

// PluginError is the stream-level error surfaced to the pipeline.
type PluginError struct {
	Plugin  string
	Kind    error
	Message string
	Err     error
}

// NewError builds a PluginError of the given kind.
func NewError(kind error, message string) *PluginError {
	return &PluginError{Plugin: PluginName, Kind: kind, Message: message}
}

// WrapError builds a PluginError of the given kind around cause.
func WrapError(kind error, message string, cause error) *PluginError {
	return &PluginError{Plugin: PluginName, Kind: kind, Message: message, Err: cause}
}

func (e *PluginError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Plugin, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Plugin, e.Message)
}

// Unwrap exposes both the kind and the underlying cause to errors.Is/As.
func (e *PluginError) Unwrap() []error {
	if e.Err != nil {
		return []error{e.Kind, e.Err}
	}
	return []error{e.Kind}
}
