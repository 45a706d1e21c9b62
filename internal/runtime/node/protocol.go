package node

import (
	"encoding/json"

	"github.com/oriys/lambda-invoke/internal/lambda"
)

const (
	MsgLoaded      = "loaded"
	MsgLoadError   = "load_error"
	MsgCall        = "call"
	MsgNotFunction = "not_function"
)

const (
	MethodDone    = "done"
	MethodSucceed = "succeed"
	MethodFail    = "fail"
)

// Message is one control line written by the bootstrap.
type Message struct {
	Type    string            `json:"type"`
	Exports map[string]string `json:"exports,omitempty"`
	Method  string            `json:"method,omitempty"`
	Handler string            `json:"handler,omitempty"`
	Result  lambda.Value      `json:"result"`
	Error   lambda.Value      `json:"error"`
}

// InvokeRequest is the single request line sent to the bootstrap.
type InvokeRequest struct {
	Handler string          `json:"handler"`
	Event   json.RawMessage `json:"event"`
	Context lambda.Wire     `json:"context"`
}

// dispatch routes a call message to the invocation context.
func dispatch(ic *lambda.InvocationContext, msg Message) {
	switch msg.Method {
	case MethodDone:
		ic.Done(msg.Error, msg.Result)
	case MethodSucceed:
		ic.Succeed(msg.Result)
	case MethodFail:
		ic.Fail(msg.Error)
	}
}
