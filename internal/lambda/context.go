package lambda

import (
	"encoding/json"
	"time"
)

// RequestID is reported as both awsRequestId and logStreamName.
const RequestID = "LAMBDA_INVOKE"

// FunctionInfo is the function metadata exposed on the handler context.
type FunctionInfo struct {
	Name       string `json:"functionName"`
	Version    string `json:"functionVersion"`
	ARN        string `json:"invokedFunctionArn"`
	MemoryMB   int    `json:"memoryLimitInMB"`
	LogGroup   string `json:"logGroupName"`
	HandlerRef string `json:"handler"`
}

// InvocationContext is the per-call context handed to a handler.
type InvocationContext struct {
	AWSRequestID  string
	LogStreamName string
	ClientContext json.RawMessage
	Identity      json.RawMessage
	Function      FunctionInfo
	Deadline      time.Time

	completion *Completion
}

// NewInvocationContext binds a fresh context to completion.
func NewInvocationContext(clientContext, identity json.RawMessage, fn FunctionInfo, completion *Completion) *InvocationContext {
	return &InvocationContext{
		AWSRequestID:  RequestID,
		LogStreamName: RequestID,
		ClientContext: orNull(clientContext),
		Identity:      orNull(identity),
		Function:      fn,
		completion:    completion,
	}
}

// Done delegates to Succeed when err is null or undefined, to Fail otherwise.
func (c *InvocationContext) Done(err, result Value) {
	if err.IsNullish() {
		c.Succeed(result)
		return
	}
	c.Fail(err)
}

// Succeed reports a successful invocation.
func (c *InvocationContext) Succeed(result Value) {
	c.completion.Resolve(Outcome{Succeeded: true, Result: result})
}

// Fail reports a failed invocation.
func (c *InvocationContext) Fail(err Value) {
	c.completion.Resolve(Outcome{Error: err})
}

// Completion returns the handle this context resolves.
func (c *InvocationContext) Completion() *Completion {
	return c.completion
}

// RemainingMillis is the budget left before Deadline; 0 means no deadline.
func (c *InvocationContext) RemainingMillis(now time.Time) int64 {
	if c.Deadline.IsZero() {
		return 0
	}
	left := c.Deadline.Sub(now).Milliseconds()
	if left < 0 {
		return 0
	}
	return left
}

// Wire is the JSON shape sent to the runtime bootstrap.
type Wire struct {
	AWSRequestID  string          `json:"awsRequestId"`
	LogStreamName string          `json:"logStreamName"`
	ClientContext json.RawMessage `json:"clientContext"`
	Identity      json.RawMessage `json:"identity"`
	FunctionInfo
	DeadlineMs int64 `json:"deadlineMs,omitempty"`
}

// Wire returns the serializable part of the context.
func (c *InvocationContext) Wire() Wire {
	w := Wire{
		AWSRequestID:  c.AWSRequestID,
		LogStreamName: c.LogStreamName,
		ClientContext: orNull(c.ClientContext),
		Identity:      orNull(c.Identity),
		FunctionInfo:  c.Function,
	}
	if !c.Deadline.IsZero() {
		w.DeadlineMs = c.Deadline.UnixMilli()
	}
	return w
}

func orNull(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return json.RawMessage("null")
	}
	return raw
}
