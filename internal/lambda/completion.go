package lambda

import "sync"

// Outcome is the terminal result reported by a handler.
type Outcome struct {
	Succeeded bool
	Result    Value
	Error     Value
}

// Message returns the formatted outcome message.
func (o Outcome) Message() string {
	if o.Succeeded {
		return o.Result.Format("Successful!")
	}
	return o.Error.Format("Error not provided.")
}

// Completion is a single-resolution handle. The first Resolve wins; later
// calls are counted and handed to the ignored hook, never acted on.
type Completion struct {
	mu       sync.Mutex
	outcome  Outcome
	resolved bool
	ignored  int
	done     chan struct{}
	onIgnore func(Outcome)
}

// NewCompletion returns an unresolved Completion. onIgnore, when non-nil, is
// called for every resolution attempt after the first.
func NewCompletion(onIgnore func(Outcome)) *Completion {
	return &Completion{done: make(chan struct{}), onIgnore: onIgnore}
}

// Resolve records o if nothing was recorded yet and reports whether it did.
func (c *Completion) Resolve(o Outcome) bool {
	c.mu.Lock()
	if c.resolved {
		c.ignored++
		hook := c.onIgnore
		c.mu.Unlock()
		if hook != nil {
			hook(o)
		}
		return false
	}
	c.outcome = o
	c.resolved = true
	close(c.done)
	c.mu.Unlock()
	return true
}

// Outcome returns the recorded outcome, if any.
func (c *Completion) Outcome() (Outcome, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.outcome, c.resolved
}

// Ignored returns how many resolution attempts were dropped.
func (c *Completion) Ignored() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ignored
}

// Done is closed once the completion is resolved.
func (c *Completion) Done() <-chan struct{} {
	return c.done
}
