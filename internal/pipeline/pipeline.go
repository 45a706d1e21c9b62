package pipeline

import "context"

// Push forwards an item downstream.
type Push func(*File) error

// Stage is a per-item transform with an end-of-stream finalizer.
type Stage interface {
	Transform(ctx context.Context, f *File, push Push) error
	Flush(ctx context.Context, push Push) error
}

// Sink receives forwarded items.
type Sink interface {
	Write(ctx context.Context, f *File) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, f *File) error

func (fn SinkFunc) Write(ctx context.Context, f *File) error { return fn(ctx, f) }

// Discard drops every item.
var Discard Sink = SinkFunc(func(context.Context, *File) error { return nil })

// Run offers every file to stage, then flushes it once. The first error stops
// the run and is returned.
func Run(ctx context.Context, files []*File, stage Stage, sink Sink) error {
	push := func(f *File) error {
		return sink.Write(ctx, f)
	}

	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := stage.Transform(ctx, f, push); err != nil {
			return err
		}
	}

	if err := stage.Flush(ctx, push); err != nil {
		return err
	}
	return nil
}

// Collect is a Sink that remembers forwarded items.
type Collect struct {
	Files []*File
}

func (c *Collect) Write(_ context.Context, f *File) error {
	c.Files = append(c.Files, f)
	return nil
}
