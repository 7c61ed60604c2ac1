// Package enginetest provides a fake isolate.Engine standing in for the
// out-of-scope script runtime, so the worker pool, isolate cache, and
// dispatcher can be tested without an actual V8/QuickJS embedding.
package enginetest

import (
	"bytes"
	"context"
	"errors"
	"sync/atomic"

	"github.com/edgecore/dispatcher/internal/isolate"
)

// Engine counts how many isolates it has constructed, so tests can assert
// exactly one construction happened even when many goroutines raced to
// request the same isolate.
type Engine struct {
	Constructions int64
}

// NewIsolate builds a *Fake whose behavior is entirely driven by the
// code bytes handed to it: "FAIL" makes construction itself fail, and Run
// turns "TIMEOUT", "MEMORYLIMIT", and "ERROR" into their namesake outcomes;
// anything else is echoed back unchanged as the response body so tests can
// assert which code version ran.
func (e *Engine) NewIsolate(opts isolate.Options) (isolate.Isolate, error) {
	if bytes.Equal(opts.Code, []byte("FAIL")) {
		return nil, errors.New("enginetest: deliberate construction failure")
	}
	id := atomic.AddInt64(&e.Constructions, 1)
	return &Fake{id: id, code: opts.Code}, nil
}

// Fake is a single fake isolate instance.
type Fake struct {
	id     int64
	code   []byte
	closed bool
}

// ID returns the construction-order index of this isolate, starting at 1.
func (f *Fake) ID() int64 { return f.id }

// Run interprets f.code as a scripted outcome.
func (f *Fake) Run(ctx context.Context, req isolate.Request) (isolate.RunResult, *isolate.Statistics, error) {
	stats := &isolate.Statistics{CPUTimeMilliseconds: 1.5, MemoryUsageBytes: 2048}

	switch {
	case bytes.Equal(f.code, []byte("TIMEOUT")):
		return isolate.RunResult{Outcome: isolate.OutcomeTimeout}, nil, nil
	case bytes.Equal(f.code, []byte("MEMORYLIMIT")):
		return isolate.RunResult{Outcome: isolate.OutcomeMemoryLimit}, nil, nil
	case bytes.Equal(f.code, []byte("ERROR")):
		return isolate.RunResult{Outcome: isolate.OutcomeError, Message: "boom"}, nil, nil
	default:
		return isolate.RunResult{
			Outcome: isolate.OutcomeResponse,
			Response: isolate.Response{
				Status: 200,
				Body:   f.code,
			},
		}, stats, nil
	}
}

// Close marks the fake isolate closed. Safe to call multiple times.
func (f *Fake) Close() error {
	f.closed = true
	return nil
}

// Closed reports whether Close was called. Used by tests asserting
// eviction actually tore down the isolate.
func (f *Fake) Closed() bool { return f.closed }
