// Package isolate models the thread-pinned script execution context and
// the infrastructure around it: a fixed worker pool of single-threaded
// executors (pool.go) and a per-thread cache of live isolates (cache.go).
//
// The script engine itself — constructing an isolate from compiled source
// and actually running a request inside V8-like limits — is modeled here
// as the Engine interface, an external collaborator this package consumes
// but does not implement. A fake implementation for tests lives in the
// enginetest subpackage.
package isolate

import "context"

// Options configures a single isolate: the parameters captured as a
// snapshot at construction time. An isolate does not retain a live
// reference to the catalog entry it was built from.
type Options struct {
	Code                []byte
	EnvironmentVars     map[string]string
	MemoryLimit         int64
	TimeoutMilliseconds int64
}

// Request is the inbound unit of work handed to an isolate.
type Request struct {
	Method  string
	URL     string
	Headers map[string][]string
	Body    []byte
}

// Response is a successful isolate result.
type Response struct {
	Status  int
	Headers map[string][]string
	Body    []byte
}

// Outcome enumerates what running a request against an isolate can
// produce, mirroring the embedding's own result enum.
type Outcome int

const (
	OutcomeResponse Outcome = iota
	OutcomeError
	OutcomeTimeout
	OutcomeMemoryLimit
	OutcomeNotFound
)

// RunResult is the tagged result of Isolate.Run.
type RunResult struct {
	Outcome  Outcome
	Response Response // valid when Outcome == OutcomeResponse
	Message  string   // valid when Outcome == OutcomeError
}

// Statistics reports resource usage for a single Run call, when the
// embedding is able to report it.
type Statistics struct {
	CPUTimeMilliseconds float64
	MemoryUsageBytes    float64
}

// Isolate is a resource-limited, thread-pinned script execution context.
// It is non-movable: once built by a worker thread's Cache, Run and Close
// must only ever be called from that same thread.
type Isolate interface {
	// Run executes one request and returns the outcome plus, when
	// available, resource-usage statistics.
	Run(ctx context.Context, req Request) (RunResult, *Statistics, error)

	// Close releases the isolate's resources. Called on the owning thread
	// only, by Cache.Evict or Cache.ClearAll.
	Close() error
}

// Engine constructs isolates from options. It is the single seam between
// this package and the actual embedded script runtime.
type Engine interface {
	NewIsolate(opts Options) (Isolate, error)
}

// IsolateInitError wraps a code-load or construction failure surfaced by
// Cache.GetOrCreate. No entry is cached on this error, so a later request
// for the same hostname may retry.
type IsolateInitError struct {
	Hostname string
	Err      error
}

func (e *IsolateInitError) Error() string {
	return "isolate init for " + e.Hostname + ": " + e.Err.Error()
}

func (e *IsolateInitError) Unwrap() error { return e.Err }
