// Package dispatch implements the Request Dispatcher: the HTTP handler
// that resolves a hostname to a worker thread, hands the request to that
// thread, and — on the thread — resolves the hostname to a deployment,
// serves an asset or runs an isolate, and marshals the result back to an
// http.ResponseWriter.
package dispatch

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/edgecore/dispatcher/internal/affinity"
	"github.com/edgecore/dispatcher/internal/assets"
	"github.com/edgecore/dispatcher/internal/catalog"
	"github.com/edgecore/dispatcher/internal/isolate"
	"github.com/edgecore/dispatcher/internal/metrics"
)

// Handler is the top-level http.Handler for all tenant traffic.
type Handler struct {
	catalog  *catalog.Catalog
	affinity *affinity.Map
	pool     *isolate.Pool
	caches   *isolate.CacheSet
	assetsH  *assets.Handler
	log      *zap.Logger
}

// New builds a Handler wired to the given collaborators.
func New(cat *catalog.Catalog, aff *affinity.Map, pool *isolate.Pool, caches *isolate.CacheSet, assetsH *assets.Handler, log *zap.Logger) *Handler {
	return &Handler{
		catalog:  cat,
		affinity: aff,
		pool:     pool,
		caches:   caches,
		assetsH:  assetsH,
		log:      log,
	}
}

// ServeHTTP resolves the Host header to a worker thread, hands the request
// to that thread, and writes back whatever RunResult comes out.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	assetPath := strings.TrimPrefix(r.URL.Path, "/")

	host := stripPort(r.Host)
	if host == "" {
		http.Error(w, "Missing Host header", http.StatusBadRequest)
		return
	}

	threadIndex, err := h.affinity.Resolve(host)
	if err != nil {
		h.log.Error("affinity resolve failed", zap.Error(err))
		http.Error(w, "Internal error", http.StatusInternalServerError)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "Could not read request body", http.StatusBadRequest)
		return
	}

	isoReq := isolate.Request{
		Method:  r.Method,
		URL:     r.URL.String(),
		Headers: r.Header,
		Body:    body,
	}

	type outcome struct {
		result RunResult
	}
	resultCh := make(chan outcome, 1)

	submitErr := h.pool.Submit(threadIndex, func() {
		// A context independent of the request, not r.Context(): a client
		// disconnect must discard the in-flight response here in ServeHTTP,
		// never reach into the isolate and cancel its run.
		resultCh <- outcome{result: h.runOnThread(context.Background(), threadIndex, host, assetPath, isoReq)}
	})
	if submitErr != nil {
		h.log.Error("submit to worker thread failed", zap.Error(submitErr))
		http.Error(w, "Internal error", http.StatusInternalServerError)
		return
	}

	select {
	case o := <-resultCh:
		writeResult(w, o.result)
	case <-r.Context().Done():
		// Client disconnected; any in-flight response is discarded on
		// write, so we simply stop waiting.
	}
}

// runOnThread executes the post-dispatch portion of a request. It must
// only ever run inside a task submitted to threadIndex's worker, since it
// touches that thread's isolate.Cache.
func (h *Handler) runOnThread(ctx context.Context, threadIndex int, host, assetPath string, req isolate.Request) RunResult {
	deployment, ok := h.catalog.Lookup(host)
	if !ok {
		return RunResult{Outcome: isolate.OutcomeNotFound}
	}

	labels := metrics.Labels{Deployment: deployment.ID, Function: deployment.FunctionID}
	metrics.Requests.WithLabelValues(labels.Deployment, labels.Function).Inc()
	metrics.BytesIn.WithLabelValues(labels.Deployment, labels.Function).Add(float64(len(req.Body)))

	if deployment.HasAsset(assetPath) {
		data, err := h.assetsH.Serve(ctx, deployment.ID, assetPath)
		if err != nil {
			h.log.Error("asset fetch failed",
				zap.String("asset", assetPath), zap.String("deployment", deployment.ID), zap.Error(err))
			return RunResult{Outcome: isolate.OutcomeError, Message: "Could not retrieve asset."}
		}
		metrics.BytesOut.WithLabelValues(labels.Deployment, labels.Function).Add(float64(len(data)))
		return RunResult{Outcome: isolate.OutcomeResponse, Response: isolate.Response{Status: 200, Body: data}}
	}

	cache := h.caches.Cache(threadIndex)
	iso, err := cache.GetOrCreate(ctx, isolate.DeploymentView{
		Hostname:            host,
		CodeKey:             deployment.CodeKey,
		EnvironmentVars:     deployment.EnvironmentVars,
		MemoryLimit:         deployment.MemoryLimit,
		TimeoutMilliseconds: deployment.Timeout,
	})
	if err != nil {
		var initErr *isolate.IsolateInitError
		if errors.As(err, &initErr) {
			h.log.Error("isolate init failed", zap.String("host", host), zap.Error(err))
		}
		return RunResult{Outcome: isolate.OutcomeError, Message: "Internal error"}
	}

	result, stats, err := runIsolate(ctx, iso, req)
	if err != nil {
		h.log.Error("isolate run panicked", zap.String("host", host), zap.Error(err))
		return RunResult{Outcome: isolate.OutcomeError, Message: err.Error()}
	}

	if stats != nil {
		metrics.IsolateCPUTime.WithLabelValues(labels.Deployment, labels.Function).Observe(stats.CPUTimeMilliseconds)
		metrics.IsolateMemoryUsage.WithLabelValues(labels.Deployment, labels.Function).Observe(stats.MemoryUsageBytes)
	}
	if result.Outcome == isolate.OutcomeResponse {
		metrics.BytesOut.WithLabelValues(labels.Deployment, labels.Function).Add(float64(len(result.Response.Body)))
	}

	return RunResult{Outcome: result.Outcome, Response: result.Response, Message: result.Message}
}

// runIsolate calls iso.Run, converting a panic inside the script engine
// into an error result: the dispatcher never panics on a request, so a
// panic inside an isolate is caught here and returned as Error.
func runIsolate(ctx context.Context, iso isolate.Isolate, req isolate.Request) (result isolate.RunResult, stats *isolate.Statistics, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = errorFromRecover(rec)
		}
	}()
	return iso.Run(ctx, req)
}

func errorFromRecover(rec any) error {
	if e, ok := rec.(error); ok {
		return e
	}
	return errors.New("isolate panic")
}

// stripPort removes the :port suffix from Host when present.
func stripPort(h string) string {
	if i := strings.IndexByte(h, ':'); i != -1 {
		return h[:i]
	}
	return h
}
