package dispatch

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"

	"github.com/edgecore/dispatcher/internal/affinity"
	"github.com/edgecore/dispatcher/internal/assets"
	"github.com/edgecore/dispatcher/internal/catalog"
	"github.com/edgecore/dispatcher/internal/isolate"
	"github.com/edgecore/dispatcher/internal/isolate/enginetest"
)

type fakeBlobStore struct {
	objects map[string][]byte
}

func (f *fakeBlobStore) Fetch(ctx context.Context, key string) ([]byte, error) {
	if b, ok := f.objects[key]; ok {
		return b, nil
	}
	return nil, errors.New("object not found")
}

func (f *fakeBlobStore) Prefetch(ctx context.Context, key string) error {
	_, err := f.Fetch(ctx, key)
	return err
}

func newTestHandler(t *testing.T, cat *catalog.Catalog, blobs *fakeBlobStore) *Handler {
	t.Helper()
	aff := affinity.New(2)
	pool := isolate.NewPool(2, 8)
	t.Cleanup(pool.Shutdown)
	engine := &enginetest.Engine{}
	caches := isolate.NewCacheSet(pool, engine, blobs)
	assetsH := assets.New(blobs)
	return New(cat, aff, pool, caches, assetsH, zap.NewNop())
}

func doRequest(h *Handler, host, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.Host = host
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestUnknownHostnameReturns404(t *testing.T) {
	cat := catalog.New()
	h := newTestHandler(t, cat, &fakeBlobStore{})

	rec := doRequest(h, "unknown.example", "/")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestRunsIsolateForNonAssetPath(t *testing.T) {
	cat := catalog.New()
	cat.Install("acme.example", &catalog.Deployment{
		ID: "dep-1", FunctionID: "fn-1", CodeKey: "v1",
		Assets: map[string]struct{}{},
	})
	blobs := &fakeBlobStore{objects: map[string][]byte{"v1": []byte("hello-world")}}
	h := newTestHandler(t, cat, blobs)

	rec := doRequest(h, "acme.example", "/")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if rec.Body.String() != "hello-world" {
		t.Fatalf("body = %q, want %q", rec.Body.String(), "hello-world")
	}
}

func TestServesStaticAssetWithoutInvokingIsolate(t *testing.T) {
	cat := catalog.New()
	cat.Install("acme.example", &catalog.Deployment{
		ID: "dep-1", FunctionID: "fn-1", CodeKey: "FAIL", // would error if ever constructed
		Assets: map[string]struct{}{"favicon.ico": {}},
	})
	blobs := &fakeBlobStore{objects: map[string][]byte{
		"assets/dep-1/favicon.ico": []byte("ICO-BYTES"),
	}}
	h := newTestHandler(t, cat, blobs)

	rec := doRequest(h, "acme.example", "/favicon.ico")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if rec.Body.String() != "ICO-BYTES" {
		t.Fatalf("body = %q, want %q", rec.Body.String(), "ICO-BYTES")
	}
}

func TestIsolateTimeoutReturns200(t *testing.T) {
	cat := catalog.New()
	cat.Install("acme.example", &catalog.Deployment{ID: "dep-1", FunctionID: "fn-1", CodeKey: "v1"})
	blobs := &fakeBlobStore{objects: map[string][]byte{"v1": []byte("TIMEOUT")}}
	h := newTestHandler(t, cat, blobs)

	rec := doRequest(h, "acme.example", "/")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (spec keeps Timeout as 200)", rec.Code)
	}
	if rec.Body.String() != "Timeouted" {
		t.Fatalf("body = %q, want %q", rec.Body.String(), "Timeouted")
	}
}

func TestIsolateMemoryLimitReturns200(t *testing.T) {
	cat := catalog.New()
	cat.Install("acme.example", &catalog.Deployment{ID: "dep-1", FunctionID: "fn-1", CodeKey: "v1"})
	blobs := &fakeBlobStore{objects: map[string][]byte{"v1": []byte("MEMORYLIMIT")}}
	h := newTestHandler(t, cat, blobs)

	rec := doRequest(h, "acme.example", "/")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if rec.Body.String() != "MemoryLimited" {
		t.Fatalf("body = %q, want %q", rec.Body.String(), "MemoryLimited")
	}
}

func TestIsolateScriptErrorReturns500(t *testing.T) {
	cat := catalog.New()
	cat.Install("acme.example", &catalog.Deployment{ID: "dep-1", FunctionID: "fn-1", CodeKey: "v1"})
	blobs := &fakeBlobStore{objects: map[string][]byte{"v1": []byte("ERROR")}}
	h := newTestHandler(t, cat, blobs)

	rec := doRequest(h, "acme.example", "/")
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
}

func TestMissingHostHeaderReturns400(t *testing.T) {
	cat := catalog.New()
	h := newTestHandler(t, cat, &fakeBlobStore{})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Host = ""
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestFreshIsolateAfterCatalogCodeUpdate(t *testing.T) {
	cat := catalog.New()
	cat.Install("acme.example", &catalog.Deployment{ID: "dep-1", FunctionID: "fn-1", CodeKey: "v1"})
	blobs := &fakeBlobStore{objects: map[string][]byte{
		"v1": []byte("version-one"),
		"v2": []byte("version-two"),
	}}
	aff := affinity.New(2)
	pool := isolate.NewPool(2, 8)
	t.Cleanup(pool.Shutdown)
	engine := &enginetest.Engine{}
	caches := isolate.NewCacheSet(pool, engine, blobs)
	assetsH := assets.New(blobs)
	h := New(cat, aff, pool, caches, assetsH, zap.NewNop())

	rec := doRequest(h, "acme.example", "/")
	if rec.Body.String() != "version-one" {
		t.Fatalf("body = %q, want version-one", rec.Body.String())
	}

	// Simulate the Subscriber's reaction to a code-affecting Update: install
	// the new descriptor and evict every thread's cached isolate.
	cat.Install("acme.example", &catalog.Deployment{ID: "dep-1", FunctionID: "fn-1", CodeKey: "v2"})
	caches.EvictAll("acme.example")

	// Give the eviction tasks (posted to every worker thread) a chance to
	// run before the next request lands on whichever thread acme.example is
	// pinned to: since each thread's queue is FIFO, a drain marker queued
	// after EvictAll on every thread guarantees the eviction ran first.
	for i := 0; i < pool.Size(); i++ {
		drained := make(chan struct{})
		_ = pool.Submit(i, func() { close(drained) })
		<-drained
	}

	rec2 := doRequest(h, "acme.example", "/")
	if rec2.Body.String() != "version-two" {
		t.Fatalf("body = %q, want version-two after update", rec2.Body.String())
	}
	if engine.Constructions != 2 {
		t.Fatalf("Constructions = %d, want 2 (fresh isolate after code change)", engine.Constructions)
	}
}
