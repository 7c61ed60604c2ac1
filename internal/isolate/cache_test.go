package isolate_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/edgecore/dispatcher/internal/isolate"
	"github.com/edgecore/dispatcher/internal/isolate/enginetest"
)

type fakeLoader struct {
	mu    sync.Mutex
	calls int
	code  map[string][]byte
}

func (f *fakeLoader) Fetch(ctx context.Context, key string) ([]byte, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if code, ok := f.code[key]; ok {
		return code, nil
	}
	return nil, errors.New("no such code key")
}

func TestGetOrCreateCachesIsolate(t *testing.T) {
	engine := &enginetest.Engine{}
	loader := &fakeLoader{code: map[string][]byte{"v1": []byte("hello")}}
	c := isolate.NewCache(engine, loader)

	view := isolate.DeploymentView{Hostname: "acme.example", CodeKey: "v1"}
	first, err := c.GetOrCreate(context.Background(), view)
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	second, err := c.GetOrCreate(context.Background(), view)
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	if first != second {
		t.Fatal("GetOrCreate returned different isolates for the same hostname")
	}
	if engine.Constructions != 1 {
		t.Fatalf("Constructions = %d, want 1", engine.Constructions)
	}
}

func TestGetOrCreateConcurrentFirstRequestsCoalesce(t *testing.T) {
	engine := &enginetest.Engine{}
	loader := &fakeLoader{code: map[string][]byte{"v1": []byte("hello")}}
	c := isolate.NewCache(engine, loader)
	view := isolate.DeploymentView{Hostname: "acme.example", CodeKey: "v1"}

	const n = 16
	results := make([]isolate.Isolate, n)
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		i := i
		go func() {
			defer wg.Done()
			iso, err := c.GetOrCreate(context.Background(), view)
			if err != nil {
				t.Errorf("GetOrCreate: %v", err)
				return
			}
			results[i] = iso
		}()
	}
	wg.Wait()

	for i, iso := range results {
		if iso != results[0] {
			t.Fatalf("goroutine %d got a different isolate than the winner", i)
		}
	}
	if engine.Constructions != 1 {
		t.Fatalf("Constructions = %d, want exactly 1 despite %d concurrent first-requests", engine.Constructions, n)
	}
}

func TestGetOrCreateDoesNotCacheOnFailure(t *testing.T) {
	engine := &enginetest.Engine{}
	loader := &fakeLoader{code: map[string][]byte{}}
	c := isolate.NewCache(engine, loader)

	view := isolate.DeploymentView{Hostname: "missing.example", CodeKey: "absent"}
	if _, err := c.GetOrCreate(context.Background(), view); err == nil {
		t.Fatal("expected error for missing code key")
	}
	var initErr *isolate.IsolateInitError
	if _, err := c.GetOrCreate(context.Background(), view); !errors.As(err, &initErr) {
		t.Fatalf("second GetOrCreate error = %v, want *IsolateInitError (retry must be possible)", err)
	}
	if loader.calls != 2 {
		t.Fatalf("loader.calls = %d, want 2 (no caching on failure)", loader.calls)
	}
}

func TestEvictClosesAndRemoves(t *testing.T) {
	engine := &enginetest.Engine{}
	loader := &fakeLoader{code: map[string][]byte{"v1": []byte("hello")}}
	c := isolate.NewCache(engine, loader)
	view := isolate.DeploymentView{Hostname: "acme.example", CodeKey: "v1"}

	iso, err := c.GetOrCreate(context.Background(), view)
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	fake := iso.(*enginetest.Fake)

	c.Evict("acme.example")
	if c.Len() != 0 {
		t.Fatalf("Len() = %d after Evict, want 0", c.Len())
	}
	if !fake.Closed() {
		t.Fatal("evicted isolate was not closed")
	}
}

// TestFreshIsolateAfterCodeChange exercises spec testable property 6: after
// a code-affecting catalog update, the next GetOrCreate for that hostname
// must construct a new isolate, distinguishable via the construction
// counter and the echoed code version.
func TestFreshIsolateAfterCodeChange(t *testing.T) {
	engine := &enginetest.Engine{}
	loader := &fakeLoader{code: map[string][]byte{
		"v1": []byte("version-one"),
		"v2": []byte("version-two"),
	}}
	c := isolate.NewCache(engine, loader)

	v1 := isolate.DeploymentView{Hostname: "acme.example", CodeKey: "v1"}
	if _, err := c.GetOrCreate(context.Background(), v1); err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}

	// Simulate the Subscriber's eviction signal on a code-affecting update.
	c.Evict("acme.example")

	v2 := isolate.DeploymentView{Hostname: "acme.example", CodeKey: "v2"}
	iso, err := c.GetOrCreate(context.Background(), v2)
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}

	res, _, err := iso.Run(context.Background(), isolate.Request{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if string(res.Response.Body) != "version-two" {
		t.Fatalf("response body = %q, want %q", res.Response.Body, "version-two")
	}
	if engine.Constructions != 2 {
		t.Fatalf("Constructions = %d, want 2", engine.Constructions)
	}
}
