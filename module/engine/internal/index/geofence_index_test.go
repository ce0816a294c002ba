package index

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/crstnmac/FencePing-sub003/module/engine/domain"
)

type mockSource struct {
	mu    sync.Mutex
	calls int32
	delay time.Duration
	fn    func(accountID string) ([]domain.Geofence, error)
}

func (m *mockSource) ListActiveGeofences(_ context.Context, accountID string) ([]domain.Geofence, error) {
	atomic.AddInt32(&m.calls, 1)
	if m.delay > 0 {
		time.Sleep(m.delay)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fn(accountID)
}

func fences(ids ...string) []domain.Geofence {
	out := make([]domain.Geofence, 0, len(ids))
	for _, id := range ids {
		out = append(out, domain.Geofence{
			ID:           id,
			Kind:         domain.KindCircle,
			Center:       domain.GeoPoint{Lat: 0, Lon: 0},
			RadiusMeters: 100,
			Active:       true,
		})
	}
	return out
}

func TestGeofencesFor_LoadsThroughOnce(t *testing.T) {
	src := &mockSource{fn: func(_ string) ([]domain.Geofence, error) {
		return fences("gf-1", "gf-2"), nil
	}}
	ix := New(src, time.Minute, zap.NewNop())

	got, err := ix.GeofencesFor(context.Background(), "acct-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 fences, got %d", len(got))
	}

	// Second call is served from the cache.
	if _, err := ix.GeofencesFor(context.Background(), "acct-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n := atomic.LoadInt32(&src.calls); n != 1 {
		t.Errorf("source hit %d times, want 1", n)
	}
}

func TestGeofencesFor_ExpiredEntryReloads(t *testing.T) {
	src := &mockSource{fn: func(_ string) ([]domain.Geofence, error) {
		return fences("gf-1"), nil
	}}
	ix := New(src, 10*time.Millisecond, zap.NewNop())

	if _, err := ix.GeofencesFor(context.Background(), "acct-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	time.Sleep(20 * time.Millisecond)

	if _, err := ix.GeofencesFor(context.Background(), "acct-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n := atomic.LoadInt32(&src.calls); n != 2 {
		t.Errorf("source hit %d times, want 2 after the entry expired", n)
	}
}

func TestGeofencesFor_StaleEntryServedWhenReloadFails(t *testing.T) {
	var broken int32
	src := &mockSource{fn: func(_ string) ([]domain.Geofence, error) {
		if atomic.LoadInt32(&broken) == 1 {
			return nil, errors.New("db down")
		}
		return fences("gf-1"), nil
	}}
	ix := New(src, 10*time.Millisecond, zap.NewNop())

	if _, err := ix.GeofencesFor(context.Background(), "acct-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	atomic.StoreInt32(&broken, 1)
	time.Sleep(20 * time.Millisecond)

	got, err := ix.GeofencesFor(context.Background(), "acct-1")
	if err != nil {
		t.Fatalf("stale entry must be served over a reload failure: %v", err)
	}
	if len(got) != 1 || got[0].ID != "gf-1" {
		t.Errorf("expected the stale gf-1 entry, got %v", got)
	}
}

func TestGeofencesFor_EmptyAccount(t *testing.T) {
	src := &mockSource{fn: func(_ string) ([]domain.Geofence, error) {
		return nil, nil
	}}
	ix := New(src, time.Minute, zap.NewNop())

	got, err := ix.GeofencesFor(context.Background(), "acct-empty")
	if err != nil {
		t.Fatalf("account without fences must not error: %v", err)
	}
	if got == nil || len(got) != 0 {
		t.Errorf("expected empty slice, got %v", got)
	}
}

func TestGeofencesFor_LoadFailureIsRetryable(t *testing.T) {
	src := &mockSource{fn: func(_ string) ([]domain.Geofence, error) {
		return nil, errors.New("db down")
	}}
	ix := New(src, time.Minute, zap.NewNop())

	_, err := ix.GeofencesFor(context.Background(), "acct-1")
	if err == nil {
		t.Fatal("expected error")
	}
	if domain.ClassOf(err) != domain.ClassRetryable {
		t.Errorf("expected retryable class, got %v", domain.ClassOf(err))
	}
}

func TestGeofencesFor_SingleFlight(t *testing.T) {
	src := &mockSource{
		delay: 50 * time.Millisecond,
		fn: func(_ string) ([]domain.Geofence, error) {
			return fences("gf-1"), nil
		},
	}
	ix := New(src, time.Minute, zap.NewNop())

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := ix.GeofencesFor(context.Background(), "acct-1"); err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if n := atomic.LoadInt32(&src.calls); n != 1 {
		t.Errorf("concurrent misses hit the source %d times, want 1", n)
	}
}

func TestInvalidate_ForcesReload(t *testing.T) {
	var generation int32
	src := &mockSource{fn: func(_ string) ([]domain.Geofence, error) {
		if atomic.LoadInt32(&generation) == 0 {
			return fences("gf-old"), nil
		}
		return fences("gf-new"), nil
	}}
	ix := New(src, time.Minute, zap.NewNop())

	got, _ := ix.GeofencesFor(context.Background(), "acct-1")
	if got[0].ID != "gf-old" {
		t.Fatalf("expected gf-old, got %s", got[0].ID)
	}

	atomic.StoreInt32(&generation, 1)
	ix.Invalidate("acct-1")

	got, err := ix.GeofencesFor(context.Background(), "acct-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got[0].ID != "gf-new" {
		t.Errorf("expected gf-new after invalidation, got %s", got[0].ID)
	}
}

func TestRun_AppliesInvalidationsAndStops(t *testing.T) {
	var generation int32
	src := &mockSource{fn: func(_ string) ([]domain.Geofence, error) {
		if atomic.LoadInt32(&generation) == 0 {
			return fences("gf-old"), nil
		}
		return fences("gf-new"), nil
	}}
	ix := New(src, time.Hour, zap.NewNop())

	if _, err := ix.GeofencesFor(context.Background(), "acct-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	invalidations := make(chan string)
	done := make(chan struct{})
	go func() {
		ix.Run(ctx, invalidations)
		close(done)
	}()

	atomic.StoreInt32(&generation, 1)
	invalidations <- "acct-1"

	// The invalidation is applied asynchronously; poll briefly.
	deadline := time.After(time.Second)
	for {
		got, err := ix.GeofencesFor(context.Background(), "acct-1")
		if err == nil && len(got) == 1 && got[0].ID == "gf-new" {
			break
		}
		select {
		case <-deadline:
			t.Fatal("invalidation was not applied")
		case <-time.After(10 * time.Millisecond):
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not stop on cancellation")
	}
}
