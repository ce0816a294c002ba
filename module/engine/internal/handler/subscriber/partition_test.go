package subscriber

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/crstnmac/FencePing-sub003/module/engine/domain"
)

type mockProcessor struct {
	mu      sync.Mutex
	byDev   map[string][]time.Time
	fn      func(s *domain.LocationSample) error
	applied int
}

func newMockProcessor() *mockProcessor {
	return &mockProcessor{byDev: make(map[string][]time.Time)}
}

func (m *mockProcessor) Process(_ context.Context, s *domain.LocationSample) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fn != nil {
		if err := m.fn(s); err != nil {
			return err
		}
	}
	m.applied++
	m.byDev[s.DeviceID] = append(m.byDev[s.DeviceID], s.Timestamp)
	return nil
}

type mockDeadLetter struct {
	mu       sync.Mutex
	payloads [][]byte
	reasons  []string
	err      error
}

func (m *mockDeadLetter) Publish(_ context.Context, payload []byte, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.payloads = append(m.payloads, payload)
	m.reasons = append(m.reasons, reason)
	return nil
}

func testPool(proc sampleProcessor, dl *mockDeadLetter) *PartitionPool {
	return NewPartitionPool(PoolConfig{
		Partitions:    4,
		Buffer:        16,
		RetryAttempts: 3,
		RetryBackoff:  time.Millisecond,
	}, proc, dl, zap.NewNop())
}

func sampleFor(device string, ts time.Time) inflightSample {
	return inflightSample{
		sample: &domain.LocationSample{
			DeviceID:  device,
			AccountID: "acct-1",
			Point:     domain.GeoPoint{Lat: 1, Lon: 2},
			Timestamp: ts,
		},
		payload: []byte(`{}`),
		ack:     func() {},
	}
}

func TestPartitionFor_StableAffinity(t *testing.T) {
	pool := testPool(newMockProcessor(), &mockDeadLetter{})

	for _, dev := range []string{"dev-a", "dev-b", "dev-c", "dev-d"} {
		first := pool.partitionFor(dev)
		for i := 0; i < 10; i++ {
			if got := pool.partitionFor(dev); got != first {
				t.Fatalf("partition for %s changed: %d vs %d", dev, first, got)
			}
		}
	}
}

func TestDispatch_BlockedOnSaturatedPartitionSurvivesClose(t *testing.T) {
	// One unbuffered-ish partition, no workers running: the second
	// Dispatch blocks on the full channel while Close runs.
	pool := NewPartitionPool(PoolConfig{
		Partitions:    1,
		Buffer:        1,
		RetryAttempts: 1,
		RetryBackoff:  time.Millisecond,
	}, newMockProcessor(), &mockDeadLetter{}, zap.NewNop())

	pool.Dispatch(sampleFor("dev-1", time.Now()))

	var acked bool
	var mu sync.Mutex
	blocked := sampleFor("dev-1", time.Now())
	blocked.ack = func() { mu.Lock(); acked = true; mu.Unlock() }

	released := make(chan struct{})
	go func() {
		pool.Dispatch(blocked)
		close(released)
	}()

	time.Sleep(20 * time.Millisecond)
	pool.Close()

	select {
	case <-released:
	case <-time.After(time.Second):
		t.Fatal("Dispatch still blocked after Close")
	}

	mu.Lock()
	defer mu.Unlock()
	if acked {
		t.Error("dropped sample must stay unacked so the broker redelivers it")
	}
}

func TestRun_ProcessesAndAcks(t *testing.T) {
	proc := newMockProcessor()
	pool := testPool(proc, &mockDeadLetter{})

	var acked int
	var mu sync.Mutex
	msg := sampleFor("dev-1", time.Now())
	msg.ack = func() { mu.Lock(); acked++; mu.Unlock() }

	done := make(chan error, 1)
	go func() { done <- pool.Run(context.Background()) }()

	pool.Dispatch(msg)
	pool.Close()
	if err := <-done; err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if proc.applied != 1 {
		t.Errorf("processed %d samples, want 1", proc.applied)
	}
	if acked != 1 {
		t.Errorf("acked %d times, want 1", acked)
	}
}

func TestRun_PerDeviceOrderPreservedAcrossConcurrentDevices(t *testing.T) {
	proc := newMockProcessor()
	pool := testPool(proc, &mockDeadLetter{})

	done := make(chan error, 1)
	go func() { done <- pool.Run(context.Background()) }()

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	devices := []string{"dev-a", "dev-b", "dev-c", "dev-d", "dev-e"}
	const perDevice = 50

	var wg sync.WaitGroup
	for _, dev := range devices {
		dev := dev
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perDevice; i++ {
				pool.Dispatch(sampleFor(dev, base.Add(time.Duration(i)*time.Second)))
			}
		}()
	}
	wg.Wait()
	pool.Close()
	if err := <-done; err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for _, dev := range devices {
		seen := proc.byDev[dev]
		if len(seen) != perDevice {
			t.Fatalf("device %s: processed %d, want %d", dev, len(seen), perDevice)
		}
		for i := 1; i < len(seen); i++ {
			if !seen[i].After(seen[i-1]) {
				t.Fatalf("device %s: samples out of order at %d", dev, i)
			}
		}
	}
}

func TestHandle_InvalidSampleAckedAndDropped(t *testing.T) {
	proc := newMockProcessor()
	proc.fn = func(_ *domain.LocationSample) error {
		return &domain.InvalidInputError{Reason: "bad coordinate"}
	}
	dl := &mockDeadLetter{}
	pool := testPool(proc, dl)

	var acked bool
	msg := sampleFor("dev-1", time.Now())
	msg.ack = func() { acked = true }

	if err := pool.handle(context.Background(), zap.NewNop(), msg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !acked {
		t.Error("invalid sample must be acked")
	}
	if len(dl.payloads) != 0 {
		t.Error("invalid samples are dropped, not dead-lettered")
	}
}

func TestHandle_RetryableRecoversWithinBudget(t *testing.T) {
	attempts := 0
	proc := newMockProcessor()
	proc.fn = func(_ *domain.LocationSample) error {
		attempts++
		if attempts < 3 {
			return domain.Retryable("state load", errors.New("flaky"))
		}
		return nil
	}
	pool := testPool(proc, &mockDeadLetter{})

	var acked bool
	msg := sampleFor("dev-1", time.Now())
	msg.ack = func() { acked = true }

	if err := pool.handle(context.Background(), zap.NewNop(), msg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
	if !acked {
		t.Error("recovered sample must be acked")
	}
}

func TestHandle_DeadLettersAfterBudget(t *testing.T) {
	proc := newMockProcessor()
	proc.fn = func(_ *domain.LocationSample) error {
		return domain.Retryable("event stream publish", errors.New("broker down"))
	}
	dl := &mockDeadLetter{}
	pool := testPool(proc, dl)

	var acked bool
	msg := sampleFor("dev-1", time.Now())
	msg.ack = func() { acked = true }

	if err := pool.handle(context.Background(), zap.NewNop(), msg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(dl.payloads) != 1 {
		t.Fatalf("dead-lettered %d payloads, want 1", len(dl.payloads))
	}
	if dl.reasons[0] == "" {
		t.Error("dead-letter must carry the failure reason")
	}
	if !acked {
		t.Error("dead-lettered sample must be acked")
	}
}

func TestHandle_DeadLetterFailureLeavesUnacked(t *testing.T) {
	proc := newMockProcessor()
	proc.fn = func(_ *domain.LocationSample) error {
		return domain.Retryable("state load", errors.New("db down"))
	}
	dl := &mockDeadLetter{err: errors.New("also down")}
	pool := testPool(proc, dl)

	var acked bool
	msg := sampleFor("dev-1", time.Now())
	msg.ack = func() { acked = true }

	if err := pool.handle(context.Background(), zap.NewNop(), msg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if acked {
		t.Error("sample must stay unacked when the dead-letter publish fails")
	}
}

func TestHandle_FatalTerminatesWorker(t *testing.T) {
	proc := newMockProcessor()
	proc.fn = func(_ *domain.LocationSample) error {
		return domain.Fatal("stream", errors.New("connection lost"))
	}
	pool := testPool(proc, &mockDeadLetter{})

	var acked bool
	msg := sampleFor("dev-1", time.Now())
	msg.ack = func() { acked = true }

	err := pool.handle(context.Background(), zap.NewNop(), msg)
	if err == nil {
		t.Fatal("expected fatal error to propagate")
	}
	if acked {
		t.Error("sample must stay unacked on fatal errors")
	}
}
