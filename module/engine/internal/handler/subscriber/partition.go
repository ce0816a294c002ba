package subscriber

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/crstnmac/FencePing-sub003/module/engine/domain"
	"github.com/crstnmac/FencePing-sub003/module/engine/internal/observability"
	"github.com/crstnmac/FencePing-sub003/module/engine/internal/repository/publisher"
)

type sampleProcessor interface {
	Process(ctx context.Context, s *domain.LocationSample) error
}

type inflightSample struct {
	sample  *domain.LocationSample
	payload []byte
	ack     func()
}

// PoolConfig sizes the partition pool and its retry budget.
type PoolConfig struct {
	Partitions    int
	Buffer        int
	RetryAttempts int
	RetryBackoff  time.Duration
}

// PartitionPool fans location samples out to a fixed set of partitions,
// hashing on device id so every sample for one device lands on the same
// partition. Each partition is drained by exactly one worker goroutine,
// which is what guarantees per-device ordering and keeps two workers
// from ever touching the same containment state.
type PartitionPool struct {
	cfg        PoolConfig
	partitions []chan inflightSample
	processor  sampleProcessor
	deadLetter publisher.DeadLetterPublisher
	log        *zap.Logger

	done      chan struct{}
	inflight  sync.WaitGroup
	closeOnce sync.Once
}

func NewPartitionPool(cfg PoolConfig, processor sampleProcessor, deadLetter publisher.DeadLetterPublisher, log *zap.Logger) *PartitionPool {
	if cfg.Partitions <= 0 {
		cfg.Partitions = 4
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = 64
	}
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = 5
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 200 * time.Millisecond
	}

	partitions := make([]chan inflightSample, cfg.Partitions)
	for i := range partitions {
		partitions[i] = make(chan inflightSample, cfg.Buffer)
	}
	return &PartitionPool{
		cfg:        cfg,
		partitions: partitions,
		processor:  processor,
		deadLetter: deadLetter,
		log:        log.With(zap.String("component", "partition_pool")),
		done:       make(chan struct{}),
	}
}

// Dispatch routes a sample to its device's partition. Blocks when the
// partition is saturated, which applies backpressure to the MQTT client.
// A dispatch caught mid-shutdown drops the sample unacked; the broker
// redelivers it after restart.
func (p *PartitionPool) Dispatch(msg inflightSample) {
	p.inflight.Add(1)
	defer p.inflight.Done()

	select {
	case p.partitions[p.partitionFor(msg.sample.DeviceID)] <- msg:
	case <-p.done:
		p.log.Warn("pool closing, sample left unacked for redelivery",
			zap.String("device_id", msg.sample.DeviceID))
	}
}

func (p *PartitionPool) partitionFor(deviceID string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(deviceID))
	return int(h.Sum32() % uint32(len(p.partitions)))
}

// Close stops intake. Blocked dispatches are released first (each sample
// either lands in its partition or is dropped unacked), then the
// partition channels close and workers drain what is queued and exit.
func (p *PartitionPool) Close() {
	p.closeOnce.Do(func() {
		close(p.done)
		p.inflight.Wait()
		for _, ch := range p.partitions {
			close(ch)
		}
	})
}

// Run starts one worker per partition and blocks until all exit. A fatal
// error from any worker cancels the rest; the returned error is the
// reason the supervisor should restart the process.
func (p *PartitionPool) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i, ch := range p.partitions {
		i, ch := i, ch
		g.Go(func() error {
			return p.worker(ctx, i, ch)
		})
	}
	return g.Wait()
}

func (p *PartitionPool) worker(ctx context.Context, id int, ch <-chan inflightSample) error {
	log := p.log.With(zap.Int("partition", id))
	log.Info("partition worker started")

	for msg := range ch {
		if err := p.handle(ctx, log, msg); err != nil {
			log.Error("partition worker terminating", zap.Error(err))
			return err
		}
	}
	log.Info("partition worker drained")
	return nil
}

// handle processes one sample to completion: retry transient failures
// within the budget, dead-letter on exhaustion, ack only once the sample
// is done (success, invalid, or parked). A fatal error leaves the sample
// unacked so the broker redelivers it after restart.
func (p *PartitionPool) handle(ctx context.Context, log *zap.Logger, msg inflightSample) error {
	backoff := p.cfg.RetryBackoff
	var lastErr error

	for attempt := 1; attempt <= p.cfg.RetryAttempts; attempt++ {
		err := p.processor.Process(ctx, msg.sample)
		switch domain.ClassOf(err) {
		case domain.ClassOK:
			msg.ack()
			return nil
		case domain.ClassInvalid:
			observability.SamplesInvalid.Inc()
			log.Warn("dropping unprocessable sample",
				zap.String("device_id", msg.sample.DeviceID), zap.Error(err))
			msg.ack()
			return nil
		case domain.ClassFatal:
			return err
		}

		lastErr = err
		if attempt < p.cfg.RetryAttempts {
			log.Warn("sample processing failed, retrying",
				zap.String("device_id", msg.sample.DeviceID),
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
			select {
			case <-ctx.Done():
				// Shutdown mid-retry: leave unacked for redelivery.
				return nil
			case <-time.After(backoff):
			}
			backoff *= 2
		}
	}

	if err := p.deadLetter.Publish(ctx, msg.payload, lastErr.Error()); err != nil {
		// Could not even park it; leave unacked so it redelivers.
		log.Error("dead-letter publish failed, sample left unacked",
			zap.String("device_id", msg.sample.DeviceID), zap.Error(err))
		return nil
	}
	observability.SamplesDeadLettered.Inc()
	log.Error("sample dead-lettered after exhausting retries",
		zap.String("device_id", msg.sample.DeviceID),
		zap.Int("attempts", p.cfg.RetryAttempts),
		zap.Error(lastErr),
	)
	msg.ack()
	return nil
}
