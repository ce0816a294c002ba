package engine

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/gin-gonic/gin"
	amqp "github.com/rabbitmq/amqp091-go"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/crstnmac/FencePing-sub003/module/engine/internal/emitter"
	handler "github.com/crstnmac/FencePing-sub003/module/engine/internal/handler/http"
	"github.com/crstnmac/FencePing-sub003/module/engine/internal/handler/subscriber"
	"github.com/crstnmac/FencePing-sub003/module/engine/internal/index"
	"github.com/crstnmac/FencePing-sub003/module/engine/internal/repository/cache/redis"
	"github.com/crstnmac/FencePing-sub003/module/engine/internal/repository/database/postgres"
	"github.com/crstnmac/FencePing-sub003/module/engine/internal/repository/publisher/rabbitmq"
	"github.com/crstnmac/FencePing-sub003/module/engine/internal/store"
	"github.com/crstnmac/FencePing-sub003/module/engine/service"
)

// Config carries the engine tunables resolved from the environment.
type Config struct {
	Partitions      int
	PartitionBuffer int
	RetryAttempts   int
	RetryBackoff    time.Duration

	IndexRefreshInterval time.Duration
	StateIdleTTL         time.Duration

	MaxAccuracyMeters float64

	PersistAttempts int
	PersistBackoff  time.Duration
}

// Module is the assembled geofence event detection engine.
type Module struct {
	Detector *service.Detector
	Index    *index.GeofenceIndex

	pool    *subscriber.PartitionPool
	sub     *subscriber.LocationSubscriber
	changes *subscriber.ChangeListener
	handler *handler.StateHandler
}

// Build wires the engine: postgres system of record, redis fast cache,
// rabbitmq output stream and dead-letter, mqtt input stream.
func Build(db *sql.DB, amqpConn *amqp.Connection, mqttClient mqtt.Client, rdb *goredis.Client, cfg Config, log *zap.Logger) (*Module, error) {
	geofenceRepo := postgres.NewGeofenceRepo(db, log)
	stateRepo := postgres.NewStateRepo(db)
	eventLog := postgres.NewEventLogRepo(db)
	stateCache := redis.NewStateCache(rdb, cfg.StateIdleTTL)

	eventPub, err := rabbitmq.NewEventPublisher(amqpConn)
	if err != nil {
		return nil, fmt.Errorf("event publisher: %w", err)
	}
	deadLetter, err := rabbitmq.NewDeadLetterPublisher(amqpConn)
	if err != nil {
		return nil, fmt.Errorf("dead-letter publisher: %w", err)
	}

	geofenceIndex := index.New(geofenceRepo, cfg.IndexRefreshInterval, log)
	stateStore := store.New(stateCache, stateRepo, store.Config{
		PersistAttempts: cfg.PersistAttempts,
		PersistBackoff:  cfg.PersistBackoff,
	}, log)
	emit := emitter.New(eventLog, eventPub, log)

	tracker := service.NewTracker(service.TrackerConfig{MaxAccuracyMeters: cfg.MaxAccuracyMeters})
	detector := service.NewDetector(geofenceIndex, stateStore, emit, tracker, log)

	pool := subscriber.NewPartitionPool(subscriber.PoolConfig{
		Partitions:    cfg.Partitions,
		Buffer:        cfg.PartitionBuffer,
		RetryAttempts: cfg.RetryAttempts,
		RetryBackoff:  cfg.RetryBackoff,
	}, detector, deadLetter, log)

	return &Module{
		Detector: detector,
		Index:    geofenceIndex,
		pool:     pool,
		sub:      subscriber.NewLocationSubscriber(mqttClient, pool, log),
		changes:  subscriber.NewChangeListener(amqpConn, log),
		handler:  handler.NewStateHandler(stateRepo, eventLog),
	}, nil
}

func (m *Module) RegisterRoutes(r *gin.RouterGroup) {
	m.handler.Register(r)
}

// StartSubscriber begins pulling samples from the input stream.
func (m *Module) StartSubscriber() error {
	return m.sub.Start()
}

// StopIntake unsubscribes and closes the partitions; workers drain what
// is already queued and exit.
func (m *Module) StopIntake() {
	m.sub.Stop()
	m.pool.Close()
}

// RunWorkers blocks running the partition workers until they drain after
// StopIntake or one of them hits a fatal error.
func (m *Module) RunWorkers(ctx context.Context) error {
	return m.pool.Run(ctx)
}

// RunIndex blocks running the geofence index refresh loop and change
// notification consumer until ctx is cancelled.
func (m *Module) RunIndex(ctx context.Context) error {
	invalidations, err := m.changes.Listen(ctx)
	if err != nil {
		return fmt.Errorf("change listener: %w", err)
	}
	m.Index.Run(ctx, invalidations)
	return nil
}
