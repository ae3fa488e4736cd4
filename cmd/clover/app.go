package main

import (
	"context"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/Ramsey-B/clover/config"
	"github.com/Ramsey-B/clover/internal/repositories/event"
	"github.com/Ramsey-B/clover/internal/repositories/fuzzyduplicate"
	"github.com/Ramsey-B/clover/internal/repositories/mergelog"
	"github.com/Ramsey-B/clover/internal/repositories/venue"
	"github.com/Ramsey-B/clover/pkg/database"
	"github.com/Ramsey-B/clover/pkg/events"
	"github.com/Ramsey-B/clover/pkg/kafka"
	"github.com/Ramsey-B/clover/pkg/matching"
	"github.com/Ramsey-B/clover/pkg/merging"
	"github.com/Ramsey-B/clover/pkg/processor"
	"github.com/Ramsey-B/clover/pkg/redis"
)

// app holds the connections and services a command works with.
type app struct {
	cfg    *config.Config
	logger ectologger.Logger

	db       database.DB
	redis    *redis.Client
	producer *kafka.Producer

	finder       *matching.CandidateFinder
	processor    *processor.BatchProcessor
	orchestrator *merging.MergeOrchestrator
}

func connectionConfig(cfg *config.Config) database.ConnectionConfig {
	return database.ConnectionConfig{
		Driver:          cfg.DatabaseDriver,
		Host:            cfg.DatabaseHost,
		Port:            cfg.DatabasePort,
		User:            cfg.DatabaseUserName,
		Password:        cfg.DatabasePassword,
		Name:            cfg.DatabaseName,
		SSLMode:         cfg.DatabaseSSLMode,
		MaxOpenConns:    cfg.DatabaseMaxOpenConns,
		MaxIdleConns:    cfg.DatabaseMaxIdleConns,
		ConnMaxLifetime: cfg.DatabaseConnMaxLifetime,
	}
}

func (a *app) connectDatabase(ctx context.Context) error {
	db, err := database.Connect(ctx, a.logger, connectionConfig(a.cfg))
	if err != nil {
		return errors.Wrap(err, "connect database")
	}
	a.db = db
	return nil
}

func (a *app) connectRedis(ctx context.Context) error {
	if !a.cfg.RedisEnabled || a.redis != nil {
		return nil
	}
	client, err := redis.NewClient(ctx, redis.Config{
		Host:     a.cfg.RedisHost,
		Port:     a.cfg.RedisPort,
		Password: a.cfg.RedisPassword,
		DB:       a.cfg.RedisDB,
	}, a.logger)
	if err != nil {
		return errors.Wrap(err, "connect redis")
	}
	a.redis = client
	return nil
}

func (a *app) openProducer() {
	if !a.cfg.KafkaEnabled || a.producer != nil {
		return
	}
	a.producer = kafka.NewProducer(kafka.ProducerConfig{
		Brokers:      a.cfg.KafkaBrokers,
		Topic:        a.cfg.KafkaOutputTopic,
		BatchSize:    a.cfg.KafkaBatchSize,
		BatchTimeout: time.Duration(a.cfg.KafkaBatchTimeout) * time.Millisecond,
		RequiredAcks: a.cfg.KafkaRequiredAcks,
	}, a.logger)
}

// migrate applies the migrations in DB_MIGRATION_FOLDER_PATH.
func (a *app) migrate() error {
	instance, ok := a.db.(*database.DatabaseInstance)
	if !ok {
		return errors.New("migrations need a postgres connection")
	}
	return migrateDB(a.cfg, a.logger, instance.DB)
}

func migrateDB(cfg *config.Config, logger ectologger.Logger, db *sqlx.DB) error {
	service := database.NewMigrationService(logger, &database.MigrationConfig{
		MigrationFolderPath: cfg.DatabaseMigrationFolderPath,
		Version:             uint(cfg.DatabaseMigrationVersion),
		Force:               cfg.DatabaseMigrationForce,
		AutoRollback:        cfg.DatabaseMigrationAutoRollback,
	})
	return service.MigratePostgres(db, cfg.DatabaseName)
}

// buildServices wires repositories into the detection and merge services.
// Redis and Kafka are optional; without them merges run unlocked and nothing is published.
func (a *app) buildServices() {
	venues := venue.NewRepository(a.db, a.logger)
	eventRepo := event.NewRepository(a.db, a.logger)
	candidates := fuzzyduplicate.NewRepository(a.db, a.logger)
	mergeLogs := mergelog.NewRepository(a.db, a.logger)

	a.finder = matching.NewCandidateFinder(venues, matching.NewScorer(), a.logger)
	a.processor = processor.NewBatchProcessor(venues, a.finder, candidates, mergeLogs, a.db, a.logger)
	a.orchestrator = merging.NewMergeOrchestrator(venues, eventRepo, mergeLogs, a.db, a.logger)

	if a.redis != nil {
		a.orchestrator.WithLocker(redis.NewVenueLocker(a.redis, a.cfg.MergeLockTTL, a.cfg.MergeLockWait))
	}
	if a.producer != nil {
		emitter := events.NewEmitter(a.producer, a.logger)
		a.orchestrator.WithPublisher(emitter)
		a.processor.WithNotifier(emitter)
	}
}

func (a *app) detectOptions() processor.Options {
	opts := processor.DefaultOptions()
	if a.cfg.DetectBatchSize > 0 {
		opts.BatchSize = a.cfg.DetectBatchSize
	}
	opts.MinConfidence = a.cfg.DetectMinConfidence
	return opts
}

func (a *app) Close() {
	if a.producer != nil {
		if err := a.producer.Close(); err != nil {
			a.logger.WithError(err).Error("Failed to close kafka producer")
		}
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.WithError(err).Error("Failed to close redis client")
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.logger.WithError(err).Error("Failed to close database")
		}
	}
}

// openApp connects everything a one-shot command needs.
func (c *commandContext) openApp(ctx context.Context) (*app, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	logger, err := c.ensureLogger()
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, logger: logger}
	if err := a.connectDatabase(ctx); err != nil {
		return nil, err
	}
	if err := a.connectRedis(ctx); err != nil {
		a.Close()
		return nil, err
	}
	a.openProducer()
	a.buildServices()
	return a, nil
}

// withApp runs fn against a freshly opened app and closes it afterwards.
func (c *commandContext) withApp(ctx context.Context, fn func(*app) error) error {
	a, err := c.openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}
