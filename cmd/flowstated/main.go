// Command flowstated serves a flowstate engine over HTTP.
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	goredis "github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	_ "modernc.org/sqlite"

	"github.com/petrijr/flowstate/internal/config"
	"github.com/petrijr/flowstate/internal/defload"
	"github.com/petrijr/flowstate/internal/engine"
	"github.com/petrijr/flowstate/internal/httpapi"
	"github.com/petrijr/flowstate/internal/httpserver"
	"github.com/petrijr/flowstate/internal/logging"
	"github.com/petrijr/flowstate/internal/taskqueue"
	mongoengine "github.com/petrijr/flowstate/mongo"
	"github.com/petrijr/flowstate/pkg/api"
	"github.com/petrijr/flowstate/pkg/metrics"
	"github.com/petrijr/flowstate/pkg/tracing"
	"github.com/petrijr/flowstate/pkg/worker"
	pgengine "github.com/petrijr/flowstate/postgres"
	redisengine "github.com/petrijr/flowstate/redis"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "flowstated:", err)
		os.Exit(1)
	}
}

// backend is an opened storage backend.
type backend struct {
	engine api.Engine
	queue  taskqueue.Queue
	close  func()
}

func run(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	level, err := logging.ParseLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	format, err := logging.ParseFormat(cfg.LogFormat)
	if err != nil {
		return err
	}
	logger := logging.New(
		logging.WithLevel(level),
		logging.WithFormat(format),
		logging.WithAttr(slog.String("service", "flowstated")),
	)
	slog.SetDefault(logger)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	obs := api.NewCompositeObserver(
		api.NewLoggingObserver(logger),
		metrics.NewPrometheusObserver(reg),
	)

	be, err := openBackend(ctx, cfg, obs)
	if err != nil {
		return fmt.Errorf("open %s backend: %w", cfg.Backend, err)
	}
	defer be.close()
	eng := be.engine
	logger.Info("engine ready", slog.String("backend", cfg.Backend))

	if cfg.OTLPEndpoint != "" {
		tp, err := newTracerProvider(ctx, cfg.OTLPEndpoint)
		if err != nil {
			return fmt.Errorf("tracing: %w", err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := tp.Shutdown(shutdownCtx); err != nil {
				logger.Warn("tracer shutdown", slog.Any("error", err))
			}
		}()
		otel.SetTracerProvider(tp)
		eng = tracing.Wrap(eng, tp)
		logger.Info("tracing enabled", slog.String("endpoint", cfg.OTLPEndpoint))
	}

	if cfg.DefinitionsFile != "" {
		defs, err := defload.LoadFile(cfg.DefinitionsFile)
		if err != nil {
			return err
		}
		if _, err := defload.Register(ctx, eng, defs, logger); err != nil {
			return err
		}
	}

	opts := httpapi.Options{
		Engine:      eng,
		Logger:      logger,
		CORSOrigins: cfg.CORSOrigins,
		Metrics:     promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}),
	}

	workerCtx, stopWorker := context.WithCancel(ctx)
	defer stopWorker()

	var wg sync.WaitGroup
	if cfg.WorkerConcurrency > 0 {
		w := worker.NewWithConfig(eng, be.queue, worker.Config{
			MaxAttempts: cfg.WorkerMaxAttempts,
			Backoff:     cfg.WorkerBackoff,
			Concurrency: cfg.WorkerConcurrency,
			Logger:      logger.With(slog.String("component", "worker")),
		})
		opts.Dispatcher = w
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = w.Run(workerCtx)
		}()
	}

	srv := httpserver.New(
		httpserver.WithAddr(cfg.Addr),
		httpserver.WithShutdownTimeout(cfg.ShutdownTimeout),
		httpserver.WithLogger(logger),
	)
	err = srv.Run(ctx, httpapi.NewRouter(opts))
	stopWorker()
	wg.Wait()
	return err
}

// openBackend builds the engine and action queue for cfg.Backend. SQLite
// and Mongo keep queued actions next to the engine state; the other
// backends queue in memory.
func openBackend(ctx context.Context, cfg config.Config, obs api.Observer) (*backend, error) {
	switch cfg.Backend {
	case config.BackendMemory:
		return &backend{
			engine: engine.NewInMemoryEngineWithObserver(obs),
			queue:  taskqueue.NewInMemoryQueue(0),
			close:  func() {},
		}, nil

	case config.BackendSQLite:
		db, err := sql.Open("sqlite", cfg.SQLiteDSN)
		if err != nil {
			return nil, err
		}
		db.SetMaxOpenConns(1)
		eng, err := engine.NewSQLiteEngineWithObserver(db, obs)
		if err != nil {
			db.Close()
			return nil, err
		}
		q, err := taskqueue.NewSQLiteQueue(db)
		if err != nil {
			db.Close()
			return nil, err
		}
		return &backend{engine: eng, queue: q, close: func() { db.Close() }}, nil

	case config.BackendPostgres:
		db, err := sql.Open("pgx", cfg.PostgresDSN)
		if err != nil {
			return nil, err
		}
		if err := db.PingContext(ctx); err != nil {
			db.Close()
			return nil, err
		}
		eng, err := pgengine.NewEngineWithObserver(db, obs)
		if err != nil {
			db.Close()
			return nil, err
		}
		return &backend{engine: eng, queue: taskqueue.NewInMemoryQueue(0), close: func() { db.Close() }}, nil

	case config.BackendRedis:
		client := goredis.NewClient(&goredis.Options{Addr: cfg.RedisAddr})
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, err
		}
		return &backend{
			engine: redisengine.NewEngineWithObserver(client, cfg.RedisPrefix, obs),
			queue:  taskqueue.NewInMemoryQueue(0),
			close:  func() { client.Close() },
		}, nil

	case config.BackendMongo:
		client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURI))
		if err != nil {
			return nil, err
		}
		disconnect := func() {
			dctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = client.Disconnect(dctx)
		}
		if err := client.Ping(ctx, nil); err != nil {
			disconnect()
			return nil, err
		}
		eng, err := mongoengine.NewEngineWithObserver(ctx, client, cfg.MongoDB, obs)
		if err != nil {
			disconnect()
			return nil, err
		}
		q, err := taskqueue.NewMongoQueue(ctx, client, cfg.MongoDB, "")
		if err != nil {
			disconnect()
			return nil, err
		}
		return &backend{engine: eng, queue: q, close: disconnect}, nil
	}
	return nil, errors.New("unknown backend " + cfg.Backend)
}

func newTracerProvider(ctx context.Context, endpoint string) (*sdktrace.TracerProvider, error) {
	exp, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpoint(endpoint),
		otlptracehttp.WithInsecure(),
	)
	if err != nil {
		return nil, err
	}
	res := resource.NewSchemaless(attribute.String("service.name", "flowstated"))
	return sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
	), nil
}
