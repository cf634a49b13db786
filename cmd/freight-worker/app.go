package main

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/BearBump/FreightBox/config"
	"github.com/BearBump/FreightBox/internal/broker/kafka"
	"github.com/BearBump/FreightBox/internal/cache/rediscache"
	"github.com/BearBump/FreightBox/internal/integrations/carrier/registry"
	"github.com/BearBump/FreightBox/internal/services/demurrage"
	"github.com/BearBump/FreightBox/internal/services/periodic"
	"github.com/BearBump/FreightBox/internal/services/poller"
	"github.com/BearBump/FreightBox/internal/services/risk"
	"github.com/BearBump/FreightBox/internal/services/updates"
	"github.com/BearBump/FreightBox/internal/storage/memstore"
	"github.com/BearBump/FreightBox/internal/storage/pgfreight"
)

// workerStore is everything the worker persists through.
type workerStore interface {
	poller.Repository
	updates.Repository
	risk.Repository
	demurrage.Repository
}

type kafkaConsumer interface {
	Consume(ctx context.Context, handler func(key, value []byte) error) error
	Close() error
}

type workerFactories struct {
	newStorage     func(cfg *config.Config) (repo workerStore, closeFn func(), err error)
	newRateLimiter func(cfg *config.Config) poller.RateLimiter
	newLocker      func(cfg *config.Config) poller.Locker
	newConsumer    func(cfg *config.Config) kafkaConsumer
	newFactory     func(cfg *config.Config) poller.AdapterFactory
}

func defaultWorkerFactories() workerFactories {
	return workerFactories{
		newStorage: func(cfg *config.Config) (workerStore, func(), error) {
			if cfg.Freight.Storage == "memory" {
				slog.Warn("using in-memory storage, data is lost on restart")
				return memstore.New(), nil, nil
			}
			st, err := pgfreight.New(cfg.PostgresDSN())
			if err != nil {
				return nil, nil, err
			}
			return st, st.Close, nil
		},
		newRateLimiter: func(cfg *config.Config) poller.RateLimiter {
			return rediscache.NewRateLimiter(cfg.RedisAddr())
		},
		newLocker: func(cfg *config.Config) poller.Locker {
			return rediscache.NewLocker(cfg.RedisAddr())
		},
		newConsumer: func(cfg *config.Config) kafkaConsumer {
			if cfg.Freight.RiskDispatch != "kafka" {
				return nil
			}
			group := cfg.Freight.KafkaConsumerGroup
			if group == "" {
				group = "freight-worker"
			}
			return kafka.NewConsumer(cfg.KafkaBrokers(), riskTopic(cfg), group)
		},
		newFactory: func(cfg *config.Config) poller.AdapterFactory {
			return registry.New().WithRequestsPerSecond(cfg.Freight.CarrierRequestsPerSecond)
		},
	}
}

func riskTopic(cfg *config.Config) string {
	if cfg.Kafka.RiskRequestedTopicName != "" {
		return cfg.Kafka.RiskRequestedTopicName
	}
	return "container.risk.requested"
}

type workerOpts struct {
	httpAddr    string
	swaggerPath string
	onListen    func(httpAddr string)
}

// RunFreightWorker wires the sync orchestrator, the periodic passes and the
// risk consumer, then blocks until ctx is done or the ops server fails.
func RunFreightWorker(ctx context.Context, cfg *config.Config, f workerFactories, opts workerOpts) error {
	rlPerMin := cfg.Freight.CarrierRateLimitPerMinute
	if rlPerMin <= 0 {
		rlPerMin = 60
	}
	riskInterval := time.Duration(cfg.Freight.RiskIntervalMinutes) * time.Minute
	if riskInterval <= 0 {
		riskInterval = periodic.DefaultInterval
	}
	lockTTL := time.Duration(cfg.Freight.SyncLockTTLSeconds) * time.Second

	repo, closeFn, err := f.newStorage(cfg)
	if err != nil {
		return err
	}
	if closeFn != nil {
		defer closeFn()
	}

	assessor := risk.NewAssessor(repo)
	dispatcher := risk.NewAsyncDispatcher(assessor)
	processor := updates.New(repo, dispatcher)

	loc := time.UTC
	if cfg.Freight.FeeTimezone != "" {
		if loc, err = time.LoadLocation(cfg.Freight.FeeTimezone); err != nil {
			return err
		}
	}
	dem := demurrage.New(repo).WithLocation(loc).WithDefaultRate(cfg.Freight.DefaultDailyFeeRate)

	rl := f.newRateLimiter(cfg)
	defer closeQuietly(rl)
	locker := f.newLocker(cfg)
	defer closeQuietly(locker)

	orch := poller.New(repo, f.newFactory(cfg), processor).
		WithPlanner(poller.PlannerConfig{
			Unit:                   time.Minute,
			DefaultIntervalMinutes: cfg.Freight.DefaultPollingIntervalMinutes,
			MinIntervalMinutes:     cfg.Freight.MinPollingIntervalMinutes,
		}).
		WithRateLimit(rl, rlPerMin)
	if locker != nil {
		orch = orch.WithLocker(locker, lockTTL)
	}
	sched := periodic.New(assessor, dem).WithInterval(riskInterval)

	var consumers sync.WaitGroup
	if consumer := f.newConsumer(cfg); consumer != nil {
		defer func() { _ = consumer.Close() }()
		handler := kafka.Retry(ctx, risk.NewRequestHandler(ctx, assessor), time.Second, time.Minute)
		consumers.Add(1)
		go func() {
			defer consumers.Done()
			slog.Info("kafka consumer started", "topic", riskTopic(cfg))
			superviseConsumer(ctx, consumer, handler, 5*time.Second)
		}()
	}

	started := orch.StartAllActiveIntegrations(ctx)
	slog.Info("integrations scheduled", "count", started)
	sched.Start(ctx)

	httpErr := make(chan error, 1)
	if opts.httpAddr != "" {
		go func() {
			httpErr <- runWorkerHTTPServer(ctx, workerHTTPOpts{
				httpAddr:     opts.httpAddr,
				swaggerPath:  opts.swaggerPath,
				onListen:     opts.onListen,
				orchestrator: orch,
				scheduler:    sched,
			})
		}()
	}

	select {
	case <-ctx.Done():
		err = ctx.Err()
	case err = <-httpErr:
	}

	orch.StopAllIntegrations()
	sched.Stop()
	orch.Wait()
	sched.Wait()
	consumers.Wait()
	dispatcher.Wait()
	return err
}

// superviseConsumer restarts Consume after it fails, until ctx is done.
func superviseConsumer(ctx context.Context, c kafkaConsumer, handler func(key, value []byte) error, backoff time.Duration) {
	for {
		err := c.Consume(ctx, handler)
		if ctx.Err() != nil {
			return
		}
		slog.Error("risk consumer stopped, restarting", "backoff", backoff.String(), "error", errString(err))
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func closeQuietly(v any) {
	if c, ok := v.(io.Closer); ok {
		_ = c.Close()
	}
}
