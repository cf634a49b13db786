package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/BearBump/FreightBox/config"
	freightapi "github.com/BearBump/FreightBox/internal/api/freight_api"
	"github.com/BearBump/FreightBox/internal/broker/kafka"
	"github.com/BearBump/FreightBox/internal/cache/rediscache"
	"github.com/BearBump/FreightBox/internal/integrations/carrier/registry"
	"github.com/BearBump/FreightBox/internal/metrics"
	"github.com/BearBump/FreightBox/internal/services/containers"
	"github.com/BearBump/FreightBox/internal/services/demurrage"
	"github.com/BearBump/FreightBox/internal/services/ingest"
	"github.com/BearBump/FreightBox/internal/services/risk"
	"github.com/BearBump/FreightBox/internal/services/updates"
	"github.com/BearBump/FreightBox/internal/storage/memstore"
	"github.com/BearBump/FreightBox/internal/storage/pgfreight"
)

// apiStore is everything the API process persists through. Both stores satisfy it.
type apiStore interface {
	ingest.Repository
	updates.Repository
	containers.Repository
	demurrage.Repository
	risk.Repository
}

type riskDispatcher interface {
	Dispatch(containerID uint64, reason string)
	Wait()
}

type freightAPIApp struct {
	ctx     context.Context
	cancel  context.CancelFunc
	opts    freightAPIOpts
	api     *freightapi.FreightAPI
	risk    riskDispatcher
	closers []func()
}

func mustBootstrapFreightAPI() *freightAPIApp {
	cfgPath := os.Getenv("configPath")
	if cfgPath == "" {
		panic("configPath env var is required")
	}
	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		panic(fmt.Sprintf("config parse error, %v", err))
	}

	httpAddr := cfg.Freight.APIHTTPAddr
	if httpAddr == "" {
		httpAddr = ":8080"
	}
	swaggerPath := os.Getenv("swaggerPath")
	if swaggerPath == "" {
		swaggerPath = cfg.Freight.SwaggerPath
	}
	lookupTTL := time.Duration(cfg.Freight.LiveLookupTTLSeconds) * time.Second
	if lookupTTL <= 0 {
		lookupTTL = 2 * time.Minute
	}

	metrics.RegisterDefault()
	app := &freightAPIApp{}

	var st apiStore
	if cfg.Freight.Storage == "memory" {
		slog.Warn("using in-memory storage, data is lost on restart")
		st = memstore.New()
	} else {
		pg := mustOpenPostgresWithRetry(cfg.PostgresDSN(), 60*time.Second)
		st = pg
		app.closers = append(app.closers, pg.Close)
	}

	rc := rediscache.New(cfg.RedisAddr())
	app.closers = append(app.closers, func() { _ = rc.Close() })

	app.risk = newRiskDispatcher(cfg, st, app)

	factory := registry.New().WithRequestsPerSecond(cfg.Freight.CarrierRequestsPerSecond)
	processor := updates.New(st, app.risk)
	dem := demurrage.New(st).
		WithLocation(mustFeeLocation(cfg.Freight.FeeTimezone)).
		WithDefaultRate(cfg.Freight.DefaultDailyFeeRate)

	app.api = freightapi.New(
		ingest.New(st, factory, processor),
		containers.New(st, factory, rc, lookupTTL),
		dem,
	)

	app.ctx, app.cancel = signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	app.opts = freightAPIOpts{httpAddr: httpAddr, swaggerPath: swaggerPath}
	return app
}

// newRiskDispatcher hands risk work to the worker over Kafka when configured,
// otherwise assesses in-process.
func newRiskDispatcher(cfg *config.Config, repo risk.Repository, app *freightAPIApp) riskDispatcher {
	if cfg.Freight.RiskDispatch == "kafka" {
		topic := cfg.Kafka.RiskRequestedTopicName
		if topic == "" {
			topic = "container.risk.requested"
		}
		producer := kafka.NewProducer(cfg.KafkaBrokers())
		app.closers = append(app.closers, func() { _ = producer.Close() })
		return risk.NewBrokerDispatcher(producer, topic)
	}
	return risk.NewAsyncDispatcher(risk.NewAssessor(repo))
}

func mustFeeLocation(name string) *time.Location {
	if name == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		panic(fmt.Sprintf("bad fee_timezone %q: %v", name, err))
	}
	return loc
}

func mustOpenPostgresWithRetry(connString string, wait time.Duration) *pgfreight.Storage {
	deadline := time.Now().Add(wait)
	var lastErr error
	for time.Now().Before(deadline) {
		st, err := pgfreight.New(connString)
		if err == nil {
			return st
		}
		lastErr = err
		time.Sleep(1 * time.Second)
	}
	panic(fmt.Sprintf("postgres is not ready after %s: %v", wait, lastErr))
}

func (a *freightAPIApp) Close() {
	if a.cancel != nil {
		a.cancel()
	}
	if a.risk != nil {
		a.risk.Wait()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func (a *freightAPIApp) Run() error {
	return runFreightAPI(a.ctx, a.opts, a.api)
}
