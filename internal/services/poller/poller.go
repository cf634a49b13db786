// Package poller runs one recurring sync per active carrier integration.
package poller

import (
	"context"
	"log/slog"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/BearBump/FreightBox/internal/cache/rediscache"
	"github.com/BearBump/FreightBox/internal/integrations/carrier"
	"github.com/BearBump/FreightBox/internal/metrics"
	"github.com/BearBump/FreightBox/internal/models"
	"github.com/BearBump/FreightBox/internal/services/updates"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

type Repository interface {
	ListActiveIntegrations(ctx context.Context) ([]*models.IntegrationConfig, error)
	GetIntegration(ctx context.Context, id uint64) (*models.IntegrationConfig, error)
	UpdateIntegrationLastSync(ctx context.Context, id uint64, at time.Time) error
	CreateCarrierUpdate(ctx context.Context, in models.CarrierUpdateInput) (*models.CarrierUpdate, error)
	CreateSyncLog(ctx context.Context, l models.IntegrationSyncLog) error
}

type AdapterFactory interface {
	Resolve(cfg *models.IntegrationConfig) (carrier.Adapter, error)
}

type UpdateProcessor interface {
	ProcessForIntegration(ctx context.Context, updateID, integrationID uint64) (updates.Outcome, error)
}

type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int64, window time.Duration) (bool, int64, error)
}

type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, bool, error)
}

type Ticker interface {
	C() <-chan time.Time
	Stop()
}

type stdTicker struct{ t *time.Ticker }

func (s stdTicker) C() <-chan time.Time { return s.t.C }
func (s stdTicker) Stop() { s.t.Stop() }

func newStdTicker(d time.Duration) Ticker { return stdTicker{t: time.NewTicker(d)} }

// Skip reasons reported in SyncResult and the skipped-ticks metric.
const (
	SkipInactive    = "inactive"
	SkipUnsupported = "unsupported_carrier"
	SkipBusy        = "busy"
	SkipLocked      = "locked"
	SkipRateLimited = "rate_limited"
)

type SyncResult struct {
	RunID            string `json:"runId,omitempty"`
	IntegrationID    uint64 `json:"integrationId"`
	Status           string `json:"status,omitempty"`
	SkipReason       string `json:"skipReason,omitempty"`
	RecordsProcessed int    `json:"recordsProcessed"`
	RecordsUpdated   int    `json:"recordsUpdated"`
	RecordsFailed    int    `json:"recordsFailed"`
	Error            string `json:"error,omitempty"`
}

type task struct {
	integrationID uint64
	carrier       string
	interval      time.Duration
	startedAt     time.Time
	cancel        context.CancelFunc
	ticks         atomic.Int64
}

// Orchestrator owns the integration id to timer registry. Create one per process.
type Orchestrator struct {
	repo      Repository
	factory   AdapterFactory
	processor UpdateProcessor

	planner   *Planner
	now       func() time.Time
	newTicker func(time.Duration) Ticker

	rl                 RateLimiter
	rateLimitPerMinute int64

	locker  Locker
	lockTTL time.Duration

	mu      sync.Mutex
	tasks   map[uint64]*task
	running map[uint64]struct{}
	wg      sync.WaitGroup

	startedAtUnixNano int64
	lastCycleUnixNano atomic.Int64
	totalRuns         atomic.Int64
	totalErrors       atomic.Int64
	totalSkipped      atomic.Int64
	lastErrorMu       sync.Mutex
	lastError         string
}

func New(repo Repository, factory AdapterFactory, processor UpdateProcessor) *Orchestrator {
	return &Orchestrator{
		repo:              repo,
		factory:           factory,
		processor:         processor,
		planner:           NewPlanner(DefaultPlannerConfig()),
		now:               time.Now,
		newTicker:         newStdTicker,
		tasks:             map[uint64]*task{},
		running:           map[uint64]struct{}{},
		startedAtUnixNano: time.Now().UTC().UnixNano(),
	}
}

func (o *Orchestrator) WithPlanner(cfg PlannerConfig) *Orchestrator {
	o.planner = NewPlanner(cfg)
	return o
}

func (o *Orchestrator) WithClock(now func() time.Time) *Orchestrator {
	if now != nil {
		o.now = now
	}
	return o
}

func (o *Orchestrator) WithTickerFactory(fn func(time.Duration) Ticker) *Orchestrator {
	if fn != nil {
		o.newTicker = fn
	}
	return o
}

// WithRateLimit caps bulk fetches per carrier per wall-clock minute.
func (o *Orchestrator) WithRateLimit(rl RateLimiter, perMinute int) *Orchestrator {
	if rl != nil && perMinute > 0 {
		o.rl = rl
		o.rateLimitPerMinute = int64(perMinute)
	}
	return o
}

// WithLocker adds a cross-replica lock around each sync. A zero ttl derives it from the interval.
func (o *Orchestrator) WithLocker(l Locker, ttl time.Duration) *Orchestrator {
	o.locker = l
	o.lockTTL = ttl
	return o
}

// StartAllActiveIntegrations never fails: a load error is logged and the
// process keeps running with no integrations scheduled.
func (o *Orchestrator) StartAllActiveIntegrations(ctx context.Context) int {
	list, err := o.repo.ListActiveIntegrations(ctx)
	if err != nil {
		slog.Error("load active integrations", "error", err.Error())
		o.setLastError(err)
		return 0
	}
	started := 0
	for _, cfg := range list {
		if o.StartIntegration(ctx, cfg) {
			started++
		}
	}
	slog.Info("integrations scheduled", "count", started)
	return started
}

// StartIntegration registers a ticker for cfg and runs one sync before returning.
// It reports false when the integration is already registered.
func (o *Orchestrator) StartIntegration(ctx context.Context, cfg *models.IntegrationConfig) bool {
	if cfg == nil {
		return false
	}
	o.mu.Lock()
	if _, ok := o.tasks[cfg.ID]; ok {
		o.mu.Unlock()
		return false
	}
	interval := o.planner.Interval(cfg)
	tctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	t := &task{
		integrationID: cfg.ID,
		carrier:       cfg.CarrierCode,
		interval:      interval,
		startedAt:     o.now().UTC(),
		cancel:        cancel,
	}
	o.tasks[cfg.ID] = t
	ticker := o.newTicker(interval)
	o.wg.Add(1)
	o.mu.Unlock()

	go o.loop(tctx, t, ticker)

	slog.Info("integration started", "integration_id", cfg.ID, "carrier", cfg.CarrierCode, "interval", interval.String())
	o.SyncIntegration(ctx, cfg.ID)
	return true
}

func (o *Orchestrator) loop(ctx context.Context, t *task, ticker Ticker) {
	defer o.wg.Done()
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			// select picks randomly when both are ready.
			if ctx.Err() != nil {
				return
			}
			t.ticks.Add(1)
			// The in-flight sync outlives Stop; only future ticks are cancelled.
			o.SyncIntegration(context.WithoutCancel(ctx), t.integrationID)
		}
	}
}

func (o *Orchestrator) StopIntegration(id uint64) bool {
	o.mu.Lock()
	t, ok := o.tasks[id]
	if ok {
		delete(o.tasks, id)
	}
	o.mu.Unlock()
	if !ok {
		return false
	}
	t.cancel()
	slog.Info("integration stopped", "integration_id", id)
	return true
}

func (o *Orchestrator) StopAllIntegrations() {
	o.mu.Lock()
	ids := make([]uint64, 0, len(o.tasks))
	for id := range o.tasks {
		ids = append(ids, id)
	}
	o.mu.Unlock()
	for _, id := range ids {
		o.StopIntegration(id)
	}
}

// Wait blocks until every stopped task has finished its in-flight sync.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

func (o *Orchestrator) IsScheduled(id uint64) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.tasks[id]
	return ok
}

func (o *Orchestrator) tryBegin(id uint64) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, busy := o.running[id]; busy {
		return false
	}
	o.running[id] = struct{}{}
	return true
}

func (o *Orchestrator) end(id uint64) {
	o.mu.Lock()
	delete(o.running, id)
	o.mu.Unlock()
}

// SyncIntegration pulls and applies one batch for integration id. Failures
// are recorded in the sync log and never returned.
func (o *Orchestrator) SyncIntegration(ctx context.Context, id uint64) SyncResult {
	res := SyncResult{IntegrationID: id}
	if !o.tryBegin(id) {
		return o.skip(res, "", SkipBusy)
	}
	defer o.end(id)

	o.lastCycleUnixNano.Store(o.now().UTC().UnixNano())

	cfg, err := o.repo.GetIntegration(ctx, id)
	if err != nil {
		res.RunID = uuid.NewString()
		return o.fail(ctx, res, "", o.now(), errors.Wrap(err, "load integration"))
	}
	if cfg == nil || !cfg.IsActive {
		return o.skip(res, "", SkipInactive)
	}

	adapter, err := o.factory.Resolve(cfg)
	if err != nil {
		slog.Warn("integration sync skipped", "integration_id", id, "carrier", cfg.CarrierCode, "error", err.Error())
		return o.skip(res, cfg.CarrierCode, SkipUnsupported)
	}

	if o.rl != nil {
		key := rediscache.CarrierMinuteKey(string(adapter.Code()), o.now())
		allowed, n, err := o.rl.Allow(ctx, key, o.rateLimitPerMinute, 70*time.Second)
		switch {
		case err != nil:
			slog.Warn("carrier rate limit unavailable", "carrier", adapter.Code(), "error", err.Error())
		case !allowed:
			slog.Warn("carrier rate limit exceeded", "integration_id", id, "carrier", adapter.Code(), "count", n)
			return o.skip(res, cfg.CarrierCode, SkipRateLimited)
		}
	}

	if o.locker != nil {
		ttl := o.lockTTL
		if ttl <= 0 {
			ttl = o.planner.LockTTL(cfg)
		}
		release, ok, err := o.locker.TryLock(ctx, "freight:sync:"+strconv.FormatUint(id, 10), ttl)
		switch {
		case err != nil:
			slog.Warn("sync lock unavailable", "integration_id", id, "error", err.Error())
		case !ok:
			return o.skip(res, cfg.CarrierCode, SkipLocked)
		default:
			defer func() {
				if err := release(context.WithoutCancel(ctx)); err != nil {
					slog.Warn("sync lock release", "integration_id", id, "error", err.Error())
				}
			}()
		}
	}

	res.RunID = uuid.NewString()
	return o.run(ctx, cfg, adapter, res)
}

func (o *Orchestrator) run(ctx context.Context, cfg *models.IntegrationConfig, adapter carrier.Adapter, res SyncResult) SyncResult {
	started := o.now()
	o.totalRuns.Add(1)

	// Captured before the fetch so records landing mid-fetch are seen next cycle.
	fetchStartedAt := started.UTC()
	batch := adapter.FetchBulkUpdates(ctx, cfg.LastSyncAt)
	res.RecordsProcessed = len(batch)

	dropped := 0
	for _, u := range batch {
		in := adapter.BuildCarrierUpdate(cfg.ID, u)
		row, err := o.repo.CreateCarrierUpdate(ctx, in)
		if err != nil {
			res.RecordsFailed++
			slog.Error("persist carrier update", "integration_id", cfg.ID, "container", in.ContainerNumber, "error", err.Error())
			continue
		}
		outcome, err := o.processor.ProcessForIntegration(ctx, row.ID, cfg.ID)
		if err != nil {
			res.RecordsFailed++
			slog.Error("process carrier update", "integration_id", cfg.ID, "update_id", row.ID, "error", err.Error())
			continue
		}
		switch outcome {
		case updates.OutcomeApplied:
			res.RecordsUpdated++
		case updates.OutcomeDropped:
			dropped++
		}
	}

	if err := o.repo.UpdateIntegrationLastSync(ctx, cfg.ID, fetchStartedAt); err != nil {
		return o.fail(ctx, res, cfg.CarrierCode, started, errors.Wrap(err, "update last sync"))
	}

	res.Status = models.SyncStatusSuccess
	o.writeLog(ctx, res, started, nil, map[string]any{
		"run_id":   res.RunID,
		"carrier":  cfg.CarrierCode,
		"since":    sinceValue(cfg.LastSyncAt),
		"dropped":  dropped,
		"fetch_at": fetchStartedAt.Format(time.RFC3339),
	})
	o.observe(cfg.CarrierCode, res.Status, started)
	slog.Info("integration synced",
		"integration_id", cfg.ID, "carrier", cfg.CarrierCode, "run_id", res.RunID,
		"processed", res.RecordsProcessed, "updated", res.RecordsUpdated, "failed", res.RecordsFailed)
	return res
}

func (o *Orchestrator) fail(ctx context.Context, res SyncResult, carrierCode string, started time.Time, err error) SyncResult {
	o.totalErrors.Add(1)
	o.setLastError(err)
	res.Status = models.SyncStatusError
	res.Error = err.Error()
	slog.Error("integration sync failed", "integration_id", res.IntegrationID, "run_id", res.RunID, "error", err.Error())
	o.writeLog(ctx, res, started, &res.Error, map[string]any{"run_id": res.RunID, "carrier": carrierCode})
	o.observe(carrierCode, res.Status, started)
	return res
}

func (o *Orchestrator) writeLog(ctx context.Context, res SyncResult, started time.Time, errMsg *string, meta map[string]any) {
	entry := models.IntegrationSyncLog{
		IntegrationID:    res.IntegrationID,
		Status:           res.Status,
		RecordsProcessed: res.RecordsProcessed,
		RecordsUpdated:   res.RecordsUpdated,
		RecordsFailed:    res.RecordsFailed,
		DurationMs:       o.now().Sub(started).Milliseconds(),
		ErrorMessage:     errMsg,
		Metadata:         meta,
	}
	if err := o.repo.CreateSyncLog(ctx, entry); err != nil {
		slog.Error("write sync log", "integration_id", res.IntegrationID, "error", err.Error())
	}
}

func (o *Orchestrator) skip(res SyncResult, carrierCode, reason string) SyncResult {
	o.totalSkipped.Add(1)
	metrics.SyncSkipped.WithLabelValues(reason).Inc()
	if reason != SkipInactive {
		slog.Info("integration sync skipped", "integration_id", res.IntegrationID, "carrier", carrierCode, "reason", reason)
	}
	res.SkipReason = reason
	return res
}

func (o *Orchestrator) observe(carrierCode, status string, started time.Time) {
	metrics.SyncRuns.WithLabelValues(carrierCode, status).Inc()
	metrics.SyncDuration.WithLabelValues(carrierCode).Observe(o.now().Sub(started).Seconds())
}

func (o *Orchestrator) setLastError(err error) {
	o.lastErrorMu.Lock()
	o.lastError = err.Error()
	o.lastErrorMu.Unlock()
}

func sinceValue(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}

type TaskStats struct {
	IntegrationID uint64    `json:"integrationId"`
	Carrier       string    `json:"carrier"`
	Interval      string    `json:"interval"`
	StartedAt     time.Time `json:"startedAt"`
	Ticks         int64     `json:"ticks"`
}

type Stats struct {
	StartedAt    time.Time   `json:"startedAt"`
	LastCycleAt  *time.Time  `json:"lastCycleAt,omitempty"`
	TotalRuns    int64       `json:"totalRuns"`
	TotalErrors  int64       `json:"totalErrors"`
	TotalSkipped int64       `json:"totalSkipped"`
	InFlight     int         `json:"inFlight"`
	LastError    string      `json:"lastError,omitempty"`
	Tasks        []TaskStats `json:"tasks"`
}

func (o *Orchestrator) Stats() Stats {
	st := Stats{
		StartedAt:    time.Unix(0, o.startedAtUnixNano).UTC(),
		TotalRuns:    o.totalRuns.Load(),
		TotalErrors:  o.totalErrors.Load(),
		TotalSkipped: o.totalSkipped.Load(),
	}
	if n := o.lastCycleUnixNano.Load(); n > 0 {
		t := time.Unix(0, n).UTC()
		st.LastCycleAt = &t
	}

	o.mu.Lock()
	st.InFlight = len(o.running)
	st.Tasks = make([]TaskStats, 0, len(o.tasks))
	for _, t := range o.tasks {
		st.Tasks = append(st.Tasks, TaskStats{
			IntegrationID: t.integrationID,
			Carrier:       t.carrier,
			Interval:      t.interval.String(),
			StartedAt:     t.startedAt,
			Ticks:         t.ticks.Load(),
		})
	}
	o.mu.Unlock()
	sort.Slice(st.Tasks, func(i, j int) bool { return st.Tasks[i].IntegrationID < st.Tasks[j].IntegrationID })

	o.lastErrorMu.Lock()
	st.LastError = o.lastError
	o.lastErrorMu.Unlock()
	return st
}
