package poller

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/BearBump/FreightBox/internal/cache/rediscache"
	"github.com/BearBump/FreightBox/internal/integrations/carrier"
	"github.com/BearBump/FreightBox/internal/models"
	"github.com/BearBump/FreightBox/internal/services/updates"
	"github.com/BearBump/FreightBox/internal/storage/memstore"
	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"
)

type fakeAdapter struct {
	carrier.Base

	mu     sync.Mutex
	batch  []carrier.CanonicalUpdate
	sinces []*time.Time
	calls  atomic.Int64
	block  chan struct{}
	onCall func()
}

func newFakeAdapter(batch ...carrier.CanonicalUpdate) *fakeAdapter {
	return &fakeAdapter{Base: carrier.NewBase(carrier.CodeMaersk, carrier.Settings{}), batch: batch}
}

func (a *fakeAdapter) FetchContainerData(ctx context.Context, n string) *carrier.CanonicalUpdate {
	return nil
}

func (a *fakeAdapter) FetchBulkUpdates(ctx context.Context, since *time.Time) []carrier.CanonicalUpdate {
	a.calls.Add(1)
	a.mu.Lock()
	a.sinces = append(a.sinces, since)
	a.mu.Unlock()
	if a.onCall != nil {
		a.onCall()
	}
	if a.block != nil {
		<-a.block
	}
	return a.batch
}

func (a *fakeAdapter) ParseWebhook(payload []byte) ([]carrier.CanonicalUpdate, error) {
	return nil, nil
}

type factoryFunc func(cfg *models.IntegrationConfig) (carrier.Adapter, error)

func (f factoryFunc) Resolve(cfg *models.IntegrationConfig) (carrier.Adapter, error) { return f(cfg) }

func staticFactory(a carrier.Adapter) factoryFunc {
	return func(*models.IntegrationConfig) (carrier.Adapter, error) { return a, nil }
}

type fakeTicker struct {
	ch      chan time.Time
	stopped atomic.Bool
}

func (t *fakeTicker) C() <-chan time.Time { return t.ch }
func (t *fakeTicker) Stop() { t.stopped.Store(true) }

type tickerRecorder struct {
	mu      sync.Mutex
	tickers []*fakeTicker
	buffer  int
}

func (r *tickerRecorder) factory(d time.Duration) Ticker {
	r.mu.Lock()
	defer r.mu.Unlock()
	t := &fakeTicker{ch: make(chan time.Time, r.buffer)}
	r.tickers = append(r.tickers, t)
	return t
}

func (r *tickerRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tickers)
}

type fixture struct {
	store *memstore.Store
	cfg   *models.IntegrationConfig
	now   time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := memstore.New()
	ctx := context.Background()
	cfg, err := st.CreateIntegration(ctx, models.IntegrationConfig{
		Name:                   "maersk-eu",
		CarrierCode:            "maersk",
		APIEndpoint:            "http://carrier.invalid",
		APIKeyEnv:              "MAERSK_KEY",
		PollingIntervalMinutes: 5,
		IsActive:               true,
	})
	require.NoError(t, err)
	_, err = st.UpsertContainer(ctx, models.Container{ContainerNumber: "MSKU0000001", Status: "Booked"})
	require.NoError(t, err)
	_, err = st.UpsertContainer(ctx, models.Container{ContainerNumber: "MSKU0000002", Status: "Booked"})
	require.NoError(t, err)
	return &fixture{store: st, cfg: cfg, now: time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (f *fixture) orchestrator(factory AdapterFactory) *Orchestrator {
	return New(f.store, factory, updates.New(f.store, nil)).WithClock(func() time.Time { return f.now })
}

func sampleBatch() []carrier.CanonicalUpdate {
	rotterdam := "Rotterdam"
	return []carrier.CanonicalUpdate{
		{ContainerNumber: "MSKU0000001", Status: "Loaded on Vessel", Location: &rotterdam},
		{ContainerNumber: "msku0000002", Status: "Gate In"},
		{ContainerNumber: "UNKNOWN0001", Status: "Gate Out"},
	}
}

func TestSyncIntegration_AppliesBatchAndLogs(t *testing.T) {
	f := newFixture(t)
	a := newFakeAdapter(sampleBatch()...)
	o := f.orchestrator(staticFactory(a))
	ctx := context.Background()

	res := o.SyncIntegration(ctx, f.cfg.ID)
	require.Equal(t, models.SyncStatusSuccess, res.Status)
	require.Equal(t, 3, res.RecordsProcessed)
	require.Equal(t, 2, res.RecordsUpdated)
	require.Zero(t, res.RecordsFailed)
	require.NotEmpty(t, res.RunID)
	require.Equal(t, 3, f.store.CountCarrierUpdates(ctx))

	c, _ := f.store.GetContainerByNumber(ctx, "MSKU0000001")
	require.Equal(t, "Loaded on Vessel", c.Status)

	logs := f.store.SyncLogs(f.cfg.ID)
	require.Len(t, logs, 1)
	require.Equal(t, models.SyncStatusSuccess, logs[0].Status)
	require.Equal(t, 3, logs[0].RecordsProcessed)
	require.Equal(t, 2, logs[0].RecordsUpdated)
	require.Equal(t, res.RunID, logs[0].Metadata["run_id"])
	require.Equal(t, 1, logs[0].Metadata["dropped"])

	cfg, _ := f.store.GetIntegration(ctx, f.cfg.ID)
	require.NotNil(t, cfg.LastSyncAt)
	require.True(t, f.now.Equal(*cfg.LastSyncAt))
}

func TestSyncIntegration_SinceFollowsLastSync(t *testing.T) {
	f := newFixture(t)
	a := newFakeAdapter()
	o := f.orchestrator(staticFactory(a))
	ctx := context.Background()

	o.SyncIntegration(ctx, f.cfg.ID)
	first := f.now
	f.now = f.now.Add(5 * time.Minute)
	o.SyncIntegration(ctx, f.cfg.ID)

	require.Len(t, a.sinces, 2)
	require.Nil(t, a.sinces[0])
	require.NotNil(t, a.sinces[1])
	require.True(t, first.Equal(*a.sinces[1]))
}

func TestSyncIntegration_InactiveOrMissingIsNoop(t *testing.T) {
	f := newFixture(t)
	a := newFakeAdapter(sampleBatch()...)
	o := f.orchestrator(staticFactory(a))
	ctx := context.Background()

	require.NoError(t, f.store.SetIntegrationActive(ctx, f.cfg.ID, false))
	res := o.SyncIntegration(ctx, f.cfg.ID)
	require.Equal(t, SkipInactive, res.SkipReason)

	res = o.SyncIntegration(ctx, 4242)
	require.Equal(t, SkipInactive, res.SkipReason)

	require.Zero(t, a.calls.Load())
	require.Empty(t, f.store.SyncLogs(f.cfg.ID))
}

func TestSyncIntegration_UnsupportedCarrierSkips(t *testing.T) {
	f := newFixture(t)
	o := f.orchestrator(factoryFunc(func(*models.IntegrationConfig) (carrier.Adapter, error) {
		return nil, carrier.ErrUnsupportedCarrier
	}))

	res := o.SyncIntegration(context.Background(), f.cfg.ID)
	require.Equal(t, SkipUnsupported, res.SkipReason)
	require.Empty(t, f.store.SyncLogs(f.cfg.ID))
}

type brokenStore struct {
	*memstore.Store
	getErr      error
	lastSyncErr error
	createErr   func(in models.CarrierUpdateInput) error
}

func (b *brokenStore) GetIntegration(ctx context.Context, id uint64) (*models.IntegrationConfig, error) {
	if b.getErr != nil {
		return nil, b.getErr
	}
	return b.Store.GetIntegration(ctx, id)
}

func (b *brokenStore) UpdateIntegrationLastSync(ctx context.Context, id uint64, at time.Time) error {
	if b.lastSyncErr != nil {
		return b.lastSyncErr
	}
	return b.Store.UpdateIntegrationLastSync(ctx, id, at)
}

func (b *brokenStore) CreateCarrierUpdate(ctx context.Context, in models.CarrierUpdateInput) (*models.CarrierUpdate, error) {
	if b.createErr != nil {
		if err := b.createErr(in); err != nil {
			return nil, err
		}
	}
	return b.Store.CreateCarrierUpdate(ctx, in)
}

func TestSyncIntegration_StoreFailureRecordsErrorLog(t *testing.T) {
	f := newFixture(t)
	bs := &brokenStore{Store: f.store, getErr: errors.New("connection refused")}
	o := New(bs, staticFactory(newFakeAdapter()), updates.New(f.store, nil))

	res := o.SyncIntegration(context.Background(), f.cfg.ID)
	require.Equal(t, models.SyncStatusError, res.Status)
	require.Contains(t, res.Error, "connection refused")

	logs := f.store.SyncLogs(f.cfg.ID)
	require.Len(t, logs, 1)
	require.Equal(t, models.SyncStatusError, logs[0].Status)
	require.NotNil(t, logs[0].ErrorMessage)
	require.Contains(t, o.Stats().LastError, "connection refused")
}

func TestSyncIntegration_LastSyncFailureKeepsCounts(t *testing.T) {
	f := newFixture(t)
	bs := &brokenStore{Store: f.store, lastSyncErr: errors.New("write timeout")}
	o := New(bs, staticFactory(newFakeAdapter(sampleBatch()...)), updates.New(f.store, nil))

	res := o.SyncIntegration(context.Background(), f.cfg.ID)
	require.Equal(t, models.SyncStatusError, res.Status)

	logs := f.store.SyncLogs(f.cfg.ID)
	require.Len(t, logs, 1)
	require.Equal(t, 3, logs[0].RecordsProcessed)
	require.Equal(t, 2, logs[0].RecordsUpdated)
}

func TestSyncIntegration_PerUpdateFailureDoesNotAbort(t *testing.T) {
	f := newFixture(t)
	bs := &brokenStore{Store: f.store, createErr: func(in models.CarrierUpdateInput) error {
		if in.ContainerNumber == "MSKU0000001" {
			return errors.New("constraint violation")
		}
		return nil
	}}
	o := New(bs, staticFactory(newFakeAdapter(sampleBatch()...)), updates.New(f.store, nil))

	res := o.SyncIntegration(context.Background(), f.cfg.ID)
	require.Equal(t, models.SyncStatusSuccess, res.Status)
	require.Equal(t, 3, res.RecordsProcessed)
	require.Equal(t, 1, res.RecordsUpdated)
	require.Equal(t, 1, res.RecordsFailed)
	require.LessOrEqual(t, res.RecordsUpdated+res.RecordsFailed, res.RecordsProcessed)
}

func TestStartIntegration_TwiceRegistersOneTimer(t *testing.T) {
	f := newFixture(t)
	a := newFakeAdapter()
	rec := &tickerRecorder{}
	o := f.orchestrator(staticFactory(a)).WithTickerFactory(rec.factory)
	ctx := context.Background()

	require.True(t, o.StartIntegration(ctx, f.cfg))
	require.False(t, o.StartIntegration(ctx, f.cfg))
	require.Equal(t, 1, rec.count())
	require.EqualValues(t, 1, a.calls.Load())

	const n = 4
	for i := 0; i < n; i++ {
		rec.tickers[0].ch <- f.now
	}
	o.StopAllIntegrations()
	o.Wait()

	require.EqualValues(t, n+1, a.calls.Load())
	require.True(t, rec.tickers[0].stopped.Load())
	require.False(t, o.IsScheduled(f.cfg.ID))
}

func TestStopIntegration_PendingTickDoesNotSync(t *testing.T) {
	for i := 0; i < 50; i++ {
		f := newFixture(t)
		a := newFakeAdapter()
		rec := &tickerRecorder{buffer: 1}
		o := f.orchestrator(staticFactory(a)).WithTickerFactory(rec.factory)

		// Stop lands during the first sync, with a tick already queued behind it.
		a.onCall = func() {
			if a.calls.Load() == 1 {
				o.StopIntegration(f.cfg.ID)
				rec.tickers[0].ch <- f.now
			}
		}
		require.True(t, o.StartIntegration(context.Background(), f.cfg))
		o.Wait()

		require.EqualValues(t, 1, a.calls.Load())
	}
}

func TestStartIntegration_UsesPlannedInterval(t *testing.T) {
	f := newFixture(t)
	var got time.Duration
	o := f.orchestrator(staticFactory(newFakeAdapter())).
		WithPlanner(PlannerConfig{Unit: time.Second}).
		WithTickerFactory(func(d time.Duration) Ticker {
			got = d
			return &fakeTicker{ch: make(chan time.Time)}
		})

	o.StartIntegration(context.Background(), f.cfg)
	t.Cleanup(func() { o.StopAllIntegrations(); o.Wait() })
	require.Equal(t, 5*time.Second, got)

	st := o.Stats()
	require.Len(t, st.Tasks, 1)
	require.Equal(t, "5s", st.Tasks[0].Interval)
}

func TestStartIntegration_RealTicker(t *testing.T) {
	f := newFixture(t)
	a := newFakeAdapter()
	o := f.orchestrator(staticFactory(a)).WithPlanner(PlannerConfig{Unit: 10 * time.Millisecond})

	o.StartIntegration(context.Background(), f.cfg)
	require.Eventually(t, func() bool { return a.calls.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)
	o.StopIntegration(f.cfg.ID)
	o.Wait()

	after := a.calls.Load()
	time.Sleep(120 * time.Millisecond)
	require.Equal(t, after, a.calls.Load())
}

func TestStartAllActiveIntegrations(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	off, _ := f.store.CreateIntegration(ctx, models.IntegrationConfig{CarrierCode: "MSC", IsActive: true})
	require.NoError(t, f.store.SetIntegrationActive(ctx, off.ID, false))

	rec := &tickerRecorder{}
	o := f.orchestrator(staticFactory(newFakeAdapter())).WithTickerFactory(rec.factory)
	require.Equal(t, 1, o.StartAllActiveIntegrations(ctx))
	require.True(t, o.IsScheduled(f.cfg.ID))
	require.False(t, o.IsScheduled(off.ID))

	o.StopAllIntegrations()
	o.Wait()
}

type listFailStore struct{ *memstore.Store }

func (listFailStore) ListActiveIntegrations(ctx context.Context) ([]*models.IntegrationConfig, error) {
	return nil, errors.New("db unavailable")
}

func TestStartAllActiveIntegrations_LoadFailureIsSwallowed(t *testing.T) {
	f := newFixture(t)
	o := New(listFailStore{f.store}, staticFactory(newFakeAdapter()), updates.New(f.store, nil))
	require.Zero(t, o.StartAllActiveIntegrations(context.Background()))
	require.Empty(t, o.Stats().Tasks)
}

func TestStopIntegration_Unknown(t *testing.T) {
	f := newFixture(t)
	o := f.orchestrator(staticFactory(newFakeAdapter()))
	require.False(t, o.StopIntegration(99))
}

func TestSyncIntegration_SkipsWhileBusy(t *testing.T) {
	f := newFixture(t)
	a := newFakeAdapter()
	a.block = make(chan struct{})
	o := f.orchestrator(staticFactory(a))
	ctx := context.Background()

	done := make(chan SyncResult)
	go func() { done <- o.SyncIntegration(ctx, f.cfg.ID) }()
	require.Eventually(t, func() bool { return a.calls.Load() == 1 }, time.Second, time.Millisecond)

	res := o.SyncIntegration(ctx, f.cfg.ID)
	require.Equal(t, SkipBusy, res.SkipReason)

	close(a.block)
	first := <-done
	require.Equal(t, models.SyncStatusSuccess, first.Status)
	require.EqualValues(t, 1, a.calls.Load())
	require.Len(t, f.store.SyncLogs(f.cfg.ID), 1)
}

func TestSyncIntegration_CarrierRateLimit(t *testing.T) {
	f := newFixture(t)
	mr := miniredis.RunT(t)
	a := newFakeAdapter()
	o := f.orchestrator(staticFactory(a)).WithRateLimit(rediscache.NewRateLimiter(mr.Addr()), 1)
	ctx := context.Background()

	require.Equal(t, models.SyncStatusSuccess, o.SyncIntegration(ctx, f.cfg.ID).Status)
	require.Equal(t, SkipRateLimited, o.SyncIntegration(ctx, f.cfg.ID).SkipReason)
	require.EqualValues(t, 1, a.calls.Load())

	f.now = f.now.Add(time.Minute)
	require.Equal(t, models.SyncStatusSuccess, o.SyncIntegration(ctx, f.cfg.ID).Status)
}

func TestSyncIntegration_DistributedLock(t *testing.T) {
	f := newFixture(t)
	mr := miniredis.RunT(t)
	locker := rediscache.NewLocker(mr.Addr())
	a := newFakeAdapter()
	o := f.orchestrator(staticFactory(a)).WithLocker(locker, time.Minute)
	ctx := context.Background()
	key := "freight:sync:" + strconv.FormatUint(f.cfg.ID, 10)

	require.Equal(t, models.SyncStatusSuccess, o.SyncIntegration(ctx, f.cfg.ID).Status)
	require.False(t, mr.Exists(key))

	release, ok, err := locker.TryLock(ctx, key, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	require.Equal(t, SkipLocked, o.SyncIntegration(ctx, f.cfg.ID).SkipReason)
	require.NoError(t, release(ctx))
	require.Equal(t, models.SyncStatusSuccess, o.SyncIntegration(ctx, f.cfg.ID).Status)
	require.EqualValues(t, 2, a.calls.Load())
}
