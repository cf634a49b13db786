package periodic

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/BearBump/FreightBox/internal/services/demurrage"
	"github.com/stretchr/testify/require"
)

type callLog struct {
	mu    sync.Mutex
	calls []string
}

func (l *callLog) add(s string) {
	l.mu.Lock()
	l.calls = append(l.calls, s)
	l.mu.Unlock()
}

func (l *callLog) snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.calls...)
}

type fakeRisk struct {
	log *callLog
	err error
}

func (f fakeRisk) AssessAll(ctx context.Context) (int, int, error) {
	f.log.add("risk")
	return 3, 1, f.err
}

type fakeDemurrage struct {
	log *callLog
	err error
}

func (f fakeDemurrage) Run(ctx context.Context) (demurrage.Summary, error) {
	f.log.add("demurrage")
	return demurrage.Summary{Checked: 2, Overdue: 1}, f.err
}

func TestRunNow_RiskThenDemurrage(t *testing.T) {
	l := &callLog{}
	s := New(fakeRisk{log: l}, fakeDemurrage{log: l})

	res := s.RunNow(context.Background())
	require.Equal(t, []string{"risk", "demurrage"}, l.snapshot())
	require.Equal(t, 3, res.RiskAssessed)
	require.Equal(t, 1, res.RiskFailed)
	require.Equal(t, 1, res.Demurrage.Overdue)
	require.Empty(t, res.RiskError)
}

func TestRunNow_RiskFailureStillRunsDemurrage(t *testing.T) {
	l := &callLog{}
	s := New(fakeRisk{log: l, err: errors.New("list failed")}, fakeDemurrage{log: l, err: errors.New("db")})

	res := s.RunNow(context.Background())
	require.Equal(t, []string{"risk", "demurrage"}, l.snapshot())
	require.Equal(t, "list failed", res.RiskError)
	require.Equal(t, "db", res.DemurrageErr)
	require.EqualValues(t, 1, s.Stats().Passes)
}

func TestStart_IdempotentAndImmediate(t *testing.T) {
	l := &callLog{}
	s := New(fakeRisk{log: l}, fakeDemurrage{log: l}).WithInterval(time.Hour)

	require.True(t, s.Start(context.Background()))
	require.False(t, s.Start(context.Background()))
	require.Equal(t, []string{"risk", "demurrage"}, l.snapshot())
	require.True(t, s.Running())

	s.Stop()
	s.Wait()
	require.False(t, s.Running())
}

func TestStart_TicksUntilStopped(t *testing.T) {
	l := &callLog{}
	s := New(fakeRisk{log: l, err: errors.New("flaky")}, fakeDemurrage{log: l}).WithInterval(10 * time.Millisecond)

	s.Start(context.Background())
	require.Eventually(t, func() bool { return s.Stats().Passes >= 3 }, 2*time.Second, 5*time.Millisecond)
	s.Stop()
	s.Wait()

	passes := s.Stats().Passes
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, passes, s.Stats().Passes)

	calls := l.snapshot()
	require.Len(t, calls, int(passes)*2)
	for i := 0; i < len(calls); i += 2 {
		require.Equal(t, "risk", calls[i])
		require.Equal(t, "demurrage", calls[i+1])
	}
}

func TestStop_PendingTickDoesNotRun(t *testing.T) {
	for i := 0; i < 50; i++ {
		l := &callLog{}
		ticks := make(chan time.Time, 1)
		s := New(fakeRisk{log: l}, fakeDemurrage{log: l})
		s.newTicker = func(time.Duration) (<-chan time.Time, func()) { return ticks, func() {} }

		s.Start(context.Background())
		s.Stop()
		ticks <- time.Now()
		s.Wait()

		require.EqualValues(t, 1, s.Stats().Passes)
	}
}

func TestStop_WhenNotRunning(t *testing.T) {
	s := New(fakeRisk{log: &callLog{}}, fakeDemurrage{log: &callLog{}})
	require.NotPanics(t, s.Stop)
	require.Nil(t, s.Stats().LastPass)
	require.Equal(t, "15m0s", s.Stats().Interval)
}
