// Package periodic runs the fleet-wide risk and demurrage passes on a fixed interval.
package periodic

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/BearBump/FreightBox/internal/services/demurrage"
)

const DefaultInterval = 15 * time.Minute

type RiskAssessor interface {
	AssessAll(ctx context.Context) (assessed, failed int, err error)
}

type DemurrageRunner interface {
	Run(ctx context.Context) (demurrage.Summary, error)
}

type PassResult struct {
	StartedAt    time.Time         `json:"startedAt"`
	DurationMs   int64             `json:"durationMs"`
	RiskAssessed int               `json:"riskAssessed"`
	RiskFailed   int               `json:"riskFailed"`
	RiskError    string            `json:"riskError,omitempty"`
	Demurrage    demurrage.Summary `json:"demurrage"`
	DemurrageErr string            `json:"demurrageError,omitempty"`
}

// tickerFunc returns a tick channel and its stop func.
type tickerFunc func(d time.Duration) (<-chan time.Time, func())

func stdTicker(d time.Duration) (<-chan time.Time, func()) {
	t := time.NewTicker(d)
	return t.C, t.Stop
}

type Scheduler struct {
	risk      RiskAssessor
	demurrage DemurrageRunner
	interval  time.Duration
	newTicker tickerFunc

	mu      sync.Mutex
	cancel  context.CancelFunc
	running bool
	wg      sync.WaitGroup

	// passMu keeps RunNow and ticks from interleaving their steps.
	passMu sync.Mutex

	passes   atomic.Int64
	lastMu   sync.Mutex
	lastPass *PassResult
}

func New(risk RiskAssessor, dem DemurrageRunner) *Scheduler {
	return &Scheduler{risk: risk, demurrage: dem, interval: DefaultInterval, newTicker: stdTicker}
}

func (s *Scheduler) WithInterval(d time.Duration) *Scheduler {
	if d > 0 {
		s.interval = d
	}
	return s
}

// Start runs one pass, then arms the ticker. It reports false when already running.
func (s *Scheduler) Start(ctx context.Context) bool {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return false
	}
	tctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel
	s.running = true
	s.wg.Add(1)
	s.mu.Unlock()

	s.RunNow(ctx)

	go s.loop(tctx)
	slog.Info("periodic scheduler started", "interval", s.interval.String())
	return true
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()
	ticks, stop := s.newTicker(s.interval)
	defer stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticks:
			// select picks randomly when both are ready.
			if ctx.Err() != nil {
				return
			}
			s.RunNow(context.WithoutCancel(ctx))
		}
	}
}

// Stop cancels future ticks; a pass already running finishes.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	s.cancel()
	s.running = false
	slog.Info("periodic scheduler stopped")
}

func (s *Scheduler) Wait() {
	s.wg.Wait()
}

func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// RunNow performs one pass: risk for every container, then demurrage.
// Step failures are logged and reported, never returned.
func (s *Scheduler) RunNow(ctx context.Context) PassResult {
	s.passMu.Lock()
	defer s.passMu.Unlock()

	res := PassResult{StartedAt: time.Now().UTC()}

	assessed, failed, err := s.risk.AssessAll(ctx)
	res.RiskAssessed, res.RiskFailed = assessed, failed
	if err != nil {
		res.RiskError = err.Error()
		slog.Error("periodic risk pass failed", "error", err.Error())
	}

	sum, err := s.demurrage.Run(ctx)
	res.Demurrage = sum
	if err != nil {
		res.DemurrageErr = err.Error()
		slog.Error("periodic demurrage pass failed", "error", err.Error())
	}

	res.DurationMs = time.Since(res.StartedAt).Milliseconds()
	s.passes.Add(1)
	s.lastMu.Lock()
	s.lastPass = &res
	s.lastMu.Unlock()
	return res
}

type Stats struct {
	Running  bool        `json:"running"`
	Interval string      `json:"interval"`
	Passes   int64       `json:"passes"`
	LastPass *PassResult `json:"lastPass,omitempty"`
}

func (s *Scheduler) Stats() Stats {
	st := Stats{Running: s.Running(), Interval: s.interval.String(), Passes: s.passes.Load()}
	s.lastMu.Lock()
	if s.lastPass != nil {
		p := *s.lastPass
		st.LastPass = &p
	}
	s.lastMu.Unlock()
	return st
}
