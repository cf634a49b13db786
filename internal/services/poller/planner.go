package poller

import (
	"time"

	"github.com/BearBump/FreightBox/internal/models"
)

type PlannerConfig struct {
	// Unit is the length of one configured "minute". Tests shrink it.
	Unit time.Duration // default: 1 minute

	DefaultIntervalMinutes int // default: 15, used when a config has none
	MinIntervalMinutes     int // default: 1
}

func DefaultPlannerConfig() PlannerConfig {
	return PlannerConfig{
		Unit:                   time.Minute,
		DefaultIntervalMinutes: 15,
		MinIntervalMinutes:     1,
	}
}

type Planner struct {
	cfg PlannerConfig
}

func NewPlanner(cfg PlannerConfig) *Planner {
	def := DefaultPlannerConfig()
	if cfg.Unit <= 0 {
		cfg.Unit = def.Unit
	}
	if cfg.MinIntervalMinutes <= 0 {
		cfg.MinIntervalMinutes = def.MinIntervalMinutes
	}
	if cfg.DefaultIntervalMinutes <= 0 {
		cfg.DefaultIntervalMinutes = def.DefaultIntervalMinutes
	}
	if cfg.DefaultIntervalMinutes < cfg.MinIntervalMinutes {
		cfg.DefaultIntervalMinutes = cfg.MinIntervalMinutes
	}
	return &Planner{cfg: cfg}
}

// Interval is the tick period for one integration.
func (p *Planner) Interval(cfg *models.IntegrationConfig) time.Duration {
	m := p.cfg.DefaultIntervalMinutes
	if cfg != nil && cfg.PollingIntervalMinutes > 0 {
		m = cfg.PollingIntervalMinutes
	}
	if m < p.cfg.MinIntervalMinutes {
		m = p.cfg.MinIntervalMinutes
	}
	return time.Duration(m) * p.cfg.Unit
}

// LockTTL bounds the distributed sync lock: a few intervals, never less than a minute of Unit.
func (p *Planner) LockTTL(cfg *models.IntegrationConfig) time.Duration {
	return max(2*p.Interval(cfg), p.cfg.Unit)
}
