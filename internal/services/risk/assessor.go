// Package risk scores containers for delay and cost exposure and dispatches
// re-assessments off the update path.
package risk

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/BearBump/FreightBox/internal/metrics"
	"github.com/BearBump/FreightBox/internal/models"
	"github.com/pkg/errors"
)

const (
	LevelLow      = "low"
	LevelMedium   = "medium"
	LevelHigh     = "high"
	LevelCritical = "critical"
)

type Repository interface {
	GetContainerByID(ctx context.Context, id uint64) (*models.Container, error)
	ListContainers(ctx context.Context) ([]*models.Container, error)
	UpdateContainerRisk(ctx context.Context, id uint64, score int, level string) error
}

type Assessor struct {
	repo Repository
	now  func() time.Time
	loc  *time.Location
}

func NewAssessor(repo Repository) *Assessor {
	return &Assessor{repo: repo, now: time.Now, loc: time.UTC}
}

func (a *Assessor) WithClock(now func() time.Time) *Assessor {
	if now != nil {
		a.now = now
	}
	return a
}

func (a *Assessor) WithLocation(loc *time.Location) *Assessor {
	if loc != nil {
		a.loc = loc
	}
	return a
}

// Assessment is the score written back to the container.
type Assessment struct {
	ContainerID uint64 `json:"container_id"`
	Score       int    `json:"score"`
	Level       string `json:"level"`
}

// AssessContainer recomputes and stores one container's score. A missing container is a no-op.
func (a *Assessor) AssessContainer(ctx context.Context, containerID uint64) error {
	c, err := a.repo.GetContainerByID(ctx, containerID)
	if err != nil {
		metrics.RiskAssessments.WithLabelValues("error").Inc()
		return errors.Wrap(err, "load container")
	}
	if c == nil {
		return nil
	}
	_, err = a.store(ctx, c)
	return err
}

// AssessAll scores every container. Per-container failures are logged and
// counted; only a failure to list aborts the pass.
func (a *Assessor) AssessAll(ctx context.Context) (assessed, failed int, err error) {
	list, err := a.repo.ListContainers(ctx)
	if err != nil {
		return 0, 0, errors.Wrap(err, "list containers")
	}
	for _, c := range list {
		if ctx.Err() != nil {
			return assessed, failed, ctx.Err()
		}
		if _, err := a.store(ctx, c); err != nil {
			failed++
			slog.Error("risk assessment failed", "container_id", c.ID, "error", err.Error())
			continue
		}
		assessed++
	}
	return assessed, failed, nil
}

func (a *Assessor) store(ctx context.Context, c *models.Container) (Assessment, error) {
	res := Score(c, a.now(), a.loc)
	if err := a.repo.UpdateContainerRisk(ctx, c.ID, res.Score, res.Level); err != nil {
		metrics.RiskAssessments.WithLabelValues("error").Inc()
		return res, errors.Wrap(err, "update container risk")
	}
	metrics.RiskAssessments.WithLabelValues(res.Level).Inc()
	return res, nil
}

// Score is the pure rule set. Inputs: days to (or past) last free day,
// status text and accrued demurrage. The result is clamped to 0..100.
func Score(c *models.Container, now time.Time, loc *time.Location) Assessment {
	score := 0

	if c.LastFreeDay != nil {
		left := -models.DaysFromDate(*c.LastFreeDay, now, loc)
		switch {
		case left < 0:
			score += 50 + min(-left*2, 20)
		case left <= 1:
			score += 40
		case left <= 3:
			score += 25
		case left <= 7:
			score += 10
		}
	}

	status := strings.ToLower(c.Status)
	switch {
	case strings.Contains(status, "hold"):
		score += 25
	case strings.Contains(status, "customs"):
		score += 15
	}

	switch {
	case c.DemurrageFee >= 1000:
		score += 15
	case c.DemurrageFee > 0:
		score += 5
	}

	score = max(0, min(score, 100))
	return Assessment{ContainerID: c.ID, Score: score, Level: levelFor(score)}
}

func levelFor(score int) string {
	switch {
	case score >= 75:
		return LevelCritical
	case score >= 50:
		return LevelHigh
	case score >= 25:
		return LevelMedium
	default:
		return LevelLow
	}
}
