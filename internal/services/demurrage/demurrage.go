// Package demurrage accrues per-day holding fees for containers past their last free day.
package demurrage

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/BearBump/FreightBox/internal/metrics"
	"github.com/BearBump/FreightBox/internal/models"
	"github.com/pkg/errors"
)

var ErrContainerNotFound = errors.New("container not found")

// feeEpsilon is the smallest fee change that counts as a change.
const feeEpsilon = 0.005

// notifyEveryDays is the alert cadence: one notification every third overdue day.
const notifyEveryDays = 3

type Repository interface {
	ListContainersWithLastFreeDay(ctx context.Context) ([]*models.Container, error)
	GetContainerByID(ctx context.Context, id uint64) (*models.Container, error)
	UpdateContainerDemurrageFee(ctx context.Context, id uint64, fee float64) error
	CreateNotification(ctx context.Context, n models.Notification) error
}

type Result struct {
	ContainerID uint64  `json:"container_id"`
	DaysOverdue int     `json:"days_overdue"`
	DailyRate   float64 `json:"daily_rate"`
	Fee         float64 `json:"fee"`
	PreviousFee float64 `json:"previous_fee"`
	Notified    bool    `json:"notified"`
	Priority    string  `json:"priority,omitempty"`
}

type Summary struct {
	Checked  int `json:"checked"`
	Overdue  int `json:"overdue"`
	Notified int `json:"notified"`
	Failed   int `json:"failed"`
}

type Engine struct {
	repo        Repository
	now         func() time.Time
	loc         *time.Location
	defaultRate float64
}

func New(repo Repository) *Engine {
	return &Engine{repo: repo, now: time.Now, loc: time.UTC, defaultRate: models.DefaultDailyFeeRate}
}

func (e *Engine) WithClock(now func() time.Time) *Engine {
	if now != nil {
		e.now = now
	}
	return e
}

// WithLocation sets the zone in which "today" and last free days are cut at midnight.
func (e *Engine) WithLocation(loc *time.Location) *Engine {
	if loc != nil {
		e.loc = loc
	}
	return e
}

func (e *Engine) WithDefaultRate(rate float64) *Engine {
	if rate > 0 {
		e.defaultRate = rate
	}
	return e
}

// Run recomputes every container that has a last free day.
func (e *Engine) Run(ctx context.Context) (Summary, error) {
	var sum Summary
	list, err := e.repo.ListContainersWithLastFreeDay(ctx)
	if err != nil {
		return sum, errors.Wrap(err, "list containers with last free day")
	}
	today := e.now()
	for _, c := range list {
		if ctx.Err() != nil {
			return sum, ctx.Err()
		}
		sum.Checked++
		res, err := e.apply(ctx, c, today)
		if err != nil {
			sum.Failed++
			slog.Error("demurrage recompute failed", "container_id", c.ID, "error", err.Error())
			continue
		}
		if res == nil {
			continue
		}
		sum.Overdue++
		if res.Notified {
			sum.Notified++
		}
	}
	slog.Info("demurrage pass finished",
		"checked", sum.Checked, "overdue", sum.Overdue, "notified", sum.Notified, "failed", sum.Failed)
	return sum, nil
}

// CalculateForContainer is the single-container variant of Run. It returns nil
// when the container has no last free day or is not overdue yet.
func (e *Engine) CalculateForContainer(ctx context.Context, containerID uint64) (*Result, error) {
	c, err := e.repo.GetContainerByID(ctx, containerID)
	if err != nil {
		return nil, errors.Wrap(err, "load container")
	}
	if c == nil {
		return nil, errors.Wrapf(ErrContainerNotFound, "container %d", containerID)
	}
	return e.apply(ctx, c, e.now())
}

func (e *Engine) apply(ctx context.Context, c *models.Container, now time.Time) (*Result, error) {
	if c.LastFreeDay == nil {
		return nil, nil
	}
	days := models.DaysFromDate(*c.LastFreeDay, now, e.loc)
	if days <= 0 {
		return nil, nil
	}

	rate := c.FeeRate(e.defaultRate)
	res := &Result{
		ContainerID: c.ID,
		DaysOverdue: days,
		DailyRate:   rate,
		Fee:         float64(days) * rate,
		PreviousFee: c.DemurrageFee,
	}

	// Written every pass, changed or not.
	if err := e.repo.UpdateContainerDemurrageFee(ctx, c.ID, res.Fee); err != nil {
		return nil, errors.Wrap(err, "update demurrage fee")
	}

	if math.Abs(res.Fee-res.PreviousFee) > feeEpsilon && days%notifyEveryDays == 0 {
		res.Priority = PriorityFor(days)
		if err := e.repo.CreateNotification(ctx, e.notification(c, res)); err != nil {
			return nil, errors.Wrap(err, "create demurrage notification")
		}
		res.Notified = true
		metrics.DemurrageNotifications.WithLabelValues(res.Priority).Inc()
	}
	return res, nil
}

func PriorityFor(daysOverdue int) string {
	switch {
	case daysOverdue > 7:
		return models.PriorityUrgent
	case daysOverdue > 3:
		return models.PriorityHigh
	default:
		return models.PriorityNormal
	}
}

func (e *Engine) notification(c *models.Container, res *Result) models.Notification {
	return models.Notification{
		Type:     models.NotificationTypeDemurrage,
		Priority: res.Priority,
		Title:    fmt.Sprintf("Demurrage accruing on %s", c.ContainerNumber),
		Message: fmt.Sprintf("Container %s is %d days past its last free day. Accrued demurrage: %.2f (%.2f per day).",
			c.ContainerNumber, res.DaysOverdue, res.Fee, res.DailyRate),
		EntityType: models.EntityTypeContainer,
		EntityID:   c.ID,
		Metadata: map[string]any{
			"days_overdue":  res.DaysOverdue,
			"fee":           res.Fee,
			"previous_fee":  res.PreviousFee,
			"daily_rate":    res.DailyRate,
			"last_free_day": c.LastFreeDay.Format("2006-01-02"),
		},
	}
}
