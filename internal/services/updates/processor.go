package updates

import (
	"context"
	"log/slog"

	"github.com/BearBump/FreightBox/internal/metrics"
	"github.com/BearBump/FreightBox/internal/models"
	"github.com/pkg/errors"
)

type Repository interface {
	GetCarrierUpdate(ctx context.Context, id uint64) (*models.CarrierUpdate, error)
	MarkCarrierUpdateProcessed(ctx context.Context, id uint64) (bool, error)
	GetContainerByNumber(ctx context.Context, number string) (*models.Container, error)
	UpdateContainerStatus(ctx context.Context, id uint64, status string) error
	CreateTimelineEvent(ctx context.Context, ev models.TimelineEvent) error
}

// RiskTrigger schedules a best-effort risk re-assessment. Dispatch must not block
// and has no error: the outcome is not part of an update's success.
type RiskTrigger interface {
	Dispatch(containerID uint64, reason string)
}

type Outcome string

const (
	// OutcomeSkipped: missing, already processed, lost the claim race or foreign integration.
	OutcomeSkipped Outcome = "skipped"
	// OutcomeDropped: no such container; the update is marked processed and ignored.
	OutcomeDropped Outcome = "dropped"
	OutcomeApplied Outcome = "applied"
)

type Processor struct {
	repo Repository
	risk RiskTrigger
}

func New(repo Repository, risk RiskTrigger) *Processor {
	return &Processor{repo: repo, risk: risk}
}

// Process applies one stored carrier update to its container at most once.
func (p *Processor) Process(ctx context.Context, updateID uint64) (Outcome, error) {
	return p.process(ctx, updateID, 0)
}

// ProcessForIntegration is Process restricted to updates owned by integrationID.
func (p *Processor) ProcessForIntegration(ctx context.Context, updateID, integrationID uint64) (Outcome, error) {
	return p.process(ctx, updateID, integrationID)
}

func (p *Processor) process(ctx context.Context, updateID, expectedIntegrationID uint64) (Outcome, error) {
	out, err := p.apply(ctx, updateID, expectedIntegrationID)
	if err != nil {
		metrics.UpdatesProcessed.WithLabelValues("error").Inc()
		return out, err
	}
	metrics.UpdatesProcessed.WithLabelValues(string(out)).Inc()
	return out, nil
}

func (p *Processor) apply(ctx context.Context, updateID, expectedIntegrationID uint64) (Outcome, error) {
	upd, err := p.repo.GetCarrierUpdate(ctx, updateID)
	if err != nil {
		return OutcomeSkipped, errors.Wrap(err, "load carrier update")
	}
	if upd == nil || upd.Processed {
		return OutcomeSkipped, nil
	}
	if expectedIntegrationID != 0 && upd.IntegrationID != expectedIntegrationID {
		slog.Warn("carrier update belongs to another integration",
			"update_id", upd.ID, "integration_id", upd.IntegrationID, "expected_integration_id", expectedIntegrationID)
		return OutcomeSkipped, nil
	}

	container, err := p.repo.GetContainerByNumber(ctx, upd.ContainerNumber)
	if err != nil {
		return OutcomeSkipped, errors.Wrap(err, "load container")
	}

	// The claim comes before any mutation: whichever path (poll or webhook)
	// flips processed first owns the update.
	claimed, err := p.repo.MarkCarrierUpdateProcessed(ctx, upd.ID)
	if err != nil {
		return OutcomeSkipped, errors.Wrap(err, "claim carrier update")
	}
	if !claimed {
		return OutcomeSkipped, nil
	}
	if container == nil {
		slog.Info("carrier update for unknown container dropped", "update_id", upd.ID, "container", upd.ContainerNumber)
		return OutcomeDropped, nil
	}

	status := upd.Status
	if status == "" {
		status = container.Status
	}
	if err := p.repo.UpdateContainerStatus(ctx, container.ID, status); err != nil {
		return OutcomeSkipped, errors.Wrap(err, "update container status")
	}

	if upd.Location != nil && *upd.Location != "" {
		title := upd.Status
		if title == "" {
			title = string(upd.UpdateType)
		}
		if err := p.repo.CreateTimelineEvent(ctx, models.TimelineEvent{
			ContainerID: container.ID,
			Title:       title,
			Location:    *upd.Location,
			Timestamp:   upd.Timestamp,
			Completed:   true,
			IsCurrent:   false,
		}); err != nil {
			return OutcomeSkipped, errors.Wrap(err, "create timeline event")
		}
	}

	if p.risk != nil {
		p.risk.Dispatch(container.ID, "carrier_update")
	}
	return OutcomeApplied, nil
}
