// Package ingest applies carrier webhook pushes synchronously within the request.
package ingest

import (
	"context"
	"log/slog"

	"github.com/BearBump/FreightBox/internal/integrations/carrier"
	"github.com/BearBump/FreightBox/internal/metrics"
	"github.com/BearBump/FreightBox/internal/models"
	"github.com/BearBump/FreightBox/internal/services/updates"
	"github.com/pkg/errors"
)

var (
	ErrIntegrationNotFound = errors.New("integration not found")
	ErrInvalidPayload      = errors.New("invalid webhook payload")
)

type Repository interface {
	GetIntegration(ctx context.Context, id uint64) (*models.IntegrationConfig, error)
	CreateCarrierUpdate(ctx context.Context, in models.CarrierUpdateInput) (*models.CarrierUpdate, error)
}

type AdapterFactory interface {
	Resolve(cfg *models.IntegrationConfig) (carrier.Adapter, error)
}

type UpdateProcessor interface {
	ProcessForIntegration(ctx context.Context, updateID, integrationID uint64) (updates.Outcome, error)
}

type Ingestor struct {
	repo      Repository
	factory   AdapterFactory
	processor UpdateProcessor
}

func New(repo Repository, factory AdapterFactory, processor UpdateProcessor) *Ingestor {
	return &Ingestor{repo: repo, factory: factory, processor: processor}
}

// ProcessWebhook persists and applies every update in payload, returning how
// many went through the processor. An empty signature skips validation.
// lastSyncAt is never touched here.
func (i *Ingestor) ProcessWebhook(ctx context.Context, integrationID uint64, payload []byte, signature string) (int, error) {
	n, err := i.process(ctx, integrationID, payload, signature)
	metrics.WebhookRequests.WithLabelValues(resultLabel(err)).Inc()
	return n, err
}

func (i *Ingestor) process(ctx context.Context, integrationID uint64, payload []byte, signature string) (int, error) {
	cfg, err := i.repo.GetIntegration(ctx, integrationID)
	if err != nil {
		return 0, errors.Wrap(err, "load integration")
	}
	if cfg == nil {
		return 0, errors.Wrapf(ErrIntegrationNotFound, "integration %d", integrationID)
	}

	adapter, err := i.factory.Resolve(cfg)
	if err != nil {
		return 0, err
	}

	if signature != "" && !adapter.ValidateWebhook(payload, signature) {
		slog.Warn("webhook signature rejected", "integration_id", cfg.ID, "carrier", cfg.CarrierCode)
		return 0, carrier.ErrSignatureInvalid
	}

	batch, err := adapter.ParseWebhook(payload)
	if err != nil {
		return 0, errors.Wrapf(ErrInvalidPayload, "%v", err)
	}

	processed := 0
	for _, u := range batch {
		row, err := i.repo.CreateCarrierUpdate(ctx, adapter.BuildCarrierUpdate(cfg.ID, u))
		if err != nil {
			return processed, errors.Wrap(err, "persist carrier update")
		}
		if _, err := i.processor.ProcessForIntegration(ctx, row.ID, cfg.ID); err != nil {
			return processed, errors.Wrapf(err, "process carrier update %d", row.ID)
		}
		processed++
	}

	slog.Info("webhook ingested", "integration_id", cfg.ID, "carrier", cfg.CarrierCode, "processed", processed)
	return processed, nil
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrIntegrationNotFound):
		return "not_found"
	case errors.Is(err, carrier.ErrUnsupportedCarrier):
		return "unsupported_carrier"
	case errors.Is(err, carrier.ErrSignatureInvalid):
		return "bad_signature"
	case errors.Is(err, ErrInvalidPayload):
		return "bad_payload"
	default:
		return "error"
	}
}
