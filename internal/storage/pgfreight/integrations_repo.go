package pgfreight

import (
	"context"
	"time"

	"github.com/BearBump/FreightBox/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

const integrationColumns = `
  id, name, carrier_code, api_endpoint, api_key_env, webhook_secret_env,
  polling_interval_minutes, is_active, last_sync_at, created_at, updated_at`

func scanIntegration(row pgx.Row) (*models.IntegrationConfig, error) {
	var c models.IntegrationConfig
	if err := row.Scan(
		&c.ID, &c.Name, &c.CarrierCode, &c.APIEndpoint, &c.APIKeyEnv, &c.WebhookSecretEnv,
		&c.PollingIntervalMinutes, &c.IsActive, &c.LastSyncAt, &c.CreatedAt, &c.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *Storage) CreateIntegration(ctx context.Context, cfg models.IntegrationConfig) (*models.IntegrationConfig, error) {
	row := s.db.QueryRow(ctx, `
INSERT INTO integration_configs (
  name, carrier_code, api_endpoint, api_key_env, webhook_secret_env, polling_interval_minutes, is_active
)
VALUES ($1,$2,$3,$4,$5,$6,$7)
RETURNING`+integrationColumns,
		cfg.Name, cfg.CarrierCode, cfg.APIEndpoint, cfg.APIKeyEnv, cfg.WebhookSecretEnv, cfg.PollingIntervalMinutes, cfg.IsActive)
	c, err := scanIntegration(row)
	if err != nil {
		return nil, errors.Wrap(err, "insert integration")
	}
	return c, nil
}

func (s *Storage) ListActiveIntegrations(ctx context.Context) ([]*models.IntegrationConfig, error) {
	rows, err := s.db.Query(ctx, `SELECT`+integrationColumns+` FROM integration_configs WHERE is_active ORDER BY id`)
	if err != nil {
		return nil, errors.Wrap(err, "select active integrations")
	}
	defer rows.Close()

	var out []*models.IntegrationConfig
	for rows.Next() {
		c, err := scanIntegration(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan integration")
		}
		out = append(out, c)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}

// GetIntegration returns nil without error when the row does not exist.
func (s *Storage) GetIntegration(ctx context.Context, id uint64) (*models.IntegrationConfig, error) {
	c, err := scanIntegration(s.db.QueryRow(ctx, `SELECT`+integrationColumns+` FROM integration_configs WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "select integration")
	}
	return c, nil
}

func (s *Storage) UpdateIntegrationLastSync(ctx context.Context, id uint64, at time.Time) error {
	_, err := s.db.Exec(ctx, `UPDATE integration_configs SET last_sync_at = $2, updated_at = now() WHERE id = $1`, id, at.UTC())
	return errors.Wrap(err, "update integration last sync")
}

func (s *Storage) CreateSyncLog(ctx context.Context, l models.IntegrationSyncLog) error {
	_, err := s.db.Exec(ctx, `
INSERT INTO integration_sync_logs (
  integration_id, status, records_processed, records_updated, records_failed, duration_ms, error_message, metadata
)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
`, l.IntegrationID, l.Status, l.RecordsProcessed, l.RecordsUpdated, l.RecordsFailed, l.DurationMs, l.ErrorMessage, l.Metadata)
	return errors.Wrap(err, "insert sync log")
}
