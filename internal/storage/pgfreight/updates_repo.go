package pgfreight

import (
	"context"
	"encoding/json"

	"github.com/BearBump/FreightBox/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

func (s *Storage) CreateCarrierUpdate(ctx context.Context, in models.CarrierUpdateInput) (*models.CarrierUpdate, error) {
	var payload any
	if in.RawPayload != nil && *in.RawPayload != "" {
		var m any
		if json.Unmarshal([]byte(*in.RawPayload), &m) == nil {
			payload = m
		}
	}

	u := models.CarrierUpdate{
		IntegrationID:   in.IntegrationID,
		ContainerNumber: in.ContainerNumber,
		Carrier:         in.Carrier,
		UpdateType:      in.UpdateType,
		Status:          in.Status,
		Location:        in.Location,
		Timestamp:       in.Timestamp.UTC(),
		RawPayload:      in.RawPayload,
	}
	err := s.db.QueryRow(ctx, `
INSERT INTO carrier_updates (
  integration_id, container_number, carrier, update_type, status, location, event_time, raw_payload, created_at
)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8, now())
RETURNING id, created_at
`, in.IntegrationID, in.ContainerNumber, in.Carrier, string(in.UpdateType), in.Status, in.Location, u.Timestamp, payload).
		Scan(&u.ID, &u.CreatedAt)
	if err != nil {
		return nil, errors.Wrap(err, "insert carrier update")
	}
	return &u, nil
}

func (s *Storage) GetCarrierUpdate(ctx context.Context, id uint64) (*models.CarrierUpdate, error) {
	var u models.CarrierUpdate
	var updateType string
	var payload any
	err := s.db.QueryRow(ctx, `
SELECT
  id, integration_id, container_number, carrier, update_type,
  status, location, event_time, raw_payload, processed, created_at
FROM carrier_updates
WHERE id = $1
`, id).Scan(
		&u.ID, &u.IntegrationID, &u.ContainerNumber, &u.Carrier, &updateType,
		&u.Status, &u.Location, &u.Timestamp, &payload, &u.Processed, &u.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "select carrier update")
	}
	u.UpdateType = models.UpdateType(updateType)
	if payload != nil {
		b, _ := json.Marshal(payload)
		s := string(b)
		u.RawPayload = &s
	}
	return &u, nil
}

// MarkCarrierUpdateProcessed flips processed with a single conditional UPDATE.
// Only the caller whose statement changed the row gets true.
func (s *Storage) MarkCarrierUpdateProcessed(ctx context.Context, id uint64) (bool, error) {
	tag, err := s.db.Exec(ctx, `UPDATE carrier_updates SET processed = TRUE WHERE id = $1 AND NOT processed`, id)
	if err != nil {
		return false, errors.Wrap(err, "mark carrier update processed")
	}
	return tag.RowsAffected() == 1, nil
}
