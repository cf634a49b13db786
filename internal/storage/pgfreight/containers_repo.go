package pgfreight

import (
	"context"
	"strings"

	"github.com/BearBump/FreightBox/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

const containerColumns = `
  id, container_number, status, last_free_day, daily_fee_rate::float8, demurrage_fee::float8,
  risk_score, risk_level, created_at, updated_at`

func scanContainer(row pgx.Row) (*models.Container, error) {
	var c models.Container
	if err := row.Scan(
		&c.ID, &c.ContainerNumber, &c.Status, &c.LastFreeDay, &c.DailyFeeRate, &c.DemurrageFee,
		&c.RiskScore, &c.RiskLevel, &c.CreatedAt, &c.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *Storage) UpsertContainer(ctx context.Context, c models.Container) (*models.Container, error) {
	row := s.db.QueryRow(ctx, `
INSERT INTO containers (container_number, status, last_free_day, daily_fee_rate, created_at, updated_at)
VALUES ($1,$2,$3,$4, now(), now())
ON CONFLICT (container_number)
DO UPDATE SET last_free_day = EXCLUDED.last_free_day, daily_fee_rate = EXCLUDED.daily_fee_rate, updated_at = now()
RETURNING`+containerColumns,
		strings.ToUpper(c.ContainerNumber), c.Status, c.LastFreeDay, c.DailyFeeRate)
	out, err := scanContainer(row)
	if err != nil {
		return nil, errors.Wrap(err, "upsert container")
	}
	return out, nil
}

func (s *Storage) GetContainerByNumber(ctx context.Context, number string) (*models.Container, error) {
	return s.getContainer(ctx, `SELECT`+containerColumns+` FROM containers WHERE container_number = $1`, strings.ToUpper(number))
}

func (s *Storage) GetContainerByID(ctx context.Context, id uint64) (*models.Container, error) {
	return s.getContainer(ctx, `SELECT`+containerColumns+` FROM containers WHERE id = $1`, id)
}

func (s *Storage) getContainer(ctx context.Context, q string, arg any) (*models.Container, error) {
	c, err := scanContainer(s.db.QueryRow(ctx, q, arg))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "select container")
	}
	return c, nil
}

func (s *Storage) ListContainers(ctx context.Context) ([]*models.Container, error) {
	return s.listContainers(ctx, `SELECT`+containerColumns+` FROM containers ORDER BY id`)
}

func (s *Storage) ListContainersWithLastFreeDay(ctx context.Context) ([]*models.Container, error) {
	return s.listContainers(ctx, `SELECT`+containerColumns+` FROM containers WHERE last_free_day IS NOT NULL ORDER BY id`)
}

func (s *Storage) listContainers(ctx context.Context, q string) ([]*models.Container, error) {
	rows, err := s.db.Query(ctx, q)
	if err != nil {
		return nil, errors.Wrap(err, "select containers")
	}
	defer rows.Close()

	var out []*models.Container
	for rows.Next() {
		c, err := scanContainer(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan container")
		}
		out = append(out, c)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}

func (s *Storage) UpdateContainerStatus(ctx context.Context, id uint64, status string) error {
	_, err := s.db.Exec(ctx, `UPDATE containers SET status = $2, updated_at = now() WHERE id = $1`, id, status)
	return errors.Wrap(err, "update container status")
}

func (s *Storage) UpdateContainerDemurrageFee(ctx context.Context, id uint64, fee float64) error {
	_, err := s.db.Exec(ctx, `UPDATE containers SET demurrage_fee = $2, updated_at = now() WHERE id = $1`, id, fee)
	return errors.Wrap(err, "update container demurrage fee")
}

func (s *Storage) UpdateContainerRisk(ctx context.Context, id uint64, score int, level string) error {
	_, err := s.db.Exec(ctx, `UPDATE containers SET risk_score = $2, risk_level = $3, updated_at = now() WHERE id = $1`, id, score, level)
	return errors.Wrap(err, "update container risk")
}

func (s *Storage) CreateTimelineEvent(ctx context.Context, ev models.TimelineEvent) error {
	_, err := s.db.Exec(ctx, `
INSERT INTO timeline_events (container_id, title, location, event_time, completed, is_current, created_at)
VALUES ($1,$2,$3,$4,$5,$6, now())
`, ev.ContainerID, ev.Title, ev.Location, ev.Timestamp.UTC(), ev.Completed, ev.IsCurrent)
	return errors.Wrap(err, "insert timeline event")
}

func (s *Storage) CreateNotification(ctx context.Context, n models.Notification) error {
	_, err := s.db.Exec(ctx, `
INSERT INTO notifications (type, priority, title, message, entity_type, entity_id, metadata, is_read, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8, now())
`, n.Type, n.Priority, n.Title, n.Message, n.EntityType, n.EntityID, n.Metadata, n.Read)
	return errors.Wrap(err, "insert notification")
}
