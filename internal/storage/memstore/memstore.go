// Package memstore is an in-memory persistence layer, used with storage: memory and in tests.
package memstore

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/BearBump/FreightBox/internal/models"
	"github.com/pkg/errors"
)

type Store struct {
	mu sync.Mutex

	seq uint64

	integrations  map[uint64]*models.IntegrationConfig
	updates       map[uint64]*models.CarrierUpdate
	containers    map[uint64]*models.Container
	byNumber      map[string]uint64
	timeline      []models.TimelineEvent
	syncLogs      []models.IntegrationSyncLog
	notifications []models.Notification
}

func New() *Store {
	return &Store{
		integrations: map[uint64]*models.IntegrationConfig{},
		updates:      map[uint64]*models.CarrierUpdate{},
		containers:   map[uint64]*models.Container{},
		byNumber:     map[string]uint64{},
	}
}

func (s *Store) nextID() uint64 {
	s.seq++
	return s.seq
}

func (s *Store) CreateIntegration(ctx context.Context, cfg models.IntegrationConfig) (*models.IntegrationConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	if cfg.ID == 0 {
		cfg.ID = s.nextID()
	}
	cfg.CreatedAt, cfg.UpdatedAt = now, now
	c := cfg
	s.integrations[c.ID] = &c
	out := c
	return &out, nil
}

// SetIntegrationActive toggles an integration (edited externally in production).
func (s *Store) SetIntegrationActive(ctx context.Context, id uint64, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.integrations[id]
	if !ok {
		return errors.Errorf("integration %d not found", id)
	}
	c.IsActive = active
	return nil
}

func (s *Store) ListActiveIntegrations(ctx context.Context) ([]*models.IntegrationConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*models.IntegrationConfig, 0, len(s.integrations))
	for _, c := range s.integrations {
		if c.IsActive {
			cp := *c
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) GetIntegration(ctx context.Context, id uint64) (*models.IntegrationConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.integrations[id]
	if !ok {
		return nil, nil
	}
	cp := *c
	return &cp, nil
}

func (s *Store) UpdateIntegrationLastSync(ctx context.Context, id uint64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.integrations[id]
	if !ok {
		return errors.Errorf("integration %d not found", id)
	}
	t := at.UTC()
	c.LastSyncAt = &t
	c.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *Store) CreateCarrierUpdate(ctx context.Context, in models.CarrierUpdateInput) (*models.CarrierUpdate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := &models.CarrierUpdate{
		ID:              s.nextID(),
		IntegrationID:   in.IntegrationID,
		ContainerNumber: in.ContainerNumber,
		Carrier:         in.Carrier,
		UpdateType:      in.UpdateType,
		Status:          in.Status,
		Location:        in.Location,
		Timestamp:       in.Timestamp,
		RawPayload:      in.RawPayload,
		CreatedAt:       time.Now().UTC(),
	}
	s.updates[u.ID] = u
	cp := *u
	return &cp, nil
}

func (s *Store) GetCarrierUpdate(ctx context.Context, id uint64) (*models.CarrierUpdate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.updates[id]
	if !ok {
		return nil, nil
	}
	cp := *u
	return &cp, nil
}

// MarkCarrierUpdateProcessed is the atomic check-and-set on processed.
// It reports true only for the caller that flipped the flag.
func (s *Store) MarkCarrierUpdateProcessed(ctx context.Context, id uint64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.updates[id]
	if !ok || u.Processed {
		return false, nil
	}
	u.Processed = true
	return true, nil
}

func (s *Store) CountCarrierUpdates(ctx context.Context) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.updates)
}

func (s *Store) UpsertContainer(ctx context.Context, c models.Container) (*models.Container, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c.ContainerNumber = strings.ToUpper(c.ContainerNumber)
	now := time.Now().UTC()
	if id, ok := s.byNumber[c.ContainerNumber]; ok {
		c.ID = id
		c.CreatedAt = s.containers[id].CreatedAt
	} else {
		c.ID = s.nextID()
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	cp := c
	s.containers[c.ID] = &cp
	s.byNumber[c.ContainerNumber] = c.ID
	out := c
	return &out, nil
}

func (s *Store) GetContainerByNumber(ctx context.Context, number string) (*models.Container, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byNumber[strings.ToUpper(number)]
	if !ok {
		return nil, nil
	}
	cp := *s.containers[id]
	return &cp, nil
}

func (s *Store) GetContainerByID(ctx context.Context, id uint64) (*models.Container, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.containers[id]
	if !ok {
		return nil, nil
	}
	cp := *c
	return &cp, nil
}

func (s *Store) ListContainers(ctx context.Context) ([]*models.Container, error) {
	return s.listContainers(func(*models.Container) bool { return true }), nil
}

func (s *Store) ListContainersWithLastFreeDay(ctx context.Context) ([]*models.Container, error) {
	return s.listContainers(func(c *models.Container) bool { return c.LastFreeDay != nil }), nil
}

func (s *Store) listContainers(keep func(*models.Container) bool) []*models.Container {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*models.Container, 0, len(s.containers))
	for _, c := range s.containers {
		if keep(c) {
			cp := *c
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *Store) UpdateContainerStatus(ctx context.Context, id uint64, status string) error {
	return s.mutateContainer(id, func(c *models.Container) { c.Status = status })
}

func (s *Store) UpdateContainerDemurrageFee(ctx context.Context, id uint64, fee float64) error {
	return s.mutateContainer(id, func(c *models.Container) { c.DemurrageFee = fee })
}

func (s *Store) UpdateContainerRisk(ctx context.Context, id uint64, score int, level string) error {
	return s.mutateContainer(id, func(c *models.Container) {
		c.RiskScore = score
		c.RiskLevel = level
	})
}

func (s *Store) mutateContainer(id uint64, fn func(c *models.Container)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.containers[id]
	if !ok {
		return errors.Errorf("container %d not found", id)
	}
	fn(c)
	c.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *Store) CreateTimelineEvent(ctx context.Context, ev models.TimelineEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ev.ID = s.nextID()
	ev.CreatedAt = time.Now().UTC()
	s.timeline = append(s.timeline, ev)
	return nil
}

func (s *Store) TimelineEvents(containerID uint64) []models.TimelineEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.TimelineEvent
	for _, ev := range s.timeline {
		if ev.ContainerID == containerID {
			out = append(out, ev)
		}
	}
	return out
}

func (s *Store) CreateSyncLog(ctx context.Context, l models.IntegrationSyncLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	l.ID = s.nextID()
	l.CreatedAt = time.Now().UTC()
	s.syncLogs = append(s.syncLogs, l)
	return nil
}

func (s *Store) SyncLogs(integrationID uint64) []models.IntegrationSyncLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.IntegrationSyncLog
	for _, l := range s.syncLogs {
		if l.IntegrationID == integrationID {
			out = append(out, l)
		}
	}
	return out
}

func (s *Store) CreateNotification(ctx context.Context, n models.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n.ID = s.nextID()
	n.CreatedAt = time.Now().UTC()
	s.notifications = append(s.notifications, n)
	return nil
}

func (s *Store) Notifications() []models.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.Notification(nil), s.notifications...)
}
