// Package containers serves live container lookups straight from a carrier API.
package containers

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/BearBump/FreightBox/internal/cache/rediscache"
	"github.com/BearBump/FreightBox/internal/integrations/carrier"
	"github.com/BearBump/FreightBox/internal/models"
	"github.com/pkg/errors"
)

var (
	ErrIntegrationNotFound = errors.New("integration not found")
	ErrContainerNotFound   = errors.New("container not found at carrier")
)

type Repository interface {
	GetIntegration(ctx context.Context, id uint64) (*models.IntegrationConfig, error)
}

type AdapterFactory interface {
	Resolve(cfg *models.IntegrationConfig) (carrier.Adapter, error)
}

type BytesCache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

type LiveStatus struct {
	IntegrationID   uint64            `json:"integrationId"`
	Carrier         string            `json:"carrier"`
	ContainerNumber string            `json:"containerNumber"`
	Status          string            `json:"status"`
	UpdateType      models.UpdateType `json:"updateType"`
	Location        *string           `json:"location,omitempty"`
	Timestamp       time.Time         `json:"timestamp"`
	Vessel          *string           `json:"vessel,omitempty"`
	ETA             *time.Time        `json:"eta,omitempty"`
	FetchedAt       time.Time         `json:"fetchedAt"`
	Cached          bool              `json:"cached"`
}

type Service struct {
	repo    Repository
	factory AdapterFactory
	cache   BytesCache
	ttl     time.Duration
}

// New builds the lookup service. A nil cache or zero ttl disables caching.
func New(repo Repository, factory AdapterFactory, c BytesCache, ttl time.Duration) *Service {
	return &Service{repo: repo, factory: factory, cache: c, ttl: ttl}
}

func (s *Service) cacheEnabled() bool {
	return s.cache != nil && s.ttl > 0
}

// Lookup asks the integration's carrier for the container's latest state.
// Nothing is persisted.
func (s *Service) Lookup(ctx context.Context, integrationID uint64, containerNumber string) (*LiveStatus, error) {
	number := strings.ToUpper(strings.TrimSpace(containerNumber))
	if number == "" {
		return nil, errors.New("container number is required")
	}

	cfg, err := s.repo.GetIntegration(ctx, integrationID)
	if err != nil {
		return nil, errors.Wrap(err, "load integration")
	}
	if cfg == nil {
		return nil, errors.Wrapf(ErrIntegrationNotFound, "integration %d", integrationID)
	}

	key := rediscache.ContainerLookupKey(cfg.ID, number)
	if s.cacheEnabled() {
		// Best effort: a cache failure falls through to the carrier.
		if b, ok, err := s.cache.Get(ctx, key); err == nil && ok {
			var st LiveStatus
			if json.Unmarshal(b, &st) == nil {
				st.Cached = true
				return &st, nil
			}
		} else if err != nil {
			slog.Warn("lookup cache get", "key", key, "error", err.Error())
		}
	}

	adapter, err := s.factory.Resolve(cfg)
	if err != nil {
		return nil, err
	}
	u := adapter.FetchContainerData(ctx, number)
	if u == nil {
		return nil, errors.Wrapf(ErrContainerNotFound, "%s via %s", number, cfg.CarrierCode)
	}

	in := adapter.BuildCarrierUpdate(cfg.ID, *u)
	st := &LiveStatus{
		IntegrationID:   cfg.ID,
		Carrier:         in.Carrier,
		ContainerNumber: in.ContainerNumber,
		Status:          in.Status,
		UpdateType:      in.UpdateType,
		Location:        in.Location,
		Timestamp:       in.Timestamp,
		Vessel:          u.Vessel,
		ETA:             u.ETA,
		FetchedAt:       time.Now().UTC(),
	}

	if s.cacheEnabled() {
		if b, err := json.Marshal(st); err == nil {
			if err := s.cache.Set(ctx, key, b, s.ttl); err != nil {
				slog.Warn("lookup cache set", "key", key, "error", err.Error())
			}
		}
	}
	return st, nil
}
