package memstore

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/BearBump/FreightBox/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_MarkCarrierUpdateProcessed_OnlyOnceUnderRace(t *testing.T) {
	ctx := context.Background()
	s := New()
	u, err := s.CreateCarrierUpdate(ctx, models.CarrierUpdateInput{IntegrationID: 1, ContainerNumber: "A"})
	require.NoError(t, err)

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := s.MarkCarrierUpdateProcessed(ctx, u.ID)
			assert.NoError(t, err)
			if ok {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	require.Equal(t, int32(1), wins.Load())

	got, err := s.GetCarrierUpdate(ctx, u.ID)
	require.NoError(t, err)
	require.True(t, got.Processed)
}

func TestStore_Integrations(t *testing.T) {
	ctx := context.Background()
	s := New()
	a, _ := s.CreateIntegration(ctx, models.IntegrationConfig{CarrierCode: "MSC", IsActive: true})
	_, _ = s.CreateIntegration(ctx, models.IntegrationConfig{CarrierCode: "MAERSK"})

	active, err := s.ListActiveIntegrations(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	require.Equal(t, a.ID, active[0].ID)

	at := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, s.UpdateIntegrationLastSync(ctx, a.ID, at))
	got, _ := s.GetIntegration(ctx, a.ID)
	require.Equal(t, at, *got.LastSyncAt)

	missing, err := s.GetIntegration(ctx, 999)
	require.NoError(t, err)
	require.Nil(t, missing)
	require.Error(t, s.UpdateIntegrationLastSync(ctx, 999, at))
}

func TestStore_Containers(t *testing.T) {
	ctx := context.Background()
	s := New()
	lfd := time.Now().UTC()
	c, _ := s.UpsertContainer(ctx, models.Container{ContainerNumber: "mscu1", Status: "new", LastFreeDay: &lfd})
	_, _ = s.UpsertContainer(ctx, models.Container{ContainerNumber: "mscu2"})

	byNum, err := s.GetContainerByNumber(ctx, "MSCU1")
	require.NoError(t, err)
	require.Equal(t, c.ID, byNum.ID)

	withLFD, _ := s.ListContainersWithLastFreeDay(ctx)
	require.Len(t, withLFD, 1)
	all, _ := s.ListContainers(ctx)
	require.Len(t, all, 2)

	require.NoError(t, s.UpdateContainerStatus(ctx, c.ID, "Gate In"))
	require.NoError(t, s.UpdateContainerDemurrageFee(ctx, c.ID, 300))
	require.NoError(t, s.UpdateContainerRisk(ctx, c.ID, 40, "medium"))
	got, _ := s.GetContainerByID(ctx, c.ID)
	require.Equal(t, "Gate In", got.Status)
	require.Equal(t, 300.0, got.DemurrageFee)
	require.Equal(t, "medium", got.RiskLevel)

	require.Error(t, s.UpdateContainerStatus(ctx, 12345, "x"))
}
