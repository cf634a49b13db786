package containers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/BearBump/FreightBox/internal/cache/rediscache"
	"github.com/BearBump/FreightBox/internal/integrations/carrier/registry"
	"github.com/BearBump/FreightBox/internal/models"
	"github.com/BearBump/FreightBox/internal/storage/memstore"
	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"
)

func TestLookup_MSCWithRedis(t *testing.T) {
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		if r.URL.Path != "/tracking/MSCU7654321" || r.Header.Get("Authorization") != "Bearer secret" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":{"container_no":"MSCU7654321","status":"Loaded on Vessel","port":"Valencia","event_time":"2025-03-03 08:00:00","vessel":"MSC OSCAR"}}`))
	}))
	defer srv.Close()

	st := memstore.New()
	cfg, err := st.CreateIntegration(context.Background(), models.IntegrationConfig{
		CarrierCode: "MSC", APIEndpoint: srv.URL, APIKeyEnv: "MSC_TOKEN", IsActive: true,
	})
	require.NoError(t, err)

	mr := miniredis.RunT(t)
	factory := registry.New().WithGetenv(func(string) string { return "secret" })
	svc := New(st, factory, rediscache.New(mr.Addr()), time.Minute)

	first, err := svc.Lookup(context.Background(), cfg.ID, "MSCU7654321")
	require.NoError(t, err)
	require.False(t, first.Cached)
	require.Equal(t, models.UpdateTypeDeparture, first.UpdateType)
	require.NotNil(t, first.Vessel)
	require.Equal(t, "MSC OSCAR", *first.Vessel)

	second, err := svc.Lookup(context.Background(), cfg.ID, "MSCU7654321")
	require.NoError(t, err)
	require.True(t, second.Cached)
	require.Equal(t, 1, hits)

	mr.FastForward(2 * time.Minute)
	_, err = svc.Lookup(context.Background(), cfg.ID, "MSCU7654321")
	require.NoError(t, err)
	require.Equal(t, 2, hits)
}
