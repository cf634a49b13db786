package main

import (
	"context"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/BearBump/FreightBox/config"
	freightapi "github.com/BearBump/FreightBox/internal/api/freight_api"
	"github.com/BearBump/FreightBox/internal/integrations/carrier/registry"
	"github.com/BearBump/FreightBox/internal/metrics"
	"github.com/BearBump/FreightBox/internal/services/containers"
	"github.com/BearBump/FreightBox/internal/services/demurrage"
	"github.com/BearBump/FreightBox/internal/services/ingest"
	"github.com/BearBump/FreightBox/internal/services/risk"
	"github.com/BearBump/FreightBox/internal/services/updates"
	"github.com/BearBump/FreightBox/internal/storage/memstore"
	"github.com/stretchr/testify/require"
)

func newTestAPI() *freightapi.FreightAPI {
	st := memstore.New()
	factory := registry.New()
	return freightapi.New(
		ingest.New(st, factory, updates.New(st, nil)),
		containers.New(st, factory, nil, 0),
		demurrage.New(st),
	)
}

func startAPI(t *testing.T, ctx context.Context, swaggerPath string) (string, chan error) {
	t.Helper()
	addrCh := make(chan string, 1)
	opts := freightAPIOpts{
		httpAddr:    "127.0.0.1:0",
		swaggerPath: swaggerPath,
		onListen:    func(httpAddr string) { addrCh <- httpAddr },
	}
	errCh := make(chan error, 1)
	go func() { errCh <- runFreightAPI(ctx, opts, newTestAPI()) }()

	select {
	case addr := <-addrCh:
		return "http://" + addr, errCh
	case err := <-errCh:
		t.Fatalf("server failed to start: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for listener")
	}
	return "", nil
}

func get(t *testing.T, url string) (int, string) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, string(body)
}

func TestRunFreightAPI_Routes(t *testing.T) {
	metrics.RegisterDefault()

	dir := t.TempDir()
	sw := filepath.Join(dir, "swagger.json")
	require.NoError(t, os.WriteFile(sw, []byte(`{"swagger":"2.0"}`), 0o600))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	base, errCh := startAPI(t, ctx, sw)

	code, body := get(t, base+"/swagger.json")
	require.Equal(t, http.StatusOK, code)
	require.Contains(t, body, `"swagger"`)

	code, body = get(t, base+"/healthz")
	require.Equal(t, http.StatusOK, code)
	require.JSONEq(t, `{"status":"ok"}`, body)

	code, body = get(t, base+"/metrics")
	require.Equal(t, http.StatusOK, code)
	require.Contains(t, body, "go_goroutines")

	resp, err := http.Post(base+"/integrations/42/webhook", "application/json", strings.NewReader(`[]`))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	cancel()
	select {
	case err := <-errCh:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting server to stop")
	}
}

func TestRunFreightAPI_NoSwagger(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	base, _ := startAPI(t, ctx, "")

	code, _ := get(t, base+"/swagger.json")
	require.Equal(t, http.StatusNotFound, code)
}

func TestRunFreightAPI_MissingSwaggerFile(t *testing.T) {
	err := runFreightAPI(context.Background(), freightAPIOpts{
		httpAddr:    "127.0.0.1:0",
		swaggerPath: filepath.Join(t.TempDir(), "absent.json"),
	}, newTestAPI())
	require.Error(t, err)
}

func TestNewRiskDispatcher(t *testing.T) {
	st := memstore.New()

	app := &freightAPIApp{}
	d := newRiskDispatcher(&config.Config{}, st, app)
	_, ok := d.(*risk.AsyncDispatcher)
	require.True(t, ok)
	require.Empty(t, app.closers)

	cfg := &config.Config{
		Kafka:   config.KafkaConfig{Host: "localhost", Port: 9092},
		Freight: config.FreightConfig{RiskDispatch: "kafka"},
	}
	d = newRiskDispatcher(cfg, st, app)
	_, ok = d.(*risk.BrokerDispatcher)
	require.True(t, ok)
	require.Len(t, app.closers, 1)
	app.Close()
}

func TestMustFeeLocation(t *testing.T) {
	require.Equal(t, time.UTC, mustFeeLocation(""))
	require.Equal(t, "UTC", mustFeeLocation("UTC").String())
	require.Panics(t, func() { mustFeeLocation("Not/AZone") })
}
