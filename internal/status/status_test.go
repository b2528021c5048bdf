package status

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/ever-tezos/faucet-relayer/internal"
	"github.com/ever-tezos/faucet-relayer/internal/metrics"
)

type staticState struct {
	state internal.RelayState
}

func (s staticState) Snapshot() internal.RelayState { return s.state }

func newTestServer(t *testing.T, state internal.RelayState) *httptest.Server {
	reg := prometheus.NewRegistry()
	m := metrics.NewMetrics(reg)
	m.Watermark.Set(float64(state.LastProcessedClaimID))

	server := httptest.NewServer(NewServer(zap.NewNop(), "", staticState{state}, reg).Handler())
	t.Cleanup(server.Close)
	return server
}

func TestHealthReflectsSubscription(t *testing.T) {
	server := newTestServer(t, internal.RelayState{SubscriptionState: internal.StateSubscribed.String()})
	resp, err := http.Get(server.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	server = newTestServer(t, internal.RelayState{SubscriptionState: internal.StateUnsubscribed.String()})
	resp, err = http.Get(server.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestStateEndpoint(t *testing.T) {
	want := internal.RelayState{
		LastProcessedClaimID: 12,
		SubscriptionID:       "sub-1",
		SubscriptionState:    "subscribed",
		TickCounter:          3,
		QueueDepth:           1,
	}
	server := newTestServer(t, want)

	resp, err := http.Get(server.URL + "/state")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var got internal.RelayState
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.Equal(t, want, got)
}

func TestMetricsEndpoint(t *testing.T) {
	server := newTestServer(t, internal.RelayState{LastProcessedClaimID: 12})

	resp, err := http.Get(server.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "faucet_relayer_watermark 12")
}

func TestHealthServerStatus(t *testing.T) {
	h := NewHealthServer(zap.NewNop(), "127.0.0.1:0")
	ctx := context.Background()

	resp, err := h.health.Check(ctx, &healthpb.HealthCheckRequest{})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, resp.Status)

	h.SetServing(true)
	resp, err = h.health.Check(ctx, &healthpb.HealthCheckRequest{})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.Status)
}

func TestHealthServerStartStops(t *testing.T) {
	h := NewHealthServer(zap.NewNop(), "127.0.0.1:0")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.NoError(t, h.Start(ctx))
}
