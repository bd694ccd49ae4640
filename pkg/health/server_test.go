package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/speedrun-hq/speedrun-solver/pkg/circuitbreaker"
	"github.com/speedrun-hq/speedrun-solver/pkg/engine"
	"github.com/speedrun-hq/speedrun-solver/pkg/handlers"
	"github.com/speedrun-hq/speedrun-solver/pkg/mocks"
	"github.com/speedrun-hq/speedrun-solver/pkg/models"
	"github.com/speedrun-hq/speedrun-solver/pkg/statemachine"
)

type fakeEngine struct {
	ready       bool
	orders      map[string]*models.Order
	reevaluated []string
}

func (f *fakeEngine) Ready() bool { return f.ready }

func (f *fakeEngine) Status(context.Context) (*engine.Status, error) {
	return &engine.Status{
		Ready:          f.ready,
		Orders:         map[models.OrderStatus]int{models.StatusPending: len(f.orders)},
		ActiveMonitors: 2,
	}, nil
}

func (f *fakeEngine) Order(_ context.Context, id string) (*models.Order, error) {
	o, ok := f.orders[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", statemachine.ErrOrderNotFound, id)
	}
	return o, nil
}

func (f *fakeEngine) Reevaluate(_ context.Context, id string) error {
	o, ok := f.orders[id]
	if !ok {
		return fmt.Errorf("%w: %s", statemachine.ErrOrderNotFound, id)
	}
	if o.Status != models.StatusPending {
		return fmt.Errorf("%w: %s is %s", handlers.ErrNotPending, id, o.Status)
	}
	f.reevaluated = append(f.reevaluated, id)
	return nil
}

func newTestServer(apiKey string) (*Server, *fakeEngine, *circuitbreaker.CircuitBreaker) {
	eng := &fakeEngine{
		ready: true,
		orders: map[string]*models.Order{
			"o-1": {ID: "o-1", Status: models.StatusPending},
			"o-2": {ID: "o-2", Status: models.StatusExecuting},
		},
	}
	cb := circuitbreaker.NewCircuitBreaker(8453, true, 1, time.Minute, time.Minute, nil)
	srv := NewServer("0", apiKey, eng,
		map[uint64]Chain{8453: {Name: "BASE"}},
		mocks.NewDelivery(8453),
		map[uint64]*circuitbreaker.CircuitBreaker{8453: cb},
		nil,
	)
	return srv, eng, cb
}

func do(srv *Server, method, path string, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealthAndReady(t *testing.T) {
	srv, eng, _ := newTestServer("")

	assert.Equal(t, http.StatusOK, do(srv, http.MethodGet, "/health", nil).Code)
	assert.Equal(t, http.StatusOK, do(srv, http.MethodGet, "/ready", nil).Code)

	eng.ready = false
	assert.Equal(t, http.StatusServiceUnavailable, do(srv, http.MethodGet, "/ready", nil).Code)
}

func TestStatus(t *testing.T) {
	srv, _, cb := newTestServer("")
	cb.RecordFailure()

	rec := do(srv, http.MethodGet, "/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Engine          engine.Status                     `json:"engine"`
		CircuitBreakers []circuitbreaker.State            `json:"circuit_breakers"`
		Chains          map[string]map[string]interface{} `json:"chains"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 2, body.Engine.ActiveMonitors)
	require.Len(t, body.CircuitBreakers, 1)
	assert.True(t, body.CircuitBreakers[0].Open)
	assert.Equal(t, "open", body.Chains["chain_8453"]["circuit"])
	assert.EqualValues(t, 1000, body.Chains["chain_8453"]["latest_block"])
}

func TestCircuitReset(t *testing.T) {
	srv, _, cb := newTestServer("")
	cb.RecordFailure()
	require.True(t, cb.IsOpen())

	tests := []struct {
		name   string
		method string
		path   string
		code   int
	}{
		{name: "wrong method", method: http.MethodGet, path: "/circuit/reset?chain=8453", code: http.StatusNotFound},
		{name: "missing chain", method: http.MethodPost, path: "/circuit/reset", code: http.StatusBadRequest},
		{name: "invalid chain", method: http.MethodPost, path: "/circuit/reset?chain=base", code: http.StatusBadRequest},
		{name: "unknown chain", method: http.MethodPost, path: "/circuit/reset?chain=1", code: http.StatusNotFound},
		{name: "reset", method: http.MethodPost, path: "/circuit/reset?chain=8453", code: http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.code, do(srv, tt.method, tt.path, nil).Code)
		})
	}
	assert.False(t, cb.IsOpen())
}

func TestOrders(t *testing.T) {
	srv, eng, _ := newTestServer("")

	rec := do(srv, http.MethodGet, "/orders/o-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var order models.Order
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &order))
	assert.Equal(t, "o-1", order.ID)

	assert.Equal(t, http.StatusNotFound, do(srv, http.MethodGet, "/orders/missing", nil).Code)

	assert.Equal(t, http.StatusAccepted, do(srv, http.MethodPost, "/orders/o-1/reevaluate", nil).Code)
	assert.Equal(t, http.StatusConflict, do(srv, http.MethodPost, "/orders/o-2/reevaluate", nil).Code)
	assert.Equal(t, http.StatusNotFound, do(srv, http.MethodPost, "/orders/missing/reevaluate", nil).Code)
	assert.Equal(t, []string{"o-1"}, eng.reevaluated)
}

func TestMetricsAuth(t *testing.T) {
	srv, _, _ := newTestServer("secret")

	tests := []struct {
		name   string
		header string
		code   int
	}{
		{name: "missing header", code: http.StatusUnauthorized},
		{name: "wrong scheme", header: "Basic secret", code: http.StatusUnauthorized},
		{name: "wrong key", header: "Bearer nope", code: http.StatusUnauthorized},
		{name: "valid key", header: "Bearer secret", code: http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			header := http.Header{}
			if tt.header != "" {
				header.Set("Authorization", tt.header)
			}
			assert.Equal(t, tt.code, do(srv, http.MethodGet, "/metrics", header).Code)
		})
	}

	open, _, _ := newTestServer("")
	assert.Equal(t, http.StatusOK, do(open, http.MethodGet, "/metrics", nil).Code)
}
