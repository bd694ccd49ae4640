package discovery

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/speedrun-hq/speedrun-solver/pkg/models"
)

func TestNewAPIDiscoveryInterval(t *testing.T) {
	tests := []struct {
		name     string
		interval time.Duration
		wantErr  bool
	}{
		{"too short", 500 * time.Millisecond, true},
		{"minimum", time.Second, false},
		{"default", 5 * time.Second, false},
		{"maximum", 300 * time.Second, false},
		{"too long", 301 * time.Second, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewAPIDiscovery("http://localhost", tt.interval, nil)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestFetchPendingIntentsShapes(t *testing.T) {
	tests := []struct {
		name string
		body string
		want []string
	}{
		{"intents field", `{"intents":[{"id":"a"},{"id":"b"}],"total_count":2}`, []string{"a", "b"}},
		{"data field", `{"data":[{"id":"c"}],"total_count":1}`, []string{"c"}},
		{"results field", `{"results":[{"id":"d"}]}`, []string{"d"}},
		{"bare array", `[{"id":"e"}]`, []string{"e"}},
		{"empty page", `{"intents":[],"total_count":0}`, []string{}},
		{"missing id skipped", `[{"id":""},{"id":"f"}]`, []string{"f"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/api/v1/intents", r.URL.Path)
				assert.Equal(t, "pending", r.URL.Query().Get("status"))
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			d, err := NewAPIDiscovery(srv.URL, time.Second, nil)
			require.NoError(t, err)

			intents, err := d.FetchPendingIntents(context.Background())
			require.NoError(t, err)

			ids := make([]string, 0, len(intents))
			for _, intent := range intents {
				ids = append(ids, intent.ID)
				assert.Equal(t, StandardSpeedrun, intent.Standard)
				assert.Equal(t, SourceSpeedrunAPI, intent.Source)
				assert.NotEmpty(t, intent.Data)
			}
			assert.Equal(t, tt.want, ids)
		})
	}
}

func TestFetchPendingIntentsErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer srv.Close()

	d, err := NewAPIDiscovery(srv.URL, time.Second, nil)
	require.NoError(t, err)

	_, err = d.FetchPendingIntents(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected status code: 502")
}

func TestMonitoringDeduplicates(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			_, _ = w.Write([]byte(`{"intents":[{"id":"a","source_chain":8453,"destination_chain":42161}],"total_count":1}`))
			return
		}
		_, _ = w.Write([]byte(`{"intents":[{"id":"a"},{"id":"b"}],"total_count":2}`))
	}))
	defer srv.Close()

	d, err := NewAPIDiscovery(srv.URL, time.Second, nil)
	require.NoError(t, err)

	out := make(chan models.Intent, 10)
	require.NoError(t, d.StartMonitoring(context.Background(), out))
	assert.ErrorIs(t, d.StartMonitoring(context.Background(), out), ErrAlreadyRunning)

	first := <-out
	assert.Equal(t, "a", first.ID)
	assert.JSONEq(t, `{"id":"a","source_chain":8453,"destination_chain":42161}`, string(first.Data))

	select {
	case second := <-out:
		assert.Equal(t, "b", second.ID)
	case <-time.After(3 * time.Second):
		t.Fatal("second intent not discovered")
	}

	require.NoError(t, d.StopMonitoring())
	require.NoError(t, d.StopMonitoring())
	assert.Empty(t, out)
}
