// Package discovery finds new intents and hands them to the engine
package discovery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/speedrun-hq/speedrun-solver/pkg/logger"
	"github.com/speedrun-hq/speedrun-solver/pkg/models"
)

const (
	// SourceSpeedrunAPI tags intents found through the Speedrun API
	SourceSpeedrunAPI = "speedrun-api"
	// StandardSpeedrun is the standard API intents are created under
	StandardSpeedrun = "speedrun"

	MinPollingInterval = time.Second
	MaxPollingInterval = 300 * time.Second
)

// ErrAlreadyRunning is returned when monitoring is started twice
var ErrAlreadyRunning = errors.New("discovery already running")

// Discovery emits newly found intents on out until stopped
type Discovery interface {
	StartMonitoring(ctx context.Context, out chan<- models.Intent) error
	StopMonitoring() error
}

// apiResponse is the list envelope of the Speedrun API. Depending on the
// deployment the intents are under intents, data or results.
type apiResponse struct {
	Intents    []json.RawMessage `json:"intents,omitempty"`
	Data       []json.RawMessage `json:"data,omitempty"`
	Results    []json.RawMessage `json:"results,omitempty"`
	Page       int               `json:"page"`
	TotalCount int               `json:"total_count"`
	TotalPages int               `json:"total_pages"`
}

// APIDiscovery polls the Speedrun API for pending intents
type APIDiscovery struct {
	endpoint   string
	interval   time.Duration
	httpClient *http.Client
	logger     logger.Logger
	now        func() time.Time

	mu     sync.Mutex
	seen   map[string]struct{}
	cancel context.CancelFunc
	done   chan struct{}
}

var _ Discovery = (*APIDiscovery)(nil)

// NewAPIDiscovery creates a poller for endpoint. The interval must be between 1s and 300s.
func NewAPIDiscovery(endpoint string, interval time.Duration, log logger.Logger) (*APIDiscovery, error) {
	if interval < MinPollingInterval || interval > MaxPollingInterval {
		return nil, fmt.Errorf("invalid polling interval %v, must be between %v and %v", interval, MinPollingInterval, MaxPollingInterval)
	}
	if log == nil {
		log = &logger.EmptyLogger{}
	}
	return &APIDiscovery{
		endpoint:   strings.TrimRight(endpoint, "/"),
		interval:   interval,
		httpClient: createHTTPClient(),
		logger:     log,
		now:        time.Now,
		seen:       make(map[string]struct{}),
	}, nil
}

// StartMonitoring polls immediately and then on every interval
func (d *APIDiscovery) StartMonitoring(ctx context.Context, out chan<- models.Intent) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cancel != nil {
		return ErrAlreadyRunning
	}

	ctx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.done = make(chan struct{})

	go d.run(ctx, out, d.done)
	d.logger.Info("Polling %s for pending intents every %v", d.endpoint, d.interval)
	return nil
}

// StopMonitoring stops polling and waits for the poller to exit
func (d *APIDiscovery) StopMonitoring() error {
	d.mu.Lock()
	cancel, done := d.cancel, d.done
	d.cancel, d.done = nil, nil
	d.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	<-done
	return nil
}

func (d *APIDiscovery) run(ctx context.Context, out chan<- models.Intent, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		if err := d.poll(ctx, out); err != nil && ctx.Err() == nil {
			d.logger.Error("Error fetching intents: %v", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (d *APIDiscovery) poll(ctx context.Context, out chan<- models.Intent) error {
	intents, err := d.FetchPendingIntents(ctx)
	if err != nil {
		return err
	}

	fresh := 0
	for _, intent := range intents {
		if !d.markSeen(intent.ID) {
			continue
		}
		select {
		case out <- intent:
			fresh++
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if fresh > 0 {
		d.logger.Info("Discovered %d new intents", fresh)
	}
	return nil
}

func (d *APIDiscovery) markSeen(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.seen[id]; ok {
		return false
	}
	d.seen[id] = struct{}{}
	return true
}

// FetchPendingIntents gets pending intents from the API
func (d *APIDiscovery) FetchPendingIntents(ctx context.Context) ([]models.Intent, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.endpoint+"/api/v1/intents?status=pending", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	resp, err := d.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch pending intents: %w", err)
	}
	defer func(body io.ReadCloser) {
		if err := body.Close(); err != nil {
			d.logger.Error("Failed to close response body: %v", err)
		}
	}(resp.Body)

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code: %d, body: %s", resp.StatusCode, string(body))
	}

	raw, err := decodeIntents(body)
	if err != nil {
		return nil, err
	}

	intents := make([]models.Intent, 0, len(raw))
	for _, item := range raw {
		var payload models.SpeedrunIntent
		if err := json.Unmarshal(item, &payload); err != nil {
			d.logger.Error("Skipping undecodable intent: %v", err)
			continue
		}
		if payload.ID == "" {
			d.logger.Debug("Skipping intent without id")
			continue
		}
		intents = append(intents, models.Intent{
			ID:       payload.ID,
			Source:   SourceSpeedrunAPI,
			Standard: StandardSpeedrun,
			Data:     item,
			Metadata: models.IntentMetadata{DiscoveredAt: d.now()},
		})
	}
	return intents, nil
}

// decodeIntents accepts either a bare array or one of the known envelopes
func decodeIntents(body []byte) ([]json.RawMessage, error) {
	var resp apiResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		var list []json.RawMessage
		if err := json.Unmarshal(body, &list); err != nil {
			return nil, fmt.Errorf("failed to decode intents: %w, body: %s", err, string(body))
		}
		return list, nil
	}

	switch {
	case len(resp.Intents) > 0:
		return resp.Intents, nil
	case len(resp.Data) > 0:
		return resp.Data, nil
	case len(resp.Results) > 0:
		return resp.Results, nil
	}
	return nil, nil
}

func createHTTPClient() *http.Client {
	return &http.Client{
		Timeout: 10 * time.Second,
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 100,
			IdleConnTimeout:     90 * time.Second,
		},
	}
}
