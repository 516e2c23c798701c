package services

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/qadrigroup/chat-widget/internal/models"
)

const errLoggerKey = "err"

// Monitor tracks answer-service reachability as a small state machine over
// models.ConnectionState. Checks probe each candidate's lightweight health path in order and stop
// at the first success. A check result that has been superseded, either by a newer check or by
// connectivity evidence observed from an answered question, is discarded rather than applied.
type Monitor struct {
	mu          sync.Mutex
	state       models.ConnectionState
	lastChecked time.Time
	checking    bool
	gen         uint64

	endpoints []string
	timeout   time.Duration

	client   *http.Client
	logger   *slog.Logger
	onChange func(models.ConnectionStatus)
}

// NewMonitor creates a Monitor probing the health path under each of the given candidate base
// addresses, each probe bounded by probeTimeout. The initial state is disconnected.
func NewMonitor(endpoints []string, probeTimeout time.Duration, logger *slog.Logger) *Monitor {
	return &Monitor{
		state:     models.ConnectionDisconnected,
		endpoints: endpoints,
		timeout:   probeTimeout,
		client:    &http.Client{},
		logger:    logger,
	}
}

// OnChange registers a callback invoked after every state transition, outside the monitor's lock.
// It must be set before the monitor is started.
func (m *Monitor) OnChange(fn func(models.ConnectionStatus)) {
	m.onChange = fn
}

// Status returns the current connection state and the start time of the last authoritative check.
func (m *Monitor) Status() models.ConnectionStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return models.ConnectionStatus{State: m.state, LastChecked: m.lastChecked}
}

// Start runs the initial reachability check after the given delay, so it never blocks initial
// rendering. It returns immediately; the check is canceled if ctx ends first.
func (m *Monitor) Start(ctx context.Context, delay time.Duration) {
	go func() {
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
		m.CheckNow(ctx)
	}()
}

// CheckNow transitions to checking and probes each candidate in order, stopping at the first
// success. Exhausting all candidates leaves the monitor disconnected. If a check is already in
// flight, CheckNow does not start another one and returns the current state. The returned state
// is the check's outcome, even when a concurrent Observe superseded it for display.
func (m *Monitor) CheckNow(ctx context.Context) models.ConnectionState {
	m.mu.Lock()
	if m.checking {
		state := m.state
		m.mu.Unlock()
		return state
	}
	m.checking = true
	m.gen++
	gen := m.gen
	start := time.Now()
	m.state = models.ConnectionChecking
	m.lastChecked = start
	m.mu.Unlock()
	m.notify()

	state := models.ConnectionDisconnected
	for _, endpoint := range m.endpoints {
		if m.probe(ctx, endpoint) {
			state = models.ConnectionConnected
			break
		}
	}

	m.mu.Lock()
	m.checking = false
	stale := gen != m.gen
	if !stale {
		m.state = state
	}
	m.mu.Unlock()
	if !stale {
		m.notify()
	}
	return state
}

// Observe records connectivity evidence from outside the probe path: an answered question proves
// the service reachable, a fully failed one proves it unreachable. Evidence supersedes any check
// still in flight.
func (m *Monitor) Observe(connected bool) {
	state := models.ConnectionDisconnected
	if connected {
		state = models.ConnectionConnected
	}

	m.mu.Lock()
	m.gen++
	m.state = state
	m.lastChecked = time.Now()
	m.mu.Unlock()
	m.notify()
}

func (m *Monitor) notify() {
	if m.onChange == nil {
		return
	}
	m.onChange(m.Status())
}

func (m *Monitor) probe(ctx context.Context, endpoint string) bool {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, healthURL(endpoint), nil)
	if err != nil {
		return false
	}

	resp, err := m.client.Do(req)
	if err != nil {
		m.logger.Debug("Health probe failed",
			slog.String("endpoint", endpoint),
			slog.String(errLoggerKey, err.Error()))
		return false
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	return resp.StatusCode >= http.StatusOK && resp.StatusCode <= 299
}

// healthURL derives the probe path from a candidate base address, tolerating bases that already
// name the ask path.
func healthURL(endpoint string) string {
	base := strings.TrimSuffix(endpoint, "/")
	base = strings.TrimSuffix(base, "/ask")
	return base + "/health"
}
