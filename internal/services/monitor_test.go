package services_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/qadrigroup/chat-widget/internal/models"
	"github.com/qadrigroup/chat-widget/internal/services"
)

func healthServer(status int) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			http.NotFound(w, r)
			return
		}
		w.WriteHeader(status)
	}))
}

func TestMonitorInitialState(t *testing.T) {
	m := services.NewMonitor(nil, time.Second, testLogger())

	status := m.Status()
	if status.State != models.ConnectionDisconnected {
		t.Errorf("initial state = %q, want %q", status.State, models.ConnectionDisconnected)
	}
	if !status.LastChecked.IsZero() {
		t.Errorf("initial lastChecked = %v, want zero", status.LastChecked)
	}
}

func TestMonitorCheckNow(t *testing.T) {
	healthy := healthServer(http.StatusOK)
	defer healthy.Close()
	unhealthy := healthServer(http.StatusInternalServerError)
	defer unhealthy.Close()
	dead := healthServer(http.StatusOK)
	dead.Close()

	tests := []struct {
		name      string
		endpoints []string
		want      models.ConnectionState
	}{
		{
			name:      "First candidate healthy",
			endpoints: []string{healthy.URL},
			want:      models.ConnectionConnected,
		},
		{
			name:      "Failover to second candidate",
			endpoints: []string{dead.URL, healthy.URL},
			want:      models.ConnectionConnected,
		},
		{
			name:      "Non-2xx probe is not reachable",
			endpoints: []string{unhealthy.URL},
			want:      models.ConnectionDisconnected,
		},
		{
			name:      "All candidates exhausted",
			endpoints: []string{dead.URL, unhealthy.URL},
			want:      models.ConnectionDisconnected,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := services.NewMonitor(tt.endpoints, time.Second, testLogger())

			if got := m.CheckNow(context.Background()); got != tt.want {
				t.Errorf("CheckNow() = %q, want %q", got, tt.want)
			}
			status := m.Status()
			if status.State != tt.want {
				t.Errorf("Status().State = %q, want %q", status.State, tt.want)
			}
			if status.LastChecked.IsZero() {
				t.Error("Status().LastChecked is zero after a check")
			}
		})
	}
}

func TestMonitorCheckNowStopsAtFirstSuccess(t *testing.T) {
	healthy := healthServer(http.StatusOK)
	defer healthy.Close()

	probed := make(chan struct{}, 1)
	second := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		probed <- struct{}{}
		w.WriteHeader(http.StatusOK)
	}))
	defer second.Close()

	m := services.NewMonitor([]string{healthy.URL, second.URL}, time.Second, testLogger())
	m.CheckNow(context.Background())

	select {
	case <-probed:
		t.Error("second candidate was probed after the first succeeded")
	default:
	}
}

func TestMonitorObserve(t *testing.T) {
	m := services.NewMonitor(nil, time.Second, testLogger())

	m.Observe(true)
	if got := m.Status().State; got != models.ConnectionConnected {
		t.Errorf("state after Observe(true) = %q, want %q", got, models.ConnectionConnected)
	}

	m.Observe(false)
	if got := m.Status().State; got != models.ConnectionDisconnected {
		t.Errorf("state after Observe(false) = %q, want %q", got, models.ConnectionDisconnected)
	}
}

func TestMonitorObserveSupersedesInFlightCheck(t *testing.T) {
	release := make(chan struct{})
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		<-release
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer slow.Close()

	m := services.NewMonitor([]string{slow.URL}, time.Second, testLogger())

	done := make(chan struct{})
	go func() {
		m.CheckNow(context.Background())
		close(done)
	}()

	// Wait until the check is in flight.
	deadline := time.After(time.Second)
	for m.Status().State != models.ConnectionChecking {
		select {
		case <-deadline:
			t.Fatal("check never entered the checking state")
		case <-time.After(5 * time.Millisecond):
		}
	}

	// Connectivity evidence arrives while the probe is still pending; the probe's failure
	// must not overwrite it.
	m.Observe(true)
	close(release)
	<-done

	if got := m.Status().State; got != models.ConnectionConnected {
		t.Errorf("state = %q, want %q; a stale check overwrote observed evidence", got, models.ConnectionConnected)
	}
}

func TestMonitorConcurrentCheckSuppressed(t *testing.T) {
	release := make(chan struct{})
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		<-release
		w.WriteHeader(http.StatusOK)
	}))
	defer slow.Close()

	m := services.NewMonitor([]string{slow.URL}, time.Second, testLogger())

	done := make(chan struct{})
	go func() {
		m.CheckNow(context.Background())
		close(done)
	}()

	deadline := time.After(time.Second)
	for m.Status().State != models.ConnectionChecking {
		select {
		case <-deadline:
			t.Fatal("check never entered the checking state")
		case <-time.After(5 * time.Millisecond):
		}
	}

	// A second check while one is in flight must return without probing.
	if got := m.CheckNow(context.Background()); got != models.ConnectionChecking {
		t.Errorf("concurrent CheckNow() = %q, want %q", got, models.ConnectionChecking)
	}

	close(release)
	<-done

	if got := m.Status().State; got != models.ConnectionConnected {
		t.Errorf("final state = %q, want %q", got, models.ConnectionConnected)
	}
}

func TestMonitorOnChange(t *testing.T) {
	healthy := healthServer(http.StatusOK)
	defer healthy.Close()

	var mu sync.Mutex
	var seen []models.ConnectionState

	m := services.NewMonitor([]string{healthy.URL}, time.Second, testLogger())
	m.OnChange(func(status models.ConnectionStatus) {
		mu.Lock()
		seen = append(seen, status.State)
		mu.Unlock()
	})

	m.CheckNow(context.Background())

	mu.Lock()
	defer mu.Unlock()
	want := []models.ConnectionState{models.ConnectionChecking, models.ConnectionConnected}
	if len(seen) != len(want) {
		t.Fatalf("transitions = %v, want %v", seen, want)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Errorf("transitions = %v, want %v", seen, want)
			break
		}
	}
}
