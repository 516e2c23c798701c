package services_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/qadrigroup/chat-widget/internal/services"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func answerServer(t *testing.T, answer string, sources []string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		var body struct {
			Question  string `json:"question"`
			Timestamp string `json:"timestamp"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("failed to decode request body: %v", err)
		}
		if body.Question == "" {
			t.Error("request body is missing the question")
		}
		if _, err := time.Parse(time.RFC3339, body.Timestamp); err != nil {
			t.Errorf("timestamp %q is not RFC3339: %v", body.Timestamp, err)
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"answer":          answer,
			"sources":         sources,
			"processing_time": "1.2s",
		})
	}))
}

func failingServer(status int) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(status)
	}))
}

func TestResolverAskFailsOverInOrder(t *testing.T) {
	var mu sync.Mutex
	var order []string
	record := func(name string, status int, answer string) *httptest.Server {
		return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			if answer == "" {
				w.WriteHeader(status)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(map[string]string{"answer": answer})
		}))
	}

	a := record("A", http.StatusInternalServerError, "")
	defer a.Close()
	b := record("B", http.StatusBadGateway, "")
	defer b.Close()
	c := record("C", http.StatusOK, "from C")
	defer c.Close()

	r := services.NewResolver([]string{a.URL, b.URL, c.URL}, time.Second, testLogger())

	res, err := r.Ask(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Ask() error = %v", err)
	}
	if res.Text != "from C" {
		t.Errorf("Ask() text = %q, want %q", res.Text, "from C")
	}
	mu.Lock()
	defer mu.Unlock()
	want := []string{"A", "B", "C"}
	if len(order) != len(want) {
		t.Fatalf("attempt order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Errorf("attempt order = %v, want %v", order, want)
			break
		}
	}
}

func TestResolverAskStopsAtFirstSuccess(t *testing.T) {
	a := answerServer(t, "from A", nil)
	defer a.Close()

	var called atomic.Bool
	b := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		called.Store(true)
		w.WriteHeader(http.StatusOK)
	}))
	defer b.Close()

	r := services.NewResolver([]string{a.URL, b.URL}, time.Second, testLogger())

	res, err := r.Ask(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Ask() error = %v", err)
	}
	if res.Text != "from A" {
		t.Errorf("Ask() text = %q, want %q", res.Text, "from A")
	}
	if called.Load() {
		t.Error("second candidate was attempted after a success")
	}
}

func TestResolverAskAllFail(t *testing.T) {
	a := failingServer(http.StatusInternalServerError)
	defer a.Close()
	b := failingServer(http.StatusServiceUnavailable)
	defer b.Close()

	endpoints := []string{a.URL, b.URL}
	r := services.NewResolver(endpoints, time.Second, testLogger())

	_, err := r.Ask(context.Background(), "hello")
	var exhausted *services.ExhaustedError
	if !errors.As(err, &exhausted) {
		t.Fatalf("Ask() error = %v, want *ExhaustedError", err)
	}
	if len(exhausted.Attempted) != len(endpoints) {
		t.Errorf("Attempted = %v, want %d entries", exhausted.Attempted, len(endpoints))
	}
	for i, endpoint := range endpoints {
		if exhausted.Attempted[i] != endpoint {
			t.Errorf("Attempted[%d] = %q, want %q", i, exhausted.Attempted[i], endpoint)
		}
	}
	if exhausted.Last == nil {
		t.Fatal("Last attempt error is nil")
	}
	if exhausted.Last.Kind != services.FailureHTTP {
		t.Errorf("Last.Kind = %q, want %q", exhausted.Last.Kind, services.FailureHTTP)
	}
	if exhausted.Last.Status != http.StatusServiceUnavailable {
		t.Errorf("Last.Status = %d, want %d", exhausted.Last.Status, http.StatusServiceUnavailable)
	}
}

func TestResolverAskTimeoutAbortsAttempt(t *testing.T) {
	release := make(chan struct{})
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer slow.Close()
	defer close(release)

	r := services.NewResolver([]string{slow.URL}, 50*time.Millisecond, testLogger())

	start := time.Now()
	_, err := r.Ask(context.Background(), "hello")
	elapsed := time.Since(start)

	var exhausted *services.ExhaustedError
	if !errors.As(err, &exhausted) {
		t.Fatalf("Ask() error = %v, want *ExhaustedError", err)
	}
	if exhausted.Last.Kind != services.FailureTimeout {
		t.Errorf("Last.Kind = %q, want %q", exhausted.Last.Kind, services.FailureTimeout)
	}
	if elapsed > time.Second {
		t.Errorf("Ask() took %s, the timed-out attempt was not canceled", elapsed)
	}
}

func TestResolverAskNetworkFailure(t *testing.T) {
	dead := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	dead.Close() // connection refused from now on

	r := services.NewResolver([]string{dead.URL}, time.Second, testLogger())

	_, err := r.Ask(context.Background(), "hello")
	var exhausted *services.ExhaustedError
	if !errors.As(err, &exhausted) {
		t.Fatalf("Ask() error = %v, want *ExhaustedError", err)
	}
	if exhausted.Last.Kind != services.FailureNetwork {
		t.Errorf("Last.Kind = %q, want %q", exhausted.Last.Kind, services.FailureNetwork)
	}
}

func TestResolverAskAnswerFieldFallback(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{
			"answer":   "",
			"response": "from response field",
		})
	}))
	defer srv.Close()

	r := services.NewResolver([]string{srv.URL}, time.Second, testLogger())

	res, err := r.Ask(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Ask() error = %v", err)
	}
	if res.Text != "from response field" {
		t.Errorf("Ask() text = %q, want %q", res.Text, "from response field")
	}
}

func TestResolverAskCarriesSourcesAndProcessingTime(t *testing.T) {
	srv := answerServer(t, "hi", []string{"doc1", "doc2"})
	defer srv.Close()

	r := services.NewResolver([]string{srv.URL}, time.Second, testLogger())

	res, err := r.Ask(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Ask() error = %v", err)
	}
	if len(res.Sources) != 2 || res.Sources[0] != "doc1" || res.Sources[1] != "doc2" {
		t.Errorf("Ask() sources = %v, want [doc1 doc2]", res.Sources)
	}
	if res.ProcessingTime != "1.2s" {
		t.Errorf("Ask() processing time = %q, want %q", res.ProcessingTime, "1.2s")
	}
}
