package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/qadrigroup/chat-widget/internal/models"
)

// FailureKind classifies why a single candidate attempt failed.
type FailureKind string

const (
	// FailureNetwork is a transport-level failure such as a refused connection or DNS error.
	FailureNetwork FailureKind = "network"
	// FailureTimeout means the attempt exceeded its per-attempt deadline.
	FailureTimeout FailureKind = "timeout"
	// FailureHTTP means the candidate answered with a non-2xx status.
	FailureHTTP FailureKind = "http"
)

// AttemptError describes the failure of one candidate attempt. It never escapes the resolver
// directly; it only drives failover to the next candidate and is carried by ExhaustedError for
// diagnostics.
type AttemptError struct {
	Endpoint string
	Kind     FailureKind
	Status   int
	Err      error
}

func (e *AttemptError) Error() string {
	if e.Kind == FailureHTTP {
		return fmt.Sprintf("%s: http status %d", e.Endpoint, e.Status)
	}
	return fmt.Sprintf("%s: %s: %v", e.Endpoint, e.Kind, e.Err)
}

func (e *AttemptError) Unwrap() error { return e.Err }

// ExhaustedError is returned when every candidate endpoint failed. It carries the ordered list of
// attempted candidates and the last observed attempt failure.
type ExhaustedError struct {
	Attempted []string
	Last      *AttemptError
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("all %d endpoints failed, last: %v", len(e.Attempted), e.Last)
}

func (e *ExhaustedError) Unwrap() error {
	if e.Last == nil {
		return nil
	}
	return e.Last
}

// Resolver performs a single question-answering request against an ordered list of candidate
// service addresses with a bounded per-attempt timeout and sequential failover. Candidates are
// never tried in parallel, so one logical question causes at most one backend side effect.
type Resolver struct {
	endpoints []string
	timeout   time.Duration

	client *http.Client
	logger *slog.Logger
}

// NewResolver creates a Resolver for the given ordered candidate endpoints. Each attempt is
// bounded by perAttemptTimeout, which should be materially larger than the reachability probe
// timeout to tolerate slow knowledge-base lookups.
func NewResolver(endpoints []string, perAttemptTimeout time.Duration, logger *slog.Logger) Resolver {
	return Resolver{
		endpoints: endpoints,
		timeout:   perAttemptTimeout,
		client:    &http.Client{},
		logger:    logger,
	}
}

type askRequest struct {
	Question  string `json:"question"`
	Timestamp string `json:"timestamp"`
}

type askResponse struct {
	Answer         string   `json:"answer"`
	Response       string   `json:"response"`
	Sources        []string `json:"sources"`
	ProcessingTime string   `json:"processing_time"`
}

// Ask sends the question to each candidate in list order, one at a time, and returns the first
// successful answer. A candidate failure is logged and drives failover without delay; it is never
// surfaced to the caller. If all candidates fail, Ask returns an ExhaustedError. Aborted attempts
// release their underlying connection, so no request outlives the call.
func (r Resolver) Ask(ctx context.Context, question string) (models.AnswerResult, error) {
	payload, err := json.Marshal(askRequest{
		Question:  question,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return models.AnswerResult{}, fmt.Errorf("error marshaling request: %w", err)
	}

	attempted := make([]string, 0, len(r.endpoints))
	var last *AttemptError
	for _, endpoint := range r.endpoints {
		attempted = append(attempted, endpoint)

		res, attemptErr := r.attempt(ctx, endpoint, payload)
		if attemptErr == nil {
			return res, nil
		}
		last = attemptErr
		r.logger.Warn("Answer endpoint failed",
			slog.String("endpoint", endpoint),
			slog.String("kind", string(attemptErr.Kind)),
			slog.String(errLoggerKey, attemptErr.Error()))

		// A canceled parent context fails every remaining candidate the same way, so stop
		// here instead of burning through the list.
		if ctx.Err() != nil {
			break
		}
	}

	return models.AnswerResult{}, &ExhaustedError{Attempted: attempted, Last: last}
}

func (r Resolver) attempt(ctx context.Context, endpoint string, payload []byte) (models.AnswerResult, *AttemptError) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return models.AnswerResult{}, &AttemptError{Endpoint: endpoint, Kind: FailureNetwork, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		kind := FailureNetwork
		if errors.Is(err, context.DeadlineExceeded) {
			kind = FailureTimeout
		}
		return models.AnswerResult{}, &AttemptError{Endpoint: endpoint, Kind: kind, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return models.AnswerResult{}, &AttemptError{Endpoint: endpoint, Kind: FailureHTTP, Status: resp.StatusCode}
	}

	var body askResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return models.AnswerResult{}, &AttemptError{
			Endpoint: endpoint,
			Kind:     FailureNetwork,
			Err:      fmt.Errorf("error decoding response: %w", err),
		}
	}

	// The service reports the answer under either "answer" or "response"; first non-empty wins.
	text := body.Answer
	if strings.TrimSpace(text) == "" {
		text = body.Response
	}

	return models.AnswerResult{
		Text:           text,
		Sources:        body.Sources,
		ProcessingTime: body.ProcessingTime,
	}, nil
}
