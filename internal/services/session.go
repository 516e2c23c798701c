package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/qadrigroup/chat-widget/internal/models"
)

// DefaultLoadingText is shown in the placeholder message while an answer is pending.
const DefaultLoadingText = "Searching knowledge base..."

// emptyAnswerText replaces a successful response that carried no usable answer text.
const emptyAnswerText = "I received your message but couldn't generate a proper response."

// Answerer resolves one question into an answer. Implementations report total failure with an
// ExhaustedError.
type Answerer interface {
	Ask(ctx context.Context, question string) (models.AnswerResult, error)
}

// ConnectionReporter receives connectivity evidence derived from answer outcomes.
type ConnectionReporter interface {
	Observe(connected bool)
}

// Session orchestrates one question/answer cycle at a time: it maintains the ordered message
// list, invokes the Answerer, records timing and sources, and feeds connectivity evidence to the
// ConnectionReporter. The message list lives only in memory for the widget's lifetime.
type Session struct {
	mu       sync.Mutex
	messages []models.Message
	sending  bool

	resolver    Answerer
	monitor     ConnectionReporter
	loadingText string

	logger   *slog.Logger
	onUpdate func()
	now      func() time.Time
}

// NewSession creates a Session backed by the given resolver and connection reporter. loadingText
// is the placeholder copy; when empty, DefaultLoadingText is used.
func NewSession(resolver Answerer, monitor ConnectionReporter, loadingText string, logger *slog.Logger) *Session {
	if loadingText == "" {
		loadingText = DefaultLoadingText
	}
	return &Session{
		resolver:    resolver,
		monitor:     monitor,
		loadingText: loadingText,
		logger:      logger,
		now:         time.Now,
	}
}

// OnUpdate registers a callback invoked after every change to the message list, outside the
// session's lock. It must be set before the session accepts messages.
func (s *Session) OnUpdate(fn func()) {
	s.onUpdate = fn
}

// Messages returns a snapshot copy of the ordered message list.
func (s *Session) Messages() []models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// Sending reports whether a send is currently in progress.
func (s *Session) Sending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sending
}

// Send runs one complete question/answer cycle and reports whether the question was accepted.
// Empty or whitespace-only questions and questions arriving while another send is in progress are
// rejected without side effects. An accepted question appends a user message and a loading
// placeholder, resolves the answer, and replaces the placeholder with exactly one terminal bot
// message carrying either the answer or a plain-text diagnostic. Send never panics out and always
// leaves the session able to accept new input.
func (s *Session) Send(ctx context.Context, question string) (accepted bool) {
	question = strings.TrimSpace(question)
	if question == "" {
		return false
	}

	now := s.now()
	s.mu.Lock()
	if s.sending {
		s.mu.Unlock()
		return false
	}
	s.sending = true
	s.mu.Unlock()
	accepted = true

	// Registered before anything that can fail, so the flag is cleared and the placeholder
	// settled no matter where the cycle stops.
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Panic during send", slog.Any("panic", r))
			s.repair()
		}
		s.mu.Lock()
		s.sending = false
		s.mu.Unlock()
	}()

	s.mu.Lock()
	s.messages = append(s.messages,
		models.Message{
			ID:        uuid.New().String(),
			Text:      question,
			Sender:    models.SenderUser,
			Timestamp: now,
		},
		models.Message{
			ID:        uuid.New().String(),
			Text:      s.loadingText,
			Sender:    models.SenderBot,
			Timestamp: now,
			Loading:   true,
		})
	s.mu.Unlock()
	s.notify()

	start := time.Now()
	res, err := s.resolver.Ask(ctx, question)
	elapsed := time.Since(start)

	if err != nil {
		s.logger.Error("All answer endpoints failed",
			slog.String("question", question),
			slog.Duration("elapsed", elapsed),
			slog.String(errLoggerKey, err.Error()))
		s.monitor.Observe(false)
		s.settle(models.Message{
			ID:        uuid.New().String(),
			Text:      diagnosticText(err, question, elapsed),
			Sender:    models.SenderBot,
			Timestamp: s.now(),
			Error:     true,
		})
		return true
	}

	text := res.Text
	if strings.TrimSpace(text) == "" {
		text = emptyAnswerText
	}

	s.monitor.Observe(true)
	s.settle(models.Message{
		ID:             uuid.New().String(),
		Text:           text,
		Sender:         models.SenderBot,
		Timestamp:      s.now(),
		ResponseTime:   elapsed,
		Sources:        models.DedupSources(res.Sources),
		ProcessingTime: res.ProcessingTime,
	})
	return true
}

// settle atomically removes the loading placeholder and appends the terminal message in its
// place, so the list never holds an orphaned placeholder or two answers to one question.
func (s *Session) settle(terminal models.Message) {
	s.mu.Lock()
	kept := s.messages[:0]
	for _, msg := range s.messages {
		if msg.Loading {
			continue
		}
		kept = append(kept, msg)
	}
	s.messages = append(kept, terminal)
	s.mu.Unlock()
	s.notify()
}

// repair settles an orphaned placeholder after a panic so the session stays usable. If the cycle
// already settled, there is nothing to do.
func (s *Session) repair() {
	s.mu.Lock()
	orphaned := false
	for _, msg := range s.messages {
		if msg.Loading {
			orphaned = true
			break
		}
	}
	s.mu.Unlock()
	if !orphaned {
		return
	}
	s.settle(models.Message{
		ID:        uuid.New().String(),
		Text:      "Something went wrong while processing your question. Please try again.",
		Sender:    models.SenderBot,
		Timestamp: s.now(),
		Error:     true,
	})
}

// notify invokes the update subscriber. A panicking subscriber must not take the send cycle down
// with it, so the panic is contained here and logged.
func (s *Session) notify() {
	if s.onUpdate == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Panic in update subscriber", slog.Any("panic", r))
		}
	}()
	s.onUpdate()
}

// diagnosticText formats a total failure as a plain-text bot message naming the attempted
// endpoints, the elapsed time, and the failure classification, in the spirit of the widget's
// offline copy.
func diagnosticText(err error, question string, elapsed time.Duration) string {
	var sb strings.Builder
	sb.WriteString("I'm currently unable to connect to the knowledge base.\n\n")

	var exhausted *ExhaustedError
	if errors.As(err, &exhausted) {
		sb.WriteString(fmt.Sprintf("Tried %d endpoint(s) in %s:\n", len(exhausted.Attempted), elapsed.Round(time.Millisecond)))
		for _, endpoint := range exhausted.Attempted {
			sb.WriteString(fmt.Sprintf("  %s\n", endpoint))
		}
		if exhausted.Last != nil {
			sb.WriteString(fmt.Sprintf("Last failure: %s (%s)\n", exhausted.Last.Error(), exhausted.Last.Kind))
		}
	} else {
		sb.WriteString(fmt.Sprintf("Error after %s: %v\n", elapsed.Round(time.Millisecond), err))
	}

	sb.WriteString("\nThis might be because the backend server is not running, a cross-origin policy ")
	sb.WriteString("is blocking the request, or there are network connectivity issues.\n\n")
	sb.WriteString(fmt.Sprintf("Your message %q was received, but I can't provide an answer until the ", question))
	sb.WriteString("backend is reachable again.")
	return sb.String()
}
