package handlers

import (
	"context"
	"html/template"
	"log/slog"
	"strings"
	"time"

	chatwidget "github.com/qadrigroup/chat-widget"
	"github.com/qadrigroup/chat-widget/internal/markup"
	"github.com/qadrigroup/chat-widget/internal/models"
	"github.com/tmaxmax/go-sse"
)

// Sender is the session boundary the widget surface is allowed to call. It accepts one question
// at a time and exposes a snapshot of the ordered message list.
type Sender interface {
	Send(ctx context.Context, question string) bool
	Messages() []models.Message
	Sending() bool
}

// Checker is the connection-monitor boundary: the current status, plus the only mutator the UI
// layer may invoke.
type Checker interface {
	CheckNow(ctx context.Context) models.ConnectionState
	Status() models.ConnectionStatus
}

// Notifier forwards widget open/close boundary events to the embedding host context. The core
// calls it without knowledge of the underlying transport, so non-browser environments can
// substitute their own.
type Notifier interface {
	Notify(event models.WidgetStateEvent)
}

// Main handles the widget's HTTP surface, managing server-sent events, HTML templates, and the
// interactions between the chat session, the connection monitor, and the notification port.
type Main struct {
	sseSrv    *sse.Server
	templates *template.Template

	session  Sender
	monitor  Checker
	notifier Notifier

	welcomeText string
	logger      *slog.Logger
}

const (
	messagesSSETopic = "messages"
	statusSSETopic   = "status"

	errLoggerKey = "err"
)

// SSE event types for real-time updates.
var (
	messagesSSEType = sse.Type("messages")
	statusSSEType   = sse.Type("status")
)

// NewMain creates a new Main instance wired to the given session, monitor, and notification port.
// It parses the widget templates from the embedded filesystem and configures the SSE server so
// every client receives both message-list and connection-status updates.
func NewMain(session Sender, monitor Checker, notifier Notifier, welcomeText string, logger *slog.Logger) (Main, error) {
	// We parse templates from three distinct directories to separate layout, pages, and partial views
	tmpl, err := template.New("").Funcs(template.FuncMap{
		"renderText":   renderText,
		"formatMillis": formatMillis,
	}).ParseFS(
		chatwidget.TemplateFS,
		"templates/layout/*.html",
		"templates/pages/*.html",
		"templates/partials/*.html",
	)
	if err != nil {
		return Main{}, err
	}

	return Main{
		sseSrv: &sse.Server{
			OnSession: func(s *sse.Session) (sse.Subscription, bool) {
				return sse.Subscription{
					Client:      s,
					LastEventID: s.LastEventID,
					Topics:      []string{sse.DefaultTopic, messagesSSETopic, statusSSETopic},
				}, true
			},
		},
		templates:   tmpl,
		session:     session,
		monitor:     monitor,
		notifier:    notifier,
		welcomeText: welcomeText,
		logger:      logger,
	}, nil
}

// renderText converts one message's text for display. Bot answers go through the markdown subset
// renderer at render time; user messages and plain-text diagnostics are escaped with their line
// breaks preserved.
func renderText(msg models.Message) template.HTML {
	if msg.Sender == models.SenderBot && !msg.Error && !msg.Loading {
		return template.HTML(markup.Render(msg.Text))
	}
	escaped := template.HTMLEscapeString(msg.Text)
	return template.HTML(strings.ReplaceAll(escaped, "\n", "<br>"))
}

func formatMillis(d time.Duration) string {
	return d.Round(time.Millisecond).String()
}

// PublishMessages renders the current message list and broadcasts it to all SSE subscribers. It
// is registered as the session's on-update callback.
func (m Main) PublishMessages() {
	var sb strings.Builder
	for _, message := range m.session.Messages() {
		if err := m.templates.ExecuteTemplate(&sb, "message", message); err != nil {
			m.logger.Error("Failed to render message partial", slog.String(errLoggerKey, err.Error()))
			return
		}
	}

	e := &sse.Message{Type: messagesSSEType}
	e.AppendData(sb.String())
	if err := m.sseSrv.Publish(e, messagesSSETopic); err != nil {
		m.logger.Error("Failed to publish messages", slog.String(errLoggerKey, err.Error()))
	}
}

// PublishStatus broadcasts a connection-status transition to all SSE subscribers. It is
// registered as the monitor's on-change callback.
func (m Main) PublishStatus(status models.ConnectionStatus) {
	var sb strings.Builder
	if err := m.templates.ExecuteTemplate(&sb, "status", status); err != nil {
		m.logger.Error("Failed to render status partial", slog.String(errLoggerKey, err.Error()))
		return
	}

	e := &sse.Message{Type: statusSSEType}
	e.AppendData(sb.String())
	if err := m.sseSrv.Publish(e, statusSSETopic); err != nil {
		m.logger.Error("Failed to publish status", slog.String(errLoggerKey, err.Error()))
	}
}

// Shutdown gracefully terminates the Main instance's SSE server. It broadcasts a close message to
// all connected clients and waits up to 5 seconds for connections to terminate. After the timeout,
// any remaining connections are forcefully closed.
func (m Main) Shutdown(ctx context.Context) error {
	e := &sse.Message{Type: sse.Type("closeChat")}
	// We create a close event that complies with SSE spec requiring data
	e.AppendData("bye")

	// We ignore the error here since we're shutting down anyway
	_ = m.sseSrv.Publish(e)

	ctx, cancel := context.WithTimeout(ctx, time.Second*5)
	defer cancel()

	return m.sseSrv.Shutdown(ctx)
}
