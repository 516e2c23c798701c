package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/qadrigroup/chat-widget/internal/models"
)

type widgetPageData struct {
	Messages    []models.Message
	Status      models.ConnectionStatus
	WelcomeText string
	IsLoading   bool
}

// snapshot is the JSON view of the session consumed by the widget script: the ordered message
// list, the connection state, and the in-progress flag.
type snapshot struct {
	Messages        []models.Message       `json:"messages"`
	ConnectionState models.ConnectionState `json:"connectionState"`
	IsLoading       bool                   `json:"isLoading"`
}

type sendRequest struct {
	Question string `json:"question"`
}

// HandleWidget renders the widget page. Until the first message is sent it shows the welcome
// state instead of an empty conversation.
func (m Main) HandleWidget(w http.ResponseWriter, r *http.Request) {
	data := widgetPageData{
		Messages:    m.session.Messages(),
		Status:      m.monitor.Status(),
		WelcomeText: m.welcomeText,
		IsLoading:   m.session.Sending(),
	}

	if err := m.templates.ExecuteTemplate(w, "widget.html", data); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// HandleSnapshot returns the session snapshot as JSON.
func (m Main) HandleSnapshot(w http.ResponseWriter, _ *http.Request) {
	messages := m.session.Messages()
	if messages == nil {
		messages = []models.Message{}
	}

	writeJSON(w, http.StatusOK, snapshot{
		Messages:        messages,
		ConnectionState: m.monitor.Status().State,
		IsLoading:       m.session.Sending(),
	})
}

// HandleSend accepts one question and starts the question/answer cycle. It accepts either a JSON
// body with a "question" field or a "message" form value. Empty questions are rejected with 400,
// and a question arriving while a send is in progress with 409; accepted questions return 202
// immediately while the cycle runs in the background and results arrive over SSE.
func (m Main) HandleSend(w http.ResponseWriter, r *http.Request) {
	question := readQuestion(r)
	if strings.TrimSpace(question) == "" {
		m.logger.Error("Question is required")
		http.Error(w, "Question is required", http.StatusBadRequest)
		return
	}

	if m.session.Sending() {
		http.Error(w, "A question is already being answered", http.StatusConflict)
		return
	}

	// The cycle is detached from the request context so closing the POST connection does not
	// abort the in-flight answer.
	go func() {
		if !m.session.Send(context.Background(), question) {
			m.logger.Warn("Question rejected by session", slog.String("question", question))
		}
	}()

	writeJSON(w, http.StatusAccepted, map[string]bool{"accepted": true})
}

// HandleStatus returns the connection state and the time of the last check.
func (m Main) HandleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, m.monitor.Status())
}

// HandleStatusCheck triggers a user-requested reachability check. The check runs in the
// background; its outcome arrives over SSE.
func (m Main) HandleStatusCheck(w http.ResponseWriter, _ *http.Request) {
	go m.monitor.CheckNow(context.Background())
	writeJSON(w, http.StatusAccepted, m.monitor.Status())
}

// HandleWidgetState receives the widget's open/closed transitions and forwards them as one-way
// boundary notifications to the notification port. No acknowledgment body is returned.
func (m Main) HandleWidgetState(w http.ResponseWriter, r *http.Request) {
	var body struct {
		IsOpen bool `json:"isOpen"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		m.logger.Error("Invalid widget state payload", slog.String(errLoggerKey, err.Error()))
		http.Error(w, "Invalid payload", http.StatusBadRequest)
		return
	}

	m.notifier.Notify(models.NewWidgetStateEvent(body.IsOpen))
	w.WriteHeader(http.StatusNoContent)
}

// HandleSSE serves the server-sent events stream carrying message-list and status updates.
func (m Main) HandleSSE(w http.ResponseWriter, r *http.Request) {
	m.sseSrv.ServeHTTP(w, r)
}

func readQuestion(r *http.Request) string {
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		var req sendRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return ""
		}
		return req.Question
	}
	return r.FormValue("message")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
