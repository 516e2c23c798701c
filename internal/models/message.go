package models

import "time"

// Message represents an individual entry in the widget's conversation. It contains the core
// components of a chat message including its unique identifier, the sender, the raw text, and the
// precise time when the message was created. Bot messages that answered a question additionally
// carry the measured round-trip duration, the source documents backing the answer, and an opaque
// processing-time label reported by the answer service.
type Message struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	Sender    Sender    `json:"sender"`
	Timestamp time.Time `json:"timestamp"`

	ResponseTime   time.Duration `json:"responseTime,omitempty"`
	Sources        []string      `json:"sources,omitempty"`
	ProcessingTime string        `json:"processingTime,omitempty"`

	// Loading marks the transient placeholder shown while an answer is pending. At most one
	// message in a session carries this flag, and it is always replaced, never mutated.
	Loading bool `json:"loading,omitempty"`
	// Error marks a terminal diagnostic message, which the view renders as plain text instead
	// of markdown.
	Error bool `json:"error,omitempty"`
}

// Sender identifies which side of the conversation produced a message.
type Sender string

const (
	// SenderUser represents a message typed by the visitor.
	SenderUser Sender = "user"
	// SenderBot represents a message produced by the widget, either an answer or a diagnostic.
	SenderBot Sender = "bot"
)

// AnswerResult is a successful response from the answer service.
type AnswerResult struct {
	Text           string
	Sources        []string
	ProcessingTime string
}

// WidgetStateEvent is the one-way boundary notification emitted to the embedding host context
// whenever the widget's open/closed state changes. No acknowledgment is expected.
type WidgetStateEvent struct {
	Type   string `json:"type"`
	IsOpen bool   `json:"isOpen"`
}

// WidgetStateEventType is the fixed type discriminator of WidgetStateEvent.
const WidgetStateEventType = "CHAT_WIDGET_STATE"

// NewWidgetStateEvent builds the boundary event for the given open state.
func NewWidgetStateEvent(isOpen bool) WidgetStateEvent {
	return WidgetStateEvent{Type: WidgetStateEventType, IsOpen: isOpen}
}

// DedupSources drops empty entries and exact duplicates from a source list, preserving the order
// of first occurrence. Matching is case-sensitive.
func DedupSources(sources []string) []string {
	if len(sources) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(sources))
	var out []string
	for _, s := range sources {
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
