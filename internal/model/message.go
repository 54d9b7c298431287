package model

import "encoding/json"

// MessageKind discriminates the outbound messages produced for subscribers.
type MessageKind string

const (
	KindInitialLogs MessageKind = "initial_logs"
	KindNewLog      MessageKind = "new_log"
	KindError       MessageKind = "error"
)

// Message is the only thing the streaming core ever writes to a subscriber.
// Which fields are meaningful depends on Kind.
type Message struct {
	Kind   MessageKind
	Source SourceID
	Lines  []string // initial_logs
	Line   string   // new_log
	Error  string   // error
}

// InitialLogs builds an initial_logs message. A nil slice is sent as [].
func InitialLogs(src SourceID, lines []string) Message {
	if lines == nil {
		lines = []string{}
	}
	return Message{Kind: KindInitialLogs, Source: src, Lines: lines}
}

// NewLog builds a new_log message.
func NewLog(src SourceID, line string) Message {
	return Message{Kind: KindNewLog, Source: src, Line: line}
}

// ErrorMessage builds an error message.
func ErrorMessage(src SourceID, text string) Message {
	return Message{Kind: KindError, Source: src, Error: text}
}

type initialLogsWire struct {
	Type   MessageKind `json:"type"`
	Logs   []string    `json:"logs"`
	Source SourceID    `json:"source_id"`
}

type newLogWire struct {
	Type   MessageKind `json:"type"`
	Log    string      `json:"log"`
	Source SourceID    `json:"source_id"`
}

type errorWire struct {
	Type    MessageKind `json:"type"`
	Message string      `json:"message"`
	Source  SourceID    `json:"source_id"`
}

// MarshalJSON encodes the message in the wire shape the browser viewer expects.
func (m Message) MarshalJSON() ([]byte, error) {
	switch m.Kind {
	case KindInitialLogs:
		lines := m.Lines
		if lines == nil {
			lines = []string{}
		}
		return json.Marshal(initialLogsWire{Type: m.Kind, Logs: lines, Source: m.Source})
	case KindNewLog:
		return json.Marshal(newLogWire{Type: m.Kind, Log: m.Line, Source: m.Source})
	default:
		return json.Marshal(errorWire{Type: m.Kind, Message: m.Error, Source: m.Source})
	}
}

// UnmarshalJSON decodes any of the wire shapes back into a Message.
func (m *Message) UnmarshalJSON(data []byte) error {
	var raw struct {
		Type    MessageKind `json:"type"`
		Logs    []string    `json:"logs"`
		Log     string      `json:"log"`
		Message string      `json:"message"`
		Source  SourceID    `json:"source_id"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*m = Message{
		Kind:   raw.Type,
		Source: raw.Source,
		Lines:  raw.Logs,
		Line:   raw.Log,
		Error:  raw.Message,
	}
	return nil
}
