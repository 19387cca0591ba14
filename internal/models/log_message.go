package models

import (
	"fmt"
	"time"
)

// LogMessage is one structured log event. It is created and stamped by the
// logging service and must not be modified once it has been enqueued: every
// sink receives the same pointer.
type LogMessage struct {
	// Index increases strictly over the lifetime of one service and is never
	// reused, even when the message is later evicted or dropped.
	Index     int64     `json:"index"`
	Timestamp time.Time `json:"timestamp"`

	Machine     string `json:"machine"`
	User        string `json:"user"`
	Application string `json:"application"`
	InstanceID  string `json:"instance_id"`
	Version     string `json:"version"`

	Class  string `json:"class,omitempty"`
	Method string `json:"method,omitempty"`
	Thread int64  `json:"thread"`

	Category   Category `json:"category"`
	Message    string   `json:"message"`
	Attributes string   `json:"attributes,omitempty"`

	// Exception fields are populated only when an error accompanied the call.
	ExceptionLevel Category `json:"exception_level,omitempty"`
	Exception      string   `json:"exception,omitempty"`
	StackTrace     string   `json:"stack_trace,omitempty"`
}

// HasException reports whether an error was attached to the message.
func (m *LogMessage) HasException() bool {
	return m.ExceptionLevel != None || m.Exception != ""
}

// Origin returns "Class.Method" (or whichever part is known).
func (m *LogMessage) Origin() string {
	switch {
	case m.Class != "" && m.Method != "":
		return m.Class + "." + m.Method
	case m.Method != "":
		return m.Method
	default:
		return m.Class
	}
}

func (m *LogMessage) String() string {
	return fmt.Sprintf("#%d %s [%s] %s", m.Index, m.Timestamp.Format(time.RFC3339Nano), m.Category, m.Message)
}
