package audit

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

// LogEntry defines the structured audit log
type LogEntry struct {
	Timestamp time.Time              `json:"timestamp"`
	RequestID string                 `json:"request_id,omitempty"`
	ActorID   string                 `json:"actor_id"`
	Action    string                 `json:"action"`             // e.g. auth.login.success, or method + route
	Resource  string                 `json:"resource"`           // login, account, session or request path
	Category  string                 `json:"category,omitempty"` // account category, when known
	Status    int                    `json:"status,omitempty"`   // HTTP status, request entries only
	Outcome   string                 `json:"outcome,omitempty"`  // "ok" or an error code
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// Logger interface
type Logger interface {
	Log(entry LogEntry)
}

// JSONLogger writes one JSON object per line to an io.Writer.
type JSONLogger struct {
	mu  sync.Mutex
	out io.Writer
}

func NewJSONLogger(w io.Writer) *JSONLogger {
	return &JSONLogger{out: w}
}

func (l *JSONLogger) Log(entry LogEntry) {
	if entry.Metadata != nil {
		entry.Metadata = maskSensitive(entry.Metadata)
	}

	bytes, err := json.Marshal(entry)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Audit log error: %v\n", err)
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.out.Write(append(bytes, '\n'))
}

// Discard drops every entry.
type Discard struct{}

func (Discard) Log(LogEntry) {}

var sensitiveKeys = []string{"api_key", "password", "token", "secret", "hwid", "fingerprint", "signature", "authorization"}

// maskSensitive returns a copy of m with credential-like values redacted.
func maskSensitive(m map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = v
		lowerK := strings.ToLower(k)
		for _, s := range sensitiveKeys {
			if strings.Contains(lowerK, s) {
				out[k] = "***REDACTED***"
				break
			}
		}
	}
	return out
}
