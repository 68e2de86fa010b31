// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package logger

import (
	"encoding/json"
	"io"
	"log"
	"os"
	"strings"
	"sync"
	"time"
)

// LogLevel represents the severity of a log entry
type LogLevel string

const (
	DEBUG LogLevel = "DEBUG"
	INFO  LogLevel = "INFO"
	WARN  LogLevel = "WARN"
	ERROR LogLevel = "ERROR"
)

var levelRank = map[LogLevel]int{DEBUG: 0, INFO: 1, WARN: 2, ERROR: 3}

// ParseLevel maps a config string onto a LogLevel, defaulting to INFO.
func ParseLevel(s string) LogLevel {
	switch LogLevel(strings.ToUpper(strings.TrimSpace(s))) {
	case DEBUG:
		return DEBUG
	case WARN:
		return WARN
	case ERROR:
		return ERROR
	default:
		return INFO
	}
}

// Logger writes one JSON object per line. Every entry is stamped with the
// component that produced it and the pipeline request it belongs to.
type Logger struct {
	Component  string
	InstanceID string
	Container  string

	mu       sync.RWMutex
	minLevel LogLevel
	out      *log.Logger
}

// LogEntry is the on-the-wire shape of a log line
type LogEntry struct {
	Timestamp  string                 `json:"timestamp"`
	Level      LogLevel               `json:"level"`
	Component  string                 `json:"component"`
	InstanceID string                 `json:"instance_id"`
	Container  string                 `json:"container"`
	RequestID  string                 `json:"request_id,omitempty"`
	Message    string                 `json:"message"`
	Fields     map[string]interface{} `json:"fields,omitempty"`
}

// New creates a Logger for the component that writes to stdout
func New(component string) *Logger {
	return NewWithWriter(component, os.Stdout)
}

// NewWithWriter creates a Logger that writes to w (tests pass a buffer)
func NewWithWriter(component string, w io.Writer) *Logger {
	instanceID := os.Getenv("INSTANCE_ID")
	if instanceID == "" {
		instanceID = "unknown"
	}

	container, err := os.Hostname()
	if err != nil {
		container = "unknown"
	}

	return &Logger{
		Component:  component,
		InstanceID: instanceID,
		Container:  container,
		minLevel:   INFO,
		out:        log.New(w, "", 0),
	}
}

// SetLevel drops entries below level
func (l *Logger) SetLevel(level LogLevel) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.minLevel = level
}

func (l *Logger) enabled(level LogLevel) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return levelRank[level] >= levelRank[l.minLevel]
}

// Log builds a structured entry and writes it as a single line
func (l *Logger) Log(level LogLevel, requestID, message string, fields map[string]interface{}) {
	if !l.enabled(level) {
		return
	}

	entry := LogEntry{
		Timestamp:  time.Now().UTC().Format(time.RFC3339Nano),
		Level:      level,
		Component:  l.Component,
		InstanceID: l.InstanceID,
		Container:  l.Container,
		RequestID:  requestID,
		Message:    message,
		Fields:     fields,
	}

	jsonBytes, err := json.Marshal(entry)
	if err != nil {
		l.out.Printf("ERROR: failed to marshal log entry for %q: %v", message, err)
		return
	}

	l.out.Println(string(jsonBytes))
}

// Debug logs a debug message
func (l *Logger) Debug(requestID, message string, fields map[string]interface{}) {
	l.Log(DEBUG, requestID, message, fields)
}

// Info logs an informational message
func (l *Logger) Info(requestID, message string, fields map[string]interface{}) {
	l.Log(INFO, requestID, message, fields)
}

// Warn logs a warning message
func (l *Logger) Warn(requestID, message string, fields map[string]interface{}) {
	l.Log(WARN, requestID, message, fields)
}

// Error logs an error message
func (l *Logger) Error(requestID, message string, fields map[string]interface{}) {
	l.Log(ERROR, requestID, message, fields)
}

// InfoWithDuration logs an info message with a duration_ms field
func (l *Logger) InfoWithDuration(requestID, message string, d time.Duration, fields map[string]interface{}) {
	if fields == nil {
		fields = make(map[string]interface{})
	}
	fields["duration_ms"] = float64(d.Microseconds()) / 1000.0
	l.Info(requestID, message, fields)
}

// ErrorWithErr logs an error message carrying err under the "error" field
func (l *Logger) ErrorWithErr(requestID, message string, err error, fields map[string]interface{}) {
	if fields == nil {
		fields = make(map[string]interface{})
	}
	if err != nil {
		fields["error"] = err.Error()
	}
	l.Error(requestID, message, fields)
}
