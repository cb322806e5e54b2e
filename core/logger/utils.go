package logger

import (
	"fmt"
	"io"
	"math/rand"
	"time"

	"github.com/josephlewis42/ushell/core/executor"
	"github.com/josephlewis42/ushell/core/jobs"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

// EventExecFailed is recorded for pipelines that couldn't be started. Job
// lifecycle events use the executor's event names.
const EventExecFailed = "exec_failed"

// Common entry fields.
const (
	FieldTimestampMicros = "timestamp_micros"
	FieldSessionID       = "session_id"
	FieldEvent           = "event"
)

// LogEntry is a single event.
type LogEntry = structpb.Struct

// LogRecorder is a callback that stores events in an external datastore.
type LogRecorder func(le *LogEntry) error

// Logger captures job events so sessions can be reviewed later.
type Logger struct {
	Record LogRecorder
	now    func() time.Time
}

// NewJsonLinesLogRecorder creates a Logger that exports logs in newline
// delimited JSON object format.
func NewJsonLinesLogRecorder(w io.Writer) *Logger {
	return &Logger{
		Record: func(le *LogEntry) error {
			entry, err := protojson.Marshal(le)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(w, string(entry))
			return err
		},
	}
}

func (l *Logger) recordEvent(sessionID, event string, fields map[string]interface{}) error {
	now := time.Now
	if l.now != nil {
		now = l.now
	}

	values := map[string]interface{}{
		FieldTimestampMicros: now().UnixMicro(),
		FieldSessionID:       sessionID,
		FieldEvent:           event,
	}
	for k, v := range fields {
		values[k] = v
	}

	le, err := structpb.NewStruct(values)
	if err != nil {
		return err
	}
	return l.Record(le)
}

// NewSession creates a logger with attached session ID.
func (l *Logger) NewSession() *SessionLogger {
	return &SessionLogger{Logger: l, sessionID: fmt.Sprintf("%d", rand.Uint64())}
}

// SessionLogger logs messages with a shared session ID.
type SessionLogger struct {
	*Logger
	sessionID string
}

// SessionID returns the ID attached to every entry.
func (l *SessionLogger) SessionID() string {
	return l.sessionID
}

// Record writes an event with the given fields.
func (l *SessionLogger) Record(event string, fields map[string]interface{}) error {
	return l.recordEvent(l.sessionID, event, fields)
}

var _ executor.EventRecorder = (*SessionLogger)(nil)

// JobEvent records a job lifecycle transition. Write errors are dropped,
// event logging never interrupts a job.
func (l *SessionLogger) JobEvent(event string, j *jobs.Job) {
	_ = l.Record(event, map[string]interface{}{
		"job_id":      j.ID,
		"pid":         j.Pid,
		"pgid":        j.Group(),
		"command":     j.Command,
		"status":      j.Status.String(),
		"background":  j.Background,
		"exit_status": j.ExitStatus,
	})
}

// ExecFailed records a pipeline that couldn't be started.
func (l *SessionLogger) ExecFailed(command string, err error) {
	_ = l.Record(EventExecFailed, map[string]interface{}{
		"command": command,
		"error":   err.Error(),
	})
}
