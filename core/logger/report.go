package logger

import (
	"encoding/json"
	"io"
	"sort"
	"strconv"

	"github.com/josephlewis42/ushell/core/executor"
	"google.golang.org/protobuf/encoding/protojson"
)

// ReadJSONLinesLog parses a newline delimited JSON log.
func ReadJSONLinesLog(r io.Reader, handler func(le *LogEntry)) error {
	decoder := json.NewDecoder(r)
	for decoder.More() {
		var rawEntry json.RawMessage
		if err := decoder.Decode(&rawEntry); err != nil {
			return err
		}

		var logEntry LogEntry
		if err := protojson.Unmarshal(rawEntry, &logEntry); err != nil {
			return err
		}

		handler(&logEntry)
	}
	return nil
}

func stringField(le *LogEntry, name string) string {
	return le.GetFields()[name].GetStringValue()
}

func numberField(le *LogEntry, name string) int {
	return int(le.GetFields()[name].GetNumberValue())
}

// Report holds statistics about the logged events.
type Report struct {
	LogEntries     int        `json:"log_entries"`
	InvalidEntries StrCounter `json:"unknown_log_entries,omitempty"`

	sessions map[string]bool

	Jobs       JobReport        `json:"job_report"`
	ExecFailed ExecFailedReport `json:"exec_failed_report"`
}

// MarshalJSON adds the session count to the report.
func (r Report) MarshalJSON() ([]byte, error) {
	type plain Report
	return json.Marshal(struct {
		Sessions int `json:"sessions"`
		plain
	}{
		Sessions: len(r.sessions),
		plain:    plain(r),
	})
}

func (r *Report) Update(le *LogEntry) {
	r.LogEntries++

	if id := stringField(le, FieldSessionID); id != "" {
		if r.sessions == nil {
			r.sessions = make(map[string]bool)
		}
		r.sessions[id] = true
	}

	switch event := stringField(le, FieldEvent); event {
	case executor.EventJobStarted:
		r.Jobs.Started++
		r.Jobs.CommandNames.Increment(stringField(le, "command"))
	case executor.EventJobStopped:
		r.Jobs.Stopped++
		r.Jobs.StoppedCommands.Increment(stringField(le, "command"))
	case executor.EventJobResumed:
		r.Jobs.Resumed++
	case executor.EventJobDone:
		r.Jobs.update(le)
	case EventExecFailed:
		r.ExecFailed.update(le)
	default:
		r.InvalidEntries.Increment(event)
	}
}

type JobReport struct {
	Started int `json:"started"`
	Stopped int `json:"stopped"`
	Resumed int `json:"resumed"`
	Done    int `json:"done"`

	// Display text of jobs started in the background.
	CommandNames StrCounter `json:"command_names"`
	// Display text of jobs that were stopped.
	StoppedCommands StrCounter   `json:"stopped_commands"`
	ExitStatuses    *PathCounter `json:"exit_statuses"`
}

func (r *JobReport) update(le *LogEntry) {
	r.Done++
	if r.ExitStatuses == nil {
		r.ExitStatuses = NewPathCounter("command", "exit_status")
	}
	r.ExitStatuses.Increment(stringField(le, "command"), strconv.Itoa(numberField(le, "exit_status")))
}

type ExecFailedReport struct {
	Count  int          `json:"count"`
	Errors *PathCounter `json:"errors"`
}

func (r *ExecFailedReport) update(le *LogEntry) {
	r.Count++
	if r.Errors == nil {
		r.Errors = NewPathCounter("command", "error")
	}
	r.Errors.Increment(stringField(le, "command"), stringField(le, "error"))
}

// StrCounter counts the number of strings seen.
type StrCounter struct {
	internal map[string]int
}

// Increment adds one to the given key.
func (s *StrCounter) Increment(toAdd string) {
	if s.internal == nil {
		s.internal = make(map[string]int)
	}

	s.internal[toAdd]++
}

// Count returns how many times key was seen.
func (s *StrCounter) Count(key string) int {
	return s.internal[key]
}

// MarshalJSON implemnts custom JSON marshaler.
func (s StrCounter) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.internal)
}

func NewPathCounter(cols ...string) *PathCounter {
	return &PathCounter{
		cols:     cols,
		internal: make(map[string]int),
	}
}

// PathCounter counts the number of tuples seen.
type PathCounter struct {
	cols     []string
	internal map[string]int
}

// Increment adds one to the given key.
func (ctr *PathCounter) Increment(toAdd ...string) {
	if len(toAdd) != len(ctr.cols) {
		panic("wrong number of columns to add")
	}

	ctr.internal[toKey(toAdd...)]++
}

// MarshalJSON implemnts custom JSON marshaler.
func (ctr *PathCounter) MarshalJSON() ([]byte, error) {
	type Count struct {
		Count  int               `json:"count"`
		Fields map[string]string `json:"event"`
		Path   string            `json:"-"`
	}

	var out []Count
	for k, v := range ctr.internal {
		count := Count{
			Count:  v,
			Path:   k,
			Fields: make(map[string]string),
		}

		splitPath := fromKey(k)
		for colNum, colVal := range ctr.cols {
			count.Fields[colVal] = splitPath[colNum]
		}

		out = append(out, count)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Count == out[j].Count {
			return out[i].Path < out[j].Path
		}
		return out[i].Count > out[j].Count
	})

	return json.Marshal(out)
}

func toKey(vals ...string) string {
	key, _ := json.Marshal(vals)
	return string(key)
}

func fromKey(key string) (out []string) {
	json.Unmarshal([]byte(key), &out)
	return
}
