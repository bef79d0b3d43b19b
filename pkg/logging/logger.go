package logging

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/odvcencio/batchq/pkg/telemetry"
)

// Level represents journal severity
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Category represents the subsystem generating the journal entry
type Category string

const (
	CategoryQueue    Category = "queue"
	CategoryJob      Category = "job"
	CategoryApproval Category = "approval"
	CategoryTool     Category = "tool"
	CategoryRemote   Category = "remote"
)

// Event represents a structured journal event
type Event struct {
	Timestamp time.Time      `json:"timestamp"`
	Level     Level          `json:"level"`
	Category  Category       `json:"category"`
	EventType string         `json:"type"`
	SessionID string         `json:"session_id,omitempty"`
	RunID     string         `json:"run_id,omitempty"`
	JobKey    string         `json:"job_key,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
	Message   string         `json:"message,omitempty"`
}

// Journal writes structured events to JSONL files: one per session, plus
// shared errors.jsonl and approvals.jsonl files.
type Journal struct {
	sessionID    string
	baseDir      string
	sessionFile  *os.File
	errorFile    *os.File
	approvalFile *os.File
	mu           sync.Mutex
	minLevel     Level
}

// NewJournal creates the journal directories and opens its files.
func NewJournal(baseDir, sessionID string) (*Journal, error) {
	sessionsDir := filepath.Join(baseDir, "sessions")
	if err := os.MkdirAll(sessionsDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create journal directory: %w", err)
	}

	open := func(path string) (*os.File, error) {
		return os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	}

	sessionFile, err := open(filepath.Join(sessionsDir, sessionID+".jsonl"))
	if err != nil {
		return nil, fmt.Errorf("failed to open session journal: %w", err)
	}
	errorFile, err := open(filepath.Join(baseDir, "errors.jsonl"))
	if err != nil {
		sessionFile.Close()
		return nil, fmt.Errorf("failed to open error journal: %w", err)
	}
	approvalFile, err := open(filepath.Join(baseDir, "approvals.jsonl"))
	if err != nil {
		sessionFile.Close()
		errorFile.Close()
		return nil, fmt.Errorf("failed to open approval journal: %w", err)
	}

	return &Journal{
		sessionID:    sessionID,
		baseDir:      baseDir,
		sessionFile:  sessionFile,
		errorFile:    errorFile,
		approvalFile: approvalFile,
		minLevel:     LevelInfo,
	}, nil
}

// SetMinLevel sets the minimum journal level
func (j *Journal) SetMinLevel(level Level) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.minLevel = level
}

// Log writes an event to the session file and, depending on level and
// category, to the error and approval files.
func (j *Journal) Log(event Event) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if event.SessionID == "" {
		event.SessionID = j.sessionID
	}
	if !j.shouldLog(event.Level) {
		return nil
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	data = append(data, '\n')

	if j.sessionFile != nil {
		if _, err := j.sessionFile.Write(data); err != nil {
			return fmt.Errorf("failed to write to session journal: %w", err)
		}
	}
	if event.Level == LevelError && j.errorFile != nil {
		if _, err := j.errorFile.Write(data); err != nil {
			return fmt.Errorf("failed to write to error journal: %w", err)
		}
	}
	if event.Category == CategoryApproval && j.approvalFile != nil {
		if _, err := j.approvalFile.Write(data); err != nil {
			return fmt.Errorf("failed to write to approval journal: %w", err)
		}
	}
	return nil
}

var levelRank = map[Level]int{
	LevelDebug: 0,
	LevelInfo:  1,
	LevelWarn:  2,
	LevelError: 3,
}

func (j *Journal) shouldLog(level Level) bool {
	return levelRank[level] >= levelRank[j.minLevel]
}

// Follow journals telemetry events until the channel is closed.
func (j *Journal) Follow(events <-chan telemetry.Event) {
	for ev := range events {
		_ = j.Log(FromTelemetry(ev))
	}
}

// FromTelemetry maps a hub event to a journal event.
func FromTelemetry(ev telemetry.Event) Event {
	out := Event{
		Timestamp: ev.Timestamp,
		Level:     LevelInfo,
		Category:  CategoryQueue,
		EventType: string(ev.Type),
		RunID:     ev.RunID,
		JobKey:    ev.JobKey,
		Details:   ev.Data,
	}
	switch ev.Type {
	case telemetry.EventJobStarted, telemetry.EventJobCompleted:
		out.Category = CategoryJob
		out.Level = LevelDebug
		if ev.Type == telemetry.EventJobCompleted {
			out.Level = LevelInfo
		}
	case telemetry.EventJobFailed:
		out.Category = CategoryJob
		out.Level = LevelError
	case telemetry.EventRunFailed:
		out.Level = LevelError
	case telemetry.EventApprovalDecided:
		out.Category = CategoryApproval
	case telemetry.EventApprovalDenied:
		out.Category = CategoryApproval
		out.Level = LevelWarn
	}
	if msg, ok := ev.Data["error"].(string); ok {
		out.Message = msg
	}
	return out
}

// Close closes all journal files
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	var errs []error
	for _, f := range []*os.File{j.sessionFile, j.errorFile, j.approvalFile} {
		if f == nil {
			continue
		}
		if err := f.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	j.sessionFile, j.errorFile, j.approvalFile = nil, nil, nil

	if len(errs) > 0 {
		return fmt.Errorf("errors closing journal files: %v", errs)
	}
	return nil
}

// ReadRecentEvents reads the last count events from a journal file.
func ReadRecentEvents(path string, count int) ([]Event, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}
	defer file.Close()

	var events []Event
	decoder := json.NewDecoder(file)
	for {
		var event Event
		if err := decoder.Decode(&event); err != nil {
			break
		}
		events = append(events, event)
	}

	if len(events) > count {
		events = events[len(events)-count:]
	}
	return events, nil
}
