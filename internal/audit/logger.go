// Package audit appends one JSON line per workflow action so a clinic can
// reconstruct what happened to any card after the fact.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/card-capture/ccd/internal/auth"
)

// Entry is a single audit record.
type Entry struct {
	Timestamp time.Time      `json:"ts"`
	User      string         `json:"user"`
	RunID     string         `json:"runId,omitempty"`
	CardHex   string         `json:"cardHex,omitempty"`
	Action    string         `json:"action"`
	Details   map[string]any `json:"details,omitempty"`
	Outcome   string         `json:"outcome"`
}

// Logger writes append-only JSONL audit records.
type Logger struct {
	mu       sync.Mutex
	filePath string
	file     *os.File
}

// NewLogger opens the audit log under logDir, creating the directory when
// needed.
func NewLogger(logDir string) (*Logger, error) {
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	filePath := filepath.Join(logDir, "audit.jsonl")

	file, err := os.OpenFile(filePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit log file: %w", err)
	}

	return &Logger{filePath: filePath, file: file}, nil
}

// LogAction records one workflow action. The outcome is "SUCCESS",
// "REJECTED", "FAILED" or "CANCELLED"; details carry anything worth keeping
// (decode origin, backend message, protocol version).
func (l *Logger) LogAction(ctx context.Context, action, runID, cardHex, outcome string, details map[string]any) {
	entry := Entry{
		Timestamp: time.Now().UTC(),
		User:      userFromContext(ctx),
		RunID:     runID,
		CardHex:   cardHex,
		Action:    action,
		Details:   details,
		Outcome:   outcome,
	}
	l.writeEntry(entry)
}

// writeEntry appends one JSON line. Audit failures must never break the
// workflow, so they only reach stderr.
func (l *Logger) writeEntry(entry Entry) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return
	}

	jsonData, err := json.Marshal(entry)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to marshal audit entry: %v\n", err)
		return
	}

	if _, err := l.file.Write(append(jsonData, '\n')); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to write audit entry: %v\n", err)
		return
	}

	if err := l.file.Sync(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to sync audit log: %v\n", err)
	}
}

// userFromContext extracts the authenticated subject placed in the context
// by the auth middleware.
func userFromContext(ctx context.Context) string {
	if subject := auth.SubjectFromContext(ctx); subject != "" {
		return subject
	}
	return "unknown"
}

// Close closes the audit logger and its file.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file != nil {
		err := l.file.Close()
		l.file = nil
		return err
	}
	return nil
}

// GetFilePath returns the path to the audit log file.
func (l *Logger) GetFilePath() string {
	return l.filePath
}

// Rotate renames the current log aside and starts a fresh file.
func (l *Logger) Rotate() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file != nil {
		if err := l.file.Close(); err != nil {
			return fmt.Errorf("failed to close current log file: %w", err)
		}
	}

	timestamp := time.Now().Format("20060102-150405")
	newFilePath := fmt.Sprintf("%s.%s", l.filePath, timestamp)

	if err := os.Rename(l.filePath, newFilePath); err != nil {
		return fmt.Errorf("failed to rename log file: %w", err)
	}

	file, err := os.OpenFile(l.filePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open new log file: %w", err)
	}

	l.file = file
	return nil
}
