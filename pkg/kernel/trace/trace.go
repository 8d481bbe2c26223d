// Package trace implements an append-only, hash-chained JSONL audit trail of
// plan execution.
package trace

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"
	"sync"
	"time"
)

// EventType enumerates all trace event types.
type EventType string

const (
	EventPlanCreated        EventType = "plan_created"
	EventPlanStart          EventType = "plan_start"
	EventPlanComplete       EventType = "plan_complete"
	EventStepStart          EventType = "step_start"
	EventStepComplete       EventType = "step_complete"
	EventFunctionUnresolved EventType = "function_unresolved"
)

// StepStatus is the execution status of a step.
type StepStatus string

const (
	StatusSuccess StepStatus = "success"
	StatusFailed  StepStatus = "failed"
	StatusError   StepStatus = "error"
)

// Event is a single trace event written to the JSONL stream.
type Event struct {
	Type      EventType      `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	RunID     string         `json:"run_id"`
	PrevHash  string         `json:"prev_hash"`
	Data      map[string]any `json:"data,omitempty"`
}

// Failure describes why a step failed.
type Failure struct {
	Kind    string `json:"kind"` // invocation, resolution, cancelled
	Message string `json:"message"`
}

// genesisHash is the prev_hash of the first event in a stream.
var genesisHash = strings.Repeat("0", 64)

// Writer writes trace events to an append-only JSONL stream. A Writer may be
// shared by concurrently running plans.
type Writer struct {
	mu       sync.Mutex
	w        io.Writer
	closer   io.Closer
	runID    string
	prevHash string
	now      func() time.Time
}

// NewWriter creates a trace writer that writes to the given io.Writer.
func NewWriter(w io.Writer, runID string) *Writer {
	return &Writer{
		w:        w,
		runID:    runID,
		prevHash: genesisHash,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// NewFileWriter creates a trace writer that appends to a JSONL file. When the
// file already holds events the chain continues from its last line.
func NewFileWriter(path, runID string) (*Writer, error) {
	prev, err := lastHash(path)
	if err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open trace file: %w", err)
	}
	tw := NewWriter(f, runID)
	tw.closer = f
	tw.prevHash = prev
	return tw, nil
}

// lastHash returns the hash of the last non-empty line of path, or the
// genesis hash when the file is missing or empty.
func lastHash(path string) (string, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return genesisHash, nil
	}
	if err != nil {
		return "", fmt.Errorf("read trace file: %w", err)
	}
	lines := bytes.Split(bytes.TrimRight(data, "\n"), []byte("\n"))
	last := lines[len(lines)-1]
	if len(last) == 0 {
		return genesisHash, nil
	}
	h := sha256.Sum256(last)
	return hex.EncodeToString(h[:]), nil
}

// RunID returns the run identifier stamped on every event.
func (tw *Writer) RunID() string {
	return tw.runID
}

// Close closes the underlying file, if the writer owns one.
func (tw *Writer) Close() error {
	if tw.closer == nil {
		return nil
	}
	return tw.closer.Close()
}

// Emit writes a single trace event.
func (tw *Writer) Emit(eventType EventType, data map[string]any) error {
	tw.mu.Lock()
	defer tw.mu.Unlock()

	evt := Event{
		Type:      eventType,
		Timestamp: tw.now(),
		RunID:     tw.runID,
		PrevHash:  tw.prevHash,
		Data:      data,
	}
	line, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	h := sha256.Sum256(line)
	line = append(line, '\n')
	if _, err := tw.w.Write(line); err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	tw.prevHash = hex.EncodeToString(h[:])
	return nil
}

// EmitPlanCreated emits a plan_created event.
func (tw *Writer) EmitPlanCreated(goal string, steps int, unresolved []string) error {
	data := map[string]any{
		"goal":  goal,
		"steps": steps,
	}
	if len(unresolved) > 0 {
		data["unresolved"] = unresolved
	}
	return tw.Emit(EventPlanCreated, data)
}

// EmitPlanStart emits a plan_start event.
func (tw *Writer) EmitPlanStart(plan string, nextStep, steps int) error {
	return tw.Emit(EventPlanStart, map[string]any{
		"plan":      plan,
		"next_step": nextStep,
		"steps":     steps,
	})
}

// EmitPlanComplete emits a plan_complete event.
func (tw *Writer) EmitPlanComplete(plan string, status StepStatus, duration time.Duration) error {
	return tw.Emit(EventPlanComplete, map[string]any{
		"plan":     plan,
		"status":   string(status),
		"duration": duration.String(),
	})
}

// EmitStepStart emits a step_start event.
func (tw *Writer) EmitStepStart(plan string, index int, function string) error {
	return tw.Emit(EventStepStart, map[string]any{
		"plan":     plan,
		"index":    index,
		"function": function,
	})
}

// EmitStepComplete emits a step_complete event.
func (tw *Writer) EmitStepComplete(plan string, index int, status StepStatus, result string, duration time.Duration, failure *Failure) error {
	data := map[string]any{
		"plan":     plan,
		"index":    index,
		"status":   string(status),
		"duration": duration.String(),
	}
	if result != "" {
		data["result"] = result
	}
	if failure != nil {
		data["failure"] = map[string]any{
			"kind":    failure.Kind,
			"message": failure.Message,
		}
	}
	return tw.Emit(EventStepComplete, data)
}

// EmitFunctionUnresolved emits a function_unresolved event.
func (tw *Writer) EmitFunctionUnresolved(skillName, name string) error {
	return tw.Emit(EventFunctionUnresolved, map[string]any{
		"skill":    skillName,
		"function": name,
	})
}
