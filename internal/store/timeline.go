package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dcastano/ensemble/pkg/schema"
)

// Timeline provides append and replay operations over the run event log.
type Timeline struct {
	store Store
}

// NewTimeline wraps a Store to provide timeline operations.
func NewTimeline(s Store) *Timeline {
	return &Timeline{store: s}
}

// Record appends an event with an arbitrary payload, marshalled to JSON.
// A nil payload appends a bare event.
func (t *Timeline) Record(ctx context.Context, runID, nodeKey, eventType string, payload any) error {
	var raw json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal event payload: %w", err)
		}
		raw = b
	}
	return t.store.AppendEvent(ctx, &Event{
		RunID:     runID,
		NodeKey:   nodeKey,
		Type:      eventType,
		Payload:   raw,
		Timestamp: time.Now().UTC(),
	})
}

// Events returns the timeline for a run with sequence > since, oldest first.
func (t *Timeline) Events(ctx context.Context, runID string, since int64) ([]*Event, error) {
	return t.store.GetEvents(ctx, runID, since)
}

// Replay reconstructs per-node task states from the timeline.
// Returns an error if sequence gaps are detected.
func (t *Timeline) Replay(ctx context.Context, runID string) (map[string]*TaskRecord, error) {
	events, err := t.store.GetEvents(ctx, runID, 0)
	if err != nil {
		return nil, fmt.Errorf("get events for replay: %w", err)
	}

	if len(events) == 0 {
		return make(map[string]*TaskRecord), nil
	}

	// Validate sequence contiguity.
	for i, e := range events {
		expected := int64(i + 1)
		if e.Sequence != expected {
			return nil, schema.NewErrorf(schema.ErrCodeStore,
				"sequence gap in run %s: expected %d, got %d", runID, expected, e.Sequence)
		}
	}

	tasks := make(map[string]*TaskRecord)

	for _, e := range events {
		if e.NodeKey == "" {
			continue
		}

		tr, ok := tasks[e.NodeKey]
		if !ok {
			tr = &TaskRecord{
				RunID:   runID,
				NodeKey: e.NodeKey,
				Status:  schema.TaskStatusPending,
			}
			tasks[e.NodeKey] = tr
		}

		switch e.Type {
		case schema.EventTaskScheduled:
			tr.Status = schema.TaskStatusScheduled

		case schema.EventTaskStarted:
			tr.Status = schema.TaskStatusRunning
			ts := e.Timestamp
			tr.StartedAt = &ts

		case schema.EventTaskCompleted:
			tr.Status = schema.TaskStatusCompleted
			ts := e.Timestamp
			tr.CompletedAt = &ts
			tr.Output = string(e.Payload)
			if tr.StartedAt != nil {
				tr.DurationMs = ts.Sub(*tr.StartedAt).Milliseconds()
			}

		case schema.EventTaskFailed:
			tr.Status = schema.TaskStatusFailed
			tr.Error = string(e.Payload)

		case schema.EventTaskCancelled:
			tr.Status = schema.TaskStatusCancelled
		}
	}

	return tasks, nil
}

// RunNotes adapts the timeline to a per-run audit note sink.
type RunNotes struct {
	timeline *Timeline
	runID    string
}

// NotesFor returns a note sink scoped to one run.
func (t *Timeline) NotesFor(runID string) *RunNotes {
	return &RunNotes{timeline: t, runID: runID}
}

// Note appends an audit note event to the run timeline.
func (n *RunNotes) Note(ctx context.Context, note string) error {
	return n.timeline.Record(ctx, n.runID, "", schema.EventAuditNote, map[string]string{"note": note})
}
