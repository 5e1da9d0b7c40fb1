// Package telemetry timestamps approval lifecycle events and emits a
// duration summary when an approval finishes. It is a diagnostic sidecar:
// nothing here blocks or fails the approval pipeline.
package telemetry

import (
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"livepatch/internal/logging"
	"livepatch/internal/types"
)

// Event is a named lifecycle point.
type Event string

const (
	PreviewApplied         Event = "preview_applied"
	PatchGenerationStarted Event = "patch_generation_started"
	PatchReady             Event = "patch_ready"
	PatchFailed            Event = "patch_failed"
	UserAccept             Event = "user_accept"
	AutoAccept             Event = "auto_accept"
	UserReject             Event = "user_reject"
	AutoCancel             Event = "auto_cancel"
	SourceWriteStarted     Event = "source_write_started"
	SourceWriteSucceeded   Event = "source_write_succeeded"
	SourceWriteFailed      Event = "source_write_failed"
)

// Summary is emitted once per finished approval. A nil duration means one
// of its endpoints was never recorded.
type Summary struct {
	ID              string         `json:"id"`
	Outcome         types.Outcome  `json:"outcome"`
	PreviewToReady  *time.Duration `json:"previewToReady,omitempty"`
	PatchGeneration *time.Duration `json:"patchGeneration,omitempty"`
	AcceptToWrite   *time.Duration `json:"acceptToWrite,omitempty"`
	Lifecycle       *time.Duration `json:"lifecycle,omitempty"`
	Events          []Event        `json:"events"`
}

// Sink receives finalized summaries.
type Sink interface {
	Emit(Summary)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Summary)

// Emit implements Sink.
func (f SinkFunc) Emit(s Summary) { f(s) }

type record struct {
	at    map[Event]time.Time
	order []Event
}

// Recorder holds in-flight records keyed by approval id.
type Recorder struct {
	mu      sync.Mutex
	records map[string]*record
	sink    Sink
	now     func() time.Time
}

// NewRecorder creates a recorder; sink may be nil.
func NewRecorder(sink Sink) *Recorder {
	return &Recorder{
		records: make(map[string]*record),
		sink:    sink,
		now:     time.Now,
	}
}

// Mark records the first occurrence of event for id. Repeats are ignored.
func (r *Recorder) Mark(id string, event Event) {
	if r == nil || id == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	if !ok {
		rec = &record{at: make(map[Event]time.Time)}
		r.records[id] = rec
	}
	if _, seen := rec.at[event]; seen {
		return
	}
	rec.at[event] = r.now()
	rec.order = append(rec.order, event)
}

// Has reports whether event was recorded for id.
func (r *Recorder) Has(id string, event Event) bool {
	if r == nil {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	if !ok {
		return false
	}
	_, seen := rec.at[event]
	return seen
}

// Finalize computes the summary for id, emits it and discards the record.
func (r *Recorder) Finalize(id string, outcome types.Outcome) Summary {
	if r == nil {
		return Summary{ID: id, Outcome: outcome}
	}
	r.mu.Lock()
	rec := r.records[id]
	delete(r.records, id)
	end := r.now()
	r.mu.Unlock()

	s := Summary{ID: id, Outcome: outcome}
	if rec != nil {
		s.Events = append([]Event(nil), rec.order...)
		s.PreviewToReady = rec.between(PreviewApplied, PatchReady)
		s.PatchGeneration = rec.between(PatchGenerationStarted, PatchReady, PatchFailed)
		if rec.has(UserAccept) {
			s.AcceptToWrite = rec.between(UserAccept, SourceWriteSucceeded, SourceWriteFailed)
		} else {
			s.AcceptToWrite = rec.between(AutoAccept, SourceWriteSucceeded, SourceWriteFailed)
		}
		if start, ok := rec.at[PreviewApplied]; ok {
			d := end.Sub(start)
			s.Lifecycle = &d
		}
	}

	logging.Get(logging.CategoryTelemetry).Structured(zapcore.InfoLevel, "dom edit telemetry",
		zap.String("id", id),
		zap.String("outcome", string(outcome)),
		zap.Durationp("preview_to_ready", s.PreviewToReady),
		zap.Durationp("patch_generation", s.PatchGeneration),
		zap.Durationp("accept_to_write", s.AcceptToWrite),
		zap.Durationp("lifecycle", s.Lifecycle),
		zap.Int("events", len(s.Events)),
	)
	r.emit(s)
	return s
}

// Pending returns how many approvals have open records.
func (r *Recorder) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records)
}

func (r *Recorder) emit(s Summary) {
	if r.sink == nil {
		return
	}
	defer func() {
		if p := recover(); p != nil {
			logging.Get(logging.CategoryTelemetry).Warn("telemetry sink panicked: %v", p)
		}
	}()
	r.sink.Emit(s)
}

func (rec *record) has(e Event) bool {
	_, ok := rec.at[e]
	return ok
}

// between measures from start to the first recorded of ends.
func (rec *record) between(start Event, ends ...Event) *time.Duration {
	from, ok := rec.at[start]
	if !ok {
		return nil
	}
	for _, e := range ends {
		if to, ok := rec.at[e]; ok {
			d := to.Sub(from)
			return &d
		}
	}
	return nil
}
