package events

import "sync"

// Recorder is an Emitter that retains emitted events in order. It backs
// the RPC event feed and provides deterministic assertions in tests. A
// bounded recorder keeps only the most recent events once the limit is hit.
type Recorder struct {
	mu     sync.Mutex
	events []Event
	limit  int
}

// NewRecorder returns an unbounded event recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// NewBoundedRecorder returns a recorder that retains at most limit events,
// discarding the oldest first. A non-positive limit means unbounded.
func NewBoundedRecorder(limit int) *Recorder {
	return &Recorder{limit: limit}
}

// Emit implements the Emitter interface.
func (r *Recorder) Emit(evt Event) {
	if r == nil || evt == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
	if r.limit > 0 && len(r.events) > r.limit {
		overflow := len(r.events) - r.limit
		r.events = append(r.events[:0], r.events[overflow:]...)
	}
}

// Events returns a snapshot of the recorded events in emission order.
func (r *Recorder) Events() []Event {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	snapshot := make([]Event, len(r.events))
	copy(snapshot, r.events)
	return snapshot
}

// ByType returns the recorded events matching the supplied type in order.
func (r *Recorder) ByType(eventType string) []Event {
	var matched []Event
	for _, evt := range r.Events() {
		if evt.EventType() == eventType {
			matched = append(matched, evt)
		}
	}
	return matched
}
