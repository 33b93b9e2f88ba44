package mocks

import (
	"sync"

	"github.com/copyleftdev/tixrush/internal/taskstypes"
)

// RecordingSink records every notification it receives.
type RecordingSink struct {
	mu     sync.Mutex
	events []taskstypes.Event
}

func NewRecordingSink() *RecordingSink {
	return &RecordingSink{}
}

func (s *RecordingSink) NotifyStart(count int) {
	s.record(taskstypes.StartEvent(count))
}

func (s *RecordingSink) NotifySuccess(ev taskstypes.Event) {
	s.record(ev)
}

func (s *RecordingSink) NotifyError(account, message string) {
	s.record(taskstypes.ErrorEvent(account, message))
}

func (s *RecordingSink) record(ev taskstypes.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
}

// Events returns a copy of everything recorded so far.
func (s *RecordingSink) Events() []taskstypes.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]taskstypes.Event(nil), s.events...)
}

// EventsFor returns the events for one account.
func (s *RecordingSink) EventsFor(account string) []taskstypes.Event {
	var out []taskstypes.Event
	for _, ev := range s.Events() {
		if ev.Account == account {
			out = append(out, ev)
		}
	}
	return out
}

// Count returns how many events of kind were recorded.
func (s *RecordingSink) Count(kind taskstypes.EventKind) int {
	n := 0
	for _, ev := range s.Events() {
		if ev.Kind == kind {
			n++
		}
	}
	return n
}
