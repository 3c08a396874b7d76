// Package testutils provides intents, listeners and watch helpers shared by
// the tests of the intent packages.
package testutils

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/docker/go-events"
	"github.com/intentkit/intentkit/api"
	"github.com/intentkit/intentkit/manager/state"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

// Intent types used by tests. MockInstallableChild has no installer of its
// own and resolves to the one of MockInstallable.
const (
	TypeMock                 api.IntentType = "test-mock"
	TypeMockInstallable      api.IntentType = "test-mock-installable"
	TypeMockInstallableChild api.IntentType = "test-mock-installable-child"
)

func init() {
	types := []struct {
		t, parent api.IntentType
	}{
		{TypeMock, ""},
		{TypeMockInstallable, ""},
		{TypeMockInstallableChild, TypeMockInstallable},
	}
	for _, tt := range types {
		if err := api.RegisterIntentType(tt.t, tt.parent); err != nil && errors.Cause(err) != api.ErrIntentTypeExists {
			panic(err)
		}
	}
	api.RegisterSpecFactory(TypeMock, func() api.IntentSpec { return &MockSpec{} })
	api.RegisterSpecFactory(TypeMockInstallable, func() api.IntentSpec { return &MockInstallableSpec{} })
	api.RegisterSpecFactory(TypeMockInstallableChild, func() api.IntentSpec { return &MockInstallableSpec{Child: true} })
}

// MockSpec is a compilable intent variant.
type MockSpec struct {
	Number int `json:"number"`
}

// Type implements api.IntentSpec.
func (s *MockSpec) Type() api.IntentType { return TypeMock }

// Installable implements api.IntentSpec.
func (s *MockSpec) Installable() bool { return false }

// CopySpec implements api.IntentSpec.
func (s *MockSpec) CopySpec() api.IntentSpec {
	out := *s
	return &out
}

// MockInstallableSpec is an installable intent variant.
type MockInstallableSpec struct {
	Number int  `json:"number"`
	Child  bool `json:"child,omitempty"`
}

// Type implements api.IntentSpec.
func (s *MockInstallableSpec) Type() api.IntentType {
	if s.Child {
		return TypeMockInstallableChild
	}
	return TypeMockInstallable
}

// Installable implements api.IntentSpec.
func (s *MockInstallableSpec) Installable() bool { return true }

// CopySpec implements api.IntentSpec.
func (s *MockInstallableSpec) CopySpec() api.IntentSpec {
	out := *s
	return &out
}

// NewMockIntent returns a compilable intent of app "test".
func NewMockIntent(name string, number int) *api.Intent {
	return api.NewIntent(api.NewKey("test", name), 100, &MockSpec{Number: number})
}

// NewMockInstallable returns an installable intent sharing key.
func NewMockInstallable(key api.Key, number int, resources ...api.NetworkResource) *api.Intent {
	return api.NewIntent(key, 100, &MockInstallableSpec{Number: number}, resources...)
}

// NewMockInstallables returns n installables of key, numbered from 0.
func NewMockInstallables(key api.Key, n int) []*api.Intent {
	out := make([]*api.Intent, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, NewMockInstallable(key, i))
	}
	return out
}

// RecordingWriter records every record written to it.
type RecordingWriter struct {
	mu     sync.Mutex
	writes []*api.IntentData
}

// Write records data.
func (w *RecordingWriter) Write(data *api.IntentData) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.writes = append(w.writes, data.Copy())
	return nil
}

// Writes returns the records written so far.
func (w *RecordingWriter) Writes() []*api.IntentData {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]*api.IntentData(nil), w.writes...)
}

// Last returns the last record written, or nil.
func (w *RecordingWriter) Last() *api.IntentData {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.writes) == 0 {
		return nil
	}
	return w.writes[len(w.writes)-1]
}

// EventRecorder is an intent listener that keeps every event it receives.
type EventRecorder struct {
	mu     sync.Mutex
	events []api.IntentEvent
	ch     chan api.IntentEvent
}

// NewEventRecorder returns an empty recorder.
func NewEventRecorder() *EventRecorder {
	return &EventRecorder{
		ch: make(chan api.IntentEvent, 1024),
	}
}

// Event implements the listener interface.
func (r *EventRecorder) Event(ev api.IntentEvent) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()

	select {
	case r.ch <- ev:
	default:
	}
}

// Events returns the events received so far.
func (r *EventRecorder) Events() []api.IntentEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]api.IntentEvent(nil), r.events...)
}

// Types returns the types of the events received so far.
func (r *EventRecorder) Types() []api.IntentEventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	types := make([]api.IntentEventType, 0, len(r.events))
	for _, ev := range r.events {
		types = append(types, ev.Type)
	}
	return types
}

// Count returns how many events of type t were received.
func (r *EventRecorder) Count(t api.IntentEventType) int {
	n := 0
	for _, got := range r.Types() {
		if got == t {
			n++
		}
	}
	return n
}

// WaitForEvent waits for the next event of type t.
func WaitForEvent(t *testing.T, r *EventRecorder, eventType api.IntentEventType) api.IntentEvent {
	for {
		select {
		case ev := <-r.ch:
			if ev.Type == eventType {
				return ev
			}
		case <-time.After(time.Second):
			assert.FailNow(t, fmt.Sprintf("no %s event", eventType))
		}
	}
}

// ExpectNoEvent fails the test if an event arrives within a short time.
func ExpectNoEvent(t *testing.T, r *EventRecorder) {
	select {
	case ev := <-r.ch:
		assert.FailNow(t, "unexpected intent event", fmt.Sprint(ev))
	case <-time.After(100 * time.Millisecond):
	}
}

// WatchIntentState waits for the current record of an intent to reach
// state.
func WatchIntentState(t *testing.T, watch chan events.Event, key api.Key, intentState api.IntentState) *api.IntentData {
	for {
		select {
		case event := <-watch:
			var data *api.IntentData
			switch v := event.(type) {
			case state.EventCreateIntent:
				data = v.Intent
			case state.EventUpdateIntent:
				data = v.Intent
			}
			if data != nil && data.Key() == key && data.State == intentState {
				return data
			}
		case <-time.After(time.Second):
			assert.FailNow(t, fmt.Sprintf("intent %s did not reach %s", key, intentState))
		}
	}
}

// WatchIntentDelete waits for the record of an intent to be purged.
func WatchIntentDelete(t *testing.T, watch chan events.Event, key api.Key) *api.IntentData {
	for {
		select {
		case event := <-watch:
			if v, ok := event.(state.EventDeleteIntent); ok && v.Intent.Key() == key {
				return v.Intent
			}
		case <-time.After(time.Second):
			assert.FailNow(t, fmt.Sprintf("intent %s was not purged", key))
		}
	}
}
