package state

import (
	"github.com/docker/go-events"
	"github.com/intentkit/intentkit/api"
	"github.com/intentkit/intentkit/watch"
)

// Event is the type used for events passed over watcher channels, and also
// the type used to specify filtering in calls to Watch.
type Event interface {
	// Matches checks if this item in a watch queue matches the event
	// description.
	Matches(events.Event) bool
}

// EventCommit delineates a transaction boundary.
type EventCommit struct{}

// Matches returns true if this event is a commit event.
func (e EventCommit) Matches(watchEvent events.Event) bool {
	_, ok := watchEvent.(EventCommit)
	return ok
}

// IntentCheckFunc is the type of function used to perform filtering checks on
// api.IntentData records.
type IntentCheckFunc func(d1, d2 *api.IntentData) bool

// IntentCheckKey is an IntentCheckFunc for matching intent keys.
func IntentCheckKey(d1, d2 *api.IntentData) bool {
	return d1.Key() == d2.Key()
}

// IntentCheckState is an IntentCheckFunc for matching intent states.
func IntentCheckState(d1, d2 *api.IntentData) bool {
	return d1.State == d2.State
}

func matchIntent(checks []IntentCheckFunc, want, got *api.IntentData) bool {
	for _, check := range checks {
		if !check(want, got) {
			return false
		}
	}
	return true
}

// EventCreateIntent is published when an intent gets its first current
// record.
type EventCreateIntent struct {
	Intent *api.IntentData
	// Checks is a list of functions to call to filter events for a watch
	// stream. They are applied with AND logic. They are only applicable for
	// calls to Watch.
	Checks []IntentCheckFunc
}

// Matches returns true if this event matches the provided event.
func (e EventCreateIntent) Matches(watchEvent events.Event) bool {
	typedEvent, ok := watchEvent.(EventCreateIntent)
	return ok && matchIntent(e.Checks, e.Intent, typedEvent.Intent)
}

// EventUpdateIntent is published when the current record of an intent is
// replaced.
type EventUpdateIntent struct {
	Intent *api.IntentData
	// Old is the record that was replaced.
	Old    *api.IntentData
	Checks []IntentCheckFunc
}

// Matches returns true if this event matches the provided event.
func (e EventUpdateIntent) Matches(watchEvent events.Event) bool {
	typedEvent, ok := watchEvent.(EventUpdateIntent)
	return ok && matchIntent(e.Checks, e.Intent, typedEvent.Intent)
}

// EventDeleteIntent is published when an intent record is purged.
type EventDeleteIntent struct {
	Intent *api.IntentData
	Checks []IntentCheckFunc
}

// Matches returns true if this event matches the provided event.
func (e EventDeleteIntent) Matches(watchEvent events.Event) bool {
	typedEvent, ok := watchEvent.(EventDeleteIntent)
	return ok && matchIntent(e.Checks, e.Intent, typedEvent.Intent)
}

// EventPendingIntent is published when a request is queued.
type EventPendingIntent struct {
	Intent *api.IntentData
	Checks []IntentCheckFunc
}

// Matches returns true if this event matches the provided event.
func (e EventPendingIntent) Matches(watchEvent events.Event) bool {
	typedEvent, ok := watchEvent.(EventPendingIntent)
	return ok && matchIntent(e.Checks, e.Intent, typedEvent.Intent)
}

// Watch takes a variable number of events to match against. The subscriber
// will receive events that match any of the arguments passed to Watch.
//
// Examples:
//
// // subscribe to all events
// Watch(q)
//
// // subscribe to all UpdateIntent events
// Watch(q, EventUpdateIntent{})
//
// // subscribe to UpdateIntent for intents that reached CORRUPT
// Watch(q, EventUpdateIntent{Intent: &api.IntentData{State: api.IntentStateCorrupt},
//                           Checks: []IntentCheckFunc{IntentCheckState}})
func Watch(queue *watch.Queue, specifiers ...Event) (eventq chan events.Event, cancel func()) {
	if len(specifiers) == 0 {
		return queue.Watch()
	}
	return queue.CallbackWatch(Matcher(specifiers...))
}

// Matcher returns an events.Matcher that matches the specifiers with OR
// logic.
func Matcher(specifiers ...Event) events.MatcherFunc {
	return events.MatcherFunc(func(event events.Event) bool {
		for _, s := range specifiers {
			if s.Matches(event) {
				return true
			}
		}
		return false
	})
}
