package equality

import (
	"reflect"

	"github.com/intentkit/intentkit/api"
)

// IntentsEqualStable returns true if the intents are functionally equal,
// ignoring their generated IDs.
func IntentsEqualStable(a, b *api.Intent) bool {
	if a == nil || b == nil {
		return a == b
	}
	// shallow copies so we can zero out the fields we want to ignore
	copyA, copyB := *a, *b

	copyA.ID, copyB.ID = "", ""

	return reflect.DeepEqual(copyA, copyB)
}

// IntentDataEqualStable returns true if the records describe the same
// intent in the same state with the same installables, ignoring versions,
// origins and error counts.
func IntentDataEqualStable(a, b *api.IntentData) bool {
	if a == nil || b == nil {
		return a == b
	}
	if a.State != b.State || a.Request != b.Request {
		return false
	}
	if !IntentsEqualStable(a.Intent, b.Intent) {
		return false
	}
	if len(a.Installables) != len(b.Installables) {
		return false
	}
	for i := range a.Installables {
		if !IntentsEqualStable(a.Installables[i], b.Installables[i]) {
			return false
		}
	}
	return true
}
