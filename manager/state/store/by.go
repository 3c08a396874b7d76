package store

import "github.com/intentkit/intentkit/api"

// By is an interface type passed to Find methods. Implementations must be
// defined in this package.
type By interface {
	// isBy allows this interface to only be satisfied by certain internal
	// types.
	isBy()
}

type byAll struct{}

func (a byAll) isBy() {
}

// All is an argument that can be passed to find to list all items in the
// set.
var All byAll

type byState api.IntentState

func (b byState) isBy() {
}

// ByState creates an object to pass to Find to select intents by current
// state.
func ByState(s api.IntentState) By {
	return byState(s)
}

type byApp string

func (b byApp) isBy() {
}

// ByAppID creates an object to pass to Find to select intents owned by an
// application.
func ByAppID(appID string) By {
	return byApp(appID)
}
