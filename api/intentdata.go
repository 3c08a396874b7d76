package api

// IntentData is the lifecycle record of one intent.
type IntentData struct {
	Intent *Intent `json:"intent"`
	// Request is the state the client asked for: INSTALL_REQ, WITHDRAW_REQ
	// or PURGE_REQ.
	Request IntentState `json:"request"`
	State   IntentState `json:"state"`
	Version Version     `json:"version"`
	// Installables are the compiled primitives currently associated with
	// the intent.
	Installables []*Intent `json:"installables,omitempty"`
	// Origin is the record this one was derived from, if any. It is only
	// kept one level deep and is never persisted.
	Origin     *IntentData `json:"-"`
	ErrorCount int         `json:"error_count"`
}

func newRequest(intent *Intent, request IntentState) *IntentData {
	return &IntentData{
		Intent:  intent,
		Request: request,
		State:   request,
	}
}

// Submit returns a request to install intent. The version is left unset and
// is assigned when the request is queued.
func Submit(intent *Intent) *IntentData {
	return newRequest(intent, IntentStateInstallReq)
}

// Withdraw returns a request to withdraw intent.
func Withdraw(intent *Intent) *IntentData {
	return newRequest(intent, IntentStateWithdrawReq)
}

// Purge returns a request to remove the record of intent.
func Purge(intent *Intent) *IntentData {
	return newRequest(intent, IntentStatePurgeReq)
}

// Key returns the key of the intent the record describes.
func (d *IntentData) Key() Key {
	return d.Intent.Key
}

// Copy returns a deep copy of the record. The origin is copied without its
// own origin.
func (d *IntentData) Copy() *IntentData {
	if d == nil {
		return nil
	}
	out := d.shallow()
	if d.Origin != nil {
		origin := d.Origin.shallow()
		origin.Origin = nil
		out.Origin = origin
	}
	return out
}

func (d *IntentData) shallow() *IntentData {
	out := *d
	out.Intent = d.Intent.Copy()
	out.Installables = CopyIntents(d.Installables)
	return &out
}

// Compiled returns a copy of d carrying installables.
func Compiled(d *IntentData, installables []*Intent) *IntentData {
	out := d.Copy()
	out.Installables = CopyIntents(installables)
	return out
}

// NextState returns a copy of d in state.
func NextState(d *IntentData, state IntentState) *IntentData {
	out := d.Copy()
	out.State = state
	return out
}

// Corrupt returns a copy of d in the CORRUPT state with its error count
// incremented.
func Corrupt(d *IntentData) *IntentData {
	out := NextState(d, IntentStateCorrupt)
	out.ErrorCount++
	return out
}

// IsUpdateAcceptable reports whether next may replace current in the store.
// A newer version always wins and an older one always loses. For records of
// the same version, the state transition decides.
func IsUpdateAcceptable(current, next *IntentData) bool {
	if current == nil {
		return true
	}
	if current.Version.IsOlderThan(next.Version) {
		return true
	}
	if current.Version.IsNewerThan(next.Version) {
		return false
	}

	cur := current.State
	switch next.State {
	case IntentStateInstalling, IntentStateInstalled:
		if next.State == IntentStateInstalling && cur == IntentStateInstalling {
			return false
		}
		switch cur {
		case IntentStateInstalled, IntentStateWithdrawing, IntentStateWithdrawn, IntentStatePurgeReq:
			return false
		}
		return true
	case IntentStateWithdrawing, IntentStateWithdrawn:
		if next.State == IntentStateWithdrawing && cur == IntentStateWithdrawing {
			return false
		}
		switch cur {
		case IntentStateWithdrawn, IntentStateInstalling, IntentStateInstalled, IntentStatePurgeReq:
			return false
		}
		return true
	case IntentStateFailed, IntentStateCorrupt:
		return cur != next.State
	case IntentStatePurgeReq:
		return true
	default:
		// request and compile states are never written as current state
		return false
	}
}
