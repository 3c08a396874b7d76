package api

import (
	"fmt"
	"strings"
)

// IntentState is the lifecycle state of an intent.
type IntentState int

const (
	// IntentStateInstallReq means installation of the intent was requested.
	IntentStateInstallReq IntentState = iota
	// IntentStateCompiling means the intent is being compiled into
	// installables.
	IntentStateCompiling
	// IntentStateInstalling means the installables are being pushed to
	// devices.
	IntentStateInstalling
	// IntentStateInstalled means every installable was confirmed by its
	// installer.
	IntentStateInstalled
	// IntentStateRecompiling means the intent is being recompiled after a
	// topology change.
	IntentStateRecompiling
	// IntentStateWithdrawReq means withdrawal of the intent was requested.
	IntentStateWithdrawReq
	// IntentStateWithdrawing means the installables are being removed from
	// devices.
	IntentStateWithdrawing
	// IntentStateWithdrawn means every installable was removed.
	IntentStateWithdrawn
	// IntentStateFailed means the intent could not be compiled.
	IntentStateFailed
	// IntentStateCorrupt means an installer reported a failure. The intent
	// may be partially installed.
	IntentStateCorrupt
	// IntentStatePurgeReq means removal of the intent record was requested.
	IntentStatePurgeReq
)

var intentStateNames = map[IntentState]string{
	IntentStateInstallReq:  "INSTALL_REQ",
	IntentStateCompiling:   "COMPILING",
	IntentStateInstalling:  "INSTALLING",
	IntentStateInstalled:   "INSTALLED",
	IntentStateRecompiling: "RECOMPILING",
	IntentStateWithdrawReq: "WITHDRAW_REQ",
	IntentStateWithdrawing: "WITHDRAWING",
	IntentStateWithdrawn:   "WITHDRAWN",
	IntentStateFailed:      "FAILED",
	IntentStateCorrupt:     "CORRUPT",
	IntentStatePurgeReq:    "PURGE_REQ",
}

func (s IntentState) String() string {
	if name, ok := intentStateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("IntentState(%d)", int(s))
}

// ParseIntentState parses the name of a state, as returned by String.
func ParseIntentState(name string) (IntentState, error) {
	upper := strings.ToUpper(name)
	for s, n := range intentStateNames {
		if n == upper {
			return s, nil
		}
	}
	return 0, fmt.Errorf("unknown intent state %q", name)
}

// MarshalText implements encoding.TextMarshaler.
func (s IntentState) MarshalText() ([]byte, error) {
	if _, ok := intentStateNames[s]; !ok {
		return nil, fmt.Errorf("unknown intent state %d", int(s))
	}
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *IntentState) UnmarshalText(text []byte) error {
	parsed, err := ParseIntentState(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// IsRequest reports whether s is one of the request states a client can
// ask for.
func (s IntentState) IsRequest() bool {
	switch s {
	case IntentStateInstallReq, IntentStateWithdrawReq, IntentStatePurgeReq:
		return true
	}
	return false
}

// IsParked reports whether the pipeline has stopped working on an intent in
// state s until a new request or a retry arrives.
func (s IntentState) IsParked() bool {
	switch s {
	case IntentStateInstalled, IntentStateWithdrawn, IntentStateFailed, IntentStateCorrupt:
		return true
	}
	return false
}
