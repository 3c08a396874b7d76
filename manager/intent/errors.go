package intent

import (
	"fmt"

	"github.com/intentkit/intentkit/api"
	"github.com/pkg/errors"
)

var (
	// ErrNoCompiler is returned when no compiler is registered for an
	// intent type or any of its ancestors.
	ErrNoCompiler = errors.New("no compiler registered for intent type")

	// ErrNoInstaller is returned when no installer is registered for an
	// installable type or any of its ancestors.
	ErrNoInstaller = errors.New("no installer registered for intent type")

	// ErrCompilerRegistered is returned when registering a second compiler
	// for the same type.
	ErrCompilerRegistered = errors.New("compiler already registered for intent type")

	// ErrInstallerRegistered is returned when registering a second installer
	// for the same type.
	ErrInstallerRegistered = errors.New("installer already registered for intent type")

	errInvalidIntent = errors.New("intent must have a key")
)

// CompileError reports that an intent could not be compiled into
// installables. Intents that fail to compile end up FAILED.
type CompileError struct {
	Key api.Key
	Err error
}

func (e *CompileError) Error() string {
	return fmt.Sprintf("compiling intent %s: %v", e.Key, e.Err)
}

// Cause returns the underlying error, for errors.Cause.
func (e *CompileError) Cause() error {
	return e.Err
}

// Unwrap returns the underlying error.
func (e *CompileError) Unwrap() error {
	return e.Err
}
