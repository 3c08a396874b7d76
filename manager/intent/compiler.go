package intent

import (
	"sync"

	"github.com/intentkit/intentkit/api"
	"github.com/pkg/errors"
)

// maxCompileDepth bounds the recursion of CompilerRegistry.Compile. Chains of
// compilers that do not converge to installables within this depth fail.
const maxCompileDepth = 16

// Compiler turns an intent into more concrete intents. Results that are not
// installable are compiled again.
type Compiler interface {
	// Compile returns the intents that implement intent. installed holds
	// the installables currently associated with the intent, so that a
	// compiler can prefer keeping existing state.
	Compile(intent *api.Intent, installed []*api.Intent) ([]*api.Intent, error)
}

// CompilerFunc adapts a function to the Compiler interface.
type CompilerFunc func(intent *api.Intent, installed []*api.Intent) ([]*api.Intent, error)

// Compile calls f.
func (f CompilerFunc) Compile(intent *api.Intent, installed []*api.Intent) ([]*api.Intent, error) {
	return f(intent, installed)
}

// CompilerRegistry maps intent types to compilers. A type without a compiler
// of its own uses the compiler of its closest ancestor.
type CompilerRegistry struct {
	mu        sync.RWMutex
	compilers map[api.IntentType]Compiler
}

// NewCompilerRegistry returns an empty registry.
func NewCompilerRegistry() *CompilerRegistry {
	return &CompilerRegistry{
		compilers: make(map[api.IntentType]Compiler),
	}
}

// Register associates c with t.
func (r *CompilerRegistry) Register(t api.IntentType, c Compiler) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.compilers[t]; ok {
		return errors.Wrapf(ErrCompilerRegistered, "intent type %s", t)
	}
	r.compilers[t] = c
	return nil
}

// Unregister removes the compiler of t.
func (r *CompilerRegistry) Unregister(t api.IntentType) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.compilers, t)
}

// Compiler returns the compiler for t, walking up the type hierarchy.
func (r *CompilerRegistry) Compiler(t api.IntentType) (Compiler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, candidate := range t.Lineage() {
		if c, ok := r.compilers[candidate]; ok {
			return c, nil
		}
	}
	return nil, errors.Wrapf(ErrNoCompiler, "intent type %s", t)
}

// Compilers returns a snapshot of the registered compilers.
func (r *CompilerRegistry) Compilers() map[api.IntentType]Compiler {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[api.IntentType]Compiler, len(r.compilers))
	for t, c := range r.compilers {
		out[t] = c
	}
	return out
}

// Compile compiles intent until only installable intents remain. Any error
// is returned as a *CompileError.
func (r *CompilerRegistry) Compile(intent *api.Intent, installed []*api.Intent) ([]*api.Intent, error) {
	installables, err := r.compile(intent, installed, 0)
	if err != nil {
		return nil, &CompileError{Key: intent.Key, Err: err}
	}
	return installables, nil
}

func (r *CompilerRegistry) compile(intent *api.Intent, installed []*api.Intent, depth int) ([]*api.Intent, error) {
	if intent.Installable() {
		return []*api.Intent{intent}, nil
	}
	if depth >= maxCompileDepth {
		return nil, errors.Errorf("compilation of %s did not converge after %d steps", intent.Type(), depth)
	}

	c, err := r.Compiler(intent.Type())
	if err != nil {
		return nil, err
	}
	results, err := c.Compile(intent, installed)
	if err != nil {
		return nil, err
	}

	var out []*api.Intent
	for _, result := range results {
		if result == nil {
			continue
		}
		compiled, err := r.compile(result, installed, depth+1)
		if err != nil {
			return nil, err
		}
		out = append(out, compiled...)
	}
	return out, nil
}
