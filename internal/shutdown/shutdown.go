// Package shutdown implements the bounded, ordered shutdown-callback list
// described in spec.md section 4.2, collapsed into a single session-scoped
// value per spec.md section 9's redesign note instead of the package-level
// globals (may_register_shutdown, shutdown_fn[], shutdown_fn_count) used by
// register_shutdown/programmer_shutdown in the original implementation.
package shutdown

import (
	"github.com/cesanta/errors"
)

// MaxCallbacks mirrors SHUTDOWN_MAXFN from the original implementation.
const MaxCallbacks = 32

// Func is a shutdown callback. It returns an error if the undo/teardown it
// performs failed; Drain OR-reduces these by returning the first non-nil
// error encountered while still running every remaining callback, matching
// the original's bitwise-OR of integer return codes.
type Func func(data interface{}) error

type entry struct {
	fn   Func
	data interface{}
}

// Registry is a bounded, ordered list of (callback, data) pairs invoked in
// LIFO order at programmer teardown. It must be Open()ed before Register
// will accept callbacks, and is safe to Drain() exactly once.
type Registry struct {
	open    bool
	drained bool
	entries []entry
}

// New returns a closed registry; call Open before registering callbacks.
func New() *Registry {
	return &Registry{}
}

// Open permits registration. Called at the start of programmer init.
func (r *Registry) Open() {
	r.open = true
}

// Register appends fn to the registry, to be invoked with data at Drain
// time. It fails with an error if the registry is not open for registration
// or if the fixed bound has been reached.
func (r *Registry) Register(fn Func, data interface{}) error {
	if !r.open {
		return errors.Errorf("shutdown: registration is not open")
	}
	if len(r.entries) >= MaxCallbacks {
		return errors.Errorf("shutdown: tried to register more than %d shutdown functions", MaxCallbacks)
	}
	r.entries = append(r.entries, entry{fn: fn, data: data})
	return nil
}

// Drain disables further registration and invokes every registered callback
// in reverse registration order, returning the first error encountered (if
// any) after every callback has run. Safe to call once per run; a second
// call is a no-op that returns nil.
func (r *Registry) Drain() error {
	if r.drained {
		return nil
	}
	r.drained = true
	r.open = false
	var first error
	for i := len(r.entries) - 1; i >= 0; i-- {
		e := r.entries[i]
		if err := e.fn(e.data); err != nil && first == nil {
			first = err
		}
	}
	r.entries = nil
	return first
}

// Len reports the number of callbacks currently registered (test/debug use).
func (r *Registry) Len() int {
	return len(r.entries)
}
