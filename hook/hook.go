// Package hook implements named extension points with priority-ordered
// handler chains. Handlers fold a single accumulator through the chain
// and may short-circuit it, which is how extensions veto an operation
// without the core knowing why.
package hook

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"sync"

	"github.com/alphadose/haxmap"
	"github.com/strixlab/relay/pkg/slogx"
)

// Verdict is a handler's decision about the fold.
type Verdict int

const (
	// Proceed continues the chain with the accumulator the handler returned.
	Proceed Verdict = iota
	// Unchanged continues the chain with the previous accumulator.
	Unchanged
	// Halt stops the chain; the handler's accumulator is the final one.
	Halt
)

// Func is a hook handler. It receives the call-time arguments, the
// current accumulator, and the state it was registered with.
type Func[A any] func(ctx context.Context, args []any, acc A, state any) (A, Verdict, error)

// Callback is one registered handler. Name is the handler's identity:
// Go functions are not comparable, so deduplication and removal key on
// it instead.
type Callback[A any] struct {
	Name     string
	Fn       Func[A]
	State    any
	Priority int
}

// ErrPriorityConflict is returned when a (Name, State) pair that is
// already registered for a hook is registered again under a different
// priority. The existing slot stays untouched.
var ErrPriorityConflict = errors.New("hook: handler already registered at a different priority")

// Registry stores handler chains per hook name.
//
// Buckets are copy-on-write: every mutation installs a freshly built
// slice, so a fold iterating an older snapshot is never affected by a
// concurrent register or unregister, and registry mutation never waits
// for an in-flight fold.
type Registry[A any] struct {
	mu     sync.Mutex // serializes writers; readers go through points directly
	points *haxmap.Map[string, []Callback[A]]
}

func NewRegistry[A any]() *Registry[A] {
	return &Registry[A]{
		points: haxmap.New[string, []Callback[A]](),
	}
}

// Register adds cb to the chain for name, keeping the chain sorted by
// ascending priority with stable insertion order among equal priorities.
// Registering an identical (Name, State) pair again is a no-op when the
// priority matches the existing slot, and ErrPriorityConflict when it
// does not.
func (r *Registry[A]) Register(name string, cb Callback[A]) error {
	if cb.Name == "" {
		return fmt.Errorf("hook %q: callback name is required", name)
	}
	if cb.Fn == nil {
		return fmt.Errorf("hook %q: callback func is required", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	chain, _ := r.points.Get(name)
	for _, existing := range chain {
		if existing.Name == cb.Name && reflect.DeepEqual(existing.State, cb.State) {
			if existing.Priority != cb.Priority {
				return fmt.Errorf("hook %q handler %q: %w", name, cb.Name, ErrPriorityConflict)
			}
			return nil
		}
	}

	// Insert after every entry with priority <= cb.Priority so ties keep
	// registration order.
	at := len(chain)
	for i, existing := range chain {
		if existing.Priority > cb.Priority {
			at = i
			break
		}
	}
	next := make([]Callback[A], 0, len(chain)+1)
	next = append(next, chain[:at]...)
	next = append(next, cb)
	next = append(next, chain[at:]...)
	r.points.Set(name, next)
	return nil
}

// Unregister removes every slot held by handlerName on the named hook
// and reports whether anything was removed. Removing an unknown handler
// is a no-op.
func (r *Registry[A]) Unregister(name, handlerName string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	chain, ok := r.points.Get(name)
	if !ok {
		return false
	}
	next := make([]Callback[A], 0, len(chain))
	for _, existing := range chain {
		if existing.Name != handlerName {
			next = append(next, existing)
		}
	}
	if len(next) == len(chain) {
		return false
	}
	if len(next) == 0 {
		r.points.Del(name)
		return true
	}
	r.points.Set(name, next)
	return true
}

// Snapshot returns the chain for name as of the call. Handlers added
// afterwards do not participate in an execution that started from this
// snapshot. Unknown names yield an empty chain.
func (r *Registry[A]) Snapshot(name string) []Callback[A] {
	chain, _ := r.points.Get(name)
	return chain
}

// Run folds acc through the handler chain for name, in priority order.
// The returned bool reports whether the chain ran to completion: false
// means a handler halted the fold and its accumulator is the final one.
//
// A handler returning an error is skipped with a logged warning and the
// fold continues with the previous accumulator. This skip policy is
// applied uniformly; a fault never aborts the publish it belongs to.
func (r *Registry[A]) Run(ctx context.Context, name string, acc A, args ...any) (A, bool) {
	for _, cb := range r.Snapshot(name) {
		next, verdict, err := cb.Fn(ctx, args, acc, cb.State)
		if err != nil {
			slog.WarnContext(ctx, "hook handler failed, skipping",
				slog.String("hook", name),
				slog.String("handler", cb.Name),
				slogx.Error(err),
			)
			continue
		}
		switch verdict {
		case Proceed:
			acc = next
		case Unchanged:
		case Halt:
			return next, false
		}
	}
	return acc, true
}
