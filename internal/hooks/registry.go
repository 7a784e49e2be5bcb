// Package hooks implements named extension points with ordered,
// optionally-aborting handlers: the Hook Registry of §4.F. The Pipeline
// (internal/pipeline) builds its three well-known stages on top of it.
package hooks

import (
	"sort"
	"sync"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/multierr"
)

// Handler transforms an input value, returning the (possibly modified)
// output, or an error to abort the remainder of the chain.
type Handler func(input any) (any, error)

type entry struct {
	plugin   string
	priority int
	handler  Handler
	seq      int // registration order, breaks priority ties
}

// Registry maps hook name to an ordered list of plugin handlers.
type Registry struct {
	mu      sync.Mutex
	byName  map[string][]entry
	nextSeq int
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{byName: make(map[string][]entry)}
}

// Register adds handler under hookName for plugin at priority (lower
// runs earlier). Re-sorts that hook's handler list.
func (r *Registry) Register(hookName, plugin string, priority int, handler Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e := entry{plugin: plugin, priority: priority, handler: handler, seq: r.nextSeq}
	r.nextSeq++
	r.byName[hookName] = append(r.byName[hookName], e)
	sort.SliceStable(r.byName[hookName], func(i, j int) bool {
		a, b := r.byName[hookName][i], r.byName[hookName][j]
		if a.priority != b.priority {
			return a.priority < b.priority
		}
		return a.seq < b.seq
	})
}

// RemovePluginHooks detaches every handler plugin registered, across all
// hook names. Uninstall must call this so no dangling handler survives.
func (r *Registry) RemovePluginHooks(plugin string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for name, entries := range r.byName {
		kept := entries[:0]
		for _, e := range entries {
			if e.plugin != plugin {
				kept = append(kept, e)
			}
		}
		r.byName[name] = kept
	}
}

// Result is what Run returns for one hook invocation.
type Result struct {
	Handled  bool
	Value    any
	Modified bool
	Err      error
}

// Run executes hookName's handlers as a waterfall: each receives the
// prior handler's output as its input. A handler error aborts the chain;
// the aggregated error (via multierr) is returned in Result.Err.
func (r *Registry) Run(hookName string, input any) Result {
	r.mu.Lock()
	entries := append([]entry(nil), r.byName[hookName]...)
	r.mu.Unlock()

	if len(entries) == 0 {
		return Result{Handled: false, Value: input}
	}

	value := input
	modified := false
	var combinedErr error
	for _, e := range entries {
		out, err := e.handler(value)
		if err != nil {
			combinedErr = multierr.Append(combinedErr, err)
			return Result{Handled: true, Value: value, Modified: modified, Err: combinedErr}
		}
		if !equalValue(out, value) {
			modified = true
		}
		value = out
	}
	return Result{Handled: true, Value: value, Modified: modified, Err: combinedErr}
}

// equalValue reports whether a handler's output is unchanged from its
// input, so Run can set Result.Modified accurately. Falls back to "not
// equal" for types cmp can't compare (e.g. funcs), since in that case we
// can't prove nothing changed.
func equalValue(a, b any) (eq bool) {
	defer func() {
		if recover() != nil {
			eq = false
		}
	}()
	return cmp.Equal(a, b)
}
