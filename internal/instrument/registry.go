package instrument

import (
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// RootName is the name of the tree's root dispatcher.
const RootName = "root"

// Registry owns the name to dispatcher mapping for one instrumentation tree.
// Construct one per application and pass it to components that instrument
// themselves; handlers attached to Root observe everything.
type Registry struct {
	clk clock.Clock

	mu          sync.Mutex
	dispatchers map[string]*Dispatcher
}

// Option configures a Registry.
type Option func(*Registry)

// WithClock substitutes the clock used for span timing. Tests pass
// clock.NewMock to control time.
func WithClock(c clock.Clock) Option {
	return func(r *Registry) { r.clk = c }
}

// New creates a registry containing only the root dispatcher.
func New(opts ...Option) *Registry {
	r := &Registry{
		clk:         clock.New(),
		dispatchers: make(map[string]*Dispatcher),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.Dispatcher(RootName)
	return r
}

// Root returns the root dispatcher.
func (r *Registry) Root() *Dispatcher {
	return r.Dispatcher(RootName)
}

// Dispatcher returns the dispatcher registered under name, creating it on
// first use. Repeat calls with one name return the same instance: the first
// registration wins and later ones are lookups. The parent is derived from
// the dotted name ("engine.retrieve" reports to "engine"); a name without
// dots reports to the root. An empty name means the root.
func (r *Registry) Dispatcher(name string) *Dispatcher {
	if name == "" {
		name = RootName
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if d, ok := r.dispatchers[name]; ok {
		return d
	}

	parent := ""
	if name != RootName {
		if i := strings.LastIndex(name, "."); i >= 0 {
			parent = name[:i]
		} else {
			parent = RootName
		}
	}

	d := &Dispatcher{
		name:       name,
		parentName: parent,
		reg:        r,
		propagate:  true,
	}
	r.dispatchers[name] = d
	return d
}

func (r *Registry) now() time.Time {
	return r.clk.Now()
}
