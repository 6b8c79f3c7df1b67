// Package iface assembles Signals and Controls declared by a protocol's
// specification into a named Interface bound to a host entity: the
// simulator namespace signals resolve their handles against.
//
// Grounded on original_source/cocotbext/interfaces/core.py's Interface
// class (specify/_specify, controls/floor/ceiling, txn).
package iface

import (
	"fmt"
	"sort"

	"github.com/ifacehsm/ifacehsm/ifaceerr"
	"github.com/ifacehsm/ifacehsm/sim"
	"github.com/ifacehsm/ifacehsm/signal"
	"github.com/ifacehsm/ifacehsm/syncmap"
)

// Spec is a single declared element of a protocol's specification: either a
// plain Signal or a Control, named so callers building a specification set
// do not need two parallel slices.
type Spec struct {
	Signal *signal.Signal
	Control *signal.Control
}

func S(s *signal.Signal) Spec   { return Spec{Signal: s} }
func C(c *signal.Control) Spec  { return Spec{Control: c} }

func (s Spec) name() string {
	if s.Control != nil {
		return s.Control.Name()
	}
	return s.Signal.Name()
}

func (s Spec) base() *signal.Signal {
	if s.Control != nil {
		return s.Control.Signal
	}
	return s.Signal
}

// Interface aggregates a set of Signals/Controls, bound to a host Entity via
// a name prefix and separator.
type Interface struct {
	entity    sim.Entity
	prefix    string
	separator string
	family    string

	signals  syncmap.SyncMap[string, *signal.Signal]
	controls syncmap.SyncMap[string, *signal.Control]
	filters  syncmap.SyncMap[string, signal.Filter]
}

// Option configures an Interface at construction time.
type Option func(*Interface)

func WithPrefix(prefix string) Option {
	return func(i *Interface) { i.prefix = prefix }
}

func WithSeparator(sep string) Option {
	return func(i *Interface) { i.separator = sep }
}

func WithFamily(family string) Option {
	return func(i *Interface) { i.family = family }
}

// WithFilter registers a named filter, attached to any signal of the same
// name incorporated by a later Specify call.
func WithFilter(name string, f signal.Filter) Option {
	return func(i *Interface) { i.filters.Store(name, f) }
}

// New constructs an empty Interface bound to entity.
func New(entity sim.Entity, opts ...Option) *Interface {
	i := &Interface{entity: entity, separator: "_"}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

func (i *Interface) aliased(name string) string {
	if i.prefix == "" {
		return name
	}
	return i.prefix + i.separator + name
}

// Specify incorporates spec into the interface: new controls' precedence is
// shifted so they sit above (precedes=true) or below (precedes=false) the
// existing set, every name is checked for collisions, and every signal is
// resolved against the bound entity's namespace.
//
// Offset resolution (spec open question): when precedes is true, the
// *existing* controls are shifted up by offset = max(precedence in the new
// group) + 1 so the incoming group becomes the new outer
// (smaller-precedence) level; when false, the *incoming* controls are
// shifted up by max(existing precedence) + 1 so they land inside
// (at larger precedence than) the existing set.
func (i *Interface) Specify(spec []Spec, precedes bool, opts ...Option) error {
	for _, opt := range opts {
		opt(i)
	}
	prefix, separator := i.prefix, i.separator

	for _, s := range spec {
		name := s.name()
		if _, ok := i.signals.Load(name); ok {
			return &ifaceerr.DuplicateSignalError{Name: name}
		}
		if _, ok := i.controls.Load(name); ok {
			return &ifaceerr.DuplicateSignalError{Name: name}
		}
	}

	newMax := -1
	for _, s := range spec {
		if s.Control != nil && s.Control.Precedence() > newMax {
			newMax = s.Control.Precedence()
		}
	}
	if newMax >= 0 {
		offset := newMax + 1
		if precedes {
			i.controls.Range(func(_ string, c *signal.Control) bool {
				c.SetPrecedence(c.Precedence() + offset)
				return true
			})
		} else {
			existingMax := -1
			i.controls.Range(func(_ string, c *signal.Control) bool {
				if c.Precedence() > existingMax {
					existingMax = c.Precedence()
				}
				return true
			})
			shift := existingMax + 1
			for _, s := range spec {
				if s.Control != nil {
					s.Control.SetPrecedence(s.Control.Precedence() + shift)
				}
			}
		}
	}

	aliasedPrefix, aliasedSeparator := prefix, separator

	for _, s := range spec {
		base := s.base()
		aliasedName := aliasedPrefix
		if aliasedPrefix == "" {
			aliasedName = base.Name()
		} else {
			aliasedName = aliasedPrefix + aliasedSeparator + base.Name()
		}
		handle, ok := i.entity.Lookup(aliasedName)
		if !ok {
			if base.Required() {
				return &ifaceerr.ProtocolError{Signal: base.Name(), Detail: fmt.Sprintf("required signal %q not found on entity", aliasedName)}
			}
			continue
		}
		if err := base.Bind(handle); err != nil {
			return err
		}
		if f, ok := i.filters.Load(base.Name()); ok {
			base.SetFilter(f)
		}
		if s.Control != nil {
			i.controls.Store(s.Control.Name(), s.Control)
		} else {
			i.signals.Store(s.Signal.Name(), s.Signal)
		}
	}
	return nil
}

// Controls returns every instantiated Control, ascending by precedence.
func (i *Interface) Controls() []*signal.Control {
	all := i.controls.Snapshot()
	out := make([]*signal.Control, 0, len(all))
	for _, c := range all {
		out = append(out, c)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].Less(out[b]) })
	return out
}

// Levels groups Controls() into precedence buckets, ascending, preserving
// the elaborator's add_level(body, controls) grouping.
func (i *Interface) Levels() [][]*signal.Control {
	ctrls := i.Controls()
	var levels [][]*signal.Control
	for _, c := range ctrls {
		if len(levels) == 0 || !levels[len(levels)-1][0].Equal(c) {
			levels = append(levels, []*signal.Control{c})
		} else {
			levels[len(levels)-1] = append(levels[len(levels)-1], c)
		}
	}
	return levels
}

// Floor returns the smallest precedence among instantiated controls, or -1
// if there are none.
func (i *Interface) Floor() int {
	ctrls := i.Controls()
	if len(ctrls) == 0 {
		return -1
	}
	return ctrls[0].Precedence()
}

// Ceiling returns the largest precedence among instantiated controls, or -1
// if there are none.
func (i *Interface) Ceiling() int {
	ctrls := i.Controls()
	if len(ctrls) == 0 {
		return -1
	}
	return ctrls[len(ctrls)-1].Precedence()
}

// Pmin returns the precedence floor of the level index'th precedence
// bucket (as produced by Levels), and Pmax its ceiling. Since a level is a
// set of controls sharing one precedence value, both equal that value; the
// pair exists so callers can reason about a level without re-deriving it
// from Levels() themselves.
func (i *Interface) Pmin(level int) int {
	levels := i.Levels()
	if level < 0 || level >= len(levels) {
		return -1
	}
	return levels[level][0].Precedence()
}

func (i *Interface) Pmax(level int) int {
	return i.Pmin(level)
}

// Signal looks up a plain (non-control) signal by its unaliased name.
func (i *Interface) Signal(name string) (*signal.Signal, bool) {
	return i.signals.Load(name)
}

// Control looks up a control by its unaliased name.
func (i *Interface) Control(name string) (*signal.Control, bool) {
	return i.controls.Load(name)
}

// Txn returns the names of non-meta, instantiated signals whose direction
// matches the requested role: primary=true selects from-primary signals
// (the primary side drives them), primary=false selects to-primary signals,
// and nil selects bidirectional signals only.
func (i *Interface) Txn(primary *bool) []string {
	var want signal.Direction
	switch {
	case primary == nil:
		want = signal.Bidirectional
	case *primary:
		want = signal.FromPrimary
	default:
		want = signal.ToPrimary
	}
	var names []string
	collect := func(_ string, s *signal.Signal) bool {
		if !s.Meta() && s.Instantiated() && s.Direction() == want {
			names = append(names, s.Name())
		}
		return true
	}
	i.signals.Range(collect)
	i.controls.Range(func(name string, c *signal.Control) bool {
		return collect(name, c.Signal)
	})
	sort.Strings(names)
	return names
}
