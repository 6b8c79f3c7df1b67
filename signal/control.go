package signal

import (
	"fmt"

	"github.com/ifacehsm/ifacehsm/ifaceerr"
)

// Generator lazily produces the next driven value for a Control. ok is
// false when the sequence is exhausted; Control.Capture then reports a
// protocol error rather than silently repeating the last value.
type Generator func() (val bool, ok bool)

// Control is a Signal specialization whose transitions partition an
// Interface's behavioral state. It is currently restricted to width-1 bool
// signals (spec Non-goal: multi-valued controls are reserved for future
// extension).
type Control struct {
	*Signal

	flowVals map[bool]struct{}
	fixVals  map[bool]struct{}

	maxAllowance int
	maxLatency   int
	allowance    int
	latency      int
	precedence   int

	generator Generator
	cache     *bool
}

// ControlOption configures a Control at construction time.
type ControlOption func(*Control)

func WithPrecedence(p int) ControlOption {
	return func(c *Control) { c.precedence = p }
}

func WithMaxAllowance(n int) ControlOption {
	return func(c *Control) { c.maxAllowance = n }
}

func WithMaxLatency(n int) ControlOption {
	return func(c *Control) { c.maxLatency = n }
}

func WithFlowVals(vals ...bool) ControlOption {
	return func(c *Control) {
		c.flowVals = toSet(vals)
	}
}

func WithFixVals(vals ...bool) ControlOption {
	return func(c *Control) {
		c.fixVals = toSet(vals)
	}
}

// WithControlDirection sets the Control's direction, matching the streaming
// interface's `ready` (direction to-primary).
func WithControlDirection(d Direction) ControlOption {
	return func(c *Control) { c.Signal.direction = d }
}

func toSet(vals []bool) map[bool]struct{} {
	s := make(map[bool]struct{}, len(vals))
	for _, v := range vals {
		s[v] = struct{}{}
	}
	return s
}

// NewControl constructs a Control. Controls are meta by default (they carry
// protocol framing, not payload) and default flow_vals={true}, fix_vals={false}.
func NewControl(name string, opts ...ControlOption) *Control {
	c := &Control{
		Signal:       New(name, Meta()),
		flowVals:     map[bool]struct{}{true: {}},
		fixVals:      map[bool]struct{}{false: {}},
		maxAllowance: 0,
		maxLatency:   0,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.maxAllowance < 0 {
		panic(fmt.Sprintf("control (%s): allowance cannot be negative", name))
	}
	if c.maxLatency < 0 {
		panic(fmt.Sprintf("control (%s): latency cannot be negative", name))
	}
	if c.Signal.logicalType != Bool {
		panic(fmt.Sprintf("control (%s): only bool controls are supported", name))
	}
	return c
}

func (c *Control) FlowVals() map[bool]struct{} { return c.flowVals }
func (c *Control) FixVals() map[bool]struct{}  { return c.fixVals }
func (c *Control) MaxAllowance() int           { return c.maxAllowance }
func (c *Control) MaxLatency() int             { return c.maxLatency }
func (c *Control) Allowance() int              { return c.allowance }
func (c *Control) Latency() int                { return c.latency }
func (c *Control) Precedence() int             { return c.precedence }
func (c *Control) Generated() bool             { return c.generator != nil }

// SetPrecedence re-numbers the Control, used by Interface.Specify when
// incorporating a new precedence group.
func (c *Control) SetPrecedence(p int) { c.precedence = p }

func (c *Control) SetAllowance(v int) error {
	if v < 0 || v > c.maxAllowance {
		return &ifaceerr.PropertyError{Signal: c.Name(), Detail: "allowance outside defined range"}
	}
	c.allowance = v
	return nil
}

func (c *Control) SetLatency(v int) error {
	if v < 0 || v > c.maxLatency {
		return &ifaceerr.PropertyError{Signal: c.Name(), Detail: "latency outside defined range"}
	}
	c.latency = v
	return nil
}

// SetGenerator installs a lazy value sequence; Capture then pulls from it
// (and drives the pulled value) instead of sampling the handle. Requires the
// Control to already be instantiated.
func (c *Control) SetGenerator(g Generator) error {
	if !c.Instantiated() {
		return &ifaceerr.ProtocolError{Signal: c.Name(), Detail: "cannot set generator on non-instantiated control"}
	}
	c.generator = g
	c.Clear()
	return nil
}

// Clear empties the cached sample; invoked by the event loop for every
// control an entered state's Influences name.
func (c *Control) Clear() {
	c.cache = nil
}

// Capture returns the Control's current logical sample. Without a
// generator it delegates to Signal.Capture. With one, the first capture
// after a Clear pulls and drives the next generated value; subsequent
// captures return the cached value until the next Clear.
func (c *Control) Capture() (bool, error) {
	if c.generator == nil {
		v, err := c.Signal.Capture()
		if err != nil {
			return false, err
		}
		return v.(bool), nil
	}
	if c.cache == nil {
		next, ok := c.generator()
		if !ok {
			return false, &ifaceerr.ProtocolError{Signal: c.Name(), Detail: "generator exhausted"}
		}
		if err := c.Drive(next); err != nil {
			return false, err
		}
	}
	return *c.cache, nil
}

// Drive writes the physical value and, for generated controls, updates the
// cache so concurrent Captures observe the same value within one tick.
func (c *Control) Drive(val bool) error {
	if c.generator != nil {
		v := val
		c.cache = &v
	}
	return c.Signal.Drive(val)
}

// Less orders Controls by precedence: smaller precedence is outer/earlier.
func (c *Control) Less(other *Control) bool { return c.precedence < other.precedence }

// Equal reports precedence equality, used to bucket Controls into
// precedence levels.
func (c *Control) Equal(other *Control) bool { return c.precedence == other.precedence }
