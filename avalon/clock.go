// Package avalon is the concrete Avalon-ST streaming protocol instance built
// on top of iface and model: Clock/Reset, StreamingInterface, the sink and
// source behavioral models, and thin Driver/Monitor adapters.
//
// Grounded on original_source/cocotbext/interfaces/avalon/__init__.go
// (Clock, Reset) and avalon/streaming.py (StreamingInterface, the sink and
// source reaction tables).
package avalon

import (
	"github.com/ifacehsm/ifacehsm/ifaceerr"
	"github.com/ifacehsm/ifacehsm/iface"
	"github.com/ifacehsm/ifacehsm/signal"
)

// Clock is the Avalon clock interface: a single required, meta signal with
// an optional nominal rate, recorded for documentation purposes only (the
// core never derives timing from it; the host simulator's Clock drives the
// actual rising-edge cadence).
type Clock struct {
	itf  *iface.Interface
	rate int
}

// ClockOption configures a Clock at construction time.
type ClockOption func(*Clock)

// WithRate records the clock's nominal rate in Hz, validated to
// [0, 2^32-1].
func WithRate(hz int) ClockOption {
	return func(c *Clock) { c.rate = hz }
}

// NewClock incorporates the clock signal into itf (precedes=true). `clk` is
// a plain signal, not a control, so it takes no precedence slot and leaves
// the precedence of the controls already specified unchanged.
func NewClock(itf *iface.Interface, opts ...ClockOption) (*Clock, error) {
	c := &Clock{itf: itf}
	for _, opt := range opts {
		opt(c)
	}
	if c.rate < 0 || c.rate > 1<<32-1 {
		return nil, &ifaceerr.PropertyError{Signal: "clk", Detail: "rate out of range"}
	}
	clk := signal.New("clk", signal.Meta(), signal.Required())
	if err := itf.Specify([]iface.Spec{iface.S(clk)}, true); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Clock) Rate() int { return c.rate }

// SynchronousEdges records which clock edges a Reset signal is synchronous
// to, mirroring the Python source's enum of the same purpose.
type SynchronousEdges int

const (
	SynchronousNone SynchronousEdges = iota
	SynchronousDeassert
	SynchronousBoth
)
