package avalon

import (
	"github.com/ifacehsm/ifacehsm/iface"
	"github.com/ifacehsm/ifacehsm/signal"
)

// Reset is the Avalon reset interface: `reset` (fix while asserted, flow
// while deasserted and the design is running) plus `reset_req`, a
// precedence-1 request control.
// Both are incorporated ahead of (precedes=true) the protocol's own
// controls, so reset state always wins the outermost precedence slot.
type Reset struct {
	itf           *iface.Interface
	synchronousTo SynchronousEdges
	reset         *signal.Control
	resetReq      *signal.Control
}

// ResetOption configures a Reset at construction time.
type ResetOption func(*Reset)

// WithSynchronousEdges records which clock edges reset is synchronous to.
// Documentation only; the core drives no timing decision from it.
func WithSynchronousEdges(e SynchronousEdges) ResetOption {
	return func(r *Reset) { r.synchronousTo = e }
}

// NewReset incorporates reset/reset_req into itf.
func NewReset(itf *iface.Interface, opts ...ResetOption) (*Reset, error) {
	r := &Reset{itf: itf}
	for _, opt := range opts {
		opt(r)
	}
	r.reset = signal.NewControl("reset", signal.WithFlowVals(false), signal.WithFixVals(true))
	r.resetReq = signal.NewControl("reset_req", signal.WithPrecedence(1), signal.WithFlowVals(false), signal.WithFixVals(true))
	spec := []iface.Spec{iface.C(r.reset), iface.C(r.resetReq)}
	if err := itf.Specify(spec, true); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Reset) Control() *signal.Control        { return r.reset }
func (r *Reset) RequestControl() *signal.Control { return r.resetReq }
func (r *Reset) SynchronousTo() SynchronousEdges { return r.synchronousTo }

// Asserted reports whether reset is currently asserted (its fix value).
func (r *Reset) Asserted() (bool, error) {
	return r.reset.Capture()
}
