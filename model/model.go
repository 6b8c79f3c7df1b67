// Package model builds the behavioral model layer on top of hsm and iface:
// the Elaborator translates an Interface's precedence-ordered Controls into
// an hsm.Model, and BehavioralModel drives that model's event loop,
// connecting logical transactions (Input/Output) to physical signal
// drive/sample through the machine's leaf state.
//
// Grounded on original_source/cocotbext/interfaces/model.py's nest/nestify/
// value/add_level algorithm and its BehavioralModel.input/output/advance.
package model

import (
	"context"
	"fmt"
	"sort"

	"github.com/ifacehsm/ifacehsm/hsm"
	"github.com/ifacehsm/ifacehsm/ifaceerr"
	"github.com/ifacehsm/ifacehsm/iface"
	"github.com/ifacehsm/ifacehsm/signal"
	"github.com/ifacehsm/ifacehsm/sim"
)

// AdvanceTrigger is the event every tick of the event loop dispatches; the
// elaborated model is wired entirely off this one trigger name, both from
// the outside (BehavioralModel.tick) and from entry actions that re-dispatch
// it to cascade the machine deeper into the nested structure in the same
// tick.
const AdvanceTrigger = "advance"

// Phase selects which clock sub-phase a Reaction runs in: ReadOnly reactions
// observe settled signal values after the rising edge; NextTimeStep
// reactions run after drives scheduled during ReadOnly have taken effect.
type Phase int

const (
	PhaseReadOnly Phase = iota
	PhaseNextTimeStep
)

// ReactionSpec is one class-level reaction table entry: "whenever the
// machine settles in the leaf for (ControlName, Value), run Fn." Forced
// reactions attach even when ControlName is never instantiated on the
// interface.
type ReactionSpec struct {
	ControlName string
	Value       bool
	Forced      bool
	Phase       Phase
	Fn          func(ctx context.Context, m *BehavioralModel, event hsm.Event) error
}

// FilterSpec is one class-level filter table entry, applied to a signal or
// control of the given name at BehavioralModel construction time.
type FilterSpec struct {
	SignalName string
	Fn         signal.Filter
}

// machineContext is the concrete hsm.Context every elaborated model runs
// against; it carries no state of its own beyond a back-reference, since all
// mutable behavior (buffers, counters, the interface) lives on
// BehavioralModel.
type machineContext struct {
	hsm.HSM
	model *BehavioralModel
}

func singleton(set map[bool]struct{}) bool {
	for v := range set {
		return v
	}
	return false
}

func hasTag(tags []string, want string) bool {
	for _, t := range tags {
		if t == want {
			return true
		}
	}
	return false
}

// elaborator holds the per-build lookup tables the recursive nest/nestify/
// value functions consult; it is discarded once Elaborate returns.
type elaborator struct {
	reactionsByNV map[string]map[bool][]ReactionSpec // control name -> value -> specs
	forced        []ReactionSpec                     // forced reactions with no matching instantiated control
}

// Elaborate builds the nested state machine description for itf: one
// precedence level per itf.Levels() bucket, each level's controls as
// sibling nests, each nest's flow side recursing into the next level and
// its fix side staying flat. See nestify/value below for the per-control
// and per-value construction.
func Elaborate(itf *iface.Interface, reactions []ReactionSpec) hsm.Model {
	e := &elaborator{reactionsByNV: map[string]map[bool][]ReactionSpec{}}
	instantiated := map[string]bool{}
	for _, c := range itf.Controls() {
		instantiated[c.Name()] = true
	}
	for _, r := range reactions {
		if e.reactionsByNV[r.ControlName] == nil {
			e.reactionsByNV[r.ControlName] = map[bool][]ReactionSpec{}
		}
		e.reactionsByNV[r.ControlName][r.Value] = append(e.reactionsByNV[r.ControlName][r.Value], r)
		if r.Forced && !instantiated[r.ControlName] {
			e.forced = append(e.forced, r)
		}
	}
	sort.Slice(e.forced, func(i, j int) bool { return e.forced[i].ControlName < e.forced[j].ControlName })

	levels := itf.Levels()
	rootElems := []hsm.RedefinableElement{}
	rootElems = append(rootElems, e.flower(levels, 0)...)

	return hsm.Define(
		hsm.State("NULL", hsm.Tags("fix"),
			hsm.Transition(hsm.Trigger(AdvanceTrigger), hsm.Target("/ROOT")),
		),
		hsm.State("ROOT", rootElems...),
		hsm.Initial("NULL"),
	)
}

func (e *elaborator) redispatch(ctx context.Context, mc *machineContext, _ hsm.Event) {
	if err := mc.Dispatch(ctx, hsm.Event{Name: AdvanceTrigger}); err != nil {
		mc.model.lastError = err
	}
}

// flower returns the child elements for a composite state currently acting
// as "the flower": the thing the next precedence level expands. idx >=
// len(levels) means there is nothing left to expand; flower then contributes
// only a "flow" tag and any forced reactions on uninstantiated controls.
func (e *elaborator) flower(levels [][]*signal.Control, idx int) []hsm.RedefinableElement {
	if idx >= len(levels) {
		// Tags("flow") here is redundant when flower is called from within
		// value() (which already tags its own BASE/WAIT state), but matters
		// when it is called directly as ROOT's content for an interface with
		// no instantiated controls at all: ROOT must still settle as a
		// tagged leaf.
		elems := []hsm.RedefinableElement{hsm.Tags("flow")}
		for _, spec := range e.forced {
			elems = append(elems, hsm.Reaction[*machineContext](e.wrapReaction(spec)))
		}
		return elems
	}
	level := levels[idx]
	elems := []hsm.RedefinableElement{
		hsm.Entry[*machineContext](e.redispatch),
	}
	for _, ctrl := range level {
		ctrl := ctrl
		flowGuard := e.flowGuard(ctrl)
		guard := flowGuard
		if len(level) > 1 {
			others := otherControls(level, ctrl)
			guard = func(ctx context.Context, mc *machineContext, ev hsm.Event) bool {
				if !flowGuard(ctx, mc, ev) {
					return false
				}
				for _, other := range others {
					if !e.fixGuard(other)(ctx, mc, ev) {
						return false
					}
				}
				return true
			}
		}
		elems = append(elems,
			hsm.Transition(hsm.Trigger(AdvanceTrigger), hsm.Guard[*machineContext](guard), hsm.Target(ctrl.Name())),
			e.nestify(ctrl, levels, idx),
		)
	}
	return elems
}

func otherControls(level []*signal.Control, except *signal.Control) []*signal.Control {
	out := make([]*signal.Control, 0, len(level)-1)
	for _, c := range level {
		if c != except {
			out = append(out, c)
		}
	}
	return out
}

// nestify builds one control's nest: a composite with a "flow" and a "fix"
// child, each holding that side's value() structure, plus the advance
// transitions selecting between them. Declaring those transitions on the
// nest itself (rather than duplicated on each child) is sufficient: hsm's
// enabled() search walks from the current leaf up through its ancestors, so
// a transition here is found regardless of how deep the flow side's value()
// structure has subdivided further.
func (e *elaborator) nestify(ctrl *signal.Control, levels [][]*signal.Control, idx int) hsm.RedefinableElement {
	flowGuard := e.flowGuard(ctrl)
	fixGuard := e.fixGuard(ctrl)
	deeper := func() []hsm.RedefinableElement { return e.flower(levels, idx+1) }
	flat := func() []hsm.RedefinableElement { return nil }

	return hsm.State(ctrl.Name(),
		hsm.Entry[*machineContext](e.redispatch),
		hsm.Transition(hsm.Trigger(AdvanceTrigger), hsm.Guard[*machineContext](flowGuard), hsm.Target("flow")),
		hsm.Transition(hsm.Trigger(AdvanceTrigger), hsm.Guard[*machineContext](fixGuard), hsm.Target("fix")),
		e.value(ctrl, true, "flow", deeper),
		e.value(ctrl, false, "fix", flat),
	)
}

// value builds the state for one side (flow or fix) of a control's nest. If
// the side carries no delay (allowance for flow, latency for fix) it is a
// flat leaf, optionally expanded deeper by the caller's children func. If it
// does carry a delay, it becomes a tiny BASE/WAIT composite: BASE is the
// positive leaf, WAIT is a volatile sibling entered when the sample goes
// negative, tagged with the same flow/fix tag (waiting out an allowance or
// latency window still counts as being in that control context), and
// reflexively self-counts until the delay is exhausted.
func (e *elaborator) value(ctrl *signal.Control, isFlow bool, name string, children func() []hsm.RedefinableElement) hsm.RedefinableElement {
	var val bool
	var limit int
	var tag string
	if isFlow {
		val = singleton(ctrl.FlowVals())
		limit = ctrl.Allowance()
		tag = "flow"
	} else {
		val = singleton(ctrl.FixVals())
		limit = ctrl.Latency()
		tag = "fix"
	}

	positive := func(ctx context.Context, mc *machineContext, _ hsm.Event) bool {
		cur, err := ctrl.Capture()
		if err != nil {
			mc.model.lastError = err
			return false
		}
		return cur == val
	}

	reactionElems := e.reactionElements(ctrl.Name(), val)

	if limit <= 0 {
		elems := []hsm.RedefinableElement{hsm.Tags(tag), hsm.Influences(ctrl.Name())}
		elems = append(elems, reactionElems...)
		elems = append(elems, children()...)
		return hsm.State(name, elems...)
	}

	var counter int
	negative := func(ctx context.Context, mc *machineContext, ev hsm.Event) bool {
		return !positive(ctx, mc, ev)
	}
	waitGuard := func(ctx context.Context, mc *machineContext, ev hsm.Event) bool {
		return negative(ctx, mc, ev) && counter < limit
	}
	increment := func(ctx context.Context, mc *machineContext, _ hsm.Event) { counter++ }
	reset := func(ctx context.Context, mc *machineContext, _ hsm.Event) { counter = 0 }

	baseElems := []hsm.RedefinableElement{hsm.Tags(tag), hsm.Influences(ctrl.Name())}
	baseElems = append(baseElems, reactionElems...)
	baseElems = append(baseElems, children()...)
	baseElems = append(baseElems, hsm.Transition(hsm.Trigger(AdvanceTrigger), hsm.Guard[*machineContext](negative), hsm.Target("../WAIT")))

	waitElems := []hsm.RedefinableElement{
		hsm.Tags(tag, "wait"),
		hsm.Influences(ctrl.Name()),
		hsm.Entry[*machineContext](reset),
	}
	waitElems = append(waitElems, reactionElems...)
	waitElems = append(waitElems, children()...)
	waitElems = append(waitElems, hsm.Transition(hsm.Trigger(AdvanceTrigger), hsm.Guard[*machineContext](waitGuard), hsm.Effect[*machineContext](increment)))

	return hsm.State(name,
		hsm.Initial("BASE"),
		hsm.State("BASE", baseElems...),
		hsm.State("WAIT", waitElems...),
	)
}

func (e *elaborator) reactionElements(ctrlName string, val bool) []hsm.RedefinableElement {
	var elems []hsm.RedefinableElement
	for _, spec := range e.reactionsByNV[ctrlName][val] {
		elems = append(elems, hsm.Reaction[*machineContext](e.wrapReaction(spec)))
	}
	return elems
}

func (e *elaborator) wrapReaction(spec ReactionSpec) func(ctx context.Context, mc *machineContext, ev hsm.Event) error {
	return func(ctx context.Context, mc *machineContext, ev hsm.Event) error {
		phase, _ := ev.Data.(Phase)
		if phase != spec.Phase {
			return nil
		}
		return spec.Fn(ctx, mc.model, ev)
	}
}

func (e *elaborator) flowGuard(ctrl *signal.Control) func(ctx context.Context, mc *machineContext, ev hsm.Event) bool {
	val := singleton(ctrl.FlowVals())
	return func(ctx context.Context, mc *machineContext, _ hsm.Event) bool {
		cur, err := ctrl.Capture()
		if err != nil {
			mc.model.lastError = err
			return false
		}
		return cur == val
	}
}

func (e *elaborator) fixGuard(ctrl *signal.Control) func(ctx context.Context, mc *machineContext, ev hsm.Event) bool {
	val := singleton(ctrl.FixVals())
	return func(ctx context.Context, mc *machineContext, _ hsm.Event) bool {
		cur, err := ctrl.Capture()
		if err != nil {
			mc.model.lastError = err
			return false
		}
		return cur == val
	}
}

// BehavioralModel connects an elaborated hsm.Model to an Interface's
// signals: it owns the per-signal transaction buffer, the busy flag that
// enforces one Input/Output at a time, and the event loop that drives the
// machine one tick per clock period until the transaction completes.
type BehavioralModel struct {
	itf     *iface.Interface
	primary *bool

	buffers map[string][]any
	busy    bool

	sm        *machineContext
	lastError error
}

// New constructs a BehavioralModel bound to itf. primary selects which
// signals get a transaction buffer (itf.Txn(primary)): true the from-primary
// signals, false the to-primary signals, nil the bidirectional ones only.
// Reactions may push values under other names too (a sink records the
// from-primary payload it samples). reactions and filters are the class-level tables a
// concrete protocol model (e.g. a streaming source/sink) supplies.
func New(ctx context.Context, itf *iface.Interface, primary *bool, reactions []ReactionSpec, filters []FilterSpec) (*BehavioralModel, error) {
	for _, f := range filters {
		if c, ok := itf.Control(f.SignalName); ok {
			c.SetFilter(f.Fn)
			continue
		}
		if s, ok := itf.Signal(f.SignalName); ok {
			s.SetFilter(f.Fn)
			continue
		}
		return nil, &ifaceerr.PropertyError{Signal: f.SignalName, Detail: "filter names a signal not on this interface"}
	}

	m := &BehavioralModel{
		itf:     itf,
		primary: primary,
		buffers: map[string][]any{},
	}
	for _, name := range itf.Txn(primary) {
		m.buffers[name] = nil
	}

	built := Elaborate(itf, reactions)
	m.sm = hsm.Start(ctx, &machineContext{model: m}, &built)
	return m, nil
}

// Interface returns the bound Interface.
func (m *BehavioralModel) Interface() *iface.Interface { return m.itf }

// Busy reports whether an Input or Output call is already in flight.
func (m *BehavioralModel) Busy() bool { return m.busy }

// SetBusy ends the current transaction; a Reaction calls this once it has
// observed the last symbol of a packet (or the single word of a non-packet
// transfer), terminating the loop Input/Output is spinning in.
func (m *BehavioralModel) SetBusy(b bool) { m.busy = b }

// PushBuffer appends val to the named signal's buffer, used by a sampling
// Reaction to record each captured value for Output to return.
func (m *BehavioralModel) PushBuffer(name string, val any) {
	m.buffers[name] = append(m.buffers[name], val)
}

// PopBuffer removes and returns the head of the named signal's buffer.
func (m *BehavioralModel) PopBuffer(name string) (any, bool) {
	vals := m.buffers[name]
	if len(vals) == 0 {
		return nil, false
	}
	m.buffers[name] = vals[1:]
	return vals[0], true
}

// BufferLen reports how many values remain queued for name.
func (m *BehavioralModel) BufferLen(name string) int { return len(m.buffers[name]) }

// Control looks up a control on the bound interface.
func (m *BehavioralModel) Control(name string) (*signal.Control, bool) { return m.itf.Control(name) }

// Signal looks up a plain signal on the bound interface.
func (m *BehavioralModel) Signal(name string) (*signal.Signal, bool) { return m.itf.Signal(name) }

func (m *BehavioralModel) flush() map[string][]any {
	out := make(map[string][]any, len(m.buffers))
	for k, v := range m.buffers {
		out[k] = v
		m.buffers[k] = nil
	}
	return out
}

// tick advances the machine exactly one clock period: it awaits the rising
// edge, dispatches one advance event (which cascades the machine to a leaf,
// re-dispatching itself from entry actions along the way), verifies the
// control context invariant, clears every influenced control's cache, runs
// read-only reactions, awaits the next-time-step boundary, then runs
// next-time-step reactions.
func (m *BehavioralModel) tick(ctx context.Context, clk sim.Clock) error {
	if err := clk.RisingEdge(ctx); err != nil {
		return err
	}
	if err := clk.ReadOnly(ctx); err != nil {
		return err
	}

	m.lastError = nil
	if err := m.sm.Dispatch(ctx, hsm.Event{Name: AdvanceTrigger}); err != nil {
		return err
	}
	if m.lastError != nil {
		return m.lastError
	}

	tags := m.sm.Tags()
	if !hasTag(tags, "flow") && !hasTag(tags, "fix") {
		return &ifaceerr.ProtocolError{Detail: "control context invariant violated", Observed: m.sm.State()}
	}

	for _, name := range m.sm.Influences() {
		if c, ok := m.itf.Control(name); ok {
			c.Clear()
		}
	}

	if err := m.sm.RunReactions(ctx, hsm.Event{Name: AdvanceTrigger, Data: PhaseReadOnly}); err != nil {
		return err
	}
	if m.lastError != nil {
		return m.lastError
	}

	if err := clk.NextTimeStep(ctx); err != nil {
		return err
	}

	if err := m.sm.RunReactions(ctx, hsm.Event{Name: AdvanceTrigger, Data: PhaseNextTimeStep}); err != nil {
		return err
	}
	return m.lastError
}

// Input drives txn onto this model's buffers and runs the event loop until
// a reaction marks the machine no longer busy, returning once the last tick
// of the transaction has completed.
func (m *BehavioralModel) Input(ctx context.Context, clk sim.Clock, txn map[string][]any) error {
	if m.busy {
		return &ifaceerr.ProtocolError{Detail: "model is busy, cannot accept input"}
	}
	for name := range txn {
		if _, ok := m.buffers[name]; !ok {
			return &ifaceerr.ValueError{Detail: fmt.Sprintf("signal %q is not part of this model's transaction", name)}
		}
	}
	for name := range m.buffers {
		if _, ok := txn[name]; !ok {
			return &ifaceerr.ValueError{Detail: fmt.Sprintf("transaction missing signal %q", name)}
		}
	}
	for name, vals := range txn {
		m.buffers[name] = append(m.buffers[name], vals...)
	}

	m.busy = true
	for m.busy {
		if err := m.tick(ctx, clk); err != nil {
			m.busy = false
			return err
		}
	}
	m.flush()
	return nil
}

// Output runs the event loop until a reaction marks the machine no longer
// busy, then returns the accumulated per-signal sample buffers.
func (m *BehavioralModel) Output(ctx context.Context, clk sim.Clock) (map[string][]any, error) {
	if m.busy {
		return nil, &ifaceerr.ProtocolError{Detail: "model is busy"}
	}
	m.busy = true
	for m.busy {
		if err := m.tick(ctx, clk); err != nil {
			m.busy = false
			return nil, err
		}
	}
	return m.flush(), nil
}
