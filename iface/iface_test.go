package iface_test

import (
	"errors"
	"testing"

	"github.com/ifacehsm/ifacehsm/iface"
	"github.com/ifacehsm/ifacehsm/ifaceerr"
	"github.com/ifacehsm/ifacehsm/signal"
	"github.com/ifacehsm/ifacehsm/sim"
)

type fakeHandle struct {
	width int
	val   sim.Bitvector
}

func (h *fakeHandle) Value() (sim.Bitvector, error) { return h.val, nil }
func (h *fakeHandle) Write(v sim.Bitvector) error    { h.val = v; return nil }
func (h *fakeHandle) Width() int                     { return h.width }

type fakeEntity struct {
	handles map[string]*fakeHandle
}

func (e *fakeEntity) Lookup(name string) (sim.Handle, bool) {
	h, ok := e.handles[name]
	return h, ok
}

func newFakeEntity(names ...string) *fakeEntity {
	e := &fakeEntity{handles: map[string]*fakeHandle{}}
	for _, n := range names {
		e.handles[n] = &fakeHandle{width: 1}
	}
	return e
}

func TestSpecifyBindsInstantiatedOnly(t *testing.T) {
	entity := newFakeEntity("clk")
	itf := iface.New(entity)
	clk := signal.New("clk", signal.Meta())
	optional := signal.New("nope", signal.Meta())
	if err := itf.Specify([]iface.Spec{iface.S(clk), iface.S(optional)}, false); err != nil {
		t.Fatalf("specify: %v", err)
	}
	if !clk.Instantiated() {
		t.Fatalf("expected clk to be instantiated")
	}
	if _, ok := itf.Signal("nope"); ok {
		t.Fatalf("expected nope to be skipped, not stored")
	}
}

func TestSpecifyRequiredMissingFails(t *testing.T) {
	entity := newFakeEntity()
	itf := iface.New(entity)
	required := signal.New("clk", signal.Meta(), signal.Required())
	err := itf.Specify([]iface.Spec{iface.S(required)}, false)
	var perr *ifaceerr.ProtocolError
	if !errors.As(err, &perr) {
		t.Fatalf("expected ProtocolError for missing required signal, got %v", err)
	}
}

func TestSpecifyDuplicateNameFails(t *testing.T) {
	entity := newFakeEntity("foo")
	itf := iface.New(entity)
	a := signal.New("foo")
	if err := itf.Specify([]iface.Spec{iface.S(a)}, false); err != nil {
		t.Fatalf("first specify: %v", err)
	}
	b := signal.New("foo")
	err := itf.Specify([]iface.Spec{iface.S(b)}, false)
	var derr *ifaceerr.DuplicateSignalError
	if !errors.As(err, &derr) {
		t.Fatalf("expected DuplicateSignalError, got %v", err)
	}
}

// TestSpecifyPrecedesShiftsExisting checks that incorporating a new group
// with precedes=true shifts the already-specified controls inward (to larger
// precedence) so the new group becomes the new outermost precedence level.
func TestSpecifyPrecedesShiftsExisting(t *testing.T) {
	entity := newFakeEntity("valid", "reset")
	itf := iface.New(entity)

	valid := signal.NewControl("valid", signal.WithPrecedence(0))
	if err := itf.Specify([]iface.Spec{iface.C(valid)}, false); err != nil {
		t.Fatalf("specify valid: %v", err)
	}

	reset := signal.NewControl("reset", signal.WithPrecedence(0))
	if err := itf.Specify([]iface.Spec{iface.C(reset)}, true); err != nil {
		t.Fatalf("specify reset: %v", err)
	}

	if reset.Precedence() != 0 {
		t.Fatalf("expected reset to keep precedence 0, got %d", reset.Precedence())
	}
	if valid.Precedence() != 1 {
		t.Fatalf("expected valid to shift to precedence 1, got %d", valid.Precedence())
	}
	levels := itf.Levels()
	if len(levels) != 2 || levels[0][0].Name() != "reset" || levels[1][0].Name() != "valid" {
		t.Fatalf("unexpected levels: %+v", levels)
	}
}

func TestTxnSelectsDirectionOnly(t *testing.T) {
	entity := newFakeEntity("data", "ready")
	itf := iface.New(entity)
	data := signal.New("data", signal.WithDirection(signal.FromPrimary))
	ready := signal.NewControl("ready", signal.WithControlDirection(signal.ToPrimary))
	if err := itf.Specify([]iface.Spec{iface.S(data), iface.C(ready)}, false); err != nil {
		t.Fatalf("specify: %v", err)
	}

	primary := true
	names := itf.Txn(&primary)
	if len(names) != 1 || names[0] != "data" {
		t.Fatalf("expected Txn(true) = [data], got %v", names)
	}
	// ready is meta (a Control) and so is excluded from Txn regardless of
	// direction: it is driven by the elaborated state machine, not by a
	// caller's transaction buffer.
	notPrimary := false
	if names := itf.Txn(&notPrimary); len(names) != 0 {
		t.Fatalf("expected Txn(false) = [], got %v", names)
	}
}
