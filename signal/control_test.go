package signal_test

import (
	"testing"

	"github.com/ifacehsm/ifacehsm/signal"
)

func TestControlDefaults(t *testing.T) {
	c := signal.NewControl("valid")
	if !c.Meta() {
		t.Fatalf("expected controls to default to meta")
	}
	if _, ok := c.FlowVals()[true]; !ok {
		t.Fatalf("expected default flow_vals={true}")
	}
	if _, ok := c.FixVals()[false]; !ok {
		t.Fatalf("expected default fix_vals={false}")
	}
}

func TestControlAllowanceRange(t *testing.T) {
	c := signal.NewControl("ready", signal.WithMaxAllowance(8))
	if err := c.SetAllowance(9); err == nil {
		t.Fatalf("expected allowance above max to fail")
	}
	if err := c.SetAllowance(8); err != nil {
		t.Fatalf("SetAllowance: %v", err)
	}
	if c.Allowance() != 8 {
		t.Fatalf("Allowance() = %d, want 8", c.Allowance())
	}
}

func TestControlPrecedenceOrdering(t *testing.T) {
	a := signal.NewControl("a", signal.WithPrecedence(0))
	b := signal.NewControl("b", signal.WithPrecedence(1))
	if !a.Less(b) {
		t.Fatalf("expected precedence 0 to sort before precedence 1")
	}
	if !a.Equal(a) {
		t.Fatalf("expected a control to equal itself in precedence")
	}
}

// TestGeneratorDeterminism verifies a Control with an installed Generator
// produces the same value across repeated Captures until Clear, and the
// next value only after Clear — the cache behavior the event loop's
// Influences()-driven clearing depends on.
func TestGeneratorDeterminism(t *testing.T) {
	c := signal.NewControl("valid")
	h := &fakeHandle{width: 1}
	if err := c.Bind(h); err != nil {
		t.Fatalf("bind: %v", err)
	}
	seq := []bool{true, false, true}
	i := 0
	if err := c.SetGenerator(func() (bool, bool) {
		if i >= len(seq) {
			return false, false
		}
		v := seq[i]
		i++
		return v, true
	}); err != nil {
		t.Fatalf("SetGenerator: %v", err)
	}

	first, err := c.Capture()
	if err != nil {
		t.Fatalf("capture: %v", err)
	}
	second, err := c.Capture()
	if err != nil {
		t.Fatalf("capture: %v", err)
	}
	if first != second {
		t.Fatalf("expected repeated Capture to return cached value, got %v then %v", first, second)
	}
	if first != true {
		t.Fatalf("expected first generated value true, got %v", first)
	}

	c.Clear()
	next, err := c.Capture()
	if err != nil {
		t.Fatalf("capture after clear: %v", err)
	}
	if next != false {
		t.Fatalf("expected second generated value false, got %v", next)
	}
}

func TestGeneratorRequiresInstantiation(t *testing.T) {
	c := signal.NewControl("valid")
	err := c.SetGenerator(func() (bool, bool) { return true, true })
	if err == nil {
		t.Fatalf("expected SetGenerator on non-instantiated control to fail")
	}
}
