package signal_test

import (
	"errors"
	"testing"

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

func TestPolarityInferredFromNameSuffix(t *testing.T) {
	activeLow := signal.New("reset_n")
	if activeLow.ActiveHigh() {
		t.Fatalf("expected reset_n to infer active-low")
	}
	activeHigh := signal.New("reset")
	if !activeHigh.ActiveHigh() {
		t.Fatalf("expected reset to infer active-high")
	}
}

// TestCapturePolarityInvolution checks that driving a logical true through
// an active-low signal, then capturing it back, round-trips to true
// despite the physical bit being inverted underneath.
func TestCapturePolarityInvolution(t *testing.T) {
	s := signal.New("foo_n")
	h := &fakeHandle{width: 1}
	if err := s.Bind(h); err != nil {
		t.Fatalf("bind: %v", err)
	}
	if err := s.Drive(true); err != nil {
		t.Fatalf("drive: %v", err)
	}
	if h.val.Bit(0) {
		t.Fatalf("expected physical bit to be inverted (low) for active-low true")
	}
	got, err := s.Capture()
	if err != nil {
		t.Fatalf("capture: %v", err)
	}
	if got != true {
		t.Fatalf("capture = %v, want true", got)
	}
}

func TestBindRejectsWrongWidth(t *testing.T) {
	s := signal.New("data", signal.WithWidths(8))
	h := &fakeHandle{width: 16}
	err := s.Bind(h)
	var perr *ifaceerr.PropertyError
	if !errors.As(err, &perr) {
		t.Fatalf("expected PropertyError, got %v", err)
	}
}

func TestBindTwiceFails(t *testing.T) {
	s := signal.New("data", signal.WithWidths(8))
	_ = s.Bind(&fakeHandle{width: 8})
	err := s.Bind(&fakeHandle{width: 8})
	if err == nil {
		t.Fatalf("expected re-bind to fail")
	}
}

func TestFilterInvariance(t *testing.T) {
	s := signal.New("en")
	h := &fakeHandle{width: 1}
	_ = s.Bind(h)
	calls := 0
	s.SetFilter(func(val any) error {
		calls++
		return nil
	})
	_ = s.Drive(true)
	_, _ = s.Capture()
	if calls != 2 {
		t.Fatalf("expected filter invoked once on drive and once on capture, got %d", calls)
	}
}

func TestFilterRejectionPropagates(t *testing.T) {
	s := signal.New("en")
	h := &fakeHandle{width: 1}
	_ = s.Bind(h)
	want := &ifaceerr.ValueError{Detail: "nope"}
	s.SetFilter(func(val any) error { return want })
	if err := s.Drive(true); err != want {
		t.Fatalf("expected filter error to propagate, got %v", err)
	}
}

func TestUnresolvableSampleIsProtocolError(t *testing.T) {
	s := signal.New("x")
	h := &fakeHandle{width: 1, val: sim.NewUnresolvable(1)}
	_ = s.Bind(h)
	_, err := s.Capture()
	var perr *ifaceerr.ProtocolError
	if !errors.As(err, &perr) {
		t.Fatalf("expected ProtocolError, got %v", err)
	}
}

func TestTypeCheckRejectsWrongType(t *testing.T) {
	s := signal.New("count", signal.WithWidths(4), signal.WithLogicalType(signal.Int))
	_ = s.Bind(&fakeHandle{width: 4})
	err := s.Drive(true)
	var terr *ifaceerr.TypeError
	if !errors.As(err, &terr) {
		t.Fatalf("expected TypeError, got %v", err)
	}
}
