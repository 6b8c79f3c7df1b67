// Package sim declares the facade the behavioral modeling core consumes from
// a host simulator. It is the sole collaborator the core depends on for
// physical I/O; nothing in this module implements it; a host adapter (e.g. a
// cocotb-style or Verilator-backed harness) supplies a concrete Entity and
// Clock.
package sim

import "context"

// Handle is a single bound wire or bus on the simulated design.
type Handle interface {
	// Value reads the handle's current value. An unresolvable bit pattern
	// (X/Z in four-state simulation) is reported via Bitvector.Resolvable.
	Value() (Bitvector, error)
	// Write schedules val to be driven onto the handle on the next delta.
	Write(val Bitvector) error
	// Width reports the bit width of the bound handle.
	Width() int
}

// Entity is the host namespace signals are looked up against, typically a
// DUT instance plus a bus-name prefix already applied by the caller.
type Entity interface {
	Lookup(name string) (Handle, bool)
}

// Clock provides the phases of one simulation tick that the event loop
// awaits: the rising edge, the read-only (all-signals-settled) phase, and
// the next-time-step phase in which drives scheduled during read-only take
// effect before the following edge.
type Clock interface {
	RisingEdge(ctx context.Context) error
	ReadOnly(ctx context.Context) error
	NextTimeStep(ctx context.Context) error
}

// Bitvector is a minimal stand-in for a four-state simulation value: a
// little-endian bit string plus an X/Z resolvability flag, sized to a fixed
// width. It lets the signal package do width-aware inversion and integer
// conversion without importing a full four-state binary-value library.
type Bitvector struct {
	bits       []bool
	resolvable bool
}

// NewBitvector builds a resolvable Bitvector from bits, LSB first.
func NewBitvector(bits ...bool) Bitvector {
	cp := make([]bool, len(bits))
	copy(cp, bits)
	return Bitvector{bits: cp, resolvable: true}
}

// NewUnresolvable returns a Bitvector of the given width that reports
// Resolvable() == false, modeling an X/Z sample.
func NewUnresolvable(width int) Bitvector {
	return Bitvector{bits: make([]bool, width), resolvable: false}
}

// FromInt builds a resolvable Bitvector of the given width from an integer,
// LSB first.
func FromInt(v int, width int) Bitvector {
	bits := make([]bool, width)
	for i := 0; i < width; i++ {
		bits[i] = v&(1<<uint(i)) != 0
	}
	return Bitvector{bits: bits, resolvable: true}
}

func (b Bitvector) Width() int        { return len(b.bits) }
func (b Bitvector) Resolvable() bool  { return b.resolvable }
func (b Bitvector) Bit(i int) bool    { return b.bits[i] }
func (b Bitvector) Bits() []bool      { cp := make([]bool, len(b.bits)); copy(cp, b.bits); return cp }

// Integer interprets the bitvector as an unsigned integer, LSB first.
func (b Bitvector) Integer() int {
	v := 0
	for i, bit := range b.bits {
		if bit {
			v |= 1 << uint(i)
		}
	}
	return v
}

// Invert returns the bitwise complement, masked to the same width.
func (b Bitvector) Invert() Bitvector {
	inv := make([]bool, len(b.bits))
	for i, bit := range b.bits {
		inv[i] = !bit
	}
	return Bitvector{bits: inv, resolvable: b.resolvable}
}

// Mask returns the low `keep` bits (or, if fromHigh is true, the high `keep`
// bits) of the vector, used to implement the Avalon-ST empty-symbol mask.
func (b Bitvector) Mask(keep int, fromHigh bool) Bitvector {
	out := make([]bool, len(b.bits))
	copy(out, b.bits)
	if fromHigh {
		for i := 0; i < len(out)-keep; i++ {
			out[i] = false
		}
	} else {
		for i := keep; i < len(out); i++ {
			out[i] = false
		}
	}
	return Bitvector{bits: out, resolvable: b.resolvable}
}
