// Package signal implements the declarative Signal/Control model: a named
// logical wire with width, direction, polarity and logical-value
// translation (Signal), and its Control specialization which adds
// precedence, flow/fix value sets, and latency/allowance delay counters.
//
// Grounded on original_source/cocotbext/interfaces/signal.py.
package signal

import (
	"fmt"
	"strings"

	"github.com/ifacehsm/ifacehsm/ifaceerr"
	"github.com/ifacehsm/ifacehsm/sim"
)

// Direction describes which side of an interface drives a Signal.
type Direction int

const (
	FromPrimary Direction = iota
	ToPrimary
	Bidirectional
)

func (d Direction) String() string {
	switch d {
	case FromPrimary:
		return "from-primary"
	case ToPrimary:
		return "to-primary"
	default:
		return "bidirectional"
	}
}

// LogicalType controls how a captured Bitvector is converted for callers.
type LogicalType int

const (
	Bool LogicalType = iota
	Int
	BitvectorType
)

func (t LogicalType) String() string {
	switch t {
	case Bool:
		return "bool"
	case Int:
		return "int"
	default:
		return "bitvector"
	}
}

// Filter validates or transforms a value on every capture and drive. It
// observes logical (active-high) values on both paths: drive calls it
// before polarity inversion, capture calls it after.
type Filter func(val any) error

// Signal is a named logical wire specification: a functional description of
// a physically-realizable digital signal, independent of whatever Entity it
// eventually binds to.
type Signal struct {
	name        string
	widths      map[int]struct{}
	direction   Direction
	required    bool
	activeHigh  bool
	meta        bool
	logicalType LogicalType

	handle sim.Handle
	filter Filter
}

// Option configures a Signal at construction time.
type Option func(*Signal)

func WithWidths(widths ...int) Option {
	return func(s *Signal) {
		set := make(map[int]struct{}, len(widths))
		for _, w := range widths {
			set[w] = struct{}{}
		}
		s.widths = set
	}
}

func WithDirection(d Direction) Option {
	return func(s *Signal) { s.direction = d }
}

func Required() Option {
	return func(s *Signal) { s.required = true }
}

func Meta() Option {
	return func(s *Signal) { s.meta = true }
}

func WithLogicalType(t LogicalType) Option {
	return func(s *Signal) { s.logicalType = t }
}

// ActiveLow forces active-low polarity regardless of name suffix.
func ActiveLow() Option {
	return func(s *Signal) { s.activeHigh = false }
}

// ActiveHigh forces active-high polarity regardless of name suffix.
func ActiveHigh() Option {
	return func(s *Signal) { s.activeHigh = true }
}

// New constructs a Signal. Polarity defaults to active-high unless name ends
// in "_n", mirroring the Python source's name-suffix inference.
func New(name string, opts ...Option) *Signal {
	if name == "" {
		panic("signal: name must be non-empty")
	}
	s := &Signal{
		name:        name,
		widths:      map[int]struct{}{1: {}},
		direction:   FromPrimary,
		activeHigh:  !strings.HasSuffix(name, "_n"),
		logicalType: Bool,
	}
	for _, opt := range opts {
		opt(s)
	}
	if len(s.widths) == 0 {
		panic(fmt.Sprintf("signal (%s): widths must be non-empty", name))
	}
	for w := range s.widths {
		if w < 1 {
			panic(fmt.Sprintf("signal (%s): widths must be positive", name))
		}
	}
	return s
}

func (s *Signal) Name() string             { return s.name }
func (s *Signal) Required() bool           { return s.required }
func (s *Signal) ActiveHigh() bool         { return s.activeHigh }
func (s *Signal) Meta() bool               { return s.meta }
func (s *Signal) Direction() Direction     { return s.direction }
func (s *Signal) LogicalType() LogicalType { return s.logicalType }
func (s *Signal) Instantiated() bool       { return s.handle != nil }
func (s *Signal) Handle() sim.Handle       { return s.handle }
func (s *Signal) Filter() Filter           { return s.filter }

// Widths reports the set of bit-widths this Signal may legally bind to.
func (s *Signal) Widths() map[int]struct{} {
	cp := make(map[int]struct{}, len(s.widths))
	for w := range s.widths {
		cp[w] = struct{}{}
	}
	return cp
}

// Bind attaches a simulator handle, validating its width belongs to Widths.
// Once bound, width is frozen; re-binding returns a PropertyError.
func (s *Signal) Bind(h sim.Handle) error {
	if s.handle != nil {
		return &ifaceerr.PropertyError{Signal: s.name, Detail: "already bound to a handle"}
	}
	if _, ok := s.widths[h.Width()]; !ok {
		return &ifaceerr.PropertyError{Signal: s.name, Detail: fmt.Sprintf("invalid width (%d)", h.Width())}
	}
	s.handle = h
	return nil
}

// SetFilter attaches a validation callback, invoked before polarity
// inversion on drive and after polarity inversion on capture.
func (s *Signal) SetFilter(f Filter) { s.filter = f }

// Capture reads, validates and logically converts the current sample.
func (s *Signal) Capture() (any, error) {
	if s.handle == nil {
		return nil, &ifaceerr.ProtocolError{Signal: s.name, Detail: "not instantiated"}
	}
	val, err := s.handle.Value()
	if err != nil {
		return nil, err
	}
	if !val.Resolvable() {
		return nil, &ifaceerr.ProtocolError{Signal: s.name, Detail: "unresolvable sample"}
	}
	if !s.activeHigh {
		val = val.Invert()
	}
	if s.filter != nil {
		if err := s.filter(val); err != nil {
			return nil, err
		}
	}
	switch s.logicalType {
	case Bool:
		return val.Integer() != 0, nil
	case Int:
		return val.Integer(), nil
	default:
		return val, nil
	}
}

// Drive type-checks, filters and logically converts val, then writes the
// physical (polarity-adjusted) value to the bound handle.
func (s *Signal) Drive(val any) error {
	if s.handle == nil {
		return &ifaceerr.ProtocolError{Signal: s.name, Detail: "not instantiated"}
	}
	if err := s.typeCheck(val); err != nil {
		return err
	}
	if s.filter != nil {
		if err := s.filter(val); err != nil {
			return err
		}
	}
	width := s.handle.Width()
	var bv sim.Bitvector
	switch v := val.(type) {
	case bool:
		n := 0
		if v {
			n = 1
		}
		bv = sim.FromInt(n, width)
	case int:
		bv = sim.FromInt(v, width)
	case sim.Bitvector:
		bv = v
	default:
		return &ifaceerr.TypeError{Signal: s.name, Want: s.logicalType.String(), Got: fmt.Sprintf("%T", val)}
	}
	if !s.activeHigh {
		bv = bv.Invert()
	}
	return s.handle.Write(bv)
}

func (s *Signal) typeCheck(val any) error {
	switch s.logicalType {
	case Bool:
		if _, ok := val.(bool); !ok {
			return &ifaceerr.TypeError{Signal: s.name, Want: "bool", Got: fmt.Sprintf("%T", val)}
		}
	case Int:
		if _, ok := val.(int); !ok {
			return &ifaceerr.TypeError{Signal: s.name, Want: "int", Got: fmt.Sprintf("%T", val)}
		}
	case BitvectorType:
		if _, ok := val.(sim.Bitvector); !ok {
			return &ifaceerr.TypeError{Signal: s.name, Want: "bitvector", Got: fmt.Sprintf("%T", val)}
		}
	}
	return nil
}

func (s *Signal) String() string {
	return fmt.Sprintf("<Signal(%s)>", s.name)
}
