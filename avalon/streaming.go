package avalon

import (
	"fmt"
	"math/bits"

	"github.com/ifacehsm/ifacehsm/ifaceerr"
	"github.com/ifacehsm/ifacehsm/iface"
	"github.com/ifacehsm/ifacehsm/signal"
	"github.com/ifacehsm/ifacehsm/sim"
)

// StreamingInterface is the Avalon-ST specification: channel/data/error
// (payload), empty/startofpacket/endofpacket (meta framing), ready (control,
// to-primary, allowance/latency up to 8) and valid (control, precedence 1).
//
// Grounded on original_source/cocotbext/interfaces/avalon/streaming.py's
// StreamingInterface.
type StreamingInterface struct {
	itf *iface.Interface

	dataBitsPerSymbol         int
	firstSymbolInHigherOrder  bool
	maxChannel                int
	readyLatency              int
	readyAllowance            int
	inPacketTimeout           int
	emptyWithinPacket         bool
	errorDescriptor           []string

	dataWidth    int
	channelWidth int
	errorWidth   int

	data    *signal.Signal
	channel *signal.Signal
	errSig  *signal.Signal
	empty   *signal.Signal
	sop     *signal.Signal
	eop     *signal.Signal
	ready   *signal.Control
	valid   *signal.Control
}

// StreamingOption configures a StreamingInterface at construction time.
type StreamingOption func(*StreamingInterface)

func WithDataWidth(bitsWidth int) StreamingOption {
	return func(s *StreamingInterface) { s.dataWidth = bitsWidth }
}

func WithDataBitsPerSymbol(n int) StreamingOption {
	return func(s *StreamingInterface) { s.dataBitsPerSymbol = n }
}

func WithFirstSymbolInHigherOrderBits(b bool) StreamingOption {
	return func(s *StreamingInterface) { s.firstSymbolInHigherOrder = b }
}

func WithMaxChannel(n int) StreamingOption {
	return func(s *StreamingInterface) { s.maxChannel = n }
}

func WithChannelWidth(n int) StreamingOption {
	return func(s *StreamingInterface) { s.channelWidth = n }
}

func WithErrorWidth(n int) StreamingOption {
	return func(s *StreamingInterface) { s.errorWidth = n }
}

func WithReadyLatency(n int) StreamingOption {
	return func(s *StreamingInterface) { s.readyLatency = n }
}

func WithReadyAllowance(n int) StreamingOption {
	return func(s *StreamingInterface) { s.readyAllowance = n }
}

func WithInPacketTimeout(n int) StreamingOption {
	return func(s *StreamingInterface) { s.inPacketTimeout = n }
}

func WithEmptyWithinPacket(b bool) StreamingOption {
	return func(s *StreamingInterface) { s.emptyWithinPacket = b }
}

func WithErrorDescriptor(descriptors ...string) StreamingOption {
	return func(s *StreamingInterface) { s.errorDescriptor = descriptors }
}

func bitsFor(maxVal int) int {
	if maxVal <= 0 {
		return 1
	}
	return bits.Len(uint(maxVal))
}

// NewStreamingInterface validates the Avalon-ST construction-time
// properties (spec.md §6) and incorporates the full signal/control
// specification into itf.
func NewStreamingInterface(itf *iface.Interface, opts ...StreamingOption) (*StreamingInterface, error) {
	s := &StreamingInterface{
		itf:                      itf,
		dataBitsPerSymbol:        8,
		firstSymbolInHigherOrder: true,
		maxChannel:               0,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.dataWidth == 0 {
		s.dataWidth = s.dataBitsPerSymbol
	}
	if s.channelWidth == 0 {
		s.channelWidth = bitsFor(s.maxChannel)
	}
	if s.errorWidth == 0 {
		s.errorWidth = 1
	}

	if s.dataBitsPerSymbol < 1 || s.dataBitsPerSymbol > 512 {
		return nil, &ifaceerr.PropertyError{Signal: "data", Detail: "data_bits_per_symbol out of range [1, 512]"}
	}
	if s.maxChannel < 0 || s.maxChannel > 255 {
		return nil, &ifaceerr.PropertyError{Signal: "channel", Detail: "max_channel out of range [0, 255]"}
	}
	if s.readyLatency < 0 || s.readyLatency > 8 || s.readyAllowance < 0 || s.readyAllowance > 8 {
		return nil, &ifaceerr.PropertyError{Signal: "ready", Detail: "ready_latency/ready_allowance out of range [0, 8]"}
	}
	if s.readyLatency > s.readyAllowance {
		return nil, &ifaceerr.PropertyError{Signal: "ready", Detail: "ready_latency must not exceed ready_allowance"}
	}
	if s.inPacketTimeout < 0 {
		return nil, &ifaceerr.PropertyError{Signal: "", Detail: "in_packet_timeout must be non-negative"}
	}
	if s.errorDescriptor != nil && len(s.errorDescriptor) != s.errorWidth {
		return nil, &ifaceerr.PropertyError{Signal: "error", Detail: "error_descriptor length must equal error width"}
	}

	symbolsPerBeat := s.dataWidth / s.dataBitsPerSymbol
	emptyWidth := bitsFor(symbolsPerBeat - 1)

	s.data = signal.New("data", signal.WithWidths(s.dataWidth), signal.WithLogicalType(signal.BitvectorType))
	s.channel = signal.New("channel", signal.WithWidths(s.channelWidth), signal.WithLogicalType(signal.Int))
	s.errSig = signal.New("error", signal.WithWidths(s.errorWidth), signal.WithLogicalType(signal.BitvectorType))
	s.empty = signal.New("empty", signal.Meta(), signal.WithWidths(emptyWidth), signal.WithLogicalType(signal.Int))
	s.sop = signal.New("startofpacket", signal.Meta())
	s.eop = signal.New("endofpacket", signal.Meta())
	s.ready = signal.NewControl("ready", signal.WithControlDirection(signal.ToPrimary), signal.WithMaxAllowance(8), signal.WithMaxLatency(8))
	s.valid = signal.NewControl("valid", signal.WithPrecedence(1))

	if err := s.ready.SetAllowance(s.readyAllowance); err != nil {
		return nil, err
	}
	if err := s.ready.SetLatency(s.readyLatency); err != nil {
		return nil, err
	}

	spec := []iface.Spec{
		iface.S(s.data), iface.S(s.channel), iface.S(s.errSig),
		iface.S(s.empty), iface.S(s.sop), iface.S(s.eop),
		iface.C(s.ready), iface.C(s.valid),
	}
	if err := itf.Specify(spec, false); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *StreamingInterface) Interface() *iface.Interface { return s.itf }
func (s *StreamingInterface) Ready() *signal.Control       { return s.ready }
func (s *StreamingInterface) Valid() *signal.Control       { return s.valid }
func (s *StreamingInterface) DataBitsPerSymbol() int       { return s.dataBitsPerSymbol }
func (s *StreamingInterface) FirstSymbolInHigherOrderBits() bool {
	return s.firstSymbolInHigherOrder
}
func (s *StreamingInterface) MaxChannel() int        { return s.maxChannel }
func (s *StreamingInterface) InPacketTimeout() int    { return s.inPacketTimeout }
func (s *StreamingInterface) EmptyWithinPacket() bool { return s.emptyWithinPacket }

// HasPacketFraming reports whether startofpacket/endofpacket are
// instantiated on the bound entity.
func (s *StreamingInterface) HasPacketFraming() bool {
	return s.sop.Instantiated() && s.eop.Instantiated()
}

// Descriptors decodes an error bitmask into its configured descriptor
// strings, one per set bit, in bit order. Returns nil if no
// error_descriptor was configured.
func (s *StreamingInterface) Descriptors(mask int) []string {
	if s.errorDescriptor == nil {
		return nil
	}
	var out []string
	for i, name := range s.errorDescriptor {
		if mask&(1<<uint(i)) != 0 {
			out = append(out, name)
		}
	}
	return out
}

// MaskData masks the low- or high-order symbols of data per `empty`,
// honoring first_symbol_in_higher_order_bits. emptySymbols counts from 0
// (no masking) up to symbolsPerBeat-1.
func (s *StreamingInterface) MaskData(data sim.Bitvector, emptySymbols int) sim.Bitvector {
	if emptySymbols <= 0 {
		return data
	}
	keepBits := data.Width() - emptySymbols*s.dataBitsPerSymbol
	if keepBits < 0 {
		keepBits = 0
	}
	// first_symbol_in_higher_order_bits=true means symbol 0 occupies the
	// highest-order bits and later (possibly-empty) symbols occupy the
	// low-order bits, so masking keeps the high side; false is the mirror.
	return data.Mask(keepBits, s.firstSymbolInHigherOrder)
}

func (s *StreamingInterface) String() string {
	return fmt.Sprintf("<StreamingInterface data=%d channel=%d error=%d>", s.dataWidth, s.channelWidth, s.errorWidth)
}
