package avalon

import (
	"context"

	"github.com/ifacehsm/ifacehsm/hsm"
	"github.com/ifacehsm/ifacehsm/ifaceerr"
	"github.com/ifacehsm/ifacehsm/model"
	"github.com/ifacehsm/ifacehsm/sim"
)

// PassiveSinkModel is the Avalon-ST sink: it drives no signal (not even
// `ready`) and captures whatever the source presents whenever `valid` settles
// true. Packet framing (startofpacket/endofpacket/empty) is honored only
// when both framing signals are instantiated; otherwise every valid word is
// a complete, single-word transfer.
//
// Grounded on original_source/cocotbext/interfaces/avalon/streaming.py's
// AvalonSTSink reaction table.
type PassiveSinkModel struct {
	*model.BehavioralModel
	st *StreamingInterface

	inPacket      bool
	haveChannel   bool
	packetChannel int
}

// NewPassiveSinkModel builds a sink bound to st. The sink plays the
// non-primary role: it samples from-primary payload into its own buffers
// rather than driving them.
func NewPassiveSinkModel(ctx context.Context, st *StreamingInterface) (*PassiveSinkModel, error) {
	sink := &PassiveSinkModel{st: st}
	primary := false
	reactions := []model.ReactionSpec{
		{ControlName: "valid", Value: true, Phase: model.PhaseReadOnly, Fn: sink.onValid},
		{ControlName: "reset", Value: true, Forced: true, Phase: model.PhaseReadOnly, Fn: sink.onReset},
	}
	bm, err := model.New(ctx, st.Interface(), &primary, reactions, nil)
	if err != nil {
		return nil, err
	}
	sink.BehavioralModel = bm
	return sink, nil
}

func (s *PassiveSinkModel) onReset(ctx context.Context, m *model.BehavioralModel, ev hsm.Event) error {
	s.inPacket = false
	s.haveChannel = false
	return nil
}

func (s *PassiveSinkModel) onValid(ctx context.Context, m *model.BehavioralModel, ev hsm.Event) error {
	raw, err := s.st.data.Capture()
	if err != nil {
		return err
	}
	data := raw.(sim.Bitvector)

	channel := 0
	if s.st.channel.Instantiated() {
		v, err := s.st.channel.Capture()
		if err != nil {
			return err
		}
		channel = v.(int)
	}

	errMask := 0
	if s.st.errSig.Instantiated() {
		v, err := s.st.errSig.Capture()
		if err != nil {
			return err
		}
		errMask = v.(sim.Bitvector).Integer()
	}

	framed := s.st.HasPacketFraming()
	var sop, eop bool
	emptySymbols := 0

	if framed {
		sopVal, err := s.st.sop.Capture()
		if err != nil {
			return err
		}
		eopVal, err := s.st.eop.Capture()
		if err != nil {
			return err
		}
		sop, eop = sopVal.(bool), eopVal.(bool)
		if s.st.empty.Instantiated() {
			v, err := s.st.empty.Capture()
			if err != nil {
				return err
			}
			emptySymbols = v.(int)
		}

		switch {
		case sop && s.inPacket:
			return &ifaceerr.ProtocolError{Detail: "startofpacket asserted mid-packet"}
		case sop:
			s.inPacket = true
			s.haveChannel = true
			s.packetChannel = channel
		case !s.inPacket:
			return &ifaceerr.ProtocolError{Detail: "data valid before startofpacket"}
		}
		if s.haveChannel && channel != s.packetChannel {
			return &ifaceerr.ProtocolError{Detail: "channel changed mid-packet"}
		}
		// empty only matters on the beat that ends the packet, unless the
		// interface is configured to honor it throughout (empty_within_packet).
		if eop || s.st.EmptyWithinPacket() {
			data = s.st.MaskData(data, emptySymbols)
		}
	}

	m.PushBuffer("data", data)
	m.PushBuffer("channel", channel)
	m.PushBuffer("error", errMask)

	if !framed || eop {
		s.inPacket = false
		s.haveChannel = false
		m.SetBusy(false)
	}
	return nil
}
