package avalon

import (
	"context"

	"github.com/ifacehsm/ifacehsm/hsm"
	"github.com/ifacehsm/ifacehsm/ifaceerr"
	"github.com/ifacehsm/ifacehsm/model"
	"github.com/ifacehsm/ifacehsm/sim"
)

// Word is one Avalon-ST beat: the payload of a single data/channel/error
// sample, packet framing aside (SourceModel derives startofpacket/
// endofpacket from buffer occupancy; PassiveSinkModel samples the framing
// signals from the bus).
type Word struct {
	Data    sim.Bitvector
	Channel int
	Error   int
}

// SourceModel is the Avalon-ST source: it drives `valid` via a Control
// Generator keyed off its own buffer occupancy, then drives the payload
// signals (plus framing, when instantiated) whenever valid settles true.
//
// Grounded on original_source/cocotbext/interfaces/avalon/streaming.py's
// AvalonSTSource reaction table.
type SourceModel struct {
	*model.BehavioralModel
	st *StreamingInterface

	inPacket bool
}

// NewSourceModel builds a source bound to st. The source plays the primary
// role: its buffers track the from-primary payload signals it drives.
func NewSourceModel(ctx context.Context, st *StreamingInterface) (*SourceModel, error) {
	src := &SourceModel{st: st}
	primary := true
	reactions := []model.ReactionSpec{
		{ControlName: "valid", Value: true, Phase: model.PhaseNextTimeStep, Fn: src.onValid},
		{ControlName: "reset", Value: true, Forced: true, Phase: model.PhaseReadOnly, Fn: src.onReset},
	}
	bm, err := model.New(ctx, st.Interface(), &primary, reactions, nil)
	if err != nil {
		return nil, err
	}
	src.BehavioralModel = bm
	if err := st.Valid().SetGenerator(src.nextValid); err != nil {
		return nil, err
	}
	return src, nil
}

func (s *SourceModel) onReset(ctx context.Context, m *model.BehavioralModel, ev hsm.Event) error {
	s.inPacket = false
	return nil
}

// nextValid is the `valid` Control's Generator: true whenever a word is
// queued to drive.
func (s *SourceModel) nextValid() (bool, bool) {
	return s.BufferLen("data") > 0, true
}

// onValid runs at PhaseNextTimeStep: it is the writable half of the clock
// period, so it is where a driver is allowed to put new values onto the
// bus (mirrors the Python source's assert_valid/valid_cycle running under
// smode=ct.NextTimeStep).
func (s *SourceModel) onValid(ctx context.Context, m *model.BehavioralModel, ev hsm.Event) error {
	dataVal, ok := m.PopBuffer("data")
	if !ok {
		return &ifaceerr.ProtocolError{Detail: "valid asserted with no buffered word"}
	}
	data := dataVal.(sim.Bitvector)
	channel := 0
	if v, ok := m.PopBuffer("channel"); ok {
		channel = v.(int)
	}
	errMask := 0
	if v, ok := m.PopBuffer("error"); ok {
		errMask = v.(int)
	}

	if err := s.st.data.Drive(data); err != nil {
		return err
	}
	if s.st.channel.Instantiated() {
		if err := s.st.channel.Drive(channel); err != nil {
			return err
		}
	}
	if s.st.errSig.Instantiated() {
		if err := s.st.errSig.Drive(sim.FromInt(errMask, s.st.errSig.Handle().Width())); err != nil {
			return err
		}
	}

	last := m.BufferLen("data") == 0
	if s.st.HasPacketFraming() {
		first := !s.inPacket
		s.inPacket = !last
		if err := s.st.sop.Drive(first); err != nil {
			return err
		}
		if err := s.st.eop.Drive(last); err != nil {
			return err
		}
		if s.st.empty.Instantiated() {
			if err := s.st.empty.Drive(0); err != nil {
				return err
			}
		}
	}
	if last {
		m.SetBusy(false)
	}
	return nil
}
