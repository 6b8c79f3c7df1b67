package avalon

import (
	"context"

	"github.com/ifacehsm/ifacehsm/sim"
)

// Driver is a thin adapter from a sequence of Words to SourceModel.Input.
type Driver struct {
	src *SourceModel
}

func NewDriver(src *SourceModel) *Driver { return &Driver{src: src} }

// Tx drives words onto the bus as one transaction, one word per cycle in
// which valid settles true, and returns
// once the last word's endofpacket (or, absent framing, the word itself)
// has been presented.
func (d *Driver) Tx(ctx context.Context, clk sim.Clock, words []Word) error {
	txn := map[string][]any{"data": nil, "channel": nil, "error": nil}
	for _, w := range words {
		txn["data"] = append(txn["data"], w.Data)
		txn["channel"] = append(txn["channel"], w.Channel)
		txn["error"] = append(txn["error"], w.Error)
	}
	return d.src.Input(ctx, clk, txn)
}

// Monitor is a thin adapter from PassiveSinkModel.Output to a sequence of
// Words.
type Monitor struct {
	sink *PassiveSinkModel
}

func NewMonitor(sink *PassiveSinkModel) *Monitor { return &Monitor{sink: sink} }

// Rx runs the sink's event loop until a full transfer (packet, or single
// word absent framing) has been captured, then returns it as Words.
func (m *Monitor) Rx(ctx context.Context, clk sim.Clock) ([]Word, error) {
	out, err := m.sink.Output(ctx, clk)
	if err != nil {
		return nil, err
	}
	datas := out["data"]
	channels := out["channel"]
	errs := out["error"]
	words := make([]Word, len(datas))
	for i := range datas {
		words[i] = Word{Data: datas[i].(sim.Bitvector), Channel: channels[i].(int), Error: errs[i].(int)}
	}
	return words, nil
}
