package dex

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/Mugen-Finance/token-lists/internal/model"
)

// ErrMalformedLog is returned for logs that do not match their layout.
var ErrMalformedLog = errors.New("malformed log")

// Decoder turns factory creation logs into pair records for one layout.
// It performs no I/O and holds no mutable state.
type Decoder struct {
	layout Layout
	topic0 common.Hash
}

// NewDecoder validates the layout and builds a decoder for it.
func NewDecoder(layout Layout) (*Decoder, error) {
	if err := layout.Validate(); err != nil {
		return nil, err
	}
	return &Decoder{layout: layout, topic0: layout.Topic0()}, nil
}

// Layout returns the layout the decoder was built with.
func (d *Decoder) Layout() Layout {
	return d.layout
}

// Topic0 returns the event signature hash the decoder accepts.
func (d *Decoder) Topic0() common.Hash {
	return d.topic0
}

// CanDecode checks if the topic0 is the layout's event.
func (d *Decoder) CanDecode(topic0 common.Hash) bool {
	return topic0 == d.topic0
}

// Decode converts a raw log into a pair record.
func (d *Decoder) Decode(log model.RawLog) (model.PairRecord, error) {
	l := d.layout
	if len(log.Topics) != l.Topics {
		return model.PairRecord{}, malformed("expected %d topics, got %d", l.Topics, len(log.Topics))
	}
	if log.Topics[0] != d.topic0 {
		return model.PairRecord{}, malformed("unexpected topic0 %s", log.Topics[0].Hex())
	}
	if len(log.Data) < l.MinData() {
		return model.PairRecord{}, malformed("data length %d, need %d", len(log.Data), l.MinData())
	}

	record := model.PairRecord{
		Kind:        l.Kind,
		TokenA:      common.BytesToAddress(log.Topics[1].Bytes()),
		TokenB:      common.BytesToAddress(log.Topics[2].Bytes()),
		PairAddress: common.BytesToAddress(slot(log.Data, l.PairSlot)),
		BlockNumber: log.BlockNumber,
		TxHash:      log.TxHash,
	}
	if record.TokenA == record.TokenB {
		return model.PairRecord{}, malformed("identical tokens %s", record.TokenA.Hex())
	}

	if l.FeeTopic > 0 {
		// uint24: the low 3 bytes of the topic word.
		record.FeeTier = uint32(new(uint256.Int).SetBytes(log.Topics[l.FeeTopic][29:]).Uint64())
	}
	if l.TickSpacingSlot >= 0 {
		record.TickSpacing = int24(slot(log.Data, l.TickSpacingSlot))
	}
	if l.StableSlot >= 0 {
		word := new(uint256.Int).SetBytes32(slot(log.Data, l.StableSlot))
		if word.GtUint64(1) {
			return model.PairRecord{}, malformed("stable flag is not a bool: %s", word.Hex())
		}
		stable := !word.IsZero()
		record.Stable = &stable
	}

	return record, nil
}

func slot(data []byte, index int) []byte {
	start := index * slotSize
	return data[start : start+slotSize]
}

func int24(word []byte) int32 {
	v := int32(word[29])<<16 | int32(word[30])<<8 | int32(word[31])
	if v&0x800000 != 0 {
		v -= 1 << 24
	}
	return v
}

func malformed(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrMalformedLog, fmt.Sprintf(format, args...))
}
