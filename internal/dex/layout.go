package dex

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/Mugen-Finance/token-lists/internal/model"
)

const slotSize = 32

// NoSlot marks a layout field the event does not carry.
const NoSlot = -1

// Layout describes where a factory creation event keeps its fields. Topic
// indices count topic0; data slots are 32-byte ABI words.
type Layout struct {
	Protocol        string
	Kind            model.PairKind
	Signature       string
	Topics          int
	FeeTopic        int
	PairSlot        int
	StableSlot      int
	TickSpacingSlot int
}

// Built-in layouts for the factories the harvester ships with.
var builtinLayouts = []Layout{
	{
		// PoolCreated(address indexed token0, address indexed token1, uint24 indexed fee, int24 tickSpacing, address pool)
		Protocol:        "uniswap-v3",
		Kind:            model.KindConcentrated,
		Signature:       "PoolCreated(address,address,uint24,int24,address)",
		Topics:          4,
		FeeTopic:        3,
		PairSlot:        1,
		StableSlot:      NoSlot,
		TickSpacingSlot: 0,
	},
	{
		// PairCreated(address indexed token0, address indexed token1, address pair, uint256)
		Protocol:        "uniswap-v2",
		Kind:            model.KindClassic,
		Signature:       "PairCreated(address,address,address,uint256)",
		Topics:          3,
		PairSlot:        0,
		StableSlot:      NoSlot,
		TickSpacingSlot: NoSlot,
	},
	{
		Protocol:        "camelot",
		Kind:            model.KindClassic,
		Signature:       "PairCreated(address,address,address,uint256)",
		Topics:          3,
		PairSlot:        0,
		StableSlot:      NoSlot,
		TickSpacingSlot: NoSlot,
	},
	{
		Protocol:        "sushiswap",
		Kind:            model.KindClassic,
		Signature:       "PairCreated(address,address,address,uint256)",
		Topics:          3,
		PairSlot:        0,
		StableSlot:      NoSlot,
		TickSpacingSlot: NoSlot,
	},
	{
		// PairCreated(address indexed token0, address indexed token1, bool stable, address pair, uint256)
		Protocol:        "velodrome",
		Kind:            model.KindStable,
		Signature:       "PairCreated(address,address,bool,address,uint256)",
		Topics:          3,
		PairSlot:        1,
		StableSlot:      0,
		TickSpacingSlot: NoSlot,
	},
}

var signaturePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*\(([A-Za-z0-9_\[\],]*)\)$`)

// ParseSignature validates canonical event signature text and returns its
// parameter types.
func ParseSignature(signature string) ([]string, error) {
	match := signaturePattern.FindStringSubmatch(signature)
	if match == nil {
		return nil, fmt.Errorf("invalid event signature: %q", signature)
	}
	if match[1] == "" {
		return nil, nil
	}
	params := strings.Split(match[1], ",")
	for _, p := range params {
		if p == "" {
			return nil, fmt.Errorf("invalid event signature: %q", signature)
		}
	}
	return params, nil
}

// Topic0 returns the keccak256 hash of the event signature.
func (l Layout) Topic0() common.Hash {
	return crypto.Keccak256Hash([]byte(l.Signature))
}

// MinData is the shortest data payload that holds every slot the layout reads.
func (l Layout) MinData() int {
	highest := l.PairSlot
	if l.StableSlot > highest {
		highest = l.StableSlot
	}
	if l.TickSpacingSlot > highest {
		highest = l.TickSpacingSlot
	}
	return (highest + 1) * slotSize
}

// WithSignature returns a copy of the layout bound to another event
// signature, for factories that emit the same shape under a different name.
func (l Layout) WithSignature(signature string) Layout {
	if signature != "" {
		l.Signature = signature
	}
	return l
}

// Validate checks the layout against its own signature.
func (l Layout) Validate() error {
	if l.Protocol == "" {
		return fmt.Errorf("layout protocol is required")
	}
	switch l.Kind {
	case model.KindConcentrated, model.KindClassic, model.KindStable:
	default:
		return fmt.Errorf("layout %s: unsupported kind %q", l.Protocol, l.Kind)
	}

	params, err := ParseSignature(l.Signature)
	if err != nil {
		return fmt.Errorf("layout %s: %w", l.Protocol, err)
	}
	if l.Topics < 3 || l.Topics > 4 {
		return fmt.Errorf("layout %s: topic count %d out of range", l.Protocol, l.Topics)
	}
	if l.PairSlot < 0 {
		return fmt.Errorf("layout %s: pair slot is required", l.Protocol)
	}

	indexed := l.Topics - 1
	dataSlots := len(params) - indexed
	if dataSlots <= 0 {
		return fmt.Errorf("layout %s: signature has no data fields", l.Protocol)
	}
	for name, slot := range map[string]int{"pair": l.PairSlot, "stable": l.StableSlot, "tick spacing": l.TickSpacingSlot} {
		if slot >= dataSlots {
			return fmt.Errorf("layout %s: %s slot %d beyond %d data fields", l.Protocol, name, slot, dataSlots)
		}
	}

	switch l.Kind {
	case model.KindConcentrated:
		if l.FeeTopic <= 2 || l.FeeTopic >= l.Topics {
			return fmt.Errorf("layout %s: concentrated pools need a fee topic", l.Protocol)
		}
	default:
		if l.FeeTopic != 0 {
			return fmt.Errorf("layout %s: fee topic only applies to concentrated pools", l.Protocol)
		}
	}
	if (l.Kind == model.KindStable) != (l.StableSlot >= 0) {
		return fmt.Errorf("layout %s: stable slot must be set exactly for stable pairs", l.Protocol)
	}
	return nil
}

// LayoutTable resolves protocol names to layouts.
type LayoutTable struct {
	layouts map[string]Layout
}

// NewLayoutTable builds the table from the built-in layouts plus extra ones.
// Extra layouts replace built-ins of the same protocol name.
func NewLayoutTable(extra []Layout) (*LayoutTable, error) {
	table := &LayoutTable{layouts: make(map[string]Layout, len(builtinLayouts)+len(extra))}
	for _, l := range builtinLayouts {
		table.layouts[l.Protocol] = l
	}
	for _, l := range extra {
		l.Protocol = strings.ToLower(strings.TrimSpace(l.Protocol))
		if err := l.Validate(); err != nil {
			return nil, err
		}
		table.layouts[l.Protocol] = l
	}
	return table, nil
}

// Lookup returns the layout registered for protocol.
func (t *LayoutTable) Lookup(protocol string) (Layout, bool) {
	l, ok := t.layouts[strings.ToLower(strings.TrimSpace(protocol))]
	return l, ok
}

// Layouts returns all layouts sorted by protocol name.
func (t *LayoutTable) Layouts() []Layout {
	out := make([]Layout, 0, len(t.layouts))
	for _, l := range t.layouts {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Protocol < out[j].Protocol })
	return out
}
