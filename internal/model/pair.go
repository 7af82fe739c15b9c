package model

import "github.com/ethereum/go-ethereum/common"

// PairKind tags the protocol family a pair record was decoded from.
type PairKind string

const (
	// KindConcentrated is a Uniswap V3 style pool with a fee tier.
	KindConcentrated PairKind = "concentrated"
	// KindClassic is a Uniswap V2 style constant-product pair.
	KindClassic PairKind = "classic"
	// KindStable is a Solidly/Velodrome style pair with a stable flag.
	KindStable PairKind = "stable"
)

// PairRecord is a decoded pair or pool creation event.
type PairRecord struct {
	Kind        PairKind       `json:"kind"`
	TokenA      common.Address `json:"token_a"`
	TokenB      common.Address `json:"token_b"`
	FeeTier     uint32         `json:"fee_tier,omitempty"`
	TickSpacing int32          `json:"tick_spacing,omitempty"`
	Stable      *bool          `json:"is_stable,omitempty"`
	PairAddress common.Address `json:"pair_address"`
	BlockNumber uint64         `json:"block_number"`
	TxHash      common.Hash    `json:"tx_hash"`
}

// Tokens returns the two constituent token addresses in event order.
func (p PairRecord) Tokens() [2]common.Address {
	return [2]common.Address{p.TokenA, p.TokenB}
}
