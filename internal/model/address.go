package model

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// CanonicalAddress renders an address as 0x followed by 40 lower-case hex
// characters. Every text comparison of addresses goes through this form.
func CanonicalAddress(addr common.Address) string {
	return hexutil.Encode(addr.Bytes())
}
