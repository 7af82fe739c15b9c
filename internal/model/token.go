package model

import "github.com/ethereum/go-ethereum/common"

// TokenMetadata captures ERC20 metadata. The JSON field names are part of the
// persisted registry format and must not change.
type TokenMetadata struct {
	Address  common.Address `json:"address"`
	Name     string         `json:"name"`
	Symbol   string         `json:"symbol"`
	Decimals uint8          `json:"decimals"`
}
