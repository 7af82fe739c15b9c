package model

// DecodeError records a factory log that could not be decoded.
type DecodeError struct {
	ChainID     uint64 `json:"chain_id"`
	Network     string `json:"network"`
	Protocol    string `json:"protocol"`
	BlockNumber uint64 `json:"block_number"`
	TxHash      string `json:"tx_hash"`
	LogIndex    uint64 `json:"log_index"`
	Address     string `json:"address"`
	Topic0      string `json:"topic0"`
	Error       string `json:"error"`
}
