package indexer

import "github.com/Mugen-Finance/token-lists/internal/model"

func buildDecodeError(chainID uint64, target Target, log model.RawLog, err error) model.DecodeError {
	var topic0 string
	if len(log.Topics) > 0 {
		topic0 = log.Topics[0].Hex()
	}

	return model.DecodeError{
		ChainID:     chainID,
		Network:     target.Network,
		Protocol:    target.Layout.Protocol,
		BlockNumber: log.BlockNumber,
		TxHash:      log.TxHash.Hex(),
		LogIndex:    uint64(log.LogIndex),
		Address:     model.CanonicalAddress(log.Address),
		Topic0:      topic0,
		Error:       err.Error(),
	}
}
