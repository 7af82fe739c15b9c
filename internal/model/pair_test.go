package model

import (
	"encoding/json"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
)

func TestPairRecordJSONVariantFields(t *testing.T) {
	stable := false
	records := []PairRecord{
		{
			Kind:        KindConcentrated,
			TokenA:      common.HexToAddress("0x1"),
			TokenB:      common.HexToAddress("0x2"),
			FeeTier:     3000,
			TickSpacing: 60,
			PairAddress: common.HexToAddress("0x3"),
		},
		{
			Kind:        KindClassic,
			TokenA:      common.HexToAddress("0x1"),
			TokenB:      common.HexToAddress("0x2"),
			PairAddress: common.HexToAddress("0x3"),
		},
		{
			Kind:        KindStable,
			TokenA:      common.HexToAddress("0x1"),
			TokenB:      common.HexToAddress("0x2"),
			Stable:      &stable,
			PairAddress: common.HexToAddress("0x3"),
		},
	}

	data, err := json.Marshal(records)
	require.NoError(t, err)

	var decoded []map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.Len(t, decoded, 3)

	require.Equal(t, "concentrated", decoded[0]["kind"])
	require.EqualValues(t, 3000, decoded[0]["fee_tier"])
	require.NotContains(t, decoded[0], "is_stable")

	require.NotContains(t, decoded[1], "fee_tier")
	require.NotContains(t, decoded[1], "is_stable")

	require.Equal(t, false, decoded[2]["is_stable"])
	require.Equal(t, "0x0000000000000000000000000000000000000003", decoded[2]["pair_address"])
}
