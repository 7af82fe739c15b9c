package dex

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/Mugen-Finance/token-lists/internal/model"
)

var (
	tokenA = common.HexToAddress("0x82aF49447D8a07e3bd95BD0d56f35241523fBab1")
	tokenB = common.HexToAddress("0xFF970A61A04b1cA14834A43f5dE4533eBDDB5CC8")
	pair   = common.HexToAddress("0xC31E54c7a869B9FcBEcc14363CF510d1c41fa443")
)

func mustLayout(t *testing.T, protocol string) Layout {
	t.Helper()
	table, err := NewLayoutTable(nil)
	require.NoError(t, err)
	layout, ok := table.Lookup(protocol)
	require.True(t, ok, "layout %s", protocol)
	return layout
}

func mustDecoder(t *testing.T, protocol string) *Decoder {
	t.Helper()
	decoder, err := NewDecoder(mustLayout(t, protocol))
	require.NoError(t, err)
	return decoder
}

func packData(t *testing.T, types []string, values ...interface{}) []byte {
	t.Helper()
	args := make(abi.Arguments, 0, len(types))
	for _, name := range types {
		typ, err := abi.NewType(name, "", nil)
		require.NoError(t, err)
		args = append(args, abi.Argument{Type: typ})
	}
	data, err := args.Pack(values...)
	require.NoError(t, err)
	return data
}

func buildRawLog(topic0 common.Hash, data []byte, indexed ...common.Hash) model.RawLog {
	topics := append([]common.Hash{topic0}, indexed...)
	return model.RawLog{
		Address:     common.HexToAddress("0x1F98431c8aD98523631AE4a59f267346ea31F984"),
		Topics:      topics,
		Data:        data,
		BlockNumber: 165,
		TxHash:      common.HexToHash("0xabc"),
		LogIndex:    2,
	}
}

func topicFromAddress(addr common.Address) common.Hash {
	return common.BytesToHash(addr.Bytes())
}

func TestDecodeConcentratedPool(t *testing.T) {
	decoder := mustDecoder(t, "uniswap-v3")

	data := packData(t, []string{"int24", "address"}, big.NewInt(60), pair)
	require.Len(t, data, 64)
	require.Equal(t, pair.Bytes(), data[44:64])

	log := buildRawLog(decoder.Topic0(), data,
		topicFromAddress(tokenA),
		topicFromAddress(tokenB),
		common.HexToHash("0x0000000000000000000000000000000000000000000000000000000000000bb8"),
	)

	record, err := decoder.Decode(log)
	require.NoError(t, err)
	require.Equal(t, model.PairRecord{
		Kind:        model.KindConcentrated,
		TokenA:      tokenA,
		TokenB:      tokenB,
		FeeTier:     3000,
		TickSpacing: 60,
		PairAddress: pair,
		BlockNumber: 165,
		TxHash:      common.HexToHash("0xabc"),
	}, record)
}

func TestDecodeClassicPair(t *testing.T) {
	for _, protocol := range []string{"uniswap-v2", "camelot", "sushiswap"} {
		t.Run(protocol, func(t *testing.T) {
			decoder := mustDecoder(t, protocol)
			data := packData(t, []string{"address", "uint256"}, pair, big.NewInt(1041))
			require.Equal(t, pair.Bytes(), data[12:32])

			record, err := decoder.Decode(buildRawLog(decoder.Topic0(), data, topicFromAddress(tokenA), topicFromAddress(tokenB)))
			require.NoError(t, err)
			require.Equal(t, model.KindClassic, record.Kind)
			require.Equal(t, tokenA, record.TokenA)
			require.Equal(t, tokenB, record.TokenB)
			require.Equal(t, pair, record.PairAddress)
			require.Zero(t, record.FeeTier)
			require.Nil(t, record.Stable)
		})
	}
}

func TestDecodeStablePair(t *testing.T) {
	decoder := mustDecoder(t, "velodrome")

	for _, stable := range []bool{true, false} {
		data := packData(t, []string{"bool", "address", "uint256"}, stable, pair, big.NewInt(7))
		require.Equal(t, pair.Bytes(), data[44:64])

		record, err := decoder.Decode(buildRawLog(decoder.Topic0(), data, topicFromAddress(tokenA), topicFromAddress(tokenB)))
		require.NoError(t, err)
		require.Equal(t, model.KindStable, record.Kind)
		require.Equal(t, pair, record.PairAddress)
		require.NotNil(t, record.Stable)
		require.Equal(t, stable, *record.Stable)
	}
}

func TestDecodeIsDeterministic(t *testing.T) {
	decoder := mustDecoder(t, "uniswap-v3")
	data := packData(t, []string{"int24", "address"}, big.NewInt(10), pair)
	log := buildRawLog(decoder.Topic0(), data,
		topicFromAddress(tokenA),
		topicFromAddress(tokenB),
		common.BigToHash(big.NewInt(500)),
	)

	first, err := decoder.Decode(log)
	require.NoError(t, err)
	second, err := decoder.Decode(log)
	require.NoError(t, err)
	require.Equal(t, first, second)
	require.Equal(t, uint32(500), first.FeeTier)
}

func TestDecodeNegativeTickSpacing(t *testing.T) {
	word := make([]byte, 32)
	word[29], word[30], word[31] = 0xff, 0xff, 0xc4
	require.Equal(t, int32(-60), int24(word))
}

func TestDecodeMalformed(t *testing.T) {
	v3 := mustDecoder(t, "uniswap-v3")
	velo := mustDecoder(t, "velodrome")
	v3Data := packData(t, []string{"int24", "address"}, big.NewInt(60), pair)
	veloData := packData(t, []string{"bool", "address", "uint256"}, true, pair, big.NewInt(1))
	badBool := append([]byte(nil), veloData...)
	badBool[31] = 2
	fee := common.BigToHash(big.NewInt(3000))

	cases := []struct {
		name    string
		decoder *Decoder
		log     model.RawLog
	}{
		{"missing fee topic", v3, buildRawLog(v3.Topic0(), v3Data, topicFromAddress(tokenA), topicFromAddress(tokenB))},
		{"extra topic", velo, buildRawLog(velo.Topic0(), veloData, topicFromAddress(tokenA), topicFromAddress(tokenB), fee)},
		{"no topics", v3, model.RawLog{Data: v3Data}},
		{"wrong topic0", v3, buildRawLog(velo.Topic0(), v3Data, topicFromAddress(tokenA), topicFromAddress(tokenB), fee)},
		{"short data", v3, buildRawLog(v3.Topic0(), v3Data[:63], topicFromAddress(tokenA), topicFromAddress(tokenB), fee)},
		{"identical tokens", v3, buildRawLog(v3.Topic0(), v3Data, topicFromAddress(tokenA), topicFromAddress(tokenA), fee)},
		{"non bool stable flag", velo, buildRawLog(velo.Topic0(), badBool, topicFromAddress(tokenA), topicFromAddress(tokenB))},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := tc.decoder.Decode(tc.log)
			require.ErrorIs(t, err, ErrMalformedLog)
		})
	}
}
