package dex

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/Mugen-Finance/token-lists/internal/model"
)

// ErrEmptyResponse is returned when an eth_call comes back with no data,
// which is what an address without code (or without the method) returns.
var ErrEmptyResponse = errors.New("empty call response")

// MetadataReader reads ERC20 metadata with one eth_call per field.
type MetadataReader struct {
	caller  ethereum.ContractCaller
	limiter *rate.Limiter
	logger  *zap.Logger
}

// NewMetadataReader builds a reader. A nil limiter means no rate limit.
func NewMetadataReader(caller ethereum.ContractCaller, limiter *rate.Limiter, logger *zap.Logger) *MetadataReader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MetadataReader{caller: caller, limiter: limiter, logger: logger}
}

// ReadTokenMetadata loads decimals, symbol and name for a token. If any of
// the three reads fails the whole read fails.
func (r *MetadataReader) ReadTokenMetadata(ctx context.Context, token common.Address) (model.TokenMetadata, error) {
	if r.caller == nil {
		return model.TokenMetadata{}, fmt.Errorf("contract caller is nil")
	}

	stringABI, err := erc20String.get()
	if err != nil {
		return model.TokenMetadata{}, fmt.Errorf("parse erc20 string abi: %w", err)
	}

	resp, err := r.call(ctx, token, "decimals")
	if err != nil {
		return model.TokenMetadata{}, err
	}
	values, err := stringABI.Unpack("decimals", resp)
	if err != nil {
		return model.TokenMetadata{}, fmt.Errorf("unpack decimals: %w", err)
	}
	decimals, err := asUint8(values[0])
	if err != nil {
		return model.TokenMetadata{}, fmt.Errorf("decimals: %w", err)
	}

	symbol, err := r.readText(ctx, token, "symbol")
	if err != nil {
		return model.TokenMetadata{}, err
	}
	name, err := r.readText(ctx, token, "name")
	if err != nil {
		return model.TokenMetadata{}, err
	}

	return model.TokenMetadata{
		Address:  token,
		Name:     name,
		Symbol:   symbol,
		Decimals: decimals,
	}, nil
}

func (r *MetadataReader) call(ctx context.Context, token common.Address, method string) ([]byte, error) {
	parsed, err := erc20String.get()
	if err != nil {
		return nil, fmt.Errorf("parse erc20 string abi: %w", err)
	}
	data, err := parsed.Pack(method)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}

	if r.limiter != nil {
		if err := r.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limit %s: %w", method, err)
		}
	}

	msg := ethereum.CallMsg{To: &token, Data: data}
	resp, err := r.caller.CallContract(ctx, msg, nil)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", method, err)
	}
	if len(resp) == 0 {
		return nil, fmt.Errorf("call %s: %w", method, ErrEmptyResponse)
	}
	return resp, nil
}

// readText reads a string-returning method, falling back to bytes32
// decoding of the same response.
func (r *MetadataReader) readText(ctx context.Context, token common.Address, method string) (string, error) {
	resp, err := r.call(ctx, token, method)
	if err != nil {
		return "", err
	}

	stringABI, err := erc20String.get()
	if err != nil {
		return "", fmt.Errorf("parse erc20 string abi: %w", err)
	}
	if values, err := stringABI.Unpack(method, resp); err == nil {
		if text, ok := values[0].(string); ok {
			return strings.ReplaceAll(text, "\x00", ""), nil
		}
	}

	bytes32ABI, err := erc20Bytes32.get()
	if err != nil {
		return "", fmt.Errorf("parse erc20 bytes32 abi: %w", err)
	}
	values, err := bytes32ABI.Unpack(method, resp)
	if err != nil {
		return "", fmt.Errorf("unpack %s: %w", method, err)
	}
	text, ok := bytes32ToString(values[0])
	if !ok {
		return "", fmt.Errorf("unpack %s: unsupported type %T", method, values[0])
	}
	r.logger.Debug("bytes32 metadata", zap.String("token", model.CanonicalAddress(token)), zap.String("method", method))
	return text, nil
}

func bytes32ToString(value interface{}) (string, bool) {
	switch v := value.(type) {
	case [32]byte:
		return string(bytes.TrimRight(v[:], "\x00")), true
	case []byte:
		return string(bytes.TrimRight(v, "\x00")), true
	default:
		return "", false
	}
}

func asUint8(value interface{}) (uint8, error) {
	switch v := value.(type) {
	case uint8:
		return v, nil
	case *big.Int:
		if !v.IsUint64() || v.Uint64() > 255 {
			return 0, fmt.Errorf("value %s out of uint8 range", v)
		}
		return uint8(v.Uint64()), nil
	default:
		return 0, fmt.Errorf("unsupported uint8 type %T", value)
	}
}
