// Package ingestor follows the canonical chain and derives the content
// keys the overlay is expected to serve (spec.md §4.5, component C4).
package ingestor

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
)

// BlockData is the subset of a canonical block the ingestor needs to
// derive history content keys.
type BlockData struct {
	Number       uint64
	Hash         common.Hash
	Timestamp    time.Time
	ReceiptsRoot common.Hash
	StateRoot    common.Hash
}

// ChainProvider is a source of canonical chain data. ExecutionProvider
// implements it over a standard execution-layer JSON-RPC endpoint;
// BeaconProvider implements the beacon-chain analog.
type ChainProvider interface {
	HeadNumber(ctx context.Context) (uint64, error)
	BlockByNumber(ctx context.Context, number uint64) (BlockData, error)
}

// ExecutionProvider talks to a standard eth_* JSON-RPC endpoint via
// go-ethereum's client, the same library the rest of this module already
// depends on for ENR handling.
type ExecutionProvider struct {
	client *ethclient.Client
}

// NewExecutionProvider dials rawurl, which may be http(s):// or ws(s)://.
func NewExecutionProvider(rawurl string) (*ExecutionProvider, error) {
	c, err := ethclient.Dial(rawurl)
	if err != nil {
		return nil, err
	}
	return &ExecutionProvider{client: c}, nil
}

func (p *ExecutionProvider) Close() { p.client.Close() }

func (p *ExecutionProvider) HeadNumber(ctx context.Context) (uint64, error) {
	return p.client.BlockNumber(ctx)
}

func (p *ExecutionProvider) BlockByNumber(ctx context.Context, number uint64) (BlockData, error) {
	block, err := p.client.BlockByNumber(ctx, new(big.Int).SetUint64(number))
	if err != nil {
		return BlockData{}, err
	}
	return BlockData{
		Number:       block.NumberU64(),
		Hash:         block.Hash(),
		Timestamp:    time.Unix(int64(block.Time()), 0).UTC(),
		ReceiptsRoot: block.ReceiptHash(),
		StateRoot:    block.Root(),
	}, nil
}
