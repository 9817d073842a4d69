package evm

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
)

// aggregatorABIJSON is the Chainlink AggregatorV3 read surface.
const aggregatorABIJSON = `[
  {"name":"latestRoundData","type":"function","stateMutability":"view",
   "inputs":[],
   "outputs":[
     {"name":"roundId","type":"uint80"},
     {"name":"answer","type":"int256"},
     {"name":"startedAt","type":"uint256"},
     {"name":"updatedAt","type":"uint256"},
     {"name":"answeredInRound","type":"uint80"}]},
  {"name":"decimals","type":"function","stateMutability":"view",
   "inputs":[],
   "outputs":[{"name":"","type":"uint8"}]}
]`

// Aggregator implements domain.PriceFeed over a Chainlink-style aggregator
// contract. The answer is re-read on every call; only the immutable decimals
// value is cached after the first query.
type Aggregator struct {
	contract *bind.BoundContract
	addr     common.Address

	decMu    sync.Mutex
	decSet   bool
	decimals uint8
}

// NewAggregator binds the price feed contract at addr.
func NewAggregator(client *Client, addr string) (*Aggregator, error) {
	parsed, err := abi.JSON(strings.NewReader(aggregatorABIJSON))
	if err != nil {
		return nil, fmt.Errorf("evm: parse aggregator abi: %w", err)
	}
	feedAddr := common.HexToAddress(addr)
	return &Aggregator{
		contract: bind.NewBoundContract(feedAddr, parsed, client.eth, client.eth, client.eth),
		addr:     feedAddr,
	}, nil
}

// LatestPrice returns the current raw answer and its decimal precision.
func (a *Aggregator) LatestPrice(ctx context.Context) (*big.Int, uint8, error) {
	decimals, err := a.loadDecimals(ctx)
	if err != nil {
		return nil, 0, err
	}

	var out []any
	if err := a.contract.Call(&bind.CallOpts{Context: ctx}, &out, "latestRoundData"); err != nil {
		return nil, 0, fmt.Errorf("evm: feed %s latestRoundData: %w", a.addr.Hex(), err)
	}
	answer, ok := out[1].(*big.Int)
	if !ok {
		return nil, 0, fmt.Errorf("evm: feed %s answer: unexpected return type %T", a.addr.Hex(), out[1])
	}
	return answer, decimals, nil
}

// loadDecimals fetches the feed's immutable decimals once; a failed fetch is
// retried on the next call rather than cached.
func (a *Aggregator) loadDecimals(ctx context.Context) (uint8, error) {
	a.decMu.Lock()
	defer a.decMu.Unlock()
	if a.decSet {
		return a.decimals, nil
	}

	var out []any
	if err := a.contract.Call(&bind.CallOpts{Context: ctx}, &out, "decimals"); err != nil {
		return 0, fmt.Errorf("evm: feed %s decimals: %w", a.addr.Hex(), err)
	}
	d, ok := out[0].(uint8)
	if !ok {
		return 0, fmt.Errorf("evm: feed %s decimals: unexpected return type %T", a.addr.Hex(), out[0])
	}
	a.decimals = d
	a.decSet = true
	return d, nil
}
