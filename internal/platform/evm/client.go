// Package evm provides the on-chain collaborators: ERC-20 token escrow
// operations and a Chainlink-style aggregator price feed, both bound over a
// single JSON-RPC client with the operator's signing key.
package evm

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"log/slog"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
)

// Client wraps an Ethereum JSON-RPC connection plus the operator identity
// used for all custody-moving transactions.
type Client struct {
	eth      *ethclient.Client
	chainID  *big.Int
	key      *ecdsa.PrivateKey
	operator common.Address
	logger   *slog.Logger
}

// Dial connects to the RPC endpoint, verifies the chain id matches the
// configured one, and prepares the operator transactor.
func Dial(ctx context.Context, rpcURL string, chainID int64, operatorKeyHex string, logger *slog.Logger) (*Client, error) {
	eth, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("evm: dial %s: %w", rpcURL, err)
	}

	got, err := eth.ChainID(ctx)
	if err != nil {
		eth.Close()
		return nil, fmt.Errorf("evm: query chain id: %w", err)
	}
	if got.Int64() != chainID {
		eth.Close()
		return nil, fmt.Errorf("evm: endpoint reports chain id %d, configured %d", got.Int64(), chainID)
	}

	key, err := ethcrypto.HexToECDSA(strings.TrimPrefix(operatorKeyHex, "0x"))
	if err != nil {
		eth.Close()
		return nil, fmt.Errorf("evm: parse operator key: %w", err)
	}

	c := &Client{
		eth:      eth,
		chainID:  big.NewInt(chainID),
		key:      key,
		operator: ethcrypto.PubkeyToAddress(key.PublicKey),
		logger:   logger.With(slog.String("component", "evm")),
	}

	c.logger.InfoContext(ctx, "connected",
		slog.String("rpc_url", rpcURL),
		slog.Int64("chain_id", chainID),
		slog.String("operator", c.operator.Hex()),
	)
	return c, nil
}

// Operator returns the operator address derived from the signing key. It is
// the custody account holding escrowed deposits.
func (c *Client) Operator() common.Address {
	return c.operator
}

// Close releases the underlying RPC connection.
func (c *Client) Close() {
	c.eth.Close()
}

// transactor builds a fresh keyed TransactOpts bound to ctx.
func (c *Client) transactor(ctx context.Context) (*bind.TransactOpts, error) {
	opts, err := bind.NewKeyedTransactorWithChainID(c.key, c.chainID)
	if err != nil {
		return nil, fmt.Errorf("evm: build transactor: %w", err)
	}
	opts.Context = ctx
	return opts, nil
}

// waitMined blocks until the transaction is mined and fails when the receipt
// reports a revert, so callers observe transfers as atomic: either the state
// change landed or the call errors with nothing moved.
func (c *Client) waitMined(ctx context.Context, tx *types.Transaction) error {
	receipt, err := bind.WaitMined(ctx, c.eth, tx)
	if err != nil {
		return fmt.Errorf("evm: wait for tx %s: %w", tx.Hash().Hex(), err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return fmt.Errorf("evm: tx %s reverted", tx.Hash().Hex())
	}
	return nil
}
