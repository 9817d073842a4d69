package evm

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
)

// erc20ABIJSON covers the three methods the escrow needs.
const erc20ABIJSON = `[
  {"name":"transfer","type":"function","stateMutability":"nonpayable",
   "inputs":[{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],
   "outputs":[{"name":"","type":"bool"}]},
  {"name":"transferFrom","type":"function","stateMutability":"nonpayable",
   "inputs":[{"name":"from","type":"address"},{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],
   "outputs":[{"name":"","type":"bool"}]},
  {"name":"balanceOf","type":"function","stateMutability":"view",
   "inputs":[{"name":"owner","type":"address"}],
   "outputs":[{"name":"","type":"uint256"}]}
]`

// ERC20 implements domain.Token over an on-chain ERC-20 contract. All
// transactions are sent from the operator account and awaited to a successful
// receipt before returning.
type ERC20 struct {
	client   *Client
	contract *bind.BoundContract
	addr     common.Address
	logger   *slog.Logger
}

// NewERC20 binds the token contract at addr.
func NewERC20(client *Client, addr string) (*ERC20, error) {
	parsed, err := abi.JSON(strings.NewReader(erc20ABIJSON))
	if err != nil {
		return nil, fmt.Errorf("evm: parse erc20 abi: %w", err)
	}
	tokenAddr := common.HexToAddress(addr)
	return &ERC20{
		client:   client,
		contract: bind.NewBoundContract(tokenAddr, parsed, client.eth, client.eth, client.eth),
		addr:     tokenAddr,
		logger:   client.logger.With(slog.String("token", tokenAddr.Hex())),
	}, nil
}

// Transfer moves amount from the operator's custody to the given address.
func (t *ERC20) Transfer(ctx context.Context, to string, amount *big.Int) error {
	opts, err := t.client.transactor(ctx)
	if err != nil {
		return err
	}
	tx, err := t.contract.Transact(opts, "transfer", common.HexToAddress(to), amount)
	if err != nil {
		return fmt.Errorf("evm: transfer %s to %s: %w", amount, to, err)
	}
	if err := t.client.waitMined(ctx, tx); err != nil {
		return fmt.Errorf("evm: transfer %s to %s: %w", amount, to, err)
	}
	t.logger.DebugContext(ctx, "transfer mined",
		slog.String("to", to),
		slog.String("amount", amount.String()),
		slog.String("tx", tx.Hash().Hex()),
	)
	return nil
}

// TransferFrom moves amount from the depositor into custody using the
// allowance the depositor granted the operator.
func (t *ERC20) TransferFrom(ctx context.Context, from, to string, amount *big.Int) error {
	opts, err := t.client.transactor(ctx)
	if err != nil {
		return err
	}
	tx, err := t.contract.Transact(opts, "transferFrom",
		common.HexToAddress(from), common.HexToAddress(to), amount)
	if err != nil {
		return fmt.Errorf("evm: transferFrom %s of %s: %w", amount, from, err)
	}
	if err := t.client.waitMined(ctx, tx); err != nil {
		return fmt.Errorf("evm: transferFrom %s of %s: %w", amount, from, err)
	}
	t.logger.DebugContext(ctx, "transferFrom mined",
		slog.String("from", from),
		slog.String("amount", amount.String()),
		slog.String("tx", tx.Hash().Hex()),
	)
	return nil
}

// BalanceOf returns the token balance of owner.
func (t *ERC20) BalanceOf(ctx context.Context, owner string) (*big.Int, error) {
	var out []any
	err := t.contract.Call(&bind.CallOpts{Context: ctx}, &out, "balanceOf", common.HexToAddress(owner))
	if err != nil {
		return nil, fmt.Errorf("evm: balanceOf %s: %w", owner, err)
	}
	bal, ok := out[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("evm: balanceOf %s: unexpected return type %T", owner, out[0])
	}
	return bal, nil
}
