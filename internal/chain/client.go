package chain

import (
	"context"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// ErrReadOnly is returned by write calls when no signing account is connected.
var ErrReadOnly = errors.New("no wallet connected: client is read-only")

// Client abstracts the on-chain ChangeCalculator interaction.
type Client interface {
	ContractBalance(ctx context.Context) (*big.Int, error)
	Price(ctx context.Context) (*big.Int, error)
	Owner(ctx context.Context) (common.Address, error)

	Pay(ctx context.Context, value *big.Int) (common.Hash, error)
	SetPrice(ctx context.Context, price *big.Int) (common.Hash, error)
	Withdraw(ctx context.Context) (common.Hash, error)

	// WaitReceipt blocks until the transaction is confirmed or ctx is done.
	WaitReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error)

	// Account is the connected signer, if any.
	Account() (common.Address, bool)
}

// HealthChecker is implemented by clients that can ping their RPC node.
type HealthChecker interface {
	Ping(ctx context.Context) error
}
