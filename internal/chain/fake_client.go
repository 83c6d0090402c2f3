package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

var (
	ErrNotOwner    = errors.New("execution reverted: caller is not the owner")
	ErrUnderpaid   = errors.New("execution reverted: payment is below price")
	ErrNegativeArg = errors.New("invalid argument: negative value")
)

// FakeClient is an in-memory ChangeCalculator for local development and tests.
// pay keeps the current price and hands the change back to the payer.
type FakeClient struct {
	mu       sync.Mutex
	account  *common.Address
	owner    common.Address
	price    *big.Int
	balance  *big.Int
	block    uint64
	receipts map[common.Hash]*types.Receipt
}

func NewFakeClient(owner common.Address, price *big.Int, account *common.Address) *FakeClient {
	if price == nil {
		price = new(big.Int)
	}
	f := &FakeClient{
		owner:    owner,
		price:    new(big.Int).Set(price),
		balance:  new(big.Int),
		receipts: make(map[common.Hash]*types.Receipt),
	}
	f.SetAccount(account)
	return f
}

// SetAccount switches the connected account; nil disconnects.
func (f *FakeClient) SetAccount(account *common.Address) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if account == nil {
		f.account = nil
		return
	}
	a := *account
	f.account = &a
}

func (f *FakeClient) Account() (common.Address, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.account == nil {
		return common.Address{}, false
	}
	return *f.account, true
}

func (f *FakeClient) ContractBalance(context.Context) (*big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return new(big.Int).Set(f.balance), nil
}

func (f *FakeClient) Price(context.Context) (*big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return new(big.Int).Set(f.price), nil
}

func (f *FakeClient) Owner(context.Context) (common.Address, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.owner, nil
}

func (f *FakeClient) Pay(_ context.Context, value *big.Int) (common.Hash, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.account == nil {
		return common.Hash{}, ErrReadOnly
	}
	if value == nil || value.Cmp(f.price) < 0 {
		return common.Hash{}, fmt.Errorf("pay tx: %w", ErrUnderpaid)
	}
	f.balance.Add(f.balance, f.price)
	return f.mine("pay"), nil
}

func (f *FakeClient) SetPrice(_ context.Context, price *big.Int) (common.Hash, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.requireOwner(); err != nil {
		return common.Hash{}, fmt.Errorf("setPrice tx: %w", err)
	}
	if price == nil || price.Sign() < 0 {
		return common.Hash{}, fmt.Errorf("setPrice tx: %w", ErrNegativeArg)
	}
	f.price = new(big.Int).Set(price)
	return f.mine("setPrice"), nil
}

func (f *FakeClient) Withdraw(context.Context) (common.Hash, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.requireOwner(); err != nil {
		return common.Hash{}, fmt.Errorf("withdraw tx: %w", err)
	}
	f.balance = new(big.Int)
	return f.mine("withdraw"), nil
}

// WaitReceipt returns immediately: every accepted fake transaction is mined on submission.
func (f *FakeClient) WaitReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.receipts[hash]
	if !ok {
		return nil, ethereum.NotFound
	}
	return r, nil
}

func (f *FakeClient) Ping(context.Context) error { return nil }

func (f *FakeClient) requireOwner() error {
	if f.account == nil {
		return ErrReadOnly
	}
	if *f.account != f.owner {
		return ErrNotOwner
	}
	return nil
}

// mine must be called with f.mu held.
func (f *FakeClient) mine(method string) common.Hash {
	f.block++
	hash := crypto.Keccak256Hash([]byte(fmt.Sprintf("%s:%s:%d", method, f.account.Hex(), f.block)))
	f.receipts[hash] = &types.Receipt{
		Status:      types.ReceiptStatusSuccessful,
		TxHash:      hash,
		BlockNumber: new(big.Int).SetUint64(f.block),
	}
	return hash
}
