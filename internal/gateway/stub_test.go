package gateway

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

type sentTx struct {
	method string
	value  *big.Int
	arg    *big.Int
}

type receiptResult struct {
	receipt *types.Receipt
	err     error
}

// stubChain records calls and lets tests decide when a receipt arrives.
type stubChain struct {
	mu       sync.Mutex
	balance  *big.Int
	price    *big.Int
	owner    common.Address
	account  *common.Address
	reads    map[string]int
	readErrs map[string]error
	sent     []sentTx
	sendErr  error
	onSend   func()
	waiters  map[common.Hash]chan receiptResult
}

func newStubChain() *stubChain {
	return &stubChain{
		balance:  new(big.Int),
		price:    new(big.Int),
		reads:    make(map[string]int),
		readErrs: make(map[string]error),
		waiters:  make(map[common.Hash]chan receiptResult),
	}
}

func (s *stubChain) read(field string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reads[field]++
	return s.readErrs[field]
}

func (s *stubChain) readCount(field string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reads[field]
}

func (s *stubChain) ContractBalance(context.Context) (*big.Int, error) {
	if err := s.read("balance"); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return new(big.Int).Set(s.balance), nil
}

func (s *stubChain) Price(context.Context) (*big.Int, error) {
	if err := s.read("price"); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return new(big.Int).Set(s.price), nil
}

func (s *stubChain) Owner(context.Context) (common.Address, error) {
	if err := s.read("owner"); err != nil {
		return common.Address{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.owner, nil
}

func (s *stubChain) Pay(_ context.Context, value *big.Int) (common.Hash, error) {
	return s.send(sentTx{method: "pay", value: value})
}

func (s *stubChain) SetPrice(_ context.Context, price *big.Int) (common.Hash, error) {
	return s.send(sentTx{method: "setPrice", arg: price})
}

func (s *stubChain) Withdraw(context.Context) (common.Hash, error) {
	return s.send(sentTx{method: "withdraw"})
}

func (s *stubChain) send(tx sentTx) (common.Hash, error) {
	s.mu.Lock()
	hook := s.onSend
	s.mu.Unlock()
	if hook != nil {
		hook()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sendErr != nil {
		return common.Hash{}, s.sendErr
	}
	s.sent = append(s.sent, tx)
	return common.HexToHash(fmt.Sprintf("0x%x", len(s.sent))), nil
}

func (s *stubChain) sentTxs() []sentTx {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]sentTx(nil), s.sent...)
}

func (s *stubChain) waiter(hash common.Hash) chan receiptResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.waiters[hash]
	if !ok {
		ch = make(chan receiptResult, 1)
		s.waiters[hash] = ch
	}
	return ch
}

func (s *stubChain) WaitReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	select {
	case res := <-s.waiter(hash):
		return res.receipt, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *stubChain) confirm(hash common.Hash, status uint64) {
	s.waiter(hash) <- receiptResult{receipt: &types.Receipt{
		TxHash:      hash,
		Status:      status,
		BlockNumber: big.NewInt(7),
	}}
}

func (s *stubChain) failWait(hash common.Hash, err error) {
	s.waiter(hash) <- receiptResult{err: err}
}

func (s *stubChain) Account() (common.Address, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.account == nil {
		return common.Address{}, false
	}
	return *s.account, true
}

var errNotOwner = errors.New("execution reverted: caller is not the owner")
