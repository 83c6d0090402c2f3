package gateway

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

type receiptFunc func(ctx context.Context, hash common.Hash) (*types.Receipt, error)

type resultFunc func(seq uint64, action Action, hash common.Hash, receipt *types.Receipt, err error)

// tracker watches a single in-flight transaction. Binding a new hash cancels
// the previous watch. Callers serialize track/stop under the gateway lock.
type tracker struct {
	parent  context.Context
	receipt receiptFunc
	result  resultFunc

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func newTracker(parent context.Context, receipt receiptFunc, result resultFunc) *tracker {
	return &tracker{parent: parent, receipt: receipt, result: result}
}

func (t *tracker) track(seq uint64, action Action, hash common.Hash) {
	t.stop()

	ctx, cancel := context.WithCancel(t.parent)
	t.cancel = cancel

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		defer cancel()

		r, err := t.receipt(ctx, hash)
		if ctx.Err() != nil {
			// superseded or shut down
			return
		}
		t.result(seq, action, hash, r, err)
	}()
}

// stop cancels the current watch and reports whether one was running.
func (t *tracker) stop() bool {
	if t.cancel == nil {
		return false
	}
	t.cancel()
	t.cancel = nil
	return true
}

// release forgets a watch that already delivered its result.
func (t *tracker) release() {
	t.cancel = nil
}

func (t *tracker) wait() {
	t.wg.Wait()
}
