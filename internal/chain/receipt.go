package chain

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rpc"
	"go.uber.org/zap"
)

var errNotConfirmed = errors.New("transaction not confirmed yet")

// WaitReceipt follows new heads when the transport can push them and falls
// back to polling eth_getTransactionReceipt otherwise. Tracking only ends when
// the receipt has the configured number of confirmations or ctx is done.
func (c *EthClient) WaitReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	heads := make(chan *types.Header, 16)
	sub, err := c.client.SubscribeNewHead(ctx, heads)
	if err != nil {
		if !errors.Is(err, rpc.ErrNotificationsUnsupported) {
			c.log.Debug("head subscription unavailable, polling receipts", zap.Error(err))
		}
		return c.pollReceipt(ctx, hash)
	}
	defer sub.Unsubscribe()

	if r, err := c.confirmedReceipt(ctx, hash); err == nil {
		return r, nil
	}

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case err := <-sub.Err():
			c.log.Warn("head subscription dropped, polling receipts",
				zap.String("tx_hash", hash.Hex()),
				zap.Error(err),
			)
			return c.pollReceipt(ctx, hash)
		case <-heads:
			r, err := c.confirmedReceipt(ctx, hash)
			if err == nil {
				return r, nil
			}
			if !errors.Is(err, errNotConfirmed) {
				c.log.Debug("receipt lookup failed", zap.String("tx_hash", hash.Hex()), zap.Error(err))
			}
		}
	}
}

func (c *EthClient) pollReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.pollInterval / 4
	bo.MaxInterval = c.pollInterval
	bo.MaxElapsedTime = 0

	var receipt *types.Receipt
	op := func() error {
		r, err := c.confirmedReceipt(ctx, hash)
		if err != nil {
			return err
		}
		receipt = r
		return nil
	}
	notify := func(err error, _ time.Duration) {
		if !errors.Is(err, errNotConfirmed) {
			c.log.Debug("receipt lookup failed", zap.String("tx_hash", hash.Hex()), zap.Error(err))
		}
	}

	if err := backoff.RetryNotify(op, backoff.WithContext(bo, ctx), notify); err != nil {
		return nil, fmt.Errorf("wait receipt %s: %w", hash.Hex(), err)
	}
	return receipt, nil
}

func (c *EthClient) confirmedReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	r, err := c.client.TransactionReceipt(ctx, hash)
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			return nil, errNotConfirmed
		}
		return nil, err
	}
	if c.confirmations <= 1 {
		return r, nil
	}

	head, err := c.client.BlockNumber(ctx)
	if err != nil {
		return nil, err
	}
	if head+1 < r.BlockNumber.Uint64()+c.confirmations {
		return nil, errNotConfirmed
	}
	return r, nil
}
