// Package gateway is the single point of contact between the panel and the
// ChangeCalculator contract. It owns the read-model and the status of the
// latest write, and refreshes the read-model once a write is confirmed.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/govind123143/changecalculator/internal/chain"
	"github.com/govind123143/changecalculator/internal/metrics"
	"github.com/govind123143/changecalculator/internal/units"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type Config struct {
	// Decimals of the chain's native currency; defaults to 18.
	Decimals int
	// ReadTimeout bounds one Refresh. Zero means no extra bound.
	ReadTimeout time.Duration
	Logger      *zap.Logger
	Metrics     *metrics.Registry
}

type Gateway struct {
	chain    chain.Client
	decimals int
	timeout  time.Duration
	log      *zap.Logger
	metrics  *metrics.Registry

	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.RWMutex
	snapshot   Snapshot
	status     Status
	submitSeq  uint64
	refreshSeq uint64
	appliedSeq uint64
	tracker    *tracker
}

func New(c chain.Client, cfg Config) *Gateway {
	if cfg.Decimals <= 0 {
		cfg.Decimals = units.Ether
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	g := &Gateway{
		chain:    c,
		decimals: cfg.Decimals,
		timeout:  cfg.ReadTimeout,
		log:      log,
		metrics:  cfg.Metrics,
		ctx:      ctx,
		cancel:   cancel,
		snapshot: emptySnapshot(),
	}
	g.tracker = newTracker(ctx, c.WaitReceipt, g.onReceipt)
	return g
}

func (g *Gateway) Decimals() int { return g.decimals }

// Account is the connected account, owned by the chain client.
func (g *Gateway) Account() (common.Address, bool) {
	return g.chain.Account()
}

func (g *Gateway) Snapshot() Snapshot {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.snapshot
}

func (g *Gateway) Status() Status {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.status
}

// Refresh issues the balance, price and owner reads concurrently and rebuilds
// the snapshot. A failed read keeps that field's last resolved value; the
// joined read errors are returned alongside the rebuilt snapshot.
func (g *Gateway) Refresh(ctx context.Context) (Snapshot, error) {
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	g.mu.Lock()
	g.refreshSeq++
	seq := g.refreshSeq
	next := g.snapshot
	g.mu.Unlock()
	g.metrics.IncRefresh()

	var (
		eg   errgroup.Group
		errs [3]error
	)
	eg.Go(func() error {
		bal, err := g.chain.ContractBalance(ctx)
		if errs[0] = g.observeRead("balance", err); errs[0] == nil {
			next.ContractBalance = units.FormatUnits(bal, g.decimals)
		}
		return nil
	})
	eg.Go(func() error {
		price, err := g.chain.Price(ctx)
		if errs[1] = g.observeRead("price", err); errs[1] == nil {
			next.Price = units.FormatUnits(price, g.decimals)
		}
		return nil
	})
	eg.Go(func() error {
		owner, err := g.chain.Owner(ctx)
		if errs[2] = g.observeRead("owner", err); errs[2] == nil {
			next.Owner = &owner
		}
		return nil
	})
	_ = eg.Wait()

	g.mu.Lock()
	if seq > g.appliedSeq {
		g.snapshot = next
		g.appliedSeq = seq
	} else {
		next = g.snapshot
	}
	g.mu.Unlock()

	return next, errors.Join(errs[:]...)
}

func (g *Gateway) observeRead(field string, err error) error {
	if err != nil {
		g.metrics.IncRead(field, "error")
		g.log.Warn("contract read failed", zap.String("field", field), zap.Error(err))
		return fmt.Errorf("read %s: %w", field, err)
	}
	g.metrics.IncRead(field, "ok")
	return nil
}

func (g *Gateway) Pay(ctx context.Context, amount string) error {
	return g.Submit(ctx, Request{Action: ActionPay, Amount: amount})
}

func (g *Gateway) SetPrice(ctx context.Context, newPrice string) error {
	return g.Submit(ctx, Request{Action: ActionSetPrice, Amount: newPrice})
}

func (g *Gateway) Withdraw(ctx context.Context) error {
	return g.Submit(ctx, Request{Action: ActionWithdraw})
}

// Submit validates and sends one write. Invalid input returns an
// ErrValidation error and leaves the status untouched; everything else clears
// the previous status first. Rejections come back as *SubmissionError.
func (g *Gateway) Submit(ctx context.Context, req Request) error {
	amount, err := req.Validate(g.decimals)
	if err != nil {
		g.metrics.IncSubmission(string(req.Action), "invalid")
		return err
	}

	g.mu.Lock()
	if g.tracker.stop() {
		g.metrics.IncConfirmation("superseded")
	}
	g.submitSeq++
	seq := g.submitSeq
	g.status = Status{Pending: true}
	g.mu.Unlock()
	g.metrics.SetConfirming(false)

	hash, err := g.send(ctx, req.Action, amount)
	if err != nil {
		subErr := &SubmissionError{Action: req.Action, Err: err}
		g.log.Error("submission rejected",
			zap.String("action", string(req.Action)),
			zap.String("amount", req.Amount),
			zap.Error(err),
		)
		g.metrics.IncSubmission(string(req.Action), "rejected")

		g.mu.Lock()
		if seq == g.submitSeq {
			g.status = Status{Err: subErr}
		}
		g.mu.Unlock()
		return subErr
	}

	g.log.Info("transaction submitted",
		zap.String("action", string(req.Action)),
		zap.String("tx_hash", hash.Hex()),
	)
	g.metrics.IncSubmission(string(req.Action), "submitted")

	g.mu.Lock()
	if seq == g.submitSeq {
		h := hash
		g.status = Status{Hash: &h, Confirming: true}
		g.tracker.track(seq, req.Action, hash)
		g.metrics.SetConfirming(true)
	}
	g.mu.Unlock()
	return nil
}

func (g *Gateway) send(ctx context.Context, action Action, amount *big.Int) (common.Hash, error) {
	switch action {
	case ActionPay:
		return g.chain.Pay(ctx, amount)
	case ActionSetPrice:
		return g.chain.SetPrice(ctx, amount)
	case ActionWithdraw:
		return g.chain.Withdraw(ctx)
	}
	return common.Hash{}, fmt.Errorf("unknown action %q", action)
}

// onReceipt runs on the tracker goroutine. Only the latest submission may
// change the status; a confirmation triggers exactly one Refresh.
func (g *Gateway) onReceipt(seq uint64, action Action, hash common.Hash, receipt *types.Receipt, err error) {
	g.mu.Lock()
	if seq != g.submitSeq {
		g.mu.Unlock()
		return
	}
	g.tracker.release()

	h := hash
	result := "confirmed"
	switch {
	case err != nil:
		result = "error"
		g.status = Status{Hash: &h, Err: &SubmissionError{Action: action, Err: fmt.Errorf("confirmation: %w", err)}}
	case receipt == nil || receipt.Status != types.ReceiptStatusSuccessful:
		result = "failed"
		g.status = Status{Hash: &h, Err: &SubmissionError{Action: action, Err: ErrReverted}}
	default:
		g.status = Status{Hash: &h, Confirmed: true}
	}
	g.mu.Unlock()

	g.metrics.SetConfirming(false)
	g.metrics.IncConfirmation(result)

	if result != "confirmed" {
		g.log.Error("transaction not confirmed",
			zap.String("action", string(action)),
			zap.String("tx_hash", hash.Hex()),
			zap.String("result", result),
			zap.Error(err),
		)
		return
	}

	fields := []zap.Field{zap.String("action", string(action)), zap.String("tx_hash", hash.Hex())}
	if receipt.BlockNumber != nil {
		fields = append(fields, zap.Uint64("block", receipt.BlockNumber.Uint64()))
	}
	g.log.Info("transaction confirmed", fields...)
	if _, err := g.Refresh(g.ctx); err != nil {
		g.log.Warn("post-confirmation refresh incomplete", zap.Error(err))
	}
}

// Close stops confirmation tracking and waits for the tracker goroutine.
func (g *Gateway) Close() {
	g.cancel()
	g.mu.Lock()
	g.tracker.stop()
	g.mu.Unlock()
	g.tracker.wait()
}
