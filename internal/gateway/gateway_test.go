package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"strings"
	"testing"
	"time"

	"github.com/govind123143/changecalculator/internal/units"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	ownerAddr = common.HexToAddress("0xAbCdEf0123456789aBcDeF0123456789AbCdEf01")
	oneEther  = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
)

func newTestGateway(t *testing.T) (*Gateway, *stubChain) {
	t.Helper()
	stub := newStubChain()
	stub.owner = ownerAddr
	stub.account = &ownerAddr
	g := New(stub, Config{ReadTimeout: time.Second})
	t.Cleanup(g.Close)
	return g, stub
}

func waitStatus(t *testing.T, g *Gateway, cond func(Status) bool) Status {
	t.Helper()
	require.Eventually(t, func() bool { return cond(g.Status()) }, 2*time.Second, 5*time.Millisecond)
	return g.Status()
}

func TestSnapshotDefaultsBeforeAnyRead(t *testing.T) {
	g, _ := newTestGateway(t)

	snap := g.Snapshot()
	assert.Equal(t, "0", snap.ContractBalance)
	assert.Equal(t, "0", snap.Price)
	assert.Nil(t, snap.Owner)
}

func TestRefreshFormatsDisplayUnits(t *testing.T) {
	g, stub := newTestGateway(t)
	stub.price = new(big.Int).Set(oneEther)
	stub.balance, _ = new(big.Int).SetString("2500000000000000000", 10)

	snap, err := g.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "1", snap.Price)
	assert.Equal(t, "2.5", snap.ContractBalance)
	require.NotNil(t, snap.Owner)
	assert.Equal(t, ownerAddr, *snap.Owner)
	assert.Equal(t, snap, g.Snapshot())
}

func TestRefreshIsBestEffort(t *testing.T) {
	g, stub := newTestGateway(t)
	stub.price = new(big.Int).Set(oneEther)
	_, err := g.Refresh(context.Background())
	require.NoError(t, err)

	stub.mu.Lock()
	stub.price = big.NewInt(0)
	stub.balance = new(big.Int).Set(oneEther)
	stub.readErrs["price"] = errors.New("node timeout")
	stub.mu.Unlock()

	snap, err := g.Refresh(context.Background())
	require.Error(t, err)
	assert.ErrorContains(t, err, "read price")
	assert.Equal(t, "1", snap.Price, "failed read keeps the last resolved value")
	assert.Equal(t, "1", snap.ContractBalance)
}

func TestRefreshWithNothingResolvedKeepsDefaults(t *testing.T) {
	g, stub := newTestGateway(t)
	for _, f := range []string{"balance", "price", "owner"} {
		stub.readErrs[f] = errors.New("unreachable")
	}

	snap, err := g.Refresh(context.Background())
	require.Error(t, err)
	assert.Equal(t, emptySnapshot(), snap)
}

func TestInvalidInputNeverSubmits(t *testing.T) {
	g, stub := newTestGateway(t)
	ctx := context.Background()

	for _, in := range []string{"", "  ", "abc", "1.2.3", "0x10", "-1", "0", "0.0"} {
		err := g.Pay(ctx, in)
		assert.ErrorIs(t, err, ErrValidation, "pay %q", in)
	}
	for _, in := range []string{"", "abc", "-0.5", "1e3"} {
		err := g.SetPrice(ctx, in)
		assert.ErrorIs(t, err, ErrValidation, "setPrice %q", in)
	}

	assert.Empty(t, stub.sentTxs())
	assert.Equal(t, Status{}, g.Status())
}

func TestPaySubmitsExactValue(t *testing.T) {
	g, stub := newTestGateway(t)

	for _, amount := range []string{"0.123", "1", "42.000000000000000001"} {
		require.NoError(t, g.Pay(context.Background(), amount))

		sent := stub.sentTxs()
		last := sent[len(sent)-1]
		assert.Equal(t, "pay", last.method)
		assert.Nil(t, last.arg)

		want, err := units.ToWei(amount)
		require.NoError(t, err)
		assert.Equal(t, want.String(), last.value.String())
		assert.Equal(t, amount, units.FromWei(last.value))
	}
}

func TestSetPriceByOwner(t *testing.T) {
	g, stub := newTestGateway(t)
	stub.price = new(big.Int).Set(oneEther)

	snap, err := g.Refresh(context.Background())
	require.NoError(t, err)
	require.Equal(t, "1", snap.Price)
	require.True(t, snap.IsOwner(ownerAddr.Hex()))

	require.NoError(t, g.SetPrice(context.Background(), "2"))

	sent := stub.sentTxs()
	require.Len(t, sent, 1)
	assert.Equal(t, "setPrice", sent[0].method)
	assert.Equal(t, "2000000000000000000", sent[0].arg.String())
	assert.Nil(t, sent[0].value)

	st := g.Status()
	require.NotNil(t, st.Hash)
	assert.True(t, st.Confirming)
	assert.False(t, st.Pending)
	assert.NoError(t, st.Err)
}

func TestSetPriceAcceptsZero(t *testing.T) {
	g, stub := newTestGateway(t)
	require.NoError(t, g.SetPrice(context.Background(), "0"))
	assert.Equal(t, "0", stub.sentTxs()[0].arg.String())
}

func TestSetPriceRejectsAmountsBeyondUint256(t *testing.T) {
	g, stub := newTestGateway(t)
	ctx := context.Background()

	maxUint := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))
	overflow := new(big.Int).Lsh(big.NewInt(1), 256)

	for _, amount := range []string{units.FromWei(overflow), "1" + strings.Repeat("0", 70)} {
		err := g.SetPrice(ctx, amount)
		assert.ErrorIs(t, err, ErrValidation)
		assert.ErrorIs(t, err, units.ErrOutOfRange)
		err = g.Pay(ctx, amount)
		assert.ErrorIs(t, err, units.ErrOutOfRange)
	}
	assert.Empty(t, stub.sentTxs())
	assert.Equal(t, Status{}, g.Status())

	require.NoError(t, g.SetPrice(ctx, units.FromWei(maxUint)))
	sent := stub.sentTxs()
	require.Len(t, sent, 1)
	assert.Zero(t, maxUint.Cmp(sent[0].arg))
}

func TestSubmissionClearsPreviousStatus(t *testing.T) {
	g, stub := newTestGateway(t)
	ctx := context.Background()

	stub.sendErr = errNotOwner
	require.Error(t, g.Withdraw(ctx))
	require.Error(t, g.Status().Err)

	var during Status
	stub.mu.Lock()
	stub.sendErr = nil
	stub.onSend = func() { during = g.Status() }
	stub.mu.Unlock()

	require.NoError(t, g.Pay(ctx, "1"))
	assert.True(t, during.Pending)
	assert.Nil(t, during.Hash)
	assert.NoError(t, during.Err)
	assert.False(t, during.Confirmed)

	first := *g.Status().Hash
	stub.confirm(first, types.ReceiptStatusSuccessful)
	waitStatus(t, g, func(s Status) bool { return s.Confirmed })

	require.NoError(t, g.Pay(ctx, "1"))
	assert.False(t, during.Confirmed, "a new submission never shows the previous confirmation")
	assert.Nil(t, during.Hash)
	assert.NotEqual(t, first, *g.Status().Hash)
}

func TestConfirmationRefreshesExactlyOnce(t *testing.T) {
	g, stub := newTestGateway(t)
	ctx := context.Background()

	require.NoError(t, g.Pay(ctx, "1"))
	before := map[string]int{}
	for _, f := range []string{"balance", "price", "owner"} {
		before[f] = stub.readCount(f)
	}

	stub.mu.Lock()
	stub.balance = new(big.Int).Set(oneEther)
	stub.mu.Unlock()

	stub.confirm(*g.Status().Hash, types.ReceiptStatusSuccessful)
	st := waitStatus(t, g, func(s Status) bool { return s.Confirmed })
	assert.False(t, st.Confirming)
	assert.False(t, st.Pending)

	require.Eventually(t, func() bool {
		return g.Snapshot().ContractBalance == "1"
	}, 2*time.Second, 5*time.Millisecond)

	time.Sleep(50 * time.Millisecond)
	for f, n := range before {
		assert.Equal(t, n+1, stub.readCount(f), f)
	}
}

func TestWithdrawByNonOwnerIsRejected(t *testing.T) {
	g, stub := newTestGateway(t)
	stranger := common.HexToAddress("0x1111111111111111111111111111111111111111")
	stub.account = &stranger
	stub.balance = new(big.Int).Set(oneEther)

	before, err := g.Refresh(context.Background())
	require.NoError(t, err)
	assert.False(t, before.IsOwner(stranger.Hex()))

	stub.sendErr = errNotOwner
	err = g.Withdraw(context.Background())

	var subErr *SubmissionError
	require.ErrorAs(t, err, &subErr)
	assert.Equal(t, ActionWithdraw, subErr.Action)
	assert.ErrorIs(t, err, errNotOwner)

	st := g.Status()
	assert.Nil(t, st.Hash)
	assert.False(t, st.Pending)
	assert.False(t, st.Confirming)
	require.Error(t, st.Err)
	assert.Contains(t, st.Err.Error(), "caller is not the owner")
	assert.Equal(t, before, g.Snapshot())
}

func TestTrackerRebindsToLatestHash(t *testing.T) {
	g, stub := newTestGateway(t)
	ctx := context.Background()

	require.NoError(t, g.Pay(ctx, "1"))
	first := *g.Status().Hash
	require.NoError(t, g.Pay(ctx, "2"))
	second := *g.Status().Hash
	require.NotEqual(t, first, second)

	refreshes := stub.readCount("price")
	stub.confirm(first, types.ReceiptStatusSuccessful)
	time.Sleep(50 * time.Millisecond)

	st := g.Status()
	assert.Equal(t, second, *st.Hash)
	assert.True(t, st.Confirming)
	assert.False(t, st.Confirmed)
	assert.Equal(t, refreshes, stub.readCount("price"))

	stub.confirm(second, types.ReceiptStatusSuccessful)
	st = waitStatus(t, g, func(s Status) bool { return s.Confirmed })
	assert.Equal(t, second, *st.Hash)
}

func TestRevertedReceiptFails(t *testing.T) {
	g, stub := newTestGateway(t)

	require.NoError(t, g.Withdraw(context.Background()))
	hash := *g.Status().Hash
	reads := stub.readCount("owner")

	stub.confirm(hash, types.ReceiptStatusFailed)
	st := waitStatus(t, g, func(s Status) bool { return s.Err != nil })

	assert.ErrorIs(t, st.Err, ErrReverted)
	assert.Equal(t, hash, *st.Hash)
	assert.False(t, st.Confirmed)
	assert.False(t, st.Confirming)

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, reads, stub.readCount("owner"))
}

func TestReceiptLookupErrorSurfaces(t *testing.T) {
	g, stub := newTestGateway(t)

	require.NoError(t, g.Pay(context.Background(), "1"))
	stub.failWait(*g.Status().Hash, errors.New("rpc gone"))

	st := waitStatus(t, g, func(s Status) bool { return s.Err != nil })
	var subErr *SubmissionError
	require.ErrorAs(t, st.Err, &subErr)
	assert.Equal(t, ActionPay, subErr.Action)
	assert.ErrorContains(t, st.Err, "rpc gone")
}

func TestCloseStopsTracking(t *testing.T) {
	stub := newStubChain()
	stub.account = &ownerAddr
	g := New(stub, Config{})

	require.NoError(t, g.Pay(context.Background(), "1"))

	done := make(chan struct{})
	go func() {
		g.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not return")
	}
	assert.True(t, g.Status().Confirming)
}

func TestOwnerMatchIgnoresCase(t *testing.T) {
	snap := Snapshot{Owner: &ownerAddr}

	assert.True(t, snap.IsOwner("0xabcdef0123456789abcdef0123456789abcdef01"))
	assert.True(t, snap.IsOwner("0xABCDEF0123456789ABCDEF0123456789ABCDEF01"))
	assert.False(t, snap.IsOwner("0x1111111111111111111111111111111111111111"))
	assert.False(t, snap.IsOwner(""))
	assert.False(t, Snapshot{}.IsOwner(ownerAddr.Hex()))
}

func TestStatusJSON(t *testing.T) {
	hash := common.HexToHash("0x01")
	b, err := json.Marshal(Status{Hash: &hash, Err: &SubmissionError{Action: ActionPay, Err: errors.New("user rejected")}})
	require.NoError(t, err)

	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(b, &out))
	assert.Equal(t, hash.Hex(), out["hash"])
	assert.Equal(t, "pay failed: user rejected", out["error"])
	assert.Equal(t, false, out["confirmed"])

	b, err = json.Marshal(Status{})
	require.NoError(t, err)
	assert.JSONEq(t, `{"hash":null,"pending":false,"confirming":false,"confirmed":false}`, string(b))
}

func TestRequestValidate(t *testing.T) {
	v, err := Request{Action: ActionWithdraw, Amount: "garbage"}.Validate(18)
	require.NoError(t, err)
	assert.Nil(t, v)

	_, err = Request{Action: "selfdestruct"}.Validate(18)
	assert.ErrorIs(t, err, ErrValidation)

	_, err = Request{Action: ActionPay, Amount: "0"}.Validate(18)
	assert.ErrorIs(t, err, ErrValidation)
	assert.ErrorIs(t, err, units.ErrZeroAmount)
}
