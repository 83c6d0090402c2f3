package chain

import (
	"context"
	"crypto/ecdsa"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient/simulated"
	"github.com/ethereum/go-ethereum/params"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	simContract = common.HexToAddress("0x00000000000000000000000000000000000C0FFE")
	// init code that reverts immediately: PUSH1 0 PUSH1 0 REVERT
	revertingInitCode = common.FromHex("0x60006000fd")
)

type simChain struct {
	backend *simulated.Backend
	client  *EthClient
	key     *ecdsa.PrivateKey
}

func newSimChain(t *testing.T, confirmations uint64) *simChain {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	funds := new(big.Int).Mul(big.NewInt(100), big.NewInt(params.Ether))
	backend := simulated.NewBackend(types.GenesisAlloc{
		crypto.PubkeyToAddress(key.PublicKey): {Balance: funds},
		simContract:                           {Balance: big.NewInt(params.Ether)},
	})
	t.Cleanup(func() { _ = backend.Close() })

	client, err := NewEthClientWithBackend(context.Background(), backend.Client(), EthClientConfig{
		PrivateKeyHex:   hexutil.Encode(crypto.FromECDSA(key)),
		ContractAddress: simContract.Hex(),
		Confirmations:   confirmations,
		PollInterval:    40 * time.Millisecond,
	})
	require.NoError(t, err)
	return &simChain{backend: backend, client: client, key: key}
}

// send signs and submits a raw transaction; to == nil creates a contract.
func (s *simChain) send(t *testing.T, to *common.Address, data []byte, gas uint64) common.Hash {
	t.Helper()
	ctx := context.Background()
	cli := s.backend.Client()

	head, err := cli.HeaderByNumber(ctx, nil)
	require.NoError(t, err)
	nonce, err := cli.PendingNonceAt(ctx, crypto.PubkeyToAddress(s.key.PublicKey))
	require.NoError(t, err)

	tip := big.NewInt(params.GWei)
	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   s.client.chainID,
		Nonce:     nonce,
		GasTipCap: tip,
		GasFeeCap: new(big.Int).Add(new(big.Int).Mul(head.BaseFee, big.NewInt(2)), tip),
		Gas:       gas,
		To:        to,
		Value:     big.NewInt(1),
		Data:      data,
	})
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(s.client.chainID), s.key)
	require.NoError(t, err)
	require.NoError(t, cli.SendTransaction(ctx, signed))
	return signed.Hash()
}

func (s *simChain) transfer(t *testing.T) common.Hash {
	to := common.HexToAddress("0x00000000000000000000000000000000000000E1")
	return s.send(t, &to, nil, 21000)
}

type waitResult struct {
	receipt *types.Receipt
	err     error
}

func (s *simChain) waitAsync(ctx context.Context, hash common.Hash) <-chan waitResult {
	out := make(chan waitResult, 1)
	go func() {
		r, err := s.client.WaitReceipt(ctx, hash)
		out <- waitResult{r, err}
	}()
	return out
}

func TestSimulatedReadsAndPing(t *testing.T) {
	sim := newSimChain(t, 1)
	ctx := context.Background()

	require.NoError(t, sim.client.Ping(ctx))
	bal, err := sim.client.ContractBalance(ctx)
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(params.Ether).String(), bal.String())

	acct, ok := sim.client.Account()
	require.True(t, ok)
	assert.Equal(t, crypto.PubkeyToAddress(sim.key.PublicKey), acct)
}

func TestWaitReceiptConfirmsAtDepthOne(t *testing.T) {
	sim := newSimChain(t, 1)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	hash := sim.transfer(t)
	done := sim.waitAsync(ctx, hash)
	sim.backend.Commit()

	res := <-done
	require.NoError(t, res.err)
	assert.Equal(t, hash, res.receipt.TxHash)
	assert.Equal(t, types.ReceiptStatusSuccessful, res.receipt.Status)
	assert.Equal(t, uint64(1), res.receipt.BlockNumber.Uint64())
}

func TestWaitReceiptHonoursConfirmationDepth(t *testing.T) {
	sim := newSimChain(t, 2)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	hash := sim.transfer(t)
	sim.backend.Commit()

	// mined in the head block: one confirmation, two required
	_, err := sim.client.confirmedReceipt(ctx, hash)
	require.ErrorIs(t, err, errNotConfirmed)

	done := sim.waitAsync(ctx, hash)
	select {
	case res := <-done:
		t.Fatalf("returned before the second confirmation: %+v", res)
	case <-time.After(200 * time.Millisecond):
	}

	sim.backend.Commit()
	res := <-done
	require.NoError(t, res.err)
	assert.Equal(t, uint64(1), res.receipt.BlockNumber.Uint64())

	head, err := sim.backend.Client().BlockNumber(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), head)
}

func TestWaitReceiptReturnsRevertedReceipt(t *testing.T) {
	sim := newSimChain(t, 1)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	hash := sim.send(t, nil, revertingInitCode, 100_000)
	done := sim.waitAsync(ctx, hash)
	sim.backend.Commit()

	res := <-done
	require.NoError(t, res.err, "a failed receipt is still a receipt")
	assert.Equal(t, types.ReceiptStatusFailed, res.receipt.Status)
}

func TestWaitReceiptStopsOnCancel(t *testing.T) {
	sim := newSimChain(t, 1)
	ctx, cancel := context.WithCancel(context.Background())

	done := sim.waitAsync(ctx, common.HexToHash("0xdead"))
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case res := <-done:
		assert.ErrorIs(t, res.err, context.Canceled)
		assert.Nil(t, res.receipt)
	case <-time.After(5 * time.Second):
		t.Fatal("WaitReceipt ignored cancellation")
	}
}

func TestUnknownReceiptIsNotConfirmed(t *testing.T) {
	sim := newSimChain(t, 1)
	ctx := context.Background()

	// the node may briefly report its tx index as incomplete right after start
	require.Eventually(t, func() bool {
		_, err := sim.client.confirmedReceipt(ctx, common.HexToHash("0xbeef"))
		return err == errNotConfirmed
	}, 5*time.Second, 20*time.Millisecond)
}

func TestPollReceiptFallback(t *testing.T) {
	sim := newSimChain(t, 1)

	hash := sim.transfer(t)
	sim.backend.Commit()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	r, err := sim.client.pollReceipt(ctx, hash)
	require.NoError(t, err)
	assert.Equal(t, hash, r.TxHash)

	short, cancelShort := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancelShort()
	_, err = sim.client.pollReceipt(short, common.HexToHash("0xfeed"))
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
