package chain

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/govind123143/changecalculator/internal/contracts"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"
)

// Backend is the node surface EthClient needs. *ethclient.Client satisfies
// it, as does the in-process simulated chain.
type Backend interface {
	bind.ContractBackend
	ethereum.ChainStateReader
	ethereum.TransactionReader
	ethereum.BlockNumberReader
	ethereum.ChainIDReader
	SubscribeNewHead(ctx context.Context, ch chan<- *types.Header) (ethereum.Subscription, error)
}

// EthClient talks to a deployed ChangeCalculator over JSON-RPC.
type EthClient struct {
	client        Backend
	closer        func()
	contract      *bind.BoundContract
	address       common.Address
	chainID       *big.Int
	transacts     *bind.TransactOpts
	confirmations uint64
	pollInterval  time.Duration
	log           *zap.Logger
}

type EthClientConfig struct {
	RPCURL          string
	PrivateKeyHex   string
	ContractAddress string
	// ExpectedChainID, when non-zero, must match the node's chain id.
	ExpectedChainID int64
	Confirmations   uint64
	PollInterval    time.Duration
	Logger          *zap.Logger
}

func NewEthClient(ctx context.Context, cfg EthClientConfig) (*EthClient, error) {
	if cfg.RPCURL == "" {
		return nil, fmt.Errorf("rpc url is required")
	}
	if !common.IsHexAddress(cfg.ContractAddress) {
		return nil, fmt.Errorf("invalid contract address %q", cfg.ContractAddress)
	}

	cli, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("dial rpc: %w", err)
	}

	c, err := NewEthClientWithBackend(ctx, cli, cfg)
	if err != nil {
		cli.Close()
		return nil, err
	}
	c.closer = cli.Close
	return c, nil
}

// NewEthClientWithBackend binds the contract on an already connected
// backend. cfg.RPCURL is ignored and the caller keeps ownership of backend.
func NewEthClientWithBackend(ctx context.Context, backend Backend, cfg EthClientConfig) (*EthClient, error) {
	if !common.IsHexAddress(cfg.ContractAddress) {
		return nil, fmt.Errorf("invalid contract address %q", cfg.ContractAddress)
	}

	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}

	parsedABI, err := contracts.ParseChangeCalculatorABI()
	if err != nil {
		return nil, fmt.Errorf("parse abi: %w", err)
	}

	chainID, err := backend.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch chain id: %w", err)
	}
	if cfg.ExpectedChainID != 0 && chainID.Int64() != cfg.ExpectedChainID {
		return nil, fmt.Errorf("rpc serves chain %s, expected %d", chainID, cfg.ExpectedChainID)
	}

	address := common.HexToAddress(cfg.ContractAddress)
	c := &EthClient{
		client:        backend,
		contract:      bind.NewBoundContract(address, parsedABI, backend, backend, backend),
		address:       address,
		chainID:       chainID,
		confirmations: cfg.Confirmations,
		pollInterval:  cfg.PollInterval,
		log:           log,
	}
	if c.confirmations == 0 {
		c.confirmations = 1
	}
	if c.pollInterval <= 0 {
		c.pollInterval = 2 * time.Second
	}

	if cfg.PrivateKeyHex == "" {
		log.Info("no private key configured, chain client is read-only",
			zap.String("contract", address.Hex()),
		)
		return c, nil
	}

	pk, err := parsePrivateKey(cfg.PrivateKeyHex)
	if err != nil {
		return nil, err
	}
	txOpts, err := bind.NewKeyedTransactorWithChainID(pk, chainID)
	if err != nil {
		return nil, fmt.Errorf("transactor: %w", err)
	}
	txOpts.GasLimit = 0 // let node estimate
	txOpts.GasPrice = nil
	txOpts.Nonce = nil
	c.transacts = txOpts

	log.Info("chain client connected",
		zap.String("contract", address.Hex()),
		zap.String("account", txOpts.From.Hex()),
		zap.String("chain_id", chainID.String()),
	)
	return c, nil
}

func parsePrivateKey(hexKey string) (*ecdsa.PrivateKey, error) {
	hexKey = strings.TrimPrefix(strings.TrimSpace(hexKey), "0x")
	key, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	return key, nil
}

func (c *EthClient) Account() (common.Address, bool) {
	if c.transacts == nil {
		return common.Address{}, false
	}
	return c.transacts.From, true
}

func (c *EthClient) ContractBalance(ctx context.Context) (*big.Int, error) {
	bal, err := c.client.BalanceAt(ctx, c.address, nil)
	if err != nil {
		return nil, fmt.Errorf("contract balance: %w", err)
	}
	return bal, nil
}

func (c *EthClient) Price(ctx context.Context) (*big.Int, error) {
	var out []interface{}
	if err := c.contract.Call(&bind.CallOpts{Context: ctx}, &out, contracts.MethodPrice); err != nil {
		return nil, fmt.Errorf("call price: %w", err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("call price: empty result")
	}
	return *abi.ConvertType(out[0], new(*big.Int)).(**big.Int), nil
}

func (c *EthClient) Owner(ctx context.Context) (common.Address, error) {
	var out []interface{}
	if err := c.contract.Call(&bind.CallOpts{Context: ctx}, &out, contracts.MethodOwner); err != nil {
		return common.Address{}, fmt.Errorf("call owner: %w", err)
	}
	if len(out) == 0 {
		return common.Address{}, fmt.Errorf("call owner: empty result")
	}
	return *abi.ConvertType(out[0], new(common.Address)).(*common.Address), nil
}

func (c *EthClient) Pay(ctx context.Context, value *big.Int) (common.Hash, error) {
	return c.transact(ctx, value, contracts.MethodPay)
}

func (c *EthClient) SetPrice(ctx context.Context, price *big.Int) (common.Hash, error) {
	return c.transact(ctx, nil, contracts.MethodSetPrice, price)
}

func (c *EthClient) Withdraw(ctx context.Context) (common.Hash, error) {
	return c.transact(ctx, nil, contracts.MethodWithdraw)
}

func (c *EthClient) transact(ctx context.Context, value *big.Int, method string, args ...interface{}) (common.Hash, error) {
	if c.transacts == nil {
		return common.Hash{}, ErrReadOnly
	}

	opts := *c.transacts
	opts.Context = ctx
	opts.Value = value

	tx, err := c.contract.Transact(&opts, method, args...)
	if err != nil {
		return common.Hash{}, fmt.Errorf("%s tx: %w", method, err)
	}
	return tx.Hash(), nil
}

func (c *EthClient) Ping(ctx context.Context) error {
	if c.client == nil {
		return fmt.Errorf("rpc client not configured")
	}
	_, err := c.client.BlockNumber(ctx)
	return err
}

func (c *EthClient) Close() {
	if c.closer != nil {
		c.closer()
	}
}
