package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// DeploymentConfig represents deployments.json.
type DeploymentConfig struct {
	ChainID      int64  `json:"chainId"`
	Network      string `json:"network"`
	RPCURL       string `json:"rpcUrl"`
	NativeSymbol string `json:"nativeSymbol"`
	Decimals     int    `json:"decimals"`
	Contracts    struct {
		ChangeCalculator string `json:"ChangeCalculator"`
	} `json:"contracts"`
}

// Env is the environment surface. Values from a local .env file are loaded
// first and never override variables already set in the process.
type Env struct {
	DeploymentsPath string `env:"DEPLOYMENTS_PATH" envDefault:"deployments.json"`
	HTTPAddr        string `env:"PANEL_HTTP_ADDR" envDefault:"127.0.0.1:3000"`

	RPCURL          string        `env:"CHAIN_RPC_URL"`
	PrivateKey      string        `env:"CHAIN_PRIVATE_KEY"`
	ContractAddress string        `env:"CONTRACT_ADDRESS"`
	Confirmations   uint64        `env:"CHAIN_CONFIRMATIONS" envDefault:"1"`
	ReadTimeout     time.Duration `env:"CHAIN_READ_TIMEOUT" envDefault:"10s"`
	PollInterval    time.Duration `env:"RECEIPT_POLL_INTERVAL" envDefault:"2s"`

	HMACSecret    string        `env:"API_HMAC_SECRET"`
	HMACClockSkew time.Duration `env:"HMAC_CLOCK_SKEW" envDefault:"60s"`

	IdempotencyWindow    time.Duration `env:"IDEMPOTENCY_WINDOW" envDefault:"10m"`
	IdempotencyStorePath string        `env:"IDEMPOTENCY_STORE_PATH"`
	IdempotencyDSN       string        `env:"IDEMPOTENCY_POSTGRES_DSN"`

	SubmitRatePerSecond float64 `env:"SUBMIT_RATE_PER_SECOND" envDefault:"2"`
	SubmitBurst         int     `env:"SUBMIT_BURST" envDefault:"4"`

	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
	LogJSON  bool   `env:"LOG_JSON"`
	Stage    string `env:"STAGE" envDefault:"dev"`

	// The dev chain is used when no RPC URL is configured anywhere.
	DevOwner   string `env:"DEV_CHAIN_OWNER" envDefault:"0x00000000000000000000000000000000000000A1"`
	DevAccount string `env:"DEV_CHAIN_ACCOUNT" envDefault:"0x00000000000000000000000000000000000000A1"`
	DevPrice   string `env:"DEV_CHAIN_PRICE" envDefault:"0.01"`
}

// AppConfig ties together deployment info and the environment.
type AppConfig struct {
	Deployment DeploymentConfig
	Service    ServiceConfig
	Chain      ChainConfig
	Log        LogConfig
	Dev        DevChainConfig
}

type ServiceConfig struct {
	HTTPAddr             string
	HMACSecret           string
	HMACClockSkew        time.Duration
	IdempotencyWindow    time.Duration
	IdempotencyStorePath string
	IdempotencyDSN       string
	SubmitRatePerSecond  float64
	SubmitBurst          int
}

type ChainConfig struct {
	RPCURL          string
	PrivateKey      string
	ContractAddress string
	ChainID         int64
	Decimals        int
	NativeSymbol    string
	Network         string
	Confirmations   uint64
	ReadTimeout     time.Duration
	PollInterval    time.Duration
}

// UseDevChain reports whether no RPC endpoint is configured.
func (c ChainConfig) UseDevChain() bool {
	return c.RPCURL == ""
}

type LogConfig struct {
	Level string
	JSON  bool
	Stage string
}

type DevChainConfig struct {
	Owner   string
	Account string
	Price   string
}

const defaultDecimals = 18

// Load aggregates configuration from disk and environment.
func Load() (*AppConfig, error) {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	var e Env
	if err := env.Parse(&e); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	deployCfg, err := loadDeployments(e.DeploymentsPath)
	if err != nil {
		return nil, fmt.Errorf("load deployments: %w", err)
	}

	return build(e, *deployCfg)
}

func build(e Env, deploy DeploymentConfig) (*AppConfig, error) {
	chainCfg := ChainConfig{
		RPCURL:          firstNonEmpty(e.RPCURL, deploy.RPCURL),
		PrivateKey:      e.PrivateKey,
		ContractAddress: firstNonEmpty(e.ContractAddress, deploy.Contracts.ChangeCalculator),
		ChainID:         deploy.ChainID,
		Decimals:        deploy.Decimals,
		NativeSymbol:    firstNonEmpty(deploy.NativeSymbol, "ETH"),
		Network:         firstNonEmpty(deploy.Network, "devnet"),
		Confirmations:   e.Confirmations,
		ReadTimeout:     e.ReadTimeout,
		PollInterval:    e.PollInterval,
	}
	if chainCfg.Decimals <= 0 {
		chainCfg.Decimals = defaultDecimals
	}
	if !chainCfg.UseDevChain() && chainCfg.ContractAddress == "" {
		return nil, errors.New("contract address is required when CHAIN_RPC_URL is set")
	}
	if e.SubmitBurst <= 0 {
		return nil, fmt.Errorf("SUBMIT_BURST must be positive, got %d", e.SubmitBurst)
	}

	storePath := e.IdempotencyStorePath
	if storePath == "" {
		storePath = filepath.Join(os.TempDir(), "changecalc-submissions.json")
	}

	return &AppConfig{
		Deployment: deploy,
		Service: ServiceConfig{
			HTTPAddr:             e.HTTPAddr,
			HMACSecret:           e.HMACSecret,
			HMACClockSkew:        e.HMACClockSkew,
			IdempotencyWindow:    e.IdempotencyWindow,
			IdempotencyStorePath: storePath,
			IdempotencyDSN:       e.IdempotencyDSN,
			SubmitRatePerSecond:  e.SubmitRatePerSecond,
			SubmitBurst:          e.SubmitBurst,
		},
		Chain: chainCfg,
		Log: LogConfig{
			Level: e.LogLevel,
			JSON:  e.LogJSON,
			Stage: e.Stage,
		},
		Dev: DevChainConfig{
			Owner:   e.DevOwner,
			Account: e.DevAccount,
			Price:   e.DevPrice,
		},
	}, nil
}

// loadDeployments reads deployments.json. A missing file yields an empty
// deployment so the panel can start against the dev chain.
func loadDeployments(path string) (*DeploymentConfig, error) {
	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return &DeploymentConfig{}, nil
	}
	if err != nil {
		return nil, err
	}
	var cfg DeploymentConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
