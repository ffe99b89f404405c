package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// DeploymentConfig represents deployments.json as written by the contract
// deploy script.
type DeploymentConfig struct {
	ChainID   int64  `json:"chainId"`
	RPCURL    string `json:"rpcUrl"`
	Deployer  string `json:"deployer"`
	Contracts struct {
		ProductOrder string `json:"ProductOrder"`
	} `json:"contracts"`
}

type AppConfig struct {
	Deployment DeploymentConfig
	Chain      ChainConfig
	Service    ServiceConfig
	Log        LogConfig
}

type ChainConfig struct {
	RPCURL          string
	ContractAddress string
	PrivateKeys     []string
	ConfirmTimeout  time.Duration
	PollInterval    time.Duration
}

type ServiceConfig struct {
	HTTPPort          int
	AuthSecret        string
	AuthClockSkew     time.Duration
	IdempotencyWindow time.Duration
	PostgresDSN       string
	RedisAddr         string
}

type LogConfig struct {
	Level  string
	Format string
}

const defaultDeploymentsPath = "./deployments.json"

// Load reads deployments.json and applies environment overrides.
func Load() (*AppConfig, error) {
	path := envOr("DEPLOYMENTS_PATH", defaultDeploymentsPath)
	deployCfg, err := loadDeployments(path)
	if err != nil {
		return nil, fmt.Errorf("load deployments: %w", err)
	}

	chainCfg := ChainConfig{
		RPCURL:          envOr("CHAIN_RPC_URL", deployCfg.RPCURL),
		ContractAddress: envOr("PRODUCT_ORDER_ADDRESS", deployCfg.Contracts.ProductOrder),
		PrivateKeys:     splitList(envOr("WALLET_PRIVATE_KEYS", "")),
		ConfirmTimeout:  time.Duration(envOrInt("CONFIRM_TIMEOUT_SECONDS", 0)) * time.Second,
		PollInterval:    time.Duration(envOrInt("RECEIPT_POLL_MILLIS", 2000)) * time.Millisecond,
	}
	if chainCfg.RPCURL == "" {
		return nil, fmt.Errorf("chain rpc url is not configured")
	}
	if !common.IsHexAddress(chainCfg.ContractAddress) {
		return nil, fmt.Errorf("ProductOrder address %q is not a valid address", chainCfg.ContractAddress)
	}

	serviceCfg := ServiceConfig{
		HTTPPort:          envOrInt("API_HTTP_PORT", 3000),
		AuthSecret:        envOr("INTENT_AUTH_SECRET", ""),
		AuthClockSkew:     time.Duration(envOrInt("INTENT_CLOCK_SKEW_SECONDS", 60)) * time.Second,
		IdempotencyWindow: time.Duration(envOrInt("IDEMPOTENCY_WINDOW_SECONDS", 600)) * time.Second,
		PostgresDSN:       envOr("IDEMPOTENCY_POSTGRES_DSN", ""),
		RedisAddr:         envOr("IDEMPOTENCY_REDIS_ADDR", ""),
	}

	return &AppConfig{
		Deployment: *deployCfg,
		Chain:      chainCfg,
		Service:    serviceCfg,
		Log: LogConfig{
			Level:  envOr("LOG_LEVEL", "info"),
			Format: envOr("LOG_FORMAT", "text"),
		},
	}, nil
}

func loadDeployments(path string) (*DeploymentConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg DeploymentConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &cfg, nil
}

func splitList(val string) []string {
	var out []string
	for _, part := range strings.Split(val, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func envOr(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok && val != "" {
		return val
	}
	return fallback
}

func envOrInt(key string, fallback int) int {
	if val, ok := os.LookupEnv(key); ok && val != "" {
		if parsed, err := strconv.Atoi(strings.TrimSpace(val)); err == nil {
			return parsed
		}
	}
	return fallback
}
