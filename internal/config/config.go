// Package config loads daemon configuration from a YAML file and the
// environment.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmerrifield20/uavledger/internal/anchor"
	"github.com/jmerrifield20/uavledger/internal/faults"
	"github.com/jmerrifield20/uavledger/internal/health"
	"github.com/jmerrifield20/uavledger/internal/retry"
	"github.com/jmerrifield20/uavledger/internal/storage"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// Backend names.
const (
	BackendMemory   = "memory"
	BackendS3       = "s3"
	BackendEthereum = "ethereum"
)

// Config is the fully resolved daemon configuration.
type Config struct {
	Server   ServerConfig
	Storage  StorageConfig
	Ledger   LedgerConfig
	Database DatabaseConfig
	Retry    retry.Policy
	Verify   VerifyConfig
	Health   HealthConfig
}

type ServerConfig struct {
	Port            int
	GRPCPort        int // 0 disables the gRPC health server
	CORSOrigins     []string
	RateLimitRPS    int
	MaxBodyBytes    int64
	ShutdownTimeout time.Duration
}

type StorageConfig struct {
	Backend string // memory | s3
	Layout  storage.Layout
	S3      storage.S3Config
}

type LedgerConfig struct {
	Backend  string // memory | ethereum
	Scheme   anchor.Scheme
	Uploader string // attribution for the memory ledger
	Ethereum anchor.EthereumConfig
}

type DatabaseConfig struct {
	URL string // empty keeps the journal and run locks in memory
}

type VerifyConfig struct {
	CacheSize int
}

type HealthConfig struct {
	health.Config
	HTTPProbes map[string]string // name -> URL
}

// SetDefaults registers a default for every key.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.grpc_port", 9090)
	v.SetDefault("server.cors_origins", []string{"http://localhost:3000"})
	v.SetDefault("server.rate_limit_rps", 20)
	v.SetDefault("server.max_body_bytes", 64<<20)
	v.SetDefault("server.shutdown_timeout", "15s")

	v.SetDefault("storage.backend", BackendMemory)
	v.SetDefault("storage.bucket", "uav-flight-logs")
	v.SetDefault("storage.prefix", "flights")
	v.SetDefault("storage.region", "us-east-1")
	v.SetDefault("storage.access_key_id", "")
	v.SetDefault("storage.secret_access_key", "")
	v.SetDefault("storage.use_path_style", false)

	v.SetDefault("ledger.backend", BackendMemory)
	v.SetDefault("ledger.key_scheme", string(anchor.SchemeSHA256))
	v.SetDefault("ledger.uploader", "0x0000000000000000000000000000000000000000")
	v.SetDefault("ledger.rpc_url", "http://127.0.0.1:8545")
	v.SetDefault("ledger.chain_id", 31337)
	v.SetDefault("ledger.private_key", "")
	v.SetDefault("ledger.contract_address", "")
	v.SetDefault("ledger.gas_limit", anchor.DefaultGasLimit)
	v.SetDefault("ledger.receipt_timeout", "0s")
	v.SetDefault("ledger.receipt_poll", "2s")

	v.SetDefault("database.url", "")

	v.SetDefault("retry.max_attempts", retry.DefaultPolicy.MaxAttempts)
	v.SetDefault("retry.initial_interval", retry.DefaultPolicy.InitialInterval.String())
	v.SetDefault("retry.max_interval", retry.DefaultPolicy.MaxInterval.String())

	v.SetDefault("verify.cache_size", 1024)

	v.SetDefault("health.check_interval", "30s")
	v.SetDefault("health.probe_timeout", "5s")
	v.SetDefault("health.fail_threshold", 3)
	v.SetDefault("health.http_probes", map[string]string{})
}

// Load reads configName.yaml from ./configs or ., overlays environment
// variables (server.port -> SERVER_PORT) and returns the resolved Config.
// A missing config file is not an error.
func Load(v *viper.Viper, configName string, logger *zap.Logger) (*Config, error) {
	v.SetConfigName(configName)
	v.SetConfigType("yaml")
	v.AddConfigPath("configs")
	v.AddConfigPath(".")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	SetDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var cfgNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &cfgNotFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
		logger.Warn("no config file found, using defaults and env vars")
	}
	return FromViper(v)
}

// FromViper resolves a Config from v without touching the filesystem.
func FromViper(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:            v.GetInt("server.port"),
			GRPCPort:        v.GetInt("server.grpc_port"),
			CORSOrigins:     v.GetStringSlice("server.cors_origins"),
			RateLimitRPS:    v.GetInt("server.rate_limit_rps"),
			MaxBodyBytes:    v.GetInt64("server.max_body_bytes"),
			ShutdownTimeout: v.GetDuration("server.shutdown_timeout"),
		},
		Storage: StorageConfig{
			Backend: strings.ToLower(v.GetString("storage.backend")),
			Layout:  storage.Layout{Prefix: v.GetString("storage.prefix")},
			S3: storage.S3Config{
				Bucket:          v.GetString("storage.bucket"),
				Region:          v.GetString("storage.region"),
				AccessKeyID:     v.GetString("storage.access_key_id"),
				SecretAccessKey: v.GetString("storage.secret_access_key"),
				UsePathStyle:    v.GetBool("storage.use_path_style"),
			},
		},
		Ledger: LedgerConfig{
			Backend:  strings.ToLower(v.GetString("ledger.backend")),
			Scheme:   anchor.Scheme(strings.ToLower(v.GetString("ledger.key_scheme"))),
			Uploader: v.GetString("ledger.uploader"),
			Ethereum: anchor.EthereumConfig{
				RPCURL:          v.GetString("ledger.rpc_url"),
				ChainID:         v.GetInt64("ledger.chain_id"),
				PrivateKeyHex:   v.GetString("ledger.private_key"),
				ContractAddress: v.GetString("ledger.contract_address"),
				GasLimit:        v.GetUint64("ledger.gas_limit"),
				ReceiptTimeout:  v.GetDuration("ledger.receipt_timeout"),
				ReceiptPoll:     v.GetDuration("ledger.receipt_poll"),
			},
		},
		Database: DatabaseConfig{URL: v.GetString("database.url")},
		Retry: retry.Policy{
			MaxAttempts:     v.GetInt("retry.max_attempts"),
			InitialInterval: v.GetDuration("retry.initial_interval"),
			MaxInterval:     v.GetDuration("retry.max_interval"),
		},
		Verify: VerifyConfig{CacheSize: v.GetInt("verify.cache_size")},
		Health: HealthConfig{
			Config: health.Config{
				CheckInterval: v.GetDuration("health.check_interval"),
				ProbeTimeout:  v.GetDuration("health.probe_timeout"),
				FailThreshold: v.GetInt("health.fail_threshold"),
			},
			HTTPProbes: v.GetStringMapString("health.http_probes"),
		},
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks values that would otherwise fail late.
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case BackendMemory:
	case BackendS3:
		if c.Storage.S3.Bucket == "" {
			return faults.Inputf("storage.bucket is required for the s3 backend")
		}
	default:
		return faults.Inputf("unknown storage.backend %q", c.Storage.Backend)
	}

	switch c.Ledger.Backend {
	case BackendMemory:
	case BackendEthereum:
		if c.Ledger.Ethereum.PrivateKeyHex == "" || c.Ledger.Ethereum.ContractAddress == "" {
			return faults.Inputf("ledger.private_key and ledger.contract_address are required for the ethereum backend")
		}
	default:
		return faults.Inputf("unknown ledger.backend %q", c.Ledger.Backend)
	}

	switch c.Ledger.Scheme {
	case anchor.SchemeSHA256, anchor.SchemeKeccak256:
	default:
		return faults.Inputf("unknown ledger.key_scheme %q", c.Ledger.Scheme)
	}

	if c.Server.Port <= 0 {
		return faults.Inputf("server.port must be positive")
	}
	if c.Retry.MaxAttempts < 1 {
		return faults.Inputf("retry.max_attempts must be at least 1")
	}
	return nil
}
