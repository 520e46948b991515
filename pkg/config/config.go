package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration a DVN or Executor worker needs to dial its
// source/target chains and run its event loop.
//
// CRITICAL: this only reads the specific variable names below. There is no
// fallback to alternately-named variants.
//
// SECURITY: required variables have no defaults and must be explicitly set.
// Call Validate() after loading to ensure all required configuration is
// present.
type Config struct {
	// Chain RPC endpoints
	SourceWSRPCURL   string
	SourceHTTPRPCURL string
	TargetWSRPCURL   string
	TargetHTTPRPCURL string

	// Contract addresses
	SourceEndpoint   common.Address
	TargetEndpoint   common.Address
	SourceSendLib    common.Address
	TargetSendLib    common.Address
	TargetReceiveLib common.Address
	SourceDVN        common.Address

	TargetNetworkEID uint32

	// State-root aggregator
	AggregatorURL string
	RollupID      uint32

	// ABI directory
	ABIDir string

	// Service configuration
	LogLevel    string
	MetricsAddr string

	// Retry and subscription tuning
	RetryMaxAttempts int
	RetryBackoff     time.Duration
	CallTimeout      time.Duration
	// LogBufferSize is loaded but not passed to the chain gateway, whose
	// subscription channels always hold chaingateway.DefaultLogBufferSize
	// entries.
	LogBufferSize int

	// VerifyStateRoot makes the DVN's state-root cross-check blocking
	// instead of advisory-only.
	VerifyStateRoot bool
	// StrictFeeRecipient makes the executor clear its whole packet queue
	// when ExecutorFeePaid names an executor other than SelfAddress.
	StrictFeeRecipient bool

	// SelfAddress is the address this worker submits transactions as; it
	// must match the key behind SignerPrivateKey.
	SelfAddress      common.Address
	SignerPrivateKey string
}

// Load reads configuration from environment variables. Call Validate()
// after Load() before starting a worker.
func Load() (*Config, error) {
	cfg := &Config{
		SourceWSRPCURL:   getEnv("SOURCE_WS_RPC_URL", ""),
		SourceHTTPRPCURL: getEnv("SOURCE_HTTP_RPC_URL", ""),
		TargetWSRPCURL:   getEnv("TARGET_WS_RPC_URL", ""),
		TargetHTTPRPCURL: getEnv("TARGET_HTTP_RPC_URL", ""),

		SourceEndpoint:   common.HexToAddress(getEnv("SOURCE_ENDPOINT", "")),
		TargetEndpoint:   common.HexToAddress(getEnv("TARGET_ENDPOINT", "")),
		SourceSendLib:    common.HexToAddress(getEnv("SOURCE_SENDLIB", "")),
		TargetSendLib:    common.HexToAddress(getEnv("TARGET_SENDLIB", "")),
		TargetReceiveLib: common.HexToAddress(getEnv("TARGET_RECEIVELIB", "")),
		SourceDVN:        common.HexToAddress(getEnv("SOURCE_DVN", "")),

		TargetNetworkEID: uint32(getEnvInt("TARGET_NETWORK_EID", 0)),

		AggregatorURL: getEnv("AGGREGATOR_URL", ""),
		RollupID:      uint32(getEnvInt("ROLLUP_ID", 0)),

		ABIDir: getEnv("ABI_DIR", "abi"),

		LogLevel:    getEnv("LOG_LEVEL", "info"),
		MetricsAddr: getEnv("METRICS_ADDR", ":9090"),

		RetryMaxAttempts: getEnvInt("RETRY_MAX_ATTEMPTS", 10),
		RetryBackoff:     getEnvDuration("RETRY_BACKOFF", 300*time.Millisecond),
		CallTimeout:      getEnvDuration("CALL_TIMEOUT", 10*time.Second),
		LogBufferSize:    getEnvInt("LOG_BUFFER_SIZE", 100),

		VerifyStateRoot:    getEnvBool("VERIFY_STATE_ROOT", false),
		StrictFeeRecipient: getEnvBool("STRICT_FEE_RECIPIENT", false),

		SelfAddress:      common.HexToAddress(getEnv("SELF_ADDRESS", "")),
		SignerPrivateKey: getEnv("SIGNER_PRIVATE_KEY", ""),
	}

	return cfg, nil
}

// LoadFromFile parses a YAML configuration file, for the run-config CLI
// path. Fields not present in the file keep their package defaults.
func LoadFromFile(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %q: %w", path, err)
	}

	var doc yamlConfig
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse config file %q: %w", path, err)
	}

	cfg := defaultConfig()
	doc.applyTo(cfg)
	return cfg, nil
}

// yamlConfig mirrors Config with string-typed address fields, since
// common.Address has no natural YAML scalar representation to decode into
// directly.
type yamlConfig struct {
	SourceWSRPCURL   string `yaml:"source_ws_rpc_url"`
	SourceHTTPRPCURL string `yaml:"source_http_rpc_url"`
	TargetWSRPCURL   string `yaml:"target_ws_rpc_url"`
	TargetHTTPRPCURL string `yaml:"target_http_rpc_url"`

	SourceEndpoint   string `yaml:"source_endpoint"`
	TargetEndpoint   string `yaml:"target_endpoint"`
	SourceSendLib    string `yaml:"source_sendlib"`
	TargetSendLib    string `yaml:"target_sendlib"`
	TargetReceiveLib string `yaml:"target_receivelib"`
	SourceDVN        string `yaml:"source_dvn"`

	TargetNetworkEID uint32 `yaml:"target_network_eid"`

	AggregatorURL string `yaml:"aggregator_url"`
	RollupID      uint32 `yaml:"rollup_id"`

	ABIDir string `yaml:"abi_dir"`

	LogLevel    string `yaml:"log_level"`
	MetricsAddr string `yaml:"metrics_addr"`

	RetryMaxAttempts int           `yaml:"retry_max_attempts"`
	RetryBackoff     time.Duration `yaml:"retry_backoff"`
	CallTimeout      time.Duration `yaml:"call_timeout"`
	LogBufferSize    int           `yaml:"log_buffer_size"`

	VerifyStateRoot    bool `yaml:"verify_state_root"`
	StrictFeeRecipient bool `yaml:"strict_fee_recipient"`

	SelfAddress      string `yaml:"self_address"`
	SignerPrivateKey string `yaml:"signer_private_key"`
}

func (d *yamlConfig) applyTo(cfg *Config) {
	if d.SourceWSRPCURL != "" {
		cfg.SourceWSRPCURL = d.SourceWSRPCURL
	}
	if d.SourceHTTPRPCURL != "" {
		cfg.SourceHTTPRPCURL = d.SourceHTTPRPCURL
	}
	if d.TargetWSRPCURL != "" {
		cfg.TargetWSRPCURL = d.TargetWSRPCURL
	}
	if d.TargetHTTPRPCURL != "" {
		cfg.TargetHTTPRPCURL = d.TargetHTTPRPCURL
	}
	if d.SourceEndpoint != "" {
		cfg.SourceEndpoint = common.HexToAddress(d.SourceEndpoint)
	}
	if d.TargetEndpoint != "" {
		cfg.TargetEndpoint = common.HexToAddress(d.TargetEndpoint)
	}
	if d.SourceSendLib != "" {
		cfg.SourceSendLib = common.HexToAddress(d.SourceSendLib)
	}
	if d.TargetSendLib != "" {
		cfg.TargetSendLib = common.HexToAddress(d.TargetSendLib)
	}
	if d.TargetReceiveLib != "" {
		cfg.TargetReceiveLib = common.HexToAddress(d.TargetReceiveLib)
	}
	if d.SourceDVN != "" {
		cfg.SourceDVN = common.HexToAddress(d.SourceDVN)
	}
	if d.TargetNetworkEID != 0 {
		cfg.TargetNetworkEID = d.TargetNetworkEID
	}
	if d.AggregatorURL != "" {
		cfg.AggregatorURL = d.AggregatorURL
	}
	if d.RollupID != 0 {
		cfg.RollupID = d.RollupID
	}
	if d.ABIDir != "" {
		cfg.ABIDir = d.ABIDir
	}
	if d.LogLevel != "" {
		cfg.LogLevel = d.LogLevel
	}
	if d.MetricsAddr != "" {
		cfg.MetricsAddr = d.MetricsAddr
	}
	if d.RetryMaxAttempts != 0 {
		cfg.RetryMaxAttempts = d.RetryMaxAttempts
	}
	if d.RetryBackoff != 0 {
		cfg.RetryBackoff = d.RetryBackoff
	}
	if d.CallTimeout != 0 {
		cfg.CallTimeout = d.CallTimeout
	}
	if d.LogBufferSize != 0 {
		cfg.LogBufferSize = d.LogBufferSize
	}
	cfg.VerifyStateRoot = d.VerifyStateRoot
	cfg.StrictFeeRecipient = d.StrictFeeRecipient
	if d.SelfAddress != "" {
		cfg.SelfAddress = common.HexToAddress(d.SelfAddress)
	}
	if d.SignerPrivateKey != "" {
		cfg.SignerPrivateKey = d.SignerPrivateKey
	}
}

func defaultConfig() *Config {
	return &Config{
		ABIDir:           "abi",
		LogLevel:         "info",
		MetricsAddr:      ":9090",
		RetryMaxAttempts: 10,
		RetryBackoff:     300 * time.Millisecond,
		CallTimeout:      10 * time.Second,
		LogBufferSize:    100,
	}
}

// Validate checks that all configuration required to dial and subscribe is
// present. This must be called before starting a worker.
func (c *Config) Validate() error {
	var errs []string

	if c.SourceWSRPCURL == "" {
		errs = append(errs, "SOURCE_WS_RPC_URL is required but not set")
	}
	if c.SourceHTTPRPCURL == "" {
		errs = append(errs, "SOURCE_HTTP_RPC_URL is required but not set")
	}
	if c.TargetWSRPCURL == "" {
		errs = append(errs, "TARGET_WS_RPC_URL is required but not set")
	}
	if c.TargetHTTPRPCURL == "" {
		errs = append(errs, "TARGET_HTTP_RPC_URL is required but not set")
	}
	if c.SourceEndpoint == (common.Address{}) {
		errs = append(errs, "SOURCE_ENDPOINT is required but not set")
	}
	if c.TargetEndpoint == (common.Address{}) {
		errs = append(errs, "TARGET_ENDPOINT is required but not set")
	}
	if c.SourceSendLib == (common.Address{}) {
		errs = append(errs, "SOURCE_SENDLIB is required but not set")
	}
	if c.TargetReceiveLib == (common.Address{}) {
		errs = append(errs, "TARGET_RECEIVELIB is required but not set")
	}
	if c.TargetNetworkEID == 0 {
		errs = append(errs, "TARGET_NETWORK_EID is required but not set")
	}
	if c.SelfAddress == (common.Address{}) {
		errs = append(errs, "SELF_ADDRESS is required but not set")
	}
	if c.ABIDir == "" {
		errs = append(errs, "ABI_DIR is required but not set")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}

	return nil
}

// Helper functions for environment variable parsing

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
