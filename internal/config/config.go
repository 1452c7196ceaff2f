// Package config loads the service configuration and schema definition files.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/ethereum/go-ethereum/common"

	"schemawatch/internal/blockparam"
	"schemawatch/internal/contracts"
)

// LoadWithDefaults reads the configuration file, applies defaults and validates it
func LoadWithDefaults(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// configWithRetryDefault is used for proper default handling of retryEnabled
type configWithRetryDefault struct {
	Config
	RetryEnabledPtr *bool `json:"retryEnabled"`
}

// Parse decodes a JSON configuration, applies defaults and validates it
func Parse(data []byte) (*Config, error) {
	// First unmarshal to check if retryEnabled was explicitly set
	var rawCfg configWithRetryDefault
	if err := json.Unmarshal(data, &rawCfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg := &rawCfg.Config

	// Handle retryEnabled default
	if rawCfg.RetryEnabledPtr != nil {
		cfg.RetryEnabled = *rawCfg.RetryEnabledPtr
	} else {
		cfg.RetryEnabled = DefaultRetryEnabled
	}

	applyDefaults(cfg)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// applyDefaults sets default values for unset fields
func applyDefaults(cfg *Config) {
	if cfg.LogLevel == "" {
		cfg.LogLevel = DefaultLogLevel
	}
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.ReconnectInterval == 0 {
		cfg.ReconnectInterval = DefaultReconnectInterval
	}
	if cfg.ReplayLimit == 0 {
		cfg.ReplayLimit = DefaultReplayLimit
	}
	if cfg.ChangeCacheSize == 0 {
		cfg.ChangeCacheSize = DefaultChangeCacheSize
	}
	if cfg.ScriptTimeout == 0 {
		cfg.ScriptTimeout = DefaultScriptTimeout
	}
	if cfg.RetryMaxAttempts == 0 {
		cfg.RetryMaxAttempts = DefaultRetryMaxAttempts
	}
	if cfg.Multicall.Address == "" {
		cfg.Multicall.Address = DefaultMulticallAddress
	}
	if cfg.Multicall.MaxCalls == 0 {
		cfg.Multicall.MaxCalls = DefaultMulticallMaxCalls
	}
	if cfg.StableContract == "" {
		if _, ok := cfg.Contracts[DefaultStableContract]; ok {
			cfg.StableContract = DefaultStableContract
		}
	}
	if cfg.HTTP.Host == "" {
		cfg.HTTP.Host = DefaultHTTPHost
	}
	if cfg.HTTP.Port == 0 {
		cfg.HTTP.Port = DefaultHTTPPort
	}
}

// validate checks the configuration for errors
func validate(cfg *Config) error {
	if cfg.RPCURL == "" {
		return errors.New("rpcUrl is required")
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[cfg.LogLevel] {
		return fmt.Errorf("logLevel must be one of: debug, info, warn, error")
	}

	if cfg.RequestTimeout < 0 {
		return fmt.Errorf("requestTimeout must be non-negative")
	}
	if cfg.PollInterval < 0 {
		return fmt.Errorf("pollInterval must be non-negative")
	}
	if cfg.ReplayLimit < 0 {
		return fmt.Errorf("replayLimit must be non-negative")
	}
	if cfg.ChangeCacheSize < 0 {
		return fmt.Errorf("changeCacheSize must be non-negative")
	}
	if cfg.ScriptTimeout < 0 {
		return fmt.Errorf("scriptTimeout must be non-negative")
	}

	if !common.IsHexAddress(cfg.Multicall.Address) {
		return fmt.Errorf("multicall.address is not a valid address: %q", cfg.Multicall.Address)
	}
	if cfg.Multicall.MaxCalls < 0 {
		return fmt.Errorf("multicall.maxCalls must be non-negative")
	}
	if _, err := blockparam.Parse(cfg.Multicall.BlockTag); err != nil {
		return fmt.Errorf("multicall.blockTag: %w", err)
	}
	if cfg.RetryMaxAttempts < 0 {
		return fmt.Errorf("retryMaxAttempts must be non-negative")
	}

	for name, addr := range cfg.Contracts {
		if name == contracts.Stable || name == contracts.WrappedNative {
			return fmt.Errorf("contract '%s': name is reserved for an alias", name)
		}
		if !common.IsHexAddress(addr) {
			return fmt.Errorf("contract '%s': invalid address %q", name, addr)
		}
	}
	if cfg.StableContract != "" {
		if _, ok := cfg.Contracts[cfg.StableContract]; !ok {
			return fmt.Errorf("stableContract '%s' is not listed in contracts", cfg.StableContract)
		}
	}

	if cfg.IsCircuitBreakerEnabled() {
		if cfg.CircuitBreaker.FailureThreshold < 0 || cfg.CircuitBreaker.RecoveryTimeout < 0 {
			return fmt.Errorf("circuitBreaker values must be non-negative")
		}
	}

	if cfg.HTTP.Enabled && (cfg.HTTP.Port < 1 || cfg.HTTP.Port > 65535) {
		return fmt.Errorf("http.port must be between 1 and 65535")
	}

	return nil
}
