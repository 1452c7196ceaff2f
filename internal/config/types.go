package config

import (
	"math/big"
	"time"

	"schemawatch/internal/blockparam"
)

// Config represents the main configuration structure
type Config struct {
	LogLevel          string                `json:"logLevel"`
	RPCURL            string                `json:"rpcUrl"`
	WSURL             string                `json:"wsUrl"`             // optional, enables new-head triggered polls
	RequestTimeout    int                   `json:"requestTimeout"`    // ms
	PollInterval      int                   `json:"pollInterval"`      // ms
	ReconnectInterval int                   `json:"reconnectInterval"` // ms - between WebSocket reconnection attempts
	ReplayLimit       int                   `json:"replayLimit"`       // result events kept for replay
	ChangeCacheSize   int                   `json:"changeCacheSize"`
	ScriptTimeout     int                   `json:"scriptTimeout"` // ms
	RetryEnabled      bool                  `json:"retryEnabled"`
	RetryMaxAttempts  int                   `json:"retryMaxAttempts"`
	Multicall         MulticallConfig       `json:"multicall"`
	CircuitBreaker    *CircuitBreakerConfig `json:"circuitBreaker,omitempty"`
	Contracts         map[string]string     `json:"contracts"`
	StableContract    string                `json:"stableContract"`
	HTTP              HTTPConfig            `json:"http"`
	SchemaFiles       []string              `json:"schemaFiles"`
}

// MulticallConfig represents the Multicall3 executor configuration
type MulticallConfig struct {
	Address      string `json:"address"`
	MaxCalls     int    `json:"maxCalls"`
	AllowFailure *bool  `json:"allowFailure,omitempty"`
	BlockTag     string `json:"blockTag"` // latest, safe, finalized or a block number
}

// CircuitBreakerConfig represents the node circuit breaker configuration
type CircuitBreakerConfig struct {
	Enabled             bool `json:"enabled"`
	FailureThreshold    int  `json:"failureThreshold"`
	RecoveryTimeout     int  `json:"recoveryTimeout"` // ms
	HalfOpenMaxRequests int  `json:"halfOpenMaxRequests"`
}

// HTTPConfig represents the read API configuration
type HTTPConfig struct {
	Enabled bool   `json:"enabled"`
	Host    string `json:"host"`
	Port    int    `json:"port"`
}

// Default values
const (
	DefaultLogLevel          = "info"
	DefaultRequestTimeout    = 10000 // ms
	DefaultPollInterval      = 12000 // ms - roughly one mainnet block
	DefaultReconnectInterval = 5000  // ms
	DefaultReplayLimit       = 4096
	DefaultChangeCacheSize   = 4096
	DefaultScriptTimeout     = 1000 // ms
	DefaultRetryEnabled      = true
	DefaultRetryMaxAttempts  = 3
	DefaultMulticallAddress  = "0xcA11bde05977b3631167028862bE2a173976CA11"
	DefaultMulticallMaxCalls = 500
	DefaultAllowFailure      = true
	DefaultStableContract    = "DAI"
	DefaultHTTPHost          = "localhost"
	DefaultHTTPPort          = 8080
)

// GetRequestTimeoutDuration returns request timeout as time.Duration
func (c *Config) GetRequestTimeoutDuration() time.Duration {
	return time.Duration(c.RequestTimeout) * time.Millisecond
}

// GetPollIntervalDuration returns poll interval as time.Duration
func (c *Config) GetPollIntervalDuration() time.Duration {
	return time.Duration(c.PollInterval) * time.Millisecond
}

// GetReconnectIntervalDuration returns reconnect interval as time.Duration
func (c *Config) GetReconnectIntervalDuration() time.Duration {
	return time.Duration(c.ReconnectInterval) * time.Millisecond
}

// GetScriptTimeoutDuration returns script timeout as time.Duration
func (c *Config) GetScriptTimeoutDuration() time.Duration {
	return time.Duration(c.ScriptTimeout) * time.Millisecond
}

// IsAllowFailure reports whether single calls may revert inside a multicall
func (m MulticallConfig) IsAllowFailure() bool {
	if m.AllowFailure == nil {
		return DefaultAllowFailure
	}
	return *m.AllowFailure
}

// IsCircuitBreakerEnabled returns true if the circuit breaker is configured and enabled
func (c *Config) IsCircuitBreakerEnabled() bool {
	return c.CircuitBreaker != nil && c.CircuitBreaker.Enabled
}

// GetRecoveryTimeoutDuration returns the breaker recovery timeout as time.Duration
func (c *CircuitBreakerConfig) GetRecoveryTimeoutDuration() time.Duration {
	return time.Duration(c.RecoveryTimeout) * time.Millisecond
}

// GetBlockNumber returns the polled block in blockparam form; nil means latest
func (m MulticallConfig) GetBlockNumber() *big.Int {
	n, _ := blockparam.Parse(m.BlockTag)
	return n
}
