package nft

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/rs-ent/starglow-sub015/plugin/common"
)

/*
	{
	  "max_attempts": 5,
	  "initial_interval": "1s",
	  "max_interval": "30s",
	  "max_batch_size": 50,
	  "wait_for_receipt": true,
	  "receipt_timeout": "2m",
	  "domain_version": "1",
	  "permit_ttl": "1h",
	  "invalidation_policy": "strict"
	}
*/

// Config tunes the NFT fulfillment handler and the transfer protocol.
type Config struct {
	MaxAttempts         int           `mapstructure:"max_attempts"`
	InitialInterval     time.Duration `mapstructure:"initial_interval"`
	MaxInterval         time.Duration `mapstructure:"max_interval"`
	Multiplier          float64       `mapstructure:"multiplier"`
	MaxBatchSize        int           `mapstructure:"max_batch_size"` // tokens per permit; larger orders are split into several transactions
	WaitForReceipt      bool          `mapstructure:"wait_for_receipt"`
	ReceiptTimeout      time.Duration `mapstructure:"receipt_timeout"`
	ReceiptPollInterval time.Duration `mapstructure:"receipt_poll_interval"`
	DomainVersion       string        `mapstructure:"domain_version"` // EIP-712 domain version of the collection contract
	PermitTTL           time.Duration `mapstructure:"permit_ttl"`
	InvalidationPolicy  string        `mapstructure:"invalidation_policy"`
}

type ConfigOption func(*Config) error

func withDefaults(c *Config) {
	c.MaxAttempts = 5
	c.InitialInterval = time.Second
	c.MaxInterval = 30 * time.Second
	c.Multiplier = 2
	c.MaxBatchSize = 0
	c.WaitForReceipt = true
	c.ReceiptTimeout = 2 * time.Minute
	c.ReceiptPollInterval = 2 * time.Second
	c.DomainVersion = "1"
	c.PermitTTL = time.Hour
	c.InvalidationPolicy = string(common.InvalidationStrict)
}

func WithMaxAttempts(n int) ConfigOption {
	return func(c *Config) error {
		c.MaxAttempts = n
		return nil
	}
}

func WithBackoff(initial, max time.Duration) ConfigOption {
	return func(c *Config) error {
		c.InitialInterval = initial
		c.MaxInterval = max
		return nil
	}
}

func WithMaxBatchSize(n int) ConfigOption {
	return func(c *Config) error {
		c.MaxBatchSize = n
		return nil
	}
}

func WithReceipts(wait bool, timeout, poll time.Duration) ConfigOption {
	return func(c *Config) error {
		c.WaitForReceipt = wait
		c.ReceiptTimeout = timeout
		c.ReceiptPollInterval = poll
		return nil
	}
}

func WithInvalidationPolicy(policy common.InvalidationPolicy) ConfigOption {
	return func(c *Config) error {
		c.InvalidationPolicy = string(policy)
		return nil
	}
}

func WithFileConfig(basePath string) ConfigOption {
	return func(c *Config) error {
		v := viper.New()
		v.SetConfigName("nft")

		if basePath != "" {
			v.AddConfigPath(basePath)
		}
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/fulfillment")

		v.AutomaticEnv()
		v.SetEnvPrefix("NFT")
		v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("failed to read config: %w", err)
		}

		if err := v.Unmarshal(c); err != nil {
			return fmt.Errorf("failed to unmarshal config: %w", err)
		}
		return nil
	}
}

func NewConfig(fns ...ConfigOption) (*Config, error) {
	c := &Config{}
	withDefaults(c)
	for _, fn := range fns {
		if err := fn(c); err != nil {
			return nil, err
		}
	}

	if c.MaxAttempts < 1 {
		return c, errors.New("max_attempts must be at least 1")
	}
	if c.InitialInterval <= 0 || c.MaxInterval < c.InitialInterval {
		return c, fmt.Errorf("invalid backoff interval: initial=%s max=%s", c.InitialInterval, c.MaxInterval)
	}
	if c.Multiplier < 1 {
		return c, errors.New("multiplier must be at least 1")
	}
	if c.MaxBatchSize < 0 {
		return c, errors.New("max_batch_size cannot be negative")
	}
	if c.PermitTTL <= 0 {
		return c, errors.New("permit_ttl must be positive")
	}
	if c.WaitForReceipt && (c.ReceiptTimeout <= 0 || c.ReceiptPollInterval <= 0) {
		return c, errors.New("receipt_timeout and receipt_poll_interval are required when waiting for receipts")
	}
	if _, err := common.ParseInvalidationPolicy(c.InvalidationPolicy); err != nil {
		return c, err
	}
	return c, nil
}

func (c *Config) Policy() common.InvalidationPolicy {
	p, _ := common.ParseInvalidationPolicy(c.InvalidationPolicy)
	return p
}
