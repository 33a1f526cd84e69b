package common

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/rs-ent/starglow-sub015/internal/scheduler"
	"github.com/rs-ent/starglow-sub015/storage"
)

var coreconfig *CoreConfig

type ServerConfig struct {
	Host      string `mapstructure:"host" json:"host,omitempty"`
	Port      int64  `mapstructure:"port" json:"port,omitempty"`
	JWTSecret string `mapstructure:"jwt_secret" json:"jwt_secret,omitempty"`
	JWTIssuer string `mapstructure:"jwt_issuer" json:"jwt_issuer,omitempty"`
}

// Addr is the listen address of the HTTP API.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

type EscrowConfig struct {
	PrivateKeys  []string      `mapstructure:"private_keys" json:"private_keys,omitempty"` // hex keys, for local development only
	CustodyUrl   string        `mapstructure:"custody_url" json:"custody_url,omitempty"`
	CustodyToken string        `mapstructure:"custody_token" json:"custody_token,omitempty"`
	Timeout      time.Duration `mapstructure:"timeout" json:"timeout,omitempty"`
}

type CacheConfig struct {
	Prefix  string `mapstructure:"prefix" json:"prefix,omitempty"`
	Channel string `mapstructure:"channel" json:"channel,omitempty"`
}

type WorkerConfig struct {
	Concurrency int `mapstructure:"concurrency" json:"concurrency,omitempty"`
}

type CoreConfig struct {
	Server   ServerConfig `mapstructure:"server" json:"server"`
	Database struct {
		DSN string `mapstructure:"dsn" json:"dsn,omitempty"`
	} `mapstructure:"database" json:"database,omitempty"`
	BaseConfigPath string              `mapstructure:"base_config_path" json:"base_config_path,omitempty"`
	Redis          storage.RedisConfig `mapstructure:"redis" json:"redis,omitempty"`
	Networks       map[string]string   `mapstructure:"networks" json:"networks,omitempty"` // network id -> rpc url
	Escrow         EscrowConfig        `mapstructure:"escrow" json:"escrow,omitempty"`
	Cache          CacheConfig         `mapstructure:"cache" json:"cache,omitempty"`
	Worker         WorkerConfig        `mapstructure:"worker" json:"worker,omitempty"`
	Reconciler     scheduler.Config    `mapstructure:"reconciler" json:"reconciler,omitempty"`
	Datadog        struct {
		Host string `mapstructure:"host" json:"host,omitempty"`
		Port string `mapstructure:"port" json:"port,omitempty"`
	} `mapstructure:"datadog" json:"datadog"`
}

func LoadConfig() error {
	configName := os.Getenv("VS_CONFIG_NAME")
	if configName == "" {
		configName = "config"
	}

	c, err := ReadConfig(configName)
	if err != nil {
		return fmt.Errorf("failed to read config: %w", err)
	}

	coreconfig = c
	return nil
}

func ReadConfig(configName string) (*CoreConfig, error) {
	v := viper.New()
	v.SetConfigName(configName)
	v.AddConfigPath(".")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("escrow.timeout", 30*time.Second)
	v.SetDefault("cache.prefix", "cache:")
	v.SetDefault("worker.concurrency", 10)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("fail to reading config file, %w", err)
	}
	var cfg CoreConfig
	err := v.Unmarshal(&cfg)
	if err != nil {
		return nil, fmt.Errorf("unable to decode into struct, %w", err)
	}
	return &cfg, nil
}

// GetConfig returns the config loaded by LoadConfig.
func GetConfig() *CoreConfig {
	return coreconfig
}
