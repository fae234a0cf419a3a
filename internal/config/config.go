package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/viper"
)

// Config is loaded once at startup, validated, and read-only afterwards.
// Invalid configuration is fatal at boot, never recoverable at request time.
type Config struct {
	Payment  PaymentConfig
	Provider ProviderConfig
	Chain    ChainConfig
	Redis    RedisConfig
	Server   ServerConfig
}

type PaymentConfig struct {
	PayTo          string `mapstructure:"pay_to"`
	Network        string `mapstructure:"network"`
	PriceCents     int64  `mapstructure:"price_cents"`
	FacilitatorURL string `mapstructure:"facilitator_url"`
	Settle         bool   `mapstructure:"settle"`
}

type ProviderConfig struct {
	BaseURL    string `mapstructure:"base_url"`
	APIKey     string `mapstructure:"api_key"`
	Model      string `mapstructure:"model"`
	SigningKey string `mapstructure:"signing_key"`
}

type ChainConfig struct {
	RPCURL string `mapstructure:"rpc_url"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
}

type ServerConfig struct {
	Port          int    `mapstructure:"port"`
	Environment   string `mapstructure:"environment"`
	RatePerMinute int    `mapstructure:"rate_per_minute"`
}

func Load() (*Config, error) {
	v := viper.New()

	// Defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.environment", "production")
	v.SetDefault("server.rate_per_minute", 60)
	v.SetDefault("payment.network", "base")
	v.SetDefault("payment.price_cents", 500)
	v.SetDefault("payment.settle", true)
	v.SetDefault("provider.model", "impact-estimator-1")
	v.SetDefault("redis.addr", "redis:6379")

	// Config file (optional)
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/app")
	_ = v.ReadInConfig()

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Explicit env bindings
	bindings := map[string]string{
		"payment.pay_to":          "PAY_TO_ADDRESS",
		"payment.network":         "PAYMENT_NETWORK",
		"payment.price_cents":     "PRICE_CENTS",
		"payment.facilitator_url": "FACILITATOR_URL",
		"payment.settle":          "SETTLE_PAYMENTS",
		"provider.base_url":       "PROVIDER_BASE_URL",
		"provider.api_key":        "PROVIDER_API_KEY",
		"provider.model":          "PROVIDER_MODEL",
		"provider.signing_key":    "AUDIT_SIGNING_KEY",
		"chain.rpc_url":           "RPC_URL",
		"redis.addr":              "REDIS_ADDR",
		"redis.password":          "REDIS_PASSWORD",
		"server.port":             "PORT",
		"server.environment":      "ENVIRONMENT",
		"server.rate_per_minute":  "RATE_PER_MINUTE",
	}
	for key, env := range bindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", env, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return cfg, cfg.validate()
}

func (c *Config) validate() error {
	type req struct {
		val  string
		name string
	}
	for _, r := range []req{
		{c.Payment.PayTo, "PAY_TO_ADDRESS"},
		{c.Payment.FacilitatorURL, "FACILITATOR_URL"},
		{c.Provider.BaseURL, "PROVIDER_BASE_URL"},
		{c.Provider.APIKey, "PROVIDER_API_KEY"},
		{c.Chain.RPCURL, "RPC_URL"},
	} {
		if r.val == "" {
			return fmt.Errorf("required config missing: %s", r.name)
		}
	}

	if !common.IsHexAddress(c.Payment.PayTo) {
		return fmt.Errorf("PAY_TO_ADDRESS is not a valid address: %s", c.Payment.PayTo)
	}
	if c.Payment.Network != "base" && c.Payment.Network != "base-sepolia" {
		return fmt.Errorf("unsupported PAYMENT_NETWORK: %s", c.Payment.Network)
	}
	if c.Payment.PriceCents <= 0 {
		return fmt.Errorf("PRICE_CENTS must be positive, got %d", c.Payment.PriceCents)
	}

	for _, u := range []req{
		{c.Payment.FacilitatorURL, "FACILITATOR_URL"},
		{c.Provider.BaseURL, "PROVIDER_BASE_URL"},
	} {
		if err := requireHTTPS(u.val); err != nil {
			return fmt.Errorf("%s: %w", u.name, err)
		}
	}
	return nil
}

func requireHTTPS(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid URL %q: %w", raw, err)
	}
	if u.Scheme != "https" {
		return fmt.Errorf("URL must be https, got %q", raw)
	}
	return nil
}
