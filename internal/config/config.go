package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"tradejournal.app/internal/risk"
)

// Config holds every runtime setting of the admin gateway.
type Config struct {
	HTTPAddr        string        `mapstructure:"http_addr"`
	GRPCAddr        string        `mapstructure:"grpc_addr"`
	PGDSN           string        `mapstructure:"pg_dsn"`
	RedisAddr       string        `mapstructure:"redis_addr"`
	LogLevel        string        `mapstructure:"log_level"`
	LogFormat       string        `mapstructure:"log_format"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`

	TokenSecret string        `mapstructure:"token_secret"`
	TokenIssuer string        `mapstructure:"token_issuer"`
	UnlockTTL   time.Duration `mapstructure:"unlock_ttl"`

	// ChallengeSecret is the shared fallback secret; per-admin bcrypt hashes take precedence.
	ChallengeSecret      string        `mapstructure:"challenge_secret"`
	ChallengeMaxAttempts int           `mapstructure:"challenge_max_attempts"`
	ChallengeLockout     time.Duration `mapstructure:"challenge_lockout"`

	IPIntelURL     string        `mapstructure:"ipintel_url"`
	IPIntelToken   string        `mapstructure:"ipintel_token"`
	IPIntelTimeout time.Duration `mapstructure:"ipintel_timeout"`

	RateBurst         int           `mapstructure:"rate_burst"`
	RatePerSec        int           `mapstructure:"rate_per_sec"`
	ChallengeRateMax  int           `mapstructure:"challenge_rate_max"`
	ChallengeRateSpan time.Duration `mapstructure:"challenge_rate_window"`
	MaxBodyBytes      int64         `mapstructure:"max_body_bytes"`
	AllowedOrigins    []string      `mapstructure:"allowed_origins"`
	StreamRecheck     time.Duration `mapstructure:"stream_role_recheck"`

	// TrustedProxies are the CIDRs or addresses whose X-Forwarded-For is honoured.
	TrustedProxies []string `mapstructure:"trusted_proxies"`

	RiskWeights risk.Weights `mapstructure:"risk_weights"`
}

// Load reads defaults, an optional admingate.yaml and ADMINGATE_* environment variables.
func Load() (*Config, error) {
	return LoadFile("")
}

// LoadFile is Load with an explicit config file, which must then exist.
func LoadFile(path string) (*Config, error) {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("admingate")
		v.SetConfigType("yaml")
		v.AddConfigPath("/etc/admingate/")
		v.AddConfigPath(".")
	}

	setDefaults(v)

	v.SetEnvPrefix("ADMINGATE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("http_addr", ":8080")
	v.SetDefault("grpc_addr", ":9090")
	v.SetDefault("pg_dsn", "")
	v.SetDefault("redis_addr", "")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "json")
	v.SetDefault("shutdown_timeout", 10*time.Second)
	v.SetDefault("token_secret", "")
	v.SetDefault("token_issuer", "tradejournal")
	v.SetDefault("unlock_ttl", 30*time.Minute)
	v.SetDefault("challenge_secret", "")
	v.SetDefault("challenge_max_attempts", 3)
	v.SetDefault("challenge_lockout", 10*time.Minute)
	v.SetDefault("ipintel_url", "")
	v.SetDefault("ipintel_token", "")
	v.SetDefault("ipintel_timeout", 2*time.Second)
	v.SetDefault("rate_burst", 20)
	v.SetDefault("rate_per_sec", 10)
	v.SetDefault("challenge_rate_max", 10)
	v.SetDefault("challenge_rate_window", time.Minute)
	v.SetDefault("max_body_bytes", 1<<20)
	v.SetDefault("allowed_origins", []string{})
	v.SetDefault("stream_role_recheck", 30*time.Second)
	v.SetDefault("trusted_proxies", []string{})

	w := risk.DefaultWeights()
	v.SetDefault("risk_weights.vpn", w.VPN)
	v.SetDefault("risk_weights.proxy", w.Proxy)
	v.SetDefault("risk_weights.tor", w.Tor)
	v.SetDefault("risk_weights.hosting", w.Hosting)
	v.SetDefault("risk_weights.timezone_mismatch", w.TimezoneMismatch)
	v.SetDefault("risk_weights.timezone_consistent", w.TimezoneConsistent)
	v.SetDefault("risk_weights.language_mismatch", w.LanguageMismatch)
	v.SetDefault("risk_weights.language_consistent", w.LanguageConsistent)
}

// Validate rejects settings the gateway cannot run safely with.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.TokenSecret) == "" {
		return errors.New("config: token_secret is required")
	}
	if c.ChallengeMaxAttempts <= 0 {
		return errors.New("config: challenge_max_attempts must be > 0")
	}
	if c.ChallengeLockout <= 0 {
		return errors.New("config: challenge_lockout must be > 0")
	}
	if c.UnlockTTL <= 0 {
		return errors.New("config: unlock_ttl must be > 0")
	}
	if c.RateBurst <= 0 || c.RatePerSec <= 0 {
		return errors.New("config: rate_burst and rate_per_sec must be > 0")
	}
	if c.ChallengeRateMax <= 0 || c.ChallengeRateSpan <= 0 {
		return errors.New("config: challenge rate limit must be > 0")
	}
	if c.MaxBodyBytes <= 0 {
		return errors.New("config: max_body_bytes must be > 0")
	}
	if c.StreamRecheck <= 0 {
		return errors.New("config: stream_role_recheck must be > 0")
	}
	if err := c.RiskWeights.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}
