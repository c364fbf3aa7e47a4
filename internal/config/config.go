// Package config loads monitor settings from a YAML file and WM_-prefixed
// environment variables, and reloads them when the file changes.
package config

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	sol "github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. WM_MINT or
// WM_RATE_LIMIT_RATE.
const EnvPrefix = "WM"

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid config")

// Endpoint is one upstream provider. WSURL defaults to RPCURL with the
// scheme switched to ws(s).
type Endpoint struct {
	Name    string            `mapstructure:"name"`
	RPCURL  string            `mapstructure:"rpc_url"`
	WSURL   string            `mapstructure:"ws_url"`
	Headers map[string]string `mapstructure:"headers"`
}

type PoolConfig struct {
	Size     int    `mapstructure:"size"`
	Strategy string `mapstructure:"strategy"`
}

type RateLimitConfig struct {
	Rate          int           `mapstructure:"rate"`
	Window        time.Duration `mapstructure:"window"`
	MaxIterations int           `mapstructure:"max_iterations"`
}

type RetryConfig struct {
	MaxRetries int           `mapstructure:"max_retries"`
	BaseDelay  time.Duration `mapstructure:"base_delay"`
	MaxJitter  time.Duration `mapstructure:"max_jitter"`
}

type HoldersConfig struct {
	TTL            time.Duration `mapstructure:"ttl"`
	TopN           int           `mapstructure:"top_n"`
	MinBalance     string        `mapstructure:"min_balance"`
	ResyncInterval time.Duration `mapstructure:"resync_interval"`
}

type SubscriptionConfig struct {
	BatchSize  int           `mapstructure:"batch_size"`
	BatchPause time.Duration `mapstructure:"batch_pause"`
}

type PipelineConfig struct {
	SignatureLimit int    `mapstructure:"signature_limit"`
	Commitment     string `mapstructure:"commitment"`
}

type StorageConfig struct {
	PostgresDSN   string `mapstructure:"postgres_dsn"`
	ClickhouseDSN string `mapstructure:"clickhouse_dsn"`
	Migrate       bool   `mapstructure:"migrate"`
}

type RedisConfig struct {
	Addr         string `mapstructure:"addr"`
	Password     string `mapstructure:"password"`
	DB           int    `mapstructure:"db"`
	MinIdleConns int    `mapstructure:"min_idle_conns"`
	PoolSize     int    `mapstructure:"pool_size"`
	Channel      string `mapstructure:"channel"`
	RecentLimit  int    `mapstructure:"recent_limit"`
}

type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

type StatusConfig struct {
	Addr string `mapstructure:"addr"`
}

type LogConfig struct {
	Level      string `mapstructure:"level"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// Config is the full monitor configuration.
type Config struct {
	Mint      string        `mapstructure:"mint"`
	Addresses []string      `mapstructure:"addresses"`
	Endpoints []Endpoint    `mapstructure:"endpoints"`
	Timeout   time.Duration `mapstructure:"timeout"`

	Pool         PoolConfig         `mapstructure:"pool"`
	RateLimit    RateLimitConfig    `mapstructure:"rate_limit"`
	Retry        RetryConfig        `mapstructure:"retry"`
	Holders      HoldersConfig      `mapstructure:"holders"`
	Subscription SubscriptionConfig `mapstructure:"subscription"`
	Pipeline     PipelineConfig     `mapstructure:"pipeline"`
	Storage      StorageConfig      `mapstructure:"storage"`
	Redis        RedisConfig        `mapstructure:"redis"`
	Kafka        KafkaConfig        `mapstructure:"kafka"`
	Status       StatusConfig       `mapstructure:"status"`
	Log          LogConfig          `mapstructure:"log"`
}

// setDefaults registers a default for every key so environment overrides
// are picked up by Unmarshal.
func setDefaults(v *viper.Viper) {
	v.SetDefault("mint", "")
	v.SetDefault("addresses", []string{})
	v.SetDefault("endpoints", []map[string]interface{}{})
	v.SetDefault("rpc_url", "")
	v.SetDefault("ws_url", "")
	v.SetDefault("timeout", 60*time.Second)

	v.SetDefault("pool.size", 3)
	v.SetDefault("pool.strategy", "random")

	v.SetDefault("rate_limit.rate", 8)
	v.SetDefault("rate_limit.window", time.Second)
	v.SetDefault("rate_limit.max_iterations", 100)

	v.SetDefault("retry.max_retries", 3)
	v.SetDefault("retry.base_delay", time.Second)
	v.SetDefault("retry.max_jitter", time.Second)

	v.SetDefault("holders.ttl", 30*time.Second)
	v.SetDefault("holders.top_n", 100)
	v.SetDefault("holders.min_balance", "0")
	v.SetDefault("holders.resync_interval", 5*time.Minute)

	v.SetDefault("subscription.batch_size", 5)
	v.SetDefault("subscription.batch_pause", 200*time.Millisecond)

	v.SetDefault("pipeline.signature_limit", 5)
	v.SetDefault("pipeline.commitment", "confirmed")

	v.SetDefault("storage.postgres_dsn", "")
	v.SetDefault("storage.clickhouse_dsn", "")
	v.SetDefault("storage.migrate", true)

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.min_idle_conns", 2)
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.channel", "")
	v.SetDefault("redis.recent_limit", 50)

	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.topic", "")

	v.SetDefault("status.addr", ":9090")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 500)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age_days", 28)
	v.SetDefault("log.compress", false)
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)
	return v
}

// decode unmarshals v into a Config. A single endpoint may be given with
// the top-level rpc_url/ws_url keys (or WM_RPC_URL/WM_WS_URL).
func decode(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if rpcURL := v.GetString("rpc_url"); rpcURL != "" && len(cfg.Endpoints) == 0 {
		cfg.Endpoints = []Endpoint{{Name: "default", RPCURL: rpcURL, WSURL: v.GetString("ws_url")}}
	}
	for i := range cfg.Endpoints {
		e := &cfg.Endpoints[i]
		if e.Name == "" {
			e.Name = fmt.Sprintf("endpoint-%d", i)
		}
		if e.WSURL == "" {
			e.WSURL = DeriveWSURL(e.RPCURL)
		}
	}
	return cfg, nil
}

// DeriveWSURL maps an http(s) RPC URL to the matching ws(s) URL.
func DeriveWSURL(rpcURL string) string {
	switch {
	case strings.HasPrefix(rpcURL, "https://"):
		return "wss://" + strings.TrimPrefix(rpcURL, "https://")
	case strings.HasPrefix(rpcURL, "http://"):
		return "ws://" + strings.TrimPrefix(rpcURL, "http://")
	default:
		return rpcURL
	}
}

// Validate checks required keys and value ranges.
func (c *Config) Validate() error {
	var errs []error
	if _, err := sol.PublicKeyFromBase58(c.Mint); err != nil {
		errs = append(errs, fmt.Errorf("mint %q: %w", c.Mint, err))
	}
	for _, addr := range c.Addresses {
		if _, err := sol.PublicKeyFromBase58(addr); err != nil {
			errs = append(errs, fmt.Errorf("address %q: %w", addr, err))
		}
	}
	if len(c.Endpoints) == 0 {
		errs = append(errs, errors.New("at least one endpoint is required"))
	}
	for _, e := range c.Endpoints {
		if e.RPCURL == "" {
			errs = append(errs, fmt.Errorf("endpoint %s: rpc_url is required", e.Name))
		}
	}
	if c.Pool.Size <= 0 {
		errs = append(errs, fmt.Errorf("pool.size must be positive, got %d", c.Pool.Size))
	}
	if c.Pool.Strategy != "random" && c.Pool.Strategy != "round_robin" {
		errs = append(errs, fmt.Errorf("pool.strategy must be random or round_robin, got %q", c.Pool.Strategy))
	}
	if c.RateLimit.Rate <= 0 || c.RateLimit.Window <= 0 {
		errs = append(errs, errors.New("rate_limit.rate and rate_limit.window must be positive"))
	}
	if c.Retry.MaxRetries < 0 {
		errs = append(errs, errors.New("retry.max_retries must not be negative"))
	}
	if c.Holders.TTL <= 0 || c.Holders.TopN <= 0 {
		errs = append(errs, errors.New("holders.ttl and holders.top_n must be positive"))
	}
	if _, err := c.MinBalance(); err != nil {
		errs = append(errs, err)
	}
	if c.Subscription.BatchSize <= 0 {
		errs = append(errs, errors.New("subscription.batch_size must be positive"))
	}
	if c.Pipeline.SignatureLimit <= 0 {
		errs = append(errs, errors.New("pipeline.signature_limit must be positive"))
	}
	switch c.Pipeline.Commitment {
	case "processed", "confirmed", "finalized":
	default:
		errs = append(errs, fmt.Errorf("pipeline.commitment %q is not supported", c.Pipeline.Commitment))
	}
	if _, err := logrus.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
	}
	return nil
}

// MinBalance parses holders.min_balance.
func (c *Config) MinBalance() (decimal.Decimal, error) {
	if c.Holders.MinBalance == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(c.Holders.MinBalance)
	if err != nil {
		return decimal.Zero, fmt.Errorf("holders.min_balance %q: %w", c.Holders.MinBalance, err)
	}
	if d.IsNegative() {
		return decimal.Zero, fmt.Errorf("holders.min_balance %q is negative", c.Holders.MinBalance)
	}
	return d, nil
}

// Load reads path (when not empty), applies environment overrides and
// validates the result.
func Load(path string) (*Config, error) {
	v := newViper()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	cfg, err := decode(v)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Loader keeps the current Config and swaps it when the file changes.
type Loader struct {
	v   *viper.Viper
	log *logrus.Entry

	mu        sync.RWMutex
	cfg       *Config
	listeners []func(old, updated *Config)
}

// NewLoader loads path and keeps the viper instance for watching.
func NewLoader(path string) (*Loader, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: config path is required", ErrInvalid)
	}
	v := newViper()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	cfg, err := decode(v)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	l := &Loader{v: v, cfg: cfg, log: logrus.WithField("component", "config")}
	l.log.WithFields(logrus.Fields{
		"file":      path,
		"mint":      cfg.Mint,
		"endpoints": len(cfg.Endpoints),
	}).Info("load config success")
	return l, nil
}

// Config returns the current configuration.
func (l *Loader) Config() *Config {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.cfg
}

// OnChange registers fn to run after every successful reload.
func (l *Loader) OnChange(fn func(old, updated *Config)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.listeners = append(l.listeners, fn)
}

// Watch starts watching the config file.
func (l *Loader) Watch() {
	l.v.OnConfigChange(func(e fsnotify.Event) {
		l.log.WithField("change", e.String()).Info("config change and reload it")
		if err := l.Reload(); err != nil {
			l.log.WithError(err).Error("config reload failed")
		}
	})
	l.v.WatchConfig()
}

// Reload re-reads the file. An invalid file keeps the previous Config.
func (l *Loader) Reload() error {
	if err := l.v.ReadInConfig(); err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	cfg, err := decode(l.v)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	l.mu.Lock()
	old := l.cfg
	l.cfg = cfg
	listeners := append([]func(old, updated *Config){}, l.listeners...)
	l.mu.Unlock()

	for _, fn := range listeners {
		fn(old, cfg)
	}
	l.log.Info("config reload success")
	return nil
}
