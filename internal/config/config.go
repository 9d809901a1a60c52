package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"github.com/deenoize/crypto-p2p-ai/internal/adapter"
	"github.com/deenoize/crypto-p2p-ai/internal/engine"
	"github.com/deenoize/crypto-p2p-ai/internal/poller"
)

// Config holds all application configuration.
type Config struct {
	Env       string   `mapstructure:"env"`
	Exchanges []string `mapstructure:"exchanges"`
	Log       LogConfig
	Poll      PollConfig
	Pair      PairConfig
	Binance   BinanceConfig
	OKX       OKXConfig
	Filters   FiltersConfig
	Depth     DepthConfig
	Breaker   BreakerConfig
	Redis     RedisConfig
	Kafka     KafkaConfig
	Discord   DiscordConfig
	HTTP      HTTPConfig
	GRPC      GRPCConfig
}

// LogConfig holds logger settings.
type LogConfig struct {
	Level       string   `mapstructure:"level"`
	OutputPaths []string `mapstructure:"output_paths"`
}

// PollConfig holds polling cadence settings.
type PollConfig struct {
	IntervalSec    int `mapstructure:"interval_sec"`
	FetchTimeoutMs int `mapstructure:"fetch_timeout_ms"`
}

// PairConfig is the pair polled at startup.
type PairConfig struct {
	Asset          string   `mapstructure:"asset"`
	Fiat           string   `mapstructure:"fiat"`
	PaymentMethods []string `mapstructure:"payment_methods"`
	MerchantOnly   bool     `mapstructure:"merchant_only"`
}

// BinanceConfig holds Binance endpoint settings.
type BinanceConfig struct {
	BaseURL     string `mapstructure:"base_url"`
	SpotURL     string `mapstructure:"spot_url"`
	SpotEnabled bool   `mapstructure:"spot_enabled"`
	Rows        int    `mapstructure:"rows"`
}

// OKXConfig holds OKX endpoint settings.
type OKXConfig struct {
	BaseURL string `mapstructure:"base_url"`
}

// FiltersConfig holds opportunity filters. Amounts are decimal strings;
// an empty MaxAmount means no cap.
type FiltersConfig struct {
	MinSpreadPercent    float64  `mapstructure:"min_spread_percent"`
	MinAmount           string   `mapstructure:"min_amount"`
	MaxAmount           string   `mapstructure:"max_amount"`
	MinMerchantRating   float64  `mapstructure:"min_merchant_rating"`
	MinCompletedTrades  int64    `mapstructure:"min_completed_trades"`
	MinCompletionRate   float64  `mapstructure:"min_completion_rate"`
	PaymentMethods      []string `mapstructure:"payment_methods"`
	IncludeSameExchange bool     `mapstructure:"include_same_exchange"`

	// MaxPriceDeviationPercent of 0 disables the spot deviation filter.
	MaxPriceDeviationPercent float64 `mapstructure:"max_price_deviation_percent"`
}

// DepthConfig holds depth chart settings.
type DepthConfig struct {
	Buckets int `mapstructure:"buckets"`
}

// BreakerConfig holds per-source circuit breaker settings.
type BreakerConfig struct {
	FailureThreshold int `mapstructure:"failure_threshold"`
	CoolOffSec       int `mapstructure:"cool_off_sec"`
}

// RedisConfig holds Redis connection settings. An empty Addr disables the
// Redis writer.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// KafkaConfig holds the opportunity stream settings. No brokers disables it.
type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

// DiscordConfig holds alert settings. An empty WebhookURL disables alerts.
type DiscordConfig struct {
	WebhookURL       string  `mapstructure:"webhook_url"`
	MinSpreadPercent float64 `mapstructure:"min_spread_percent"`
}

// HTTPConfig holds the presentation server settings.
type HTTPConfig struct {
	Addr string `mapstructure:"addr"`
}

// GRPCConfig holds the health server settings. An empty Addr disables it.
type GRPCConfig struct {
	Addr string `mapstructure:"addr"`
}

// Load reads configuration from environment variables prefixed with
// P2PARB_, after loading an optional .env file. List values are
// comma-separated.
func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("P2PARB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("env", "development")
	v.SetDefault("exchanges", "binance,okx")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.output_paths", "stdout")

	v.SetDefault("poll.interval_sec", 15)
	v.SetDefault("poll.fetch_timeout_ms", 5000)

	v.SetDefault("pair.asset", "USDT")
	v.SetDefault("pair.fiat", "USD")
	v.SetDefault("pair.payment_methods", "")
	v.SetDefault("pair.merchant_only", false)

	v.SetDefault("binance.base_url", "https://p2p.binance.com")
	v.SetDefault("binance.spot_url", "https://api.binance.com")
	v.SetDefault("binance.spot_enabled", true)
	v.SetDefault("binance.rows", 20)

	v.SetDefault("okx.base_url", "https://www.okx.com")

	v.SetDefault("filters.min_spread_percent", 1.0)
	v.SetDefault("filters.min_amount", "0")
	v.SetDefault("filters.max_amount", "")
	v.SetDefault("filters.min_merchant_rating", 0.0)
	v.SetDefault("filters.min_completed_trades", 0)
	v.SetDefault("filters.min_completion_rate", 0.0)
	v.SetDefault("filters.payment_methods", "")
	v.SetDefault("filters.include_same_exchange", false)
	v.SetDefault("filters.max_price_deviation_percent", 0.0)

	v.SetDefault("depth.buckets", 12)

	v.SetDefault("breaker.failure_threshold", 3)
	v.SetDefault("breaker.cool_off_sec", 30)

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("kafka.brokers", "")
	v.SetDefault("kafka.topic", "p2p.opportunities")

	v.SetDefault("discord.webhook_url", "")
	v.SetDefault("discord.min_spread_percent", 2.0)

	v.SetDefault("http.addr", ":8080")
	v.SetDefault("grpc.addr", ":9090")

	cfg := &Config{}

	cfg.Env = v.GetString("env")
	cfg.Exchanges = splitList(v.GetString("exchanges"))

	cfg.Log = LogConfig{
		Level:       v.GetString("log.level"),
		OutputPaths: splitList(v.GetString("log.output_paths")),
	}

	cfg.Poll = PollConfig{
		IntervalSec:    v.GetInt("poll.interval_sec"),
		FetchTimeoutMs: v.GetInt("poll.fetch_timeout_ms"),
	}

	cfg.Pair = PairConfig{
		Asset:          strings.ToUpper(v.GetString("pair.asset")),
		Fiat:           strings.ToUpper(v.GetString("pair.fiat")),
		PaymentMethods: splitList(v.GetString("pair.payment_methods")),
		MerchantOnly:   v.GetBool("pair.merchant_only"),
	}

	cfg.Binance = BinanceConfig{
		BaseURL:     v.GetString("binance.base_url"),
		SpotURL:     v.GetString("binance.spot_url"),
		SpotEnabled: v.GetBool("binance.spot_enabled"),
		Rows:        v.GetInt("binance.rows"),
	}

	cfg.OKX = OKXConfig{
		BaseURL: v.GetString("okx.base_url"),
	}

	cfg.Filters = FiltersConfig{
		MinSpreadPercent:    v.GetFloat64("filters.min_spread_percent"),
		MinAmount:           v.GetString("filters.min_amount"),
		MaxAmount:           v.GetString("filters.max_amount"),
		MinMerchantRating:   v.GetFloat64("filters.min_merchant_rating"),
		MinCompletedTrades:  v.GetInt64("filters.min_completed_trades"),
		MinCompletionRate:   v.GetFloat64("filters.min_completion_rate"),
		PaymentMethods:      splitList(v.GetString("filters.payment_methods")),
		IncludeSameExchange: v.GetBool("filters.include_same_exchange"),

		MaxPriceDeviationPercent: v.GetFloat64("filters.max_price_deviation_percent"),
	}

	cfg.Depth = DepthConfig{
		Buckets: v.GetInt("depth.buckets"),
	}

	cfg.Breaker = BreakerConfig{
		FailureThreshold: v.GetInt("breaker.failure_threshold"),
		CoolOffSec:       v.GetInt("breaker.cool_off_sec"),
	}

	cfg.Redis = RedisConfig{
		Addr:     v.GetString("redis.addr"),
		Password: v.GetString("redis.password"),
		DB:       v.GetInt("redis.db"),
	}

	cfg.Kafka = KafkaConfig{
		Brokers: splitList(v.GetString("kafka.brokers")),
		Topic:   v.GetString("kafka.topic"),
	}

	cfg.Discord = DiscordConfig{
		WebhookURL:       v.GetString("discord.webhook_url"),
		MinSpreadPercent: v.GetFloat64("discord.min_spread_percent"),
	}

	cfg.HTTP = HTTPConfig{Addr: v.GetString("http.addr")}
	cfg.GRPC = GRPCConfig{Addr: v.GetString("grpc.addr")}

	if cfg.Pair.Asset == "" || cfg.Pair.Fiat == "" {
		return nil, fmt.Errorf("config: pair.asset and pair.fiat are required")
	}
	return cfg, nil
}

// PairSpec returns the startup pair.
func (c *Config) PairSpec() adapter.PairSpec {
	return adapter.PairSpec{
		Asset:          c.Pair.Asset,
		Fiat:           c.Pair.Fiat,
		PaymentMethods: c.Pair.PaymentMethods,
		MerchantOnly:   c.Pair.MerchantOnly,
	}
}

// EngineFilters parses and validates the opportunity filters.
func (f FiltersConfig) EngineFilters() (engine.Filters, error) {
	minAmount, err := parseAmount(f.MinAmount)
	if err != nil {
		return engine.Filters{}, fmt.Errorf("config: filters.min_amount: %w", err)
	}
	maxAmount, err := parseAmount(f.MaxAmount)
	if err != nil {
		return engine.Filters{}, fmt.Errorf("config: filters.max_amount: %w", err)
	}

	out := engine.Filters{
		MinSpreadPercent:   f.MinSpreadPercent,
		MinAmount:          minAmount,
		MaxAmount:          maxAmount,
		MinMerchantRating:  f.MinMerchantRating,
		MinCompletedTrades: f.MinCompletedTrades,
		MinCompletionRate:  f.MinCompletionRate,
		PaymentMethods:     f.PaymentMethods,

		MaxPriceDeviationPercent: f.MaxPriceDeviationPercent,
	}
	if err := out.Validate(); err != nil {
		return engine.Filters{}, fmt.Errorf("config: %w", err)
	}
	return out, nil
}

// PollerConfig assembles the poller settings.
func (c *Config) PollerConfig() (poller.Config, error) {
	filters, err := c.Filters.EngineFilters()
	if err != nil {
		return poller.Config{}, err
	}
	return poller.Config{
		Interval:            time.Duration(c.Poll.IntervalSec) * time.Second,
		FetchTimeout:        time.Duration(c.Poll.FetchTimeoutMs) * time.Millisecond,
		Buckets:             c.Depth.Buckets,
		Filters:             filters,
		IncludeSameExchange: c.Filters.IncludeSameExchange,
		Breaker: adapter.BreakerConfig{
			FailureThreshold: c.Breaker.FailureThreshold,
			CoolOff:          time.Duration(c.Breaker.CoolOffSec) * time.Second,
		},
	}, nil
}

func parseAmount(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(s)
}

// splitList splits a comma-separated value, dropping blanks.
func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
