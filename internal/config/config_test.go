package config

import (
	"errors"
	"os"
	"testing"
	"time"

	"github.com/deenoize/crypto-p2p-ai/internal/engine"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Env != "development" {
		t.Errorf("expected env=development, got %s", cfg.Env)
	}

	if len(cfg.Exchanges) != 2 || cfg.Exchanges[0] != "binance" || cfg.Exchanges[1] != "okx" {
		t.Errorf("unexpected exchanges: %v", cfg.Exchanges)
	}

	if cfg.PairSpec().Key() != "USDT-USD" {
		t.Errorf("unexpected default pair: %s", cfg.PairSpec().Key())
	}

	if cfg.Poll.IntervalSec != 15 {
		t.Errorf("expected poll interval 15, got %d", cfg.Poll.IntervalSec)
	}

	if cfg.Redis.Addr != "localhost:6379" {
		t.Errorf("expected redis addr localhost:6379, got %s", cfg.Redis.Addr)
	}

	if len(cfg.Kafka.Brokers) != 0 || cfg.Discord.WebhookURL != "" {
		t.Errorf("kafka and discord should be disabled by default")
	}

	pc, err := cfg.PollerConfig()
	if err != nil {
		t.Fatalf("PollerConfig: %v", err)
	}
	if pc.Interval != 15*time.Second || pc.FetchTimeout != 5*time.Second || pc.Buckets != 12 {
		t.Errorf("unexpected poller config: %+v", pc)
	}
	if pc.Filters.MinSpreadPercent != 1.0 || !pc.Filters.MaxAmount.IsZero() {
		t.Errorf("unexpected filters: %+v", pc.Filters)
	}
	if pc.Breaker.FailureThreshold != 3 || pc.Breaker.CoolOff != 30*time.Second {
		t.Errorf("unexpected breaker: %+v", pc.Breaker)
	}
}

func TestLoadFromEnv(t *testing.T) {
	os.Setenv("P2PARB_ENV", "production")
	os.Setenv("P2PARB_PAIR_ASSET", "btc")
	os.Setenv("P2PARB_PAIR_FIAT", "ngn")
	os.Setenv("P2PARB_PAIR_PAYMENT_METHODS", "BANK, Wise ,")
	os.Setenv("P2PARB_FILTERS_MAX_AMOUNT", "2500.50")
	os.Setenv("P2PARB_KAFKA_BROKERS", "kafka-1:9092,kafka-2:9092")
	os.Setenv("P2PARB_FILTERS_MAX_PRICE_DEVIATION_PERCENT", "7.5")
	defer os.Unsetenv("P2PARB_ENV")
	defer os.Unsetenv("P2PARB_PAIR_ASSET")
	defer os.Unsetenv("P2PARB_PAIR_FIAT")
	defer os.Unsetenv("P2PARB_PAIR_PAYMENT_METHODS")
	defer os.Unsetenv("P2PARB_FILTERS_MAX_AMOUNT")
	defer os.Unsetenv("P2PARB_KAFKA_BROKERS")
	defer os.Unsetenv("P2PARB_FILTERS_MAX_PRICE_DEVIATION_PERCENT")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Env != "production" {
		t.Errorf("expected env=production, got %s", cfg.Env)
	}

	pair := cfg.PairSpec()
	if pair.Key() != "BTC-NGN" {
		t.Errorf("expected BTC-NGN, got %s", pair.Key())
	}
	if len(pair.PaymentMethods) != 2 || pair.PaymentMethods[1] != "Wise" {
		t.Errorf("unexpected payment methods: %q", pair.PaymentMethods)
	}

	if len(cfg.Kafka.Brokers) != 2 {
		t.Errorf("expected 2 brokers, got %v", cfg.Kafka.Brokers)
	}

	f, err := cfg.Filters.EngineFilters()
	if err != nil {
		t.Fatalf("EngineFilters: %v", err)
	}
	if f.MaxAmount.String() != "2500.5" {
		t.Errorf("expected max amount 2500.5, got %s", f.MaxAmount)
	}
	if f.MaxPriceDeviationPercent != 7.5 {
		t.Errorf("expected max price deviation 7.5, got %v", f.MaxPriceDeviationPercent)
	}
}

func TestEngineFilters_Invalid(t *testing.T) {
	if _, err := (FiltersConfig{MinAmount: "lots"}).EngineFilters(); err == nil {
		t.Error("expected parse error for non-numeric amount")
	}

	_, err := (FiltersConfig{MinAmount: "500", MaxAmount: "100"}).EngineFilters()
	if !errors.Is(err, engine.ErrInvertedBounds) {
		t.Errorf("expected ErrInvertedBounds, got %v", err)
	}

	_, err = (FiltersConfig{MaxPriceDeviationPercent: -1}).EngineFilters()
	if !errors.Is(err, engine.ErrNegativeThreshold) {
		t.Errorf("expected ErrNegativeThreshold, got %v", err)
	}

	_, err = (FiltersConfig{MinMerchantRating: 1.2}).EngineFilters()
	if !errors.Is(err, engine.ErrRatingOutOfRange) {
		t.Errorf("expected ErrRatingOutOfRange, got %v", err)
	}
}
