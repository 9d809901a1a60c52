package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/deenoize/crypto-p2p-ai/internal/adapter"
	"github.com/deenoize/crypto-p2p-ai/internal/adapter/binance"
	"github.com/deenoize/crypto-p2p-ai/internal/adapter/okx"
	"github.com/deenoize/crypto-p2p-ai/internal/config"
	"github.com/deenoize/crypto-p2p-ai/internal/engine"
	"github.com/deenoize/crypto-p2p-ai/internal/health"
	"github.com/deenoize/crypto-p2p-ai/internal/logger"
	"github.com/deenoize/crypto-p2p-ai/internal/poller"
	"github.com/deenoize/crypto-p2p-ai/internal/publish"
	"github.com/deenoize/crypto-p2p-ai/internal/server"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(logger.Options{
		Level:       cfg.Log.Level,
		OutputPaths: cfg.Log.OutputPaths,
		Development: cfg.Env == "development",
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, log); err != nil {
		log.Error(err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, log *logger.Logger) error {
	log.Info("p2parb starting", logger.F("env", cfg.Env), logger.F("pair", cfg.PairSpec().String()))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	httpClient := &http.Client{Timeout: time.Duration(cfg.Poll.FetchTimeoutMs) * time.Millisecond}

	sources, err := buildSources(cfg, httpClient, log)
	if err != nil {
		return err
	}

	var spot poller.SpotQuoter
	if cfg.Binance.SpotEnabled {
		spot = binance.NewSpotQuoter(cfg.Binance.SpotURL, httpClient)
	}

	pollerCfg, err := cfg.PollerConfig()
	if err != nil {
		return err
	}
	p, err := poller.New(pollerCfg, sources, spot, engine.NewMemoryIDStore(), log)
	if err != nil {
		return err
	}

	bc := publish.NewBroadcaster(p.Results(), log)
	pairs := make(chan adapter.PairSpec)
	srv := server.New(bc, pairs, log)

	var wg sync.WaitGroup
	spawn := func(fn func()) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn()
		}()
	}

	snapshots, _ := bc.Subscribe("", 4)
	spawn(func() { srv.Track(ctx, snapshots) })

	if cfg.GRPC.Addr != "" {
		hs, err := health.New(cfg.GRPC.Addr, log)
		if err != nil {
			return err
		}
		feed, _ := bc.Subscribe("", 4)
		spawn(func() { hs.Observe(ctx, feed) })
		spawn(func() {
			if err := hs.Serve(); err != nil {
				log.Error(err)
			}
		})
		spawn(func() {
			<-ctx.Done()
			hs.GracefulStop()
		})
	}

	if cfg.Redis.Addr != "" {
		pingCtx, cancelPing := context.WithTimeout(ctx, 5*time.Second)
		client, closeRedis, err := publish.NewRedisClient(pingCtx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		cancelPing()
		if err != nil {
			log.Warn("redis unavailable, continuing without cache", logger.F("reason", err.Error()))
		} else {
			defer closeRedis()
			feed, _ := bc.Subscribe("", 16)
			rw := publish.NewRedisWriter(client, feed, log)
			spawn(func() { rw.Run(ctx) })
		}
	}

	if len(cfg.Kafka.Brokers) > 0 {
		feed, _ := bc.Subscribe("", 16)
		kp := publish.NewKafkaPublisher(publish.NewKafkaWriter(cfg.Kafka.Brokers, cfg.Kafka.Topic), feed, log)
		spawn(func() { kp.Run(ctx) })
	}

	if cfg.Discord.WebhookURL != "" {
		hook, err := publish.NewWebhook(cfg.Discord.WebhookURL)
		if err != nil {
			return fmt.Errorf("discord webhook: %w", err)
		}
		defer hook.Close(context.Background())
		feed, _ := bc.Subscribe("", 16)
		alerter := publish.NewAlerter(hook, feed, cfg.Discord.MinSpreadPercent, log)
		spawn(func() { alerter.Run(ctx) })
	}

	spawn(func() { bc.Run(ctx) })
	spawn(func() { p.Run(ctx, cfg.PairSpec(), pairs) })

	err = srv.ListenAndServe(ctx, cfg.HTTP.Addr)
	cancel()

	wg.Wait()
	log.Info("p2parb shut down")
	if err != nil {
		return fmt.Errorf("http server on %s: %w", cfg.HTTP.Addr, err)
	}
	return nil
}

func buildSources(cfg *config.Config, doer adapter.HTTPDoer, log *logger.Logger) ([]adapter.Source, error) {
	var sources []adapter.Source
	for _, name := range cfg.Exchanges {
		switch adapter.Exchange(name) {
		case adapter.ExchangeBinance:
			sources = append(sources, binance.NewClient(binance.Config{BaseURL: cfg.Binance.BaseURL, Rows: cfg.Binance.Rows}, doer, log))
		case adapter.ExchangeOKX:
			sources = append(sources, okx.NewClient(okx.Config{BaseURL: cfg.OKX.BaseURL}, doer, log))
		default:
			return nil, fmt.Errorf("unknown exchange %q", name)
		}
	}
	if len(sources) == 0 {
		return nil, fmt.Errorf("no exchanges configured")
	}
	return sources, nil
}
