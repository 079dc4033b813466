// cmd/feedrouter is the market data router and paper trading service.
//
// Starts the venue ingestors, the aggregator and candle table, the
// websocket gateway, the paper engine with its matcher, the HTTP API
// and the metrics listener, plus the optional archive/journal/mirror
// side-channels.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"feedrouter/config"
	"feedrouter/internal/api"
	"feedrouter/internal/auth"
	"feedrouter/internal/bus"
	"feedrouter/internal/feed"
	"feedrouter/internal/gateway"
	"feedrouter/internal/logging"
	"feedrouter/internal/market"
	"feedrouter/internal/metrics"
	"feedrouter/internal/model"
	"feedrouter/internal/notify"
	"feedrouter/internal/paper"
	redisstore "feedrouter/internal/store/redis"
	"feedrouter/internal/store/snapshot"
	"feedrouter/internal/store/sqlite"
)

const (
	eventBufferSize  = 4096
	matcherQueueSize = 1024
	closedBufferSize = 1024
)

func main() {
	var cfgPath string

	root := &cobra.Command{
		Use:   "feedrouter",
		Short: "Multi-venue market data router with paper trading",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cfgPath)
		},
		SilenceUsage: true,
	}
	root.Flags().StringVar(&cfgPath, "config", "config.yaml", "path to YAML config file")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cfgPath string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	log := logging.Setup(cfg.Log.Level, cfg.Log.Pretty)
	log.Info().Str("config", cfgPath).Strs("venues", cfg.Venues).Strs("symbols", cfg.Symbols).Msg("starting feedrouter")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	m := metrics.New()
	latency := metrics.NewLatencyTracker(10000)
	health := metrics.NewHealthStatus(cfg.Venues, latency)

	metricsSrv := metrics.NewServer(cfg.MetricsAddr, health, logging.Component(log, "metrics"))
	metricsSrv.Start()

	// Paper engine over the persisted snapshot.
	store := snapshot.New(cfg.SnapshotPath)
	doc, err := store.Load()
	if err != nil {
		return fmt.Errorf("load snapshot: %w", err)
	}
	engine := paper.NewEngine(doc, cfg.Symbols, store, logging.Component(log, "paper"))
	engine.OnSnapshot = func(err error) {
		if err != nil {
			m.SnapshotErrors.Inc()
			health.SetSnapshotOK(false)
			return
		}
		m.SnapshotWrites.Inc()
		health.SetSnapshotOK(true)
	}

	var journal *paper.Journal
	if cfg.Journal.Enabled {
		journal, err = paper.OpenJournal(cfg.Journal.Path)
		if err != nil {
			return fmt.Errorf("open fills journal: %w", err)
		}
		defer journal.Close()
		log.Info().Str("path", cfg.Journal.Path).Msg("fills journal opened")
	}

	notifier := buildNotifier(cfg, log)
	engine.OnFill = func(order model.Order) {
		m.OrdersFilled.Inc()
		if err := journal.Record(order); err != nil {
			log.Error().Err(err).Str("token_id", order.TokenID).Msg("journal write failed")
		}
		notifier.Dispatch(notify.FromOrder(order))
	}

	// Gateway hub.
	tokens := auth.NewTokenIssuer(cfg.Auth.SecretKey, cfg.Auth.TokenTTLMinutes)
	hub := gateway.NewHub(tokens, logging.Component(log, "gateway"))
	hub.OnFrameSent = func(stream string) { m.FramesSent.WithLabelValues(stream).Inc() }
	hub.OnFrameDropped = func(stream string) { m.FramesDropped.WithLabelValues(stream).Inc() }
	hub.OnClientCount = func(n int) { m.WSClients.Set(float64(n)) }
	hub.ObserveFanout = func(d time.Duration) {
		m.FanoutLatency.Observe(d.Seconds())
		latency.Record(float64(d.Microseconds()) / 1000.0)
	}

	// Optional Redis mirror alongside the hub.
	pub := market.MultiPublisher{countingPublisher{m}, hub}
	var mirror *redisstore.Mirror
	if cfg.Mirror.Enabled {
		mirror, err = redisstore.Open(cfg.Mirror.Addr, cfg.Mirror.Password, cfg.Mirror.DB, logging.Component(log, "mirror"))
		if err != nil {
			log.Warn().Err(err).Msg("continuing without redis")
		} else {
			defer mirror.Close()
			mirror.OnPublished = m.MirrorPublished.Inc
			mirror.OnDropped = m.MirrorDropped.Inc
			mirror.OnBuffered = m.MirrorBuffered.Inc
			pub = append(pub, mirror)
			go mirror.Run(ctx)
		}
	}

	// Candle table with the closed-candle fan-out to archive + mirror.
	table := market.NewCandleTable(cfg.Intervals, pub, logging.Component(log, "candles"))
	closedBus := bus.New[model.ClosedCandle](closedBufferSize)
	table.OnClosed = closedBus.Publish

	var archive *sqlite.Archive
	if cfg.Archive.Enabled {
		archive, err = sqlite.Open(cfg.Archive.Path, logging.Component(log, "archive"))
		if err != nil {
			return fmt.Errorf("open candle archive: %w", err)
		}
		defer archive.Close()
		go archive.Run(ctx, closedBus.Subscribe())
	}
	if mirror != nil {
		go func(in <-chan model.ClosedCandle) {
			for cc := range in {
				mirror.ArchiveClosed(cc)
			}
		}(closedBus.Subscribe())
	}

	// Matcher between aggregator and engine.
	matcher := paper.NewMatcher(engine, matcherQueueSize)
	go matcher.Run(ctx)

	agg := market.NewAggregator(table, pub, logging.Component(log, "aggregator"))
	agg.OnBestTouch = matcher.Enqueue

	// Venue ingestors.
	events := make(chan model.FeedEvent, eventBufferSize)
	runner := feed.NewRunner(logging.Component(log, "feed"))
	runner.OnReconnect = func(venue string) { m.Reconnects.WithLabelValues(venue).Inc() }
	runner.OnEvent = func(venue string, kind model.EventKind) {
		m.EventsIngested.WithLabelValues(venue, kind.String()).Inc()
		health.MarkEvent()
	}
	runner.OnDrop = func(string) { m.IngestDrops.Inc() }
	runner.OnLive = health.SetVenueLive

	venues := make([]feed.Venue, 0, len(cfg.Venues))
	for _, name := range cfg.Venues {
		v, err := feed.New(name, cfg.VenueConfigFor(name), log)
		if err != nil {
			return err
		}
		venues = append(venues, v)
	}

	go table.RunTicker(ctx)
	go agg.Run(ctx, events)
	runner.Start(ctx, venues, cfg.Symbols, events)

	// HTTP surface.
	apiSrv := api.NewServer(engine, tokens, hub, cfg.Symbols,
		cfg.RateLimit.PerSecond, cfg.RateLimit.Burst,
		api.Options{Journal: journal, Archive: archive},
		logging.Component(log, "api"))
	apiSrv.OnOrderPlaced = m.OrdersPlaced.Inc
	apiSrv.OnOrderCancelled = m.OrdersCancelled.Inc
	apiSrv.OnOrderRejected = m.OrdersRejected.Inc

	httpSrv := &http.Server{Addr: cfg.ListenAddr, Handler: apiSrv.Router()}
	go func() {
		log.Info().Str("addr", cfg.ListenAddr).Msg("http server listening")
		if err := httpSrv.ListenAndServe(); err != http.ErrServerClosed {
			log.Error().Err(err).Msg("http server error")
			stop()
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	httpSrv.Shutdown(shutdownCtx)
	metricsSrv.Stop(shutdownCtx)
	return nil
}

// countingPublisher feeds the publish counters without delivering
// anywhere.
type countingPublisher struct {
	m *metrics.Metrics
}

func (c countingPublisher) PublishBestTouch(model.BestTouch) {}
func (c countingPublisher) PublishTrade(model.TradeEvent)    {}
func (c countingPublisher) PublishKline(model.KlineEvent) {
	c.m.KlinesTotal.Inc()
}

// buildNotifier assembles the fill-alert fan-out from config. The log
// backend is always on; webhook and telegram join when configured.
func buildNotifier(cfg *config.Config, log zerolog.Logger) *notify.Multi {
	nlog := logging.Component(log, "notify")
	backends := []notify.Notifier{&notify.LogNotifier{Log: nlog}}
	if cfg.Notify.WebhookURL != "" {
		backends = append(backends, notify.NewWebhook(cfg.Notify.WebhookURL))
	}
	if cfg.Notify.TelegramBotToken != "" && cfg.Notify.TelegramChatID != "" {
		backends = append(backends, notify.NewTelegram(cfg.Notify.TelegramBotToken, cfg.Notify.TelegramChatID))
	}
	return notify.NewMulti(nlog, backends...)
}
