package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/joho/godotenv"
	"golang.org/x/time/rate"

	"marketfeed/adapter"
	"marketfeed/config"
	"marketfeed/gateway"
	"marketfeed/internal/dashboard"
	"marketfeed/internal/metrics"
	"marketfeed/logger"
	"marketfeed/models"
	"marketfeed/writer"
)

func main() {
	log := logger.GetLogger()

	// Load environment variables from .env if present
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("Error loading .env file")
	}

	configPath := flag.String("config", "", "Path to configuration file (defaults to the APP_ENV specific config/config.yml)")
	instrumentsPath := flag.String("instruments", "", "Path to instrument list (defaults to config/instruments.yml)")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.WithError(err).Error("Failed to load configuration")
		os.Exit(1)
	}

	env := config.AppEnvironment()
	format := cfg.Logging.Format
	if config.IsProductionLike(env) {
		format = "json"
	}
	if err := log.Configure(cfg.Logging.Level, format, cfg.Logging.Output, cfg.Logging.MaxAge); err != nil {
		log.WithError(err).Error("Failed to configure logger")
		os.Exit(1)
	}

	log.WithFields(logger.Fields{
		"service":     cfg.MarketFeed.Name,
		"version":     cfg.MarketFeed.Version,
		"environment": env,
	}).Info("starting marketfeed")

	ids, err := config.LoadInstruments(*instrumentsPath)
	if err != nil {
		log.WithError(err).Error("Failed to load instruments")
		os.Exit(1)
	}

	registry := adapter.NewRegistry()
	if err := cfg.RegisterDescriptors(registry); err != nil {
		log.WithError(err).Error("Failed to register exchange descriptors")
		os.Exit(1)
	}

	dialer := &websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: cfg.Reader.Timeout,
	}

	plans, err := resolveExchanges(cfg, registry, config.GroupByExchange(ids), dialer)
	if err != nil {
		log.WithError(err).Error("failed to resolve exchanges")
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	metrics.Init()
	if cfg.Metrics.CloudWatch.Enabled {
		metrics.InitCloudWatch(ctx, cfg.Metrics.CloudWatch.Region, cfg.Metrics.CloudWatch.Namespace, cfg.Metrics.CloudWatch.Dashboard)
	}
	metrics.StartReport(ctx, log, cfg.Metrics.ReportInterval)

	var wg sync.WaitGroup
	if cfg.Metrics.PrometheusAddress != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := metrics.Serve(ctx, cfg.Metrics.PrometheusAddress); err != nil {
				log.WithComponent("main").WithError(err).Warn("prometheus endpoint stopped")
			}
		}()
	}

	sinks, snapshotWriter, kafkaWriter := buildSinks(ctx, cfg, log)

	gateways := make([]*gateway.Gateway, 0, len(plans))
	streams := make([]*adapter.StreamSource, 0)
	for _, p := range plans {
		if stream, ok := p.source.(*adapter.StreamSource); ok {
			stream.Run(ctx, p.ids, cfg.Gateway.Depth)
			streams = append(streams, stream)
		}

		gw := gateway.New(adapter.New(p.desc, p.source, cfg.Gateway.Depth), sinks, gateway.Settings{
			OrderBookInterval: p.settings.OrderBookInterval,
			TradeInterval:     p.settings.TradeInterval,
			EmptyTradeRetry:   cfg.Gateway.EmptyTradeRetry,
			FetchTimeout:      cfg.Gateway.FetchTimeout,
		}, log)

		instruments := make([]*models.Instrument, 0, len(p.ids))
		for _, id := range p.ids {
			instruments = append(instruments, models.NewInstrument(id, cfg.Gateway.Depth))
		}
		if err := gw.Start(ctx, instruments...); err != nil {
			log.WithError(err).WithFields(logger.Fields{"exchange": p.name}).Error("failed to start gateway")
			os.Exit(1)
		}
		gateways = append(gateways, gw)
	}

	sources := make([]dashboard.InstrumentSource, 0, len(gateways))
	for _, gw := range gateways {
		sources = append(sources, gw)
	}
	dash, err := dashboard.NewServer(cfg.Dashboard, log, sources...)
	if err != nil {
		log.WithError(err).Error("failed to create dashboard")
		os.Exit(1)
	}
	if dash != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			log.WithComponent("dashboard").WithFields(logger.Fields{"address": dash.Address()}).Info("starting dashboard")
			if err := dash.Run(ctx, cfg.MarketFeed.Name); err != nil {
				log.WithComponent("dashboard").WithError(err).Warn("dashboard stopped")
			}
		}()
	}

	log.WithFields(logger.Fields{
		"exchanges":   len(gateways),
		"instruments": len(ids),
		"sinks":       len(sinks),
	}).Info("all components started successfully")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	log.WithFields(logger.Fields{"signal": sig.String()}).Info("shutdown signal received")

	log.Info("starting graceful shutdown")
	cancel()

	done := make(chan struct{})
	go func() {
		for _, gw := range gateways {
			gw.Stop()
		}
		for _, s := range streams {
			s.Wait()
		}
		if snapshotWriter != nil {
			log.Info("stopping snapshot writer")
			snapshotWriter.Stop()
		}
		if kafkaWriter != nil {
			if err := kafkaWriter.Close(); err != nil {
				log.WithError(err).Warn("failed to close kafka writer")
			}
		}
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info("graceful shutdown completed")
	case <-time.After(30 * time.Second):
		log.Warn("graceful shutdown timeout exceeded")
	}

	log.Info("marketfeed stopped")
}

// buildSinks creates the enabled writers in a fixed order: log, kafka,
// parquet.
func buildSinks(ctx context.Context, cfg *config.Config, log *logger.Log) ([]writer.Sink, *writer.SnapshotWriter, *writer.KafkaWriter) {
	var (
		sinks          []writer.Sink
		snapshotWriter *writer.SnapshotWriter
		kafkaWriter    *writer.KafkaWriter
	)

	if cfg.Writer.Log.Enabled {
		sinks = append(sinks, writer.NewLogWriter(log))
	}

	if cfg.Writer.Kafka.Enabled {
		kw, err := writer.NewKafkaWriter(cfg)
		if err != nil {
			log.WithError(err).Error("failed to create kafka writer")
			os.Exit(1)
		}
		kafkaWriter = kw
		sinks = append(sinks, kw)
	}

	if cfg.Writer.Parquet.Enabled {
		sw, err := writer.NewSnapshotWriter(ctx, cfg)
		if err != nil {
			log.WithError(err).WithEnv("S3_BUCKET", "AWS_REGION").Error("failed to create snapshot writer")
			os.Exit(1)
		}
		// the writer outlives ctx so the shutdown flush can upload
		if err := sw.Start(context.WithoutCancel(ctx)); err != nil {
			log.WithError(err).Error("failed to start snapshot writer")
			os.Exit(1)
		}
		snapshotWriter = sw
		sinks = append(sinks, sw)
	} else {
		log.WithComponent("main").Info("parquet writer disabled")
	}

	return sinks, snapshotWriter, kafkaWriter
}

// exchangePlan is one exchange resolved at startup, before any worker runs.
type exchangePlan struct {
	name     string
	desc     adapter.Descriptor
	settings config.ExchangeSettings
	source   adapter.Source
	ids      []models.InstrumentID
}

// resolveExchanges looks up every referenced exchange and builds its source.
// Any unknown exchange or source error fails the whole startup.
func resolveExchanges(cfg *config.Config, registry *adapter.Registry, groups map[string][]models.InstrumentID, dialer *websocket.Dialer) ([]exchangePlan, error) {
	names := make([]string, 0, len(groups))
	for name := range groups {
		names = append(names, name)
	}
	sort.Strings(names)

	plans := make([]exchangePlan, 0, len(names))
	for _, name := range names {
		desc, err := registry.Lookup(name)
		if err != nil {
			return nil, err
		}
		settings := cfg.Exchange(name)
		desc = settings.Apply(desc)

		client := adapter.NewHTTPClient(adapter.TransportOptions{
			Timeout:         cfg.Reader.Timeout,
			MaxIdleConns:    cfg.Reader.ConnectionPool.MaxIdleConns,
			MaxConnsPerHost: cfg.Reader.ConnectionPool.MaxConnsPerHost,
			IdleConnTimeout: cfg.Reader.ConnectionPool.IdleConnTimeout,
			LocalIP:         cfg.Reader.LocalIP,
			UserAgent:       cfg.Reader.UserAgent,
		})
		var limiter *rate.Limiter
		if rl := settings.RateLimit; rl.RequestsPerSecond > 0 {
			limiter = rate.NewLimiter(rate.Limit(rl.RequestsPerSecond), max(rl.BurstSize, 1))
		}

		source, err := adapter.NewSource(desc, adapter.SourceOptions{HTTPClient: client, Limiter: limiter, Dialer: dialer})
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		plans = append(plans, exchangePlan{name: name, desc: desc, settings: settings, source: source, ids: groups[name]})
	}
	return plans, nil
}
