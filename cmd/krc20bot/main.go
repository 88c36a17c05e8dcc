package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path"
	"path/filepath"
	"syscall"
	"time"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"github.com/illmade-knight/go-krc20bot/pkg/bot"
	"github.com/illmade-knight/go-krc20bot/pkg/cache"
	"github.com/illmade-knight/go-krc20bot/pkg/commandbus"
	"github.com/illmade-knight/go-krc20bot/pkg/config"
	"github.com/illmade-knight/go-krc20bot/pkg/gate"
	"github.com/illmade-knight/go-krc20bot/pkg/kasplex"
	"github.com/illmade-knight/go-krc20bot/pkg/microservice"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func main() {
	configPath := flag.String("config", os.Getenv("KRC20BOT_CONFIG"), "path to the YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "krc20bot: %v\n", err)
		os.Exit(1)
	}
	logger := newLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("krc20bot exited with error")
	}
	logger.Info().Msg("krc20bot stopped.")
}

func newLogger(cfg *config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.TimeFieldFormat = time.RFC3339
	var logger zerolog.Logger
	if cfg.LogFormat == "console" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	} else {
		logger = zerolog.New(os.Stderr)
	}
	return logger.Level(level).With().Timestamp().Str("service", cfg.ServiceName).Logger()
}

func run(ctx context.Context, cfg *config.Config, logger zerolog.Logger) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	if cfg.Tracing.Exporter == "stdout" {
		exp, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return fmt.Errorf("failed to create trace exporter: %w", err)
		}
		tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exp))
		otel.SetTracerProvider(tp)
		defer func() { _ = tp.Shutdown(context.Background()) }()
	}

	backends, err := newBackends(ctx, cfg)
	if err != nil {
		return err
	}
	defer backends.close()

	statusStore, err := newStore[kasplex.TokenInfo](ctx, cfg, backends, "status", logger)
	if err != nil {
		return err
	}
	defer func() { _ = statusStore.Close() }()
	holderStore, err := newStore[kasplex.TokenList](ctx, cfg, backends, "holder", logger)
	if err != nil {
		return err
	}
	defer func() { _ = holderStore.Close() }()

	client, err := kasplex.NewClient(&kasplex.Config{
		BaseURL:           cfg.API.BaseURL,
		Timeout:           cfg.API.Timeout,
		RetryMax:          cfg.API.RetryMax,
		UserAgent:         cfg.API.UserAgent,
		RequestsPerSecond: cfg.API.RequestsPerSecond,
		Burst:             cfg.API.Burst,
	}, logger)
	if err != nil {
		return err
	}

	metrics, err := gate.NewMetrics(reg)
	if err != nil {
		return err
	}
	status, err := gate.NewOrchestrator[kasplex.TokenInfo](gate.OrchestratorConfig{
		Inquiry:      "status",
		FetchTimeout: cfg.Cache.FetchTimeout,
		WriteTimeout: cfg.Cache.WriteTimeout,
	}, statusStore, client.TokenInfo, nil, metrics, logger)
	if err != nil {
		return err
	}
	holder, err := gate.NewOrchestrator[kasplex.TokenList](gate.OrchestratorConfig{
		Inquiry:      "holder",
		FetchTimeout: cfg.Cache.FetchTimeout,
		WriteTimeout: cfg.Cache.WriteTimeout,
	}, holderStore, client.AddressTokenList, nil, metrics, logger)
	if err != nil {
		return err
	}

	handler, err := bot.NewHandler(bot.Config{
		StatusTTL: cfg.TTL.Status,
		HolderTTL: cfg.TTL.Holder,
		Content:   cfg.Content,
	}, status, holder, reg, logger)
	if err != nil {
		return err
	}

	consumer, publisher, closeTransport, err := newTransport(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeTransport()

	dispatcher, err := commandbus.NewDispatcher(commandbus.DispatcherConfig{
		NumWorkers:    cfg.Dispatcher.Workers,
		HandleTimeout: cfg.Dispatcher.HandleTimeout,
	}, consumer, handler, publisher, logger)
	if err != nil {
		return err
	}

	server := microservice.NewBaseServer(logger, cfg.HTTPPort, reg)
	if err := server.Start(ctx); err != nil {
		return err
	}
	if err := dispatcher.Start(ctx); err != nil {
		return err
	}
	logger.Info().Str("transport", cfg.Transport.Kind).Str("cache_backend", cfg.Cache.Backend).Msg("krc20bot is running.")

	<-ctx.Done()
	logger.Info().Msg("Shutdown signal received.")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := dispatcher.Stop(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Dispatcher did not stop cleanly.")
	}
	return server.Shutdown(shutdownCtx)
}

// backends holds the cloud clients shared by both stores.
type backends struct {
	firestore *firestore.Client
	gcs       *storage.Client
}

func newBackends(ctx context.Context, cfg *config.Config) (*backends, error) {
	b := &backends{}
	var err error
	switch cfg.Cache.Backend {
	case config.BackendFirestore:
		b.firestore, err = firestore.NewClient(ctx, cfg.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("failed to create firestore client: %w", err)
		}
	case config.BackendGCS:
		b.gcs, err = storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to create storage client: %w", err)
		}
	}
	return b, nil
}

func (b *backends) close() {
	if b.firestore != nil {
		_ = b.firestore.Close()
	}
	if b.gcs != nil {
		_ = b.gcs.Close()
	}
}

// newStore builds the configured backend, namespaced by inquiry so status
// and holder records never share a key space.
func newStore[V any](ctx context.Context, cfg *config.Config, b *backends, inquiry string, logger zerolog.Logger) (cache.Store[V], error) {
	c := cfg.Cache
	switch c.Backend {
	case config.BackendFile:
		return cache.NewFileStore[V](&cache.FileConfig{Dir: filepath.Join(c.Dir, inquiry)}, logger)
	case config.BackendMemory:
		return cache.NewInMemoryStore[V](c.MaxEntries), nil
	case config.BackendRistretto:
		return cache.NewRistrettoStore[V](&cache.RistrettoConfig{
			MaxEntries: int64(c.MaxEntries),
			Retention:  c.Ristretto.Retention,
		})
	case config.BackendRedis:
		return cache.NewRedisStore[V](ctx, &cache.RedisConfig{
			Addr:      c.Redis.Addr,
			Password:  c.Redis.Password,
			DB:        c.Redis.DB,
			KeyPrefix: c.Redis.KeyPrefix + inquiry + ":",
			Retention: c.Redis.Retention,
		}, logger)
	case config.BackendFirestore:
		return cache.NewFirestoreStore[V](&cache.FirestoreConfig{
			ProjectID:      cfg.ProjectID,
			CollectionName: c.Firestore.Collection + "-" + inquiry,
		}, b.firestore, logger)
	case config.BackendGCS:
		return cache.NewGCSStore[V](cache.NewGCSClientAdapter(b.gcs), &cache.GCSConfig{
			BucketName:   c.GCS.Bucket,
			ObjectPrefix: path.Join(c.GCS.Prefix, inquiry),
		}, logger)
	default:
		return nil, fmt.Errorf("unknown cache backend '%s'", c.Backend)
	}
}

func newTransport(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (commandbus.Consumer, commandbus.Publisher, func(), error) {
	switch cfg.Transport.Kind {
	case config.TransportMQTT:
		m := cfg.Transport.MQTT
		mqttCfg := commandbus.DefaultMQTTConfig()
		mqttCfg.BrokerURL = m.BrokerURL
		mqttCfg.CommandTopic = m.CommandTopic
		mqttCfg.ReplyTopic = m.ReplyTopic
		mqttCfg.Username = m.Username
		mqttCfg.Password = m.Password
		mqttCfg.CACertFile = m.CACertFile
		if m.ClientIDPrefix != "" {
			mqttCfg.ClientIDPrefix = m.ClientIDPrefix
		}
		pahoClient, err := commandbus.NewPahoClient(mqttCfg, logger)
		if err != nil {
			return nil, nil, nil, err
		}
		t, err := commandbus.NewMqttTransport(pahoClient, mqttCfg, logger)
		if err != nil {
			return nil, nil, nil, err
		}
		return t, t, func() {}, nil

	case config.TransportPubsub:
		client, err := pubsub.NewClient(ctx, cfg.ProjectID)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("failed to create pubsub client: %w", err)
		}
		p := cfg.Transport.Pubsub
		consumerCfg := commandbus.NewGooglePubsubConsumerDefaults(p.CommandSubscription)
		consumerCfg.ProjectID = cfg.ProjectID
		if p.MaxOutstandingMessages > 0 {
			consumerCfg.MaxOutstandingMessages = p.MaxOutstandingMessages
		}
		if p.NumGoroutines > 0 {
			consumerCfg.NumGoroutines = p.NumGoroutines
		}
		consumer, err := commandbus.NewGooglePubsubConsumer(ctx, consumerCfg, client, logger)
		if err != nil {
			_ = client.Close()
			return nil, nil, nil, err
		}
		publisher, err := commandbus.NewGooglePubsubPublisher(ctx, client, p.ReplyTopic, logger)
		if err != nil {
			_ = client.Close()
			return nil, nil, nil, err
		}
		return consumer, publisher, func() { _ = client.Close() }, nil

	default:
		return nil, nil, nil, fmt.Errorf("unknown transport '%s'", cfg.Transport.Kind)
	}
}
