package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"

	"ledgerlens/internal/amqp"
	"ledgerlens/internal/backend"
	"ledgerlens/internal/cache"
	"ledgerlens/internal/capture"
	"ledgerlens/internal/chat"
	appcli "ledgerlens/internal/cli"
	"ledgerlens/internal/config"
	"ledgerlens/internal/events"
	apphttp "ledgerlens/internal/http"
	"ledgerlens/internal/ledger"
	"ledgerlens/internal/log"
	"ledgerlens/internal/notify"
	"ledgerlens/internal/services"
	"ledgerlens/internal/sse"
)

const (
	shutdownTimeout   = 30 * time.Second
	sseKeepAlive      = 15 * time.Second
	cacheSweepEvery   = 5 * time.Minute
	assetCacheEntries = 256
	amqpSinkBuffer    = 256
)

// loadConfig resolves the configuration for any subcommand and installs
// the logger it describes.
func loadConfig(cmd *cli.Command) (*config.Config, *log.Logger, error) {
	cfg, err := appcli.LoadAndValidateConfig(cmd.String("config"))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	if port := cmd.String("port"); port != "" {
		cfg.Port = port
		if err := cfg.Validate(); err != nil {
			return nil, nil, err
		}
	}
	return cfg, appcli.SetupLogger(cfg), nil
}

func serve(ctx context.Context, cmd *cli.Command) error {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	logger.Info("Configuration loaded",
		log.FieldOperation, log.OpStartup,
		"port", cfg.Port,
		"agent_backend", cfg.AgentBackend,
		"amqp_enabled", cfg.AMQPURL != "",
		"log_level", cfg.LogLevel)

	backendCfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		return fmt.Errorf("backend config: %w", err)
	}
	backendCfg.AssetCacheEntries = assetCacheEntries
	agentBackend, err := backend.NewFactory(logger).CreateBackend(ctx, backendCfg)
	if err != nil {
		return fmt.Errorf("init agent backend: %w", err)
	}

	caches := cache.NewManager(logger)
	assets := cache.NewLRUCache[[]string](assetCacheEntries, cfg.AssetCacheTTL)
	previews := capture.NewPreviews(cfg.PreviewTTL)
	caches.Register(assets)
	caches.Register(previews.Cleaner())
	for _, c := range agentBackend.Caches {
		caches.Register(c)
	}
	caches.StartCleanup(cacheSweepEvery)

	broker := sse.NewBroker(sseKeepAlive)
	publishers := events.Fanout{broker}

	var (
		amqpClient *amqp.Client
		amqpSink   *amqp.Sink
	)
	if cfg.AMQPURL != "" {
		amqpClient, err = amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
		if err != nil {
			// Event fan-out to AMQP is optional; the ledger keeps working without it.
			logger.Warn("AMQP unavailable, events stay local",
				log.FieldError, err.Error(),
				"exchange", cfg.AMQPExchange)
		} else {
			amqpSink = amqp.NewSink(amqpClient, logger, amqpSinkBuffer)
			publishers = append(publishers, amqpSink)
			logger.Info("Publishing ledger events to AMQP",
				"exchange", cfg.AMQPExchange,
				"queue", cfg.AMQPQueue)
		}
	}

	center := notify.NewCenter(cfg.NotificationTTL, publishers)
	l := ledger.New()
	svc := services.NewLedgerService(services.Deps{
		Ledger:   l,
		Previews: previews,
		Spreadsheet: services.SpreadsheetExtractor{Spreadsheet: capture.NewSpreadsheet(agentBackend.Client, assets,
			capture.SpreadsheetConfig{
				AgentID:           cfg.SpreadsheetAgentID,
				MaxBytes:          cfg.MaxUploadBytes,
				RejectLegacyExcel: !agentBackend.LegacyExcel,
			}, logger)},
		Image: capture.NewImage(agentBackend.Client, assets,
			capture.ImageConfig{AgentID: cfg.ImageAgentID, MaxBytes: cfg.MaxUploadBytes}, logger),
		Notify:    center,
		Publisher: publishers,
		Logger:    logger,
	})
	assistant := chat.NewAssistant(agentBackend.Client, cfg.ChatAgentID, l, center, publishers, logger)

	srv := apphttp.NewServer(cfg.Addr(), apphttp.Deps{
		Ledger:             svc,
		Chat:               assistant,
		Notify:             center,
		Events:             broker,
		Logger:             logger,
		MaxUploadBytes:     cfg.MaxUploadBytes,
		RateLimitPerMinute: cfg.RateLimitPerMinute,
		Ready: func(context.Context) error {
			if amqpClient != nil {
				return amqpClient.Ready()
			}
			return nil
		},
	})

	ctx, cancel := appcli.SignalContext(ctx, logger)
	defer cancel()

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("Starting ledgerlens server", "address", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gCtx.Done()
		// SSE streams never end on their own, so the broker closes first to
		// let Shutdown drain. The cache sweeper stops before the AMQP sink
		// because preview discards still publish events.
		return appcli.GracefulShutdown(logger, shutdownTimeout,
			appcli.ShutdownStep{Name: "event stream", Run: func(context.Context) error {
				broker.Close()
				return nil
			}},
			appcli.ShutdownStep{Name: "http server", Run: srv.Shutdown},
			appcli.ShutdownStep{Name: "notifications", Run: func(context.Context) error {
				center.Close()
				return nil
			}},
			appcli.ShutdownStep{Name: "caches", Run: func(context.Context) error {
				caches.Stop()
				return nil
			}},
			appcli.ShutdownStep{Name: "amqp", Run: func(ctx context.Context) error {
				if amqpSink == nil {
					return nil
				}
				amqpSink.Close(timeLeft(ctx))
				return amqpClient.Close()
			}},
			appcli.ShutdownStep{Name: "agent backend", Run: func(context.Context) error {
				if agentBackend.Cleanup == nil {
					return nil
				}
				return agentBackend.Cleanup()
			}},
		)
	})

	if err := g.Wait(); err != nil {
		logger.Error("Application error", log.FieldError, err.Error())
		return err
	}
	logger.Info("Server stopped gracefully")
	return nil
}

// timeLeft is the remaining budget of ctx, or a short default without one.
func timeLeft(ctx context.Context) time.Duration {
	if d, ok := ctx.Deadline(); ok {
		return time.Until(d)
	}
	return 5 * time.Second
}
