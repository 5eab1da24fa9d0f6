package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"messaging-platform/internal/audit"
	"messaging-platform/internal/auth"
	"messaging-platform/internal/campaign"
	"messaging-platform/internal/config"
	"messaging-platform/internal/credit"
	"messaging-platform/internal/dispatch"
	"messaging-platform/internal/httpapi"
	"messaging-platform/internal/reporting"
	"messaging-platform/internal/session"
	"messaging-platform/pkg/logger"
	"messaging-platform/pkg/utils"

	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"
)

func main() {
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env)
	slog.SetDefault(log)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	authManager, err := auth.NewManager(cfg.Auth)
	if err != nil {
		log.Error("auth init failed", "err", err)
		os.Exit(1)
	}

	db, err := utils.OpenPostgres(rootCtx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{})
	if err != nil {
		log.Error("postgres init failed", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	rdb, err := utils.OpenRedis(rootCtx, utils.RedisConfig{Addr: cfg.RedisAddr()})
	if err != nil {
		log.Error("redis init failed", "err", err)
		os.Exit(1)
	}
	defer rdb.Close()

	credits := credit.NewService(credit.NewPostgresRepo(db))
	auditor := audit.NewService(audit.NewPostgresRepo(db))

	transport := session.NewGatewayTransport(session.GatewayOptions{
		BaseURL:        cfg.Gateway.BaseURL,
		APIToken:       cfg.Gateway.APIToken,
		RequestTimeout: cfg.Gateway.RequestTimeout,
	}, log)
	sessions := session.NewSupervisor(
		transport,
		session.NewPostgresStore(db),
		session.NewPostgresCredentialStore(db),
		log,
		session.Options{
			QRWaitTimeout:      cfg.Messaging.QRWaitTimeout,
			QRPollInterval:     cfg.Messaging.QRPollInterval,
			ReconnectBaseDelay: cfg.Messaging.ReconnectBaseDelay,
			ReconnectMaxDelay:  cfg.Messaging.ReconnectMaxDelay,
		},
	)
	defer sessions.Close()

	engine := dispatch.NewEngine(dispatch.NormalizeConfig{
		DefaultCountryPrefix: cfg.Messaging.DefaultCountryPrefix,
		LocalNumberLength:    cfg.Messaging.LocalNumberLength,
		MinAddressDigits:     cfg.Messaging.MinAddressDigits,
	}, dispatch.NewHTTPMediaFetcher(), log)

	campaignStore := campaign.NewPostgresStore(db)
	campaigns := campaign.NewService(
		campaignStore,
		credits,
		sessions,
		engine,
		auditor,
		campaign.NewRedisLimiter(rdb, cfg.Messaging.BulkConcurrencyPerAccount, 30*time.Minute),
		log,
		campaign.Config{
			BulkMaxRecipients: cfg.Messaging.BulkMaxRecipients,
			BulkMessageDelay:  cfg.Messaging.BulkMessageDelay,
		},
	)

	reports := reporting.NewService(reporting.StoreAdapter{Campaigns: campaignStore, Credits: credits})

	// Gin router
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))

	h := httpapi.Handlers{
		Auth:      authManager,
		Campaigns: campaigns,
		Credits:   credits,
		Sessions:  sessions,
		Reports:   reports,
		Audit:     auditor,
	}
	registerRoutes(r, h, auth.RequireAccessToken(authManager))

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("api listening", "addr", srv.Addr, "env", cfg.App.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}

	_ = logger.ShutdownFlush(shutdownCtx, 2*time.Second)
}
