package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/jmerrifield20/DocumentChain/internal/alert"
	"github.com/jmerrifield20/DocumentChain/internal/api/handler"
	"github.com/jmerrifield20/DocumentChain/internal/chain"
	"github.com/jmerrifield20/DocumentChain/internal/email"
	"github.com/jmerrifield20/DocumentChain/internal/integrity"
	"github.com/jmerrifield20/DocumentChain/internal/monitor"
	"github.com/jmerrifield20/DocumentChain/internal/recipients"
	"github.com/jmerrifield20/DocumentChain/internal/webhooks"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync() //nolint:errcheck

	if err := run(logger); err != nil {
		logger.Fatal("chaind exited with error", zap.Error(err))
	}
}

func setDefaults() {
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.cors_origins", []string{"http://localhost:3000"})
	viper.SetDefault("server.rate_limit_rps", 20)
	viper.SetDefault("database.driver", "memory")
	viper.SetDefault("database.url", "")
	viper.SetDefault("chain.seal_key", "")
	viper.SetDefault("chain.seal_path", "data/head.seal")
	viper.SetDefault("chain.reject_duplicates", true)
	viper.SetDefault("gate.policy", string(integrity.PolicyStrict))
	viper.SetDefault("gate.source", string(integrity.SourceLocal))
	viper.SetDefault("gate.oracle_url", "")
	viper.SetDefault("gate.full_verify_every", integrity.DefaultFullVerifyEvery)
	viper.SetDefault("monitor.enabled", true)
	viper.SetDefault("monitor.source", "local")
	viper.SetDefault("monitor.oracle_url", "")
	viper.SetDefault("monitor.interval", "60s")
	viper.SetDefault("monitor.cron", "")
	viper.SetDefault("monitor.probe_timeout", "10s")
	viper.SetDefault("monitor.workers", 2)
	viper.SetDefault("status.redis_addr", "")
	viper.SetDefault("status.redis_password", "")
	viper.SetDefault("status.redis_db", 0)
	viper.SetDefault("alert.recipients", "")
	viper.SetDefault("alert.send_timeout", alert.DefaultSendTimeout.String())
	viper.SetDefault("alert.webhook_urls", []string{})
	viper.SetDefault("alert.webhook_secret", "")
	viper.SetDefault("email.smtp_host", "")
	viper.SetDefault("email.smtp_port", 587)
	viper.SetDefault("email.smtp_username", "")
	viper.SetDefault("email.smtp_password", "")
	viper.SetDefault("email.from_address", "integrity-monitor@localhost")
	viper.SetDefault("auth.jwt_secret", "")
	viper.SetDefault("auth.issuer", "")
}

func run(logger *zap.Logger) error {
	// ── Configuration ────────────────────────────────────────────────────────
	viper.SetConfigName("chaind")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("configs")
	viper.AddConfigPath(".")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		var cfgNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &cfgNotFound) {
			return fmt.Errorf("read config: %w", err)
		}
		logger.Warn("no config file found, using defaults and env vars")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ── Seal ─────────────────────────────────────────────────────────────────
	var sealer chain.Sealer
	var storeOpts []chain.Option
	if key := viper.GetString("chain.seal_key"); key != "" {
		fs, err := chain.NewFileSealer(viper.GetString("chain.seal_path"), key)
		if err != nil {
			return fmt.Errorf("head seal: %w", err)
		}
		sealer = fs
		storeOpts = append(storeOpts, chain.WithSealer(fs))
		logger.Info("head seal enabled", zap.String("path", viper.GetString("chain.seal_path")))
	}
	if viper.GetBool("chain.reject_duplicates") {
		storeOpts = append(storeOpts, chain.WithDuplicateRejection())
	}

	// ── Chain store ──────────────────────────────────────────────────────────
	store, closeStore, err := openStore(ctx, viper.GetString("database.driver"), viper.GetString("database.url"), logger, storeOpts...)
	if err != nil {
		return err
	}
	defer closeStore()

	probe := integrity.NewLocalProbe(store, sealer)
	if tamper, n, err := probe.Verify(ctx); err != nil {
		logger.Warn("startup chain verification could not run", zap.Error(err))
	} else if tamper != nil {
		logger.Warn("startup chain verification FAILED", zap.Stringer("tamper", tamper), zap.Int("records", n))
	} else {
		logger.Info("chain verified", zap.Int("records", n))
	}

	// ── Integrity gate ───────────────────────────────────────────────────────
	gateCfg := integrity.GateConfig{
		Policy:          integrity.Policy(viper.GetString("gate.policy")),
		Source:          integrity.Source(viper.GetString("gate.source")),
		FullVerifyEvery: viper.GetInt("gate.full_verify_every"),
	}
	gateOpts := []integrity.GateOption{}
	if sealer != nil {
		gateOpts = append(gateOpts, integrity.WithSeal(sealer))
	}
	if u := viper.GetString("gate.oracle_url"); u != "" {
		gateOpts = append(gateOpts, integrity.WithOracle(integrity.NewOracleClient(u, logger)))
	}
	gate, err := integrity.NewGate(store, gateCfg, logger, gateOpts...)
	if err != nil {
		return fmt.Errorf("integrity gate: %w", err)
	}
	gate.SetVerdictHook(func(v integrity.Verdict) {
		handler.RecordGateVerdict(v.Status.String())
	})
	logger.Info("integrity gate ready",
		zap.String("policy", string(gateCfg.Policy)),
		zap.String("source", string(gateCfg.Source)),
	)

	// ── Email sender ─────────────────────────────────────────────────────────
	var mailer email.EmailSender
	smtpHost := viper.GetString("email.smtp_host")
	if smtpHost != "" {
		mailer = email.NewSMTPSender(
			smtpHost,
			viper.GetInt("email.smtp_port"),
			viper.GetString("email.smtp_username"),
			viper.GetString("email.smtp_password"),
			viper.GetString("email.from_address"),
		)
		logger.Info("SMTP email sender configured", zap.String("host", smtpHost))
	} else {
		mailer = email.NewNoopSender(logger)
		logger.Info("email sender: noop (set email.smtp_host to enable SMTP)")
	}

	// ── Recipients + alerts ──────────────────────────────────────────────────
	registry := recipients.NewFromList(viper.GetString("alert.recipients"), logger)
	dispatcher := alert.NewDispatcher(registry, mailer, viper.GetDuration("alert.send_timeout"), logger)
	logger.Info("alert recipients loaded", zap.Int("count", registry.Count()))

	var notifier *webhooks.Notifier
	if urls := viper.GetStringSlice("alert.webhook_urls"); len(urls) > 0 {
		notifier = webhooks.NewNotifier(urls, viper.GetString("alert.webhook_secret"), logger)
		notifier.SetMetricsRecorder(handler.RecordWebhookDelivery)
		dispatcher.SetWebhooks(notifier)
		logger.Info("alert webhooks configured", zap.Int("endpoints", len(urls)))
	}

	// ── Monitor ──────────────────────────────────────────────────────────────
	var monProbe integrity.Prober = probe
	if viper.GetString("monitor.source") == "oracle" {
		u := viper.GetString("monitor.oracle_url")
		if u == "" {
			u = viper.GetString("gate.oracle_url")
		}
		if u == "" {
			return errors.New("monitor.source is oracle but no oracle URL is configured")
		}
		monProbe = integrity.NewOracleClient(u, logger)
	}

	var statusStore monitor.StatusStore
	if addr := viper.GetString("status.redis_addr"); addr != "" {
		rs := monitor.NewRedisStatusStore(addr, viper.GetString("status.redis_password"), viper.GetInt("status.redis_db"))
		defer rs.Close()
		pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
		err := rs.Ping(pingCtx)
		pingCancel()
		if err != nil {
			return fmt.Errorf("ping redis: %w", err)
		}
		statusStore = rs
		logger.Info("integrity status persisted in redis", zap.String("addr", addr))
	}

	mon := monitor.New(monProbe, dispatcher, statusStore, monitor.Config{
		Interval:     viper.GetDuration("monitor.interval"),
		Cron:         viper.GetString("monitor.cron"),
		ProbeTimeout: viper.GetDuration("monitor.probe_timeout"),
		Workers:      viper.GetInt("monitor.workers"),
	}, logger)
	mon.SetStatusHook(func(s integrity.Status) {
		handler.SetIntegrityGauge(s == integrity.StatusValid)
		if s == integrity.StatusInvalid {
			gate.Invalidate()
		}
	})
	mon.SetMetricsRecord(func(o monitor.Outcome) {
		handler.RecordIntegrityCheck(o.Status.String())
		if o.Recipients > 0 {
			handler.RecordAlert(o.AlertSent)
		}
	})

	monErr := make(chan error, 1)
	if viper.GetBool("monitor.enabled") {
		go func() { monErr <- mon.Run(ctx) }()
	} else {
		logger.Info("integrity monitor disabled")
	}

	// ── Auth ─────────────────────────────────────────────────────────────────
	var guard gin.HandlerFunc
	if secret := viper.GetString("auth.jwt_secret"); secret != "" {
		guard = handler.RequireToken(handler.NewTokenVerifier(secret, viper.GetString("auth.issuer")))
	} else {
		logger.Warn("auth.jwt_secret not set; mutating routes are unauthenticated")
	}

	// ── HTTP Router ──────────────────────────────────────────────────────────
	if os.Getenv("GIN_MODE") == "" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())

	corsOrigins := viper.GetStringSlice("server.cors_origins")
	router.Use(cors.New(cors.Config{
		AllowOrigins:     corsOrigins,
		AllowMethods:     []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", "Accept"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: !containsWildcard(corsOrigins),
		MaxAge:           12 * time.Hour,
	}))

	// Security headers
	router.Use(func(c *gin.Context) {
		c.Header("X-Frame-Options", "DENY")
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")
		c.Next()
	})

	// Request body size limit (1 MB)
	router.Use(func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, 1<<20)
		c.Next()
	})

	if rps := viper.GetFloat64("server.rate_limit_rps"); rps > 0 {
		router.Use(handler.RateLimiter(ctx, handler.RateLimitConfig{
			RPS:    rps,
			Exempt: []string{"/healthz", "/metrics"},
		}))
	}
	router.Use(handler.PrometheusMiddleware())
	router.Use(requestLogger(logger))

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", handler.MetricsHandler())

	chainHandler := handler.NewChainHandler(store, probe, logger)
	router.GET("/check_chain_integrity", chainHandler.Verify)

	v1 := router.Group("/api/v1")
	chainHandler.Register(v1)
	handler.NewDocumentsHandler(gate, guard, logger).Register(v1)
	handler.NewRecipientsHandler(registry, dispatcher, guard, logger).Register(v1)
	handler.NewIntegrityHandler(mon, logger).Register(v1)

	// ── Serve ────────────────────────────────────────────────────────────────
	port := viper.GetInt("server.port")
	httpSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	srvErr := make(chan error, 1)
	go func() {
		logger.Info("chaind HTTP listening", zap.Int("port", port))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			srvErr <- err
		}
	}()

	// ── Graceful shutdown ────────────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	var runErr error
	select {
	case <-quit:
	case err := <-srvErr:
		runErr = fmt.Errorf("HTTP listen: %w", err)
	case err := <-monErr:
		if err != nil {
			runErr = fmt.Errorf("integrity monitor: %w", err)
		}
	}
	logger.Info("shutting down chaind...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP shutdown error", zap.Error(err))
	}
	if notifier != nil {
		notifier.Wait()
	}

	logger.Info("chaind stopped")
	return runErr
}

// containsWildcard returns true if origins includes "*".
func containsWildcard(origins []string) bool {
	for _, o := range origins {
		if strings.TrimSpace(o) == "*" {
			return true
		}
	}
	return false
}

// requestLogger returns a Gin middleware that logs each request with zap.
func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		)
	}
}
