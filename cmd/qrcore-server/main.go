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

	"github.com/spf13/pflag"

	"github.com/protectedqr/qrcore/server/internal/config"
	"github.com/protectedqr/qrcore/server/internal/grpchealth"
	"github.com/protectedqr/qrcore/server/internal/httpapi"
	"github.com/protectedqr/qrcore/server/internal/qrcore/pattern"
	"github.com/protectedqr/qrcore/server/internal/qrcore/service"
	"github.com/protectedqr/qrcore/server/internal/qrcore/store/backend"
	"github.com/protectedqr/qrcore/server/internal/qrcore/token"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0
		}
		slog.Error("invalid configuration", "err", err)
		return 2
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	logger.Info("starting qrcore-server", "config", cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Store
	st, err := backend.Open(ctx, cfg.StoreURI, cfg.StoreDB, logger)
	if err != nil {
		logger.Error("store unavailable", "err", err)
		return 1
	}
	defer func() {
		cctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := st.Close(cctx); err != nil {
			logger.Warn("store close", "err", err)
		}
	}()

	// Token + pattern service
	signer, err := token.NewSigner([]byte(cfg.SigningSecret))
	if err != nil {
		logger.Error("signer", "err", err)
		return 2
	}
	patternSvc, err := pattern.NewHTTPClient(cfg.PatternURL, &http.Client{})
	if err != nil {
		logger.Error("pattern client", "err", err)
		return 2
	}

	// Services
	opts := service.Options{Timeout: cfg.ExternalTimeout, Logger: logger}
	issuanceSvc := service.NewIssuanceService(signer, patternSvc, st, opts)
	verificationSvc := service.NewVerificationService(signer, patternSvc, st, opts)

	readyChecks := []httpapi.ReadyCheck{
		{Name: "store", Check: st.Ping},
		{Name: "pattern", Check: patternSvc.Health},
	}

	// HTTP
	srv := httpapi.NewServer(httpapi.Dependencies{
		Logger:              logger,
		Addr:                cfg.HTTPAddr,
		IssuanceService:     issuanceSvc,
		VerificationService: verificationSvc,
		ReadyChecks:         readyChecks,
		ReadyTimeout:        cfg.ExternalTimeout,
		RateLimitPerMinute:  cfg.RateLimitPerMinute,
	})

	go func() {
		logger.Info("http listening", "addr", cfg.HTTPAddr)
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "err", err)
			stop()
		}
	}()

	// gRPC health (optional)
	var health *grpchealth.Server
	if cfg.GRPCAddr != "" {
		health = grpchealth.New(cfg.GRPCAddr, logger)
		go health.Track(ctx, 10*time.Second, st.Ping)
		go func() {
			logger.Info("grpc health listening", "addr", cfg.GRPCAddr)
			if err := health.Start(); err != nil {
				logger.Error("grpc server error", "err", err)
				stop()
			}
		}()
	}

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if health != nil {
		health.Shutdown(shutdownCtx)
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", "err", err)
	}

	logger.Info("stopped",
		"issuance_persist_failures", issuanceSvc.PersistenceFailures(),
		"verification_persist_failures", verificationSvc.PersistenceFailures(),
	)
	return 0
}
