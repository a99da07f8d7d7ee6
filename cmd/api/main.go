package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"

	"trustcenter.dev/internal/app"
	"trustcenter.dev/internal/config"
	"trustcenter.dev/internal/httpapi"
	"trustcenter.dev/internal/obs"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		obs.Logger().Fatal("load config", zap.Error(err))
	}

	log := obs.InitLogger(obs.LogConfig{Level: cfg.Log.Level, File: cfg.Log.File})
	defer func() { _ = log.Sync() }()
	obs.Init()
	obs.InitBuildInfo(version, commit, cfg.Env)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc, err := app.Build(ctx, cfg)
	if err != nil {
		log.Fatal("build services", zap.Error(err))
	}
	defer svc.Close()

	proxies, err := httpapi.ParseTrustedProxies(cfg.TrustedProxies)
	if err != nil {
		log.Fatal("trusted proxies", zap.Error(err))
	}

	ready := httpapi.ReadyProbe{DB: svc.DB}
	api := httpapi.New(httpapi.Deps{
		Version:   version,
		Ready:     ready,
		Auth:      svc.Auth,
		Access:    svc.Access,
		Documents: svc.Documents,
		Orgs:      svc.Orgs,
		Activity:  svc.Recorder,
		Stream:    svc.Stream,
		Webhooks:  svc.Webhooks,
		OAuth:     svc.OAuth,
		Syncer:    svc.Syncer,
	}, httpapi.Options{
		DemoMode:        cfg.DemoMode,
		CORSOrigins:     cfg.CORSOrigins,
		RateLimitBurst:  cfg.RateLimitBurst,
		RateLimitPerSec: cfg.RateLimitPerSec,
		MaxBodyBytes:    cfg.MaxBodyBytes,
		TrustedProxies:  proxies,
		AfterConnectURL: strings.TrimRight(cfg.PublicBaseURL, "/") + "/admin/settings",
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Handler(),
		ReadTimeout:       30 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		// Left open for the activity stream; handlers bound their own work.
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}
	// Shutdown waits for active handlers; closing the stream ends open
	// activity feeds so it does not run into its deadline.
	srv.RegisterOnShutdown(svc.Stream.Close)

	var (
		grpcSrv    *grpc.Server
		grpcHealth *httpapi.GRPCHealth
	)
	if cfg.GRPCAddr != "" {
		lis, err := net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			log.Fatal("grpc listen", zap.String("addr", cfg.GRPCAddr), zap.Error(err))
		}
		grpcSrv = grpc.NewServer()
		grpcHealth = httpapi.NewGRPCHealth(ready)
		grpcHealth.Register(grpcSrv)
		go grpcHealth.Watch(ctx, 10*time.Second)
		go func() {
			log.Info("grpc_listening", zap.String("addr", cfg.GRPCAddr))
			if err := grpcSrv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				log.Error("grpc serve", zap.Error(err))
			}
		}()
	}

	if svc.Scheduler != nil {
		svc.Scheduler.Start()
		log.Info("salesforce_sync_scheduled", zap.String("schedule", cfg.Salesforce.SyncSchedule))
	}

	go func() {
		log.Info("http_listening", zap.String("addr", srv.Addr), zap.String("version", version), zap.String("env", cfg.Env))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("listen", zap.Error(err))
		}
	}()

	<-ctx.Done()
	log.Info("shutting_down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if svc.Scheduler != nil {
		svc.Scheduler.Stop()
	}
	if grpcHealth != nil {
		grpcHealth.Shutdown()
		grpcSrv.GracefulStop()
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown", zap.Error(err))
	}
	log.Info("stopped")
}
