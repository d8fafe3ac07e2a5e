package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/facturaIA/invoice-scanner/api"
	"github.com/facturaIA/invoice-scanner/internal/app"
	"github.com/facturaIA/invoice-scanner/internal/auth"
	"github.com/facturaIA/invoice-scanner/internal/config"
	"github.com/facturaIA/invoice-scanner/internal/logging"
	"github.com/facturaIA/invoice-scanner/internal/models"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML config file")
	debug := flag.Bool("debug", false, "enable development logging")
	issueToken := flag.String("issue-token", "", "print a bearer token for this subject and exit")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *debug {
		cfg.Log.Development = true
		cfg.Log.Level = "debug"
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	var authn *auth.Authenticator
	if cfg.Auth.JWTSecret != "" {
		authn = auth.New(cfg.Auth)
	}
	if *issueToken != "" {
		if authn == nil {
			logger.Fatal("JWT secret is not configured")
		}
		token, err := authn.GenerateToken(*issueToken, "user")
		if err != nil {
			logger.Fatal("Failed to issue token", zap.Error(err))
		}
		fmt.Println(token)
		return
	}

	if err := run(cfg, authn, logger); err != nil {
		logger.Fatal("Server failed", zap.Error(err))
	}
}

func run(cfg *models.Config, authn *auth.Authenticator, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	a, err := app.Build(ctx, cfg, reg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	deps := api.Deps{
		Config:  cfg,
		Scanner: a.Extractor,
		Sinks:   a.Dispatcher,
		Queue:   a.Queue,
		Usage:   a.Usage,
		Auth:    authn,
		Metrics: promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}),
		Logger:  logger.Named("api"),
	}
	// Typed nils must not reach the interface fields
	if a.Store != nil {
		deps.Scans = a.Store
	}
	if a.Archive != nil {
		deps.Images = a.Archive
	}
	handler := api.NewHandler(deps)

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler.SetupRoutes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("Starting invoice scanner",
		zap.String("version", api.Version),
		zap.String("addr", addr),
		zap.String("provider", a.ProviderName()),
		zap.Bool("database", a.Store != nil),
		zap.Bool("storage", a.Archive != nil),
		zap.Bool("sinks", a.Dispatcher.Enabled()),
		zap.Bool("auth", authn != nil))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
