package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/facturaIA/invoice-scanner/internal/app"
	"github.com/facturaIA/invoice-scanner/internal/bulk"
	"github.com/facturaIA/invoice-scanner/internal/config"
	"github.com/facturaIA/invoice-scanner/internal/logging"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML config file")
	dir := flag.String("dir", ".", "directory of invoice images to scan")
	out := flag.String("out", "", "write an XLSX report to this path")
	dryRun := flag.Bool("dry-run", false, "extract only, do not send to the sinks")
	debug := flag.Bool("debug", false, "enable development logging")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	cfg.Log.Development = true
	if *debug {
		cfg.Log.Level = "debug"
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	paths, err := bulk.ListDocuments(*dir)
	if err != nil {
		logger.Fatal("Failed to list documents", zap.Error(err))
	}
	if len(paths) == 0 {
		logger.Info("No documents found", zap.String("dir", *dir))
		return
	}

	a, err := app.Build(ctx, cfg, nil, logger)
	if err != nil {
		logger.Fatal("Failed to initialize", zap.Error(err))
	}
	defer a.Close()

	var submitter bulk.Submitter
	switch {
	case *dryRun:
		logger.Info("Dry run, sinks disabled")
	case !a.Dispatcher.Enabled():
		logger.Warn("No sink configured, extracting only")
	default:
		submitter = a.Dispatcher
	}

	logger.Info("Starting bulk scan",
		zap.String("dir", *dir),
		zap.Int("files", len(paths)),
		zap.String("provider", a.ProviderName()))

	results, summary := bulk.NewRunner(a.Extractor, submitter, logger).Run(ctx, paths)
	logger.Info("Bulk scan finished",
		zap.Int("files", summary.Files),
		zap.Int("extracted", summary.Extracted),
		zap.Int("submitted", summary.Submitted),
		zap.Int("failed", summary.Failed),
		zap.Int64("tokens", summary.Tokens))

	if *out != "" {
		if err := writeReport(*out, results, a); err != nil {
			logger.Error("Failed to write report", zap.String("path", *out), zap.Error(err))
		} else {
			logger.Info("Report written", zap.String("path", *out))
		}
	}

	fmt.Println(summary)
	if summary.Failed > 0 {
		a.Close()
		os.Exit(2)
	}
}

func writeReport(path string, results []bulk.FileResult, a *app.App) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := bulk.WriteReport(f, results, a.Registry); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
