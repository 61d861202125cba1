// Command eftd serves the transaction viewer API.
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

	"go.uber.org/zap"

	"github.com/bentedesco/eft-fingerprint-viewer/internal/common"
	"github.com/bentedesco/eft-fingerprint-viewer/internal/images"
	"github.com/bentedesco/eft-fingerprint-viewer/internal/rules"
	"github.com/bentedesco/eft-fingerprint-viewer/internal/server"
)

func main() {
	configPath := flag.String("config", "", "path to YAML configuration file")
	addr := flag.String("addr", "", "listen address (overrides config)")
	flag.Parse()

	if err := run(*configPath, *addr); err != nil {
		fmt.Fprintf(os.Stderr, "eftd: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath, addrOverride string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if addrOverride != "" {
		cfg.Addr = addrOverride
	}
	if err := os.MkdirAll(cfg.StorageDir, 0o755); err != nil {
		return fmt.Errorf("storage dir: %w", err)
	}
	closeLogs, err := common.SetupLogging(cfg.Logs)
	if err != nil {
		return fmt.Errorf("setup logging: %w", err)
	}
	defer closeLogs()
	log := common.Logger()

	srv, err := newServer(cfg)
	if err != nil {
		return fmt.Errorf("server init: %w", err)
	}
	defer srv.Close()

	httpServer := &http.Server{
		Addr:         cfg.Addr,
		Handler:      server.NewRouter(srv),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errc := make(chan error, 1)
	go func() {
		log.Info("eftd listening", zap.String("addr", cfg.Addr), zap.String("storage", cfg.StorageDir))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warn("shutdown", zap.Error(err))
	}
	log.Info("eftd stopped")
	return nil
}

func newServer(cfg config) (*server.Server, error) {
	table := rules.DefaultTable()
	if cfg.PolicyFile != "" {
		t, err := rules.LoadTable(cfg.PolicyFile)
		if err != nil {
			return nil, fmt.Errorf("policy table: %w", err)
		}
		table = t
	}
	codecs := images.DefaultRegistry(cfg.CodecBinDir)
	for _, f := range []images.Format{images.JPEG2000, images.WSQ, images.JPEG} {
		if !codecs.Supports(f) {
			common.Warnf("no codec available for %s images; they will be reported as undecodable", f.Label())
		}
	}
	return server.NewServer(server.Options{
		StorageDir:     cfg.StorageDir,
		Engine:         rules.NewEngine(table),
		Codec:          codecs,
		Decode:         images.DecodeOptions{Concurrency: cfg.Concurrency, Timeout: cfg.DecodeTimeout},
		Concurrency:    cfg.Concurrency,
		MaxUploadBytes: cfg.MaxUploadMB << 20,
		RateLimit:      cfg.RateLimit,
		RateBurst:      cfg.RateBurst,
		TrustedProxies: cfg.TrustedProxies,
		ArtifactTTL:    cfg.ArtifactTTL,
	})
}
