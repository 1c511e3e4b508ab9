package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/haukened/rr-filter/internal/filter/common/clock"
	"github.com/haukened/rr-filter/internal/filter/common/log"
	"github.com/haukened/rr-filter/internal/filter/config"
	"github.com/haukened/rr-filter/internal/filter/gateways/control"
	"github.com/haukened/rr-filter/internal/filter/gateways/proxy"
	"github.com/haukened/rr-filter/internal/filter/repos/rules"
	"github.com/haukened/rr-filter/internal/filter/repos/state"
	"github.com/haukened/rr-filter/internal/filter/repos/state/bolt"
	"github.com/haukened/rr-filter/internal/filter/services/engine"
)

const (
	// Version information
	version = "0.1.0-dev"
	appName = "rr-filterd"

	// Default timeouts
	defaultShutdownTimeout = 10 * time.Second
)

// Application holds all the components of the filtering daemon
type Application struct {
	config  *config.AppConfig
	store   state.Store
	engine  *engine.Engine
	updater *engine.Updater
	proxy   *proxy.Server
	control *control.Server
}

func main() {
	// Load configuration from environment
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		os.Exit(1)
	}

	// Configure global logging
	err = log.Configure(cfg.Env, cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Logging configuration error: %v\n", err)
		os.Exit(1)
	}

	log.Info(map[string]any{
		"version":         version,
		"env":             cfg.Env,
		"log_level":       cfg.LogLevel,
		"proxy_port":      cfg.ProxyPort,
		"control_port":    cfg.ControlPort,
		"db_path":         cfg.DBPath,
		"sources":         cfg.Sources,
		"update_interval": cfg.UpdateInterval.String(),
	}, "Starting RR-Filter daemon")

	// Build application with all dependencies
	app, err := buildApplication(cfg)
	if err != nil {
		log.Fatal(map[string]any{"error": err}, "Failed to build application")
	}

	// Setup graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		log.Info(map[string]any{"signal": sig.String()}, "Shutdown signal received")
		cancel()
	}()

	// Start the proxy and control servers
	if err := app.Run(ctx); err != nil {
		log.Fatal(map[string]any{"error": err}, "Daemon failed")
	}

	log.Info(nil, "RR-Filter daemon stopped gracefully")
}

// buildApplication constructs all components and wires them together
func buildApplication(cfg *config.AppConfig) (*Application, error) {
	// Create shared clock for consistent time across all components
	clk := &clock.RealClock{}

	// Initialize logger (already configured globally)
	logger := log.GetLogger()

	// Open the persistent state store
	store, err := bolt.New(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open state store: %w", err)
	}

	// Build the interception engine
	eng, err := engine.New(engine.Options{
		Store:     store,
		Logger:    logger,
		Clock:     clk,
		CacheSize: cfg.CacheSize,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build engine: %w", err)
	}

	// Build the rule compiler and updater
	fetcher := rules.NewHTTPFetcher(cfg.FetchTimeout, logger)
	compiler := rules.NewCompiler(rules.CompilerOptions{
		Fetcher:    fetcher,
		Sources:    cfg.Sources,
		Params:     rules.DefaultTrackingParams,
		MinDomains: cfg.MinDomains,
		Clock:      clk,
		Logger:     logger,
	})

	updater := engine.NewUpdater(engine.UpdaterOptions{
		Compiler:   compiler,
		Engine:     eng,
		Store:      store,
		Clock:      clk,
		Logger:     logger,
		Params:     rules.DefaultTrackingParams,
		Interval:   cfg.UpdateInterval,
		StaleAfter: cfg.StaleAfter,
	})

	// Build gateway layer
	proxyAddr := fmt.Sprintf(":%d", cfg.ProxyPort)
	controlAddr := fmt.Sprintf(":%d", cfg.ControlPort)

	return &Application{
		config:  cfg,
		store:   store,
		engine:  eng,
		updater: updater,
		proxy:   proxy.New(proxyAddr, eng, logger),
		control: control.New(controlAddr, eng, updater, logger),
	}, nil
}

// Run starts all components and blocks until context is cancelled
func (app *Application) Run(ctx context.Context) error {
	// Rehydrate the last persisted rule set; fetch immediately if it is
	// missing or stale, otherwise let the recurring schedule handle it.
	if stale := app.updater.Bootstrap(); stale {
		app.updater.ForceUpdate()
	}

	if err := app.proxy.Start(); err != nil {
		return fmt.Errorf("failed to start proxy: %w", err)
	}

	if err := app.control.Start(); err != nil {
		stopErr := app.proxy.Stop()
		if stopErr != nil {
			log.Warn(map[string]any{"error": stopErr}, "Error stopping proxy after failed startup")
		}
		return fmt.Errorf("failed to start control API: %w", err)
	}

	// Background loops: recurring rule updates and debounced counter flushes
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		app.updater.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		app.engine.Run(ctx)
	}()

	log.Info(map[string]any{
		"proxy":   app.proxy.Address(),
		"control": app.control.Address(),
	}, "RR-Filter daemon started")

	// Wait for shutdown signal
	<-ctx.Done()

	log.Info(nil, "Shutdown initiated")

	// Create shutdown context with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
	defer cancel()

	if err := app.proxy.Stop(); err != nil {
		log.Warn(map[string]any{"error": err}, "Error during proxy shutdown")
	}
	if err := app.control.Stop(); err != nil {
		log.Warn(map[string]any{"error": err}, "Error during control shutdown")
	}

	// Wait for background loops to drain (final counter flush happens here)
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-shutdownCtx.Done():
		log.Warn(nil, "Shutdown timeout exceeded, forcing exit")
	}

	if err := app.store.Close(); err != nil {
		log.Warn(map[string]any{"error": err}, "Error closing state store")
	}

	return nil
}
