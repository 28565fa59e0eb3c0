// Package main is the entrypoint for the filen-webdav gateway.
package main

import (
	"context"
	"errors"
	"flag"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"syscall"
	"time"

	"github.com/filen-community/filen-webdav/internal/cache"
	"github.com/filen-community/filen-webdav/internal/config"
	"github.com/filen-community/filen-webdav/internal/fs/memfs"
	"github.com/filen-community/filen-webdav/internal/logutil"
	"github.com/filen-community/filen-webdav/internal/ratelimit"
	"github.com/filen-community/filen-webdav/internal/server"
	"github.com/filen-community/filen-webdav/internal/webdav"

	// Register cache drivers.
	_ "github.com/filen-community/filen-webdav/internal/cache/loader"
)

const (
	logMaxBytes = 10 << 20
	logMaxAge   = 7 * 24 * time.Hour
	logKeep     = 3
)

func main() {
	configPath := flag.String("config", "", "Path to TOML config file (optional)")
	hostname := flag.String("hostname", "", "Listen address (overrides config)")
	port := flag.Int("port", 0, "Listen port (overrides config)")
	authMode := flag.String("auth-mode", "", "Auth scheme: basic or digest (overrides config)")
	https := flag.Bool("https", false, "Enable TLS (overrides config)")
	disableLogging := flag.Bool("disable-logging", false, "Drop the access log (overrides config)")
	threads := flag.Int("threads", 0, "Scheduling parallelism (overrides config)")
	tlsMode := flag.String("tls-mode", "", "TLS mode: selfsigned, static, or acme (overrides config)")
	logLevel := flag.String("log-level", "", "Log level: debug, info, warn, error (overrides config)")
	cacheDriver := flag.String("cache-driver", "", "Cache driver: memory or redis (overrides config)")
	flag.Parse()

	bootstrapLogger := logutil.New(os.Stdout, slog.LevelInfo)

	overrides := config.FlagOverrides{
		Hostname:     hostname,
		Port:         port,
		AuthMode:     authMode,
		Threads:      threads,
		TLSMode:      tlsMode,
		LoggingLevel: logLevel,
		CacheDriver:  cacheDriver,
	}
	// Boolean flags only override when set explicitly.
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "https":
			overrides.HTTPS = https
		case "disable-logging":
			overrides.DisableLogging = disableLogging
		}
	})

	cfg, err := config.Load(config.LoaderOptions{
		ConfigPath: *configPath,
		Flags:      overrides,
	})
	if err != nil {
		bootstrapLogger.Error("loading config failed", "error", err)
		os.Exit(1)
	}

	logger, closeLogs, err := buildLogger(cfg)
	if err != nil {
		bootstrapLogger.Error("initializing logging failed", "error", err)
		os.Exit(1)
	}
	defer closeLogs()
	slog.SetDefault(logger)

	logger.Info("effective configuration", "config", cfg.Redacted())

	if cfg.Threads > 0 {
		runtime.GOMAXPROCS(cfg.Threads)
	}

	if err := run(cfg, logger); err != nil {
		logger.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	cacheInstance, err := cache.New(cfg.Cache.Driver, driverConfig(cfg), logger)
	if err != nil {
		return err
	}
	defer cacheInstance.Close()

	scratchDir, err := config.ScratchDir()
	if err != nil {
		return err
	}
	scratch := webdav.NewScratch(scratchDir, cfg.TempFilesToStoreOnDisk, logger)
	// Scratch content is plaintext and never meant to outlive the process.
	if err := scratch.Reset(); err != nil {
		return err
	}

	// The storage connector boundary is internal/fs. Until a native SDK
	// session implementation is wired in, the built-in in-memory store
	// backs the single-tenant mode; proxy mode has nothing to log in to.
	if cfg.ProxyMode() {
		return errors.New("proxy mode requires a backend connector; configure a [user] instead")
	}

	registry := webdav.NewRegistry(nil, cacheInstance, logger)
	registry.AddStatic(cfg.User.Username, memfs.New(1<<40))

	static := &webdav.StaticUser{
		Username:     cfg.User.Username,
		Password:     cfg.User.Password,
		PasswordHash: cfg.User.PasswordHash,
	}
	auth, err := webdav.NewAuthenticator(webdav.AuthMode(cfg.AuthMode), static, registry, logger)
	if err != nil {
		return err
	}

	limiter := ratelimit.New(cacheInstance, &ratelimit.Config{
		RequestsPerWindow: cfg.RateLimit.Limit,
		Window:            time.Duration(cfg.RateLimit.WindowMS) * time.Millisecond,
		KeyPrefix:         "ratelimit:",
	})

	dav := webdav.NewHandler(registry, scratch, logger)
	srv := server.New(cfg, dav, auth, limiter, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return srv.Stop(shutdownCtx, false)
}

// buildLogger constructs the process logger, mirroring into a rotating
// file sink when configured.
func buildLogger(cfg *config.Config) (*slog.Logger, func(), error) {
	level := logutil.ParseLevel(cfg.Logging.Level)
	closeLogs := func() {}

	var w io.Writer = os.Stdout
	if cfg.Logging.ToFile {
		dir, err := cfg.LogsDir()
		if err != nil {
			return nil, nil, err
		}
		rw, err := logutil.NewRotatingWriter(filepath.Join(dir, "webdav.log"), logMaxBytes, logMaxAge, logKeep)
		if err != nil {
			return nil, nil, err
		}
		w = io.MultiWriter(os.Stdout, rw)
		closeLogs = func() { rw.Close() }
	}
	return logutil.New(w, level), closeLogs, nil
}

// driverConfig extracts the active driver's section from [cache.drivers].
func driverConfig(cfg *config.Config) map[string]any {
	raw, ok := cfg.Cache.Drivers[cfg.Cache.Driver]
	if !ok {
		return nil
	}
	section, _ := raw.(map[string]any)
	return section
}
