// Package main initializes and starts the GophAuth local API server,
// setting up configuration, logging, storage, the encrypted vault, the app
// lock, services, handlers and optional TLS.
package main

import (
	"cmp"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	nethttp "net/http"

	"github.com/atinyakov/GophAuth/internal/certgen"
	"github.com/atinyakov/GophAuth/internal/config"
	"github.com/atinyakov/GophAuth/internal/crypto"
	"github.com/atinyakov/GophAuth/internal/db"
	"github.com/atinyakov/GophAuth/internal/lock"
	"github.com/atinyakov/GophAuth/internal/logger"
	"github.com/atinyakov/GophAuth/internal/repository"
	"github.com/atinyakov/GophAuth/internal/server/handler/http"
	"github.com/atinyakov/GophAuth/internal/service"
	"github.com/atinyakov/GophAuth/internal/settings"
	"github.com/atinyakov/GophAuth/internal/storage"
	"github.com/atinyakov/GophAuth/internal/vault"
	"go.uber.org/zap"
)

var (
	// version holds the build version set via ldflags.
	version string
	// buildDate holds the build timestamp set via ldflags.
	buildDate string
)

const (
	autoLockInterval = 5 * time.Second
	shutdownTimeout  = 10 * time.Second
)

func main() {
	// Parse command-line, config file and environment configuration.
	options := config.Parse()

	// Print build metadata (or "N/A" if unset).
	fmt.Printf("Build version: %s\n", cmp.Or(version, "N/A"))
	fmt.Printf("Build date: %s\n", cmp.Or(buildDate, "N/A"))

	// Initialize structured logging.
	log := logger.New()
	defer func() { _ = log.Log.Sync() }()
	if err := log.Init(options.LogLevel); err != nil {
		log.Log.Fatal("failed to init logger", zap.Error(err))
	}
	zapLogger := log.Log

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, options, zapLogger); err != nil {
		zapLogger.Fatal("server stopped", zap.Error(err))
	}
}

func run(ctx context.Context, options *config.Options, zapLogger *zap.Logger) error {
	if err := os.MkdirAll(options.DataDir, 0o700); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	// Initialize the persistent store selected by configuration.
	store, closeStore, err := openStore(ctx, options, zapLogger)
	if err != nil {
		return err
	}
	defer closeStore()

	// Load the vault encryption key.
	keys, err := loadKey(options)
	if err != nil {
		return err
	}

	// Open the vault, settings and lock machine.
	v, err := vault.Open(ctx, store, crypto.NewAESGCM(keys), vault.WithLogger(zapLogger))
	if err != nil {
		return fmt.Errorf("open vault: %w", err)
	}
	prefs, err := settings.Open(ctx, store, zapLogger)
	if err != nil {
		return fmt.Errorf("open settings: %w", err)
	}
	machine, err := lock.New(ctx, store, prefs,
		lock.WithLogger(zapLogger),
		lock.WithFailureHook(func(n int) {
			zapLogger.Warn("unlock failed", zap.Int("failed_attempts", n))
		}),
	)
	if err != nil {
		return fmt.Errorf("init lock: %w", err)
	}

	// Lock the app after inactivity.
	lock.StartAutoLock(ctx, machine, autoLockInterval, time.Duration(options.AutoLockIdle), zapLogger)

	// Initialize business-logic service and HTTP handlers.
	svc := service.NewAuthenticator(v, machine, prefs, service.WithLogger(zapLogger))
	router := http.NewRouter(
		&http.LockHandler{LockService: svc},
		&http.AccountHandler{AccountService: svc},
		&http.TransferHandler{TransferService: svc},
		&http.SettingsHandler{Settings: prefs},
		machine,
		zapLogger,
	)

	server := &nethttp.Server{
		Addr:              options.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	if options.TLS {
		cert, err := certgen.EnsureServerCertificate(options.TLSCertPath(), options.TLSKeyPath(), []string{"localhost", "127.0.0.1", "::1"})
		if err != nil {
			return fmt.Errorf("server certificate: %w", err)
		}
		server.TLSConfig = &tls.Config{
			Certificates: []tls.Certificate{cert},
			MinVersion:   tls.VersionTLS12,
		}
	}

	errCh := make(chan error, 1)
	go func() {
		var err error
		if server.TLSConfig != nil {
			zapLogger.Info("starting HTTPS server", zap.String("addr", options.Addr), zap.String("ca", options.TLSCertPath()))
			err = server.ListenAndServeTLS("", "")
		} else {
			zapLogger.Info("starting HTTP server", zap.String("addr", options.Addr))
			err = server.ListenAndServe()
		}
		errCh <- err
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	zapLogger.Info("shutting down")
	machine.Lock()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, nethttp.ErrServerClosed) {
		return err
	}
	return nil
}

// openStore returns the configured storage.Store and a function releasing it.
func openStore(ctx context.Context, options *config.Options, zapLogger *zap.Logger) (storage.Store, func(), error) {
	var (
		driver db.Driver
		dsn    string
	)
	switch options.Storage {
	case config.StorageFile:
		s, err := storage.NewFileStore(options.DataDir)
		if err != nil {
			return nil, nil, fmt.Errorf("open file store: %w", err)
		}
		return s, func() {}, nil
	case config.StorageSQLite:
		driver, dsn = db.DriverSQLite, options.SQLiteDSN()
	case config.StoragePostgres:
		driver, dsn = db.DriverPostgres, options.DatabaseDSN
	default:
		return nil, nil, fmt.Errorf("unknown storage %q", options.Storage)
	}

	conn, err := db.Open(ctx, driver, dsn, zapLogger)
	if err != nil {
		return nil, nil, fmt.Errorf("cannot init database: %w", err)
	}
	if err := db.Migrate(ctx, conn, driver, zapLogger); err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("migrate database: %w", err)
	}
	return repository.NewSQLStore(conn, driver), func() { _ = conn.Close() }, nil
}

func loadKey(options *config.Options) (crypto.KeyProvider, error) {
	if options.VaultKey != "" {
		k, err := crypto.KeyFromBase64(options.VaultKey)
		if err != nil {
			return nil, fmt.Errorf("vault key: %w", err)
		}
		return k, nil
	}
	k, err := crypto.LoadOrCreateKeyFile(options.KeyPath())
	if err != nil {
		return nil, fmt.Errorf("vault key file: %w", err)
	}
	return k, nil
}
