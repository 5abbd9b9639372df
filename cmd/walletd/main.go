package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/better-wallet/wallet-core/internal/api"
	"github.com/better-wallet/wallet-core/internal/app"
	"github.com/better-wallet/wallet-core/internal/backend"
	"github.com/better-wallet/wallet-core/internal/biometric"
	"github.com/better-wallet/wallet-core/internal/config"
	"github.com/better-wallet/wallet-core/internal/derivation"
	"github.com/better-wallet/wallet-core/internal/identity"
	"github.com/better-wallet/wallet-core/internal/keycache"
	"github.com/better-wallet/wallet-core/internal/keyexec"
	"github.com/better-wallet/wallet-core/internal/kms"
	"github.com/better-wallet/wallet-core/internal/logger"
	"github.com/better-wallet/wallet-core/internal/metrics"
	"github.com/better-wallet/wallet-core/internal/optin"
	"github.com/better-wallet/wallet-core/internal/session"
	"github.com/better-wallet/wallet-core/internal/sponsor"
	"github.com/better-wallet/wallet-core/internal/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	if err := logger.Init(); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		slog.Error("wallet core stopped with error", "error", err)
		os.Exit(1)
	}
	slog.Info("wallet core stopped")
}

func run(ctx context.Context, cfg *config.Config) error {
	m := metrics.New()

	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	prep := backend.NewHTTPClient(cfg.BackendURL, cfg.BackendToken, cfg.BackendTimeout)
	var submission backend.SubmissionService = prep
	if cfg.SubmissionMode == "algod" {
		algod, err := backend.NewAlgodSubmitter(cfg.AlgodURL, cfg.AlgodToken)
		if err != nil {
			return err
		}
		submission = algod
	}
	slog.Info("configured submission", "mode", cfg.SubmissionMode)

	var auth biometric.Authenticator = biometric.Unsupported{}
	if cfg.BiometricBridgeURL != "" {
		auth = biometric.NewBridgeAuthenticator(cfg.BiometricBridgeURL)
	}

	resolver := session.NewResolver(storage.NewSessionRepository(store))
	restored, err := resolver.Restore(ctx)
	if err != nil {
		return fmt.Errorf("failed to restore session: %w", err)
	}
	slog.Info("saved account restored, sign-in required", "restored", restored)

	cache := keycache.New(derivation.NewEngine(), m)
	signer := keyexec.NewSigner(cache, keyexec.WithMetrics(m))
	submitter := sponsor.NewSubmitter(submission, sponsor.Config{
		Timeout:  cfg.SubmissionTimeout,
		Patterns: cfg.IdempotencyPatterns,
	}, m)
	gate := biometric.NewGate(auth, storage.NewGuardRepository(store), biometric.Config{
		Enabled:  cfg.BiometricEnabled,
		Debounce: cfg.BiometricDebounce,
		Cooldown: cfg.BiometricCooldown,
	}, m)

	var verifier *identity.Verifier
	if cfg.OIDCAudience != "" {
		verifier = identity.NewVerifier(cfg.OIDCAudience, nil)
	}

	wallet := app.NewWalletService(app.Deps{
		Keys:      cache,
		Session:   resolver,
		Gate:      gate,
		Signer:    signer,
		Submitter: submitter,
		OptIns: optin.NewCoordinator(resolver, prep, signer, submitter,
			storage.NewOptInRepository(store), cfg.RequiredAssetIDs, m),
		Addresses:         storage.NewAddressRepository(store),
		Verifier:          verifier,
		FailIfUnsupported: cfg.BiometricFailIfUnsupported,
	})
	// Keys never outlive the process
	defer cache.EvictAll()

	server := api.NewServer(api.Config{
		Addr:           fmt.Sprintf("127.0.0.1:%d", cfg.Port),
		RateLimitRPS:   cfg.RateLimitRPS,
		RateLimitBurst: cfg.RateLimitBurst,
	}, wallet, m)

	return server.Start(ctx)
}

// openStore builds the configured secure storage, sealed when a KMS provider is set
func openStore(ctx context.Context, cfg *config.Config) (storage.SecureStore, func(), error) {
	var (
		store   storage.SecureStore
		closeFn = func() {}
	)

	switch cfg.StorageBackend {
	case "postgres":
		pool, err := storage.OpenPool(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, nil, err
		}
		store = storage.NewPostgresStore(pool.DB())
		closeFn = pool.Close
		slog.Info("connected to database")
	case "redis":
		client, err := storage.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			return nil, nil, err
		}
		store = storage.NewRedisStore(client)
		closeFn = func() { _ = client.Close() }
		slog.Info("connected to redis")
	default:
		store = storage.NewMemoryStore()
		slog.Warn("using in-memory secure storage, state is lost on exit")
	}

	if cfg.KMSProvider == "" {
		return store, closeFn, nil
	}

	provider, err := kms.New(ctx, cfg.KMSConfig())
	if err != nil {
		closeFn()
		return nil, nil, fmt.Errorf("failed to initialize KMS provider: %w", err)
	}
	slog.Info("sealing secure storage", "provider", provider.Name())
	return storage.NewSealedStore(store, provider), closeFn, nil
}
