// Command deviced boots a devicecore-embedding process: it loads
// configuration, selects a storage backend, wires the seven core
// managers together and serves the local pairing HTTP front-end,
// grounded on the teacher's cmd/server main (config -> infra -> router
// -> graceful shutdown) but built around devicecore's own collaborators
// instead of the teacher's auth-service wiring.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap/zapcore"

	"github.com/edgeweave/devicecore/internal/config"
	"github.com/edgeweave/devicecore/internal/domain/models"
	"github.com/edgeweave/devicecore/internal/domain/repository"
	"github.com/edgeweave/devicecore/internal/domain/service"
	"github.com/edgeweave/devicecore/internal/infrastructure/clock"
	devcrypto "github.com/edgeweave/devicecore/internal/infrastructure/crypto"
	"github.com/edgeweave/devicecore/internal/infrastructure/gormstore"
	"github.com/edgeweave/devicecore/internal/infrastructure/httpclient"
	"github.com/edgeweave/devicecore/internal/infrastructure/memstore"
	"github.com/edgeweave/devicecore/internal/infrastructure/metrics"
	"github.com/edgeweave/devicecore/internal/infrastructure/notify/kafkanotify"
	"github.com/edgeweave/devicecore/internal/infrastructure/randsource"
	"github.com/edgeweave/devicecore/internal/infrastructure/redisstore"
	"github.com/edgeweave/devicecore/internal/infrastructure/taskrunner"
	"github.com/edgeweave/devicecore/internal/infrastructure/tracing"
	"github.com/edgeweave/devicecore/internal/infrastructure/vaultsecrets"
	devicehttp "github.com/edgeweave/devicecore/internal/interfaces/http"
	"github.com/edgeweave/devicecore/internal/interfaces/http/handlers"
	"github.com/edgeweave/devicecore/pkg/constants"
	"github.com/edgeweave/devicecore/pkg/logger"

	vault "github.com/hashicorp/vault/api"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func main() {
	log := logger.New(zapcore.InfoLevel)
	defer func() { _ = log }()

	cfg, err := config.Load(log)
	if err != nil {
		log.Error("loading config failed", err)
		os.Exit(1)
	}
	if cfg.Log.Development {
		log = logger.NewDevelopment()
	}

	store, err := buildConfigStore(cfg.Storage, log)
	if err != nil {
		log.Error("building config store failed", err)
		os.Exit(1)
	}

	secrets, err := buildSecretProvider(cfg.Vault, store, log)
	if err != nil {
		log.Error("building secret provider failed", err)
		os.Exit(1)
	}

	notifyChannel := buildNotifyChannel(cfg.Notify, log)
	_ = notifyChannel // wired for revocation/command-push fan-out on hub deployments

	tracer, err := tracing.New(cfg.Tracing, log)
	if err != nil {
		log.Error("starting tracing failed", err)
		os.Exit(1)
	}
	defer func() { _ = tracer.Shutdown(context.Background()) }()

	mx := metrics.New()

	sysClock := clock.New()
	random := randsource.New()
	runner := taskrunner.New()
	defer runner.Stop()

	ctx := context.Background()
	authSecret, err := secrets.AuthSecret(ctx)
	if err != nil {
		log.Error("loading auth secret failed", err)
		os.Exit(1)
	}
	certFingerprint, err := secrets.CertificateFingerprint(ctx)
	if err != nil {
		log.Error("loading certificate fingerprint failed", err)
		os.Exit(1)
	}

	authManager := service.NewAuthManager(authSecret, certFingerprint)

	revocation := service.NewRevocationStore(store, sysClock, constants.JournalCapacity, log)
	if err := revocation.Load(ctx); err != nil {
		log.Error("loading revocation blacklist failed", err)
		os.Exit(1)
	}
	revocation.OnEntryAdded(func() { mx.BlacklistSize.Set(float64(revocation.Size())) })
	mx.BlacklistSize.Set(float64(revocation.Size()))

	securityManager := service.NewSecurityManager(
		authManager,
		revocation,
		exchangerFactory(cfg.Pairing.SecurityDisabled),
		runner,
		sysClock,
		random,
		log,
		service.SecurityManagerConfig{
			AllowedModes:     pairingModes(cfg.Pairing.Modes),
			EmbeddedCode:     []byte(cfg.Pairing.EmbeddedCode),
			SecurityDisabled: cfg.Pairing.SecurityDisabled,
			MaxAttempts:      cfg.Pairing.MaxAttempts,
			BlockDuration:    cfg.Pairing.BlockDuration,
			PairingTTL:       cfg.Pairing.PairingTTL,
			SessionTTL:       cfg.Pairing.SessionTTL,
			AccessTokenTTL:   cfg.Pairing.AccessTokenTTL,
		},
	)

	queue := service.NewCommandQueue(runner, log)
	queue.OnAdded(func(*models.CommandInstance) { mx.CommandQueueDepth.Set(float64(queue.Count())) })
	queue.OnRemoved(func(*models.CommandInstance) { mx.CommandQueueDepth.Set(float64(queue.Count())) })

	components := service.NewComponentManager(queue, sysClock, log)

	httpDoer := httpclient.New(httpclient.Config{}, log)

	registration := service.NewRegistrationManager(
		httpDoer,
		store,
		runner,
		sysClock,
		queue,
		components,
		authManager,
		cfg.Cloud.DeviceID,
		cfg.Cloud.ModelID,
		models.RegistrationSettings{
			OAuthURL:               cfg.Cloud.OAuthURL,
			ServiceURL:             cfg.Cloud.ServiceURL,
			APIKey:                 cfg.Cloud.APIKey,
			ClientID:               cfg.Cloud.ClientID,
			ClientSecret:           cfg.Cloud.ClientSecret,
			XMPPEndpoint:           cfg.Cloud.XMPPEndpoint,
			AllowEndpointsOverride: cfg.Cloud.AllowEndpointsOverride,
		},
		log,
	)
	registrationStates := []string{
		string(models.StateUnconfigured), string(models.StateConnecting),
		string(models.StateConnected), string(models.StateInvalidCredentials),
	}
	registration.OnStateChanged(func(s models.GcdState) { mx.SetRegistrationState(registrationStates, string(s)) })
	mx.SetRegistrationState(registrationStates, string(registration.State()))
	if registration.State() == models.StateConnecting {
		runner.PostTask(func() {
			registration.RefreshAccessToken(ctx, func(err error) {
				if err != nil {
					log.Warn("initial token refresh failed", logger.Err(err))
				}
			})
		})
	}

	pairingHandler := handlers.NewPairingHandler(securityManager, sysClock, cfg.Pairing.AccessTokenTTL)
	healthHandler := handlers.NewHealthHandler(registration)
	router := devicehttp.NewRouter(cfg, log, pairingHandler, healthHandler)
	router.SetupRoutes()

	errCh := make(chan error, 1)
	go func() {
		if err := router.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		log.Error("http server failed", err)
	case <-sigCh:
		log.Info("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := router.Shutdown(shutdownCtx); err != nil {
		log.Error("http server shutdown failed", err)
	}
}

func pairingModes(names []string) []constants.PairingMode {
	modes := make([]constants.PairingMode, 0, len(names))
	for _, n := range names {
		modes = append(modes, constants.PairingMode(n))
	}
	return modes
}

func exchangerFactory(securityDisabled bool) service.ExchangerFactory {
	return func(crypto constants.CryptoType, code []byte) (models.KeyExchanger, error) {
		switch crypto {
		case constants.CryptoTypeSpakeP224:
			return devcrypto.NewSpakeP224Exchanger(code)
		case constants.CryptoTypeNone:
			if !securityDisabled {
				return nil, errors.New("\"none\" crypto requires pairing.security_disabled")
			}
			return devcrypto.NewUnsecureExchanger(code), nil
		default:
			return nil, errors.New("unsupported crypto type")
		}
	}
}

func buildConfigStore(cfg config.StorageConfig, log logger.Logger) (repository.ConfigStore, error) {
	switch cfg.Backend {
	case "", "memory":
		return memstore.New(), nil
	case "redis":
		return redisstore.New(redisstore.Config{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		}, log)
	case "postgres":
		db, err := gorm.Open(postgres.Open(cfg.Postgres.DSN), &gorm.Config{})
		if err != nil {
			return nil, err
		}
		return gormstore.New(db, log)
	case "sqlite":
		db, err := gorm.Open(sqlite.Open(cfg.SQLite.Path), &gorm.Config{})
		if err != nil {
			return nil, err
		}
		return gormstore.New(db, log)
	default:
		return nil, errors.New("unknown storage backend: " + cfg.Backend)
	}
}

func buildSecretProvider(cfg config.VaultConfig, store repository.ConfigStore, log logger.Logger) (repository.SecretProvider, error) {
	if !cfg.Enabled {
		return configStoreSecrets{store: store}, nil
	}
	vc, err := vault.NewClient(&vault.Config{Address: cfg.Address})
	if err != nil {
		return nil, err
	}
	vc.SetToken(cfg.Token)
	return vaultsecrets.New(vc, vaultsecrets.Config{MountPath: cfg.MountPath, SecretPath: cfg.SecretKey}, log), nil
}

func buildNotifyChannel(cfg config.NotifyConfig, log logger.Logger) repository.NotificationChannel {
	if cfg.Backend != "kafka" {
		return kafkanotify.Noop{}
	}
	ch := kafkanotify.New(kafkanotify.Config{Brokers: cfg.Brokers, Topic: cfg.RevokeTopic}, log)
	go ch.Start(context.Background())
	return ch
}

// configStoreSecrets is the fallback repository.SecretProvider used when
// Vault is not configured: the device's long-term secrets live in the
// same config store as everything else, generated once on first boot.
type configStoreSecrets struct {
	store repository.ConfigStore
}

const secretsKey = "device_secrets"

func (s configStoreSecrets) AuthSecret(ctx context.Context) ([]byte, error) {
	secret, _, err := s.loadOrCreate(ctx)
	return secret, err
}

func (s configStoreSecrets) CertificateFingerprint(ctx context.Context) ([]byte, error) {
	_, fingerprint, err := s.loadOrCreate(ctx)
	return fingerprint, err
}

func (s configStoreSecrets) loadOrCreate(ctx context.Context) (authSecret, certFingerprint []byte, err error) {
	raw, err := s.store.Load(ctx, secretsKey)
	if err != nil {
		return nil, nil, err
	}
	if len(raw) == 32+32 {
		return raw[:32], raw[32:], nil
	}

	generated := randsource.New().Bytes(64)
	done := make(chan error, 1)
	s.store.Save(ctx, secretsKey, generated, func(err error) { done <- err })
	if err := <-done; err != nil {
		return nil, nil, err
	}
	return generated[:32], generated[32:], nil
}
