package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	cloudstorage "cloud.google.com/go/storage"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	"github.com/pharmly/api/internal/di"
	"github.com/pharmly/api/internal/handlers"
	"github.com/pharmly/api/internal/platform/auth"
	"github.com/pharmly/api/internal/platform/config"
	pfirestore "github.com/pharmly/api/internal/platform/firestore"
	"github.com/pharmly/api/internal/platform/idempotency"
	"github.com/pharmly/api/internal/platform/jobs"
	"github.com/pharmly/api/internal/platform/observability"
	"github.com/pharmly/api/internal/platform/secrets"
	platformstorage "github.com/pharmly/api/internal/platform/storage"
	"github.com/pharmly/api/internal/repositories"
	firestoreRepo "github.com/pharmly/api/internal/repositories/firestore"
	"github.com/pharmly/api/internal/repositories/memory"
	"github.com/pharmly/api/internal/services"
)

const (
	shutdownTimeout        = 10 * time.Second
	cleanupRunTimeout      = time.Minute
	checkoutRateLimit      = 10
	checkoutRateWindow     = time.Minute
	secretHealthReference  = "secret://system/healthz?version=latest"
	firestoreHealthTimeout = 1500 * time.Millisecond
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	startedAt := time.Now().UTC()

	baseLogger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()

	logger := baseLogger.Named("api")
	ctx = observability.WithLogger(ctx, logger)

	fetcher, err := newSecretFetcher(ctx, logger)
	if err != nil {
		logger.Fatal("failed to initialise secret fetcher", zap.Error(err))
	}
	defer func() {
		if err := fetcher.Close(); err != nil {
			logger.Warn("secret fetcher close error", zap.Error(err))
		}
	}()

	cfg, err := config.Load(ctx, config.WithSecretResolver(config.SecretResolverFunc(fetcher.Resolve)))
	if err != nil {
		var invalid *config.ValidationError
		if errors.As(err, &invalid) {
			logger.Fatal("invalid configuration", zap.Strings("fields", invalid.Fields()))
		}
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	buildInfo := buildInfoFromEnv(cfg, startedAt)

	backend, err := newStorage(ctx, logger, cfg)
	if err != nil {
		logger.Fatal("failed to initialise repositories", zap.Error(err))
	}

	publisher, topic, closePubSub, err := newOrderEventPublisher(ctx, cfg.PubSub)
	if err != nil {
		logger.Fatal("failed to initialise order event publisher", zap.Error(err))
	}
	defer closePubSub()

	storageClient, err := cloudstorage.NewClient(ctx)
	if err != nil {
		logger.Fatal("failed to initialise storage client", zap.Error(err))
	}
	defer func() {
		if err := storageClient.Close(); err != nil {
			logger.Warn("storage close error", zap.Error(err))
		}
	}()

	idempotencyStore := backend.idempotency

	healthRepo, err := newHealthRepository(backend.ping, topic, fetcher)
	if err != nil {
		logger.Fatal("failed to initialise health checks", zap.Error(err))
	}

	containerOpts := []di.Option{
		di.WithLogger(logger),
		di.WithBuildInfo(buildInfo),
		di.WithOrderEvents(publisher),
		di.WithIdempotencyCleaner(idempotencyStore),
		di.WithHealthRepository(healthRepo),
	}
	if uploads, images, ok := newProductImageStorage(logger, cfg.Storage, storageClient); ok {
		containerOpts = append(containerOpts, di.WithProductImages(uploads, images))
	}

	container, err := di.NewContainer(ctx, cfg, backend.registry, containerOpts...)
	if err != nil {
		logger.Fatal("failed to initialise services", zap.Error(err))
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := container.Close(closeCtx); err != nil {
			logger.Warn("repository close error", zap.Error(err))
		}
	}()
	svc := container.Services

	firebaseVerifier, err := auth.NewFirebaseVerifier(ctx, cfg.Firebase)
	if err != nil {
		logger.Fatal("failed to initialise firebase verifier", zap.Error(err))
	}
	authenticator := auth.NewAuthenticator(firebaseVerifier)

	idempotencyMiddleware := idempotency.Middleware(
		idempotencyStore,
		idempotency.WithHeader(cfg.Idempotency.Header),
		idempotency.WithTTL(cfg.Idempotency.TTL),
	)

	projectID := traceProjectID(cfg)
	middlewares := []func(http.Handler) http.Handler{
		observability.InjectLoggerMiddleware(logger.Named("http")),
		observability.TraceMiddleware(projectID),
		observability.RecoveryMiddleware(logger.Named("http")),
		observability.RequestLoggerMiddleware(),
	}

	healthHandlers := handlers.NewHealthHandlers(
		handlers.WithHealthBuildInfo(buildInfo),
		handlers.WithHealthSystemService(svc.System),
	)
	cartHandlers := handlers.NewCartHandlers(authenticator, svc.Cart)
	checkoutHandlers := handlers.NewCheckoutHandlers(authenticator, svc.Orders,
		handlers.WithCheckoutIdempotency(idempotencyMiddleware),
		handlers.WithCheckoutRateLimit(checkoutRateLimit, checkoutRateWindow, time.Now),
	)
	orderHandlers := handlers.NewOrderHandlers(authenticator, svc.Orders)
	productHandlers := handlers.NewProductHandlers(svc.Catalog)
	pharmacyHandlers := handlers.NewPharmacyHandlers(authenticator, svc.Orders, svc.Catalog)
	internalHandlers := handlers.NewInternalHandlers(svc.Orders, svc.System)

	opts := []handlers.Option{
		handlers.WithMiddlewares(middlewares...),
		handlers.WithHealthHandlers(healthHandlers),
		handlers.WithCartRoutes(cartHandlers.Routes),
		handlers.WithCheckoutRoutes(checkoutHandlers.Routes),
		handlers.WithOrderRoutes(orderHandlers.Routes),
		handlers.WithProductRoutes(productHandlers.Routes),
		handlers.WithPharmacyRoutes(pharmacyHandlers.Routes),
		handlers.WithInternalRoutes(internalHandlers.Routes),
	}
	if oidcMiddleware := buildOIDCMiddleware(logger.Named("auth"), cfg); oidcMiddleware != nil {
		opts = append(opts, handlers.WithInternalMiddlewares(oidcMiddleware))
	}

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      handlers.NewRouter(opts...),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
		ErrorLog:     observability.NewStdLogger(logger.Named("http"), zapcore.WarnLevel),
	}

	group, groupCtx := errgroup.WithContext(ctx)
	serverLogger := logger.Named("http").With(zap.String("addr", server.Addr))
	group.Go(func() error {
		serverLogger.Info("pharmly api listening",
			zap.String("version", buildInfo.Version),
			zap.String("reservationPolicy", cfg.Orders.ReservationPolicy),
			zap.String("repositoryBackend", cfg.Repository.Backend),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	if svc.System != nil && cfg.Idempotency.CleanupInterval > 0 {
		group.Go(func() error {
			runIdempotencyCleanup(groupCtx, logger.Named("idempotency"), svc.System, cfg.Idempotency.CleanupInterval)
			return nil
		})
	}
	group.Go(func() error {
		<-groupCtx.Done()
		logger.Info("shutdown signal received; draining requests")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown: %w", err)
		}
		return nil
	})

	if err := group.Wait(); err != nil {
		logger.Error("api stopped with error", zap.Error(err))
	}
}

func runIdempotencyCleanup(ctx context.Context, logger *zap.Logger, system services.SystemService, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			runCtx, cancel := context.WithTimeout(ctx, cleanupRunTimeout)
			removed, err := system.CleanupIdempotencyKeys(runCtx)
			cancel()
			if err != nil {
				logger.Error("idempotency cleanup error", zap.Error(err))
				continue
			}
			if removed > 0 {
				logger.Info("idempotency cleanup removed records", zap.Int("count", removed))
			}
		case <-ctx.Done():
			return
		}
	}
}

func buildInfoFromEnv(cfg config.Config, started time.Time) services.BuildInfo {
	version := strings.TrimSpace(os.Getenv("API_BUILD_VERSION"))
	if version == "" {
		version = "dev"
	}
	environment := strings.TrimSpace(cfg.Security.Environment)
	if environment == "" {
		environment = "local"
	}
	return services.BuildInfo{
		Version:     version,
		Environment: environment,
		StartedAt:   started,
	}
}

func newOrderEventPublisher(ctx context.Context, cfg config.PubSubConfig) (*jobs.PubSubOrderEventPublisher, *pubsub.Topic, func(), error) {
	var opts []option.ClientOption
	if host := strings.TrimSpace(cfg.EmulatorHost); host != "" {
		opts = append(opts,
			option.WithoutAuthentication(),
			option.WithEndpoint(host),
			option.WithGRPCDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
		)
	}
	client, err := pubsub.NewClient(ctx, cfg.ProjectID, opts...)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("pubsub client: %w", err)
	}
	topic := client.Topic(cfg.OrderEventsTopic)
	publisher, err := jobs.NewPubSubOrderEventPublisher(topic)
	if err != nil {
		_ = client.Close()
		return nil, nil, nil, err
	}
	closeFn := func() {
		publisher.Close()
		_ = client.Close()
	}
	return publisher, topic, closeFn, nil
}

func newProductImageStorage(logger *zap.Logger, cfg config.StorageConfig, client *cloudstorage.Client) (services.ImageUploadSigner, services.ImagePrefixRemover, bool) {
	bucket := strings.TrimSpace(cfg.ProductImagesBucket)
	credentials := strings.TrimSpace(cfg.SignerCredentials)
	if bucket == "" || credentials == "" {
		logger.Warn("product image uploads disabled; bucket or signer credentials missing")
		return nil, nil, false
	}
	signer, err := platformstorage.NewServiceAccountSigner(credentials)
	if err != nil {
		logger.Fatal("failed to parse storage signer credentials", zap.Error(err))
	}
	uploads, err := platformstorage.NewClient(bucket, signer, platformstorage.WithUploadExpiry(cfg.UploadURLExpiry))
	if err != nil {
		logger.Fatal("failed to initialise signed url client", zap.Error(err))
	}
	remover, err := platformstorage.NewObjectRemover(client, bucket)
	if err != nil {
		logger.Fatal("failed to initialise object remover", zap.Error(err))
	}
	return uploads, remover, true
}

type storageBackend struct {
	registry    repositories.Registry
	idempotency idempotency.Store
	// ping is nil when the backend has no remote dependency to check.
	ping func(context.Context) error
}

// newStorage builds the repository registry and idempotency store for the configured backend.
func newStorage(ctx context.Context, logger *zap.Logger, cfg config.Config) (storageBackend, error) {
	if cfg.Repository.Backend == config.RepositoryBackendMemory {
		logger.Warn("using in-memory repositories; data does not survive restarts",
			zap.String("pharmacyId", cfg.Repository.MemoryPharmacyID),
		)
		registry := memory.NewStore(
			memory.WithDefaultPharmacy(cfg.Repository.MemoryPharmacyID),
			memory.WithMaxAttempts(cfg.Orders.TxAttempts),
		)
		return storageBackend{registry: registry, idempotency: idempotency.NewMemoryStore()}, nil
	}

	provider := pfirestore.NewProvider(cfg.Firestore,
		pfirestore.WithDefaultTxOptions(
			pfirestore.WithTxAttempts(cfg.Orders.TxAttempts),
			pfirestore.WithTxTimeout(cfg.Orders.TxTimeout),
		),
	)
	if _, err := provider.Client(ctx); err != nil {
		return storageBackend{}, fmt.Errorf("firestore client: %w", err)
	}
	registry, err := firestoreRepo.NewRegistry(provider)
	if err != nil {
		return storageBackend{}, err
	}
	return storageBackend{
		registry:    registry,
		idempotency: idempotency.NewFirestoreStore(provider),
		ping:        provider.Ping,
	}, nil
}

func newHealthRepository(ping func(context.Context) error, topic *pubsub.Topic, fetcher *secrets.Fetcher) (repositories.HealthRepository, error) {
	var checks []repositories.DependencyCheck
	if ping != nil {
		checks = append(checks, repositories.DependencyCheck{
			Name:    "firestore",
			Timeout: firestoreHealthTimeout,
			Check:   ping,
		})
	}
	if topic != nil {
		checks = append(checks, repositories.DependencyCheck{
			Name:    "pubsub",
			Timeout: time.Second,
			Check: func(ctx context.Context) error {
				ok, err := topic.Exists(ctx)
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("topic %s not found", topic.ID())
				}
				return nil
			},
		})
	}
	if fetcher != nil {
		checks = append(checks, repositories.DependencyCheck{
			Name:    "secretManager",
			Timeout: time.Second,
			Check: func(ctx context.Context) error {
				_, err := fetcher.Resolve(ctx, secretHealthReference)
				if err == nil {
					return nil
				}
				if st, ok := status.FromError(err); ok && st.Code() == codes.NotFound {
					return nil
				}
				return err
			},
		})
	}
	return repositories.NewDependencyHealthRepository(checks)
}

func buildOIDCMiddleware(logger *zap.Logger, cfg config.Config) func(http.Handler) http.Handler {
	if strings.TrimSpace(cfg.Security.OIDC.JWKSURL) == "" {
		return nil
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	cache := auth.NewJWKSCache(cfg.Security.OIDC.JWKSURL)
	validator := auth.NewOIDCValidator(cache, logger)

	audience := strings.TrimSpace(cfg.Security.OIDC.Audience)
	if audience == "" {
		logger.Warn("auth: OIDC audience not configured; internal routes will reject requests")
	}
	issuers := cfg.Security.OIDC.Issuers
	if len(issuers) == 0 {
		logger.Warn("auth: OIDC issuers not configured; internal routes will reject requests")
	}
	return validator.RequireOIDC(audience, issuers)
}

func traceProjectID(cfg config.Config) string {
	if id := strings.TrimSpace(cfg.Firebase.ProjectID); id != "" {
		return id
	}
	return strings.TrimSpace(cfg.Firestore.ProjectID)
}

func newSecretFetcher(ctx context.Context, logger *zap.Logger) (*secrets.Fetcher, error) {
	lookup := func(key string) string {
		value, err := config.Lookup(key)
		if err != nil {
			logger.Warn("config lookup failed", zap.String("key", key), zap.Error(err))
			return ""
		}
		return value
	}

	defaultProject := lookup("API_SECRET_DEFAULT_PROJECT_ID")
	if defaultProject == "" {
		defaultProject = lookup("API_FIREBASE_PROJECT_ID")
	}
	fallbackPath := lookup("API_SECRET_FALLBACK_FILE")
	if fallbackPath == "" {
		fallbackPath = ".secrets.local"
	}

	opts := []secrets.Option{
		secrets.WithLogger(logger),
		secrets.WithFallbackFile(fallbackPath),
	}
	if defaultProject != "" {
		opts = append(opts, secrets.WithDefaultProject(defaultProject))
	}
	if credentialsFile := lookup("API_FIREBASE_CREDENTIALS_FILE"); credentialsFile != "" && !config.IsSecretReference(credentialsFile) {
		opts = append(opts, secrets.WithClientOptions(option.WithCredentialsFile(credentialsFile)))
	}
	return secrets.NewFetcher(ctx, opts...)
}
