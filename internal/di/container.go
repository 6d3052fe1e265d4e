package di

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/pharmly/api/internal/platform/config"
	"github.com/pharmly/api/internal/platform/requestctx"
	"github.com/pharmly/api/internal/repositories"
	"github.com/pharmly/api/internal/services"
)

// Services bundles the service-layer contracts that handlers rely upon. Concrete implementations
// are assembled via dependency injection in NewContainer.
type Services struct {
	Orders  services.OrderService
	Cart    services.CartService
	Catalog services.CatalogService
	System  services.SystemService
}

// Container wires repositories, services, and background infrastructure for runtime use.
type Container struct {
	Config       config.Config
	Repositories repositories.Registry
	Services     Services
}

// Option supplies collaborators that live outside the repository registry.
type Option func(*dependencies)

type dependencies struct {
	events      services.OrderEventPublisher
	uploads     services.ImageUploadSigner
	images      services.ImagePrefixRemover
	idempotency services.IdempotencyCleaner
	health      repositories.HealthRepository
	meter       metric.MeterProvider
	logger      *zap.Logger
	clock       func() time.Time
	build       services.BuildInfo
}

// WithOrderEvents publishes order lifecycle events through publisher.
func WithOrderEvents(publisher services.OrderEventPublisher) Option {
	return func(d *dependencies) { d.events = publisher }
}

// WithProductImages wires signed uploads and prefix removal for product images.
func WithProductImages(uploads services.ImageUploadSigner, images services.ImagePrefixRemover) Option {
	return func(d *dependencies) {
		d.uploads = uploads
		d.images = images
	}
}

// WithIdempotencyCleaner enables the idempotency maintenance job.
func WithIdempotencyCleaner(cleaner services.IdempotencyCleaner) Option {
	return func(d *dependencies) { d.idempotency = cleaner }
}

// WithHealthRepository sets the readiness check backend. The system service is only built when set.
func WithHealthRepository(repo repositories.HealthRepository) Option {
	return func(d *dependencies) { d.health = repo }
}

// WithMeterProvider overrides the global OpenTelemetry meter provider.
func WithMeterProvider(provider metric.MeterProvider) Option {
	return func(d *dependencies) { d.meter = provider }
}

// WithLogger routes service log events to logger.
func WithLogger(logger *zap.Logger) Option {
	return func(d *dependencies) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithClock injects a clock shared by every service.
func WithClock(clock func() time.Time) Option {
	return func(d *dependencies) {
		if clock != nil {
			d.clock = clock
		}
	}
}

// WithBuildInfo sets the metadata reported by health endpoints.
func WithBuildInfo(build services.BuildInfo) Option {
	return func(d *dependencies) { d.build = build }
}

// NewContainer constructs the runtime dependencies. Production wiring provides the Firestore
// registry while tests can supply the in-memory store.
func NewContainer(ctx context.Context, cfg config.Config, reg repositories.Registry, opts ...Option) (*Container, error) {
	if reg == nil {
		return nil, errors.New("repositories registry is required")
	}

	deps := dependencies{logger: zap.NewNop(), clock: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(&deps)
		}
	}

	svc, err := buildServices(ctx, reg, cfg, deps)
	if err != nil {
		return nil, err
	}

	return &Container{
		Config:       cfg,
		Repositories: reg,
		Services:     svc,
	}, nil
}

// Close releases resources such as repository clients, background workers, or caches.
func (c *Container) Close(ctx context.Context) error {
	if c == nil || c.Repositories == nil {
		return nil
	}
	return c.Repositories.Close(ctx)
}

func buildServices(_ context.Context, reg repositories.Registry, cfg config.Config, deps dependencies) (Services, error) {
	var svc Services

	orders, err := services.NewOrderService(services.OrderServiceDeps{
		Products:          reg.Products(),
		Carts:             reg.Carts(),
		Orders:            reg.Orders(),
		Ledger:            reg.Ledger(),
		Pharmacies:        reg.Pharmacies(),
		ReservationPolicy: cfg.Orders.ReservationPolicy,
		CartClearTimeout:  cfg.Orders.CartClearTimeout,
		BestSellerLimit:   cfg.Orders.BestSellerLimit,
		Clock:             deps.clock,
		Events:            deps.events,
		MeterProvider:     deps.meter,
		Logger:            serviceLogger(deps.logger.Named("orders")),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build order service: %w", err)
	}
	svc.Orders = orders

	cart, err := services.NewCartService(services.CartServiceDeps{
		Carts:    reg.Carts(),
		Products: reg.Products(),
		Logger:   serviceLogger(deps.logger.Named("cart")),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build cart service: %w", err)
	}
	svc.Cart = cart

	catalog, err := services.NewCatalogService(services.CatalogServiceDeps{
		Products: reg.Products(),
		Uploads:  deps.uploads,
		Images:   deps.images,
		Clock:    deps.clock,
		Logger:   serviceLogger(deps.logger.Named("catalog")),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build catalog service: %w", err)
	}
	svc.Catalog = catalog

	if deps.health != nil {
		system, err := services.NewSystemService(services.SystemServiceDeps{
			HealthRepository: deps.health,
			Idempotency:      deps.idempotency,
			CleanupBatch:     cfg.Idempotency.CleanupBatchSize,
			Clock:            deps.clock,
			Build:            deps.build,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build system service: %w", err)
		}
		svc.System = system
	}

	return svc, nil
}

// serviceLogger adapts the services' event callback onto zap. Failure events log at warn.
func serviceLogger(logger *zap.Logger) func(ctx context.Context, event string, fields map[string]any) {
	return func(ctx context.Context, event string, fields map[string]any) {
		zFields := make([]zap.Field, 0, len(fields)+3)
		zFields = append(zFields, zap.String("event", event))
		zFields = append(zFields, requestctx.TraceFields(ctx)...)
		for k, v := range fields {
			if err, ok := v.(error); ok {
				zFields = append(zFields, zap.NamedError(k, err))
				continue
			}
			zFields = append(zFields, zap.Any(k, v))
		}
		if strings.HasSuffix(event, ".failed") || strings.HasSuffix(event, "_failed") {
			logger.Warn(event, zFields...)
			return
		}
		logger.Info(event, zFields...)
	}
}
