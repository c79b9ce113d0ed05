package di

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/oklog/ulid/v2"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	domain "github.com/batimat/api/internal/domain"
	"github.com/batimat/api/internal/platform/config"
	"github.com/batimat/api/internal/platform/events"
	pfirestore "github.com/batimat/api/internal/platform/firestore"
	"github.com/batimat/api/internal/platform/idempotency"
	"github.com/batimat/api/internal/platform/observability"
	"github.com/batimat/api/internal/platform/postgres"
	"github.com/batimat/api/internal/platform/textutil"
	"github.com/batimat/api/internal/repositories"
	"github.com/batimat/api/internal/repositories/memory"
	pgrepo "github.com/batimat/api/internal/repositories/postgres"
	"github.com/batimat/api/internal/services"
)

const (
	meterName          = "github.com/batimat/api"
	dependencyTimeout  = 2 * time.Second
	redisSetupTimeout  = 5 * time.Second
	schemaSetupTimeout = 30 * time.Second
)

// Services bundles the service-layer contracts that handlers rely upon.
type Services struct {
	Quote         services.QuoteService
	Checkout      services.CheckoutService
	Cancellations services.CancellationService
	Orders        services.OrderService
	Credit        services.CreditLedger
	System        services.SystemService
}

// Container wires repositories, services, and background infrastructure for runtime use.
type Container struct {
	Config       config.Config
	Repositories repositories.Registry
	Idempotency  idempotency.Store
	Events       services.OrderEventPublisher
	Services     Services

	closers []func(context.Context) error
}

type containerOptions struct {
	registry repositories.Registry
	events   services.OrderEventPublisher
	store    idempotency.Store
	logger   *zap.Logger
	meter    metric.Meter
	build    services.BuildInfo
	clock    func() time.Time
	newID    func() string
}

// Option customises container construction.
type Option func(*containerOptions)

// WithRegistry supplies a repository registry instead of opening the configured driver.
func WithRegistry(reg repositories.Registry) Option {
	return func(o *containerOptions) { o.registry = reg }
}

// WithEventPublisher supplies an order event publisher instead of the configured backend.
func WithEventPublisher(publisher services.OrderEventPublisher) Option {
	return func(o *containerOptions) { o.events = publisher }
}

// WithIdempotencyStore supplies an idempotency store instead of the configured backend.
func WithIdempotencyStore(store idempotency.Store) Option {
	return func(o *containerOptions) { o.store = store }
}

// WithLogger sets the base logger used for service events.
func WithLogger(logger *zap.Logger) Option {
	return func(o *containerOptions) { o.logger = logger }
}

// WithMeter overrides the meter used for checkout and cancellation metrics.
func WithMeter(meter metric.Meter) Option {
	return func(o *containerOptions) { o.meter = meter }
}

// WithBuildInfo sets the metadata reported by readiness probes.
func WithBuildInfo(info services.BuildInfo) Option {
	return func(o *containerOptions) { o.build = info }
}

// WithClock overrides the time source handed to services.
func WithClock(clock func() time.Time) Option {
	return func(o *containerOptions) { o.clock = clock }
}

// WithIDGenerator overrides the identifier generator handed to services.
func WithIDGenerator(gen func() string) Option {
	return func(o *containerOptions) { o.newID = gen }
}

// NewContainer constructs the runtime dependencies. Any partially opened resource is released
// when construction fails.
func NewContainer(ctx context.Context, cfg config.Config, opts ...Option) (c *Container, err error) {
	options := containerOptions{
		logger: zap.NewNop(),
		clock:  time.Now,
		newID:  func() string { return ulid.Make().String() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}
	if options.logger == nil {
		options.logger = zap.NewNop()
	}
	if options.meter == nil {
		options.meter = otel.GetMeterProvider().Meter(meterName)
	}

	c = &Container{Config: cfg}
	defer func() {
		if err != nil {
			_ = c.Close(context.WithoutCancel(ctx))
			c = nil
		}
	}()

	reg := options.registry
	if reg == nil {
		if reg, err = c.openRegistry(ctx, cfg.Database); err != nil {
			return nil, err
		}
	}
	c.Repositories = reg

	store := options.store
	if store == nil {
		if store, err = c.openIdempotencyStore(ctx, cfg); err != nil {
			return nil, err
		}
	}
	c.Idempotency = store

	publisher := options.events
	if publisher == nil {
		if publisher, err = c.openPublisher(ctx, cfg.Events); err != nil {
			return nil, err
		}
	}
	c.Events = publisher

	svc, err := buildServices(cfg, reg, store, publisher, options)
	if err != nil {
		return nil, err
	}
	c.Services = svc
	return c, nil
}

// Close releases resources in reverse order of acquisition.
func (c *Container) Close(ctx context.Context) error {
	if c == nil {
		return nil
	}
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	c.closers = nil
	return errors.Join(errs...)
}

func (c *Container) onClose(fn func(context.Context) error) {
	c.closers = append(c.closers, fn)
}

func (c *Container) openRegistry(ctx context.Context, cfg config.DatabaseConfig) (repositories.Registry, error) {
	switch cfg.Driver {
	case "memory", "":
		store := memory.NewStore()
		if cfg.SeedFile != "" {
			if err := store.LoadSeedFile(cfg.SeedFile); err != nil {
				return nil, err
			}
		}
		return store, nil
	case "postgres":
		db, err := postgres.Open(ctx, cfg)
		if err != nil {
			return nil, err
		}
		reg := pgrepo.NewRegistry(db)
		c.onClose(reg.Close)
		if !cfg.ApplySchema {
			return reg, nil
		}
		schemaCtx, cancel := context.WithTimeout(ctx, schemaSetupTimeout)
		defer cancel()
		if err := reg.EnsureSchema(schemaCtx); err != nil {
			return nil, fmt.Errorf("apply schema: %w", err)
		}
		return reg, nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}

func (c *Container) openIdempotencyStore(ctx context.Context, cfg config.Config) (idempotency.Store, error) {
	switch cfg.Idempotency.Backend {
	case "memory", "":
		return idempotency.NewMemoryStore(), nil
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		c.onClose(func(context.Context) error { return client.Close() })
		pingCtx, cancel := context.WithTimeout(ctx, redisSetupTimeout)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		return idempotency.NewRedisStore(client, cfg.Redis.KeyPrefix), nil
	case "firestore":
		client, err := pfirestore.NewClient(ctx, cfg.Firestore)
		if err != nil {
			return nil, err
		}
		c.onClose(func(context.Context) error { return client.Close() })
		return idempotency.NewFirestoreStore(client, idempotency.WithCollection(cfg.Idempotency.Collection)), nil
	default:
		return nil, fmt.Errorf("unsupported idempotency backend %q", cfg.Idempotency.Backend)
	}
}

func (c *Container) openPublisher(ctx context.Context, cfg config.EventsConfig) (services.OrderEventPublisher, error) {
	switch cfg.Backend {
	case "none", "":
		return events.Discard{}, nil
	case "pubsub":
		client, err := pubsub.NewClient(ctx, cfg.PubSubProjectID)
		if err != nil {
			return nil, fmt.Errorf("create pubsub client: %w", err)
		}
		c.onClose(func(context.Context) error { return client.Close() })
		publisher, err := events.NewPubSubPublisher(client.Topic(cfg.PubSubTopic))
		if err != nil {
			return nil, err
		}
		c.onClose(func(context.Context) error { return publisher.Close() })
		return publisher, nil
	case "kafka":
		publisher, err := events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		if err != nil {
			return nil, err
		}
		c.onClose(func(context.Context) error { return publisher.Close() })
		return publisher, nil
	default:
		return nil, fmt.Errorf("unsupported events backend %q", cfg.Backend)
	}
}

func buildServices(cfg config.Config, reg repositories.Registry, store idempotency.Store, publisher services.OrderEventPublisher, opts containerOptions) (Services, error) {
	logEvent := observability.EventLogger(opts.logger.Named("services"))

	shipping, err := services.NewShippingQuoter(ShippingRules(cfg.Shipping))
	if err != nil {
		return Services{}, fmt.Errorf("build shipping quoter: %w", err)
	}

	inventory, err := services.NewInventoryService(services.InventoryServiceDeps{
		Lots:        reg.InventoryLots(),
		Clock:       opts.clock,
		IDGenerator: opts.newID,
		Logger:      logEvent,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build inventory service: %w", err)
	}

	pricing, err := services.NewPricingResolver(services.PricingResolverDeps{
		Catalog:   reg.Catalog(),
		Inventory: inventory,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build pricing resolver: %w", err)
	}

	promos, err := services.NewPromoValidator(services.PromoValidatorDeps{
		Promos: reg.Promos(),
		Clock:  opts.clock,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build promo validator: %w", err)
	}

	credit, err := services.NewCreditLedger(services.CreditLedgerDeps{
		Ledger: reg.CreditLedger(),
		Logger: logEvent,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build credit ledger: %w", err)
	}

	quote, err := services.NewQuoteService(services.QuoteServiceDeps{
		Pricing:  pricing,
		Shipping: shipping,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build quote service: %w", err)
	}

	checkout, err := services.NewCheckoutService(services.CheckoutServiceDeps{
		UnitOfWork:      reg,
		Pricing:         pricing,
		Inventory:       inventory,
		Shipping:        shipping,
		Promos:          promos,
		Credit:          credit,
		Orders:          reg.Orders(),
		Counters:        reg.Counters(),
		Carts:           reg.Carts(),
		PickupLocations: reg.PickupLocations(),
		Events:          publisher,
		Sanitizer:       textutil.PlainText,
		Meter:           opts.meter,
		Clock:           opts.clock,
		IDGenerator:     opts.newID,
		Logger:          logEvent,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build checkout service: %w", err)
	}

	cancellations, err := services.NewCancellationService(services.CancellationServiceDeps{
		UnitOfWork:  reg,
		Orders:      reg.Orders(),
		Inventory:   inventory,
		Promos:      promos,
		Credit:      credit,
		Events:      publisher,
		Sanitizer:   textutil.PlainText,
		Meter:       opts.meter,
		Clock:       opts.clock,
		IDGenerator: opts.newID,
		Logger:      logEvent,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build cancellation service: %w", err)
	}

	orders, err := services.NewOrderService(services.OrderServiceDeps{Orders: reg.Orders()})
	if err != nil {
		return Services{}, fmt.Errorf("build order service: %w", err)
	}

	health, err := repositories.NewProbeHealthRepository(dependencyChecks(cfg, reg, store))
	if err != nil {
		return Services{}, fmt.Errorf("build health repository: %w", err)
	}
	build := opts.build
	if build.Environment == "" {
		build.Environment = cfg.Security.Environment
	}
	system, err := services.NewSystemService(services.SystemServiceDeps{
		HealthRepository: health,
		Clock:            opts.clock,
		Build:            build,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build system service: %w", err)
	}

	return Services{
		Quote:         quote,
		Checkout:      checkout,
		Cancellations: cancellations,
		Orders:        orders,
		Credit:        credit,
		System:        system,
	}, nil
}

func dependencyChecks(cfg config.Config, reg repositories.Registry, store idempotency.Store) []repositories.DependencyCheck {
	checks := []repositories.DependencyCheck{{
		Name:    "database:" + cfg.Database.Driver,
		Timeout: dependencyTimeout,
		Check:   reg.Ping,
	}}
	if pinger, ok := store.(idempotency.Pinger); ok {
		checks = append(checks, repositories.DependencyCheck{
			Name:    "idempotency:" + cfg.Idempotency.Backend,
			Timeout: dependencyTimeout,
			Check:   pinger.Ping,
		})
	}
	return checks
}

// ShippingRules overlays the configured origin, currency and optional rules file on the
// default decision table. Zero values in the file keep the defaults.
func ShippingRules(cfg config.ShippingConfig) services.ShippingRules {
	rules := services.DefaultShippingRules()
	origin := domain.Coordinates{Latitude: cfg.OriginLatitude, Longitude: cfg.OriginLongitude}
	if origin.Valid() {
		rules.Origin = origin
	}
	if cfg.Currency != "" {
		rules.Currency = cfg.Currency
	}
	if cfg.Locale != "" {
		rules.Locale = cfg.Locale
	}

	file := cfg.Rules
	if file == nil {
		return rules
	}
	setInt := func(dst *int64, v int64) {
		if v > 0 {
			*dst = v
		}
	}
	setFloat := func(dst *float64, v float64) {
		if v > 0 {
			*dst = v
		}
	}
	setInt(&rules.FlatFee, file.FlatFee)
	setInt(&rules.UnweightedFreeMargin, file.UnweightedFreeMargin)
	setFloat(&rules.FreeAboveWeightKg, file.FreeAboveWeightKg)
	setFloat(&rules.LightMaxWeightKg, file.LightMaxWeightKg)
	setInt(&rules.LightFreeMargin, file.LightFreeMargin)
	setFloat(&rules.HeavyMaxWeightKg, file.HeavyMaxWeightKg)
	setInt(&rules.HeavyFreeMargin, file.HeavyFreeMargin)
	if len(file.Bands) > 0 {
		bands := make([]services.DistanceBand, 0, len(file.Bands))
		for _, band := range file.Bands {
			bands = append(bands, services.DistanceBand{FromKm: band.FromKm, RatePerKm: band.RatePerKm})
		}
		rules.Bands = bands
	}
	return rules
}
