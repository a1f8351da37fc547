package main

import (
	"context"
	"log"

	"finsync/internal/domain/aggregate"
	"finsync/internal/domain/dashboard"
	"finsync/internal/domain/syncer"
	"finsync/internal/infrastructure/crypto"
	"finsync/internal/infrastructure/postgres"
	"finsync/internal/infrastructure/provider"
	"finsync/internal/infrastructure/rediscache"
	httphandlers "finsync/internal/interfaces/http"
	"finsync/internal/shared/config"
)

// Dependencies holds all initialized application components.
type Dependencies struct {
	DB    *postgres.DB
	Cache *rediscache.Cache

	// Handlers
	TransactionHandler *httphandlers.TransactionHandler
	AccountHandler     *httphandlers.AccountHandler
	ItemHandler        *httphandlers.ItemHandler
	DashboardHandler   *httphandlers.DashboardHandler
	SyncHandler        *httphandlers.SyncHandler

	// For the scheduler's job provider
	ItemRepo         *postgres.ItemRepository
	DashboardService *dashboard.Service
}

// NewDependencies initializes all application dependencies.
func NewDependencies(ctx context.Context, cfg *config.Config) (*Dependencies, error) {
	// Connect to database
	db, err := postgres.New(cfg.Database.ConnectionString())
	if err != nil {
		return nil, err
	}
	log.Println("Connected to database")

	if err := postgres.Migrate(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

	// Initialize encryptor for access tokens at rest
	encryptor, err := crypto.NewEncryptor(cfg.Encryption.Key)
	if err != nil {
		db.Close()
		return nil, err
	}

	// Initialize repositories
	itemRepo := postgres.NewItemRepository(db, encryptor)
	accountRepo := postgres.NewAccountRepository(db)
	transactionRepo := postgres.NewTransactionRepository(db)

	// Initialize provider client
	var providerOpts []provider.Option
	if cfg.Provider.BaseURL != "" {
		providerOpts = append(providerOpts, provider.WithBaseURL(cfg.Provider.BaseURL))
	}
	providerClient := provider.NewClient(providerOpts...)

	// Initialize sync coordinator and aggregation engine
	coordinator := syncer.NewCoordinator(providerClient, itemRepo, transactionRepo, accountRepo, syncer.Config{
		MaxAttempts:        cfg.Sync.MaxAttempts,
		BaseBackoff:        cfg.Sync.BaseBackoff,
		MaxConcurrentItems: int64(cfg.Sync.MaxConcurrentItems),
	})
	engine := aggregate.NewEngine(transactionRepo, aggregate.Config{})

	// Initialize the optional dashboard cache; unavailability is not fatal
	var cache *rediscache.Cache
	var dashboardCache dashboard.Cache
	if cfg.Redis.Enabled {
		cache, err = rediscache.New(ctx, cfg.Redis.Addr, cfg.Redis.TTL)
		if err != nil {
			log.Printf("Warning: dashboard cache disabled: %v", err)
		} else {
			dashboardCache = cache
			log.Println("Connected to redis cache")
		}
	}

	dashboardService := dashboard.NewService(coordinator, engine, accountRepo, dashboardCache, dashboard.Config{
		LookbackMonths: cfg.Sync.LookbackMonths,
	})

	// Initialize handlers
	transactionHandler := httphandlers.NewTransactionHandler(transactionRepo)
	accountHandler := httphandlers.NewAccountHandler(accountRepo)
	itemHandler := httphandlers.NewItemHandler(itemRepo, dashboardService)
	dashboardHandler := httphandlers.NewDashboardHandler(dashboardService)
	syncHandler := httphandlers.NewSyncHandler(coordinator, itemRepo, dashboardService)

	return &Dependencies{
		DB:                 db,
		Cache:              cache,
		TransactionHandler: transactionHandler,
		AccountHandler:     accountHandler,
		ItemHandler:        itemHandler,
		DashboardHandler:   dashboardHandler,
		SyncHandler:        syncHandler,
		ItemRepo:           itemRepo,
		DashboardService:   dashboardService,
	}, nil
}

// Close releases all resources held by dependencies.
func (d *Dependencies) Close() {
	if d.Cache != nil {
		d.Cache.Close()
	}
	if d.DB != nil {
		d.DB.Close()
	}
}
