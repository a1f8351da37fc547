// Package dashboard packages ledger aggregates and sync outcomes into the
// payload the dashboard consumes.
package dashboard

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"finsync/internal/domain/syncer"
	"finsync/internal/models"
)

// Syncer runs the per-user item sync batch.
type Syncer interface {
	SyncAllItemsForUser(ctx context.Context, userID int64) ([]*syncer.SyncResult, error)
}

// Aggregator computes derived metrics from the ledger.
type Aggregator interface {
	ComputeKPIs(ctx context.Context, userID int64, period models.Period) ([]models.KPI, error)
	ComputeCategoryTotals(ctx context.Context, userID int64, accountIDs []string, period models.Period) ([]models.CategoryTotal, error)
	DetectRecurring(ctx context.Context, userID int64, lookbackMonths int) ([]models.RecurringGroup, error)
}

// AccountLister reads the user's account snapshots.
type AccountLister interface {
	ListByUserID(ctx context.Context, userID int64) ([]*models.Account, error)
}

// Cache is the optional payload cache. Implementations must be best-effort:
// failures degrade to a recompute, never to an error.
type Cache interface {
	Get(ctx context.Context, key string) []byte
	Set(ctx context.Context, key string, data []byte)
	Delete(ctx context.Context, keys ...string)
}

// Payload is the dashboard response: aggregates plus the account snapshots
// and, after a refresh, the per-item sync results.
type Payload struct {
	KPIs           []models.KPI            `json:"kpis"`
	CategoryTotals []models.CategoryTotal  `json:"categoryTotals"`
	Recurring      []models.RecurringGroup `json:"recurring"`
	Accounts       []*models.Account       `json:"accounts"`
	SyncResults    []*syncer.SyncResult    `json:"syncResults,omitempty"`
	GeneratedAt    time.Time               `json:"generatedAt"`
}

// Config tunes the aggregate windows.
type Config struct {
	LookbackMonths int // recurring-detection window (default 6)
}

// Service orchestrates sync and aggregation for dashboard reads.
type Service struct {
	syncer     Syncer
	aggregator Aggregator
	accounts   AccountLister
	cache      Cache
	cfg        Config

	now func() time.Time
}

// NewService creates a dashboard service. cache may be nil to disable caching.
func NewService(sync Syncer, aggregator Aggregator, accounts AccountLister, cache Cache, cfg Config) *Service {
	if cfg.LookbackMonths <= 0 {
		cfg.LookbackMonths = 6
	}
	return &Service{
		syncer:     sync,
		aggregator: aggregator,
		accounts:   accounts,
		cache:      cache,
		cfg:        cfg,
		now:        time.Now,
	}
}

func cacheKey(userID int64) string {
	return fmt.Sprintf("dashboard:%d", userID)
}

// RefreshAndFetch syncs every item the user has linked and then builds the
// dashboard payload over whatever ledger state is committed. Sync failures
// degrade gracefully: they are reported per item in the payload, and
// aggregation still runs, serving stale-but-available data instead of
// failing the whole request.
func (s *Service) RefreshAndFetch(ctx context.Context, userID int64) (*Payload, error) {
	results, err := s.syncer.SyncAllItemsForUser(ctx, userID)
	if err != nil {
		// The batch itself failed (e.g. the item list was unreadable).
		// Aggregates over the current ledger are still worth serving.
		log.Printf("User %d: sync batch failed, serving committed ledger state: %v", userID, err)
	}

	payload, buildErr := s.build(ctx, userID)
	if buildErr != nil {
		return nil, buildErr
	}
	payload.SyncResults = results

	s.store(ctx, userID, payload)
	return payload, nil
}

// Fetch builds the dashboard payload without syncing, serving a cached copy
// when one is fresh.
func (s *Service) Fetch(ctx context.Context, userID int64) (*Payload, error) {
	if data := s.cacheGet(ctx, userID); data != nil {
		var payload Payload
		if err := json.Unmarshal(data, &payload); err == nil {
			return &payload, nil
		}
		log.Printf("User %d: dropping undecodable cached dashboard", userID)
	}

	payload, err := s.build(ctx, userID)
	if err != nil {
		return nil, err
	}
	s.store(ctx, userID, payload)
	return payload, nil
}

// Invalidate drops the user's cached payload, used after link/unlink and
// explicit sync triggers.
func (s *Service) Invalidate(ctx context.Context, userID int64) {
	if s.cache != nil {
		s.cache.Delete(ctx, cacheKey(userID))
	}
}

func (s *Service) build(ctx context.Context, userID int64) (*Payload, error) {
	now := s.now().UTC()
	start := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	period := models.Period{Start: start, End: start.AddDate(0, 1, 0)}

	kpis, err := s.aggregator.ComputeKPIs(ctx, userID, period)
	if err != nil {
		return nil, fmt.Errorf("failed to compute KPIs: %w", err)
	}
	totals, err := s.aggregator.ComputeCategoryTotals(ctx, userID, nil, period)
	if err != nil {
		return nil, fmt.Errorf("failed to compute category totals: %w", err)
	}
	recurring, err := s.aggregator.DetectRecurring(ctx, userID, s.cfg.LookbackMonths)
	if err != nil {
		return nil, fmt.Errorf("failed to detect recurring charges: %w", err)
	}
	accounts, err := s.accounts.ListByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}

	return &Payload{
		KPIs:           kpis,
		CategoryTotals: totals,
		Recurring:      recurring,
		Accounts:       accounts,
		GeneratedAt:    now,
	}, nil
}

func (s *Service) cacheGet(ctx context.Context, userID int64) []byte {
	if s.cache == nil {
		return nil
	}
	return s.cache.Get(ctx, cacheKey(userID))
}

func (s *Service) store(ctx context.Context, userID int64, payload *Payload) {
	if s.cache == nil {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		log.Printf("User %d: failed to marshal dashboard for cache: %v", userID, err)
		return
	}
	s.cache.Set(ctx, cacheKey(userID), data)
}
