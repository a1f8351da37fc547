// Package syncer pulls transaction deltas from the provider and reconciles
// them into the local ledger, one item at a time.
package syncer

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"

	"finsync/internal/infrastructure/provider"
	"finsync/internal/models"
)

var (
	syncTracer      = otel.Tracer("finsync/syncer")
	syncMeter       = otel.Meter("finsync/syncer")
	syncDuration, _ = syncMeter.Float64Histogram("sync.item.duration", metric.WithDescription("Item sync duration in seconds"), metric.WithUnit("s"))
	syncTotal, _    = syncMeter.Int64Counter("sync.item.total", metric.WithDescription("Item syncs by status"))
	pagesTotal, _   = syncMeter.Int64Counter("sync.pages.total", metric.WithDescription("Delta pages applied"))
)

// SyncResult reports what one item sync changed.
type SyncResult struct {
	ItemID   string   `json:"itemId"`
	Added    int      `json:"added"`
	Modified int      `json:"modified"`
	Removed  int      `json:"removed"`
	Pages    int      `json:"pages"`
	Skipped  bool     `json:"skipped,omitempty"` // batch deadline expired before this item started
	Errors   []string `json:"errors,omitempty"`  // per-row validation failures, non-fatal
	Err      error    `json:"-"`                 // fatal sync error, if any
}

// A SyncResult may be shared between joined single-flight callers, so it is
// never written after syncItem publishes it.

// ErrorMessage returns the fatal error as a string for serialization.
func (r *SyncResult) ErrorMessage() string {
	if r.Err == nil {
		return ""
	}
	return r.Err.Error()
}

// ItemStore is the slice of item persistence the coordinator needs: cursor
// and credential reads plus status bookkeeping. Cursor writes happen through
// the LedgerStore so they commit atomically with page mutations.
type ItemStore interface {
	GetByID(ctx context.Context, id string) (*models.Item, error)
	ListByUserID(ctx context.Context, userID int64) ([]*models.Item, error)
	SetSyncStatus(ctx context.Context, id, status string, syncedAt *time.Time) error
}

// LedgerStore applies one delta page plus the next cursor as a single atomic
// unit.
type LedgerStore interface {
	ApplyDelta(ctx context.Context, itemID string, upserts []models.Transaction, removedIDs []string, nextCursor string) (int64, error)
}

// AccountStore refreshes account snapshots from the provider.
type AccountStore interface {
	Upsert(ctx context.Context, params models.UpsertAccountParams) (*models.Account, error)
}

// Config tunes retry and fan-out behavior.
type Config struct {
	MaxAttempts        int           // provider fetch attempts per page (transient errors)
	BaseBackoff        time.Duration // first retry delay, doubled per attempt
	MaxConcurrentItems int64         // parallel item syncs per batch call
}

// Coordinator orchestrates delta pulls per item. Within an item, syncs are
// single-flight: concurrent callers join the in-flight sync and share its
// result, so the provider is hit once per overlapping window.
type Coordinator struct {
	provider provider.ClientInterface
	items    ItemStore
	ledger   LedgerStore
	accounts AccountStore

	group singleflight.Group
	cfg   Config

	// sleep is swappable in tests so backoff doesn't slow them down.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewCoordinator creates a sync coordinator.
func NewCoordinator(client provider.ClientInterface, items ItemStore, ledger LedgerStore, accounts AccountStore, cfg Config) *Coordinator {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = time.Second
	}
	if cfg.MaxConcurrentItems <= 0 {
		cfg.MaxConcurrentItems = 4
	}
	return &Coordinator{
		provider: client,
		items:    items,
		ledger:   ledger,
		accounts: accounts,
		cfg:      cfg,
		sleep:    sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// SyncItem syncs a single item. Concurrent calls for the same item join the
// in-flight sync and receive the same result. A partial result is returned
// alongside the error when a sync aborts mid-way: earlier pages stay
// committed and the cursor points at the last persisted page.
func (c *Coordinator) SyncItem(ctx context.Context, itemID string) (*SyncResult, error) {
	v, err, shared := c.group.Do(itemID, func() (any, error) {
		return c.syncItem(ctx, itemID)
	})
	if shared {
		log.Printf("Sync for item %s joined an in-flight run", itemID)
	}

	result, _ := v.(*SyncResult)
	if result == nil {
		result = &SyncResult{ItemID: itemID, Err: err}
	}
	return result, err
}

func (c *Coordinator) syncItem(ctx context.Context, itemID string) (*SyncResult, error) {
	ctx, span := syncTracer.Start(ctx, "sync.item", trace.WithAttributes(
		attribute.String("item.id", itemID),
	))
	defer span.End()

	start := time.Now()
	result := &SyncResult{ItemID: itemID}

	err := c.runSync(ctx, itemID, result)

	status := "success"
	if err != nil {
		status = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	syncTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
	syncDuration.Record(ctx, time.Since(start).Seconds())

	// Err lands here, before singleflight hands the result to joined callers.
	result.Err = err
	return result, err
}

func (c *Coordinator) runSync(ctx context.Context, itemID string, result *SyncResult) error {
	item, err := c.items.GetByID(ctx, itemID)
	if err != nil {
		return fmt.Errorf("failed to load item: %w", err)
	}

	if err := c.items.SetSyncStatus(ctx, itemID, models.SyncStatusInProgress, nil); err != nil {
		return fmt.Errorf("failed to mark sync started: %w", err)
	}

	if err := c.doSync(ctx, item, result); err != nil {
		// The item context may already be dead; the status write must
		// still land so the item doesn't look stuck in_progress.
		statusCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if stErr := c.items.SetSyncStatus(statusCtx, itemID, models.SyncStatusError, nil); stErr != nil {
			log.Printf("Item %s: failed to record error status: %v", itemID, stErr)
		}
		return err
	}

	now := time.Now().UTC()
	if err := c.items.SetSyncStatus(ctx, itemID, models.SyncStatusIdle, &now); err != nil {
		return fmt.Errorf("failed to mark sync finished: %w", err)
	}

	log.Printf("Item %s: sync complete - added=%d modified=%d removed=%d pages=%d",
		itemID, result.Added, result.Modified, result.Removed, result.Pages)
	return nil
}

func (c *Coordinator) doSync(ctx context.Context, item *models.Item, result *SyncResult) error {
	if err := c.refreshAccounts(ctx, item, result); err != nil {
		return err
	}

	cursor := ""
	if item.SyncCursor != nil {
		cursor = *item.SyncCursor
	}

	// Pagination loop: each page's mutations commit together with its
	// cursor before the next page is requested, so a failure here resumes
	// from the last persisted page rather than from scratch.
	for {
		delta, err := c.fetchPage(ctx, item.AccessToken, cursor)
		if err != nil {
			return fmt.Errorf("failed to fetch delta page: %w", err)
		}

		upserts := make([]models.Transaction, 0, len(delta.Added)+len(delta.Modified))
		added := c.convert(delta.Added, item, &upserts, result)
		modified := c.convert(delta.Modified, item, &upserts, result)

		deleted, err := c.ledger.ApplyDelta(ctx, item.ID, upserts, delta.RemovedIDs, delta.NextCursor)
		if err != nil {
			return fmt.Errorf("failed to apply delta page: %w", err)
		}

		result.Added += added
		result.Modified += modified
		result.Removed += int(deleted)
		result.Pages++
		pagesTotal.Add(ctx, 1)

		cursor = delta.NextCursor
		if !delta.HasMore {
			return nil
		}
	}
}

// convert validates provider rows at the boundary and appends the good ones
// to upserts. Malformed rows are skipped and recorded, not fatal: one bad row
// must not wedge the item forever.
func (c *Coordinator) convert(txs []provider.Transaction, item *models.Item, upserts *[]models.Transaction, result *SyncResult) int {
	n := 0
	for i := range txs {
		pt := &txs[i]

		amount, err := pt.GetAmount()
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("transaction %s: %v", pt.ID, err))
			continue
		}
		date, err := pt.GetDate()
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("transaction %s: %v", pt.ID, err))
			continue
		}
		if pt.ID == "" || pt.AccountID == "" {
			result.Errors = append(result.Errors, fmt.Sprintf("transaction %q: missing id or account", pt.ID))
			continue
		}

		*upserts = append(*upserts, models.Transaction{
			ID:           pt.ID,
			AccountID:    pt.AccountID,
			UserID:       item.UserID,
			Amount:       amount,
			Date:         date,
			MerchantName: pt.MerchantName,
			Category:     pt.GetCategory(),
			Pending:      pt.Pending,
			RawPayload:   pt.Raw(),
		})
		n++
	}
	return n
}

// refreshAccounts pulls the item's current account set before the delta loop
// so transactions always land against up-to-date accounts.
func (c *Coordinator) refreshAccounts(ctx context.Context, item *models.Item, result *SyncResult) error {
	accounts, err := c.provider.GetAccounts(ctx, item.AccessToken)
	if err != nil {
		return fmt.Errorf("failed to fetch accounts: %w", err)
	}

	for i := range accounts {
		pa := &accounts[i]
		current, available, limit, err := pa.GetBalances()
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("account %s: %v", pa.ID, err))
			continue
		}
		_, err = c.accounts.Upsert(ctx, models.UpsertAccountParams{
			ID:               pa.ID,
			ItemID:           item.ID,
			UserID:           item.UserID,
			Name:             pa.Name,
			AccountType:      pa.Type,
			Subtype:          pa.Subtype,
			CurrentBalance:   current,
			AvailableBalance: available,
			CreditLimit:      limit,
			CurrencyCode:     pa.CurrencyCode,
		})
		if err != nil {
			return fmt.Errorf("failed to upsert account %s: %w", pa.ID, err)
		}
	}
	return nil
}

// fetchPage calls the provider with bounded retries. Transient errors back
// off exponentially; rate limits honor the provider's retry-after hint;
// credential rejections are terminal immediately.
func (c *Coordinator) fetchPage(ctx context.Context, accessToken, cursor string) (*provider.Delta, error) {
	var lastErr error

	for attempt := 1; attempt <= c.cfg.MaxAttempts; attempt++ {
		delta, err := c.provider.FetchTransactionDelta(ctx, accessToken, cursor)
		if err == nil {
			return delta, nil
		}
		lastErr = err

		if provider.IsAuthInvalid(err) {
			return nil, err
		}
		if attempt == c.cfg.MaxAttempts {
			break
		}

		delay := c.cfg.BaseBackoff << (attempt - 1)
		if retryAfter, ok := provider.RetryAfter(err); ok && retryAfter > delay {
			delay = retryAfter
		} else if !provider.IsTransient(err) && !ok {
			// Not a classified provider error; nothing a retry would fix.
			return nil, err
		}

		log.Printf("Provider fetch attempt %d/%d failed, retrying in %v: %v", attempt, c.cfg.MaxAttempts, delay, err)
		if err := c.sleep(ctx, delay); err != nil {
			return nil, lastErr
		}
	}
	return nil, lastErr
}

// SyncAllItemsForUser syncs every item the user has linked, in parallel up to
// the configured width. One item's failure never aborts the others; its
// result carries the error instead. Items that have not started when ctx
// expires are reported as skipped rather than failed.
func (c *Coordinator) SyncAllItemsForUser(ctx context.Context, userID int64) ([]*SyncResult, error) {
	items, err := c.items.ListByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list items: %w", err)
	}

	results := make([]*SyncResult, len(items))
	sem := semaphore.NewWeighted(c.cfg.MaxConcurrentItems)
	var wg sync.WaitGroup

	for i, item := range items {
		if err := sem.Acquire(ctx, 1); err != nil {
			results[i] = &SyncResult{ItemID: item.ID, Skipped: true}
			continue
		}

		wg.Add(1)
		go func(i int, itemID string) {
			defer wg.Done()
			defer sem.Release(1)

			// The result already carries Err and may be shared with another
			// batch that joined the same in-flight sync.
			result, _ := c.SyncItem(ctx, itemID)
			results[i] = result
		}(i, item.ID)
	}

	wg.Wait()
	return results, nil
}
