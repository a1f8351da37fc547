package syncer

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	gosync "sync"
	"sync/atomic"
	"testing"
	"time"

	"finsync/internal/infrastructure/provider"
	"finsync/internal/models"
)

// Mocks in the style of the rest of the codebase: func fields with safe
// defaults.

type mockProvider struct {
	fetchFunc    func(ctx context.Context, accessToken, cursor string) (*provider.Delta, error)
	accountsFunc func(ctx context.Context, accessToken string) ([]provider.Account, error)
	fetchCalls   int32
}

func (m *mockProvider) FetchTransactionDelta(ctx context.Context, accessToken, cursor string) (*provider.Delta, error) {
	atomic.AddInt32(&m.fetchCalls, 1)
	if m.fetchFunc != nil {
		return m.fetchFunc(ctx, accessToken, cursor)
	}
	return &provider.Delta{NextCursor: cursor, HasMore: false}, nil
}

func (m *mockProvider) GetAccounts(ctx context.Context, accessToken string) ([]provider.Account, error) {
	if m.accountsFunc != nil {
		return m.accountsFunc(ctx, accessToken)
	}
	return nil, nil
}

type fakeItemStore struct {
	mu       gosync.Mutex
	items    map[string]*models.Item
	statuses map[string][]string
}

func newFakeItemStore(items ...*models.Item) *fakeItemStore {
	s := &fakeItemStore{items: map[string]*models.Item{}, statuses: map[string][]string{}}
	for _, item := range items {
		s.items[item.ID] = item
	}
	return s
}

func (s *fakeItemStore) GetByID(ctx context.Context, id string) (*models.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[id]
	if !ok {
		return nil, errors.New("item not found")
	}
	copied := *item
	return &copied, nil
}

func (s *fakeItemStore) ListByUserID(ctx context.Context, userID int64) ([]*models.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Item
	for _, item := range s.items {
		if item.UserID == userID {
			copied := *item
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (s *fakeItemStore) SetSyncStatus(ctx context.Context, id, status string, syncedAt *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses[id] = append(s.statuses[id], status)
	if item, ok := s.items[id]; ok {
		item.LastSyncStatus = status
	}
	return nil
}

func (s *fakeItemStore) lastStatus(id string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	hist := s.statuses[id]
	if len(hist) == 0 {
		return ""
	}
	return hist[len(hist)-1]
}

// fakeLedger applies deltas with the same semantics as the real store:
// upsert by id, delete-if-exists, cursor committed with the page.
type fakeLedger struct {
	mu      gosync.Mutex
	rows    map[string]models.Transaction
	cursors map[string]string
	failOn  int // fail the Nth ApplyDelta call (1-based), 0 = never
	calls   int
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{rows: map[string]models.Transaction{}, cursors: map[string]string{}}
}

func (l *fakeLedger) ApplyDelta(ctx context.Context, itemID string, upserts []models.Transaction, removedIDs []string, nextCursor string) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls++
	if l.failOn != 0 && l.calls == l.failOn {
		return 0, errors.New("ledger write failure")
	}
	for _, tx := range upserts {
		l.rows[tx.ID] = tx
	}
	var deleted int64
	for _, id := range removedIDs {
		if _, ok := l.rows[id]; ok {
			delete(l.rows, id)
			deleted++
		}
	}
	l.cursors[itemID] = nextCursor
	return deleted, nil
}

func (l *fakeLedger) snapshot() (map[string]models.Transaction, map[string]string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	rows := make(map[string]models.Transaction, len(l.rows))
	for k, v := range l.rows {
		rows[k] = v
	}
	cursors := make(map[string]string, len(l.cursors))
	for k, v := range l.cursors {
		cursors[k] = v
	}
	return rows, cursors
}

type fakeAccountStore struct {
	mu      gosync.Mutex
	upserts int
}

func (s *fakeAccountStore) Upsert(ctx context.Context, params models.UpsertAccountParams) (*models.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.upserts++
	return &models.Account{ID: params.ID}, nil
}

func testItem(id string, userID int64, cursor string) *models.Item {
	item := &models.Item{ID: id, UserID: userID, AccessToken: "token-" + id, LastSyncStatus: models.SyncStatusIdle}
	if cursor != "" {
		item.SyncCursor = &cursor
	}
	return item
}

func providerTx(id, account, amount, date string) provider.Transaction {
	var tx provider.Transaction
	payload := fmt.Sprintf(`{"transaction_id":%q,"account_id":%q,"amount":%q,"date":%q,"merchant_name":"m"}`, id, account, amount, date)
	if err := tx.UnmarshalJSON([]byte(payload)); err != nil {
		panic(err)
	}
	return tx
}

func newTestCoordinator(p provider.ClientInterface, items ItemStore, ledger LedgerStore) *Coordinator {
	c := NewCoordinator(p, items, ledger, &fakeAccountStore{}, Config{MaxAttempts: 3, BaseBackoff: time.Millisecond})
	c.sleep = func(ctx context.Context, d time.Duration) error { return nil }
	return c
}

func TestSyncItem_TwoPageReconciliation(t *testing.T) {
	// Page 1 adds tx1+tx2 at cursor c1→c2; page 2 modifies tx1 and removes
	// tx2 at c2→c3. Final ledger must hold only the modified tx1 with the
	// cursor at c3.
	items := newFakeItemStore(testItem("item-a", 1, "c1"))
	ledger := newFakeLedger()

	p := &mockProvider{
		fetchFunc: func(ctx context.Context, accessToken, cursor string) (*provider.Delta, error) {
			switch cursor {
			case "c1":
				return &provider.Delta{
					Added:      []provider.Transaction{providerTx("tx1", "acc-1", "-10.00", "2026-08-01"), providerTx("tx2", "acc-1", "-20.00", "2026-08-02")},
					NextCursor: "c2",
					HasMore:    true,
				}, nil
			case "c2":
				return &provider.Delta{
					Modified:   []provider.Transaction{providerTx("tx1", "acc-1", "-15.00", "2026-08-01")},
					RemovedIDs: []string{"tx2"},
					NextCursor: "c3",
					HasMore:    false,
				}, nil
			default:
				return nil, fmt.Errorf("unexpected cursor %q", cursor)
			}
		},
	}

	c := newTestCoordinator(p, items, ledger)
	result, err := c.SyncItem(context.Background(), "item-a")
	if err != nil {
		t.Fatalf("SyncItem() failed: %v", err)
	}

	if result.Added != 2 || result.Modified != 1 || result.Removed != 1 || result.Pages != 2 {
		t.Errorf("result = %+v, want added=2 modified=1 removed=1 pages=2", result)
	}

	rows, cursors := ledger.snapshot()
	if len(rows) != 1 {
		t.Fatalf("ledger has %d rows, want 1: %v", len(rows), rows)
	}
	tx1, ok := rows["tx1"]
	if !ok {
		t.Fatal("ledger is missing tx1")
	}
	if tx1.Amount.String() != "-15" {
		t.Errorf("tx1 amount = %s, want -15 (modified version)", tx1.Amount)
	}
	if cursors["item-a"] != "c3" {
		t.Errorf("cursor = %q, want c3", cursors["item-a"])
	}
	if got := items.lastStatus("item-a"); got != models.SyncStatusIdle {
		t.Errorf("final status = %q, want idle", got)
	}
}

func TestSyncItem_IdempotentReplay(t *testing.T) {
	// Applying the same page twice (crash between page commit and a
	// provider that replays it) must yield an identical ledger.
	items := newFakeItemStore(testItem("item-a", 1, ""))
	ledger := newFakeLedger()

	page := func() *provider.Delta {
		return &provider.Delta{
			Added:      []provider.Transaction{providerTx("tx1", "acc-1", "-10.00", "2026-08-01")},
			RemovedIDs: []string{"tx-gone"},
			NextCursor: "c1",
			HasMore:    false,
		}
	}
	p := &mockProvider{
		fetchFunc: func(ctx context.Context, accessToken, cursor string) (*provider.Delta, error) {
			return page(), nil
		},
	}

	c := newTestCoordinator(p, items, ledger)
	if _, err := c.SyncItem(context.Background(), "item-a"); err != nil {
		t.Fatalf("first sync failed: %v", err)
	}
	firstRows, _ := ledger.snapshot()

	if _, err := c.SyncItem(context.Background(), "item-a"); err != nil {
		t.Fatalf("replayed sync failed: %v", err)
	}
	secondRows, _ := ledger.snapshot()

	if !reflect.DeepEqual(firstRows, secondRows) {
		t.Errorf("replay changed the ledger:\nfirst:  %v\nsecond: %v", firstRows, secondRows)
	}
}

func TestSyncItem_SingleFlight(t *testing.T) {
	// Two concurrent SyncItem calls share one provider window.
	items := newFakeItemStore(testItem("item-a", 1, ""))
	ledger := newFakeLedger()

	started := make(chan struct{})
	release := make(chan struct{})
	p := &mockProvider{
		fetchFunc: func(ctx context.Context, accessToken, cursor string) (*provider.Delta, error) {
			close(started)
			<-release
			return &provider.Delta{
				Added:      []provider.Transaction{providerTx("tx1", "acc-1", "-10.00", "2026-08-01")},
				NextCursor: "c1",
			}, nil
		},
	}

	c := newTestCoordinator(p, items, ledger)

	type outcome struct {
		result *SyncResult
		err    error
	}
	outcomes := make(chan outcome, 2)
	go func() {
		r, err := c.SyncItem(context.Background(), "item-a")
		outcomes <- outcome{r, err}
	}()
	<-started
	go func() {
		r, err := c.SyncItem(context.Background(), "item-a")
		outcomes <- outcome{r, err}
	}()

	// Give the second caller time to join before the provider returns.
	time.Sleep(20 * time.Millisecond)
	close(release)

	first := <-outcomes
	second := <-outcomes
	if first.err != nil || second.err != nil {
		t.Fatalf("sync errors: %v, %v", first.err, second.err)
	}
	if first.result != second.result {
		t.Error("concurrent callers did not share the in-flight result")
	}
	if calls := atomic.LoadInt32(&p.fetchCalls); calls != 1 {
		t.Errorf("provider invoked %d times, want 1", calls)
	}
}

func TestSyncItem_TransientRetryThenSuccess(t *testing.T) {
	items := newFakeItemStore(testItem("item-a", 1, ""))
	ledger := newFakeLedger()

	var attempts int32
	p := &mockProvider{
		fetchFunc: func(ctx context.Context, accessToken, cursor string) (*provider.Delta, error) {
			if atomic.AddInt32(&attempts, 1) < 3 {
				return nil, &provider.Error{Kind: provider.KindTransient, Err: errors.New("flaky")}
			}
			return &provider.Delta{NextCursor: "c1"}, nil
		},
	}

	c := newTestCoordinator(p, items, ledger)
	if _, err := c.SyncItem(context.Background(), "item-a"); err != nil {
		t.Fatalf("SyncItem() failed after retries: %v", err)
	}
	if got := atomic.LoadInt32(&attempts); got != 3 {
		t.Errorf("attempts = %d, want 3", got)
	}
}

func TestSyncItem_TransientExhaustsAttempts(t *testing.T) {
	items := newFakeItemStore(testItem("item-a", 1, "c5"))
	ledger := newFakeLedger()

	p := &mockProvider{
		fetchFunc: func(ctx context.Context, accessToken, cursor string) (*provider.Delta, error) {
			return nil, &provider.Error{Kind: provider.KindTransient, Err: errors.New("down")}
		},
	}

	c := newTestCoordinator(p, items, ledger)
	_, err := c.SyncItem(context.Background(), "item-a")
	if err == nil {
		t.Fatal("expected error after exhausting attempts")
	}
	if calls := atomic.LoadInt32(&p.fetchCalls); calls != 3 {
		t.Errorf("provider invoked %d times, want 3", calls)
	}
	if got := items.lastStatus("item-a"); got != models.SyncStatusError {
		t.Errorf("status = %q, want error", got)
	}

	// Cursor untouched: no page was ever applied.
	_, cursors := ledger.snapshot()
	if _, ok := cursors["item-a"]; ok {
		t.Error("cursor advanced despite no page commit")
	}
}

func TestSyncItem_AuthInvalidIsTerminal(t *testing.T) {
	items := newFakeItemStore(testItem("item-a", 1, ""))
	ledger := newFakeLedger()

	p := &mockProvider{
		fetchFunc: func(ctx context.Context, accessToken, cursor string) (*provider.Delta, error) {
			return nil, &provider.Error{Kind: provider.KindAuthInvalid, Err: errors.New("revoked")}
		},
	}

	c := newTestCoordinator(p, items, ledger)
	_, err := c.SyncItem(context.Background(), "item-a")
	if !provider.IsAuthInvalid(err) {
		t.Fatalf("error = %v, want auth invalid", err)
	}
	if calls := atomic.LoadInt32(&p.fetchCalls); calls != 1 {
		t.Errorf("provider invoked %d times, want 1 (no retry on auth errors)", calls)
	}
	if got := items.lastStatus("item-a"); got != models.SyncStatusError {
		t.Errorf("status = %q, want error", got)
	}
}

func TestSyncItem_LedgerFailureKeepsEarlierPages(t *testing.T) {
	// Page 1 commits, page 2's write fails: partial progress stays, the
	// cursor stays at page 1, and the item is flagged error.
	items := newFakeItemStore(testItem("item-a", 1, "c1"))
	ledger := newFakeLedger()
	ledger.failOn = 2

	p := &mockProvider{
		fetchFunc: func(ctx context.Context, accessToken, cursor string) (*provider.Delta, error) {
			switch cursor {
			case "c1":
				return &provider.Delta{
					Added:      []provider.Transaction{providerTx("tx1", "acc-1", "-10.00", "2026-08-01")},
					NextCursor: "c2",
					HasMore:    true,
				}, nil
			default:
				return &provider.Delta{
					Added:      []provider.Transaction{providerTx("tx2", "acc-1", "-20.00", "2026-08-02")},
					NextCursor: "c3",
				}, nil
			}
		},
	}

	c := newTestCoordinator(p, items, ledger)
	result, err := c.SyncItem(context.Background(), "item-a")
	if err == nil {
		t.Fatal("expected ledger write failure")
	}
	if result.Pages != 1 || result.Added != 1 {
		t.Errorf("result = %+v, want pages=1 added=1 (page 1 only)", result)
	}

	rows, cursors := ledger.snapshot()
	if _, ok := rows["tx1"]; !ok {
		t.Error("page 1 commit was lost")
	}
	if _, ok := rows["tx2"]; ok {
		t.Error("failed page 2 left rows behind")
	}
	if cursors["item-a"] != "c2" {
		t.Errorf("cursor = %q, want c2 (last persisted page)", cursors["item-a"])
	}
}

func TestSyncAllItemsForUser_IsolatesFailures(t *testing.T) {
	items := newFakeItemStore(
		testItem("item-ok", 7, ""),
		testItem("item-bad", 7, ""),
	)
	ledger := newFakeLedger()

	p := &mockProvider{
		fetchFunc: func(ctx context.Context, accessToken, cursor string) (*provider.Delta, error) {
			if accessToken == "token-item-bad" {
				return nil, &provider.Error{Kind: provider.KindAuthInvalid, Err: errors.New("revoked")}
			}
			return &provider.Delta{
				Added:      []provider.Transaction{providerTx("tx1", "acc-1", "-10.00", "2026-08-01")},
				NextCursor: "c1",
			}, nil
		},
	}

	c := newTestCoordinator(p, items, ledger)
	results, err := c.SyncAllItemsForUser(context.Background(), 7)
	if err != nil {
		t.Fatalf("SyncAllItemsForUser() failed: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}

	byItem := map[string]*SyncResult{}
	for _, r := range results {
		byItem[r.ItemID] = r
	}
	if byItem["item-ok"].Err != nil {
		t.Errorf("healthy item failed: %v", byItem["item-ok"].Err)
	}
	if byItem["item-ok"].Added != 1 {
		t.Errorf("healthy item added = %d, want 1", byItem["item-ok"].Added)
	}
	if byItem["item-bad"].Err == nil {
		t.Error("broken item reported no error")
	}
}

func TestSyncAllItemsForUser_ConcurrentBatches(t *testing.T) {
	// Two overlapping batch calls for the same user join the same in-flight
	// item syncs and receive the same result structs. Both batches must be
	// able to read them, errors included, without touching shared state.
	items := newFakeItemStore(
		testItem("item-ok", 7, ""),
		testItem("item-bad", 7, ""),
	)
	ledger := newFakeLedger()

	p := &mockProvider{
		fetchFunc: func(ctx context.Context, accessToken, cursor string) (*provider.Delta, error) {
			time.Sleep(30 * time.Millisecond) // keep the two batches overlapping
			if accessToken == "token-item-bad" {
				return nil, &provider.Error{Kind: provider.KindAuthInvalid, Err: errors.New("revoked")}
			}
			return &provider.Delta{
				Added:      []provider.Transaction{providerTx("tx1", "acc-1", "-10.00", "2026-08-01")},
				NextCursor: "c1",
			}, nil
		},
	}

	c := newTestCoordinator(p, items, ledger)

	type batch struct {
		results []*SyncResult
		err     error
	}
	batches := make(chan batch, 2)
	for i := 0; i < 2; i++ {
		go func() {
			results, err := c.SyncAllItemsForUser(context.Background(), 7)
			batches <- batch{results, err}
		}()
	}

	for i := 0; i < 2; i++ {
		b := <-batches
		if b.err != nil {
			t.Fatalf("SyncAllItemsForUser() failed: %v", b.err)
		}
		if len(b.results) != 2 {
			t.Fatalf("got %d results, want 2", len(b.results))
		}
		for _, r := range b.results {
			switch r.ItemID {
			case "item-ok":
				if r.Err != nil {
					t.Errorf("healthy item failed: %v", r.Err)
				}
			case "item-bad":
				if !provider.IsAuthInvalid(r.Err) {
					t.Errorf("broken item error = %v, want auth invalid", r.Err)
				}
			}
		}
	}
}

func TestSyncAllItemsForUser_DeadlineSkipsUnstartedItems(t *testing.T) {
	items := newFakeItemStore(
		testItem("item-1", 7, ""),
		testItem("item-2", 7, ""),
		testItem("item-3", 7, ""),
	)
	ledger := newFakeLedger()
	p := &mockProvider{}

	ctx, cancel := context.WithCancel(context.Background())
	cancel() // batch deadline already expired

	c := newTestCoordinator(p, items, ledger)
	results, err := c.SyncAllItemsForUser(ctx, 7)
	if err != nil {
		t.Fatalf("SyncAllItemsForUser() failed: %v", err)
	}
	for _, r := range results {
		if !r.Skipped {
			t.Errorf("item %s was not skipped under an expired deadline", r.ItemID)
		}
		if r.Err != nil {
			t.Errorf("skipped item %s carries an error: %v", r.ItemID, r.Err)
		}
	}
}

func TestSyncItem_MalformedRowsAreRecordedNotFatal(t *testing.T) {
	items := newFakeItemStore(testItem("item-a", 1, ""))
	ledger := newFakeLedger()

	p := &mockProvider{
		fetchFunc: func(ctx context.Context, accessToken, cursor string) (*provider.Delta, error) {
			return &provider.Delta{
				Added: []provider.Transaction{
					providerTx("tx1", "acc-1", "-10.00", "2026-08-01"),
					providerTx("tx-bad", "acc-1", "not-a-number", "2026-08-01"),
				},
				NextCursor: "c1",
			}, nil
		},
	}

	c := newTestCoordinator(p, items, ledger)
	result, err := c.SyncItem(context.Background(), "item-a")
	if err != nil {
		t.Fatalf("SyncItem() failed: %v", err)
	}
	if result.Added != 1 {
		t.Errorf("added = %d, want 1", result.Added)
	}
	if len(result.Errors) != 1 {
		t.Errorf("errors = %v, want exactly one row error", result.Errors)
	}

	rows, _ := ledger.snapshot()
	if _, ok := rows["tx-bad"]; ok {
		t.Error("malformed row reached the ledger")
	}
}
