// Package aggregate derives dashboard metrics from the transaction ledger.
// All computations are pure reads over the ledger's committed state and use
// decimal arithmetic throughout.
package aggregate

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"finsync/internal/models"
)

// Amounts are signed per the ledger's convention: negative is money out (a
// debit), positive is money in (income, refunds).

// Ledger is the read slice of the transaction store the engine needs.
type Ledger interface {
	List(ctx context.Context, filter models.TransactionFilter) ([]*models.Transaction, error)
}

// Config tunes recurring-charge detection.
type Config struct {
	MinRecurringMonths int // distinct months a group must appear in (default 3)
	IntervalTolerance  int // allowed deviation in days from the modal interval (default 5)
}

// Engine computes KPIs, category rollups, and recurring-charge groups.
type Engine struct {
	ledger Ledger
	cfg    Config

	// now is swappable in tests.
	now func() time.Time
}

// NewEngine creates an aggregation engine over the given ledger.
func NewEngine(ledger Ledger, cfg Config) *Engine {
	if cfg.MinRecurringMonths <= 0 {
		cfg.MinRecurringMonths = 3
	}
	if cfg.IntervalTolerance <= 0 {
		cfg.IntervalTolerance = 5
	}
	return &Engine{ledger: ledger, cfg: cfg, now: time.Now}
}

var amountBand = decimal.NewFromFloat(0.10)

// ComputeKPIs returns income, expenses, and net cash flow for the period, each
// paired with the same metric over the immediately preceding period of equal
// length. A period with no transactions yields zero metrics.
func (e *Engine) ComputeKPIs(ctx context.Context, userID int64, period models.Period) ([]models.KPI, error) {
	current, err := e.listPeriod(ctx, userID, period)
	if err != nil {
		return nil, fmt.Errorf("failed to load current period: %w", err)
	}
	previous, err := e.listPeriod(ctx, userID, period.Previous())
	if err != nil {
		return nil, fmt.Errorf("failed to load previous period: %w", err)
	}

	curIncome, curExpenses := sumFlows(current)
	prevIncome, prevExpenses := sumFlows(previous)

	return []models.KPI{
		{Title: "Income", Metric: curIncome, MetricPrev: prevIncome},
		{Title: "Expenses", Metric: curExpenses, MetricPrev: prevExpenses},
		{Title: "Net Cash Flow", Metric: curIncome.Sub(curExpenses), MetricPrev: prevIncome.Sub(prevExpenses)},
	}, nil
}

func (e *Engine) listPeriod(ctx context.Context, userID int64, period models.Period) ([]*models.Transaction, error) {
	return e.ledger.List(ctx, models.TransactionFilter{
		UserID:    userID,
		StartDate: &period.Start,
		EndDate:   &period.End,
	})
}

func sumFlows(txs []*models.Transaction) (income, expenses decimal.Decimal) {
	for _, tx := range txs {
		if tx.Pending {
			continue
		}
		if tx.Amount.IsNegative() {
			expenses = expenses.Add(tx.Amount.Neg())
		} else {
			income = income.Add(tx.Amount)
		}
	}
	return income, expenses
}

// ComputeCategoryTotals returns spend per category over the range, sorted by
// total descending with ties broken alphabetically. Only outflows count;
// an optional account set narrows the scope.
func (e *Engine) ComputeCategoryTotals(ctx context.Context, userID int64, accountIDs []string, period models.Period) ([]models.CategoryTotal, error) {
	txs, err := e.ledger.List(ctx, models.TransactionFilter{
		UserID:     userID,
		AccountIDs: accountIDs,
		StartDate:  &period.Start,
		EndDate:    &period.End,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load transactions: %w", err)
	}

	byCategory := make(map[string]decimal.Decimal)
	for _, tx := range txs {
		if tx.Pending || !tx.Amount.IsNegative() {
			continue
		}
		byCategory[tx.Category] = byCategory[tx.Category].Add(tx.Amount.Neg())
	}

	totals := make([]models.CategoryTotal, 0, len(byCategory))
	for category, total := range byCategory {
		totals = append(totals, models.CategoryTotal{Category: category, Total: total})
	}
	sort.Slice(totals, func(i, j int) bool {
		if c := totals[i].Total.Cmp(totals[j].Total); c != 0 {
			return c > 0
		}
		return totals[i].Category < totals[j].Category
	})
	return totals, nil
}

// DetectRecurring finds repeating charges over the last lookbackMonths
// calendar months. Transactions are grouped by normalized merchant name and a
// 10% amount band; a group qualifies when it appears in at least
// MinRecurringMonths distinct months and its charge spacing stays within
// IntervalTolerance days of the modal interval.
func (e *Engine) DetectRecurring(ctx context.Context, userID int64, lookbackMonths int) ([]models.RecurringGroup, error) {
	if lookbackMonths < e.cfg.MinRecurringMonths {
		lookbackMonths = e.cfg.MinRecurringMonths
	}

	now := e.now().UTC()
	start := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, -(lookbackMonths - 1), 0)
	end := now.AddDate(0, 0, 1)

	txs, err := e.ledger.List(ctx, models.TransactionFilter{
		UserID:    userID,
		StartDate: &start,
		EndDate:   &end,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load transactions: %w", err)
	}

	clusters := buildClusters(txs)

	var groups []models.RecurringGroup
	for _, cl := range clusters {
		group, ok := e.qualify(cl)
		if ok {
			groups = append(groups, group)
		}
	}

	sort.Slice(groups, func(i, j int) bool {
		if c := groups[i].AverageAmount.Cmp(groups[j].AverageAmount); c != 0 {
			return c > 0
		}
		return groups[i].MerchantName < groups[j].MerchantName
	})
	return groups, nil
}

// cluster is a candidate recurring group: one merchant, one amount band.
type cluster struct {
	merchant string // display name of the most recent charge
	anchor   decimal.Decimal
	dates    []time.Time
	amounts  []decimal.Decimal
}

// buildClusters assigns debits to (normalized merchant, amount band) clusters.
// Band math runs on magnitudes; the band is 10% around the cluster's
// first-seen charge, walked in chronological order so the anchor is the
// earliest one.
func buildClusters(txs []*models.Transaction) []*cluster {
	// The ledger lists newest first; walk oldest first.
	ordered := make([]*models.Transaction, len(txs))
	copy(ordered, txs)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Date.Before(ordered[j].Date) })

	byMerchant := make(map[string][]*cluster)
	var all []*cluster

	for _, tx := range ordered {
		if tx.Pending || !tx.Amount.IsNegative() || tx.MerchantName == "" {
			continue
		}
		key := normalizeMerchant(tx.MerchantName)
		if key == "" {
			continue
		}
		amount := tx.Amount.Neg()

		var target *cluster
		for _, cl := range byMerchant[key] {
			tolerance := cl.anchor.Mul(amountBand)
			if amount.Sub(cl.anchor).Abs().LessThanOrEqual(tolerance) {
				target = cl
				break
			}
		}
		if target == nil {
			target = &cluster{anchor: amount}
			byMerchant[key] = append(byMerchant[key], target)
			all = append(all, target)
		}

		target.merchant = tx.MerchantName
		target.dates = append(target.dates, tx.Date)
		target.amounts = append(target.amounts, amount)
	}
	return all
}

// qualify applies the month and spacing thresholds to a cluster.
func (e *Engine) qualify(cl *cluster) (models.RecurringGroup, bool) {
	months := make(map[string]struct{})
	for _, d := range cl.dates {
		months[d.Format("2006-01")] = struct{}{}
	}
	if len(months) < e.cfg.MinRecurringMonths {
		return models.RecurringGroup{}, false
	}

	intervals := make([]int, 0, len(cl.dates)-1)
	for i := 1; i < len(cl.dates); i++ {
		days := int(cl.dates[i].Sub(cl.dates[i-1]).Hours() / 24)
		intervals = append(intervals, days)
	}
	modal := modalInterval(intervals)
	for _, iv := range intervals {
		if iv < modal-e.cfg.IntervalTolerance || iv > modal+e.cfg.IntervalTolerance {
			return models.RecurringGroup{}, false
		}
	}

	sum := decimal.Zero
	for _, a := range cl.amounts {
		sum = sum.Add(a)
	}
	average := sum.Div(decimal.NewFromInt(int64(len(cl.amounts)))).Round(2)

	return models.RecurringGroup{
		MerchantName:  cl.merchant,
		AverageAmount: average,
		IntervalDays:  modal,
		Months:        len(months),
		Count:         len(cl.dates),
		LastDate:      cl.dates[len(cl.dates)-1],
	}, true
}

// modalInterval returns the most frequent interval, preferring the smaller one
// on ties so the result is deterministic.
func modalInterval(intervals []int) int {
	counts := make(map[int]int)
	for _, iv := range intervals {
		counts[iv]++
	}
	best, bestCount := 0, -1
	for iv, n := range counts {
		if n > bestCount || (n == bestCount && iv < best) {
			best, bestCount = iv, n
		}
	}
	return best
}

// normalizeMerchant folds merchant-name noise so "NETFLIX.COM  1234" and
// "Netflix.com" land in the same group: lowercase, collapse whitespace, and
// strip trailing store/reference numbers.
func normalizeMerchant(name string) string {
	fields := strings.Fields(strings.ToLower(name))
	for len(fields) > 0 {
		last := strings.TrimLeft(fields[len(fields)-1], "#*")
		if last == "" || !allDigits(last) {
			break
		}
		fields = fields[:len(fields)-1]
	}
	return strings.Join(fields, " ")
}

func allDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
