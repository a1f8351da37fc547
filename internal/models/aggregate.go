package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Period is a half-open date range [Start, End).
type Period struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Previous returns the immediately preceding period of equal length.
func (p Period) Previous() Period {
	length := p.End.Sub(p.Start)
	return Period{Start: p.Start.Add(-length), End: p.Start}
}

// Contains reports whether t falls inside the period.
func (p Period) Contains(t time.Time) bool {
	return !t.Before(p.Start) && t.Before(p.End)
}

// KPI is a dashboard metric compared against the preceding period of equal
// length. Derived data: always recomputable from the transaction ledger.
type KPI struct {
	Title      string          `json:"title"`
	Metric     decimal.Decimal `json:"metric"`
	MetricPrev decimal.Decimal `json:"metricPrev"`
}

// CategoryTotal is spend grouped by category for a date range.
type CategoryTotal struct {
	Category string          `json:"category"`
	Total    decimal.Decimal `json:"total"`
}

// RecurringGroup is a cluster of transactions inferred to represent a
// repeating charge (subscription, bill).
type RecurringGroup struct {
	MerchantName  string          `json:"merchantName"`
	AverageAmount decimal.Decimal `json:"averageAmount"`
	IntervalDays  int             `json:"intervalDays"` // modal spacing between charges
	Months        int             `json:"months"`       // distinct months observed in the lookback window
	Count         int             `json:"count"`
	LastDate      time.Time       `json:"lastDate"`
}
