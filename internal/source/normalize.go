package source

import (
	"math"
	"sort"
	"time"

	"stockseason/pkg/contracts/domain"
)

// DailyBar is one raw daily candle from a provider that only serves daily
// data. Monthly records are aggregated from these.
type DailyBar struct {
	Date   string // YYYYMMDD
	Open   float64
	Close  float64
	High   float64
	Low    float64
	Volume float64
	Amount float64
}

// AggregateMonthly collapses daily bars into one canonical record per
// calendar month: open from the first trading day, close from the last,
// high/low as the extremes, volume/amount summed. The record's trade date
// is the month's last trading day. Percent change is left unset (NaN);
// callers run NormalizePctChange afterwards.
func AggregateMonthly(code, provider string, bars []DailyBar) []domain.CanonicalRecord {
	if len(bars) == 0 {
		return nil
	}

	sorted := make([]DailyBar, len(bars))
	copy(sorted, bars)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Date < sorted[j].Date })

	var records []domain.CanonicalRecord
	var cur *domain.CanonicalRecord
	curKey := ""

	for _, bar := range sorted {
		year, month, ok := domain.YearMonthFromDate(bar.Date)
		if !ok {
			continue
		}
		key := bar.Date[:6]
		if key != curKey {
			if cur != nil {
				records = append(records, *cur)
			}
			cur = &domain.CanonicalRecord{
				Code:      code,
				TradeDate: bar.Date,
				Year:      year,
				Month:     month,
				Open:      bar.Open,
				Close:     bar.Close,
				High:      bar.High,
				Low:       bar.Low,
				Volume:    bar.Volume,
				Amount:    bar.Amount,
				PctChange: math.NaN(),
				Provider:  provider,
			}
			curKey = key
			continue
		}
		cur.TradeDate = bar.Date
		cur.Close = bar.Close
		cur.High = math.Max(cur.High, bar.High)
		cur.Low = math.Min(cur.Low, bar.Low)
		cur.Volume += bar.Volume
		cur.Amount += bar.Amount
	}
	if cur != nil {
		records = append(records, *cur)
	}
	return records
}

// NormalizePctChange enforces the percentage-point convention on a series,
// in trade-date order. Three cases:
//
//  1. Every record reports a percent change and the series' maximum
//     magnitude is at least 1.0: values pass through unchanged.
//  2. Every record reports a percent change but the maximum magnitude is
//     below 1.0: the series is treated as fractional and every value is
//     multiplied by 100. This is a heuristic; genuinely quiet series can
//     be misclassified, and no stronger threshold exists.
//  3. Any record lacks a percent change: the whole series is recomputed
//     from closes as (close_t/close_{t-1} - 1) * 100. priorClose seeds the
//     chain for the first record; when it is NaN or non-positive (fresh
//     listing, no look-back data) the first record falls back to
//     (close-open)/open * 100.
//
// The input slice is modified in place and returned.
func NormalizePctChange(records []domain.CanonicalRecord, priorClose float64) []domain.CanonicalRecord {
	if len(records) == 0 {
		return records
	}

	sort.Slice(records, func(i, j int) bool { return records[i].TradeDate < records[j].TradeDate })

	maxAbs := 0.0
	anyMissing := false
	for _, r := range records {
		if !r.HasPctChange() {
			anyMissing = true
			break
		}
		if abs := math.Abs(r.PctChange); abs > maxAbs {
			maxAbs = abs
		}
	}

	switch {
	case !anyMissing && maxAbs >= 1.0:
		return records

	case !anyMissing:
		for i := range records {
			records[i].PctChange *= 100
		}
		return records

	default:
		prev := priorClose
		for i := range records {
			records[i].PctChange = pctFromCloses(records[i], prev)
			prev = records[i].Close
		}
		return records
	}
}

// pctFromCloses computes one record's percent change against the prior
// month's close, falling back to intra-month change when no prior exists.
func pctFromCloses(r domain.CanonicalRecord, priorClose float64) float64 {
	if !math.IsNaN(priorClose) && priorClose > 0 {
		return (r.Close/priorClose - 1) * 100
	}
	if !math.IsNaN(r.Open) && r.Open > 0 {
		return (r.Close - r.Open) / r.Open * 100
	}
	return math.NaN()
}

// lookBackStart returns the YYYYMMDD date two calendar months before start,
// the bounded window used to obtain a prior-month close for the first
// in-range record.
func lookBackStart(start string) string {
	t, err := time.Parse("20060102", start)
	if err != nil {
		return start
	}
	return t.AddDate(0, -2, 0).Format("20060102")
}

// trimRange drops records outside the inclusive [start, end] trade-date
// range. Used after look-back fetches so callers only see what they asked
// for.
func trimRange(records []domain.CanonicalRecord, start, end string) []domain.CanonicalRecord {
	out := records[:0]
	for _, r := range records {
		if r.TradeDate >= start && r.TradeDate <= end {
			out = append(out, r)
		}
	}
	return out
}
