package domain

import (
	"encoding/json"
	"math"
	"strconv"
)

// CanonicalRecord is one normalized monthly observation for one instrument
// from one provider. Records are unique per (Code, TradeDate, Provider);
// different providers may hold differing values for the same instrument/date.
//
// PctChange is expressed in percentage points: 3.2 means +3.2%. Numeric
// fields may be NaN when a provider did not report them; the store persists
// NaN as NULL.
type CanonicalRecord struct {
	Code      string  `json:"code" db:"code" validate:"required"`
	TradeDate string  `json:"trade_date" db:"trade_date" validate:"required,len=8"` // YYYYMMDD
	Year      int     `json:"year" db:"year" validate:"required,min=1900"`
	Month     int     `json:"month" db:"month" validate:"required,min=1,max=12"`
	Open      float64 `json:"open" db:"open"`
	Close     float64 `json:"close" db:"close"`
	High      float64 `json:"high" db:"high"`
	Low       float64 `json:"low" db:"low"`
	Volume    float64 `json:"volume" db:"volume"`
	Amount    float64 `json:"amount" db:"amount"`
	PctChange float64 `json:"pct_change" db:"pct_change"`
	Provider  string  `json:"provider" db:"provider" validate:"required"`
}

// HasPctChange reports whether the percent change was reported or computed.
func (r CanonicalRecord) HasPctChange() bool {
	return !math.IsNaN(r.PctChange)
}

// MarshalJSON emits null for NaN numeric fields, matching the NULL the
// store persists for values a provider did not report.
func (r CanonicalRecord) MarshalJSON() ([]byte, error) {
	type recordJSON struct {
		Code      string   `json:"code"`
		TradeDate string   `json:"trade_date"`
		Year      int      `json:"year"`
		Month     int      `json:"month"`
		Open      *float64 `json:"open"`
		Close     *float64 `json:"close"`
		High      *float64 `json:"high"`
		Low       *float64 `json:"low"`
		Volume    *float64 `json:"volume"`
		Amount    *float64 `json:"amount"`
		PctChange *float64 `json:"pct_change"`
		Provider  string   `json:"provider"`
	}
	return json.Marshal(recordJSON{
		Code:      r.Code,
		TradeDate: r.TradeDate,
		Year:      r.Year,
		Month:     r.Month,
		Open:      nullableFloat(r.Open),
		Close:     nullableFloat(r.Close),
		High:      nullableFloat(r.High),
		Low:       nullableFloat(r.Low),
		Volume:    nullableFloat(r.Volume),
		Amount:    nullableFloat(r.Amount),
		PctChange: nullableFloat(r.PctChange),
		Provider:  r.Provider,
	})
}

func nullableFloat(v float64) *float64 {
	if math.IsNaN(v) {
		return nil
	}
	return &v
}

// DateFromYearMonth builds the last-day sentinel YYYYMMDD string for a
// year/month pair (used for range bounds, not calendar arithmetic).
func DateFromYearMonth(year, month, day int) string {
	return strconv.Itoa(year*10000 + month*100 + day)
}

// YearMonthFromDate splits a YYYYMMDD string into year and month.
// Malformed input yields ok=false.
func YearMonthFromDate(date string) (year, month int, ok bool) {
	if len(date) != 8 {
		return 0, 0, false
	}
	y, err := strconv.Atoi(date[:4])
	if err != nil {
		return 0, 0, false
	}
	m, err := strconv.Atoi(date[4:6])
	if err != nil || m < 1 || m > 12 {
		return 0, 0, false
	}
	return y, m, true
}
