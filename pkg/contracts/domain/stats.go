package domain

// StatResult is a computed seasonal aggregate for one instrument and one
// calendar month across years. It is derived on demand and never persisted.
//
// UpCount counts months with strictly positive percent change, DownCount
// strictly negative; a flat month contributes to TotalCount only, so
// UpProbability + DownProbability may be below 100.
type StatResult struct {
	Code            string  `json:"code"`
	Symbol          string  `json:"symbol,omitempty"`
	Name            string  `json:"name,omitempty"`
	Month           int     `json:"month"`
	TotalCount      int     `json:"total_count"`
	UpCount         int     `json:"up_count"`
	DownCount       int     `json:"down_count"`
	AvgUpPct        float64 `json:"avg_up_pct"`
	AvgDownPct      float64 `json:"avg_down_pct"`
	UpProbability   float64 `json:"up_probability"`
	DownProbability float64 `json:"down_probability"`
}

// IndustryStat is the industry-level aggregate: member instruments' stats
// pooled by count-weighted averaging.
type IndustryStat struct {
	Industry        string  `json:"industry"`
	StockCount      int     `json:"stock_count"`
	Month           int     `json:"month"`
	TotalCount      int     `json:"total_count"`
	UpCount         int     `json:"up_count"`
	DownCount       int     `json:"down_count"`
	AvgUpPct        float64 `json:"avg_up_pct"`
	AvgDownPct      float64 `json:"avg_down_pct"`
	UpProbability   float64 `json:"up_probability"`
	DownProbability float64 `json:"down_probability"`
}

// ProviderSummary describes the stored footprint of one provider.
type ProviderSummary struct {
	Provider        string `json:"provider"`
	RecordCount     int    `json:"record_count"`
	InstrumentCount int    `json:"instrument_count"`
	LatestDate      string `json:"latest_date,omitempty"`
}
