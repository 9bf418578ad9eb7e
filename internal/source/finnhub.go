package source

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"time"

	apperrors "stockseason/internal/errors"
	"stockseason/pkg/contracts/domain"
)

const finnhubDefaultURL = "https://finnhub.io/api/v1"

// Finnhub serves US-listed equities with native monthly candles but no
// reported percent change; the adapter recomputes it from closes with a
// look-back window for the first in-range month.
type Finnhub struct {
	apiKey   string
	exchange string
	baseURL  string
	client   *http.Client
	logger   *slog.Logger
}

// NewFinnhub creates a finnhub adapter for one exchange.
func NewFinnhub(apiKey, exchange string, timeout time.Duration, logger *slog.Logger) *Finnhub {
	if exchange == "" {
		exchange = "US"
	}
	return &Finnhub{
		apiKey:   apiKey,
		exchange: exchange,
		baseURL:  finnhubDefaultURL,
		client:   newHTTPClient(timeout),
		logger:   logger.With(slog.String("provider", ProviderFinnhub)),
	}
}

// Name implements Adapter.
func (f *Finnhub) Name() string { return ProviderFinnhub }

type finnhubSymbolRow struct {
	Symbol      string `json:"symbol"`
	Description string `json:"description"`
	Type        string `json:"type"`
}

// ListInstruments implements Adapter via the stock/symbol API, keeping
// common stocks only.
func (f *Finnhub) ListInstruments(ctx context.Context) ([]domain.Instrument, error) {
	params := url.Values{}
	params.Set("exchange", f.exchange)

	var rows []finnhubSymbolRow
	if err := f.getJSON(ctx, "/stock/symbol", params, &rows); err != nil {
		return nil, catalogErr(ProviderFinnhub, err)
	}

	instruments := make([]domain.Instrument, 0, len(rows))
	for _, row := range rows {
		if row.Symbol == "" || row.Type != "Common Stock" {
			continue
		}
		instruments = append(instruments, domain.Instrument{
			Code:     canonicalCode(row.Symbol, f.exchange),
			Symbol:   row.Symbol,
			Name:     row.Description,
			Exchange: f.exchange,
		})
	}

	f.logger.Debug("catalog fetched", slog.Int("instruments", len(instruments)))
	return instruments, nil
}

type finnhubCandleResponse struct {
	Status string    `json:"s"`
	Times  []int64   `json:"t"`
	Open   []float64 `json:"o"`
	Close  []float64 `json:"c"`
	High   []float64 `json:"h"`
	Low    []float64 `json:"l"`
	Volume []float64 `json:"v"`
}

// FetchMonthlySeries implements Adapter via the stock/candle API with
// monthly resolution.
func (f *Finnhub) FetchMonthlySeries(ctx context.Context, code, startDate, endDate string) ([]domain.CanonicalRecord, error) {
	symbol, err := finnhubSymbol(code)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFetchFailed, err)
	}

	from, err := dateToUnix(lookBackStart(startDate))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFetchFailed, err)
	}
	to, err := dateToUnix(endDate)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFetchFailed, err)
	}
	// End bound is inclusive of the whole day.
	to += 24*60*60 - 1

	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("resolution", "M")
	params.Set("from", strconv.FormatInt(from, 10))
	params.Set("to", strconv.FormatInt(to, 10))

	var decoded finnhubCandleResponse
	if err := f.getJSON(ctx, "/stock/candle", params, &decoded); err != nil {
		return nil, wrapFetchErr(err)
	}
	if decoded.Status == "no_data" {
		return nil, nil
	}
	if decoded.Status != "ok" {
		return nil, fmt.Errorf("%w: candle status %q", ErrFetchFailed, decoded.Status)
	}

	records := make([]domain.CanonicalRecord, 0, len(decoded.Times))
	for i, ts := range decoded.Times {
		tradeDate := time.Unix(ts, 0).UTC().Format("20060102")
		year, month, ok := domain.YearMonthFromDate(tradeDate)
		if !ok {
			continue
		}
		records = append(records, domain.CanonicalRecord{
			Code:      code,
			TradeDate: tradeDate,
			Year:      year,
			Month:     month,
			Open:      sliceAt(decoded.Open, i),
			Close:     sliceAt(decoded.Close, i),
			High:      sliceAt(decoded.High, i),
			Low:       sliceAt(decoded.Low, i),
			Volume:    sliceAt(decoded.Volume, i),
			Amount:    math.NaN(),
			PctChange: math.NaN(),
			Provider:  ProviderFinnhub,
		})
	}

	records = NormalizePctChange(records, math.NaN())
	return trimRange(records, startDate, endDate), nil
}

func sliceAt(values []float64, i int) float64 {
	if i < len(values) {
		return values[i]
	}
	return math.NaN()
}

func dateToUnix(date string) (int64, error) {
	t, err := time.Parse("20060102", date)
	if err != nil {
		return 0, err
	}
	return t.UTC().Unix(), nil
}

func (f *Finnhub) getJSON(ctx context.Context, path string, params url.Values, out interface{}) error {
	params.Set("token", f.apiKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.baseURL+path+"?"+params.Encode(), nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return apperrors.NewNetworkError("finnhub request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return apperrors.NewSourceError("finnhub rate limit exceeded", nil)
	}
	if resp.StatusCode != http.StatusOK {
		return apperrors.NewSourceError(fmt.Sprintf("finnhub returned status %d", resp.StatusCode), nil)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return apperrors.NewParsingError("decode finnhub response", err)
	}
	return nil
}
