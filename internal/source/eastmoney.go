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
	"strings"
	"time"

	apperrors "stockseason/internal/errors"
	"stockseason/pkg/contracts/domain"
)

const (
	eastmoneyDefaultListURL  = "https://80.push2.eastmoney.com/api/qt/clist/get"
	eastmoneyDefaultKlineURL = "https://push2his.eastmoney.com/api/qt/stock/kline/get"

	// fs filter covering SZ main/ChiNext (m:0) and SH main/STAR (m:1).
	eastmoneyCatalogFilter = "m:0+t:6,m:0+t:80,m:1+t:2,m:1+t:23"
)

// Eastmoney serves the China A-share market without native monthly candles
// or a usable percent change. The adapter fetches front-adjusted daily
// klines, aggregates them into calendar months and recomputes percent
// change against the prior month's close via a look-back window.
type Eastmoney struct {
	listURL  string
	klineURL string
	client   *http.Client
	logger   *slog.Logger
}

// NewEastmoney creates an eastmoney adapter. No credentials are required.
func NewEastmoney(timeout time.Duration, logger *slog.Logger) *Eastmoney {
	return &Eastmoney{
		listURL:  eastmoneyDefaultListURL,
		klineURL: eastmoneyDefaultKlineURL,
		client:   newHTTPClient(timeout),
		logger:   logger.With(slog.String("provider", ProviderEastmoney)),
	}
}

// Name implements Adapter.
func (e *Eastmoney) Name() string { return ProviderEastmoney }

type eastmoneyListResponse struct {
	Data struct {
		Total int `json:"total"`
		Diff  []struct {
			Symbol string `json:"f12"`
			Market int    `json:"f13"`
			Name   string `json:"f14"`
		} `json:"diff"`
	} `json:"data"`
}

// ListInstruments implements Adapter by paging the clist API.
func (e *Eastmoney) ListInstruments(ctx context.Context) ([]domain.Instrument, error) {
	const pageSize = 5000

	var instruments []domain.Instrument
	for page := 1; ; page++ {
		params := url.Values{}
		params.Set("pn", strconv.Itoa(page))
		params.Set("pz", strconv.Itoa(pageSize))
		params.Set("fs", eastmoneyCatalogFilter)
		params.Set("fields", "f12,f13,f14")

		var decoded eastmoneyListResponse
		if err := e.getJSON(ctx, e.listURL, params, &decoded); err != nil {
			return nil, catalogErr(ProviderEastmoney, err)
		}

		for _, row := range decoded.Data.Diff {
			if row.Symbol == "" {
				continue
			}
			code := eastmoneyCanonical(row.Market, row.Symbol)
			exchange := "SZSE"
			if row.Market == 1 {
				exchange = "SSE"
			}
			instruments = append(instruments, domain.Instrument{
				Code:     code,
				Symbol:   row.Symbol,
				Name:     row.Name,
				Exchange: exchange,
			})
		}

		if len(instruments) >= decoded.Data.Total || len(decoded.Data.Diff) == 0 {
			break
		}
	}

	e.logger.Debug("catalog fetched", slog.Int("instruments", len(instruments)))
	return instruments, nil
}

type eastmoneyKlineResponse struct {
	Data struct {
		Klines []string `json:"klines"`
	} `json:"data"`
}

// FetchMonthlySeries implements Adapter. Daily klines are fetched from two
// months before startDate so the first in-range month has a prior close to
// compute percent change against, then trimmed back to the requested range.
func (e *Eastmoney) FetchMonthlySeries(ctx context.Context, code, startDate, endDate string) ([]domain.CanonicalRecord, error) {
	secid, err := eastmoneySecID(code)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFetchFailed, err)
	}

	params := url.Values{}
	params.Set("secid", secid)
	params.Set("klt", "101") // daily
	params.Set("fqt", "1")   // front-adjusted
	params.Set("beg", lookBackStart(startDate))
	params.Set("end", endDate)
	params.Set("fields1", "f1,f2,f3,f4,f5,f6")
	params.Set("fields2", "f51,f52,f53,f54,f55,f56,f57")

	var decoded eastmoneyKlineResponse
	if err := e.getJSON(ctx, e.klineURL, params, &decoded); err != nil {
		return nil, wrapFetchErr(err)
	}

	bars := make([]DailyBar, 0, len(decoded.Data.Klines))
	for _, line := range decoded.Data.Klines {
		bar, ok := parseKline(line)
		if !ok {
			continue
		}
		bars = append(bars, bar)
	}

	records := AggregateMonthly(code, ProviderEastmoney, bars)

	// The oldest aggregated month may be the look-back month itself; its
	// close seeds the percent-change chain and it is trimmed afterwards.
	priorClose := math.NaN()
	records = NormalizePctChange(records, priorClose)
	return trimRange(records, startDate, endDate), nil
}

// parseKline decodes one "date,open,close,high,low,volume,amount" line.
// Dates arrive as "2006-01-02" and are flattened to YYYYMMDD.
func parseKline(line string) (DailyBar, bool) {
	parts := strings.Split(line, ",")
	if len(parts) < 7 {
		return DailyBar{}, false
	}
	date := strings.ReplaceAll(parts[0], "-", "")
	if len(date) != 8 {
		return DailyBar{}, false
	}

	nums := make([]float64, 6)
	for i := 0; i < 6; i++ {
		v, err := strconv.ParseFloat(parts[i+1], 64)
		if err != nil {
			v = math.NaN()
		}
		nums[i] = v
	}

	return DailyBar{
		Date:   date,
		Open:   nums[0],
		Close:  nums[1],
		High:   nums[2],
		Low:    nums[3],
		Volume: nums[4],
		Amount: nums[5],
	}, true
}

func (e *Eastmoney) getJSON(ctx context.Context, endpoint string, params url.Values, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return apperrors.NewNetworkError("eastmoney request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return apperrors.NewSourceError(fmt.Sprintf("eastmoney returned status %d", resp.StatusCode), nil)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return apperrors.NewParsingError("decode eastmoney response", err)
	}
	return nil
}
