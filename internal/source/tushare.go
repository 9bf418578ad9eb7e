package source

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"time"

	apperrors "stockseason/internal/errors"
	"stockseason/pkg/contracts/domain"
)

const tushareDefaultURL = "http://api.tushare.pro"

// Tushare serves the China A-share market with native monthly candles and
// a reported percent change already in percentage points. Its catalog call
// also carries a free-text industry label, and it exposes the Shenwan
// classification as a separate API.
type Tushare struct {
	token   string
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// NewTushare creates a tushare adapter.
func NewTushare(token string, timeout time.Duration, logger *slog.Logger) *Tushare {
	return &Tushare{
		token:   token,
		baseURL: tushareDefaultURL,
		client:  newHTTPClient(timeout),
		logger:  logger.With(slog.String("provider", ProviderTushare)),
	}
}

// Name implements Adapter.
func (t *Tushare) Name() string { return ProviderTushare }

// tushareRequest is the uniform POST body for every tushare API.
type tushareRequest struct {
	APIName string            `json:"api_name"`
	Token   string            `json:"token"`
	Params  map[string]string `json:"params"`
	Fields  string            `json:"fields"`
}

// tushareResponse is the uniform columnar response.
type tushareResponse struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
	Data struct {
		Fields []string        `json:"fields"`
		Items  [][]interface{} `json:"items"`
	} `json:"data"`
}

// call executes one tushare API request and returns the decoded rows as
// field-name maps.
func (t *Tushare) call(ctx context.Context, apiName string, params map[string]string, fields string) ([]map[string]interface{}, error) {
	body, err := json.Marshal(tushareRequest{
		APIName: apiName,
		Token:   t.token,
		Params:  params,
		Fields:  fields,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal %s request: %w", apiName, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build %s request: %w", apiName, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, apperrors.NewNetworkError(apiName+" request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, apperrors.NewSourceError(fmt.Sprintf("%s returned status %d", apiName, resp.StatusCode), nil)
	}

	var decoded tushareResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, apperrors.NewParsingError("decode "+apiName+" response", err)
	}
	if decoded.Code != 0 {
		return nil, apperrors.NewSourceError(fmt.Sprintf("%s error %d: %s", apiName, decoded.Code, decoded.Msg), nil)
	}

	rows := make([]map[string]interface{}, 0, len(decoded.Data.Items))
	for _, item := range decoded.Data.Items {
		row := make(map[string]interface{}, len(decoded.Data.Fields))
		for i, field := range decoded.Data.Fields {
			if i < len(item) {
				row[field] = item[i]
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// ListInstruments implements Adapter using the stock_basic API.
func (t *Tushare) ListInstruments(ctx context.Context) ([]domain.Instrument, error) {
	rows, err := t.call(ctx, "stock_basic",
		map[string]string{"list_status": "L"},
		"ts_code,symbol,name,exchange,industry,list_date,delist_date")
	if err != nil {
		return nil, catalogErr(ProviderTushare, err)
	}

	instruments := make([]domain.Instrument, 0, len(rows))
	for _, row := range rows {
		code := rowString(row, "ts_code")
		if code == "" {
			continue
		}
		instruments = append(instruments, domain.Instrument{
			Code:       code,
			Symbol:     rowString(row, "symbol"),
			Name:       rowString(row, "name"),
			Exchange:   rowString(row, "exchange"),
			Industry:   rowString(row, "industry"),
			ListDate:   rowString(row, "list_date"),
			DelistDate: rowString(row, "delist_date"),
		})
	}

	t.logger.Debug("catalog fetched", slog.Int("instruments", len(instruments)))
	return instruments, nil
}

// FetchMonthlySeries implements Adapter using the monthly API. Tushare
// reports pct_chg natively in percentage points; normalization still runs
// to catch series where the scale heuristic disagrees.
func (t *Tushare) FetchMonthlySeries(ctx context.Context, code, startDate, endDate string) ([]domain.CanonicalRecord, error) {
	rows, err := t.call(ctx, "monthly",
		map[string]string{
			"ts_code":    code,
			"start_date": startDate,
			"end_date":   endDate,
		},
		"ts_code,trade_date,open,close,high,low,vol,amount,pct_chg")
	if err != nil {
		return nil, wrapFetchErr(err)
	}

	records := make([]domain.CanonicalRecord, 0, len(rows))
	for _, row := range rows {
		tradeDate := rowString(row, "trade_date")
		year, month, ok := domain.YearMonthFromDate(tradeDate)
		if !ok {
			continue
		}
		records = append(records, domain.CanonicalRecord{
			Code:      code,
			TradeDate: tradeDate,
			Year:      year,
			Month:     month,
			Open:      rowFloat(row, "open"),
			Close:     rowFloat(row, "close"),
			High:      rowFloat(row, "high"),
			Low:       rowFloat(row, "low"),
			Volume:    rowFloat(row, "vol"),
			Amount:    rowFloat(row, "amount"),
			PctChange: rowFloat(row, "pct_chg"),
			Provider:  ProviderTushare,
		})
	}

	return NormalizePctChange(records, math.NaN()), nil
}

// ListMemberships implements IndustryClassifier via the Shenwan member
// listing. Only the Shenwan scheme is served; tushare's CITICS endpoint
// needs a higher credit tier.
func (t *Tushare) ListMemberships(ctx context.Context, scheme domain.ClassificationScheme) ([]domain.IndustryMembership, error) {
	if scheme != domain.SchemeShenwan {
		return nil, fmt.Errorf("%w: tushare serves scheme %q only", ErrClassificationUnavailable, domain.SchemeShenwan)
	}

	rows, err := t.call(ctx, "index_member_all",
		map[string]string{"is_new": "Y"},
		"ts_code,l1_name,l2_name")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrClassificationUnavailable, err)
	}

	memberships := make([]domain.IndustryMembership, 0, len(rows))
	for _, row := range rows {
		code := rowString(row, "ts_code")
		industry := rowString(row, "l1_name")
		if code == "" || industry == "" {
			continue
		}
		memberships = append(memberships, domain.IndustryMembership{
			Code:     code,
			Industry: industry,
			Level:    "L1",
			Scheme:   domain.SchemeShenwan,
		})
	}
	return memberships, nil
}

func rowString(row map[string]interface{}, field string) string {
	if v, ok := row[field].(string); ok {
		return v
	}
	return ""
}

func rowFloat(row map[string]interface{}, field string) float64 {
	if v, ok := row[field].(float64); ok {
		return v
	}
	return math.NaN()
}
