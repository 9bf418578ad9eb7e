// Package source fetches instrument catalogs and monthly price series from
// external market-data providers and normalizes them into canonical records.
// Adapters are stateless apart from credentials and an HTTP client; exactly
// one adapter is active at a time, selected by configuration.
package source

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"stockseason/pkg/contracts/domain"
)

// Provider names accepted by the registry.
const (
	ProviderTushare   = "tushare"
	ProviderEastmoney = "eastmoney"
	ProviderFinnhub   = "finnhub"
)

// Error taxonomy. Catalog failures are fatal to a reconciliation run;
// fetch failures are recovered per instrument; classification failures
// are swallowed entirely.
var (
	ErrCatalogUnavailable        = errors.New("catalog unavailable")
	ErrFetchTimeout              = errors.New("fetch timed out")
	ErrFetchFailed               = errors.New("fetch failed")
	ErrClassificationUnavailable = errors.New("classification unavailable")
)

// Adapter is the capability set every provider implements.
//
// ListInstruments returns the full current catalog. An empty catalog from a
// successful call is valid and returned as-is; only a failed call yields
// ErrCatalogUnavailable.
//
// FetchMonthlySeries returns one canonical record per trading month within
// the inclusive [startDate, endDate] range (both YYYYMMDD), front-adjusted
// where the provider supports it, with percent change normalized to
// percentage points.
type Adapter interface {
	Name() string
	ListInstruments(ctx context.Context) ([]domain.Instrument, error)
	FetchMonthlySeries(ctx context.Context, code, startDate, endDate string) ([]domain.CanonicalRecord, error)
}

// IndustryClassifier is an optional adapter capability. Adapters able to
// supply industry memberships implement it; the coordinator checks with a
// type assertion and skips classification otherwise.
type IndustryClassifier interface {
	ListMemberships(ctx context.Context, scheme domain.ClassificationScheme) ([]domain.IndustryMembership, error)
}

// newHTTPClient builds the bounded-timeout client shared by all adapters.
func newHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &http.Client{Timeout: timeout}
}

// wrapFetchErr classifies a transport error into the fetch taxonomy.
// Timeouts (context deadline or client timeout) map to ErrFetchTimeout so
// the coordinator can log them distinctly; everything else is ErrFetchFailed.
func wrapFetchErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || isClientTimeout(err) {
		return fmt.Errorf("%w: %v", ErrFetchTimeout, err)
	}
	return fmt.Errorf("%w: %v", ErrFetchFailed, err)
}

func isClientTimeout(err error) bool {
	var netErr interface{ Timeout() bool }
	return errors.As(err, &netErr) && netErr.Timeout()
}

// catalogErr wraps any catalog-call failure into ErrCatalogUnavailable.
func catalogErr(provider string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrCatalogUnavailable, provider, err)
}
