package source

import (
	"log/slog"

	"stockseason/internal/config"
	apperrors "stockseason/internal/errors"
)

// New builds the adapter named by cfg, wiring in its credentials and the
// shared fetch timeout. The name must be one of the Provider constants.
func New(name string, cfg *config.Config, logger *slog.Logger) (Adapter, error) {
	timeout := cfg.Source.FetchTimeout

	switch name {
	case ProviderTushare:
		if cfg.Source.Tushare.Token == "" {
			return nil, apperrors.NewConfigError("tushare requires a token", nil)
		}
		return NewTushare(cfg.Source.Tushare.Token, timeout, logger), nil

	case ProviderEastmoney:
		return NewEastmoney(timeout, logger), nil

	case ProviderFinnhub:
		if cfg.Source.Finnhub.APIKey == "" {
			return nil, apperrors.NewConfigError("finnhub requires an api key", nil)
		}
		return NewFinnhub(cfg.Source.Finnhub.APIKey, cfg.Source.Finnhub.Exchange, timeout, logger), nil

	default:
		return nil, apperrors.NewConfigError("unknown provider "+name, nil)
	}
}

// Providers lists the registered provider names.
func Providers() []string {
	return []string{ProviderTushare, ProviderEastmoney, ProviderFinnhub}
}
