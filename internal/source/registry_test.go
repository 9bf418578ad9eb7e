package source

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stockseason/internal/config"
	apperrors "stockseason/internal/errors"
)

func TestNew(t *testing.T) {
	logger := discardLogger()
	cfg := &config.Config{}
	cfg.Source.FetchTimeout = time.Second
	cfg.Source.Finnhub.Exchange = "US"

	t.Run("eastmoney needs no credentials", func(t *testing.T) {
		adapter, err := New(ProviderEastmoney, cfg, logger)
		require.NoError(t, err)
		assert.Equal(t, ProviderEastmoney, adapter.Name())
	})

	t.Run("tushare without token is a config error", func(t *testing.T) {
		_, err := New(ProviderTushare, cfg, logger)
		require.Error(t, err)

		var appErr *apperrors.AppError
		require.True(t, errors.As(err, &appErr))
		assert.Equal(t, apperrors.ErrTypeConfig, appErr.Type)
	})

	t.Run("finnhub without key is a config error", func(t *testing.T) {
		_, err := New(ProviderFinnhub, cfg, logger)
		require.Error(t, err)

		var appErr *apperrors.AppError
		require.True(t, errors.As(err, &appErr))
		assert.Equal(t, apperrors.ErrTypeConfig, appErr.Type)
	})

	t.Run("unknown provider", func(t *testing.T) {
		_, err := New("bloomberg", cfg, logger)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unknown provider")
	})
}
