package strategy

import (
	"context"
	"errors"
	"testing"

	"signal-relay/internal/model"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticCandles struct {
	candles []model.Candle
	err     error
	calls   int
}

func (s *staticCandles) Candles(context.Context, string) ([]model.Candle, error) {
	s.calls++
	return s.candles, s.err
}

func rangeCandles(ranges ...int64) []model.Candle {
	out := make([]model.Candle, len(ranges))
	for i, r := range ranges {
		out[i] = model.Candle{
			High:  decimal.NewFromInt(1000 + r),
			Low:   decimal.NewFromInt(1000),
			Close: decimal.NewFromInt(1000),
		}
	}
	return out
}

func TestVolatilityEstimator_ExplicitBypassesSource(t *testing.T) {
	src := &staticCandles{}
	e := NewVolatilityEstimator(src, MethodRange, 14, nil)

	explicit := d("250.5")
	got, err := e.Estimate(context.Background(), "BTC_JPY", &explicit)
	require.NoError(t, err)
	assert.True(t, got.Equal(explicit))
	assert.Zero(t, src.calls)
}

func TestVolatilityEstimator_MeanRange(t *testing.T) {
	src := &staticCandles{candles: rangeCandles(1000, 2000, 3000)}
	e := NewVolatilityEstimator(src, "", 14, nil)

	got, err := e.Estimate(context.Background(), "BTC_JPY", nil)
	require.NoError(t, err)
	assert.True(t, got.Equal(d("2000")), got.String())
	assert.Equal(t, 1, src.calls)
}

func TestVolatilityEstimator_Errors(t *testing.T) {
	e := NewVolatilityEstimator(&staticCandles{}, MethodRange, 14, nil)
	_, err := e.Estimate(context.Background(), "BTC_JPY", nil)
	var insufficient *model.InsufficientDataError
	assert.ErrorAs(t, err, &insufficient)

	e = NewVolatilityEstimator(&staticCandles{candles: rangeCandles(1, 2, 3)}, MethodATR, 14, nil)
	_, err = e.Estimate(context.Background(), "BTC_JPY", nil)
	assert.ErrorAs(t, err, &insufficient)

	boom := errors.New("boom")
	e = NewVolatilityEstimator(&staticCandles{err: boom}, MethodRange, 14, nil)
	_, err = e.Estimate(context.Background(), "BTC_JPY", nil)
	assert.ErrorIs(t, err, boom)

	e = NewVolatilityEstimator(&staticCandles{candles: rangeCandles(1)}, "median", 14, nil)
	_, err = e.Estimate(context.Background(), "BTC_JPY", nil)
	var cfgErr *model.ConfigError
	assert.ErrorAs(t, err, &cfgErr)
}
