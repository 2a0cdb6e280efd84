package model

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func tick(ts time.Time, px string) Ticker {
	return Ticker{Symbol: "BTC_JPY", Timestamp: ts.UnixMilli(), Price: decimal.RequireFromString(px)}
}

func TestCandleAggregator_BuildsCompletedCandles(t *testing.T) {
	agg := NewCandleAggregator("BTC_JPY", time.Minute, "1m", 10, nil, zap.NewNop())
	base := time.Date(2024, 10, 19, 9, 0, 0, 0, time.UTC)

	agg.ProcessTicker(tick(base.Add(1*time.Second), "100"))
	agg.ProcessTicker(tick(base.Add(20*time.Second), "120"))
	agg.ProcessTicker(tick(base.Add(40*time.Second), "90"))
	agg.ProcessTicker(tick(base.Add(59*time.Second), "110"))

	candles, err := agg.Candles(context.Background(), "BTC_JPY")
	require.NoError(t, err)
	assert.Empty(t, candles, "current candle must not be exposed before it closes")

	agg.ProcessTicker(tick(base.Add(61*time.Second), "111"))

	candles, err = agg.Candles(context.Background(), "BTC_JPY")
	require.NoError(t, err)
	require.Len(t, candles, 1)

	c := candles[0]
	assert.True(t, c.Open.Equal(decimal.NewFromInt(100)))
	assert.True(t, c.High.Equal(decimal.NewFromInt(120)))
	assert.True(t, c.Low.Equal(decimal.NewFromInt(90)))
	assert.True(t, c.Close.Equal(decimal.NewFromInt(110)))
	assert.Equal(t, base, c.StartTime)
	assert.True(t, c.Range().Equal(decimal.NewFromInt(30)))
}

func TestCandleAggregator_WindowIsBounded(t *testing.T) {
	agg := NewCandleAggregator("BTC_JPY", time.Minute, "1m", 3, nil, zap.NewNop())
	base := time.Date(2024, 10, 19, 9, 0, 0, 0, time.UTC)

	for i := 0; i < 6; i++ {
		agg.ProcessTicker(tick(base.Add(time.Duration(i)*time.Minute), "100"))
	}

	candles, err := agg.Candles(context.Background(), "BTC_JPY")
	require.NoError(t, err)
	require.Len(t, candles, 3)
	assert.Equal(t, base.Add(2*time.Minute), candles[0].StartTime)
	assert.Equal(t, base.Add(4*time.Minute), candles[2].StartTime)
}

func TestCandleAggregator_DropsStaleTickers(t *testing.T) {
	agg := NewCandleAggregator("BTC_JPY", time.Minute, "1m", 3, nil, zap.NewNop())
	base := time.Date(2024, 10, 19, 9, 5, 0, 0, time.UTC)

	agg.ProcessTicker(tick(base, "100"))
	agg.ProcessTicker(tick(base.Add(-2*time.Minute), "50"))
	agg.ProcessTicker(tick(base.Add(time.Minute), "100"))

	candles, err := agg.Candles(context.Background(), "BTC_JPY")
	require.NoError(t, err)
	require.Len(t, candles, 1)
	assert.True(t, candles[0].Low.Equal(decimal.NewFromInt(100)))
}

func TestCandleAggregator_RunConsumesChannel(t *testing.T) {
	in := make(chan Ticker, 4)
	agg := NewCandleAggregator("BTC_JPY", time.Minute, "1m", 5, in, zap.NewNop())
	base := time.Date(2024, 10, 19, 9, 0, 0, 0, time.UTC)

	in <- Ticker{Symbol: "ETH_JPY", Timestamp: base.UnixMilli(), Price: decimal.NewFromInt(1)}
	in <- tick(base, "100")
	in <- tick(base.Add(time.Minute), "101")
	close(in)

	agg.Run(context.Background())

	candles, err := agg.Candles(context.Background(), "BTC_JPY")
	require.NoError(t, err)
	require.Len(t, candles, 1)
	assert.True(t, candles[0].Open.Equal(decimal.NewFromInt(100)))

	_, err = agg.Candles(context.Background(), "ETH_JPY")
	assert.Error(t, err)
}

func TestCredentials_StringMasksSecrets(t *testing.T) {
	c := Credentials{Key: "abcdef123456", Secret: "topsecret", Passphrase: "pass"}
	s := c.String()
	assert.Contains(t, s, "3456")
	assert.NotContains(t, s, "abcdef")
	assert.NotContains(t, s, "topsecret")
	assert.NotContains(t, s, "pass")
	assert.Equal(t, "****", MaskKey("abc"))
}
