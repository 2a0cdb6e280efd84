package strategy

import (
	"context"
	"fmt"

	"signal-relay/internal/model"
	"signal-relay/pkg/ta"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// CandleSource 提供最近的已收盘 K 线 (从旧到新)
type CandleSource interface {
	Candles(ctx context.Context, symbol string) ([]model.Candle, error)
}

const (
	MethodRange = "range"
	MethodATR   = "atr"
)

// VolatilityEstimator 从 K 线估算波动率 (价格单位)
type VolatilityEstimator struct {
	source    CandleSource
	method    string
	atrPeriod int
	logger    *zap.Logger
}

func NewVolatilityEstimator(source CandleSource, method string, atrPeriod int, logger *zap.Logger) *VolatilityEstimator {
	if method == "" {
		method = MethodRange
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &VolatilityEstimator{source: source, method: method, atrPeriod: atrPeriod, logger: logger}
}

// Estimate explicit 非空时直接返回 (信号里带了 VOL=)，不拉 K 线
func (e *VolatilityEstimator) Estimate(ctx context.Context, symbol string, explicit *decimal.Decimal) (decimal.Decimal, error) {
	if explicit != nil {
		return *explicit, nil
	}
	if e.source == nil {
		return decimal.Zero, &model.InsufficientDataError{Need: 1, Got: 0}
	}

	candles, err := e.source.Candles(ctx, symbol)
	if err != nil {
		return decimal.Zero, err
	}

	var vol decimal.Decimal
	switch e.method {
	case MethodATR:
		vol, err = ta.ATR(candles, e.atrPeriod)
	case MethodRange:
		vol, err = ta.MeanRange(candles)
	default:
		return decimal.Zero, &model.ConfigError{Field: "Volatility.Method", Reason: fmt.Sprintf("unknown method %q", e.method)}
	}
	if err != nil {
		return decimal.Zero, err
	}

	e.logger.Debug("Volatility estimated",
		zap.String("method", e.method),
		zap.Int("candles", len(candles)),
		zap.String("volatility", vol.String()))
	return vol, nil
}
