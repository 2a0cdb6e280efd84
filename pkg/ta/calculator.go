package ta

import (
	"signal-relay/internal/model"

	"github.com/markcheno/go-talib"
	"github.com/shopspring/decimal"
)

// MeanRange 计算 K 线振幅 (high - low) 的算术平均，作为波动率的简单代理。
// K 线为空时返回 InsufficientDataError，绝不返回 0 或 NaN。
func MeanRange(candles []model.Candle) (decimal.Decimal, error) {
	if len(candles) == 0 {
		return decimal.Zero, &model.InsufficientDataError{Need: 1, Got: 0}
	}

	sum := decimal.Zero
	for _, c := range candles {
		sum = sum.Add(c.Range())
	}
	return sum.Div(decimal.NewFromInt(int64(len(candles)))), nil
}

// ATR 平均真实波动范围 (Wilder)，需要 period+1 根以上的 K 线。
// talib 的 ATR 需要 High, Low, Previous Close，前 period 个结果为 0。
func ATR(candles []model.Candle, period int) (decimal.Decimal, error) {
	if period < 1 || len(candles) <= period {
		return decimal.Zero, &model.InsufficientDataError{Need: period + 1, Got: len(candles)}
	}

	high := make([]float64, len(candles))
	low := make([]float64, len(candles))
	closes := make([]float64, len(candles))
	for i, c := range candles {
		high[i] = c.High.InexactFloat64()
		low[i] = c.Low.InexactFloat64()
		closes[i] = c.Close.InexactFloat64()
	}

	atr := talib.Atr(high, low, closes, period)
	return decimal.NewFromFloat(atr[len(atr)-1]), nil
}
