package strategy

import (
	"errors"
	"fmt"

	"signal-relay/internal/model"

	"github.com/shopspring/decimal"
)

// ErrSkipOrder 计算出的下单数量为 0 (余额太少或价格太高)，不下单
var ErrSkipOrder = errors.New("computed order size is zero, skipping")

// SizerConfig 仓位和止损参数，全部来自配置
type SizerConfig struct {
	RiskRatio          decimal.Decimal
	Leverage           int
	StopLossPct        decimal.Decimal
	TrailingMultiplier decimal.Decimal
	TrailingFloor      decimal.Decimal
	TrailingMode       model.TrailingMode
	SizePrecision      int32
	PricePrecision     int32
	RatePrecision      int32
}

// Sizer 把余额、价格和波动率换算成下单参数，纯计算，无副作用
type Sizer struct {
	cfg SizerConfig
}

func NewSizer(cfg SizerConfig) *Sizer {
	return &Sizer{cfg: cfg}
}

// Size = round(balance * riskRatio * leverage / price, SizePrecision)
func (s *Sizer) Size(balance, price decimal.Decimal) (decimal.Decimal, error) {
	if !price.IsPositive() {
		return decimal.Zero, &model.InvalidIntentError{Field: "EntryPrice", Reason: "price must be positive, got " + price.String()}
	}
	if balance.IsNegative() {
		return decimal.Zero, nil
	}
	notional := balance.Mul(s.cfg.RiskRatio).Mul(decimal.NewFromInt(int64(s.cfg.Leverage)))
	return notional.Div(price).Round(s.cfg.SizePrecision), nil
}

// StopLoss 多头 price*(1-pct)，空头 price*(1+pct)，按价格精度取整。
// 取整后止损价必须仍在保护方向一侧。
func (s *Sizer) StopLoss(price decimal.Decimal, side model.Direction) (decimal.Decimal, error) {
	one := decimal.NewFromInt(1)
	var stop decimal.Decimal
	if side == model.DirShort {
		stop = price.Mul(one.Add(s.cfg.StopLossPct)).Round(s.cfg.PricePrecision)
		if !stop.GreaterThan(price) {
			return decimal.Zero, &model.InvalidIntentError{Field: "StopLossPrice",
				Reason: fmt.Sprintf("short stop %s is not above entry %s", stop, price)}
		}
		return stop, nil
	}

	stop = price.Mul(one.Sub(s.cfg.StopLossPct)).Round(s.cfg.PricePrecision)
	if !stop.LessThan(price) || !stop.IsPositive() {
		return decimal.Zero, &model.InvalidIntentError{Field: "StopLossPrice",
			Reason: fmt.Sprintf("long stop %s is not below entry %s", stop, price)}
	}
	return stop, nil
}

// TrailingWidth = max(volatility * multiplier, floor)，按价格精度取整
func (s *Sizer) TrailingWidth(volatility decimal.Decimal) decimal.Decimal {
	width := decimal.Max(volatility.Mul(s.cfg.TrailingMultiplier), s.cfg.TrailingFloor).Round(s.cfg.PricePrecision)
	if width.LessThan(s.cfg.TrailingFloor) {
		// 下限不是价格精度的整数倍时向上取整
		width = s.cfg.TrailingFloor.RoundCeil(s.cfg.PricePrecision)
	}
	if !width.IsPositive() {
		// 精度取整后为 0 时，取一个最小价格单位
		width = decimal.New(1, -s.cfg.PricePrecision)
	}
	return width
}

// TrailingRate 把追踪宽度换算成相对价格的回调比例，至少一个比例精度单位
func (s *Sizer) TrailingRate(volatility, price decimal.Decimal) decimal.Decimal {
	width := decimal.Max(volatility.Mul(s.cfg.TrailingMultiplier), s.cfg.TrailingFloor)
	rate := width.Div(price).Round(s.cfg.RatePrecision)
	if rate.Mul(price).LessThan(s.cfg.TrailingFloor) {
		rate = s.cfg.TrailingFloor.Div(price).RoundCeil(s.cfg.RatePrecision)
	}
	if tick := decimal.New(1, -s.cfg.RatePrecision); rate.LessThan(tick) {
		rate = tick
	}
	return rate
}

// Plan 生成一次开仓的完整 OrderIntent。数量为 0 时返回 ErrSkipOrder。
func (s *Sizer) Plan(symbol, marginAsset string, side model.Direction, balance, price, volatility decimal.Decimal) (model.OrderIntent, error) {
	size, err := s.Size(balance, price)
	if err != nil {
		return model.OrderIntent{}, err
	}
	if !size.IsPositive() {
		return model.OrderIntent{}, ErrSkipOrder
	}
	stop, err := s.StopLoss(price, side)
	if err != nil {
		return model.OrderIntent{}, err
	}

	intent := model.OrderIntent{
		Symbol:        symbol,
		MarginAsset:   marginAsset,
		Side:          side,
		Size:          size,
		Leverage:      s.cfg.Leverage,
		EntryPrice:    price,
		StopLossPrice: stop,
		TrailingMode:  s.cfg.TrailingMode,
	}
	if s.cfg.TrailingMode == model.TrailingRate {
		intent.TrailingRate = s.TrailingRate(volatility, price)
	} else {
		intent.TrailingMode = model.TrailingWidth
		intent.TrailingWidth = s.TrailingWidth(volatility)
	}
	return intent, nil
}
