package model

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// ActionType 定义了信号类型
type ActionType string

const (
	ActionBuy        ActionType = "BUY"         // 开多
	ActionSell       ActionType = "SELL"        // 开空
	ActionCloseLong  ActionType = "CLOSE_LONG"  // 平多
	ActionCloseShort ActionType = "CLOSE_SHORT" // 平空
	ActionIgnore     ActionType = "IGNORE"      // 无法识别或有歧义，不操作
)

// Direction 定义了持仓或期望开仓的方向
type Direction string

const (
	DirLong  Direction = "long"  // 多
	DirShort Direction = "short" // 空
)

func (d Direction) String() string {
	return string(d)
}

// Opposite 返回反方向，用于平仓和追踪止损单
func (d Direction) Opposite() Direction {
	if d == DirLong {
		return DirShort
	}
	return DirLong
}

// TrailingMode 追踪止损的表达方式：绝对价差 或 回调比例
type TrailingMode string

const (
	TrailingWidth TrailingMode = "width"
	TrailingRate  TrailingMode = "rate"
)

// Signal 由 webhook 文本解析而来，不落库
type Signal struct {
	Action     ActionType
	Volatility *decimal.Decimal // 上游预先计算好的波动率 (VOL=...)，为空时走 K 线估算
	Raw        string
	Reason     string // IGNORE 时的原因
}

// Direction 返回信号对应的开仓方向
func (s Signal) Direction() Direction {
	switch s.Action {
	case ActionSell, ActionCloseShort:
		return DirShort
	default:
		return DirLong
	}
}

func (s Signal) String() string {
	if s.Volatility != nil {
		return fmt.Sprintf("SIGNAL [%s] VOL=%s", s.Action, s.Volatility.String())
	}
	return fmt.Sprintf("SIGNAL [%s]", s.Action)
}

// OrderIntent 每个信号新建一份，下单参数全部在这里
type OrderIntent struct {
	Symbol        string          `json:"symbol"`
	MarginAsset   string          `json:"marginAsset"`
	Side          Direction       `json:"side"`
	Size          decimal.Decimal `json:"size"`
	Leverage      int             `json:"leverage"`
	EntryPrice    decimal.Decimal `json:"entryPrice"`    // 下单时参考的最新价
	StopLossPrice decimal.Decimal `json:"stopLossPrice"` // 止损价格
	TrailingMode  TrailingMode    `json:"trailingMode"`
	TrailingWidth decimal.Decimal `json:"trailingWidth"` // 绝对价差
	TrailingRate  decimal.Decimal `json:"trailingRate"`  // 回调比例 (0.01 = 1%)
	ClientOrderID string          `json:"clientOrderId"`
}

func (o OrderIntent) String() string {
	return fmt.Sprintf("ORDER [%s | %s] Size: %s | Lev: %d | Ref: %s | SL: %s | Trail: %s/%s",
		o.Symbol, o.Side, o.Size, o.Leverage, o.EntryPrice, o.StopLossPrice, o.TrailingWidth, o.TrailingRate)
}

// OrderResult 交易所返回的下单结果，是否成功以交易所的业务状态码为准
type OrderResult struct {
	Exchange        string `json:"exchange"`
	Success         bool   `json:"success"`
	Code            string `json:"code,omitempty"`
	Message         string `json:"message,omitempty"`
	OrderID         string `json:"orderId,omitempty"`
	ClientOrderID   string `json:"clientOrderId,omitempty"`
	TrailingOrderID string `json:"trailingOrderId,omitempty"`
	Raw             []byte `json:"-"`
}
