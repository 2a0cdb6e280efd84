package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Ticker 代表最小粒度的市场数据（成交或价格快照）
type Ticker struct {
	Symbol    string          // 所属交易对，例如 "BTC_JPY"
	Timestamp int64           // 毫秒时间戳
	Price     decimal.Decimal // 最新成交价
}

// Candle 代表聚合后的 K 线数据，序列按时间从旧到新排列
type Candle struct {
	Symbol    string // 所属交易对
	Interval  string // 周期，例如 "1m", "5m", "1h"
	Open      decimal.Decimal
	High      decimal.Decimal
	Low       decimal.Decimal
	Close     decimal.Decimal
	Volume    decimal.Decimal
	StartTime time.Time
}

// Range 返回单根 K 线的振幅 (high - low)
func (c Candle) Range() decimal.Decimal {
	return c.High.Sub(c.Low)
}

// Credentials 交易所 API 凭证，启动时加载一次，之后只读
type Credentials struct {
	Key        string
	Secret     string
	Passphrase string // Bitget / Okx 需要
}

// MaskKey 只保留最后 4 位，用于日志
func MaskKey(key string) string {
	if len(key) <= 4 {
		return "****"
	}
	return "****" + key[len(key)-4:]
}

// String 永远不输出 secret 和 passphrase
func (c Credentials) String() string {
	return "Credentials{key=" + MaskKey(c.Key) + "}"
}
