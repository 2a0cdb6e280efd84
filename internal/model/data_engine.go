package model

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// CandleAggregator 根据实时 Ticker 聚合固定周期的 K 线，只保留最近 window 根已完成的 K 线。
// 作为波动率估算的数据源，替代每次信号都去 REST 拉取 K 线。
type CandleAggregator struct {
	mu        sync.Mutex
	symbol    string        // 所属交易对
	interval  time.Duration // 聚合周期
	label     string        // 周期字符串，如 "1m"
	window    int           // 保留的已完成 K 线数量
	current   Candle        // 正在构建的当前 K 线
	completed []Candle      // 已完成的 K 线 (旧 -> 新)
	inChan    <-chan Ticker // Ticker 输入通道 (Connector 输出)
	logger    *zap.Logger
}

// NewCandleAggregator 创建一个新的聚合器
func NewCandleAggregator(
	symbol string,
	interval time.Duration,
	label string,
	window int,
	inChan <-chan Ticker,
	logger *zap.Logger,
) *CandleAggregator {
	if window <= 0 {
		window = 60
	}
	return &CandleAggregator{
		symbol:    symbol,
		interval:  interval,
		label:     label,
		window:    window,
		inChan:    inChan,
		completed: make([]Candle, 0, window),
		logger:    logger.With(zap.String("symbol", symbol), zap.String("interval", label)),
	}
}

// Run 是聚合器的核心循环，在独立的 Goroutine 中运行。
func (agg *CandleAggregator) Run(ctx context.Context) {
	agg.logger.Info("CandleAggregator started")
	defer agg.logger.Info("CandleAggregator stopped")

	for {
		select {
		case <-ctx.Done():
			return
		case ticker, ok := <-agg.inChan:
			if !ok {
				return
			}
			if ticker.Symbol != agg.symbol {
				continue
			}
			agg.ProcessTicker(ticker)
		}
	}
}

// ProcessTicker 负责将 Ticker 聚合到当前 K 线
func (agg *CandleAggregator) ProcessTicker(ticker Ticker) {
	agg.mu.Lock()
	defer agg.mu.Unlock()

	// 将 Ticker 时间戳对齐到 K 线起始时间
	start := time.UnixMilli(ticker.Timestamp).UTC().Truncate(agg.interval)

	if !agg.current.StartTime.IsZero() {
		if start.Before(agg.current.StartTime) {
			// 乱序的旧数据直接丢弃
			return
		}
		if start.After(agg.current.StartTime) {
			agg.completed = append(agg.completed, agg.current)
			if len(agg.completed) > agg.window {
				agg.completed = agg.completed[len(agg.completed)-agg.window:]
			}
			agg.current = Candle{}
		}
	}

	if agg.current.StartTime.IsZero() {
		agg.current = Candle{
			Symbol:    agg.symbol,
			Interval:  agg.label,
			Open:      ticker.Price,
			High:      ticker.Price,
			Low:       ticker.Price,
			Close:     ticker.Price,
			StartTime: start,
		}
		return
	}

	agg.current.Close = ticker.Price
	if ticker.Price.GreaterThan(agg.current.High) {
		agg.current.High = ticker.Price
	}
	if ticker.Price.LessThan(agg.current.Low) {
		agg.current.Low = ticker.Price
	}
}

// Candles 返回已完成 K 线的副本 (不含正在构建的 K 线)
func (agg *CandleAggregator) Candles(_ context.Context, symbol string) ([]Candle, error) {
	if symbol != agg.symbol {
		return nil, fmt.Errorf("candle stream for %s cannot serve %s", agg.symbol, symbol)
	}

	agg.mu.Lock()
	defer agg.mu.Unlock()

	out := make([]Candle, len(agg.completed))
	copy(out, agg.completed)
	return out, nil
}
