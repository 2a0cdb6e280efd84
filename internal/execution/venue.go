package execution

import (
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"signal-relay/internal/model"
	"signal-relay/internal/signing"

	"github.com/shopspring/decimal"
)

// request 一次 REST 调用。path / query / body 就是签名用的原文，也是实际发送的字节。
type request struct {
	endpoint string // 指标标签
	method   string
	path     string
	query    string
	body     string
	private  bool
}

func (r request) url() string {
	if r.query == "" {
		return r.path
	}
	return r.path + "?" + r.query
}

// envelope 交易所统一响应外壳
type envelope struct {
	ok   bool
	code string
	msg  string
	data json.RawMessage
}

// venue 单个交易所的接口描述：路径、参数、响应格式和错误码。
// 传输和签名由 Client 统一处理。
type venue interface {
	name() string
	scheme() signing.Scheme
	decode(body []byte) (envelope, error)
	isAuthCode(code string) bool

	tickerRequest(symbol string) request
	parseTicker(data json.RawMessage, symbol string) (decimal.Decimal, error)

	// candlesRequests 按优先级返回请求，前一个请求拿到的 K 线不够时才发下一个
	candlesRequests(symbol, interval string, limit int, now time.Time) ([]request, error)
	parseCandles(data json.RawMessage, symbol, interval string) ([]model.Candle, error)

	balanceRequest(symbol, marginAsset string) request
	parseBalance(data json.RawMessage, marginAsset string) (decimal.Decimal, error)

	positionRequest(symbol, marginAsset string) request
	parsePosition(data json.RawMessage, side model.Direction) (decimal.Decimal, error)

	orderRequest(intent model.OrderIntent) (request, error)
	// trailingRequest 需要单独下追踪止损委托的交易所返回 true
	trailingRequest(intent model.OrderIntent) (request, bool, error)
	closeRequest(symbol, marginAsset string, side model.Direction, size decimal.Decimal) (request, error)
	// parseOrderID 从成功响应的 data 中取订单号
	parseOrderID(endpoint string, data json.RawMessage) (string, error)

	serverTimeRequest() request
	parseServerTime(body []byte, data json.RawMessage) (time.Time, error)
}

func newVenue(cfg *ClientConfig) (venue, error) {
	switch cfg.Exchange {
	case "gmo":
		return &gmoVenue{}, nil
	case "bitget":
		return &bitgetVenue{productType: cfg.ProductType, marginMode: cfg.MarginMode}, nil
	case "okx":
		return &okxVenue{tdMode: cfg.MarginMode, demo: cfg.Demo}, nil
	default:
		return nil, &model.ConfigError{Field: "Exchange.Name", Reason: fmt.Sprintf("unsupported exchange %q", cfg.Exchange)}
	}
}

// canonicalJSON 紧凑 JSON (无空白，字段顺序由结构体固定)
func canonicalJSON(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// encodeQuery url.Values.Encode 按 key 排序，签名串和请求 URL 使用同一个结果
func encodeQuery(pairs ...string) string {
	v := url.Values{}
	for i := 0; i+1 < len(pairs); i += 2 {
		v.Set(pairs[i], pairs[i+1])
	}
	return v.Encode()
}

func sideWord(d model.Direction) string {
	if d == model.DirShort {
		return "sell"
	}
	return "buy"
}

func msTime(s string) (time.Time, error) {
	ms, err := decimal.NewFromString(s)
	if err != nil {
		return time.Time{}, err
	}
	return time.UnixMilli(ms.IntPart()).UTC(), nil
}

// parseArrayCandles 解析 [ts, o, h, l, c, vol, ...] 格式的 K 线 (Bitget / Okx)
func parseArrayCandles(rows [][]string, symbol, interval string, skip func(row []string) bool) ([]model.Candle, error) {
	out := make([]model.Candle, 0, len(rows))
	for _, row := range rows {
		if len(row) < 6 {
			return nil, fmt.Errorf("candle row has %d fields", len(row))
		}
		if skip != nil && skip(row) {
			continue
		}
		start, err := msTime(row[0])
		if err != nil {
			return nil, fmt.Errorf("candle ts %q: %w", row[0], err)
		}
		var vals [5]decimal.Decimal
		for i := range vals {
			if vals[i], err = decimal.NewFromString(row[i+1]); err != nil {
				return nil, fmt.Errorf("candle field %d %q: %w", i+1, row[i+1], err)
			}
		}
		out = append(out, model.Candle{
			Symbol:    symbol,
			Interval:  interval,
			Open:      vals[0],
			High:      vals[1],
			Low:       vals[2],
			Close:     vals[3],
			Volume:    vals[4],
			StartTime: start,
		})
	}
	return out, nil
}
