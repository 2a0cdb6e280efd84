package execution

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"signal-relay/internal/model"
	"signal-relay/internal/service"
	"signal-relay/internal/signing"

	"github.com/shopspring/decimal"
)

// Bitget V2 合约接口
var bitgetAuthCodes = map[string]bool{
	"40002": true, // 签名头缺失
	"40005": true, // ACCESS-TIMESTAMP 非法
	"40006": true, // ACCESS-KEY 非法
	"40008": true, // 请求时间戳过期
	"40009": true, // 签名错误
	"40011": true, // ACCESS-PASSPHRASE 非法
	"40012": true, // apikey/password 错误
	"40037": true, // apikey 不存在
}

type bitgetVenue struct {
	productType string // USDT-FUTURES
	marginMode  string // cross / isolated
}

func (v *bitgetVenue) name() string           { return "bitget" }
func (v *bitgetVenue) scheme() signing.Scheme { return signing.BitgetScheme() }

func (v *bitgetVenue) decode(body []byte) (envelope, error) {
	var env struct {
		Code string          `json:"code"`
		Msg  string          `json:"msg"`
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(body, &env); err != nil {
		return envelope{}, err
	}
	if env.Code == "" {
		return envelope{}, fmt.Errorf("response has no code field")
	}
	return envelope{ok: env.Code == "00000", code: env.Code, msg: env.Msg, data: env.Data}, nil
}

func (v *bitgetVenue) isAuthCode(code string) bool { return bitgetAuthCodes[code] }

// Bitget 的保证金模式叫 crossed / isolated
func (v *bitgetVenue) mode() string {
	if v.marginMode == "isolated" {
		return "isolated"
	}
	return "crossed"
}

func (v *bitgetVenue) tickerRequest(symbol string) request {
	return request{endpoint: "ticker", method: "GET", path: "/api/v2/mix/market/ticker",
		query: encodeQuery("symbol", symbol, "productType", v.productType)}
}

func (v *bitgetVenue) parseTicker(data json.RawMessage, _ string) (decimal.Decimal, error) {
	var rows []struct {
		LastPr string `json:"lastPr"`
	}
	if err := json.Unmarshal(data, &rows); err != nil {
		return decimal.Zero, &model.MarketDataError{Exchange: v.name(), Field: "data", Err: err}
	}
	if len(rows) == 0 {
		return decimal.Zero, &model.MarketDataError{Exchange: v.name(), Field: "data"}
	}
	if rows[0].LastPr == "" {
		return decimal.Zero, &model.MarketDataError{Exchange: v.name(), Field: "data[0].lastPr"}
	}
	px, err := service.StringToDecimal(rows[0].LastPr)
	if err != nil {
		return decimal.Zero, &model.MarketDataError{Exchange: v.name(), Field: "data[0].lastPr", Err: err}
	}
	return px, nil
}

// upperBar "1h" -> "1H"，分钟保持小写 (Bitget 与 Okx 相同)
func upperBar(interval string) (string, error) {
	if _, err := service.ParseIntervalDuration(interval); err != nil {
		return "", err
	}
	if strings.HasSuffix(interval, "m") {
		return interval, nil
	}
	return strings.ToUpper(interval), nil
}

func (v *bitgetVenue) candlesRequests(symbol, interval string, limit int, _ time.Time) ([]request, error) {
	bar, err := upperBar(interval)
	if err != nil {
		return nil, err
	}
	return []request{{endpoint: "candles", method: "GET", path: "/api/v2/mix/market/candles",
		query: encodeQuery("symbol", symbol, "productType", v.productType, "granularity", bar, "limit", fmt.Sprint(limit))}}, nil
}

func (v *bitgetVenue) parseCandles(data json.RawMessage, symbol, interval string) ([]model.Candle, error) {
	var rows [][]string
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, err
	}
	return parseArrayCandles(rows, symbol, interval, nil)
}

func (v *bitgetVenue) balanceRequest(symbol, marginAsset string) request {
	return request{endpoint: "balance", method: "GET", path: "/api/v2/mix/account/account",
		query: encodeQuery("symbol", strings.ToLower(symbol), "productType", v.productType, "marginCoin", marginAsset), private: true}
}

func (v *bitgetVenue) parseBalance(data json.RawMessage, _ string) (decimal.Decimal, error) {
	var acct struct {
		Available string `json:"available"`
	}
	if err := json.Unmarshal(data, &acct); err != nil {
		return decimal.Zero, &model.MarginDataError{Exchange: v.name(), Field: "data", Err: err}
	}
	if acct.Available == "" {
		return decimal.Zero, &model.MarginDataError{Exchange: v.name(), Field: "data.available"}
	}
	amt, err := service.StringToDecimal(acct.Available)
	if err != nil {
		return decimal.Zero, &model.MarginDataError{Exchange: v.name(), Field: "data.available", Err: err}
	}
	return amt, nil
}

func (v *bitgetVenue) positionRequest(symbol, marginAsset string) request {
	return request{endpoint: "position", method: "GET", path: "/api/v2/mix/position/single-position",
		query: encodeQuery("symbol", symbol, "productType", v.productType, "marginCoin", marginAsset), private: true}
}

func (v *bitgetVenue) parsePosition(data json.RawMessage, side model.Direction) (decimal.Decimal, error) {
	var rows []struct {
		HoldSide string `json:"holdSide"`
		Total    string `json:"total"`
	}
	if err := json.Unmarshal(data, &rows); err != nil {
		return decimal.Zero, err
	}
	for _, p := range rows {
		if p.HoldSide == side.String() {
			return service.StringToDecimal(p.Total)
		}
	}
	return decimal.Zero, nil
}

type bitgetOrderBody struct {
	Symbol              string `json:"symbol"`
	ProductType         string `json:"productType"`
	MarginMode          string `json:"marginMode"`
	MarginCoin          string `json:"marginCoin"`
	Size                string `json:"size"`
	Side                string `json:"side"`
	OrderType           string `json:"orderType"`
	ClientOid           string `json:"clientOid,omitempty"`
	PresetStopLossPrice string `json:"presetStopLossPrice,omitempty"`
}

type bitgetPlanBody struct {
	PlanType      string `json:"planType"`
	Symbol        string `json:"symbol"`
	ProductType   string `json:"productType"`
	MarginMode    string `json:"marginMode"`
	MarginCoin    string `json:"marginCoin"`
	Size          string `json:"size"`
	CallbackRatio string `json:"callbackRatio"`
	TriggerPrice  string `json:"triggerPrice"`
	TriggerType   string `json:"triggerType"`
	Side          string `json:"side"`
	OrderType     string `json:"orderType"`
	ReduceOnly    string `json:"reduceOnly"`
	ClientOid     string `json:"clientOid,omitempty"`
}

func (v *bitgetVenue) orderRequest(intent model.OrderIntent) (request, error) {
	raw, err := canonicalJSON(bitgetOrderBody{
		Symbol:              intent.Symbol,
		ProductType:         v.productType,
		MarginMode:          v.mode(),
		MarginCoin:          intent.MarginAsset,
		Size:                intent.Size.String(),
		Side:                sideWord(intent.Side),
		OrderType:           "market",
		ClientOid:           intent.ClientOrderID,
		PresetStopLossPrice: intent.StopLossPrice.String(),
	})
	if err != nil {
		return request{}, err
	}
	return request{endpoint: "order", method: "POST", path: "/api/v2/mix/order/place-order", body: raw, private: true}, nil
}

// trailingRequest 追踪委托 (track_plan)，callbackRatio 单位是百分比
func (v *bitgetVenue) trailingRequest(intent model.OrderIntent) (request, bool, error) {
	if !intent.TrailingRate.IsPositive() {
		return request{}, false, nil
	}
	body := bitgetPlanBody{
		PlanType:      "track_plan",
		Symbol:        intent.Symbol,
		ProductType:   v.productType,
		MarginMode:    v.mode(),
		MarginCoin:    intent.MarginAsset,
		Size:          intent.Size.String(),
		CallbackRatio: intent.TrailingRate.Mul(decimal.NewFromInt(100)).String(),
		TriggerPrice:  intent.EntryPrice.String(),
		TriggerType:   "mark_price",
		Side:          sideWord(intent.Side.Opposite()),
		OrderType:     "market",
		ReduceOnly:    "YES",
	}
	if intent.ClientOrderID != "" {
		body.ClientOid = intent.ClientOrderID + "t"
	}
	raw, err := canonicalJSON(body)
	if err != nil {
		return request{}, false, err
	}
	return request{endpoint: "trailing", method: "POST", path: "/api/v2/mix/order/place-plan-order", body: raw, private: true}, true, nil
}

func (v *bitgetVenue) closeRequest(symbol, _ string, side model.Direction, _ decimal.Decimal) (request, error) {
	raw, err := canonicalJSON(struct {
		Symbol      string `json:"symbol"`
		ProductType string `json:"productType"`
		HoldSide    string `json:"holdSide"`
	}{symbol, v.productType, side.String()})
	if err != nil {
		return request{}, err
	}
	return request{endpoint: "close", method: "POST", path: "/api/v2/mix/order/close-positions", body: raw, private: true}, nil
}

func (v *bitgetVenue) parseOrderID(endpoint string, data json.RawMessage) (string, error) {
	if endpoint == "close" {
		var res struct {
			SuccessList []struct {
				OrderID string `json:"orderId"`
			} `json:"successList"`
			FailureList []struct {
				ErrorMsg string `json:"errorMsg"`
			} `json:"failureList"`
		}
		if err := json.Unmarshal(data, &res); err != nil {
			return "", err
		}
		if len(res.SuccessList) == 0 {
			if len(res.FailureList) > 0 {
				return "", fmt.Errorf("close failed: %s", res.FailureList[0].ErrorMsg)
			}
			return "", fmt.Errorf("close returned no orders")
		}
		return res.SuccessList[0].OrderID, nil
	}

	var res struct {
		OrderID string `json:"orderId"`
	}
	if err := json.Unmarshal(data, &res); err != nil {
		return "", err
	}
	return res.OrderID, nil
}

func (v *bitgetVenue) serverTimeRequest() request {
	return request{endpoint: "time", method: "GET", path: "/api/v2/public/time"}
}

func (v *bitgetVenue) parseServerTime(_ []byte, data json.RawMessage) (time.Time, error) {
	var res struct {
		ServerTime string `json:"serverTime"`
	}
	if err := json.Unmarshal(data, &res); err != nil {
		return time.Time{}, err
	}
	return msTime(res.ServerTime)
}
