package execution

import (
	"encoding/json"
	"fmt"
	"time"

	"signal-relay/internal/model"
	"signal-relay/internal/service"
	"signal-relay/internal/signing"

	"github.com/shopspring/decimal"
)

var okxAuthCodes = map[string]bool{
	"50101": true, // APIKey 与当前环境不匹配 (实盘/模拟盘)
	"50102": true, // 时间戳过期
	"50103": true, // 缺少 OK-ACCESS-KEY
	"50104": true, // 缺少 OK-ACCESS-PASSPHRASE
	"50105": true, // passphrase 错误
	"50111": true, // 无效的 OK-ACCESS-KEY
	"50112": true, // 无效的 OK-ACCESS-TIMESTAMP
	"50113": true, // 签名错误
	"50114": true, // 无效的授权
}

type okxVenue struct {
	tdMode string // cross / isolated
	demo   bool
}

func (v *okxVenue) name() string           { return "okx" }
func (v *okxVenue) scheme() signing.Scheme { return signing.OkxScheme(v.demo) }

func (v *okxVenue) decode(body []byte) (envelope, error) {
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
	out := envelope{ok: env.Code == "0", code: env.Code, msg: env.Msg, data: env.Data}

	// 下单类接口: 外层 code=1 只表示"操作失败"，具体原因在 data[0].sCode
	var items []struct {
		SCode string `json:"sCode"`
		SMsg  string `json:"sMsg"`
	}
	if json.Unmarshal(env.Data, &items) == nil && len(items) > 0 && items[0].SCode != "" && items[0].SCode != "0" {
		out.ok = false
		out.code = items[0].SCode
		out.msg = items[0].SMsg
	}
	return out, nil
}

func (v *okxVenue) isAuthCode(code string) bool { return okxAuthCodes[code] }

func (v *okxVenue) mode() string {
	if v.tdMode == "isolated" {
		return "isolated"
	}
	return "cross"
}

func (v *okxVenue) tickerRequest(symbol string) request {
	return request{endpoint: "ticker", method: "GET", path: "/api/v5/market/ticker", query: encodeQuery("instId", symbol)}
}

func (v *okxVenue) parseTicker(data json.RawMessage, _ string) (decimal.Decimal, error) {
	var rows []struct {
		Last string `json:"last"`
	}
	if err := json.Unmarshal(data, &rows); err != nil {
		return decimal.Zero, &model.MarketDataError{Exchange: v.name(), Field: "data", Err: err}
	}
	if len(rows) == 0 || rows[0].Last == "" {
		return decimal.Zero, &model.MarketDataError{Exchange: v.name(), Field: "data[0].last"}
	}
	px, err := service.StringToDecimal(rows[0].Last)
	if err != nil {
		return decimal.Zero, &model.MarketDataError{Exchange: v.name(), Field: "data[0].last", Err: err}
	}
	return px, nil
}

func (v *okxVenue) candlesRequests(symbol, interval string, limit int, _ time.Time) ([]request, error) {
	bar, err := upperBar(interval)
	if err != nil {
		return nil, err
	}
	return []request{{endpoint: "candles", method: "GET", path: "/api/v5/market/candles",
		query: encodeQuery("instId", symbol, "bar", bar, "limit", fmt.Sprint(limit))}}, nil
}

// Okx K 线按时间倒序返回，最后一列 confirm=0 表示未收盘
func (v *okxVenue) parseCandles(data json.RawMessage, symbol, interval string) ([]model.Candle, error) {
	var rows [][]string
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, err
	}
	return parseArrayCandles(rows, symbol, interval, func(row []string) bool {
		return len(row) >= 9 && row[8] == "0"
	})
}

func (v *okxVenue) balanceRequest(_, marginAsset string) request {
	return request{endpoint: "balance", method: "GET", path: "/api/v5/account/balance",
		query: encodeQuery("ccy", marginAsset), private: true}
}

func (v *okxVenue) parseBalance(data json.RawMessage, marginAsset string) (decimal.Decimal, error) {
	var rows []struct {
		Details []struct {
			Ccy      string `json:"ccy"`
			AvailEq  string `json:"availEq"`
			AvailBal string `json:"availBal"`
		} `json:"details"`
	}
	if err := json.Unmarshal(data, &rows); err != nil {
		return decimal.Zero, &model.MarginDataError{Exchange: v.name(), Field: "data", Err: err}
	}
	for _, r := range rows {
		for _, d := range r.Details {
			if d.Ccy != marginAsset {
				continue
			}
			raw, field := d.AvailEq, "availEq"
			if raw == "" {
				raw, field = d.AvailBal, "availBal"
			}
			if raw == "" {
				return decimal.Zero, &model.MarginDataError{Exchange: v.name(), Field: "details.availEq"}
			}
			amt, err := service.StringToDecimal(raw)
			if err != nil {
				return decimal.Zero, &model.MarginDataError{Exchange: v.name(), Field: "details." + field, Err: err}
			}
			return amt, nil
		}
	}
	return decimal.Zero, &model.MarginDataError{Exchange: v.name(), Field: "details[ccy=" + marginAsset + "]"}
}

func (v *okxVenue) positionRequest(symbol, _ string) request {
	return request{endpoint: "position", method: "GET", path: "/api/v5/account/positions",
		query: encodeQuery("instId", symbol), private: true}
}

// parsePosition 同时兼容买卖模式 (posSide=net，用 pos 的正负区分方向) 和开平仓模式
func (v *okxVenue) parsePosition(data json.RawMessage, side model.Direction) (decimal.Decimal, error) {
	var rows []struct {
		Pos     string `json:"pos"`
		PosSide string `json:"posSide"`
	}
	if err := json.Unmarshal(data, &rows); err != nil {
		return decimal.Zero, err
	}
	for _, p := range rows {
		if p.Pos == "" {
			continue
		}
		pos, err := service.StringToDecimal(p.Pos)
		if err != nil {
			return decimal.Zero, err
		}
		switch {
		case p.PosSide == side.String():
			return pos.Abs(), nil
		case p.PosSide == "net" || p.PosSide == "":
			if (side == model.DirLong && pos.IsPositive()) || (side == model.DirShort && pos.IsNegative()) {
				return pos.Abs(), nil
			}
		}
	}
	return decimal.Zero, nil
}

type okxAttachAlgo struct {
	SlTriggerPx string `json:"slTriggerPx"`
	SlOrdPx     string `json:"slOrdPx"`
}

type okxOrderBody struct {
	InstID         string          `json:"instId"`
	TdMode         string          `json:"tdMode"`
	Side           string          `json:"side"`
	OrdType        string          `json:"ordType"`
	Sz             string          `json:"sz"`
	ClOrdID        string          `json:"clOrdId,omitempty"`
	AttachAlgoOrds []okxAttachAlgo `json:"attachAlgoOrds,omitempty"`
}

type okxAlgoBody struct {
	InstID        string `json:"instId"`
	TdMode        string `json:"tdMode"`
	Side          string `json:"side"`
	OrdType       string `json:"ordType"`
	Sz            string `json:"sz"`
	CallbackRatio string `json:"callbackRatio"`
	ReduceOnly    bool   `json:"reduceOnly"`
	AlgoClOrdID   string `json:"algoClOrdId,omitempty"`
}

func (v *okxVenue) orderRequest(intent model.OrderIntent) (request, error) {
	body := okxOrderBody{
		InstID:  intent.Symbol,
		TdMode:  v.mode(),
		Side:    sideWord(intent.Side),
		OrdType: "market",
		Sz:      intent.Size.String(),
		ClOrdID: intent.ClientOrderID,
	}
	if intent.StopLossPrice.IsPositive() {
		// slOrdPx=-1 表示触发后市价止损
		body.AttachAlgoOrds = []okxAttachAlgo{{SlTriggerPx: intent.StopLossPrice.String(), SlOrdPx: "-1"}}
	}
	raw, err := canonicalJSON(body)
	if err != nil {
		return request{}, err
	}
	return request{endpoint: "order", method: "POST", path: "/api/v5/trade/order", body: raw, private: true}, nil
}

// trailingRequest 移动止盈止损 (move_order_stop)，callbackRatio 为小数 (0.01 = 1%)
func (v *okxVenue) trailingRequest(intent model.OrderIntent) (request, bool, error) {
	if !intent.TrailingRate.IsPositive() {
		return request{}, false, nil
	}
	body := okxAlgoBody{
		InstID:        intent.Symbol,
		TdMode:        v.mode(),
		Side:          sideWord(intent.Side.Opposite()),
		OrdType:       "move_order_stop",
		Sz:            intent.Size.String(),
		CallbackRatio: intent.TrailingRate.String(),
		ReduceOnly:    true,
	}
	if intent.ClientOrderID != "" {
		body.AlgoClOrdID = intent.ClientOrderID + "t"
	}
	raw, err := canonicalJSON(body)
	if err != nil {
		return request{}, false, err
	}
	return request{endpoint: "trailing", method: "POST", path: "/api/v5/trade/order-algo", body: raw, private: true}, true, nil
}

// closeRequest 买卖模式下不需要 posSide，按 instId 全平
func (v *okxVenue) closeRequest(symbol, _ string, _ model.Direction, _ decimal.Decimal) (request, error) {
	raw, err := canonicalJSON(struct {
		InstID  string `json:"instId"`
		MgnMode string `json:"mgnMode"`
	}{InstID: symbol, MgnMode: v.mode()})
	if err != nil {
		return request{}, err
	}
	return request{endpoint: "close", method: "POST", path: "/api/v5/trade/close-position", body: raw, private: true}, nil
}

func (v *okxVenue) parseOrderID(endpoint string, data json.RawMessage) (string, error) {
	var rows []struct {
		OrdID  string `json:"ordId"`
		AlgoID string `json:"algoId"`
		InstID string `json:"instId"`
	}
	if err := json.Unmarshal(data, &rows); err != nil {
		return "", err
	}
	if len(rows) == 0 {
		return "", fmt.Errorf("empty data")
	}
	switch endpoint {
	case "trailing":
		return rows[0].AlgoID, nil
	case "close":
		// 市价全平不返回订单号
		return "", nil
	default:
		return rows[0].OrdID, nil
	}
}

func (v *okxVenue) serverTimeRequest() request {
	return request{endpoint: "time", method: "GET", path: "/api/v5/public/time"}
}

func (v *okxVenue) parseServerTime(_ []byte, data json.RawMessage) (time.Time, error) {
	var rows []struct {
		Ts string `json:"ts"`
	}
	if err := json.Unmarshal(data, &rows); err != nil {
		return time.Time{}, err
	}
	if len(rows) == 0 {
		return time.Time{}, fmt.Errorf("empty data")
	}
	return msTime(rows[0].Ts)
}
