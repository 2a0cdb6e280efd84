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

// GMO コイン 的营业日从 06:00 JST 开始，K 线按营业日分页
var gmoLocation = time.FixedZone("JST", 9*3600)

const gmoDayRollover = 6 * time.Hour

// 签名或 API Key 相关的错误码
var gmoAuthCodes = map[string]bool{
	"ERR-5008": true,
	"ERR-5009": true,
	"ERR-5010": true,
	"ERR-5011": true,
	"ERR-5012": true,
	"ERR-5014": true,
}

type gmoVenue struct{}

type gmoEnvelope struct {
	Status   *int            `json:"status"`
	Data     json.RawMessage `json:"data"`
	Messages []struct {
		Code   string `json:"message_code"`
		String string `json:"message_string"`
	} `json:"messages"`
	ResponseTime string `json:"responsetime"`
}

func (v *gmoVenue) name() string           { return "gmo" }
func (v *gmoVenue) scheme() signing.Scheme { return signing.GMOScheme() }

func (v *gmoVenue) decode(body []byte) (envelope, error) {
	var env gmoEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return envelope{}, err
	}
	if env.Status == nil {
		return envelope{}, fmt.Errorf("response has no status field")
	}
	out := envelope{ok: *env.Status == 0, code: fmt.Sprint(*env.Status), data: env.Data}
	if len(env.Messages) > 0 {
		out.code = env.Messages[0].Code
		out.msg = env.Messages[0].String
	}
	return out, nil
}

func (v *gmoVenue) isAuthCode(code string) bool { return gmoAuthCodes[code] }

func (v *gmoVenue) tickerRequest(symbol string) request {
	return request{endpoint: "ticker", method: "GET", path: "/public/v1/ticker", query: encodeQuery("symbol", symbol)}
}

func (v *gmoVenue) parseTicker(data json.RawMessage, symbol string) (decimal.Decimal, error) {
	var rows []struct {
		Symbol string `json:"symbol"`
		Last   string `json:"last"`
	}
	if err := json.Unmarshal(data, &rows); err != nil {
		return decimal.Zero, &model.MarketDataError{Exchange: v.name(), Field: "data", Err: err}
	}
	if len(rows) == 0 {
		return decimal.Zero, &model.MarketDataError{Exchange: v.name(), Field: "data"}
	}
	row := rows[0]
	for _, r := range rows {
		if r.Symbol == symbol {
			row = r
			break
		}
	}
	if row.Last == "" {
		return decimal.Zero, &model.MarketDataError{Exchange: v.name(), Field: "data[0].last"}
	}
	px, err := service.StringToDecimal(row.Last)
	if err != nil {
		return decimal.Zero, &model.MarketDataError{Exchange: v.name(), Field: "data[0].last", Err: err}
	}
	return px, nil
}

// gmoInterval "1m" -> "1min", "4h" -> "4hour", "1d" -> "1day"
func gmoInterval(interval string) (string, bool, error) {
	if _, err := service.ParseIntervalDuration(interval); err != nil {
		return "", false, err
	}
	n, unit := interval[:len(interval)-1], interval[len(interval)-1:]
	switch unit {
	case "m":
		return n + "min", false, nil
	case "h":
		// 4hour 以上按年份分页
		return n + "hour", n != "1", nil
	default:
		return n + "day", true, nil
	}
}

func (v *gmoVenue) candlesRequests(symbol, interval string, _ int, now time.Time) ([]request, error) {
	gi, yearly, err := gmoInterval(interval)
	if err != nil {
		return nil, err
	}
	day := now.In(gmoLocation).Add(-gmoDayRollover)

	mk := func(date string) request {
		return request{endpoint: "candles", method: "GET", path: "/public/v1/klines",
			query: encodeQuery("symbol", symbol, "interval", gi, "date", date)}
	}
	if yearly {
		return []request{mk(day.Format("2006")), mk(day.AddDate(-1, 0, 0).Format("2006"))}, nil
	}
	return []request{mk(day.Format("20060102")), mk(day.AddDate(0, 0, -1).Format("20060102"))}, nil
}

func (v *gmoVenue) parseCandles(data json.RawMessage, symbol, interval string) ([]model.Candle, error) {
	var rows []struct {
		OpenTime string `json:"openTime"`
		Open     string `json:"open"`
		High     string `json:"high"`
		Low      string `json:"low"`
		Close    string `json:"close"`
		Volume   string `json:"volume"`
	}
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, err
	}
	out := make([]model.Candle, 0, len(rows))
	for _, r := range rows {
		start, err := msTime(r.OpenTime)
		if err != nil {
			return nil, fmt.Errorf("openTime %q: %w", r.OpenTime, err)
		}
		c := model.Candle{Symbol: symbol, Interval: interval, StartTime: start}
		fields := []struct {
			dst *decimal.Decimal
			src string
		}{{&c.Open, r.Open}, {&c.High, r.High}, {&c.Low, r.Low}, {&c.Close, r.Close}, {&c.Volume, r.Volume}}
		for _, f := range fields {
			if *f.dst, err = service.StringToDecimal(f.src); err != nil {
				return nil, err
			}
		}
		out = append(out, c)
	}
	return out, nil
}

func (v *gmoVenue) balanceRequest(_, _ string) request {
	return request{endpoint: "balance", method: "GET", path: "/private/v1/account/margin", private: true}
}

func (v *gmoVenue) parseBalance(data json.RawMessage, _ string) (decimal.Decimal, error) {
	var margin struct {
		AvailableAmount string `json:"availableAmount"`
	}
	if err := json.Unmarshal(data, &margin); err != nil {
		return decimal.Zero, &model.MarginDataError{Exchange: v.name(), Field: "data", Err: err}
	}
	if margin.AvailableAmount == "" {
		return decimal.Zero, &model.MarginDataError{Exchange: v.name(), Field: "data.availableAmount"}
	}
	amt, err := service.StringToDecimal(margin.AvailableAmount)
	if err != nil {
		return decimal.Zero, &model.MarginDataError{Exchange: v.name(), Field: "data.availableAmount", Err: err}
	}
	return amt, nil
}

func (v *gmoVenue) positionRequest(symbol, _ string) request {
	return request{endpoint: "position", method: "GET", path: "/private/v1/positionSummary",
		query: encodeQuery("symbol", symbol), private: true}
}

func (v *gmoVenue) parsePosition(data json.RawMessage, side model.Direction) (decimal.Decimal, error) {
	var summary struct {
		List []struct {
			Side                string `json:"side"`
			SumPositionQuantity string `json:"sumPositionQuantity"`
		} `json:"list"`
	}
	if err := json.Unmarshal(data, &summary); err != nil {
		return decimal.Zero, err
	}
	want := strings.ToUpper(sideWord(side))
	for _, p := range summary.List {
		if p.Side == want {
			return service.StringToDecimal(p.SumPositionQuantity)
		}
	}
	return decimal.Zero, nil
}

type gmoOrderBody struct {
	Symbol        string `json:"symbol"`
	Side          string `json:"side"`
	ExecutionType string `json:"executionType"`
	Size          string `json:"size"`
	LeverageLevel int    `json:"leverageLevel,omitempty"`
	LossCutPrice  string `json:"lossCutPrice,omitempty"`
	TrailWidth    string `json:"trailWidth,omitempty"`
}

func (v *gmoVenue) orderRequest(intent model.OrderIntent) (request, error) {
	body := gmoOrderBody{
		Symbol:        intent.Symbol,
		Side:          strings.ToUpper(sideWord(intent.Side)),
		ExecutionType: "MARKET",
		Size:          intent.Size.String(),
		LeverageLevel: intent.Leverage,
		LossCutPrice:  intent.StopLossPrice.String(),
	}
	if intent.TrailingWidth.IsPositive() {
		body.TrailWidth = intent.TrailingWidth.String()
	}
	raw, err := canonicalJSON(body)
	if err != nil {
		return request{}, err
	}
	return request{endpoint: "order", method: "POST", path: "/private/v1/order", body: raw, private: true}, nil
}

// trailWidth 随主单一起提交
func (v *gmoVenue) trailingRequest(model.OrderIntent) (request, bool, error) {
	return request{}, false, nil
}

func (v *gmoVenue) closeRequest(symbol, _ string, side model.Direction, size decimal.Decimal) (request, error) {
	raw, err := canonicalJSON(gmoOrderBody{
		Symbol:        symbol,
		Side:          strings.ToUpper(sideWord(side.Opposite())),
		ExecutionType: "MARKET",
		Size:          size.String(),
	})
	if err != nil {
		return request{}, err
	}
	return request{endpoint: "close", method: "POST", path: "/private/v1/closeBulkOrder", body: raw, private: true}, nil
}

func (v *gmoVenue) parseOrderID(_ string, data json.RawMessage) (string, error) {
	var id string
	if err := json.Unmarshal(data, &id); err != nil {
		return "", err
	}
	return id, nil
}

func (v *gmoVenue) serverTimeRequest() request {
	return request{endpoint: "time", method: "GET", path: "/public/v1/status"}
}

func (v *gmoVenue) parseServerTime(body []byte, _ json.RawMessage) (time.Time, error) {
	var env gmoEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return time.Time{}, err
	}
	if env.ResponseTime == "" {
		return time.Time{}, fmt.Errorf("missing responsetime")
	}
	return time.Parse(time.RFC3339Nano, env.ResponseTime)
}
