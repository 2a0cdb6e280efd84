package execution

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"signal-relay/internal/model"
	"signal-relay/internal/signing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

const (
	testKey        = "test-key-1234"
	testSecret     = "test-secret"
	testPassphrase = "test-pass"
)

type captured struct {
	Method string
	Path   string
	Query  string
	Body   string
	Header http.Header
}

// fakeExchange 按 "METHOD path" 返回固定响应，并校验私有请求的签名
type fakeExchange struct {
	t      *testing.T
	scheme signing.Scheme

	mu       sync.Mutex
	routes   map[string]string
	requests []captured
}

func (f *fakeExchange) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)

	f.mu.Lock()
	f.requests = append(f.requests, captured{r.Method, r.URL.Path, r.URL.RawQuery, string(body), r.Header.Clone()})
	resp, ok := f.routes[r.Method+" "+r.URL.Path]
	f.mu.Unlock()

	if sig := r.Header.Get(f.scheme.SignHeader); sig != "" {
		ts := r.Header.Get(f.scheme.TimestampHeader)
		want, err := signing.Sign(testSecret, f.scheme.Prehash(ts, r.Method, r.URL.Path, r.URL.RawQuery, string(body)), f.scheme.Encoding)
		assert.NoError(f.t, err)
		assert.Equal(f.t, want, sig, "signature must cover the bytes actually sent to %s", r.URL.Path)
	}

	if !ok {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte("<html>not found</html>"))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(resp))
}

func (f *fakeExchange) calls() []captured {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]captured(nil), f.requests...)
}

func (f *fakeExchange) callsTo(path string) []captured {
	var out []captured
	for _, c := range f.calls() {
		if c.Path == path {
			out = append(out, c)
		}
	}
	return out
}

func newTestClient(t *testing.T, cfg ClientConfig, routes map[string]string) (*Client, *fakeExchange) {
	t.Helper()
	v, err := newVenue(&cfg)
	require.NoError(t, err)

	fake := &fakeExchange{t: t, scheme: v.scheme(), routes: routes}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	cfg.RESTURL = srv.URL
	if cfg.Timeout == 0 {
		cfg.Timeout = 2 * time.Second
	}
	cfg.Credentials = model.Credentials{Key: testKey, Secret: testSecret, Passphrase: testPassphrase}
	c, err := NewClient(&cfg, zap.NewNop())
	require.NoError(t, err)
	return c, fake
}

func gmoIntent() model.OrderIntent {
	return model.OrderIntent{
		Symbol:        "BTC_JPY",
		MarginAsset:   "JPY",
		Side:          model.DirLong,
		Size:          decimal.RequireFromString("0.14"),
		Leverage:      2,
		EntryPrice:    decimal.NewFromInt(50000),
		StopLossPrice: decimal.NewFromInt(48750),
		TrailingMode:  model.TrailingWidth,
		TrailingWidth: decimal.NewFromInt(1500),
	}
}

func TestNewClient_ConfigErrors(t *testing.T) {
	_, err := NewClient(&ClientConfig{Exchange: "ftx", RESTURL: "http://x"}, nil)
	var cfgErr *model.ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "Exchange.Name", cfgErr.Field)

	_, err = NewClient(&ClientConfig{Exchange: "bitget", RESTURL: "http://x",
		Credentials: model.Credentials{Key: "k", Secret: "s"}}, nil)
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "Exchange.Passphrase", cfgErr.Field)

	_, err = NewClient(&ClientConfig{Exchange: "gmo", RESTURL: "http://x",
		Credentials: model.Credentials{Secret: "s"}}, nil)
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "Exchange.APIKey", cfgErr.Field)
}

func TestGMO_LastPriceAndBalance(t *testing.T) {
	c, fake := newTestClient(t, ClientConfig{Exchange: "gmo"}, map[string]string{
		"GET /public/v1/ticker":        `{"status":0,"data":[{"symbol":"BTC_JPY","last":"50000","bid":"49990"}]}`,
		"GET /private/v1/account/margin": `{"status":0,"data":{"availableAmount":"100000","actualProfitLoss":"0"}}`,
	})
	ctx := context.Background()

	px, err := c.GetLastPrice(ctx, "BTC_JPY")
	require.NoError(t, err)
	assert.True(t, px.Equal(decimal.NewFromInt(50000)))

	bal, err := c.GetAvailableBalance(ctx, "BTC_JPY", "JPY")
	require.NoError(t, err)
	assert.True(t, bal.Equal(decimal.NewFromInt(100000)))

	ticker := fake.callsTo("/public/v1/ticker")
	require.Len(t, ticker, 1)
	assert.Equal(t, "symbol=BTC_JPY", ticker[0].Query)
	assert.Empty(t, ticker[0].Header.Get("API-SIGN"), "public endpoints are not signed")

	margin := fake.callsTo("/private/v1/account/margin")
	require.Len(t, margin, 1)
	assert.Equal(t, testKey, margin[0].Header.Get("API-KEY"))
	assert.NotEmpty(t, margin[0].Header.Get("API-SIGN"))
}

func TestGMO_SubmitOrderSendsSignedBody(t *testing.T) {
	c, fake := newTestClient(t, ClientConfig{Exchange: "gmo"}, map[string]string{
		"POST /private/v1/order": `{"status":0,"data":"637000","responsetime":"2024-01-01T00:00:00.000Z"}`,
	})

	res, err := c.SubmitOrder(context.Background(), gmoIntent())
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "637000", res.OrderID)
	assert.Len(t, res.ClientOrderID, 32)

	orders := fake.callsTo("/private/v1/order")
	require.Len(t, orders, 1)
	assert.Equal(t,
		`{"symbol":"BTC_JPY","side":"BUY","executionType":"MARKET","size":"0.14","leverageLevel":2,"lossCutPrice":"48750","trailWidth":"1500"}`,
		orders[0].Body)
}

func TestGMO_OrderRejectedIsResultNotError(t *testing.T) {
	c, _ := newTestClient(t, ClientConfig{Exchange: "gmo"}, map[string]string{
		"POST /private/v1/order": `{"status":1,"messages":[{"message_code":"ERR-201","message_string":"Insufficient funds"}]}`,
	})

	res, err := c.SubmitOrder(context.Background(), gmoIntent())
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, "ERR-201", res.Code)
	assert.Equal(t, "Insufficient funds", res.Message)
	assert.NotEmpty(t, res.Raw)
}

func TestGMO_AuthRejection(t *testing.T) {
	c, _ := newTestClient(t, ClientConfig{Exchange: "gmo"}, map[string]string{
		"GET /private/v1/account/margin": `{"status":1,"messages":[{"message_code":"ERR-5012","message_string":"Invalid API-KEY"}]}`,
	})

	_, err := c.GetAvailableBalance(context.Background(), "BTC_JPY", "JPY")
	var authErr *model.AuthError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, "ERR-5012", authErr.Code)
	assert.Equal(t, "/private/v1/account/margin", authErr.Path)
	assert.NotContains(t, err.Error(), testSecret)
}

func TestGMO_TimestampRejectionIsAuthError(t *testing.T) {
	c, fake := newTestClient(t, ClientConfig{Exchange: "gmo"}, map[string]string{
		"GET /private/v1/account/margin": `{"status":1,"messages":[{"message_code":"ERR-5008","message_string":"The API-TIMESTAMP is too late."}]}`,
	})
	core, logs := observer.New(zap.WarnLevel)
	c.logger = zap.New(core)

	_, err := c.GetAvailableBalance(context.Background(), "BTC_JPY", "JPY")
	var authErr *model.AuthError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, "ERR-5008", authErr.Code)

	// 日志带上签名用的时间戳，便于排查时钟偏差
	entries := logs.FilterMessage("Exchange rejected request signature").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	sent := fake.callsTo("/private/v1/account/margin")
	require.Len(t, sent, 1)
	assert.Equal(t, sent[0].Header.Get("API-TIMESTAMP"), fields["timestamp"])
	assert.NotEmpty(t, fields["timestamp"])
	assert.Equal(t, "ERR-5008", fields["code"])
}

func TestGMO_MissingFieldsAndGarbage(t *testing.T) {
	c, _ := newTestClient(t, ClientConfig{Exchange: "gmo"}, map[string]string{
		"GET /public/v1/ticker":          `{"status":0,"data":[{"symbol":"BTC_JPY"}]}`,
		"GET /private/v1/account/margin": `{"status":0,"data":{}}`,
		"GET /private/v1/positionSummary": `{"status":0,"data":{"list":[]}}`,
	})
	ctx := context.Background()

	_, err := c.GetLastPrice(ctx, "BTC_JPY")
	var mdErr *model.MarketDataError
	require.ErrorAs(t, err, &mdErr)

	_, err = c.GetAvailableBalance(ctx, "BTC_JPY", "JPY")
	var marginErr *model.MarginDataError
	require.ErrorAs(t, err, &marginErr)
	assert.Equal(t, "data.availableAmount", marginErr.Field)

	_, err = c.GetCandles(ctx, "BTC_JPY", "1m", 10)
	var apiErr *model.APIError
	require.ErrorAs(t, err, &apiErr, "html 404 body is not a valid envelope")
	assert.Equal(t, "HTTP_404", apiErr.Code)

	_, err = c.ClosePosition(ctx, "BTC_JPY", model.DirLong)
	assert.ErrorIs(t, err, ErrNoPosition)
}

func TestGMO_ClosePosition(t *testing.T) {
	c, fake := newTestClient(t, ClientConfig{Exchange: "gmo"}, map[string]string{
		"GET /private/v1/positionSummary": `{"status":0,"data":{"list":[{"symbol":"BTC_JPY","side":"SELL","sumPositionQuantity":"0.3"}]}}`,
		"POST /private/v1/closeBulkOrder": `{"status":0,"data":"700"}`,
	})

	_, err := c.ClosePosition(context.Background(), "BTC_JPY", model.DirLong)
	require.ErrorIs(t, err, ErrNoPosition)

	res, err := c.ClosePosition(context.Background(), "BTC_JPY", model.DirShort)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "700", res.OrderID)

	closes := fake.callsTo("/private/v1/closeBulkOrder")
	require.Len(t, closes, 1)
	assert.Equal(t, `{"symbol":"BTC_JPY","side":"BUY","executionType":"MARKET","size":"0.3"}`, closes[0].Body)
}

func TestGMO_CandlesFallBackToPreviousDay(t *testing.T) {
	c, fake := newTestClient(t, ClientConfig{Exchange: "gmo"}, map[string]string{
		"GET /public/v1/klines": `{"status":0,"data":[
			{"openTime":"1700000120000","open":"3","high":"4","low":"2","close":"3","volume":"1"},
			{"openTime":"1700000000000","open":"1","high":"2","low":"0","close":"1","volume":"1"},
			{"openTime":"1700000060000","open":"2","high":"3","low":"1","close":"2","volume":"1"}]}`,
	})

	candles, err := c.GetCandles(context.Background(), "BTC_JPY", "1m", 10)
	require.NoError(t, err)
	require.Len(t, candles, 3, "duplicate candles across pages are merged")
	assert.Equal(t, int64(1700000000000), candles[0].StartTime.UnixMilli())
	assert.Equal(t, int64(1700000120000), candles[2].StartTime.UnixMilli())

	pages := fake.callsTo("/public/v1/klines")
	require.Len(t, pages, 2)
	assert.NotEqual(t, pages[0].Query, pages[1].Query)
	assert.Contains(t, pages[0].Query, "interval=1min")
}

func TestSubmitOrder_InvalidIntentSendsNothing(t *testing.T) {
	c, fake := newTestClient(t, ClientConfig{Exchange: "gmo"}, map[string]string{})

	zero := gmoIntent()
	zero.Size = decimal.Zero
	_, err := c.SubmitOrder(context.Background(), zero)
	var invalid *model.InvalidIntentError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, "Size", invalid.Field)

	wrongStop := gmoIntent()
	wrongStop.StopLossPrice = decimal.NewFromInt(51000)
	_, err = c.SubmitOrder(context.Background(), wrongStop)
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, "StopLossPrice", invalid.Field)

	assert.Empty(t, fake.calls())
}

func bitgetIntent() model.OrderIntent {
	return model.OrderIntent{
		Symbol:        "BTCUSDT",
		MarginAsset:   "USDT",
		Side:          model.DirShort,
		Size:          decimal.RequireFromString("0.01"),
		Leverage:      2,
		EntryPrice:    decimal.NewFromInt(60000),
		StopLossPrice: decimal.NewFromInt(61500),
		TrailingMode:  model.TrailingRate,
		TrailingRate:  decimal.RequireFromString("0.015"),
		ClientOrderID: "abc123",
	}
}

func TestBitget_SubmitOrderWithTrailingStop(t *testing.T) {
	c, fake := newTestClient(t, ClientConfig{Exchange: "bitget", ProductType: "USDT-FUTURES", MarginMode: "cross"}, map[string]string{
		"POST /api/v2/mix/order/place-order":      `{"code":"00000","msg":"success","data":{"orderId":"111","clientOid":"abc123"}}`,
		"POST /api/v2/mix/order/place-plan-order": `{"code":"00000","msg":"success","data":{"orderId":"222"}}`,
	})

	res, err := c.SubmitOrder(context.Background(), bitgetIntent())
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "111", res.OrderID)
	assert.Equal(t, "222", res.TrailingOrderID)
	assert.Equal(t, "abc123", res.ClientOrderID)

	orders := fake.callsTo("/api/v2/mix/order/place-order")
	require.Len(t, orders, 1)
	assert.Equal(t, testPassphrase, orders[0].Header.Get("ACCESS-PASSPHRASE"))
	assert.Equal(t, "en-US", orders[0].Header.Get("locale"))
	var main map[string]string
	require.NoError(t, json.Unmarshal([]byte(orders[0].Body), &main))
	assert.Equal(t, "sell", main["side"])
	assert.Equal(t, "crossed", main["marginMode"])
	assert.Equal(t, "61500", main["presetStopLossPrice"])

	plans := fake.callsTo("/api/v2/mix/order/place-plan-order")
	require.Len(t, plans, 1)
	var plan map[string]string
	require.NoError(t, json.Unmarshal([]byte(plans[0].Body), &plan))
	assert.Equal(t, "track_plan", plan["planType"])
	assert.Equal(t, "1.5", plan["callbackRatio"], "bitget expects percent")
	assert.Equal(t, "buy", plan["side"])
	assert.Equal(t, "YES", plan["reduceOnly"])
}

func TestBitget_TrailingFailureReportsLiveMainOrder(t *testing.T) {
	c, _ := newTestClient(t, ClientConfig{Exchange: "bitget", ProductType: "USDT-FUTURES"}, map[string]string{
		"POST /api/v2/mix/order/place-order":      `{"code":"00000","msg":"success","data":{"orderId":"111"}}`,
		"POST /api/v2/mix/order/place-plan-order": `{"code":"40808","msg":"callbackRatio out of range","data":null}`,
	})

	res, err := c.SubmitOrder(context.Background(), bitgetIntent())
	var rejected *model.OrderRejectedError
	require.ErrorAs(t, err, &rejected)
	assert.Equal(t, "111", rejected.OrderID)
	assert.Equal(t, "40808", rejected.Code)
	require.NotNil(t, res)
	assert.True(t, res.Success)
}

func TestBitget_SignedQueryAndBalance(t *testing.T) {
	c, fake := newTestClient(t, ClientConfig{Exchange: "bitget", ProductType: "USDT-FUTURES"}, map[string]string{
		"GET /api/v2/mix/account/account": `{"code":"00000","msg":"success","data":{"marginCoin":"USDT","available":"1234.5"}}`,
		"GET /api/v2/mix/market/ticker":   `{"code":"00000","msg":"success","data":[{"symbol":"BTCUSDT","lastPr":"60000.1"}]}`,
	})

	bal, err := c.GetAvailableBalance(context.Background(), "BTCUSDT", "USDT")
	require.NoError(t, err)
	assert.Equal(t, "1234.5", bal.String())

	px, err := c.GetLastPrice(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, "60000.1", px.String())

	acct := fake.callsTo("/api/v2/mix/account/account")
	require.Len(t, acct, 1)
	assert.Equal(t, "marginCoin=USDT&productType=USDT-FUTURES&symbol=btcusdt", acct[0].Query)
}

func TestBitget_AuthCode(t *testing.T) {
	c, _ := newTestClient(t, ClientConfig{Exchange: "bitget", ProductType: "USDT-FUTURES"}, map[string]string{
		"GET /api/v2/mix/account/account": `{"code":"40009","msg":"sign signature error","data":null}`,
	})
	_, err := c.GetAvailableBalance(context.Background(), "BTCUSDT", "USDT")
	var authErr *model.AuthError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, "bitget", authErr.Exchange)
}

func TestOkx_DemoHeaderAndClose(t *testing.T) {
	c, fake := newTestClient(t, ClientConfig{Exchange: "okx", MarginMode: "cross", Demo: true}, map[string]string{
		"GET /api/v5/account/positions":    `{"code":"0","msg":"","data":[{"instId":"BTC-USDT-SWAP","posSide":"net","pos":"-3"}]}`,
		"POST /api/v5/trade/close-position": `{"code":"0","msg":"","data":[{"instId":"BTC-USDT-SWAP","posSide":"net"}]}`,
	})
	ctx := context.Background()

	_, err := c.ClosePosition(ctx, "BTC-USDT-SWAP", model.DirLong)
	require.ErrorIs(t, err, ErrNoPosition)

	res, err := c.ClosePosition(ctx, "BTC-USDT-SWAP", model.DirShort)
	require.NoError(t, err)
	assert.True(t, res.Success)

	closes := fake.callsTo("/api/v5/trade/close-position")
	require.Len(t, closes, 1)
	assert.Equal(t, `{"instId":"BTC-USDT-SWAP","mgnMode":"cross"}`, closes[0].Body)
	assert.Equal(t, "1", closes[0].Header.Get("x-simulated-trading"))
	_, err = time.Parse("2006-01-02T15:04:05.000Z", closes[0].Header.Get("OK-ACCESS-TIMESTAMP"))
	assert.NoError(t, err)
}

func TestOkx_OrderErrorFromSCode(t *testing.T) {
	c, _ := newTestClient(t, ClientConfig{Exchange: "okx"}, map[string]string{
		"POST /api/v5/trade/order": `{"code":"1","msg":"Operation failed.","data":[{"ordId":"","clOrdId":"abc","sCode":"51008","sMsg":"Insufficient balance"}]}`,
	})
	intent := bitgetIntent()
	intent.Symbol = "BTC-USDT-SWAP"

	res, err := c.SubmitOrder(context.Background(), intent)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, "51008", res.Code)
	assert.Equal(t, "Insufficient balance", res.Message)
}

func TestOkx_CandlesSkipUnconfirmed(t *testing.T) {
	c, fake := newTestClient(t, ClientConfig{Exchange: "okx"}, map[string]string{
		"GET /api/v5/market/candles": `{"code":"0","msg":"","data":[
			["1700000120000","3","4","2","3","1","1","1","0"],
			["1700000060000","2","3","1","2","1","1","1","1"],
			["1700000000000","1","2","0","1","1","1","1","1"]]}`,
	})

	candles, err := c.GetCandles(context.Background(), "BTC-USDT-SWAP", "1h", 2)
	require.NoError(t, err)
	require.Len(t, candles, 2)
	assert.True(t, candles[0].StartTime.Before(candles[1].StartTime))
	assert.Equal(t, int64(1700000060000), candles[1].StartTime.UnixMilli())

	calls := fake.callsTo("/api/v5/market/candles")
	require.Len(t, calls, 1)
	assert.Equal(t, "bar=1H&instId=BTC-USDT-SWAP&limit=2", calls[0].Query)
}

func TestServerTimeSync(t *testing.T) {
	skew := 5 * time.Second
	serverNow := strconv.FormatInt(time.Now().Add(skew).UnixMilli(), 10)
	c, fake := newTestClient(t, ClientConfig{Exchange: "bitget", ProductType: "USDT-FUTURES", UseServerTime: true, TimeSyncInterval: time.Hour},
		map[string]string{
			"GET /api/v2/public/time":         `{"code":"00000","msg":"success","data":{"serverTime":"` + serverNow + `"}}`,
			"GET /api/v2/mix/account/account": `{"code":"00000","msg":"success","data":{"available":"1"}}`,
		})

	_, err := c.GetAvailableBalance(context.Background(), "BTCUSDT", "USDT")
	require.NoError(t, err)
	_, err = c.GetAvailableBalance(context.Background(), "BTCUSDT", "USDT")
	require.NoError(t, err)

	assert.Len(t, fake.callsTo("/api/v2/public/time"), 1, "offset is reused until it goes stale")
	assert.InDelta(t, skew.Seconds(), c.clock.Offset().Seconds(), 1.0)

	acct := fake.callsTo("/api/v2/mix/account/account")
	require.Len(t, acct, 2)
	ts, err := strconv.ParseInt(acct[0].Header.Get("ACCESS-TIMESTAMP"), 10, 64)
	require.NoError(t, err)
	assert.InDelta(t, float64(time.Now().Add(skew).UnixMilli()), float64(ts), 2000)
}

func TestServerTimeSync_FallsBackToLocalClock(t *testing.T) {
	c, fake := newTestClient(t, ClientConfig{Exchange: "gmo", UseServerTime: true, TimeSyncInterval: time.Hour},
		map[string]string{
			"GET /private/v1/account/margin": `{"status":0,"data":{"availableAmount":"5"}}`,
		})

	bal, err := c.GetAvailableBalance(context.Background(), "BTC_JPY", "JPY")
	require.NoError(t, err)
	assert.Equal(t, "5", bal.String())
	assert.Equal(t, time.Duration(0), c.clock.Offset())

	margin := fake.callsTo("/private/v1/account/margin")
	require.Len(t, margin, 1)
	ts, err := strconv.ParseInt(margin[0].Header.Get("API-TIMESTAMP"), 10, 64)
	require.NoError(t, err)
	assert.InDelta(t, float64(time.Now().UnixMilli()), float64(ts), 2000)
}

func TestClient_TimeoutIsDeadline(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-block
	}))
	defer srv.Close()
	defer close(block)

	c, err := NewClient(&ClientConfig{Exchange: "gmo", RESTURL: srv.URL, Timeout: 50 * time.Millisecond,
		Credentials: model.Credentials{Key: testKey, Secret: testSecret}}, nil)
	require.NoError(t, err)

	_, err = c.GetLastPrice(context.Background(), "BTC_JPY")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
