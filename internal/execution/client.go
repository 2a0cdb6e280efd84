package execution

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"signal-relay/internal/model"
	"signal-relay/internal/service"
	"signal-relay/internal/signing"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ClientConfig 定义交易所客户端所需的全部配置
type ClientConfig struct {
	Exchange         string // gmo / bitget / okx
	RESTURL          string
	Timeout          time.Duration
	UseServerTime    bool
	TimeSyncInterval time.Duration
	Demo             bool
	ProductType      string
	MarginMode       string
	MarginAsset      string
	Credentials      model.Credentials
}

// Client 通过 REST 与交易所通信。签名时使用的 path / query / body 与实际发送的字节完全一致。
type Client struct {
	cfg    *ClientConfig
	venue  venue
	http   *resty.Client
	signer *signing.Signer
	clock  *signing.OffsetClock
	logger *zap.Logger

	syncMu sync.Mutex
}

var _ Exchange = (*Client)(nil)

// NewClient 凭证缺失时返回 *model.ConfigError
func NewClient(cfg *ClientConfig, logger *zap.Logger) (*Client, error) {
	v, err := newVenue(cfg)
	if err != nil {
		return nil, err
	}
	if cfg.RESTURL == "" {
		return nil, &model.ConfigError{Field: "Exchange.RESTURL", Reason: "REST base url is empty"}
	}

	clock := signing.NewOffsetClock()
	var signClock signing.Clock = signing.LocalClock{}
	if cfg.UseServerTime {
		signClock = clock
	}
	signer, err := signing.NewSigner(v.scheme(), cfg.Credentials, signClock)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	// 下单接口不能自动重试，否则可能重复下单
	httpClient := resty.New().
		SetBaseURL(strings.TrimSuffix(cfg.RESTURL, "/")).
		SetRetryCount(0).
		SetHeader("Accept", "application/json")

	return &Client{
		cfg:    cfg,
		venue:  v,
		http:   httpClient,
		signer: signer,
		clock:  clock,
		logger: logger.With(zap.String("exchange", v.name())),
	}, nil
}

// Name 交易所名称
func (c *Client) Name() string {
	return c.venue.name()
}

// call 发送请求并解析统一外壳。鉴权类错误码返回 *model.AuthError，
// 其它业务错误码由调用方根据 env.ok 处理。
func (c *Client) call(ctx context.Context, req request) (envelope, []byte, error) {
	name := c.venue.name()
	if c.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
	}

	r := c.http.R().SetContext(ctx)
	var signedAt string
	if req.private {
		c.ensureClock(ctx)
		headers, err := c.signer.BuildHeaders(req.method, req.path, req.query, req.body)
		if err != nil {
			return envelope{}, nil, err
		}
		signedAt = headers[c.signer.Scheme().TimestampHeader]
		r.SetHeaders(headers)
	} else {
		r.SetHeader("Content-Type", "application/json")
	}
	if req.body != "" {
		r.SetBody(req.body)
	}

	start := time.Now()
	resp, err := r.Execute(req.method, req.url())
	service.ExchangeRequestSeconds.WithLabelValues(name, req.endpoint).Observe(time.Since(start).Seconds())
	if err != nil {
		service.ExchangeRequestsTotal.WithLabelValues(name, req.endpoint, "transport").Inc()
		return envelope{}, nil, errors.Wrapf(err, "%s %s %s", name, req.method, req.path)
	}

	body := resp.Body()
	env, err := c.venue.decode(body)
	if err != nil {
		service.ExchangeRequestsTotal.WithLabelValues(name, req.endpoint, "malformed").Inc()
		c.logger.Warn("Unparsable exchange response",
			zap.String("path", req.path),
			zap.Int("status", resp.StatusCode()),
			zap.Error(err))
		return envelope{}, body, &model.APIError{
			Exchange: name,
			Code:     fmt.Sprintf("HTTP_%d", resp.StatusCode()),
			Message:  truncate(string(body), 256),
			Path:     req.path,
		}
	}

	if !env.ok && c.venue.isAuthCode(env.code) {
		service.ExchangeRequestsTotal.WithLabelValues(name, req.endpoint, "auth").Inc()
		c.logger.Error("Exchange rejected request signature",
			zap.String("method", req.method),
			zap.String("path", req.path),
			zap.String("query", req.query),
			zap.String("timestamp", signedAt),
			zap.Int("body_len", len(req.body)),
			zap.String("api_key", c.signer.APIKey()),
			zap.String("code", env.code),
			zap.String("msg", env.msg),
			zap.Duration("clock_offset", c.clock.Offset()))
		return env, body, &model.AuthError{Exchange: name, Code: env.code, Message: env.msg, Method: req.method, Path: req.path}
	}

	outcome := "ok"
	if !env.ok {
		outcome = "rejected"
	}
	service.ExchangeRequestsTotal.WithLabelValues(name, req.endpoint, outcome).Inc()
	return env, body, nil
}

func (c *Client) apiError(env envelope, req request) error {
	return &model.APIError{Exchange: c.venue.name(), Code: env.code, Message: env.msg, Path: req.path}
}

// ensureClock 首次私有请求前 (以及偏移过期后) 懒同步服务器时间，失败时退化为本机时间
func (c *Client) ensureClock(ctx context.Context) {
	if !c.cfg.UseServerTime {
		return
	}
	maxAge := c.cfg.TimeSyncInterval
	if maxAge <= 0 {
		maxAge = 10 * time.Minute
	}
	if !c.clock.Stale(maxAge) {
		return
	}

	c.syncMu.Lock()
	defer c.syncMu.Unlock()
	if !c.clock.Stale(maxAge) {
		return
	}
	if _, err := c.SyncServerTime(ctx); err != nil {
		c.clock.MarkAttempt(time.Now())
		c.logger.Warn("Server time sync failed, signing with local clock", zap.Error(err))
	}
}

// SyncServerTime 查询交易所服务器时间并更新签名时钟的偏移量
func (c *Client) SyncServerTime(ctx context.Context) (time.Duration, error) {
	req := c.venue.serverTimeRequest()
	sentAt := time.Now()
	env, body, err := c.call(ctx, req)
	receivedAt := time.Now()
	if err != nil {
		return 0, err
	}
	if !env.ok {
		return 0, c.apiError(env, req)
	}

	server, err := c.venue.parseServerTime(body, env.data)
	if err != nil {
		return 0, errors.Wrap(err, "parse server time")
	}
	offset := c.clock.Sync(server, sentAt, receivedAt)
	c.logger.Info("Server time synced", zap.Duration("offset", offset))
	return offset, nil
}

// GetLastPrice 查询最新成交价
func (c *Client) GetLastPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	req := c.venue.tickerRequest(symbol)
	env, _, err := c.call(ctx, req)
	if err != nil {
		return decimal.Zero, err
	}
	if !env.ok {
		return decimal.Zero, c.apiError(env, req)
	}
	return c.venue.parseTicker(env.data, symbol)
}

// GetAvailableBalance 查询可用保证金
func (c *Client) GetAvailableBalance(ctx context.Context, symbol, marginAsset string) (decimal.Decimal, error) {
	req := c.venue.balanceRequest(symbol, marginAsset)
	env, _, err := c.call(ctx, req)
	if err != nil {
		return decimal.Zero, err
	}
	if !env.ok {
		return decimal.Zero, c.apiError(env, req)
	}
	return c.venue.parseBalance(env.data, marginAsset)
}

// validateIntent 下单前的本地检查
func validateIntent(intent model.OrderIntent) error {
	if !intent.Size.IsPositive() {
		return &model.InvalidIntentError{Field: "Size", Reason: "size must be positive, got " + intent.Size.String()}
	}
	if intent.Side != model.DirLong && intent.Side != model.DirShort {
		return &model.InvalidIntentError{Field: "Side", Reason: fmt.Sprintf("unknown side %q", intent.Side)}
	}
	if intent.StopLossPrice.IsPositive() && intent.EntryPrice.IsPositive() {
		if intent.Side == model.DirLong && !intent.StopLossPrice.LessThan(intent.EntryPrice) {
			return &model.InvalidIntentError{Field: "StopLossPrice", Reason: "long stop must be below entry"}
		}
		if intent.Side == model.DirShort && !intent.StopLossPrice.GreaterThan(intent.EntryPrice) {
			return &model.InvalidIntentError{Field: "StopLossPrice", Reason: "short stop must be above entry"}
		}
	}
	return nil
}

// NewClientOrderID 32 位十六进制，满足各交易所对 clientOid 的字符限制
func NewClientOrderID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// SubmitOrder 市价开仓。交易所拒单时返回 Success=false 的结果而不是 error；
// 主单成功但追踪止损单失败时，同时返回结果和 *model.OrderRejectedError。
func (c *Client) SubmitOrder(ctx context.Context, intent model.OrderIntent) (*model.OrderResult, error) {
	name := c.venue.name()
	if err := validateIntent(intent); err != nil {
		return nil, err
	}
	if intent.ClientOrderID == "" {
		intent.ClientOrderID = NewClientOrderID()
	}

	req, err := c.venue.orderRequest(intent)
	if err != nil {
		return nil, errors.Wrap(err, "build order request")
	}
	env, body, err := c.call(ctx, req)
	if err != nil {
		service.OrdersTotal.WithLabelValues(name, intent.Side.String(), "error").Inc()
		return nil, err
	}

	result := &model.OrderResult{
		Exchange:      name,
		Success:       env.ok,
		Code:          env.code,
		Message:       env.msg,
		ClientOrderID: intent.ClientOrderID,
		Raw:           body,
	}
	if !env.ok {
		service.OrdersTotal.WithLabelValues(name, intent.Side.String(), "rejected").Inc()
		c.logger.Warn("Order rejected",
			zap.String("client_order_id", intent.ClientOrderID),
			zap.String("code", env.code),
			zap.String("msg", env.msg))
		return result, nil
	}

	if result.OrderID, err = c.venue.parseOrderID(req.endpoint, env.data); err != nil {
		c.logger.Warn("Order accepted but order id is unreadable", zap.Error(err))
	}
	service.OrdersTotal.WithLabelValues(name, intent.Side.String(), "accepted").Inc()
	c.logger.Info("Order accepted",
		zap.String("order_id", result.OrderID),
		zap.String("client_order_id", intent.ClientOrderID),
		zap.Stringer("intent", intent))

	treq, needed, err := c.venue.trailingRequest(intent)
	if err != nil {
		return result, errors.Wrap(err, "build trailing request")
	}
	if !needed {
		return result, nil
	}

	tenv, _, err := c.call(ctx, treq)
	if err != nil {
		c.logger.Error("Trailing stop submission failed, main order is live", zap.String("order_id", result.OrderID), zap.Error(err))
		return result, &model.OrderRejectedError{Exchange: name, Code: "TRAILING", Message: err.Error(), OrderID: result.OrderID}
	}
	if !tenv.ok {
		c.logger.Error("Trailing stop rejected, main order is live",
			zap.String("order_id", result.OrderID),
			zap.String("code", tenv.code),
			zap.String("msg", tenv.msg))
		return result, &model.OrderRejectedError{Exchange: name, Code: tenv.code, Message: tenv.msg, OrderID: result.OrderID}
	}
	if result.TrailingOrderID, err = c.venue.parseOrderID(treq.endpoint, tenv.data); err != nil {
		c.logger.Warn("Trailing order id is unreadable", zap.Error(err))
	}
	return result, nil
}

// ClosePosition 查询持仓后市价全平，没有持仓时返回 ErrNoPosition
func (c *Client) ClosePosition(ctx context.Context, symbol string, side model.Direction) (*model.OrderResult, error) {
	name := c.venue.name()

	preq := c.venue.positionRequest(symbol, c.cfg.MarginAsset)
	penv, _, err := c.call(ctx, preq)
	if err != nil {
		return nil, err
	}
	if !penv.ok {
		return nil, c.apiError(penv, preq)
	}
	size, err := c.venue.parsePosition(penv.data, side)
	if err != nil {
		return nil, &model.MarginDataError{Exchange: name, Field: "position", Err: err}
	}
	if !size.IsPositive() {
		return nil, ErrNoPosition
	}

	creq, err := c.venue.closeRequest(symbol, c.cfg.MarginAsset, side, size)
	if err != nil {
		return nil, errors.Wrap(err, "build close request")
	}
	env, body, err := c.call(ctx, creq)
	if err != nil {
		service.OrdersTotal.WithLabelValues(name, "close_"+side.String(), "error").Inc()
		return nil, err
	}

	result := &model.OrderResult{Exchange: name, Success: env.ok, Code: env.code, Message: env.msg, Raw: body}
	if env.ok {
		if result.OrderID, err = c.venue.parseOrderID(creq.endpoint, env.data); err != nil {
			result.Success = false
			result.Message = err.Error()
		}
	}
	outcome := "accepted"
	if !result.Success {
		outcome = "rejected"
	}
	service.OrdersTotal.WithLabelValues(name, "close_"+side.String(), outcome).Inc()
	c.logger.Info("Close position",
		zap.String("side", side.String()),
		zap.String("size", size.String()),
		zap.Bool("success", result.Success),
		zap.String("code", result.Code),
		zap.String("msg", result.Message))
	return result, nil
}

// GetCandles 拉取最近 limit 根 K 线，按时间升序返回
func (c *Client) GetCandles(ctx context.Context, symbol, interval string, limit int) ([]model.Candle, error) {
	if limit <= 0 {
		return nil, &model.InsufficientDataError{Need: 1, Got: 0}
	}
	reqs, err := c.venue.candlesRequests(symbol, interval, limit, c.clock.Now())
	if err != nil {
		return nil, &model.ConfigError{Field: "Volatility.Interval", Reason: err.Error()}
	}

	byStart := make(map[int64]model.Candle, limit)
	for i, req := range reqs {
		env, _, err := c.call(ctx, req)
		if err == nil && !env.ok {
			err = c.apiError(env, req)
		}
		var batch []model.Candle
		if err == nil {
			if batch, err = c.venue.parseCandles(env.data, symbol, interval); err != nil {
				err = &model.MarketDataError{Exchange: c.venue.name(), Field: "candles", Err: err}
			}
		}
		if err != nil {
			if i == 0 {
				return nil, err
			}
			// 补充页失败时用已有数据
			c.logger.Warn("Fallback candle page failed", zap.String("query", req.query), zap.Error(err))
			break
		}
		for _, k := range batch {
			byStart[k.StartTime.UnixMilli()] = k
		}
		if len(byStart) >= limit {
			break
		}
	}

	out := make([]model.Candle, 0, len(byStart))
	for _, k := range byStart {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

// RESTCandleSource 每次估算波动率时通过 REST 拉取 K 线
type RESTCandleSource struct {
	Client   *Client
	Interval string
	Window   int
}

// Candles 实现 strategy.CandleSource
func (s *RESTCandleSource) Candles(ctx context.Context, symbol string) ([]model.Candle, error) {
	return s.Client.GetCandles(ctx, symbol, s.Interval, s.Window)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
