package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"signal-relay/internal/model"
	"signal-relay/internal/service"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// streamCodec 单个交易所公共行情 WS 的订阅消息和 ticker 解析
type streamCodec interface {
	subscribe(symbol string) any
	// decode 返回 nil 表示事件/心跳消息
	decode(message []byte) ([]model.Ticker, error)
	// ping 需要应用层心跳的交易所返回心跳内容
	ping() []byte
}

// gmoCodec GMO ticker 频道
type gmoCodec struct{}

func (gmoCodec) subscribe(symbol string) any {
	return map[string]string{"command": "subscribe", "channel": "ticker", "symbol": symbol}
}

func (gmoCodec) decode(message []byte) ([]model.Ticker, error) {
	var msg struct {
		Channel   string `json:"channel"`
		Symbol    string `json:"symbol"`
		Last      string `json:"last"`
		Timestamp string `json:"timestamp"`
		Error     string `json:"error"`
	}
	if err := json.Unmarshal(message, &msg); err != nil {
		return nil, err
	}
	if msg.Error != "" {
		return nil, fmt.Errorf("gmo ws error: %s", msg.Error)
	}
	if msg.Channel != "ticker" || msg.Last == "" {
		return nil, nil
	}
	price, err := service.StringToDecimal(msg.Last)
	if err != nil {
		return nil, err
	}
	ts, err := time.Parse(time.RFC3339Nano, msg.Timestamp)
	if err != nil {
		return nil, err
	}
	return []model.Ticker{{Symbol: msg.Symbol, Timestamp: ts.UnixMilli(), Price: price}}, nil
}

func (gmoCodec) ping() []byte { return nil }

// okxStyleMessage Bitget V2 与 Okx V5 的推送格式基本相同: {arg:{channel,instId}, data:[...]}
type okxStyleMessage struct {
	Event string `json:"event"`
	Msg   string `json:"msg"`
	Arg   struct {
		Channel string `json:"channel"`
		InstID  string `json:"instId"`
	} `json:"arg"`
	Data json.RawMessage `json:"data"`
}

type bitgetCodec struct {
	productType string
}

func (c bitgetCodec) subscribe(symbol string) any {
	return map[string]any{
		"op":   "subscribe",
		"args": []map[string]string{{"instType": c.productType, "channel": "ticker", "instId": symbol}},
	}
}

func (bitgetCodec) decode(message []byte) ([]model.Ticker, error) {
	return decodeOkxStyle(message, "ticker", "lastPr")
}

func (bitgetCodec) ping() []byte { return []byte("ping") }

type okxCodec struct{}

func (okxCodec) subscribe(symbol string) any {
	return map[string]any{
		"op":   "subscribe",
		"args": []map[string]string{{"channel": "tickers", "instId": symbol}},
	}
}

func (okxCodec) decode(message []byte) ([]model.Ticker, error) {
	return decodeOkxStyle(message, "tickers", "last")
}

func (okxCodec) ping() []byte { return []byte("ping") }

func decodeOkxStyle(message []byte, channel, priceField string) ([]model.Ticker, error) {
	// 心跳回复是纯文本 "pong"
	if string(message) == "pong" {
		return nil, nil
	}
	var msg okxStyleMessage
	if err := json.Unmarshal(message, &msg); err != nil {
		return nil, err
	}
	if msg.Event == "error" {
		return nil, fmt.Errorf("ws error: %s", msg.Msg)
	}
	if msg.Event != "" || msg.Arg.Channel != channel || len(msg.Data) == 0 {
		return nil, nil
	}

	var rows []map[string]any
	if err := json.Unmarshal(msg.Data, &rows); err != nil {
		return nil, err
	}
	out := make([]model.Ticker, 0, len(rows))
	for _, row := range rows {
		px, _ := row[priceField].(string)
		ts, _ := row["ts"].(string)
		if px == "" {
			continue
		}
		price, err := service.StringToDecimal(px)
		if err != nil {
			return nil, err
		}
		ms, err := service.StringToInt64(ts)
		if err != nil {
			return nil, err
		}
		out = append(out, model.Ticker{Symbol: msg.Arg.InstID, Timestamp: ms, Price: price})
	}
	return out, nil
}

func newStreamCodec(exchange, productType string) (streamCodec, error) {
	switch exchange {
	case "gmo":
		return gmoCodec{}, nil
	case "bitget":
		return bitgetCodec{productType: productType}, nil
	case "okx":
		return okxCodec{}, nil
	default:
		return nil, &model.ConfigError{Field: "Exchange.Name", Reason: fmt.Sprintf("no market stream for %q", exchange)}
	}
}

// Connector 订阅公共 ticker 流并把价格推给 CandleAggregator。断线后自动重连。
type Connector struct {
	wsURL          string
	symbol         string
	codec          streamCodec
	tickerChannel  chan model.Ticker
	reconnectDelay time.Duration
	pingInterval   time.Duration
	logger         *zap.Logger
}

func NewConnector(exchange, wsURL, symbol, productType string, logger *zap.Logger) (*Connector, error) {
	codec, err := newStreamCodec(exchange, productType)
	if err != nil {
		return nil, err
	}
	if _, err := url.Parse(wsURL); err != nil || wsURL == "" {
		return nil, &model.ConfigError{Field: "Exchange.WSURL", Reason: fmt.Sprintf("invalid websocket url %q", wsURL)}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	logger.Info("Connector initialized", zap.String("exchange", exchange), zap.String("symbol", symbol))
	return &Connector{
		wsURL:          wsURL,
		symbol:         symbol,
		codec:          codec,
		tickerChannel:  make(chan model.Ticker, 2048),
		reconnectDelay: 5 * time.Second,
		pingInterval:   25 * time.Second,
		logger:         logger.With(zap.String("exchange", exchange)),
	}, nil
}

// Tickers 输出通道，交给 CandleAggregator 消费
func (c *Connector) Tickers() <-chan model.Ticker {
	return c.tickerChannel
}

// Run 阻塞直到 ctx 取消
func (c *Connector) Run(ctx context.Context) {
	for {
		if err := c.session(ctx); err != nil && ctx.Err() == nil {
			c.logger.Error("WS session ended, reconnecting", zap.Error(err), zap.Duration("delay", c.reconnectDelay))
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(c.reconnectDelay):
		}
	}
}

// session 一次完整的连接: 拨号、订阅、读循环
func (c *Connector) session(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.wsURL, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	if err := conn.WriteJSON(c.codec.subscribe(c.symbol)); err != nil {
		return err
	}
	c.logger.Info("Subscribed to ticker stream", zap.String("url", c.wsURL), zap.String("symbol", c.symbol))

	done := make(chan struct{})
	defer close(done)
	go func() {
		var ping <-chan time.Time
		if c.codec.ping() != nil {
			t := time.NewTicker(c.pingInterval)
			defer t.Stop()
			ping = t.C
		}
		for {
			select {
			case <-ctx.Done():
				// 让阻塞中的 ReadMessage 返回
				_ = conn.Close()
				return
			case <-done:
				return
			case <-ping:
				if err := conn.WriteMessage(websocket.TextMessage, c.codec.ping()); err != nil {
					c.logger.Warn("WS ping failed", zap.Error(err))
				}
			}
		}
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		tickers, err := c.codec.decode(message)
		if err != nil {
			c.logger.Warn("Unreadable WS message", zap.ByteString("message", message), zap.Error(err))
			continue
		}
		for _, t := range tickers {
			// 使用 select/default 防止阻塞读循环
			select {
			case c.tickerChannel <- t:
			default:
				c.logger.Warn("Ticker channel full, dropping", zap.String("symbol", t.Symbol))
			}
		}
	}
}
