package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"signal-relay/internal/model"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestCodecs_Decode(t *testing.T) {
	gmo, err := gmoCodec{}.decode([]byte(`{"channel":"ticker","ask":"50001","bid":"49999","last":"50000","symbol":"BTC_JPY","timestamp":"2023-11-14T22:13:20.000Z","volume":"10"}`))
	require.NoError(t, err)
	require.Len(t, gmo, 1)
	assert.Equal(t, "BTC_JPY", gmo[0].Symbol)
	assert.Equal(t, int64(1700000000000), gmo[0].Timestamp)
	assert.Equal(t, "50000", gmo[0].Price.String())

	bitget, err := bitgetCodec{productType: "USDT-FUTURES"}.decode([]byte(`{"action":"snapshot","arg":{"instType":"USDT-FUTURES","channel":"ticker","instId":"BTCUSDT"},"data":[{"instId":"BTCUSDT","lastPr":"60000.5","ts":"1700000000000"}],"ts":1700000000001}`))
	require.NoError(t, err)
	require.Len(t, bitget, 1)
	assert.Equal(t, "BTCUSDT", bitget[0].Symbol)
	assert.Equal(t, "60000.5", bitget[0].Price.String())

	okx, err := okxCodec{}.decode([]byte(`{"arg":{"channel":"tickers","instId":"BTC-USDT-SWAP"},"data":[{"instId":"BTC-USDT-SWAP","last":"61000","ts":"1700000000000"}]}`))
	require.NoError(t, err)
	require.Len(t, okx, 1)
	assert.Equal(t, "BTC-USDT-SWAP", okx[0].Symbol)

	// 订阅确认和心跳不产生 ticker
	for _, msg := range []string{`{"event":"subscribe","arg":{"channel":"tickers","instId":"BTC-USDT-SWAP"}}`, "pong"} {
		got, err := okxCodec{}.decode([]byte(msg))
		require.NoError(t, err)
		assert.Empty(t, got)
	}

	_, err = okxCodec{}.decode([]byte(`{"event":"error","code":"60012","msg":"Invalid request"}`))
	assert.Error(t, err)
}

func TestNewConnector_Unsupported(t *testing.T) {
	_, err := NewConnector("ftx", "wss://example.com", "BTC", "", nil)
	var cfgErr *model.ConfigError
	assert.ErrorAs(t, err, &cfgErr)
}

func TestConnector_StreamsTickers(t *testing.T) {
	upgrader := websocket.Upgrader{}
	subscribed := make(chan map[string]any, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		var sub map[string]any
		if err := conn.ReadJSON(&sub); err != nil {
			return
		}
		subscribed <- sub

		for i, px := range []string{"50000", "50100"} {
			msg := `{"channel":"ticker","last":"` + px + `","symbol":"BTC_JPY","timestamp":"2023-11-14T22:13:2` + string(rune('0'+i)) + `.000Z"}`
			if err := conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
				return
			}
		}
		// 保持连接直到客户端关闭
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	c, err := NewConnector("gmo", wsURL, "BTC_JPY", "", zap.NewNop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)

	select {
	case sub := <-subscribed:
		assert.Equal(t, "subscribe", sub["command"])
		assert.Equal(t, "ticker", sub["channel"])
		assert.Equal(t, "BTC_JPY", sub["symbol"])
	case <-time.After(2 * time.Second):
		t.Fatal("no subscription received")
	}

	var got []model.Ticker
	for len(got) < 2 {
		select {
		case tk := <-c.Tickers():
			got = append(got, tk)
		case <-time.After(2 * time.Second):
			t.Fatalf("received %d tickers", len(got))
		}
	}
	assert.Equal(t, "50000", got[0].Price.String())
	assert.Equal(t, "50100", got[1].Price.String())
	assert.Equal(t, int64(1000), got[1].Timestamp-got[0].Timestamp)
}
