package api

import (
	"context"
	"crypto/subtle"
	"errors"
	"io"
	"net/http"
	"time"

	"signal-relay/internal/model"
	"signal-relay/internal/service"
	"signal-relay/internal/strategy"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const maxSignalBytes = 64 << 10

// SignalHandler 由 strategy.SignalRouter 实现
type SignalHandler interface {
	Route(ctx context.Context, raw string) (*strategy.Outcome, error)
}

// WebhookServer 接收 TradingView 之类的 webhook 文本信号
type WebhookServer struct {
	handler SignalHandler
	cfg     service.ServerConfig
	logger  *zap.Logger
}

func NewWebhookServer(handler SignalHandler, cfg service.ServerConfig, logger *zap.Logger) *WebhookServer {
	if cfg.Path == "" {
		cfg.Path = "/webhook"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WebhookServer{handler: handler, cfg: cfg, logger: logger}
}

// Router 返回 gin 路由: POST webhook, GET / 健康检查, GET /metrics
func (s *WebhookServer) Router() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/", func(c *gin.Context) { c.String(http.StatusOK, "OK") })
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.POST(s.cfg.Path, s.handleWebhook)
	return r
}

func (s *WebhookServer) authorized(c *gin.Context) bool {
	if s.cfg.Token == "" {
		return true
	}
	got := c.Query("token")
	if got == "" {
		got = c.GetHeader("X-Relay-Token")
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(s.cfg.Token)) == 1
}

func (s *WebhookServer) handleWebhook(c *gin.Context) {
	if !s.authorized(c) {
		s.logger.Warn("Webhook rejected: bad token", zap.String("remote", c.ClientIP()))
		c.JSON(http.StatusUnauthorized, gin.H{"status": strategy.StatusError, "message": "unauthorized"})
		return
	}

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxSignalBytes+1))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": strategy.StatusError, "message": "cannot read body"})
		return
	}
	if len(body) > maxSignalBytes {
		s.logger.Warn("Webhook rejected: body too large", zap.String("remote", c.ClientIP()))
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"status": strategy.StatusError, "message": "signal body too large"})
		return
	}
	raw := string(body)
	s.logger.Info("Incoming webhook", zap.String("remote", c.ClientIP()), zap.String("body", raw))

	ctx := c.Request.Context()
	if s.cfg.SignalTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.SignalTimeout)
		defer cancel()
	}

	start := time.Now()
	out, err := s.handler.Route(ctx, raw)
	if err != nil {
		code := StatusFor(err)
		s.logger.Error("Signal handling failed",
			zap.Int("http_status", code),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err))
		c.JSON(code, gin.H{"status": strategy.StatusError, "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, out)
}

// StatusFor 把错误类型映射为 HTTP 状态码
func StatusFor(err error) int {
	var (
		malformed    *model.MalformedSignalError
		rejected     *model.OrderRejectedError
		invalid      *model.InvalidIntentError
		authErr      *model.AuthError
		apiErr       *model.APIError
		marketErr    *model.MarketDataError
		marginErr    *model.MarginDataError
		insufficient *model.InsufficientDataError
	)
	switch {
	case errors.As(err, &malformed):
		return http.StatusBadRequest
	case errors.As(err, &rejected), errors.As(err, &invalid):
		return http.StatusUnprocessableEntity
	case errors.As(err, &authErr), errors.As(err, &apiErr), errors.As(err, &marketErr),
		errors.As(err, &marginErr), errors.As(err, &insufficient):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
