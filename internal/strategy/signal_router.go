package strategy

import (
	"context"
	"errors"

	"signal-relay/internal/execution"
	"signal-relay/internal/model"
	"signal-relay/internal/service"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	StatusSuccess = "success"
	StatusIgnored = "ignored"
	StatusError   = "error"
)

// Outcome 一次信号处理的结果，直接序列化给 webhook 调用方
type Outcome struct {
	Status     string             `json:"status"`
	Action     model.ActionType   `json:"action"`
	Reason     string             `json:"reason,omitempty"`
	RequestID  string             `json:"requestId"`
	Volatility string             `json:"volatility,omitempty"`
	Intent     *model.OrderIntent `json:"intent,omitempty"`
	Order      *model.OrderResult `json:"order,omitempty"`
}

// SignalRouter 负责把一条文本信号变成一次下单或平仓
type SignalRouter struct {
	exchange    execution.Exchange
	estimator   *VolatilityEstimator
	sizer       *Sizer
	symbol      string
	marginAsset string
	logger      *zap.Logger
}

func NewSignalRouter(
	exchange execution.Exchange,
	estimator *VolatilityEstimator,
	sizer *Sizer,
	symbol, marginAsset string,
	logger *zap.Logger,
) *SignalRouter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SignalRouter{
		exchange:    exchange,
		estimator:   estimator,
		sizer:       sizer,
		symbol:      symbol,
		marginAsset: marginAsset,
		logger:      logger,
	}
}

// Route 处理一条原始信号。不可操作的信号返回 Status=ignored 而不是 error。
func (r *SignalRouter) Route(ctx context.Context, raw string) (*Outcome, error) {
	requestID := uuid.NewString()
	log := r.logger.With(zap.String("request_id", requestID))

	sig, err := ParseSignal(raw)
	if err != nil {
		log.Warn("Malformed signal", zap.String("raw", raw), zap.Error(err))
		service.SignalsTotal.WithLabelValues("MALFORMED", StatusError).Inc()
		return nil, err
	}
	log.Info("Signal received", zap.Stringer("signal", sig))

	out := &Outcome{Action: sig.Action, RequestID: requestID}
	switch sig.Action {
	case model.ActionIgnore:
		out.Status, out.Reason = StatusIgnored, sig.Reason
	case model.ActionCloseLong, model.ActionCloseShort:
		err = r.close(ctx, sig, out, log)
	default:
		err = r.open(ctx, sig, out, log)
	}

	if err != nil {
		service.SignalsTotal.WithLabelValues(string(sig.Action), StatusError).Inc()
		log.Error("Signal failed", zap.String("action", string(sig.Action)), zap.Error(err))
		return nil, err
	}
	service.SignalsTotal.WithLabelValues(string(sig.Action), out.Status).Inc()
	log.Info("Signal handled", zap.String("status", out.Status), zap.String("reason", out.Reason))
	return out, nil
}

func (r *SignalRouter) open(ctx context.Context, sig model.Signal, out *Outcome, log *zap.Logger) error {
	var price, balance decimal.Decimal

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		price, err = r.exchange.GetLastPrice(gctx, r.symbol)
		return err
	})
	g.Go(func() error {
		var err error
		balance, err = r.exchange.GetAvailableBalance(gctx, r.symbol, r.marginAsset)
		return err
	})
	if err := g.Wait(); err != nil {
		return err
	}

	vol, err := r.estimator.Estimate(ctx, r.symbol, sig.Volatility)
	if err != nil {
		return err
	}
	out.Volatility = vol.String()

	intent, err := r.sizer.Plan(r.symbol, r.marginAsset, sig.Direction(), balance, price, vol)
	if errors.Is(err, ErrSkipOrder) {
		log.Warn("Order size rounds to zero",
			zap.String("balance", balance.String()),
			zap.String("price", price.String()))
		out.Status, out.Reason = StatusIgnored, err.Error()
		return nil
	}
	if err != nil {
		return err
	}
	out.Intent = &intent

	res, err := r.exchange.SubmitOrder(ctx, intent)
	if err != nil {
		return err
	}
	out.Order = res
	if !res.Success {
		return &model.OrderRejectedError{Exchange: res.Exchange, Code: res.Code, Message: res.Message}
	}
	out.Status = StatusSuccess
	return nil
}

func (r *SignalRouter) close(ctx context.Context, sig model.Signal, out *Outcome, log *zap.Logger) error {
	res, err := r.exchange.ClosePosition(ctx, r.symbol, sig.Direction())
	if errors.Is(err, execution.ErrNoPosition) {
		log.Info("Nothing to close", zap.String("side", sig.Direction().String()))
		out.Status, out.Reason = StatusIgnored, err.Error()
		return nil
	}
	if err != nil {
		return err
	}
	out.Order = res
	if !res.Success {
		return &model.OrderRejectedError{Exchange: res.Exchange, Code: res.Code, Message: res.Message}
	}
	out.Status = StatusSuccess
	return nil
}
