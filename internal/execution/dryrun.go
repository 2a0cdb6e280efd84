package execution

import (
	"context"
	"fmt"
	"sync"

	"signal-relay/internal/model"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// dryRunPosition 本地记录的模拟持仓
type dryRunPosition struct {
	Size     decimal.Decimal
	AvgPrice decimal.Decimal
	StopLoss decimal.Decimal
}

// DryRunExchange 行情和余额走真实交易所，下单和平仓只在本地记账并打印日志
type DryRunExchange struct {
	inner  Exchange
	name   string
	logger *zap.Logger

	mu        sync.Mutex
	positions map[string]*dryRunPosition // key: symbol/side
	seq       int
}

var _ Exchange = (*DryRunExchange)(nil)

// NewDryRunExchange 包装一个真实的 Exchange
func NewDryRunExchange(inner Exchange, name string, logger *zap.Logger) *DryRunExchange {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DryRunExchange{
		inner:     inner,
		name:      name,
		logger:    logger.With(zap.Bool("dry_run", true)),
		positions: make(map[string]*dryRunPosition),
	}
}

func positionKey(symbol string, side model.Direction) string {
	return symbol + "/" + side.String()
}

func (d *DryRunExchange) GetLastPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	return d.inner.GetLastPrice(ctx, symbol)
}

func (d *DryRunExchange) GetAvailableBalance(ctx context.Context, symbol, marginAsset string) (decimal.Decimal, error) {
	return d.inner.GetAvailableBalance(ctx, symbol, marginAsset)
}

// SubmitOrder 与真实下单做相同的本地校验，然后按参考价记一笔成交
func (d *DryRunExchange) SubmitOrder(_ context.Context, intent model.OrderIntent) (*model.OrderResult, error) {
	if err := validateIntent(intent); err != nil {
		return nil, err
	}
	if intent.ClientOrderID == "" {
		intent.ClientOrderID = NewClientOrderID()
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	key := positionKey(intent.Symbol, intent.Side)
	pos, ok := d.positions[key]
	if !ok {
		pos = &dryRunPosition{}
		d.positions[key] = pos
	}
	// 加仓时按数量加权计算均价
	total := pos.Size.Add(intent.Size)
	pos.AvgPrice = pos.AvgPrice.Mul(pos.Size).Add(intent.EntryPrice.Mul(intent.Size)).Div(total)
	pos.Size = total
	pos.StopLoss = intent.StopLossPrice

	d.seq++
	result := &model.OrderResult{
		Exchange:      d.name,
		Success:       true,
		Code:          "DRY_RUN",
		OrderID:       fmt.Sprintf("dry-%d", d.seq),
		ClientOrderID: intent.ClientOrderID,
	}
	if intent.TrailingRate.IsPositive() {
		result.TrailingOrderID = result.OrderID + "-trail"
	}

	d.logger.Info("Dry-run order filled",
		zap.Stringer("intent", intent),
		zap.String("order_id", result.OrderID),
		zap.String("position_size", pos.Size.String()),
		zap.String("avg_price", pos.AvgPrice.String()))
	return result, nil
}

// ClosePosition 只平本地记录的模拟持仓
func (d *DryRunExchange) ClosePosition(_ context.Context, symbol string, side model.Direction) (*model.OrderResult, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	key := positionKey(symbol, side)
	pos, ok := d.positions[key]
	if !ok || !pos.Size.IsPositive() {
		return nil, ErrNoPosition
	}
	delete(d.positions, key)

	d.seq++
	result := &model.OrderResult{
		Exchange: d.name,
		Success:  true,
		Code:     "DRY_RUN",
		OrderID:  fmt.Sprintf("dry-%d", d.seq),
	}
	d.logger.Info("Dry-run position closed",
		zap.String("symbol", symbol),
		zap.String("side", side.String()),
		zap.String("size", pos.Size.String()),
		zap.String("avg_price", pos.AvgPrice.String()))
	return result, nil
}

// PositionSize 当前模拟持仓数量
func (d *DryRunExchange) PositionSize(symbol string, side model.Direction) decimal.Decimal {
	d.mu.Lock()
	defer d.mu.Unlock()
	if pos, ok := d.positions[positionKey(symbol, side)]; ok {
		return pos.Size
	}
	return decimal.Zero
}
