package execution

import (
	"context"
	"errors"

	"signal-relay/internal/model"

	"github.com/shopspring/decimal"
)

// ErrNoPosition 平仓信号到达时没有对应方向的持仓
var ErrNoPosition = errors.New("no open position to close")

// Exchange 是交易所客户端的通用接口，负责与交易所通信
type Exchange interface {
	// GetLastPrice 查询最新成交价 (公共接口)
	GetLastPrice(ctx context.Context, symbol string) (decimal.Decimal, error)

	// GetAvailableBalance 查询可用保证金 (私有接口)
	GetAvailableBalance(ctx context.Context, symbol, marginAsset string) (decimal.Decimal, error)

	// SubmitOrder 下单，结果是否成功以交易所业务状态码为准
	SubmitOrder(ctx context.Context, intent model.OrderIntent) (*model.OrderResult, error)

	// ClosePosition 市价平掉指定方向的持仓
	ClosePosition(ctx context.Context, symbol string, side model.Direction) (*model.OrderResult, error)
}
