package execution

import (
	"context"
	"testing"

	"signal-relay/internal/model"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubExchange struct {
	price, balance decimal.Decimal
	orders, closes int
}

func (s *stubExchange) GetLastPrice(context.Context, string) (decimal.Decimal, error) {
	return s.price, nil
}

func (s *stubExchange) GetAvailableBalance(context.Context, string, string) (decimal.Decimal, error) {
	return s.balance, nil
}

func (s *stubExchange) SubmitOrder(context.Context, model.OrderIntent) (*model.OrderResult, error) {
	s.orders++
	return &model.OrderResult{Success: true}, nil
}

func (s *stubExchange) ClosePosition(context.Context, string, model.Direction) (*model.OrderResult, error) {
	s.closes++
	return &model.OrderResult{Success: true}, nil
}

func TestDryRun_ForwardsReadsAndKeepsOrdersLocal(t *testing.T) {
	inner := &stubExchange{price: decimal.NewFromInt(50000), balance: decimal.NewFromInt(100000)}
	d := NewDryRunExchange(inner, "gmo", nil)
	ctx := context.Background()

	px, err := d.GetLastPrice(ctx, "BTC_JPY")
	require.NoError(t, err)
	assert.True(t, px.Equal(inner.price))

	bal, err := d.GetAvailableBalance(ctx, "BTC_JPY", "JPY")
	require.NoError(t, err)
	assert.True(t, bal.Equal(inner.balance))

	_, err = d.ClosePosition(ctx, "BTC_JPY", model.DirLong)
	require.ErrorIs(t, err, ErrNoPosition)

	first := gmoIntent()
	res, err := d.SubmitOrder(ctx, first)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "DRY_RUN", res.Code)
	assert.NotEmpty(t, res.ClientOrderID)

	second := gmoIntent()
	second.EntryPrice = decimal.NewFromInt(52000)
	second.StopLossPrice = decimal.NewFromInt(50700)
	_, err = d.SubmitOrder(ctx, second)
	require.NoError(t, err)
	assert.Equal(t, "0.28", d.PositionSize("BTC_JPY", model.DirLong).String())

	closed, err := d.ClosePosition(ctx, "BTC_JPY", model.DirLong)
	require.NoError(t, err)
	assert.True(t, closed.Success)
	assert.True(t, d.PositionSize("BTC_JPY", model.DirLong).IsZero())

	assert.Zero(t, inner.orders)
	assert.Zero(t, inner.closes)
}

func TestDryRun_ValidatesIntent(t *testing.T) {
	d := NewDryRunExchange(&stubExchange{}, "okx", nil)
	bad := gmoIntent()
	bad.Size = decimal.NewFromInt(-1)
	_, err := d.SubmitOrder(context.Background(), bad)
	var invalid *model.InvalidIntentError
	assert.ErrorAs(t, err, &invalid)
}
