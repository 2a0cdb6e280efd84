package model

import "fmt"

// ConfigError 配置缺失或非法，启动阶段直接退出
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config error: %s: %s", e.Field, e.Reason)
}

// AuthError 交易所拒绝了签名或 API Key
type AuthError struct {
	Exchange string
	Code     string
	Message  string
	Method   string
	Path     string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("%s auth rejected (%s %s): code=%s msg=%s", e.Exchange, e.Method, e.Path, e.Code, e.Message)
}

// APIError 非鉴权类的业务错误码
type APIError struct {
	Exchange string
	Code     string
	Message  string
	Path     string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s api error on %s: code=%s msg=%s", e.Exchange, e.Path, e.Code, e.Message)
}

// MarketDataError 行情响应缺字段或无法解析
type MarketDataError struct {
	Exchange string
	Field    string
	Err      error
}

func (e *MarketDataError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s market data: %s: %v", e.Exchange, e.Field, e.Err)
	}
	return fmt.Sprintf("%s market data: missing %s", e.Exchange, e.Field)
}

func (e *MarketDataError) Unwrap() error { return e.Err }

// MarginDataError 余额响应缺字段或无法解析
type MarginDataError struct {
	Exchange string
	Field    string
	Err      error
}

func (e *MarginDataError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s margin data: %s: %v", e.Exchange, e.Field, e.Err)
	}
	return fmt.Sprintf("%s margin data: missing %s", e.Exchange, e.Field)
}

func (e *MarginDataError) Unwrap() error { return e.Err }

// InsufficientDataError K 线数量不足以计算波动率
type InsufficientDataError struct {
	Need int
	Got  int
}

func (e *InsufficientDataError) Error() string {
	return fmt.Sprintf("insufficient candle data: need %d, got %d", e.Need, e.Got)
}

// MalformedSignalError VOL= 之类的 token 无法解析
type MalformedSignalError struct {
	Token string
	Err   error
}

func (e *MalformedSignalError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("malformed signal token %q: %v", e.Token, e.Err)
	}
	return fmt.Sprintf("malformed signal token %q", e.Token)
}

func (e *MalformedSignalError) Unwrap() error { return e.Err }

// OrderRejectedError 签名通过，但交易所拒绝了订单条款
type OrderRejectedError struct {
	Exchange string
	Code     string
	Message  string
	OrderID  string // 追踪止损单失败时，主单可能已经成交
}

func (e *OrderRejectedError) Error() string {
	if e.OrderID != "" {
		return fmt.Sprintf("%s rejected order (main order %s is live): code=%s msg=%s", e.Exchange, e.OrderID, e.Code, e.Message)
	}
	return fmt.Sprintf("%s rejected order: code=%s msg=%s", e.Exchange, e.Code, e.Message)
}

// InvalidIntentError 本地计算出的下单参数违反约束 (例如止损价不在保护方向)
type InvalidIntentError struct {
	Field  string
	Reason string
}

func (e *InvalidIntentError) Error() string {
	return fmt.Sprintf("invalid order intent: %s: %s", e.Field, e.Reason)
}
