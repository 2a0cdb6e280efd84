package strategy

import (
	"regexp"
	"strings"

	"signal-relay/internal/model"

	"github.com/shopspring/decimal"
)

var (
	volToken  = regexp.MustCompile(`(?i)\bVOL\s*=\s*([^\s,;]*)`)
	wordToken = regexp.MustCompile(`[A-Za-z]+`)
)

// ParseSignal 解析 TradingView 风格的纯文本信号，例如 "BUY VOL=250.5"、"close long"。
// 无法识别或有歧义的信号返回 IGNORE，不是 error；只有 VOL= 无法解析时才返回 error。
func ParseSignal(raw string) (model.Signal, error) {
	sig := model.Signal{Action: model.ActionIgnore, Raw: raw}

	if m := volToken.FindStringSubmatch(raw); m != nil {
		vol, err := decimal.NewFromString(strings.TrimRight(m[1], "."))
		if err != nil {
			return sig, &model.MalformedSignalError{Token: m[0], Err: err}
		}
		if vol.IsNegative() {
			return sig, &model.MalformedSignalError{Token: m[0]}
		}
		sig.Volatility = &vol
	}
	// VOL= 的值不参与关键字匹配
	text := volToken.ReplaceAllString(raw, " ")

	words := make(map[string]bool)
	for _, w := range wordToken.FindAllString(text, -1) {
		words[strings.ToUpper(w)] = true
	}

	buy := words["BUY"] || words["LONG"]
	sell := words["SELL"] || words["SHORT"]
	closing := words["CLOSE"] || words["EXIT"] || words["TRAILSTOP"] || (words["TRAIL"] && words["STOP"])

	switch {
	case buy && sell:
		sig.Reason = "ambiguous direction"
	case closing && buy:
		sig.Action = model.ActionCloseLong
	case closing && sell:
		sig.Action = model.ActionCloseShort
	case closing:
		sig.Reason = "close signal without direction"
	case words["BUY"]:
		sig.Action = model.ActionBuy
	case words["SELL"]:
		sig.Action = model.ActionSell
	default:
		sig.Reason = "no recognised keyword"
	}
	return sig, nil
}
