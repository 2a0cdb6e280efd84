package signing

import (
	"strconv"
	"strings"
	"time"
)

// Encoding 签名结果的编码方式，由交易所固定，不允许运行时切换
type Encoding int

const (
	EncodingHex Encoding = iota
	EncodingBase64
)

// TimestampFormat 签名时间戳格式
type TimestampFormat int

const (
	TimestampMillis  TimestampFormat = iota // 毫秒时间戳字符串，例如 "1700000000000"
	TimestampISO8601                        // 例如 "2020-12-08T09:08:57.715Z" (Okx)
)

// Scheme 描述一个交易所的签名规则。
// 不同交易所在 query 是否参与签名、路径前缀、编码和请求头名称上各有差异。
type Scheme struct {
	Name             string
	KeyHeader        string
	SignHeader       string
	TimestampHeader  string
	PassphraseHeader string // 为空表示该交易所不需要 passphrase
	IncludeQuery     bool   // query 是否拼进签名串
	StripPathPrefix  string // 签名前从路径上去掉的前缀 (GMO 的 "/private")
	Encoding         Encoding
	Timestamp        TimestampFormat
	ExtraHeaders     map[string]string
}

// NeedsPassphrase 该交易所是否要求 passphrase
func (s Scheme) NeedsPassphrase() bool {
	return s.PassphraseHeader != ""
}

// FormatTimestamp 按交易所要求格式化时间戳
func (s Scheme) FormatTimestamp(t time.Time) string {
	if s.Timestamp == TimestampISO8601 {
		return t.UTC().Format("2006-01-02T15:04:05.000Z")
	}
	return strconv.FormatInt(t.UnixMilli(), 10)
}

// Prehash 构建签名原文: timestamp + METHOD + path [+ "?" + query] + body
func (s Scheme) Prehash(timestamp, method, path, query, body string) string {
	signPath := path
	if s.StripPathPrefix != "" {
		signPath = strings.TrimPrefix(path, s.StripPathPrefix)
	}

	var b strings.Builder
	b.Grow(len(timestamp) + len(method) + len(signPath) + len(query) + len(body) + 1)
	b.WriteString(timestamp)
	b.WriteString(strings.ToUpper(method))
	b.WriteString(signPath)
	if s.IncludeQuery && query != "" {
		b.WriteByte('?')
		b.WriteString(query)
	}
	b.WriteString(body)
	return b.String()
}

// GMOScheme GMO コイン: 十六进制签名，query 不参与签名，签名路径不含 "/private"
func GMOScheme() Scheme {
	return Scheme{
		Name:            "gmo",
		KeyHeader:       "API-KEY",
		SignHeader:      "API-SIGN",
		TimestampHeader: "API-TIMESTAMP",
		IncludeQuery:    false,
		StripPathPrefix: "/private",
		Encoding:        EncodingHex,
		Timestamp:       TimestampMillis,
	}
}

// BitgetScheme Bitget V2: base64 签名，query 参与签名，毫秒时间戳
func BitgetScheme() Scheme {
	return Scheme{
		Name:             "bitget",
		KeyHeader:        "ACCESS-KEY",
		SignHeader:       "ACCESS-SIGN",
		TimestampHeader:  "ACCESS-TIMESTAMP",
		PassphraseHeader: "ACCESS-PASSPHRASE",
		IncludeQuery:     true,
		Encoding:         EncodingBase64,
		Timestamp:        TimestampMillis,
		ExtraHeaders:     map[string]string{"locale": "en-US"},
	}
}

// OkxScheme Okx V5: base64 签名，query 参与签名，ISO8601 时间戳。
// demo 为 true 时附带模拟盘请求头。
func OkxScheme(demo bool) Scheme {
	s := Scheme{
		Name:             "okx",
		KeyHeader:        "OK-ACCESS-KEY",
		SignHeader:       "OK-ACCESS-SIGN",
		TimestampHeader:  "OK-ACCESS-TIMESTAMP",
		PassphraseHeader: "OK-ACCESS-PASSPHRASE",
		IncludeQuery:     true,
		Encoding:         EncodingBase64,
		Timestamp:        TimestampISO8601,
	}
	if demo {
		s.ExtraHeaders = map[string]string{"x-simulated-trading": "1"}
	}
	return s
}
