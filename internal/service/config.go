// internal/service/config.go
package service

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"signal-relay/internal/model"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Exchange   ExchangeConfig   `mapstructure:"Exchange"`
	Instrument InstrumentConfig `mapstructure:"Instrument"`
	Risk       RiskConfig       `mapstructure:"Risk"`
	Volatility VolatilityConfig `mapstructure:"Volatility"`
	Server     ServerConfig     `mapstructure:"Server"`
	Log        LogConfig        `mapstructure:"Log"`
}

// ExchangeConfig 定义了交易所的连接信息
type ExchangeConfig struct {
	Name             string // gmo / bitget / okx
	APIKey           string
	SecretKey        string
	Passphrase       string // Bitget / Okx 独有
	RESTURL          string
	WSURL            string
	Timeout          time.Duration // 单次请求超时
	UseServerTime    bool          // 用交易所服务器时间生成签名时间戳
	TimeSyncInterval time.Duration
	DryRun           bool // 只记录订单，不真正下单
	Demo             bool // Okx 模拟盘
}

// InstrumentConfig 定义了交易对和精度
type InstrumentConfig struct {
	Symbol         string
	MarginAsset    string // 保证金币种，例如 JPY / USDT
	ProductType    string // Bitget: USDT-FUTURES
	MarginMode     string // cross / isolated
	SizePrecision  int32  // 下单数量小数位 (最小下单单位)
	PricePrecision int32  // 价格小数位
	RatePrecision  int32  // 回调比例小数位
}

// RiskConfig 定义了仓位和止损参数
type RiskConfig struct {
	RiskRatio          float64 // 单笔投入的可用资金比例 (杠杆前)
	Leverage           int
	StopLossPct        float64 // 止损距离，0.025 = 2.5%
	TrailingMultiplier float64 // 追踪止损宽度 = 波动率 * 倍数
	TrailingFloor      float64 // 追踪止损最小宽度 (价格单位)
	TrailingMode       string  // width / rate
}

// VolatilityConfig 定义了波动率估算方式
type VolatilityConfig struct {
	Source    string // rest / stream
	Method    string // range / atr
	Interval  string // K 线周期，例如 "1m"
	Window    int    // 参与计算的 K 线数量
	ATRPeriod int
}

// ServerConfig 定义了 webhook 服务
type ServerConfig struct {
	Addr            string
	Path            string
	Token           string // 非空时要求 ?token= 或 X-Relay-Token
	SignalTimeout   time.Duration
	ShutdownTimeout time.Duration
}

// LogConfig 定义了日志输出
type LogConfig struct {
	Level      string
	File       string // 为空则只输出到控制台
	MaxSize    int    // MB
	MaxBackups int
	MaxAge     int // 天
	Compress   bool
}

var exchangeEndpoints = map[string][2]string{
	"gmo":    {"https://api.coin.z.com", "wss://api.coin.z.com/ws/public/v1"},
	"bitget": {"https://api.bitget.com", "wss://ws.bitget.com/v2/ws/public"},
	"okx":    {"https://www.okx.com", "wss://ws.okx.com:8443/ws/v5/public"},
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("Exchange.Name", "gmo")
	v.SetDefault("Exchange.APIKey", "")
	v.SetDefault("Exchange.SecretKey", "")
	v.SetDefault("Exchange.Passphrase", "")
	v.SetDefault("Exchange.RESTURL", "")
	v.SetDefault("Exchange.WSURL", "")
	v.SetDefault("Exchange.Timeout", "10s")
	v.SetDefault("Exchange.UseServerTime", false)
	v.SetDefault("Exchange.TimeSyncInterval", "10m")
	v.SetDefault("Exchange.DryRun", false)
	v.SetDefault("Exchange.Demo", false)

	v.SetDefault("Instrument.Symbol", "BTC_JPY")
	v.SetDefault("Instrument.MarginAsset", "JPY")
	v.SetDefault("Instrument.ProductType", "USDT-FUTURES")
	v.SetDefault("Instrument.MarginMode", "cross")
	v.SetDefault("Instrument.SizePrecision", 2)
	v.SetDefault("Instrument.PricePrecision", 0)
	v.SetDefault("Instrument.RatePrecision", 4)

	v.SetDefault("Risk.RiskRatio", 0.35)
	v.SetDefault("Risk.Leverage", 2)
	v.SetDefault("Risk.StopLossPct", 0.025)
	v.SetDefault("Risk.TrailingMultiplier", 1.5)
	v.SetDefault("Risk.TrailingFloor", 1500)
	v.SetDefault("Risk.TrailingMode", "")

	v.SetDefault("Volatility.Source", "rest")
	v.SetDefault("Volatility.Method", "range")
	v.SetDefault("Volatility.Interval", "1m")
	v.SetDefault("Volatility.Window", 60)
	v.SetDefault("Volatility.ATRPeriod", 14)

	v.SetDefault("Server.Addr", ":5000")
	v.SetDefault("Server.Path", "/webhook")
	v.SetDefault("Server.Token", "")
	v.SetDefault("Server.SignalTimeout", "30s")
	v.SetDefault("Server.ShutdownTimeout", "10s")

	v.SetDefault("Log.Level", "info")
	v.SetDefault("Log.File", "")
	v.SetDefault("Log.MaxSize", 100)
	v.SetDefault("Log.MaxBackups", 5)
	v.SetDefault("Log.MaxAge", 30)
	v.SetDefault("Log.Compress", true)
}

// LoadConfig 读取 config/config.yaml，并用环境变量覆盖 (RELAY_EXCHANGE_APIKEY 等)。
// 配置文件不存在时只使用默认值和环境变量。
func LoadConfig(configPath string) (*Config, error) {
	// .env 不存在不是错误
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configPath)

	v.SetEnvPrefix("RELAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// 凭证同时接受通用的环境变量名
	_ = v.BindEnv("Exchange.APIKey", "RELAY_EXCHANGE_APIKEY", "API_KEY")
	_ = v.BindEnv("Exchange.SecretKey", "RELAY_EXCHANGE_SECRETKEY", "API_SECRET")
	_ = v.BindEnv("Exchange.Passphrase", "RELAY_EXCHANGE_PASSPHRASE", "API_PASSPHRASE")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}

	cfg.applyExchangeDefaults()
	return &cfg, nil
}

func (c *Config) applyExchangeDefaults() {
	c.Exchange.Name = strings.ToLower(strings.TrimSpace(c.Exchange.Name))
	if ep, ok := exchangeEndpoints[c.Exchange.Name]; ok {
		if c.Exchange.RESTURL == "" {
			c.Exchange.RESTURL = ep[0]
		}
		if c.Exchange.WSURL == "" {
			c.Exchange.WSURL = ep[1]
		}
	}
	// "60m" 统一成 "1h"，与各交易所 K 线周期参数对齐
	if d, err := ParseIntervalDuration(c.Volatility.Interval); err == nil {
		c.Volatility.Interval = FormatInterval(d)
	}
	if c.Risk.TrailingMode == "" {
		// GMO 的 trailWidth 是价差，Bitget / Okx 的追踪委托用回调比例
		if c.Exchange.Name == "gmo" {
			c.Risk.TrailingMode = string(model.TrailingWidth)
		} else {
			c.Risk.TrailingMode = string(model.TrailingRate)
		}
	}
}

// Credentials 从配置中取出交易所凭证
func (c *Config) Credentials() model.Credentials {
	return model.Credentials{
		Key:        c.Exchange.APIKey,
		Secret:     c.Exchange.SecretKey,
		Passphrase: c.Exchange.Passphrase,
	}
}

// Validate 启动时校验，任何一项不合法都返回 *model.ConfigError
func (c *Config) Validate() error {
	fail := func(field, reason string) error {
		return &model.ConfigError{Field: field, Reason: reason}
	}

	if _, ok := exchangeEndpoints[c.Exchange.Name]; !ok {
		return fail("Exchange.Name", fmt.Sprintf("unsupported exchange %q", c.Exchange.Name))
	}
	if c.Exchange.APIKey == "" {
		return fail("Exchange.APIKey", "missing API key (RELAY_EXCHANGE_APIKEY or API_KEY)")
	}
	if c.Exchange.SecretKey == "" {
		return fail("Exchange.SecretKey", "missing API secret (RELAY_EXCHANGE_SECRETKEY or API_SECRET)")
	}
	if c.Exchange.Name != "gmo" && c.Exchange.Passphrase == "" {
		return fail("Exchange.Passphrase", c.Exchange.Name+" requires a passphrase (RELAY_EXCHANGE_PASSPHRASE or API_PASSPHRASE)")
	}
	if c.Exchange.Timeout <= 0 {
		return fail("Exchange.Timeout", "must be positive")
	}

	if c.Instrument.Symbol == "" {
		return fail("Instrument.Symbol", "must not be empty")
	}
	if c.Exchange.Name != "gmo" && c.Instrument.MarginAsset == "" {
		return fail("Instrument.MarginAsset", "must not be empty")
	}
	if c.Instrument.SizePrecision < 0 || c.Instrument.PricePrecision < 0 || c.Instrument.RatePrecision < 0 {
		return fail("Instrument", "precisions must not be negative")
	}

	if c.Risk.RiskRatio <= 0 || c.Risk.RiskRatio > 1 {
		return fail("Risk.RiskRatio", "must be in (0, 1]")
	}
	if c.Risk.Leverage < 1 {
		return fail("Risk.Leverage", "must be >= 1")
	}
	if c.Risk.StopLossPct <= 0 || c.Risk.StopLossPct >= 1 {
		return fail("Risk.StopLossPct", "must be in (0, 1)")
	}
	if c.Risk.TrailingMultiplier < 0 {
		return fail("Risk.TrailingMultiplier", "must not be negative")
	}
	if c.Risk.TrailingFloor <= 0 {
		return fail("Risk.TrailingFloor", "must be positive")
	}
	switch model.TrailingMode(c.Risk.TrailingMode) {
	case model.TrailingWidth, model.TrailingRate:
	default:
		return fail("Risk.TrailingMode", fmt.Sprintf("unsupported mode %q", c.Risk.TrailingMode))
	}

	switch c.Volatility.Source {
	case "rest", "stream":
	default:
		return fail("Volatility.Source", fmt.Sprintf("unsupported source %q", c.Volatility.Source))
	}
	switch c.Volatility.Method {
	case "range", "atr":
	default:
		return fail("Volatility.Method", fmt.Sprintf("unsupported method %q", c.Volatility.Method))
	}
	if _, err := ParseIntervalDuration(c.Volatility.Interval); err != nil {
		return fail("Volatility.Interval", err.Error())
	}
	if c.Volatility.Window < 1 {
		return fail("Volatility.Window", "must be >= 1")
	}
	if c.Volatility.Method == "atr" && (c.Volatility.ATRPeriod < 1 || c.Volatility.ATRPeriod >= c.Volatility.Window) {
		return fail("Volatility.ATRPeriod", "must be >= 1 and smaller than Volatility.Window")
	}

	if !strings.HasPrefix(c.Server.Path, "/") {
		return fail("Server.Path", "must start with /")
	}
	return nil
}
