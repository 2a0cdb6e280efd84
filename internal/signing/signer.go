package signing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"

	"signal-relay/internal/model"
)

// Sign 计算 HMAC-SHA256 签名
func Sign(secret, prehash string, enc Encoding) (string, error) {
	if secret == "" {
		return "", &model.ConfigError{Field: "Exchange.SecretKey", Reason: "API secret is empty"}
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(prehash))
	sum := mac.Sum(nil)

	if enc == EncodingBase64 {
		return base64.StdEncoding.EncodeToString(sum), nil
	}
	return hex.EncodeToString(sum), nil
}

// Signer 负责生成私有接口的鉴权请求头
type Signer struct {
	scheme Scheme
	creds  model.Credentials
	clock  Clock
}

// NewSigner 缺少 key/secret (或该交易所需要的 passphrase) 时直接返回配置错误
func NewSigner(scheme Scheme, creds model.Credentials, clock Clock) (*Signer, error) {
	if creds.Key == "" {
		return nil, &model.ConfigError{Field: "Exchange.APIKey", Reason: "API key is empty"}
	}
	if creds.Secret == "" {
		return nil, &model.ConfigError{Field: "Exchange.SecretKey", Reason: "API secret is empty"}
	}
	if scheme.NeedsPassphrase() && creds.Passphrase == "" {
		return nil, &model.ConfigError{Field: "Exchange.Passphrase", Reason: scheme.Name + " requires a passphrase"}
	}
	if clock == nil {
		clock = LocalClock{}
	}
	return &Signer{scheme: scheme, creds: creds, clock: clock}, nil
}

// Scheme 返回签名规则
func (s *Signer) Scheme() Scheme {
	return s.scheme
}

// APIKey 返回打码后的 key，仅用于日志
func (s *Signer) APIKey() string {
	return model.MaskKey(s.creds.Key)
}

// BuildHeaders 生成完整的请求头。body 必须与实际发送的字节完全一致。
func (s *Signer) BuildHeaders(method, path, query, body string) (map[string]string, error) {
	ts := s.scheme.FormatTimestamp(s.clock.Now())
	sign, err := Sign(s.creds.Secret, s.scheme.Prehash(ts, method, path, query, body), s.scheme.Encoding)
	if err != nil {
		return nil, err
	}

	headers := make(map[string]string, 6+len(s.scheme.ExtraHeaders))
	headers[s.scheme.KeyHeader] = s.creds.Key
	headers[s.scheme.SignHeader] = sign
	headers[s.scheme.TimestampHeader] = ts
	if s.scheme.NeedsPassphrase() {
		headers[s.scheme.PassphraseHeader] = s.creds.Passphrase
	}
	for k, v := range s.scheme.ExtraHeaders {
		headers[k] = v
	}
	headers["Content-Type"] = "application/json"
	return headers, nil
}
