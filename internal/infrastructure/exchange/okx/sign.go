package okx

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
)

// Credentials OKX API 凭证与签名
type Credentials struct {
	apiKey     string
	apiSecret  string
	passphrase string
}

func NewCredentials(apiKey, apiSecret, passphrase string) *Credentials {
	return &Credentials{apiKey: apiKey, apiSecret: apiSecret, passphrase: passphrase}
}

// Sign OKX 签名: BASE64(HMAC-SHA256(timestamp + method + requestPath + body, secretKey))
func (c *Credentials) Sign(data string) string {
	h := hmac.New(sha256.New, []byte(c.apiSecret))
	h.Write([]byte(data))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

func (c *Credentials) APIKey() string     { return c.apiKey }
func (c *Credentials) Passphrase() string { return c.passphrase }
