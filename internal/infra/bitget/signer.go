package bitget

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"strconv"
	"time"
)

// Signer handles Bitget V2 API authentication.
// Keys are stored as []byte so Wipe can clear them.
type Signer struct {
	accessKey  []byte
	secretKey  []byte
	passphrase []byte
	now        func() time.Time
}

func NewSigner(accessKey, secretKey, passphrase string) *Signer {
	return &Signer{
		accessKey:  []byte(accessKey),
		secretKey:  []byte(secretKey),
		passphrase: []byte(passphrase),
		now:        time.Now,
	}
}

// Wipe clears the keys from memory.
func (s *Signer) Wipe() {
	if s == nil {
		return
	}
	s.wipeSlice(s.accessKey)
	s.wipeSlice(s.secretKey)
	s.wipeSlice(s.passphrase)
}

func (s *Signer) wipeSlice(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// GenerateHeaders creates the request headers for a REST call.
// query is the raw query string without the leading '?'.
func (s *Signer) GenerateHeaders(method, path, query, body string) map[string]string {
	timestamp := strconv.FormatInt(s.now().UnixMilli(), 10)

	return map[string]string{
		"ACCESS-KEY":        string(s.accessKey),
		"ACCESS-SIGN":       s.Sign(timestamp, method, path, query, body),
		"ACCESS-TIMESTAMP":  timestamp,
		"ACCESS-PASSPHRASE": string(s.passphrase),
		"Content-Type":      "application/json",
		"locale":            "en-US",
	}
}

// Sign computes base64(HMAC-SHA256(timestamp + method + path + ["?" + query] + body)).
func (s *Signer) Sign(timestamp, method, path, query, body string) string {
	payload := timestamp + method + path
	if query != "" {
		payload += "?" + query
	}
	return s.computeHmacSha256(payload + body)
}

// LoginArg builds the private stream login payload. Bitget expects a seconds timestamp here.
func (s *Signer) LoginArg() loginArg {
	timestamp := strconv.FormatInt(s.now().Unix(), 10)
	return loginArg{
		APIKey:     string(s.accessKey),
		Passphrase: string(s.passphrase),
		Timestamp:  timestamp,
		Sign:       s.Sign(timestamp, "GET", "/user/verify", "", ""),
	}
}

func (s *Signer) computeHmacSha256(payload string) string {
	mac := hmac.New(sha256.New, s.secretKey)
	mac.Write([]byte(payload))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
