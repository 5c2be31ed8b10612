package bitget

import (
	"testing"
	"time"
)

func fixedSigner() *Signer {
	s := NewSigner("key", "secret", "pass")
	s.now = func() time.Time { return time.UnixMilli(1700000000123) }
	return s
}

func TestSigner_GenerateHeaders(t *testing.T) {
	signer := fixedSigner()

	headers := signer.GenerateHeaders("POST", "/api/v2/mix/order/place-order", "", `{"symbol":"BTCUSDT"}`)

	if headers["ACCESS-KEY"] != "key" {
		t.Errorf("ACCESS-KEY = %s; want key", headers["ACCESS-KEY"])
	}
	if headers["ACCESS-PASSPHRASE"] != "pass" {
		t.Errorf("ACCESS-PASSPHRASE = %s; want pass", headers["ACCESS-PASSPHRASE"])
	}
	if headers["ACCESS-TIMESTAMP"] != "1700000000123" {
		t.Errorf("ACCESS-TIMESTAMP = %s", headers["ACCESS-TIMESTAMP"])
	}
	want := signer.computeHmacSha256(`1700000000123POST/api/v2/mix/order/place-order{"symbol":"BTCUSDT"}`)
	if headers["ACCESS-SIGN"] != want {
		t.Errorf("ACCESS-SIGN = %s; want %s", headers["ACCESS-SIGN"], want)
	}
}

func TestSigner_QueryIsPrefixed(t *testing.T) {
	signer := fixedSigner()

	got := signer.Sign("1", "GET", "/api/v2/mix/account/accounts", "productType=USDT-FUTURES", "")
	want := signer.computeHmacSha256("1GET/api/v2/mix/account/accounts?productType=USDT-FUTURES")
	if got != want {
		t.Errorf("Sign() = %s; want %s", got, want)
	}
}

func TestSigner_LoginArg(t *testing.T) {
	signer := fixedSigner()

	arg := signer.LoginArg()
	if arg.Timestamp != "1700000000" {
		t.Errorf("Timestamp = %s; want seconds", arg.Timestamp)
	}
	if arg.Sign != signer.computeHmacSha256("1700000000GET/user/verify") {
		t.Errorf("Sign = %s", arg.Sign)
	}
	if arg.APIKey != "key" || arg.Passphrase != "pass" {
		t.Errorf("unexpected credentials in %+v", arg)
	}
}

func TestSigner_Wipe(t *testing.T) {
	signer := NewSigner("key", "secret", "pass")
	signer.Wipe()
	for _, b := range [][]byte{signer.accessKey, signer.secretKey, signer.passphrase} {
		for _, c := range b {
			if c != 0 {
				t.Fatal("key material survived Wipe")
			}
		}
	}
	var nilSigner *Signer
	nilSigner.Wipe()
}

func TestComputeHmacSha256(t *testing.T) {
	// Standard HMAC-SHA256 test vector.
	signer := NewSigner("dummy_access", "key", "dummy_pass")

	result := signer.computeHmacSha256("The quick brown fox jumps over the lazy dog")

	if result != "97yD9DBThCSxMpjmqm+xQ+9NWaFJRhdZl0edvC0aPNg=" {
		t.Errorf("HMAC mismatch, got %s", result)
	}
}
