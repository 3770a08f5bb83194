package webhookx

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// SignatureHeader carries the hex-encoded HMAC of the request body.
const SignatureHeader = "X-Webhook-Signature"

// Sign computes the hex-encoded HMAC-SHA256 of body under secret. The raw
// request body is signed as sent, byte for byte.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature recomputes the HMAC and compares in constant time, so
// verification leaks nothing about the expected value. Exposed so
// integrators can self-test their receiving side.
func VerifySignature(body []byte, signature, secret string) bool {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)

	provided, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	return hmac.Equal(mac.Sum(nil), provided)
}
