package shopify

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
)

const HmacHeader = "X-Shopify-Hmac-Sha256"

// ValidateWebhook checks the base64 HMAC-SHA256 signature Shopify sends with
// every webhook against the raw request body.
func ValidateWebhook(payload []byte, signature, secret string) bool {
	if signature == "" || secret == "" {
		return false
	}
	expected, err := base64.StdEncoding.DecodeString(signature)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hmac.Equal(mac.Sum(nil), expected)
}

// SignWebhook returns the signature Shopify would send for payload.
func SignWebhook(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
