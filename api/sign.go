package api

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"

	"github.com/google/uuid"
)

// Signature computes the hex-encoded HMAC-SHA256 over the
// timestamp\nnonce\ndata composition keyed with the client secret.
func Signature(secret, timestamp, nonce, data string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp + "\n" + nonce + "\n" + data))
	return hex.EncodeToString(mac.Sum(nil))
}

func newNonce() string {
	return uuid.NewString()
}
