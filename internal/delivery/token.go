package delivery

import (
	"crypto/sha256"
	"encoding/hex"
)

// IdempotencyToken derives a stable identity for one rendered message from
// its recipient and content. Replaying the same batch produces the same token,
// which the delivery log uses to refuse a second send.
func IdempotencyToken(recipient string, subject string, body string) string {
	h := sha256.New()
	h.Write([]byte(recipient))
	h.Write([]byte{0})
	h.Write([]byte(subject))
	h.Write([]byte{0})
	h.Write([]byte(body))
	return hex.EncodeToString(h.Sum(nil))
}
