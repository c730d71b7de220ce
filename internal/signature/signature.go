package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// Prefix identifies the signature scheme on the wire.
const Prefix = "sha256="

// Sign computes the HMAC-SHA256 signature of payload using secret as the
// key and formats it as "sha256=<hex>". Callers must pass canonical JSON
// bytes (see event.CanonicalJSON); the same bytes must be sent as the
// request body so the receiver can reproduce the digest.
func Sign(payload, secret []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(payload)
	return Prefix + hex.EncodeToString(mac.Sum(nil))
}

// Verify recomputes the signature for payload and compares it against sig
// in constant time. Naive string equality would leak timing information,
// so comparison goes through hmac.Equal.
func Verify(payload []byte, sig string, secret []byte) bool {
	expected := Sign(payload, secret)
	return hmac.Equal([]byte(sig), []byte(expected))
}
