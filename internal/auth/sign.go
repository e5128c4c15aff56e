package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"strings"
)

// Sign computes a base64url (no padding) HMAC-SHA256 signature over id.
// Authenticity only: a valid signature says the server minted the id, not
// that the underlying record is still redeemable.
func Sign(id string, secret []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(id))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

// SignAndPack produces the wire form "id.signature".
func SignAndPack(id string, secret []byte) string {
	return id + "." + Sign(id, secret)
}

// VerifySignature recomputes the signature for id and compares it in constant
// time.
func VerifySignature(id, signature string, secret []byte) bool {
	expected := Sign(id, secret)
	return subtle.ConstantTimeCompare([]byte(expected), []byte(signature)) == 1
}

// UnpackAndVerify splits a packed token on its last "." and verifies the
// signature, so ids containing dots survive the round trip. Returns the id
// and true on success, "" and false for tokens without a separator or with a
// bad signature.
func UnpackAndVerify(token string, secret []byte) (string, bool) {
	idx := strings.LastIndex(token, ".")
	if idx < 0 {
		return "", false
	}
	id, signature := token[:idx], token[idx+1:]
	if !VerifySignature(id, signature, secret) {
		return "", false
	}
	return id, true
}
