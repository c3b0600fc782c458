// Package webhook implements the signed broker fill/cancel ingress: HMAC
// verification against one or more accepted secrets, and the HTTP handlers
// that translate a verified payload into a fill-service call.
package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// SignatureHeader and AlgoHeader are the headers a broker is expected to
// set on every webhook delivery.
const (
	SignatureHeader = "X-Broker-Signature"
	AlgoHeader      = "X-Broker-Signature-Alg"
	ExpectedAlgo    = "HMAC-SHA256"
)

// ComputeSignature returns the hex-encoded HMAC-SHA256 of body under secret.
func ComputeSignature(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature reports whether provided matches body's HMAC-SHA256 under
// any of candidates, using a constant-time comparison per attempt. A
// rejection tries every candidate; an accepted signature returns at its
// first match, so acceptance time depends on the matching secret's position.
func VerifySignature(body []byte, provided string, candidates []string) bool {
	for _, secret := range candidates {
		expected := ComputeSignature(body, secret)
		if hmac.Equal([]byte(expected), []byte(provided)) {
			return true
		}
	}
	return false
}
