// Package crypto provides HMAC request signing and encrypted at-rest storage
// for venue API credentials.
package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// HMACAuth holds the credentials for signed venue requests.
type HMACAuth struct {
	Key    string // API key, sent in the X-MBX-APIKEY header
	Secret string // API secret, the HMAC key
}

// Sign computes the hex-encoded HMAC-SHA256 signature over the canonical
// query string (including the timestamp and recvWindow parameters).
func (h *HMACAuth) Sign(payload string) string {
	mac := hmac.New(sha256.New, []byte(h.Secret))
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

// Configured reports whether both credential halves are present.
func (h *HMACAuth) Configured() bool {
	return h != nil && h.Key != "" && h.Secret != ""
}
