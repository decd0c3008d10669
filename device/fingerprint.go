package device

import (
	"crypto/sha256"
	"encoding/hex"
)

// Metadata is the connection metadata recorded against a session.
type Metadata struct {
	ClientDescriptor string `json:"client_descriptor,omitempty"` // e.g. the User-Agent header
	NetworkAddress   string `json:"network_address,omitempty"`   // originating IP address
}

// Fingerprint derives a stable device identifier from connection metadata.
//
// Missing values are treated as empty strings, so clients behind the same proxy
// that send no client descriptor share a fingerprint.
func Fingerprint(md Metadata) string {
	sum := sha256.Sum256([]byte(md.ClientDescriptor + md.NetworkAddress))
	return hex.EncodeToString(sum[:])
}
