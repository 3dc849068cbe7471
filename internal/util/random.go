// Package util provides ID generation and environment parsing helpers for IntakePipe.
package util

import (
	"crypto/rand"
	"encoding/hex"
)

// ID prefixes.
const (
	SessionIDPrefix = "sess_"
	OutboxIDPrefix  = "outbox_"
)

// GenerateRandomID generates a random ID with the specified prefix and hex length.
// The returned ID will be in the format: "{prefix}{hex_string}".
func GenerateRandomID(prefix string, hexLength int) string {
	return prefix + GenerateRandomHex(hexLength)
}

// GenerateRandomHex generates a random hexadecimal string of the specified
// length from crypto/rand, so it is safe for bearer handles such as session IDs.
func GenerateRandomHex(length int) string {
	if length <= 0 {
		return ""
	}
	buf := make([]byte, (length+1)/2)
	// crypto/rand.Read never returns an error since Go 1.24.
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)[:length]
}

// NewSessionID returns a live-session handle carrying 128 random bits.
// The handle is the only credential for a session's turns and status.
func NewSessionID() string {
	return GenerateRandomID(SessionIDPrefix, 32)
}

// NewOutboxID returns an outbox message ID.
func NewOutboxID() string {
	return GenerateRandomID(OutboxIDPrefix, 32)
}
