// Package util provides utility functions for the LeadPipe application.
package util

import (
	"math/rand/v2"
	"strings"

	"github.com/oklog/ulid/v2"
)

// GenerateRandomID generates a random ID with the specified prefix and hex length.
// The returned ID will be in the format: "{prefix}{hex_string}".
func GenerateRandomID(prefix string, hexLength int) string {
	return prefix + GenerateRandomHex(hexLength)
}

// GenerateRandomHex generates a random hexadecimal string of the specified length.
// Not suitable for secrets.
func GenerateRandomHex(length int) string {
	if length <= 0 {
		return ""
	}

	const hexChars = "0123456789abcdef"
	var builder strings.Builder
	builder.Grow(length)

	for i := 0; i < length; i++ {
		builder.WriteByte(hexChars[rand.IntN(16)])
	}

	return builder.String()
}

// GenerateMessageID generates an inbound message ID with "m_" prefix for
// transports that do not supply their own.
func GenerateMessageID() string {
	return GenerateRandomID("m_", 32)
}

// GenerateResponseID generates a time-ordered response ID with "r_" prefix.
// ULIDs sort by creation time, so the newest in-flight response compares greatest.
func GenerateResponseID() string {
	return "r_" + ulid.Make().String()
}
