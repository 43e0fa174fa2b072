// Package checksum computes the content fingerprints used for file listings
// and for optimistic concurrency on edit blocks.
package checksum

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

var newlineReplacer = strings.NewReplacer("\r\n", "\n", "\r", "\n")

// Sum returns the hex-encoded SHA-256 digest of data.
func Sum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// NormalizeNewlines rewrites CRLF and bare CR line endings to LF.
func NormalizeNewlines(s string) string {
	if !strings.Contains(s, "\r") {
		return s
	}
	return newlineReplacer.Replace(s)
}

// NormalizeForHash normalizes newlines and drops trailing whitespace-only
// lines. Interior blank lines are kept.
func NormalizeForHash(s string) string {
	lines := strings.Split(NormalizeNewlines(s), "\n")
	for len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) == "" {
		lines = lines[:len(lines)-1]
	}
	return strings.Join(lines, "\n")
}

// Block returns the digest of an edit block's content. Two contents that
// differ only in newline convention or trailing blank lines share a digest.
func Block(content string) string {
	return Sum([]byte(NormalizeForHash(content)))
}
