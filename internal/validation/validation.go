// Package validation provides input validation helpers for the API.
package validation

import (
	"net/http"
	"regexp"
	"strings"

	"github.com/gin-gonic/gin"
)

// MaxRequestSize is the maximum request body size (1MB)
const MaxRequestSize = 1 << 20

var (
	// addressRegex validates 32-byte chain addresses (0x + 64 hex chars)
	addressRegex = regexp.MustCompile(`^0x[a-fA-F0-9]{64}$`)
	// digestRegex validates base58 transaction digests as issued by the chain
	digestRegex = regexp.MustCompile(`^[1-9A-HJ-NP-Za-km-z]{32,64}$`)
	// amountRegex validates positive decimal amounts
	amountRegex = regexp.MustCompile(`^[0-9]+(\.[0-9]+)?$`)
)

// RequestSizeMiddleware limits request body size
func RequestSizeMiddleware(maxSize int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxSize)
		c.Next()
	}
}

// IsValidAddress checks if a string is a valid 32-byte chain address
func IsValidAddress(addr string) bool {
	return addressRegex.MatchString(strings.TrimSpace(addr))
}

// IsValidDigest checks if a string looks like a chain transaction digest
func IsValidDigest(digest string) bool {
	return digestRegex.MatchString(strings.TrimSpace(digest))
}

// IsValidAmount checks that amount is a positive decimal number string
func IsValidAmount(amount string) bool {
	return amountRegex.MatchString(strings.TrimSpace(amount))
}

// SanitizeAddress normalizes a chain address: trimmed, lowercased, 0x-prefixed
func SanitizeAddress(addr string) string {
	addr = strings.ToLower(strings.TrimSpace(addr))
	if !strings.HasPrefix(addr, "0x") && len(addr) == 64 {
		addr = "0x" + addr
	}
	return addr
}

// SanitizeString trims whitespace, strips null bytes and limits length
func SanitizeString(s string, maxLen int) string {
	s = strings.TrimSpace(s)
	if len(s) > maxLen {
		s = s[:maxLen]
	}
	return strings.ReplaceAll(s, "\x00", "")
}
