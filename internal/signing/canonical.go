// Package signing implements the per-request HMAC message-signing
// protocol: canonical string construction, signature computation, and the
// request-time verifier with replay protection.
package signing

import (
	"strconv"
	"strings"
)

// Canonical builds the string-to-sign from the signed request components.
// The body digest is appended only when a request body is present, so
// bodiless requests keep the four-component form.
func Canonical(method, path string, timestamp int64, nonce, bodyHash string) string {
	var sb strings.Builder
	sb.WriteString("m=")
	sb.WriteString(strings.ToUpper(method))
	sb.WriteString("&path=")
	sb.WriteString(NormalizePath(path))
	sb.WriteString("&ts=")
	sb.WriteString(strconv.FormatInt(timestamp, 10))
	sb.WriteString("&nonce=")
	sb.WriteString(nonce)
	if bodyHash != "" {
		sb.WriteString("&bh=")
		sb.WriteString(bodyHash)
	}
	return sb.String()
}

// NormalizePath collapses repeated separators and guarantees a leading
// slash so that "/a//b" and "a/b" sign identically.
func NormalizePath(path string) string {
	segments := strings.Split(path, "/")
	cleaned := segments[:0]
	for _, segment := range segments {
		if segment != "" {
			cleaned = append(cleaned, segment)
		}
	}
	return "/" + strings.Join(cleaned, "/")
}
