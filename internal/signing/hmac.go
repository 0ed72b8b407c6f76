package signing

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"hash"
)

// Algorithm selects the HMAC hash function for a credential.
type Algorithm string

// Encoding selects how a computed signature is serialized.
type Encoding string

const (
	AlgSHA256 Algorithm = "sha256"
	AlgSHA512 Algorithm = "sha512"

	EncHex    Encoding = "hex"
	EncBase64 Encoding = "base64"
)

// Valid reports whether the algorithm is one the verifier supports.
func (a Algorithm) Valid() bool { return a == AlgSHA256 || a == AlgSHA512 }

// Valid reports whether the encoding is one the verifier supports.
func (e Encoding) Valid() bool { return e == EncHex || e == EncBase64 }

// Compute returns the encoded HMAC of message under secret.
func Compute(alg Algorithm, enc Encoding, secret []byte, message string) (string, error) {
	var newHash func() hash.Hash
	switch alg {
	case AlgSHA256:
		newHash = sha256.New
	case AlgSHA512:
		newHash = sha512.New
	default:
		return "", fmt.Errorf("signing: unsupported algorithm %q", alg)
	}
	mac := hmac.New(newHash, secret)
	mac.Write([]byte(message))
	sum := mac.Sum(nil)
	switch enc {
	case EncHex:
		return hex.EncodeToString(sum), nil
	case EncBase64:
		return base64.StdEncoding.EncodeToString(sum), nil
	default:
		return "", fmt.Errorf("signing: unsupported encoding %q", enc)
	}
}

// Equal compares two signatures in constant time.
func Equal(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// BodyDigest returns the hex SHA-256 of a request body, or "" for an
// empty body so it stays out of the canonical string.
func BodyDigest(body []byte) string {
	if len(body) == 0 {
		return ""
	}
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}
