// Package hashing produces content digests and keyed pseudonyms for telemetry
// records, so records can be cross-referenced without carrying the content.
package hashing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"
)

const (
	// PepperEnv names the variable HMACText falls back to when no pepper is given.
	PepperEnv = "RKL_PRIVACY_PEPPER"
	// SaltEnv names the variable PseudonymizeID falls back to when no salt is given.
	SaltEnv = "RKL_PSEUDO_SALT"

	// DefaultChunkSize is the read size used by File.
	DefaultChunkSize = 8192

	sha256Prefix = "sha256:"
)

// HashPrefixes are the tags that mark a string as already hashed.
var HashPrefixes = []string{"sha256:", "hmac:", "prompt:", "doc:"}

var hexDigest = regexp.MustCompile(`^[a-f0-9]{64}$`)

func hashBytes(parts ...[]byte) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write(p)
	}
	return hex.EncodeToString(h.Sum(nil))
}

func stringify(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case []byte:
		return string(val)
	case nil:
		return ""
	default:
		return fmt.Sprint(val)
	}
}

// Text returns "sha256:<hex>" over the UTF-8 string form of v. Non-string
// values are stringified first, so Text(42) == Text("42").
func Text(v any) string {
	return sha256Prefix + TextHex(v)
}

// TextHex is Text without the "sha256:" prefix.
func TextHex(v any) string {
	return hashBytes([]byte(stringify(v)))
}

// Structured hashes the canonical sorted-key JSON form of v.
func Structured(v any) (string, error) {
	b, err := Canonical(v)
	if err != nil {
		return "", err
	}
	return sha256Prefix + hashBytes(b), nil
}

// File streams the file at path through SHA-256 in DefaultChunkSize reads.
func File(path string) (string, error) {
	return FileChunked(path, DefaultChunkSize)
}

func FileChunked(path string, chunkSize int) (string, error) {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.CopyBuffer(h, onlyReader{f}, make([]byte, chunkSize)); err != nil {
		return "", fmt.Errorf("hash %s: %w", path, err)
	}
	return sha256Prefix + hex.EncodeToString(h.Sum(nil)), nil
}

// onlyReader hides WriterTo/ReaderFrom so CopyBuffer honours the chunk size.
type onlyReader struct{ r io.Reader }

func (o onlyReader) Read(p []byte) (int, error) { return o.r.Read(p) }

// HMACText returns the hex HMAC-SHA256 of v keyed by pepper. An empty pepper
// falls back to $RKL_PRIVACY_PEPPER.
func HMACText(v any, pepper string) string {
	if pepper == "" {
		pepper = os.Getenv(PepperEnv)
	}
	mac := hmac.New(sha256.New, []byte(pepper))
	mac.Write([]byte(stringify(v)))
	return hex.EncodeToString(mac.Sum(nil))
}

// Prompt returns "prompt:<version>:<hex>".
func Prompt(text, version string) string {
	if version == "" {
		version = "v1"
	}
	return "prompt:" + version + ":" + TextHex(text)
}

// Document returns "doc:<hex>" over "source|text".
func Document(text, source string) string {
	return "doc:" + TextHex(source+"|"+text)
}

// PseudonymizeID maps id to a 16 hex character token, stable for a given
// salt. An empty salt falls back to $RKL_PSEUDO_SALT.
func PseudonymizeID(id, salt string) string {
	if salt == "" {
		salt = os.Getenv(SaltEnv)
	}
	mac := hmac.New(sha256.New, []byte(salt))
	mac.Write([]byte(id))
	return hex.EncodeToString(mac.Sum(nil))[:16]
}

// IsHexDigest reports whether s looks like a bare SHA-256 hex digest.
func IsHexDigest(s string) bool {
	return hexDigest.MatchString(s)
}

// HasHashPrefix reports whether s carries one of HashPrefixes.
func HasHashPrefix(s string) bool {
	for _, p := range HashPrefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}
