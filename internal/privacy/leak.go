package privacy

import (
	"fmt"
	"sort"
	"strings"

	"research_telemetry/internal/hashing"
)

// DefaultRawTextThreshold is the longest unhashed string a released record may hold.
const DefaultRawTextThreshold = 1024

// LeakError reports a field that still carries raw text.
type LeakError struct {
	Field  string
	Length int
}

func (e *LeakError) Error() string {
	return fmt.Sprintf("privacy: field '%s' contains raw text (%d chars), should be hashed", e.Field, e.Length)
}

// ValidateNoRawText fails on the first string field, in key order, longer
// than threshold characters that is not recognisably a hash. Allow-listed
// public fields are skipped. threshold <= 0 means DefaultRawTextThreshold.
func ValidateNoRawText(rec Record, threshold int) error {
	if threshold <= 0 {
		threshold = DefaultRawTextThreshold
	}
	keys := make([]string, 0, len(rec))
	for k := range rec {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		value, ok := rec[key].(string)
		if !ok || PublicFields.has(key) {
			continue
		}
		length := len([]rune(value))
		if length <= threshold {
			continue
		}
		if strings.HasSuffix(key, "_hash") || hashing.IsHexDigest(value) || hashing.HasHashPrefix(value) {
			continue
		}
		return &LeakError{Field: key, Length: length}
	}
	return nil
}
