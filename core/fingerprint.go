package core

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// AlertFingerprint generates the deduplication fingerprint for an alert
// request: a SHA-256 over the alert type, source, and normalized metadata.
// Metadata keys are sorted so map iteration order never changes the result.
func AlertFingerprint(alertType, source string, metadata map[string]interface{}) string {
	var b strings.Builder
	b.WriteString(alertType)
	b.WriteByte('|')
	b.WriteString(source)

	if len(metadata) > 0 {
		keys := make([]string, 0, len(metadata))
		for k := range metadata {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, "|%s=%v", k, metadata[k])
		}
	}

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

var digitsRegex = regexp.MustCompile(`\d+`)

// NormalizeErrorMessage strips digits out of an error message so
// occurrences differing only in embedded ids or counts group together
func NormalizeErrorMessage(message string) string {
	return digitsRegex.ReplaceAllString(message, "#")
}

// FirstStackFrame returns the function name on the first non-empty line of
// a stack trace. The argument list is stripped because runtime tracebacks
// print argument values in it, which vary per occurrence.
func FirstStackFrame(stack string) string {
	for _, line := range strings.Split(stack, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if i := strings.LastIndexByte(line, '('); i > 0 {
			line = line[:i]
		}
		return line
	}
	return ""
}

// ErrorFingerprint generates the grouping fingerprint for a captured error.
// Intentionally coarse: the message is digit-normalized and only the first
// stack frame participates, so instance-specific details still group.
// xxhash keeps this cheap on the hot capture path.
func ErrorFingerprint(message, errType, component, stack string) string {
	parts := []string{
		NormalizeErrorMessage(message),
		errType,
		component,
		FirstStackFrame(stack),
	}
	sum := xxhash.Sum64String(strings.Join(parts, "|"))
	return fmt.Sprintf("%016x", sum)
}
