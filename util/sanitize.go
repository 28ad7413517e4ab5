// Package util provides redaction and sanitization helpers shared across
// the alerting and audit subsystems.
package util

import (
	"net"
	"regexp"
	"strings"
)

// MaxSanitizeLength is the maximum input length for sanitization.
// Longer input is truncated first to bound the regex work.
const MaxSanitizeLength = 1024 * 1024 // 1MB

// RedactedValue replaces sensitive field values in audit payloads
const RedactedValue = "[REDACTED]"

// SanitizeError sanitizes an error message to remove sensitive information
// before logging
func SanitizeError(err error) string {
	if err == nil {
		return ""
	}
	return SanitizeString(err.Error())
}

// sensitivePatterns matches common credential shapes embedded in free text
var sensitivePatterns = []struct {
	pattern     *regexp.Regexp
	replacement string
}{
	{regexp.MustCompile(`(?i)(password|passwd|pwd)[\s:=]+[^\s\n]+`), "$1=REDACTED"},
	{regexp.MustCompile(`(?i)"password"\s*:\s*"[^"]+"`), `"password":"REDACTED"`},
	{regexp.MustCompile(`(?i)(token|auth|authorization)[\s:=]+[^\s\n]+`), "$1=REDACTED"},
	{regexp.MustCompile(`(?i)bearer\s+[a-zA-Z0-9_\-\.]+`), "bearer REDACTED"},
	{regexp.MustCompile(`(?i)(api[_-]?key|apikey)[\s:=]+[^\s\n]+`), "$1=REDACTED"},
	{regexp.MustCompile(`(?i)(secret|client[_-]?secret)[\s:=]+[^\s\n]+`), "$1=REDACTED"},
	{regexp.MustCompile(`eyJ[a-zA-Z0-9_\-]+\.eyJ[a-zA-Z0-9_\-]+\.[a-zA-Z0-9_\-]+`), "REDACTED_JWT"},
	{regexp.MustCompile(`\b\d{4}[\s-]?\d{4}[\s-]?\d{4}[\s-]?\d{4}\b`), "REDACTED_CC"},
}

// SanitizeString sanitizes a string to remove sensitive information
func SanitizeString(s string) string {
	if s == "" {
		return ""
	}
	if len(s) > MaxSanitizeLength {
		s = s[:MaxSanitizeLength] + "... [truncated]"
	}
	for _, p := range sensitivePatterns {
		s = p.pattern.ReplaceAllString(s, p.replacement)
	}
	return s
}

// RedactFields replaces the values of named fields in a free-form payload.
// Field name matching is case-insensitive and recurses into nested maps.
// The input map is not modified; a redacted copy is returned.
func RedactFields(details map[string]interface{}, fieldNames []string) map[string]interface{} {
	if details == nil {
		return nil
	}
	sensitive := make(map[string]struct{}, len(fieldNames))
	for _, name := range fieldNames {
		sensitive[strings.ToLower(name)] = struct{}{}
	}
	return redactMap(details, sensitive)
}

func redactMap(m map[string]interface{}, sensitive map[string]struct{}) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		if _, hit := sensitive[strings.ToLower(k)]; hit {
			out[k] = RedactedValue
			continue
		}
		if nested, ok := v.(map[string]interface{}); ok {
			out[k] = redactMap(nested, sensitive)
			continue
		}
		out[k] = v
	}
	return out
}

// AnonymizeIP zeroes the trailing component of a network address: the last
// octet for IPv4, the last four groups for IPv6. Invalid input is returned
// unchanged.
func AnonymizeIP(addr string) string {
	ip := net.ParseIP(addr)
	if ip == nil {
		return addr
	}
	if v4 := ip.To4(); v4 != nil {
		masked := v4.Mask(net.CIDRMask(24, 32))
		return masked.String()
	}
	masked := ip.Mask(net.CIDRMask(64, 128))
	return masked.String()
}

var uaVersionRegex = regexp.MustCompile(`/[\d][\d\.]*`)

// StripUserAgentVersions removes version tokens from a client
// identification string, keeping only the product names
func StripUserAgentVersions(ua string) string {
	return uaVersionRegex.ReplaceAllString(ua, "")
}
