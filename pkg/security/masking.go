package security

import (
	"regexp"
	"strings"
)

const redacted = "***REDACTED***"

var (
	jwtPattern    = regexp.MustCompile(`eyJ[a-zA-Z0-9_-]*\.eyJ[a-zA-Z0-9_-]*\.[a-zA-Z0-9_-]*`)
	apiKeyPattern = regexp.MustCompile(`(?i)(api[_-]?key|apikey|secret|token|password|auth)["\s:=]+["']?([a-zA-Z0-9_-]{16,})["']?`)
	evmPattern    = regexp.MustCompile(`0x[a-fA-F0-9]{40}`)
	emailPattern  = regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`)

	sensitiveFields = []string{
		"password", "secret", "token", "api_key", "apikey", "auth",
		"private_key", "seed", "mnemonic", "credential", "otp",
	}
)

// MaskAddress keeps the first six and last four characters of a wallet
// address. Short values are fully masked.
func MaskAddress(addr string) string {
	if addr == "" {
		return ""
	}
	if len(addr) < 12 {
		return strings.Repeat("*", len(addr))
	}
	return addr[:6] + "..." + addr[len(addr)-4:]
}

// MaskString masks credentials, emails and EVM addresses embedded in s
func MaskString(s string) string {
	s = jwtPattern.ReplaceAllString(s, "eyJ"+redacted)
	s = apiKeyPattern.ReplaceAllString(s, "$1: "+redacted)
	s = emailPattern.ReplaceAllStringFunc(s, maskEmail)
	s = evmPattern.ReplaceAllStringFunc(s, MaskAddress)
	return s
}

// MaskMap returns a copy of data with sensitive fields redacted and
// address-like fields shortened.
func MaskMap(data map[string]interface{}) map[string]interface{} {
	masked := make(map[string]interface{}, len(data))
	for k, v := range data {
		if isSensitiveField(k) {
			masked[k] = redacted
			continue
		}
		switch val := v.(type) {
		case string:
			if strings.Contains(strings.ToLower(k), "address") {
				masked[k] = MaskAddress(val)
			} else {
				masked[k] = MaskString(val)
			}
		case map[string]interface{}:
			masked[k] = MaskMap(val)
		case []interface{}:
			masked[k] = maskSlice(val)
		default:
			masked[k] = v
		}
	}
	return masked
}

// MaskAPIKey shows only the first four characters of a key
func MaskAPIKey(key string) string {
	if len(key) < 4 {
		return "****"
	}
	return key[:4] + strings.Repeat("*", len(key)-4)
}

func maskEmail(email string) string {
	local, domain, ok := strings.Cut(email, "@")
	if !ok {
		return "***@***"
	}
	return maskPartial(local, 2) + "@" + domain
}

func maskPartial(s string, showChars int) string {
	if len(s) <= showChars {
		return strings.Repeat("*", len(s))
	}
	return s[:showChars] + strings.Repeat("*", len(s)-showChars)
}

func isSensitiveField(field string) bool {
	lower := strings.ToLower(field)
	for _, sensitive := range sensitiveFields {
		if strings.Contains(lower, sensitive) {
			return true
		}
	}
	return false
}

func maskSlice(slice []interface{}) []interface{} {
	masked := make([]interface{}, len(slice))
	for i, v := range slice {
		switch val := v.(type) {
		case string:
			masked[i] = MaskString(val)
		case map[string]interface{}:
			masked[i] = MaskMap(val)
		default:
			masked[i] = v
		}
	}
	return masked
}
