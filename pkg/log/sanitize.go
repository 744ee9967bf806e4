package log

import (
	"strings"
)

// secretKeywords mark credential-like keys; values keep their first and last
// four characters.
var secretKeywords = []string{
	"password", "passwd", "pwd",
	"api_key", "apikey", "api-key",
	"token", "secret", "authorization",
	"credential", "private_key", "encryption_key",
}

// phiKeywords mark protected health/personal information; values are fully
// replaced.
var phiKeywords = []string{
	"ssn", "social_security", "dob", "date_of_birth", "birth_date",
	"phone", "address", "diagnosis", "medical", "insurance",
	"first_name", "last_name", "full_name",
}

// Redacted replaces PHI values in logs.
const Redacted = "[REDACTED]"

// SanitizeField masks value when key looks like a secret or PHI.
func SanitizeField(key, value string) string {
	if value == "" {
		return value
	}

	lowerKey := strings.ToLower(key)

	if strings.Contains(lowerKey, "email") || strings.Contains(lowerKey, "recipient") {
		return sanitizeEmail(value)
	}
	if IsPHIKey(lowerKey) {
		return Redacted
	}
	for _, keyword := range secretKeywords {
		if strings.Contains(lowerKey, keyword) {
			return sanitizeToken(value)
		}
	}
	return value
}

// IsPHIKey reports whether key names a PHI attribute.
func IsPHIKey(key string) bool {
	lowerKey := strings.ToLower(key)
	for _, keyword := range phiKeywords {
		if strings.Contains(lowerKey, keyword) {
			return true
		}
	}
	return false
}

// sanitizeToken shows the first and last 4 characters.
func sanitizeToken(value string) string {
	if len(value) <= 8 {
		if len(value) <= 2 {
			return strings.Repeat("*", len(value))
		}
		return string(value[0]) + strings.Repeat("*", len(value)-2) + string(value[len(value)-1])
	}
	return value[:4] + strings.Repeat("*", len(value)-8) + value[len(value)-4:]
}

// sanitizeEmail keeps up to 3 leading characters of the local part and the
// domain. Values that are not an address (a phone number sent over SMS, say)
// are masked entirely.
func sanitizeEmail(value string) string {
	local, domain, ok := strings.Cut(value, "@")
	if !ok || strings.Contains(domain, "@") {
		return strings.Repeat("*", len(value))
	}
	switch {
	case len(local) == 0:
		return "@" + domain
	case len(local) <= 3:
		return string(local[0]) + strings.Repeat("*", len(local)-1) + "@" + domain
	default:
		return local[:3] + "***@" + domain
	}
}
