package logging

import (
	"net/url"
	"regexp"
	"strings"
)

// RedactedPlaceholder replaces anything that looks like a credential.
const RedactedPlaceholder = "[REDACTED]"

var sensitivePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(bearer\s+[a-zA-Z0-9._-]{20,})`),
	regexp.MustCompile(`(?i)(password\s*[:=]\s*[^\s,;&]{4,})`),
	regexp.MustCompile(`(?i)(secret\s*[:=]\s*[^\s,;&]{4,})`),
	regexp.MustCompile(`(?i)(api_?key\s*[:=]\s*[^\s,;&]{4,})`),
	regexp.MustCompile(`(?i)(access_token\s*[:=]\s*[^\s,;&]{4,})`),
}

// userinfoPattern matches the user:pass@ part of an http(s) URL.
var userinfoPattern = regexp.MustCompile(`(https?://)[^/@\s]+@`)

// Field names whose values are always dropped.
var sensitiveFieldNames = []string{
	"PASSWORD",
	"SECRET",
	"API_KEY",
	"APIKEY",
	"AUTHORIZATION",
	"ACCESS_TOKEN",
}

// RedactSensitiveData masks credentials embedded in free text, including
// basic-auth userinfo in backend URLs.
func RedactSensitiveData(value string) string {
	if value == "" {
		return value
	}
	result := userinfoPattern.ReplaceAllString(value, "${1}"+RedactedPlaceholder+"@")
	for _, p := range sensitivePatterns {
		result = p.ReplaceAllString(result, RedactedPlaceholder)
	}
	return result
}

// IsSensitiveField reports whether a field with this key must never be logged.
func IsSensitiveField(key string) bool {
	upper := strings.ToUpper(key)
	for _, name := range sensitiveFieldNames {
		if strings.Contains(upper, name) {
			return true
		}
	}
	return false
}

// SafeURL renders a URL for logs with its userinfo and query stripped.
func SafeURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return RedactSensitiveData(raw)
	}
	u.User = nil
	u.RawQuery = ""
	return u.String()
}
