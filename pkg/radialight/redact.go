package radialight

import (
	"net/url"
	"regexp"
	"strings"
)

const (
	RedactedPlaceholder    = "<redacted>"
	RedactedJWTPlaceholder = "<redacted-jwt>"
)

var (
	jwtPattern = regexp.MustCompile(`eyJ[a-zA-Z0-9_\-]+=*\.[a-zA-Z0-9_\-]+=*\.[a-zA-Z0-9_\-]+=*`)

	sensitiveKeys = []string{
		"apikey",
		"api_key",
		"key",
		"token",
		"secret",
		"password",
		"authorization",
	}
)

// Redact replaces anything that looks like a JWT in s by a placeholder.
func Redact(s string) string {
	return jwtPattern.ReplaceAllString(s, RedactedJWTPlaceholder)
}

// RedactURL masks the value of any sensitive query parameter in rawURL.
// If rawURL can't be parsed, the whole query string is dropped.
func RedactURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		if idx := strings.IndexByte(rawURL, '?'); idx >= 0 {
			return rawURL[:idx] + "?" + RedactedPlaceholder
		}
		return Redact(rawURL)
	}
	q := u.Query()
	for key := range q {
		if IsSensitiveKey(key) {
			q.Set(key, RedactedPlaceholder)
		}
	}
	u.RawQuery = q.Encode()
	// Encode escapes the placeholder's angle brackets
	u.RawQuery = strings.NewReplacer("%3Credacted%3E", RedactedPlaceholder).Replace(u.RawQuery)
	return Redact(u.String())
}

// RedactMap returns a deep copy of input, with the value of all sensitive keys masked.
func RedactMap(input map[string]any) map[string]any {
	if input == nil {
		return nil
	}
	out := make(map[string]any, len(input))
	for key, value := range input {
		if IsSensitiveKey(key) {
			if isEmpty(value) {
				out[key] = value
			} else {
				out[key] = RedactedPlaceholder
			}
			continue
		}
		out[key] = redactValue(value)
	}
	return out
}

func redactValue(value any) any {
	switch typed := value.(type) {
	case map[string]any:
		return RedactMap(typed)
	case []any:
		items := make([]any, 0, len(typed))
		for _, entry := range typed {
			items = append(items, redactValue(entry))
		}
		return items
	case string:
		return Redact(typed)
	default:
		return value
	}
}

func isEmpty(value any) bool {
	switch typed := value.(type) {
	case nil:
		return true
	case string:
		return typed == ""
	default:
		return false
	}
}

// IsSensitiveKey returns true if a configuration or query key is expected to hold a secret.
func IsSensitiveKey(key string) bool {
	key = strings.ToLower(strings.TrimSpace(key))
	if strings.HasSuffix(key, "url") {
		return false
	}
	for _, needle := range sensitiveKeys {
		if strings.Contains(key, needle) {
			return true
		}
	}
	return false
}
