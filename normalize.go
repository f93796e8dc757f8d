package godiscover

import (
	"net/textproto"
	"regexp"
	"strings"
	"time"
	"unicode"
)

const (
	// scrollParam switches the search API to scrolled pagination.
	scrollParam = "scroll"
	// pageNumParam requests an explicit page. Mutually exclusive with scrolling.
	pageNumParam = "page_num"
	// temporalParam carries the temporal range filter which supports the "now" token.
	temporalParam = "temporal"
	// temporalTimeFormat is the fixed ISO-8601 layout the "now" token resolves to.
	temporalTimeFormat = "2006-01-02T15:04:05Z"
)

// timeNow returns the current time. It's a variable to be replaceable in tests.
var timeNow = time.Now

// temporalNowRegex matches every occurrence of the "now" token regardless of its casing.
var temporalNowRegex = regexp.MustCompile(`(?i)now`)

// CanonicalQuery converts a loosely-specified query parameter map into the exact
// parameter set the search API expects: names are canonicalized to snake case, entries
// with nil, empty-string or empty-list values are removed, an explicit page number is
// dropped whenever scrolling is requested, and every "now" token inside a temporal
// entry is replaced with the current UTC timestamp, computed once per call so that
// multiple occurrences resolve to the identical instant. Normalizing an already
// canonical map is a no-op.
func CanonicalQuery(params map[string]interface{}) map[string]interface{} {
	canonical := make(map[string]interface{}, len(params))
	for name, value := range params {
		if emptyValue(value) {
			continue
		}
		canonical[toSnakeCase(name)] = value
	}
	if scrollRequested(canonical[scrollParam]) {
		delete(canonical, pageNumParam)
	}
	if temporal, ok := canonical[temporalParam]; ok {
		now := timeNow().UTC().Format(temporalTimeFormat)
		canonical[temporalParam] = substituteNow(temporal, now)
	}
	return canonical
}

// CanonicalHeaders converts the passed header map to its canonical MIME form with all
// the empty-valued entries removed.
func CanonicalHeaders(headers map[string]string) map[string]string {
	canonical := make(map[string]string, len(headers))
	for name, value := range headers {
		if name == "" || value == "" {
			continue
		}
		canonical[textproto.CanonicalMIMEHeaderKey(name)] = value
	}
	return canonical
}

// scrollRequested reports whether the passed scroll parameter value turns scrolling on.
func scrollRequested(value interface{}) bool {
	switch v := value.(type) {
	case bool:
		return v
	case string:
		return strings.EqualFold(v, "true")
	default:
		return false
	}
}

// substituteNow replaces every "now" token of the passed scalar or list value with
// the provided timestamp.
func substituteNow(value interface{}, now string) interface{} {
	switch v := value.(type) {
	case string:
		return temporalNowRegex.ReplaceAllString(v, now)
	case []string:
		replaced := make([]string, len(v))
		for i, entry := range v {
			replaced[i] = temporalNowRegex.ReplaceAllString(entry, now)
		}
		return replaced
	case []interface{}:
		replaced := make([]interface{}, len(v))
		for i, entry := range v {
			replaced[i] = substituteNow(entry, now)
		}
		return replaced
	default:
		return value
	}
}

// emptyValue reports whether the passed parameter value is nil, an empty string or an
// empty list and therefore has to be dropped from the canonical parameter set.
func emptyValue(value interface{}) bool {
	switch v := value.(type) {
	case nil:
		return true
	case string:
		return v == ""
	case []string:
		return len(v) == 0
	case []interface{}:
		return len(v) == 0
	default:
		return false
	}
}

// toSnakeCase converts a mixed camel/snake case name to snake case. An underscore is
// inserted only where an upper-case letter follows a lower-case letter or a digit, so
// acronym runs stay together and already snake-cased names pass through unchanged.
func toSnakeCase(name string) string {
	var b strings.Builder
	b.Grow(len(name) + 4)
	runes := []rune(name)
	for i, r := range runes {
		if unicode.IsUpper(r) {
			if i > 0 && (unicode.IsLower(runes[i-1]) || unicode.IsDigit(runes[i-1])) {
				b.WriteRune('_')
			}
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
