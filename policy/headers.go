package policy

import "strings"

// ExtractBearerToken pulls the token out of an "Authorization: Bearer <t>"
// header value, returning "" if the header isn't a bearer token.
func ExtractBearerToken(authorizationHeader string) string {
	const prefix = "Bearer "
	if !strings.HasPrefix(authorizationHeader, prefix) {
		return ""
	}
	return strings.TrimPrefix(authorizationHeader, prefix)
}

// ExtractAPIKey trims surrounding whitespace from an x-api-key header
// value; callers treat an empty result as "no key presented".
func ExtractAPIKey(apiKeyHeader string) string {
	return strings.TrimSpace(apiKeyHeader)
}
