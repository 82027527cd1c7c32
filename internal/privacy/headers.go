package privacy

import (
	"strings"

	"go.uber.org/zap"
)

// RedactedHeaderValue replaces scrubbed header values.
const RedactedHeaderValue = "[REDACTED]"

var authHeaders = []string{"authorization", "x-api-key", "x-auth-token", "bearer"}

// HeaderScrubber blanks sensitive HTTP headers.
type HeaderScrubber struct {
	sensitive    []string
	preserveAuth bool
	logger       *zap.Logger
}

// NewHeaderScrubber creates a scrubber matching header names that contain
// any of sensitive, case-insensitively.
func NewHeaderScrubber(sensitive []string, preserveAuth bool, logger *zap.Logger) *HeaderScrubber {
	if logger == nil {
		logger = zap.NewNop()
	}
	lowered := make([]string, 0, len(sensitive))
	for _, h := range sensitive {
		lowered = append(lowered, strings.ToLower(h))
	}
	return &HeaderScrubber{sensitive: lowered, preserveAuth: preserveAuth, logger: logger}
}

// Scrub returns a copy of headers with sensitive values redacted. When
// forUpstream is set and auth preservation is on, authentication headers pass
// through so the upstream provider still accepts the request.
func (s *HeaderScrubber) Scrub(headers map[string][]string, forUpstream bool) map[string][]string {
	processed := make(map[string][]string, len(headers))

	for key, values := range headers {
		if !s.IsSensitive(key) {
			processed[key] = values
			continue
		}

		if forUpstream && s.preserveAuth && IsAuthHeader(key) {
			processed[key] = values
			s.logger.Debug("Auth header preserved for upstream", zap.String("header", key))
			continue
		}

		processed[key] = []string{RedactedHeaderValue}
		s.logger.Debug("Header scrubbed", zap.String("header", key))
	}

	return processed
}

// IsSensitive reports whether header is configured as sensitive.
func (s *HeaderScrubber) IsSensitive(header string) bool {
	headerLower := strings.ToLower(header)
	for _, sensitive := range s.sensitive {
		if strings.Contains(headerLower, sensitive) {
			return true
		}
	}
	return false
}

// IsAuthHeader reports whether header carries credentials.
func IsAuthHeader(header string) bool {
	headerLower := strings.ToLower(header)
	for _, authHeader := range authHeaders {
		if strings.Contains(headerLower, authHeader) {
			return true
		}
	}
	return false
}
