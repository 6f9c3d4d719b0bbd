package server

import (
	"fmt"
	"net/url"
	"strings"
	"unicode/utf8"
)

const minQuestionLength = 3

// ValidationError is a malformed request, rejected before any retrieval runs.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ProcessRequest asks for urls to be fetched and ingested into the store.
type ProcessRequest struct {
	URLs    []string `json:"urls"`
	Replace bool     `json:"replace"`
}

func (r ProcessRequest) Validate(maxURLs int) error {
	if len(r.URLs) == 0 || len(r.URLs) > maxURLs {
		return &ValidationError{Field: "urls", Message: fmt.Sprintf("between 1 and %d URLs are required", maxURLs)}
	}
	return validateURLs(r.URLs)
}

// AskRequest is a question, optionally scoped to a set of source URLs.
type AskRequest struct {
	Question string   `json:"question"`
	URLs     []string `json:"urls,omitempty"`
}

// Validate checks the question and URLs. When the store is ephemeral there is
// nothing to search without URLs, so at least one is required.
func (r AskRequest) Validate(ephemeral bool) error {
	if utf8.RuneCountInString(strings.TrimSpace(r.Question)) < minQuestionLength {
		return &ValidationError{Field: "question", Message: fmt.Sprintf("must be at least %d characters", minQuestionLength)}
	}
	if ephemeral && len(r.URLs) == 0 {
		return &ValidationError{
			Field:   "urls",
			Message: "Please provide at least one URL. In production mode, URLs are required for context.",
		}
	}
	return validateURLs(r.URLs)
}

// validateURLs only checks that each entry is an absolute URL. Scheme and
// host policy is enforced by the fetcher.
func validateURLs(urls []string) error {
	for _, raw := range urls {
		u, err := url.Parse(raw)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return &ValidationError{Field: "urls", Message: fmt.Sprintf("invalid URL %q", raw)}
		}
	}
	return nil
}
