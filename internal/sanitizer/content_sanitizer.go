package sanitizer

import (
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// ContentSanitizer cleans user supplied text before it is persisted.
// Captions, comments and messages are plain text, so markup is stripped
// entirely rather than filtered.
type ContentSanitizer interface {
	SanitizeText(input string) string
	SanitizeBio(input string) string
}

type DefaultContentSanitizer struct {
	strict *bluemonday.Policy
	ugc    *bluemonday.Policy
}

func NewContentSanitizer() *DefaultContentSanitizer {
	return &DefaultContentSanitizer{
		strict: bluemonday.StrictPolicy(),
		ugc:    bluemonday.UGCPolicy(),
	}
}

// SanitizeText strips all HTML from plain-text fields such as comment
// bodies and post captions.
func (s *DefaultContentSanitizer) SanitizeText(input string) string {
	return strings.TrimSpace(s.strict.Sanitize(input))
}

// SanitizeBio allows a small set of formatting tags in profile bios.
func (s *DefaultContentSanitizer) SanitizeBio(input string) string {
	return strings.TrimSpace(s.ugc.Sanitize(input))
}
