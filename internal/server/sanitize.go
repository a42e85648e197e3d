package server

import (
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// inline formatting users may keep in their messages
var allowedTags = []string{"b", "i", "u", "em", "strong", "code", "pre"}

// Sanitizer strips every element outside allowedTags, all attributes,
// and the content of script and style elements.
type Sanitizer struct {
	policy *bluemonday.Policy
}

func NewSanitizer() *Sanitizer {
	p := bluemonday.NewPolicy()
	p.AllowElements(allowedTags...)

	return &Sanitizer{policy: p}
}

func (s *Sanitizer) Sanitize(content string) string {
	return strings.TrimSpace(s.policy.Sanitize(content))
}
