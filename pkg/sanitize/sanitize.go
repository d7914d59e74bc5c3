// Package sanitize strips markup from user supplied free text before it is stored.
package sanitize

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

var strict = bluemonday.StrictPolicy()

// Text removes all HTML from s and trims surrounding whitespace.
// Entities produced by the policy are decoded so "Tom & Jerry" round-trips unchanged.
func Text(s string) string {
	if s == "" {
		return ""
	}
	return strings.TrimSpace(html.UnescapeString(strict.Sanitize(s)))
}

// Email lower-cases and trims an e-mail address.
func Email(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
