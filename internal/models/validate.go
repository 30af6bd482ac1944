package models

import (
	"fmt"
	"regexp"

	"golang.org/x/text/secure/precis"
)

// slugPattern matches lowercase alphanumeric segments joined by single
// hyphens: no leading/trailing hyphen, no doubled hyphen, no path
// separators.
var slugPattern = regexp.MustCompile(`^[a-z0-9]+(-[a-z0-9]+)*$`)

// ValidateSlug reports whether slug is a well-formed Video slug. It rejects
// path traversal candidates ("/", "\", "..") and anything outside the
// lowercase-alphanumeric-with-single-hyphens grammar.
func ValidateSlug(slug string) error {
	if slug == "" {
		return fmt.Errorf("slug must not be empty")
	}
	if !slugPattern.MatchString(slug) {
		return fmt.Errorf("slug %q does not match [a-z0-9]+(-[a-z0-9]+)*", slug)
	}
	return nil
}

// NormalizeTitle runs title through the PRECIS Nickname profile (NFKC,
// spaces mapped and collapsed) before it is stored or used to derive a
// slug, rejecting titles that contain codepoints the profile disallows,
// such as control characters.
func NormalizeTitle(title string) (string, error) {
	normalized, err := precis.Nickname.String(title)
	if err != nil {
		return "", fmt.Errorf("normalize title: %w", err)
	}
	return normalized, nil
}

// SlugFromTitle derives a candidate slug from a normalized title by
// lowercasing and folding runs of non-alphanumeric characters to single
// hyphens. The caller must still run ValidateSlug on the result, since
// titles that normalize to an empty or all-punctuation string produce an
// invalid slug.
func SlugFromTitle(title string) (string, error) {
	normalized, err := NormalizeTitle(title)
	if err != nil {
		return "", err
	}
	out := make([]byte, 0, len(normalized))
	lastHyphen := true
	for _, r := range normalized {
		switch {
		case r >= 'a' && r <= 'z' || r >= '0' && r <= '9':
			out = append(out, byte(r))
			lastHyphen = false
		case r >= 'A' && r <= 'Z':
			out = append(out, byte(r-'A'+'a'))
			lastHyphen = false
		default:
			if !lastHyphen && len(out) > 0 {
				out = append(out, '-')
				lastHyphen = true
			}
		}
	}
	for len(out) > 0 && out[len(out)-1] == '-' {
		out = out[:len(out)-1]
	}
	return string(out), nil
}
