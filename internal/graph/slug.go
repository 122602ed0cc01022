package graph

import (
	"fmt"
	"regexp"
	"strings"
)

var slugSeparatorPattern = regexp.MustCompile(`[^a-z0-9]+`)

// Slugify lowercases value and collapses every run of non-alphanumeric characters into "-".
func Slugify(value string) string {
	lowered := strings.ToLower(strings.TrimSpace(value))
	return strings.Trim(slugSeparatorPattern.ReplaceAllString(lowered, "-"), "-")
}

func slugAndName(kind, raw string) (string, string, error) {
	name := strings.TrimSpace(raw)
	slug := Slugify(name)
	if slug == "" {
		return "", "", fmt.Errorf("%w: %s name %q has no usable characters", ErrValidation, kind, raw)
	}
	return slug, name, nil
}
