// Package textnorm provides the title/body normalization rules shared by
// the TTV and TF HTML parsers: Unicode NFC normalization and non-breaking
// space stripping.
package textnorm

import (
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"
)

var nbsp = regexp.MustCompile("[  ﻿]")

// NFC normalizes s to Unicode Normalization Form C and strips non-breaking,
// narrow-no-break, and BOM whitespace variants that upstream HTML often
// carries over from WYSIWYG editors.
func NFC(s string) string {
	s = norm.NFC.String(s)
	s = nbsp.ReplaceAllString(s, " ")
	return s
}

// NormalizeTitle applies NFC and trims surrounding whitespace — the shared
// rule both TTV and TF apply to every extracted title.
func NormalizeTitle(s string) string {
	return strings.TrimSpace(NFC(s))
}

// NormalizedColonPrefix reports whether body starts with title, tolerating
// the two observed colon-spacing variants ("Chương 1: X" vs "Chương 1:X").
// Used by the leading-title dedup rules in §4.4.
func NormalizedColonPrefix(body, title string) bool {
	body = strings.TrimSpace(body)
	title = strings.TrimSpace(title)
	if title == "" {
		return false
	}
	if body == title || strings.HasPrefix(body, title) {
		return true
	}
	collapsed := strings.Replace(title, ": ", ":", 1)
	if body == collapsed || strings.HasPrefix(body, collapsed) {
		return true
	}
	expanded := strings.Replace(title, ":", ": ", 1)
	if body == expanded || strings.HasPrefix(body, expanded) {
		return true
	}
	return false
}
