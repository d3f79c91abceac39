package source

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"
)

var (
	startMarkers = []string{"*** START OF THE PROJECT GUTENBERG", "*** START OF THIS PROJECT GUTENBERG", "*END*THE SMALL PRINT"}
	endMarkers   = []string{"*** END OF THE PROJECT GUTENBERG", "*** END OF THIS PROJECT GUTENBERG", "End of the Project Gutenberg", "End of Project Gutenberg"}
)

// Parse normalizes raw text, extracts title and author from a catalog
// header when present, and strips license boilerplate around the body.
func Parse(sourceID, raw string) *Document {
	text := norm.NFC.String(strings.TrimPrefix(raw, "\ufeff"))
	text = strings.ReplaceAll(text, "\r\n", "\n")

	doc := &Document{SourceID: sourceID}
	lines := strings.Split(text, "\n")

	start, end := 0, len(lines)
	for i, line := range lines {
		if hasAnyPrefix(line, startMarkers) {
			start = i + 1
			break
		}
	}
	for i := len(lines) - 1; i >= start; i-- {
		if hasAnyPrefix(lines[i], endMarkers) {
			end = i
			break
		}
	}

	header := lines[:min(len(lines), 60)]
	if start > 0 {
		header = lines[:start]
	}
	for _, line := range header {
		if value, ok := headerValue(line, "Title:"); ok && doc.Title == "" {
			doc.Title = value
		}
		if value, ok := headerValue(line, "Author:"); ok && doc.Author == "" {
			doc.Author = value
		}
	}
	doc.Title = tidyName(doc.Title)
	doc.Author = tidyName(doc.Author)
	if doc.Title == "" {
		doc.Title = sourceID
	}

	doc.Text = strings.TrimSpace(strings.Join(lines[start:end], "\n"))
	return doc
}

func hasAnyPrefix(line string, prefixes []string) bool {
	trimmed := strings.TrimSpace(line)
	for _, prefix := range prefixes {
		if strings.HasPrefix(strings.ToUpper(trimmed), strings.ToUpper(prefix)) {
			return true
		}
	}
	return false
}

func headerValue(line, key string) (string, bool) {
	trimmed := strings.TrimSpace(line)
	if !strings.HasPrefix(strings.ToLower(trimmed), strings.ToLower(key)) {
		return "", false
	}
	return strings.TrimSpace(trimmed[len(key):]), true
}

// tidyName collapses whitespace and title-cases names written in capitals.
func tidyName(value string) string {
	value = strings.Join(strings.Fields(value), " ")
	if value == "" {
		return ""
	}
	if isAllUpper(value) {
		return cases.Title(language.Und).String(strings.ToLower(value))
	}
	return value
}

func isAllUpper(value string) bool {
	hasLetter := false
	for _, r := range value {
		if unicode.IsLetter(r) {
			hasLetter = true
			if !unicode.IsUpper(r) {
				return false
			}
		}
	}
	return hasLetter
}
