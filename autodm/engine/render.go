package engine

import (
	"strings"
	"unicode/utf8"
)

const previewRunes = 100

func mention(username string) string {
	if username == "" {
		return ""
	}
	return "@" + username
}

// Substitutes {{name}}, {{link}} and {{keyword}} in a DM template. {{keyword}} always renders empty.
func renderMessage(tmpl, username, link string) string {
	return strings.NewReplacer(
		"{{name}}", mention(username),
		"{{link}}", link,
		"{{keyword}}", "",
	).Replace(tmpl)
}

// Public replies only get {{name}}.
func renderReply(tmpl, username string) string {
	return strings.ReplaceAll(tmpl, "{{name}}", mention(username))
}

func messagePreview(s string) string {
	if utf8.RuneCountInString(s) <= previewRunes {
		return s
	}
	return string([]rune(s)[:previewRunes])
}
