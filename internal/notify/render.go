package notify

import (
	"bytes"
	"strings"

	"github.com/yuin/goldmark"

	"github.com/nugget/aline-bot/internal/capability"
)

var markdown = goldmark.New()

// PlainText renders a markdown answer as plain text for messengers that
// show markup literally. If rendering fails the input is returned
// trimmed.
func PlainText(md string) string {
	var buf bytes.Buffer
	if err := markdown.Convert([]byte(md), &buf); err != nil {
		return strings.TrimSpace(md)
	}
	return capability.PlainText(buf.String())
}

// truncateRunes cuts s to at most n runes.
func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
