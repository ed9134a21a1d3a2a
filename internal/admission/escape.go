package admission

import "strings"

// markdownSpecial is the set of characters MarkdownV2 treats as markup.
const markdownSpecial = "_*[]()~`>#+-=|{}.!"

// EscapeMarkdown escapes every MarkdownV2-significant character so arbitrary
// display names stay renderable inside a formatted caption.
//
// Not idempotent: escaping an already-escaped string double-escapes the
// backslashes' neighbors. Callers apply it exactly once per render.
func EscapeMarkdown(s string) string {
	if s == "" {
		return s
	}
	var b strings.Builder
	b.Grow(len(s) + 8)
	for _, r := range s {
		if r < 128 && strings.ContainsRune(markdownSpecial, r) {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
