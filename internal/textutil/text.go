package textutil

import (
	"strings"
	"unicode/utf8"
)

// RuneLen counts characters rather than bytes.
func RuneLen(s string) int {
	return utf8.RuneCountInString(s)
}

// TruncateRunes returns at most limit runes of s.
func TruncateRunes(s string, limit int) string {
	if limit <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	return string(runes[:limit])
}

// TruncateWithMarker shortens s to exactly limit runes when it is longer,
// ending with marker.
func TruncateWithMarker(s string, limit int, marker string) string {
	if RuneLen(s) <= limit {
		return s
	}
	keep := limit - RuneLen(marker)
	if keep <= 0 {
		return TruncateRunes(marker, limit)
	}
	return TruncateRunes(s, keep) + marker
}

const wrappingQuotes = "\"'«»“”„"

// StripWrappingQuotes removes quote characters surrounding s.
func StripWrappingQuotes(s string) string {
	return strings.TrimSpace(strings.Trim(strings.TrimSpace(s), wrappingQuotes))
}

// StripQuotes removes every double-quote style character from s.
func StripQuotes(s string) string {
	return strings.Map(func(r rune) rune {
		if strings.ContainsRune("\"«»“”„", r) {
			return -1
		}
		return r
	}, s)
}

// CollapseWhitespace replaces every whitespace run with one space and trims.
func CollapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// StripCodeFence unwraps text the model returned inside a single fenced
// block (```markdown ... ```). Text without a leading fence is returned
// trimmed but otherwise untouched.
func StripCodeFence(s string) string {
	trimmed := strings.TrimSpace(s)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	body := trimmed[3:]
	if nl := strings.IndexByte(body, '\n'); nl >= 0 {
		// Drop the info string (markdown, md, ...).
		if info := strings.TrimSpace(body[:nl]); !strings.ContainsAny(info, " #") {
			body = body[nl+1:]
		}
	} else {
		return trimmed
	}
	body = strings.TrimRight(body, " \t\r\n")
	if !strings.HasSuffix(body, "```") {
		return trimmed
	}
	return strings.TrimSpace(strings.TrimSuffix(body, "```"))
}

// FirstParagraph returns the first non-heading, non-image paragraph of a
// markdown document with inline markup removed.
func FirstParagraph(markdown string) string {
	for _, block := range strings.Split(strings.ReplaceAll(markdown, "\r\n", "\n"), "\n\n") {
		block = strings.TrimSpace(block)
		if block == "" || strings.HasPrefix(block, "#") || strings.HasPrefix(block, "![") ||
			strings.HasPrefix(block, "```") || strings.HasPrefix(block, ">") || strings.HasPrefix(block, "|") {
			continue
		}
		return CollapseWhitespace(StripInlineMarkdown(block))
	}
	return ""
}

// StripInlineMarkdown removes emphasis markers and reduces links to their text.
func StripInlineMarkdown(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		switch c := s[i]; c {
		case '*', '_', '`':
			continue
		case '[':
			closeText := strings.Index(s[i:], "](")
			if closeText < 0 {
				b.WriteByte(c)
				continue
			}
			closeURL := strings.IndexByte(s[i+closeText:], ')')
			if closeURL < 0 {
				b.WriteByte(c)
				continue
			}
			b.WriteString(s[i+1 : i+closeText])
			i += closeText + closeURL
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}
