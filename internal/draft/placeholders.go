package draft

import (
	"regexp"
	"strings"
)

var (
	placeholderPattern = regexp.MustCompile(`!\[MEME:\s*(.+?)\]\(placeholder\)`)
	blankRunPattern    = regexp.MustCompile(`\n{3,}`)
)

// Placeholder is one image marker found in a body.
type Placeholder struct {
	Token       string
	Description string
	Start       int
	End         int
}

// Format builds the placeholder token for a description.
func Format(description string) string {
	return "![MEME: " + strings.TrimSpace(description) + "](placeholder)"
}

// Find returns the placeholders in document order.
func Find(body string) []Placeholder {
	matches := placeholderPattern.FindAllStringSubmatchIndex(body, -1)
	out := make([]Placeholder, 0, len(matches))
	for _, m := range matches {
		out = append(out, Placeholder{
			Token:       body[m[0]:m[1]],
			Description: strings.TrimSpace(body[m[2]:m[3]]),
			Start:       m[0],
			End:         m[1],
		})
	}
	return out
}

// Tokens returns the placeholder tokens in document order, duplicates included.
func Tokens(body string) []string {
	return placeholderPattern.FindAllString(body, -1)
}

// HasPlaceholders reports whether any placeholder token remains in body.
func HasPlaceholders(body string) bool {
	return placeholderPattern.MatchString(body)
}

// SectionBoundaries returns, in document order, the offset just past the line
// of every second-level heading. Lines inside fenced code blocks are skipped.
// A heading on the last line without a newline yields len(body).
func SectionBoundaries(body string) []int {
	var out []int
	var fence string
	for start := 0; start < len(body); {
		end := strings.IndexByte(body[start:], '\n')
		next := len(body)
		if end >= 0 {
			end += start
			next = end + 1
		} else {
			end = len(body)
		}
		line := strings.TrimSuffix(body[start:end], "\r")

		marker, info := fenceMarker(line)
		switch {
		case fence != "":
			if marker != "" && marker[0] == fence[0] && len(marker) >= len(fence) && info == "" {
				fence = ""
			}
		case marker != "":
			fence = marker
		case strings.HasPrefix(line, "## ") && strings.TrimSpace(line[3:]) != "":
			out = append(out, next)
		}
		start = next
	}
	return out
}

// fenceMarker splits a code fence line into its backtick or tilde run and the
// trimmed text after it. marker is empty when line is not a fence.
func fenceMarker(line string) (marker, info string) {
	trimmed := strings.TrimLeft(line, " ")
	if len(line)-len(trimmed) > 3 || len(trimmed) < 3 {
		return "", ""
	}
	ch := trimmed[0]
	if ch != '`' && ch != '~' {
		return "", ""
	}
	n := 0
	for n < len(trimmed) && trimmed[n] == ch {
		n++
	}
	if n < 3 {
		return "", ""
	}
	return trimmed[:n], strings.TrimSpace(trimmed[n:])
}

// Lost returns the tokens of before that no longer appear verbatim in after.
// A token that survived at least once is never reported, so reinsertion cannot
// duplicate it. Repeated lost tokens are reported once per occurrence.
func Lost(before []string, after string) []string {
	survived := make(map[string]struct{})
	for _, token := range Tokens(after) {
		survived[token] = struct{}{}
	}
	var lost []string
	for _, token := range before {
		if _, ok := survived[token]; ok {
			continue
		}
		lost = append(lost, token)
	}
	return lost
}

// Reinsert places lost tokens after second-level headings. Token i of L goes to
// boundary floor(i*B/L) of B, each as its own block separated by blank lines.
// When there are fewer boundaries than tokens only the first B tokens are
// placed. It returns the new body and the number of tokens inserted.
func Reinsert(body string, lost []string) (string, int) {
	boundaries := SectionBoundaries(body)
	total := len(lost)
	count := min(total, len(boundaries))
	if count == 0 {
		return body, 0
	}

	var b strings.Builder
	b.Grow(len(body) + count*64)
	cursor := 0
	placed := false
	// flush copies body text, opening a blank line after a placed token.
	flush := func(chunk string) {
		if placed && !strings.HasPrefix(chunk, "\n") {
			b.WriteByte('\n')
		}
		b.WriteString(chunk)
		placed = false
	}
	for i := range count {
		at := boundaries[i*len(boundaries)/total]
		if at > cursor {
			flush(body[cursor:at])
			if body[at-1] != '\n' {
				b.WriteByte('\n')
			}
		}
		b.WriteString("\n")
		b.WriteString(lost[i])
		b.WriteString("\n")
		placed = true
		cursor = at
	}
	flush(body[cursor:])
	return b.String(), count
}

// PreserveResult reports what Preserve did to a rewritten body.
type PreserveResult struct {
	Body       string
	Expected   int
	Lost       int
	Reinserted int
}

// Dropped is the number of lost tokens that could not be placed.
func (r PreserveResult) Dropped() int {
	return r.Lost - r.Reinserted
}

// Preserve compares the placeholder tokens captured before rewriting with the
// rewritten body and reinserts the ones that went missing.
func Preserve(before []string, after string) PreserveResult {
	lost := Lost(before, after)
	body, inserted := Reinsert(after, lost)
	return PreserveResult{
		Body:       body,
		Expected:   len(before),
		Lost:       len(lost),
		Reinserted: inserted,
	}
}

// Substitute consumes every placeholder in body. Placeholder i (document
// order) is replaced by replacements[i] when present; otherwise it is removed.
func Substitute(body string, replacements map[int]string) string {
	index := 0
	out := placeholderPattern.ReplaceAllStringFunc(body, func(string) string {
		replacement := replacements[index]
		index++
		return replacement
	})
	return tidy(out)
}

// StripPlaceholders removes every placeholder token from body.
func StripPlaceholders(body string) string {
	return Substitute(body, nil)
}

func tidy(body string) string {
	lines := strings.Split(body, "\n")
	for i, line := range lines {
		if strings.TrimSpace(line) == "" {
			lines[i] = ""
		}
	}
	joined := strings.Join(lines, "\n")
	return blankRunPattern.ReplaceAllString(joined, "\n\n")
}

// WordCount counts whitespace separated words, ignoring placeholder tokens.
func WordCount(body string) int {
	return len(strings.Fields(placeholderPattern.ReplaceAllString(body, " ")))
}
