package llm

import (
	"encoding/json"
	"strings"

	"quill/internal/services"
	"quill/internal/textutil"
)

// DecodeJSON unmarshals model output into target. The value may arrive bare,
// inside a code fence, or surrounded by prose.
func DecodeJSON(content string, target any) error {
	text := strings.TrimSpace(content)
	if text == "" {
		return services.Wrap(services.ErrMalformedOutput, "llm", "decode json", "empty content", nil)
	}

	candidates := []string{text}
	if unfenced := textutil.StripCodeFence(text); unfenced != text {
		candidates = append(candidates, unfenced)
	}
	if span := jsonSpan(text); span != "" && span != text {
		candidates = append(candidates, span)
	}

	var firstErr error
	for _, candidate := range candidates {
		err := json.Unmarshal([]byte(candidate), target)
		if err == nil {
			return nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	return services.Wrap(services.ErrMalformedOutput, "llm", "decode json", snippet(text), firstErr)
}

// jsonSpan returns the text between the first opening bracket and the last
// matching closer.
func jsonSpan(s string) string {
	start := strings.IndexAny(s, "[{")
	if start < 0 {
		return ""
	}
	closer := byte('}')
	if s[start] == '[' {
		closer = ']'
	}
	end := strings.LastIndexByte(s, closer)
	if end <= start {
		return ""
	}
	return s[start : end+1]
}
