// Package textutil prepares model output for Discord: length-limited
// segmentation and markdown adjustments for Discord's renderer.
package textutil

import "regexp"

var (
	deepHeadingRe = regexp.MustCompile(`(?m)^####+ `)
	markdownURLRe = regexp.MustCompile(`\[([^\]]+)\]\((https?://[^\s>)]+)\)`)
)

// Segment splits text into chunks of at most maxLen runes, preferring to cut
// after the last newline inside the window so line-oriented content (headings,
// code fences) stays intact. The newline at a cut point is consumed. A single
// unbroken line longer than maxLen is hard-cut. Chunks are never empty; an
// empty input yields no chunks.
func Segment(text string, maxLen int) []string {
	if text == "" {
		return nil
	}
	if maxLen <= 0 {
		return []string{text}
	}

	var parts []string
	rest := []rune(text)
	for {
		if len(rest) <= maxLen {
			if len(rest) > 0 {
				parts = append(parts, string(rest))
			}
			break
		}
		window := rest[:maxLen]
		cut := lastNewline(window)
		if cut < 0 {
			parts = append(parts, string(window))
			rest = rest[maxLen:]
			continue
		}
		if cut > 0 {
			parts = append(parts, string(window[:cut]))
		}
		rest = rest[cut+1:]
	}
	return parts
}

func lastNewline(window []rune) int {
	for i := len(window) - 1; i >= 0; i-- {
		if window[i] == '\n' {
			return i
		}
	}
	return -1
}

// NormalizeMarkdown adjusts model markdown for Discord: headings deeper than
// three levels are demoted to "###" (Discord stops rendering there) and bare
// markdown link targets are wrapped in angle brackets to suppress previews.
func NormalizeMarkdown(s string) string {
	s = deepHeadingRe.ReplaceAllString(s, "### ")
	s = markdownURLRe.ReplaceAllString(s, "[$1](<$2>)")
	return s
}
