package domain

import (
	"regexp"
	"strings"
)

// maxTagLen bounds how much text is held back while a tag may be forming.
const maxTagLen = 48

var (
	exactTagPattern   = regexp.MustCompile(`(?i)^\[\s*(?:route|handoff)\s*:\s*[a-z0-9_-]+\s*\]$`)
	partialTagPattern = regexp.MustCompile(`(?i)^\[\s*(?:r(?:o(?:u(?:t(?:e\s*(?::\s*[a-z0-9_-]*\s*)?)?)?)?)?|h(?:a(?:n(?:d(?:o(?:f(?:f\s*(?::\s*[a-z0-9_-]*\s*)?)?)?)?)?)?)?)?$`)
)

// TagFilter removes routing tags from a token stream. Tags may arrive
// split across tokens; text that could still become a tag is held back
// until the next token decides it. Removed tags are kept for FromTags.
type TagFilter struct {
	pending string
	tags    []string
}

// NewTagFilter returns an empty filter.
func NewTagFilter() *TagFilter {
	return &TagFilter{}
}

// Push consumes one token and returns the part of it that is visible.
func (f *TagFilter) Push(token string) string {
	buf := f.pending + token
	f.pending = ""

	var visible strings.Builder
	for buf != "" {
		i := strings.IndexByte(buf, '[')
		if i < 0 {
			visible.WriteString(buf)
			break
		}
		visible.WriteString(buf[:i])
		buf = buf[i:]

		if j := strings.IndexByte(buf, ']'); j >= 0 {
			if candidate := buf[:j+1]; exactTagPattern.MatchString(candidate) {
				f.tags = append(f.tags, candidate)
				buf = buf[j+1:]
				continue
			}
		} else if len(buf) <= maxTagLen && partialTagPattern.MatchString(buf) {
			f.pending = buf
			break
		}
		visible.WriteByte('[')
		buf = buf[1:]
	}
	return visible.String()
}

// Flush ends the stream and releases any held-back text.
func (f *TagFilter) Flush() string {
	out := f.pending
	f.pending = ""
	return out
}

// Tags returns the removed tags joined by spaces, in stream order.
func (f *TagFilter) Tags() string {
	return strings.Join(f.tags, " ")
}
