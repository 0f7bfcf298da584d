package speech

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// MinUnitLength is the shortest candidate (in runes, ignoring surrounding
// whitespace) that may be cut as its own unit. Shorter candidates such as
// "Mr." stay in the buffer and join the following sentence.
const MinUnitLength = 3

// Segmenter is the sentence buffer between visible tokens and synthesis.
// Units are cut verbatim, so the concatenation of every unit returned by
// Push plus the final Flush equals the text that was pushed.
type Segmenter struct {
	buf    string
	pos    int
	minLen int
}

// NewSegmenter returns a segmenter using MinUnitLength.
func NewSegmenter() *Segmenter {
	return &Segmenter{minLen: MinUnitLength}
}

// Push appends visible text and returns any completed units.
func (s *Segmenter) Push(text string) []string {
	s.buf += text

	var units []string
	for s.pos < len(s.buf) {
		r, size := utf8.DecodeRuneInString(s.buf[s.pos:])
		s.pos += size
		if !isTerminal(r) {
			continue
		}

		end := s.pos
		for end < len(s.buf) {
			c, n := utf8.DecodeRuneInString(s.buf[end:])
			if !isCloser(c) {
				break
			}
			end += n
		}

		if end < len(s.buf) {
			next, _ := utf8.DecodeRuneInString(s.buf[end:])
			if !unicode.IsSpace(next) {
				continue
			}
		}

		candidate := s.buf[:end]
		if utf8.RuneCountInString(strings.TrimSpace(candidate)) < s.minLen {
			continue
		}

		units = append(units, candidate)
		s.buf = s.buf[end:]
		s.pos = 0
	}
	return units
}

// Flush returns whatever remains in the buffer and resets it.
func (s *Segmenter) Flush() string {
	rest := s.buf
	s.buf = ""
	s.pos = 0
	return rest
}

// Pending returns the buffered text that has not been cut yet.
func (s *Segmenter) Pending() string {
	return s.buf
}

func isTerminal(r rune) bool {
	switch r {
	case '.', '!', '?', '。', '！', '？':
		return true
	}
	return false
}

// isCloser matches quotes and brackets that belong to the sentence before them.
func isCloser(r rune) bool {
	switch r {
	case '"', '\'', ')', ']', '”', '’', '」', '』':
		return true
	}
	return false
}
