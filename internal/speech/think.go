// Package speech turns streamed model output into speakable units:
// hidden-reasoning removal, sentence segmentation and speech cleanup.
package speech

import "strings"

const (
	DefaultThinkOpen  = "<think>"
	DefaultThinkClose = "</think>"
)

// ThinkFilter removes hidden-reasoning blocks from a token stream.
// Markers may arrive split across tokens; a possible marker prefix at the
// end of a token is held back until the next token decides it.
// An unterminated block suppresses everything after its opening marker.
type ThinkFilter struct {
	open    string
	close   string
	inside  bool
	pending string
}

// NewThinkFilter returns a filter for <think>...</think> blocks.
func NewThinkFilter() *ThinkFilter {
	return NewThinkFilterWithMarkers(DefaultThinkOpen, DefaultThinkClose)
}

// NewThinkFilterWithMarkers returns a filter for custom block markers.
func NewThinkFilterWithMarkers(open, close string) *ThinkFilter {
	return &ThinkFilter{open: open, close: close}
}

// Push consumes one token and returns the part of it that is visible.
func (f *ThinkFilter) Push(token string) string {
	buf := f.pending + token
	f.pending = ""

	var visible strings.Builder
	for buf != "" {
		if !f.inside {
			if idx := strings.Index(buf, f.open); idx >= 0 {
				visible.WriteString(buf[:idx])
				buf = buf[idx+len(f.open):]
				f.inside = true
				continue
			}
			keep := partialSuffix(buf, f.open)
			visible.WriteString(buf[:len(buf)-keep])
			f.pending = buf[len(buf)-keep:]
			break
		}

		if idx := strings.Index(buf, f.close); idx >= 0 {
			buf = buf[idx+len(f.close):]
			f.inside = false
			continue
		}
		keep := partialSuffix(buf, f.close)
		f.pending = buf[len(buf)-keep:]
		break
	}
	return visible.String()
}

// Flush ends the stream. Held-back text is released unless it sits inside
// an open block.
func (f *ThinkFilter) Flush() string {
	out := ""
	if !f.inside {
		out = f.pending
	}
	f.pending = ""
	f.inside = false
	return out
}

// InBlock reports whether the filter is currently inside a hidden block.
func (f *ThinkFilter) InBlock() bool {
	return f.inside
}

// partialSuffix returns the length of the longest proper prefix of marker
// that buf ends with.
func partialSuffix(buf, marker string) int {
	max := len(marker) - 1
	if max > len(buf) {
		max = len(buf)
	}
	for n := max; n > 0; n-- {
		if strings.HasSuffix(buf, marker[:n]) {
			return n
		}
	}
	return 0
}
