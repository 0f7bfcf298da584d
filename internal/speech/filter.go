package speech

import (
	"regexp"
	"strings"
	"sync"
)

// DefaultFillerWords are hesitation sounds removed from transcripts.
var DefaultFillerWords = []string{"um", "uh", "umm", "uhh", "er", "ah", "hmm"}

// TranscriptFilter strips filler words from speech-to-text output before it
// is classified.
type TranscriptFilter struct {
	mu      sync.RWMutex
	words   map[string]struct{}
	pattern *regexp.Regexp
}

// NewTranscriptFilter builds a filter. A nil list uses DefaultFillerWords.
func NewTranscriptFilter(fillerWords []string) *TranscriptFilter {
	if fillerWords == nil {
		fillerWords = DefaultFillerWords
	}
	f := &TranscriptFilter{words: make(map[string]struct{}, len(fillerWords))}
	for _, w := range fillerWords {
		if w = strings.ToLower(strings.TrimSpace(w)); w != "" {
			f.words[w] = struct{}{}
		}
	}
	f.buildPattern()
	return f
}

func (f *TranscriptFilter) buildPattern() {
	if len(f.words) == 0 {
		f.pattern = nil
		return
	}
	alts := make([]string, 0, len(f.words))
	for w := range f.words {
		alts = append(alts, regexp.QuoteMeta(w))
	}
	// Optional trailing comma so "um, remind me" collapses cleanly.
	f.pattern = regexp.MustCompile(`(?i)\b(?:` + strings.Join(alts, `|`) + `)\b,?`)
}

// Filter removes filler words and collapses the remaining whitespace.
func (f *TranscriptFilter) Filter(text string) string {
	f.mu.RLock()
	pattern := f.pattern
	f.mu.RUnlock()

	if pattern != nil {
		text = pattern.ReplaceAllString(text, " ")
	}
	text = strings.Join(strings.Fields(text), " ")
	return strings.TrimLeft(text, ",; ")
}

// AddFillerWord adds a word to the filler list.
func (f *TranscriptFilter) AddFillerWord(word string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.words[strings.ToLower(word)] = struct{}{}
	f.buildPattern()
}
