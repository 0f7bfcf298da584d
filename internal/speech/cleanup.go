package speech

import (
	"regexp"
	"strings"
)

var (
	// [label](url) keeps the label.
	mdLinkPattern = regexp.MustCompile(`\[([^\]\n]+)\]\([^)\n]*\)`)
	// **bold**, __bold__, ~~strike~~ keep their text.
	mdStrongPattern = regexp.MustCompile(`(\*\*|__|~~)([^\n]+?)(\*\*|__|~~)`)
	mdCodePattern   = regexp.MustCompile("`+([^`\n]*)`+")
	mdHeadingPrefix = regexp.MustCompile(`(?m)^\s*#{1,6}\s+`)
	mdBulletPrefix  = regexp.MustCompile(`(?m)^\s*(?:[-*+•]|\d+[.)])\s+`)
	// _emphasis_ only when delimited by non-word characters.
	mdUnderscorePattern = regexp.MustCompile(`(^|\W)_([^_\n]+)_(\W|$)`)

	// Stage directions: *smiles*, [laughs], (sighs softly).
	starActionPattern    = regexp.MustCompile(`\*[^*\n]+\*`)
	bracketActionPattern = regexp.MustCompile(`\[[^\]\n]*\]`)
	parenActionPattern   = regexp.MustCompile(`\((?:[a-z]+\s?){1,3}\)`)

	strayMarkupPattern = regexp.MustCompile("[*#`~]+")
	spaceBeforePunct   = regexp.MustCompile(`\s+([,.!?;:])`)
)

// Clean prepares one unit for synthesis: markdown is flattened to its text,
// stage directions and emoji are removed and whitespace is collapsed.
// It returns "" when nothing speakable is left.
func Clean(text string) string {
	if text == "" {
		return ""
	}

	text = mdLinkPattern.ReplaceAllString(text, "$1")
	text = mdStrongPattern.ReplaceAllString(text, "$2")
	text = mdCodePattern.ReplaceAllString(text, "$1")
	text = mdHeadingPrefix.ReplaceAllString(text, "")
	text = mdBulletPrefix.ReplaceAllString(text, "")
	text = mdUnderscorePattern.ReplaceAllString(text, "$1$2$3")

	text = starActionPattern.ReplaceAllString(text, " ")
	text = bracketActionPattern.ReplaceAllString(text, " ")
	text = parenActionPattern.ReplaceAllString(text, " ")

	text = stripEmoji(text)
	text = strayMarkupPattern.ReplaceAllString(text, "")

	text = strings.Join(strings.Fields(text), " ")
	text = spaceBeforePunct.ReplaceAllString(text, "$1")

	if !hasSpeakable(text) {
		return ""
	}
	return text
}

func stripEmoji(text string) string {
	return strings.Map(func(r rune) rune {
		if isEmoji(r) {
			return -1
		}
		return r
	}, text)
}

func isEmoji(r rune) bool {
	switch {
	case r >= 0x1F000 && r <= 0x1FAFF: // pictographs, emoticons, flags, transport
		return true
	case r >= 0x2600 && r <= 0x27BF: // misc symbols, dingbats
		return true
	case r >= 0x2B00 && r <= 0x2BFF: // arrows, stars
		return true
	case r == 0x200D || r == 0xFE0F || r == 0x20E3: // joiners and variation selectors
		return true
	}
	return false
}

// hasSpeakable reports whether text contains a letter or digit.
func hasSpeakable(text string) bool {
	for _, r := range text {
		if r >= '0' && r <= '9' || r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r > 0x7F {
			return true
		}
	}
	return false
}
