package speech

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// feed pushes tokens through a think filter and segmenter the same way the
// session does, returning the units and the flushed remainder.
func feed(tokens []string) (units []string, visible string) {
	tf := NewThinkFilter()
	seg := NewSegmenter()
	var vis strings.Builder
	for _, tok := range tokens {
		v := tf.Push(tok)
		vis.WriteString(v)
		units = append(units, seg.Push(v)...)
	}
	tail := tf.Flush()
	vis.WriteString(tail)
	units = append(units, seg.Push(tail)...)
	if rest := seg.Flush(); rest != "" {
		units = append(units, rest)
	}
	return units, vis.String()
}

func TestThinkFilter(t *testing.T) {
	tests := []struct {
		name   string
		tokens []string
		want   string
	}{
		{"no block", []string{"Hello ", "there."}, "Hello there."},
		{"balanced", []string{"<think>plan it</think>", "Sure."}, "Sure."},
		{"split markers", []string{"Hi <th", "ink>sec", "ret</thi", "nk> there."}, "Hi  there."},
		{"unterminated", []string{"Okay. ", "<think>I should never", " be heard"}, "Okay. "},
		{"angle bracket that is not a marker", []string{"a <b> c <", "t"}, "a <b> c <t"},
		{"two blocks", []string{"<think>x</think>A.<think>y</think> B."}, "A. B."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := NewThinkFilter()
			var out strings.Builder
			for _, tok := range tt.tokens {
				out.WriteString(f.Push(tok))
			}
			out.WriteString(f.Flush())
			assert.Equal(t, tt.want, out.String())
		})
	}
}

func TestThinkFilter_InBlock(t *testing.T) {
	f := NewThinkFilter()
	f.Push("<think>hmm")
	assert.True(t, f.InBlock())
	assert.Empty(t, f.Flush())
	assert.False(t, f.InBlock())
}

func TestSegmenter_Boundaries(t *testing.T) {
	seg := NewSegmenter()

	assert.Empty(t, seg.Push("Hello there"))
	units := seg.Push(". How are you? I'm")
	require.Equal(t, []string{"Hello there.", " How are you?"}, units)

	assert.Empty(t, seg.Push(" fine, v1.2"), "dot inside a version is not a boundary")
	assert.Equal(t, []string{" I'm fine, v1.2 works!"}, seg.Push(" works!"))
	assert.Empty(t, seg.Flush())
}

func TestSegmenter_ShortCandidateJoinsNext(t *testing.T) {
	seg := NewSegmenter()

	units := seg.Push("Ok. So. Dr. Smith is in. ")
	// "Ok." is only 3 runes so it is allowed; " So." trims to 3 as well.
	require.NotEmpty(t, units)
	assert.Equal(t, "Ok. So. Dr. Smith is in. ", strings.Join(units, "")+seg.Flush())

	seg = NewSegmenter()
	units = seg.Push("A. B. Then more. ")
	require.Len(t, units, 2)
	assert.Equal(t, "A. B.", units[0], "one-letter candidates are merged forward")
	assert.Equal(t, " Then more.", units[1])
}

func TestSegmenter_ClosingQuotesAndCJK(t *testing.T) {
	seg := NewSegmenter()
	units := seg.Push(`He said "stop." Then left.`)
	assert.Equal(t, []string{`He said "stop."`, " Then left."}, units)

	seg = NewSegmenter()
	units = seg.Push("你好世界。 今天很好！")
	assert.Equal(t, []string{"你好世界。", " 今天很好！"}, units)
}

func TestSegmentation_ReproducesVisibleText(t *testing.T) {
	streams := [][]string{
		{"Sure", "! The capital", " of France is Paris", ". It has about 2.1", " million people."},
		{"<think>", "the user wants a joke", "</think>", "Why did the chicken cross the road? ", "To get to the other side!"},
		{"No terminator at all"},
		{"Wait... ", "what?! ", "Okay", "."},
		{"First. ", "<think>never", " closed"},
		{"Mr. Smith ", "and Dr. Jones went home. Done"},
	}

	for _, tokens := range streams {
		units, visible := feed(tokens)
		assert.Equal(t, visible, strings.Join(units, ""), "tokens: %q", tokens)
		for _, u := range units {
			assert.NotContains(t, u, "never")
			assert.NotContains(t, u, "user wants")
		}
	}
}

func TestClean(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Added to your to-do list: call mom", "Added to your to-do list: call mom"},
		{"*smiles warmly* Hello there!", "Hello there!"},
		{"[laughs] That is **really** funny.", "That is really funny."},
		{"Sure (sighs) I can help.", "Sure I can help."},
		{"It costs (about 5 dollars) today.", "It costs (about 5 dollars) today."},
		{"Great job 🎉🎉 you did it ✨", "Great job you did it"},
		{"## Summary\n- first item\n- second item", "Summary first item second item"},
		{"See [the docs](https://example.com) for `go test` usage.", "See the docs for go test usage."},
		{"   lots    of\n\nspace  ", "lots of space"},
		{"*waves*", ""},
		{"🙂 ...", ""},
		{"", ""},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, Clean(tt.in), "input %q", tt.in)
	}
}

func TestTranscriptFilter(t *testing.T) {
	f := NewTranscriptFilter(nil)

	assert.Equal(t, "remind me to call mom", f.Filter("um, remind me to uh call mom"))
	assert.Equal(t, "what's the weather", f.Filter("Hmm what's the weather"))
	assert.Equal(t, "umbrella", f.Filter("umbrella"), "word boundaries protect real words")

	f.AddFillerWord("like")
	assert.Equal(t, "it was big", f.Filter("it was like big"))
}
