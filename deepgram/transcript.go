package deepgram

import (
	"slices"
	"strings"

	voicesession "github.com/cortexswarm/voice-session-go"
)

// transcript joins finalized results with the current interim result into one
// running text, the way a whole-session transcription reads.
type transcript struct {
	committed string
	segments  []voicesession.Segment
	last      voicesession.TranscriptionUpdate
}

func (t *transcript) update(alt alternative, final bool) voicesession.TranscriptionUpdate {
	text := t.committed
	segs := slices.Clone(t.segments)

	if piece := strings.TrimSpace(alt.Transcript); piece != "" {
		base := len(text)
		if base > 0 {
			text += " "
			base++
		}
		text += piece
		segs = append(segs, locateWords(piece, alt.Words, base)...)
	}
	if final {
		t.committed, t.segments = text, segs
	}
	t.last = voicesession.TranscriptionUpdate{Text: text, Segments: segs}
	return t.last
}

// locateWords finds each word in piece in order and returns its segment with
// offsets shifted by base. Without word timings the piece is split on spaces.
func locateWords(piece string, words []word, base int) []voicesession.Segment {
	tokens := make([]string, 0, len(words))
	for _, w := range words {
		token := w.PunctuatedWord
		if token == "" {
			token = w.Word
		}
		tokens = append(tokens, token)
	}
	if len(tokens) == 0 {
		tokens = strings.Fields(piece)
	}

	segs := make([]voicesession.Segment, 0, len(tokens))
	cursor := 0
	for _, token := range tokens {
		i := strings.Index(piece[cursor:], token)
		if i < 0 {
			continue
		}
		segs = append(segs, voicesession.Segment{Substring: token, Offset: base + cursor + i})
		cursor += i + len(token)
	}
	return segs
}
