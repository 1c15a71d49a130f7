package voicesession

// TriggerMatcher fires when the trailing segment of a transcription equals Word.
// Matching is exact and case-sensitive.
type TriggerMatcher struct {
	Word     string
	Response string
}

// Trailing returns text from the start of the last segment with a valid offset
// to the end of text. ok is false when no segment has a usable offset.
func Trailing(u TranscriptionUpdate) (tail string, ok bool) {
	for _, seg := range u.Segments {
		if seg.Offset < 0 || seg.Offset > len(u.Text) {
			continue
		}
		tail, ok = u.Text[seg.Offset:], true
	}
	return tail, ok
}

// Match returns the configured response when the update's trailing segment
// equals the trigger word.
func (m TriggerMatcher) Match(u TranscriptionUpdate) (string, bool) {
	if m.Word == "" {
		return "", false
	}
	tail, ok := Trailing(u)
	if !ok || tail != m.Word {
		return "", false
	}
	return m.Response, true
}
