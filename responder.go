package voicesession

import (
	"sync"

	"github.com/charmbracelet/log"
)

// SpeechResponder speaks responses through a Synthesizer, keeping at most one
// utterance active. Safe for concurrent use.
type SpeechResponder struct {
	mu    sync.Mutex
	synth Synthesizer
	voice Voice
	log   *log.Logger
}

// NewSpeechResponder returns a responder with fixed prosody.
func NewSpeechResponder(synth Synthesizer, voice Voice, logger *log.Logger) *SpeechResponder {
	if logger == nil {
		logger = defaultLogger()
	}
	return &SpeechResponder{synth: synth, voice: voice, log: logger}
}

// Say cancels any utterance in flight and starts speaking text. It does not
// wait for playback.
func (r *SpeechResponder) Say(text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.synth.CancelIfSpeaking() {
		r.log.Debug("cancelled utterance in flight")
	}
	u := Utterance{
		Text:        text,
		VoiceLocale: r.voice.Locale,
		Rate:        r.voice.Rate,
		Pitch:       r.voice.Pitch,
		Volume:      r.voice.Volume,
	}
	if err := r.synth.Speak(u); err != nil {
		return err
	}
	r.log.Info("speaking", "text", text, "voice", u.VoiceLocale)
	return nil
}
