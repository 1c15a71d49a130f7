package voicesession

import (
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testVoice = Voice{Locale: "en-GB", Rate: 0.5, Pitch: 1, Volume: 1}

func TestSpeechResponderSay(t *testing.T) {
	synth := &fakeSynth{}
	r := NewSpeechResponder(synth, testVoice, log.New(io.Discard))

	require.NoError(t, r.Say("Marco polo"))
	assert.Equal(t, []Utterance{{
		Text: "Marco polo", VoiceLocale: "en-GB", Rate: 0.5, Pitch: 1, Volume: 1,
	}}, synth.utterances())
	assert.Zero(t, synth.cancels)

	require.NoError(t, r.Say("again"))
	assert.Equal(t, 1, synth.cancels, "the utterance in flight is cancelled first")
	assert.Zero(t, synth.overlaps)
}

func TestSpeechResponderConcurrent(t *testing.T) {
	synth := &fakeSynth{}
	r := NewSpeechResponder(synth, testVoice, log.New(io.Discard))

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, r.Say("Marco polo"))
		}()
	}
	wg.Wait()

	assert.Len(t, synth.utterances(), 20)
	assert.Zero(t, synth.overlaps)
	assert.Equal(t, 19, synth.cancels)
}

type failingSynth struct{ fakeSynth }

func (f *failingSynth) Speak(Utterance) error { return errors.New("no audio output") }

func TestSpeechResponderSpeakError(t *testing.T) {
	r := NewSpeechResponder(&failingSynth{}, testVoice, log.New(io.Discard))
	assert.ErrorContains(t, r.Say("x"), "no audio output")
}
