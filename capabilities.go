package voicesession

import "context"

// Frame is one fixed-size buffer of interleaved signed 16-bit PCM samples.
type Frame []int16

// AudioSession is the audio-route configuration handed to a frame source when it
// starts. It replaces process-wide audio session state.
type AudioSession struct {
	Category      string // e.g. "playAndRecord"
	Mode          string // e.g. "measurement"
	SpeakerOutput bool   // route playback to the loudspeaker while recording
	SampleRate    int
	Channels      int
	FrameSize     int // samples per channel in one Frame
}

// AudioFrameSource owns the microphone stream for one pipeline.
//
// Start returns an infinite sequence of frames that ends only when Stop is
// called. A source is not restartable. Stop is idempotent and safe to call on a
// source that was never started.
type AudioFrameSource interface {
	Start(session AudioSession) (<-chan Frame, error)
	Stop()
}

// AudioDevice builds a fresh AudioFrameSource for every pipeline.
type AudioDevice interface {
	NewSource() AudioFrameSource
}

// AudioDeviceFunc adapts a function to AudioDevice.
type AudioDeviceFunc func() AudioFrameSource

func (f AudioDeviceFunc) NewSource() AudioFrameSource { return f() }

// Segment is one recognized unit of a transcription. Offset is the byte offset
// of the segment's first character in TranscriptionUpdate.Text.
type Segment struct {
	Substring string
	Offset    int
}

// TranscriptionUpdate is an incremental transcription. Each update supersedes
// the previous one from the same stream.
type TranscriptionUpdate struct {
	Text     string
	IsFinal  bool
	Segments []Segment
}

// RecognitionEvent is delivered by a RecognitionStream. Exactly one event per
// stream is terminal: either Err is set or Update.IsFinal is true.
type RecognitionEvent struct {
	Update TranscriptionUpdate
	Err    error
}

// Terminal reports whether no further events follow this one.
func (e RecognitionEvent) Terminal() bool {
	return e.Err != nil || e.Update.IsFinal
}

// RecognitionStream is one streaming-recognition session.
//
// Feed must not block; frames fed after the stream turned terminal are dropped.
// Close signals end of audio and may be called once. Cancel abandons the session.
// Events is closed after the terminal event or after Cancel, and no event is sent
// once Cancel has returned.
type RecognitionStream interface {
	Feed(frame Frame)
	Close() error
	Cancel()
	Events() <-chan RecognitionEvent
}

// Recognizer is the speech-to-text capability.
type Recognizer interface {
	RequestAuthorization(ctx context.Context) (AuthorizationStatus, error)
	OpenStream(ctx context.Context, locale string, session AudioSession) (RecognitionStream, error)
}

// Utterance is the text and prosody of one spoken response.
type Utterance struct {
	Text        string
	VoiceLocale string
	Rate        float64
	Pitch       float64
	Volume      float64
}

// Synthesizer is the text-to-speech capability. Speak must return without
// waiting for playback to finish.
type Synthesizer interface {
	Speak(u Utterance) error
	CancelIfSpeaking() bool
}

// CallMonitor reports call-lifecycle edges. The returned channel is closed
// when ctx is done.
type CallMonitor interface {
	Subscribe(ctx context.Context) (<-chan CallState, error)
}

// Capabilities groups the external collaborators a Controller drives.
// Calls may be nil when the host has no telephony.
type Capabilities struct {
	Microphone  AudioDevice
	Recognizer  Recognizer
	Synthesizer Synthesizer
	Calls       CallMonitor
}
