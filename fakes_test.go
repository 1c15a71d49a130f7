package voicesession

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	mu      sync.Mutex
	err     error
	frames  chan Frame
	session AudioSession
	started bool
	stopped bool
}

func (s *fakeSource) Start(session AudioSession) (<-chan Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	s.started = true
	s.session = session
	s.frames = make(chan Frame, 16)
	return s.frames, nil
}

func (s *fakeSource) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	s.stopped = true
	if s.frames != nil {
		close(s.frames)
	}
}

// push delivers a frame as the device would, unless the source is stopped.
func (s *fakeSource) push(f Frame) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return false
	}
	s.frames <- f
	return true
}

func (s *fakeSource) isStopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

type fakeDevice struct {
	mu      sync.Mutex
	err     error
	sources []*fakeSource
}

func (d *fakeDevice) NewSource() AudioFrameSource {
	d.mu.Lock()
	defer d.mu.Unlock()
	s := &fakeSource{err: d.err}
	d.sources = append(d.sources, s)
	return s
}

func (d *fakeDevice) setErr(err error) {
	d.mu.Lock()
	d.err = err
	d.mu.Unlock()
}

func (d *fakeDevice) sourceCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.sources)
}

func (d *fakeDevice) source(i int) *fakeSource {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sources[i]
}

type fakeStream struct {
	mu        sync.Mutex
	events    chan RecognitionEvent
	fed       []Frame
	closed    bool
	cancelled bool
}

func newFakeStream() *fakeStream {
	return &fakeStream{events: make(chan RecognitionEvent, 16)}
}

func (s *fakeStream) Feed(f Frame) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancelled {
		panic("feed after cancel")
	}
	s.fed = append(s.fed, f)
}

func (s *fakeStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *fakeStream) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.cancelled {
		s.cancelled = true
		close(s.events)
	}
}

func (s *fakeStream) Events() <-chan RecognitionEvent { return s.events }

func (s *fakeStream) emit(ev RecognitionEvent) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancelled {
		return false
	}
	s.events <- ev
	return true
}

func (s *fakeStream) fedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.fed)
}

func (s *fakeStream) isCancelled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelled
}

type fakeRecognizer struct {
	mu        sync.Mutex
	status    AuthorizationStatus
	openErr   error
	authCalls int
	streams   []*fakeStream
	openedAt  []time.Time
	locales   []string

	// gate, when set, holds OpenStream until it is closed or, unless
	// ignoreCancel is set, until the context is done.
	gate         chan struct{}
	ignoreCancel bool
	entered      chan struct{}
}

// holdOpens makes the following OpenStream calls wait on the returned gate.
func (r *fakeRecognizer) holdOpens(ignoreCancel bool) chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gate = make(chan struct{})
	r.ignoreCancel = ignoreCancel
	r.entered = make(chan struct{}, 4)
	return r.gate
}

func (r *fakeRecognizer) waitEntered(t *testing.T) {
	t.Helper()
	r.mu.Lock()
	entered := r.entered
	r.mu.Unlock()
	select {
	case <-entered:
	case <-time.After(waitFor):
		t.Fatal("OpenStream was not called")
	}
}

func (r *fakeRecognizer) RequestAuthorization(context.Context) (AuthorizationStatus, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.authCalls++
	return r.status, nil
}

func (r *fakeRecognizer) OpenStream(ctx context.Context, locale string, _ AudioSession) (RecognitionStream, error) {
	r.mu.Lock()
	gate, ignoreCancel, entered := r.gate, r.ignoreCancel, r.entered
	r.mu.Unlock()
	if gate != nil {
		entered <- struct{}{}
		if ignoreCancel {
			<-gate
		} else {
			select {
			case <-gate:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.openErr != nil {
		return nil, r.openErr
	}
	s := newFakeStream()
	r.streams = append(r.streams, s)
	r.openedAt = append(r.openedAt, time.Now())
	r.locales = append(r.locales, locale)
	return s, nil
}

func (r *fakeRecognizer) stream(i int) *fakeStream {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.streams[i]
}

func (r *fakeRecognizer) streamCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.streams)
}

type fakeSynth struct {
	mu       sync.Mutex
	speaking bool
	spoken   []Utterance
	cancels  int
	overlaps int
}

func (s *fakeSynth) Speak(u Utterance) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.speaking {
		s.overlaps++
	}
	s.speaking = true
	s.spoken = append(s.spoken, u)
	return nil
}

func (s *fakeSynth) CancelIfSpeaking() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.speaking {
		return false
	}
	s.speaking = false
	s.cancels++
	return true
}

func (s *fakeSynth) utterances() []Utterance {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Utterance(nil), s.spoken...)
}

type fakeTimer struct {
	d       time.Duration
	f       func()
	stopped atomic.Bool
}

func (t *fakeTimer) Stop() bool { return !t.stopped.Swap(true) }

type fakeClock struct {
	mu     sync.Mutex
	timers []*fakeTimer
}

func (c *fakeClock) afterFunc(d time.Duration, f func()) timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{d: d, f: f}
	c.timers = append(c.timers, t)
	return t
}

func (c *fakeClock) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.timers)
}

func (c *fakeClock) timer(i int) *fakeTimer {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.timers[i]
}

// recorder collects callback invocations.
type recorder struct {
	mu       sync.Mutex
	states   []UIState
	updates  []TranscriptionUpdate
	triggers []string
	errs     []error
}

func (r *recorder) callbacks() Callbacks {
	return Callbacks{
		OnStateChanged: func(s UIState) {
			r.mu.Lock()
			r.states = append(r.states, s)
			r.mu.Unlock()
		},
		OnTranscription: func(u TranscriptionUpdate) {
			r.mu.Lock()
			r.updates = append(r.updates, u)
			r.mu.Unlock()
		},
		OnTrigger: func(word, response string) {
			r.mu.Lock()
			r.triggers = append(r.triggers, word+"->"+response)
			r.mu.Unlock()
		},
		OnError: func(err error) {
			r.mu.Lock()
			r.errs = append(r.errs, err)
			r.mu.Unlock()
		},
	}
}

func (r *recorder) lastState() UIState {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.states) == 0 {
		return UIState{}
	}
	return r.states[len(r.states)-1]
}

func (r *recorder) stateCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.states)
}

func (r *recorder) errors() []error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]error(nil), r.errs...)
}

type harness struct {
	c     *Controller
	mic   *fakeDevice
	rec   *fakeRecognizer
	synth *fakeSynth
	calls *ChanCallMonitor
	clock *fakeClock
	ui    *recorder
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Logger = log.New(io.Discard)
	return cfg
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	h := &harness{
		mic:   &fakeDevice{},
		rec:   &fakeRecognizer{status: AuthAuthorized},
		synth: &fakeSynth{},
		calls: NewChanCallMonitor(),
		clock: &fakeClock{},
		ui:    &recorder{},
	}
	c, err := New(cfg, Capabilities{
		Microphone:  h.mic,
		Recognizer:  h.rec,
		Synthesizer: h.synth,
		Calls:       h.calls,
	}, h.ui.callbacks())
	require.NoError(t, err)
	c.afterFunc = h.clock.afterFunc
	h.c = c
	t.Cleanup(c.Close)
	return h
}

// startListening authorizes and starts, returning the opened source and stream.
func (h *harness) startListening(t *testing.T) (*fakeSource, *fakeStream) {
	t.Helper()
	n := h.rec.streamCount()
	require.NoError(t, h.c.Start(context.Background()))
	require.Equal(t, StateListening, h.c.State())
	return h.mic.source(n), h.rec.stream(n)
}

func update(text string, final bool, offsets ...int) RecognitionEvent {
	u := TranscriptionUpdate{Text: text, IsFinal: final}
	for _, off := range offsets {
		u.Segments = append(u.Segments, Segment{Substring: text[off:], Offset: off})
	}
	return RecognitionEvent{Update: u}
}

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)
