// Package wavsource replays a WAV recording as an AudioFrameSource, standing in
// for a microphone in demos and tests.
package wavsource

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/youpy/go-wav"

	voicesession "github.com/cortexswarm/voice-session-go"
)

var errRestart = errors.New("wavsource: source is not restartable")

// Device creates a Source for Path on every NewSource call.
type Device struct {
	Path string
	// Realtime paces frames at the session sample rate and keeps sending
	// silence after the recording ends. Otherwise frames are delivered as fast
	// as they are consumed and the source goes quiet at end of file.
	Realtime bool
	Logger   *log.Logger
}

// NewSource implements voicesession.AudioDevice.
func (d Device) NewSource() voicesession.AudioFrameSource {
	return New(d.Path, d.Realtime, d.Logger)
}

// Source replays one WAV file.
type Source struct {
	path     string
	realtime bool
	log      *log.Logger

	mu      sync.Mutex
	started bool
	stopped bool
	stop    chan struct{}
	done    chan struct{}
}

// New returns a Source reading path.
func New(path string, realtime bool, logger *log.Logger) *Source {
	if logger == nil {
		logger = log.Default().WithPrefix("wavsource")
	}
	return &Source{
		path:     path,
		realtime: realtime,
		log:      logger,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start opens the file and checks that its sample rate matches the session;
// there is no resampling. Channels are mixed down or duplicated to match.
func (s *Source) Start(session voicesession.AudioSession) (<-chan voicesession.Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started || s.stopped {
		return nil, errRestart
	}

	f, err := os.Open(s.path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", voicesession.ErrDeviceUnavailable, err)
	}
	r := wav.NewReader(f)
	format, err := r.Format()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: WAV format: %w", voicesession.ErrDeviceUnavailable, err)
	}
	if int(format.SampleRate) != session.SampleRate {
		f.Close()
		return nil, fmt.Errorf("%w: %s is %d Hz, session wants %d Hz",
			voicesession.ErrDeviceUnavailable, s.path, format.SampleRate, session.SampleRate)
	}
	if format.NumChannels < 1 || format.NumChannels > 2 {
		f.Close()
		return nil, fmt.Errorf("%w: WAV: only mono or stereo supported, got %d channels",
			voicesession.ErrDeviceUnavailable, format.NumChannels)
	}

	s.started = true
	frames := make(chan voicesession.Frame)
	go s.run(f, r, format, session, frames)
	s.log.Info("replaying", "path", s.path, "rate", format.SampleRate, "channels", format.NumChannels)
	return frames, nil
}

func (s *Source) run(f *os.File, r *wav.Reader, format *wav.WavFormat, session voicesession.AudioSession, frames chan<- voicesession.Frame) {
	defer close(s.done)
	defer close(frames)
	defer f.Close()

	framer := voicesession.NewFramer(session.FrameSize, session.Channels)
	var tick <-chan time.Time
	if s.realtime {
		d := time.Duration(session.FrameSize) * time.Second / time.Duration(session.SampleRate)
		ticker := time.NewTicker(d)
		defer ticker.Stop()
		tick = ticker.C
	}

	send := func(frame voicesession.Frame) bool {
		if tick != nil {
			select {
			case <-tick:
			case <-s.stop:
				return false
			}
		}
		select {
		case frames <- frame:
			return true
		case <-s.stop:
			return false
		}
	}

	inChannels := int(format.NumChannels)
	for {
		samples, err := r.ReadSamples()
		if err == io.EOF {
			break
		}
		if err != nil {
			s.log.Error("reading WAV samples", "error", err)
			break
		}
		pcm := make([]int16, 0, len(samples)*session.Channels)
		for _, sample := range samples {
			pcm = appendSample(pcm, r, sample, format.BitsPerSample, inChannels, session.Channels)
		}
		for _, frame := range framer.Push(pcm) {
			if !send(frame) {
				return
			}
		}
	}
	if frame := framer.Flush(); frame != nil {
		if !send(frame) {
			return
		}
	}
	s.log.Debug("end of recording", "path", s.path)

	if !s.realtime {
		<-s.stop
		return
	}
	silence := make(voicesession.Frame, framer.FrameLen())
	for send(silence) {
		silence = make(voicesession.Frame, framer.FrameLen())
	}
}

func appendSample(pcm []int16, r *wav.Reader, sample wav.Sample, bits uint16, in, out int) []int16 {
	value := func(ch int) int {
		if bits == 16 {
			return r.IntValue(sample, uint(ch))
		}
		return int(r.FloatValue(sample, uint(ch)) * 32767)
	}
	left := value(0)
	right := left
	if in == 2 {
		right = value(1)
	}
	if out == 1 {
		return append(pcm, clamp16((left+right)/2))
	}
	return append(pcm, clamp16(left), clamp16(right))
}

func clamp16(v int) int16 {
	return int16(max(-32768, min(32767, v)))
}

// Stop ends the replay and closes the frame channel. Safe to call repeatedly
// or on a source that never started.
func (s *Source) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	started := s.started
	close(s.stop)
	s.mu.Unlock()

	if started {
		<-s.done
	}
}
