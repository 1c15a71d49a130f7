// Package mic captures microphone audio with miniaudio (malgo) and delivers it
// as fixed-size PCM frames.
package mic

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/gen2brain/malgo"

	voicesession "github.com/cortexswarm/voice-session-go"
)

const frameBuffer = 64

var errRestart = errors.New("mic: source is not restartable")

// Device is a miniaudio context shared by every Source it creates.
type Device struct {
	ctx *malgo.AllocatedContext
	log *log.Logger
}

// Open initializes the audio backend. Close releases it.
func Open(logger *log.Logger) (*Device, error) {
	if logger == nil {
		logger = log.Default().WithPrefix("mic")
	}
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(message string) {
		logger.Debug("malgo", "msg", strings.TrimSpace(message))
	})
	if err != nil {
		return nil, fmt.Errorf("%w: malgo init: %w", voicesession.ErrDeviceUnavailable, err)
	}
	return &Device{ctx: ctx, log: logger}, nil
}

// NewSource implements voicesession.AudioDevice.
func (d *Device) NewSource() voicesession.AudioFrameSource {
	return &Source{dev: d}
}

// Close releases the audio backend. Sources must be stopped first.
func (d *Device) Close() error {
	err := d.ctx.Uninit()
	d.ctx.Free()
	return err
}

// Source is one capture session on the default input device.
type Source struct {
	dev *Device

	mu       sync.Mutex
	started  bool
	stopped  bool
	device   *malgo.Device
	framer   *voicesession.Framer
	channels int
	frames   chan voicesession.Frame
	dropped  int
}

// Start opens the default capture device in signed 16-bit format and begins
// delivering frames of session.FrameSize samples per channel.
func (s *Source) Start(session voicesession.AudioSession) (<-chan voicesession.Frame, error) {
	s.mu.Lock()
	if s.started || s.stopped {
		s.mu.Unlock()
		return nil, errRestart
	}
	s.started = true
	s.channels = session.Channels
	s.framer = voicesession.NewFramer(session.FrameSize, session.Channels)
	s.frames = make(chan voicesession.Frame, frameBuffer)
	s.mu.Unlock()

	cfg := malgo.DefaultDeviceConfig(malgo.Capture)
	cfg.Capture.Format = malgo.FormatS16
	cfg.Capture.Channels = uint32(session.Channels)
	cfg.SampleRate = uint32(session.SampleRate)
	cfg.PeriodSizeInFrames = uint32(session.FrameSize)
	cfg.Alsa.NoMMap = 1

	device, err := malgo.InitDevice(s.dev.ctx.Context, cfg, malgo.DeviceCallbacks{Data: s.onRecvFrames})
	if err != nil {
		s.Stop()
		return nil, fmt.Errorf("%w: init capture device: %w", voicesession.ErrDeviceUnavailable, err)
	}
	s.mu.Lock()
	s.device = device
	s.mu.Unlock()

	if err := device.Start(); err != nil {
		s.Stop()
		return nil, fmt.Errorf("%w: start capture device: %w", voicesession.ErrDeviceUnavailable, err)
	}
	s.dev.log.Info("capture started",
		"rate", session.SampleRate, "channels", session.Channels, "frame", session.FrameSize,
		"category", session.Category, "mode", session.Mode)
	return s.frames, nil
}

func (s *Source) onRecvFrames(_, in []byte, framecount uint32) {
	if framecount == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	n := int(framecount) * s.channels
	for _, frame := range s.framer.Push(decodeS16(in, n)) {
		select {
		case s.frames <- frame:
		default:
			// consumer is slow
			s.dropped++
		}
	}
}

// Stop stops and releases the capture device and closes the frame channel.
func (s *Source) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	device := s.device
	s.mu.Unlock()

	// The data callback may be waiting on mu, so the device is stopped unlocked.
	if device != nil {
		if err := device.Stop(); err != nil {
			s.dev.log.Debug("stop capture device", "error", err)
		}
		device.Uninit()
	}

	s.mu.Lock()
	if s.frames != nil {
		close(s.frames)
	}
	dropped := s.dropped
	s.mu.Unlock()
	if dropped > 0 {
		s.dev.log.Warn("frames dropped", "count", dropped)
	}
}

// decodeS16 reads up to n little-endian signed 16-bit samples from b.
func decodeS16(b []byte, n int) []int16 {
	n = min(n, len(b)/2)
	out := make([]int16, n)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(b[2*i:]))
	}
	return out
}
