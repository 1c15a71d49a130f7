package voicesession

// Framer cuts arbitrarily sized buffers of interleaved samples into frames of
// exactly FrameSize samples per channel. Pure logic; not safe for concurrent use.
type Framer struct {
	frameLen int // samples per frame across all channels
	pending  []int16
}

// NewFramer returns a Framer for the given frame size and channel count.
// Non-positive values are treated as 1.
func NewFramer(frameSize, channels int) *Framer {
	frameSize = max(1, frameSize)
	channels = max(1, channels)
	n := frameSize * channels
	return &Framer{
		frameLen: n,
		pending:  make([]int16, 0, 2*n),
	}
}

// FrameLen is the number of samples in one frame across all channels.
func (f *Framer) FrameLen() int { return f.frameLen }

// Push appends samples and returns every complete frame now available. Returned
// frames are freshly allocated and may be retained by the caller.
func (f *Framer) Push(samples []int16) []Frame {
	f.pending = append(f.pending, samples...)
	if len(f.pending) < f.frameLen {
		return nil
	}
	out := make([]Frame, 0, len(f.pending)/f.frameLen)
	for len(f.pending) >= f.frameLen {
		frame := make(Frame, f.frameLen)
		copy(frame, f.pending[:f.frameLen])
		out = append(out, frame)
		f.pending = append(f.pending[:0], f.pending[f.frameLen:]...)
	}
	return out
}

// Flush returns the buffered remainder padded with silence to a full frame,
// or nil when nothing is buffered.
func (f *Framer) Flush() Frame {
	if len(f.pending) == 0 {
		return nil
	}
	frame := make(Frame, f.frameLen)
	copy(frame, f.pending)
	f.pending = f.pending[:0]
	return frame
}

// Buffered is the number of samples waiting for a full frame.
func (f *Framer) Buffered() int { return len(f.pending) }

// Reset drops buffered samples.
func (f *Framer) Reset() {
	clear(f.pending)
	f.pending = f.pending[:0]
}
