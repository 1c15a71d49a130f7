package voicesession

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFramerPush(t *testing.T) {
	f := NewFramer(4, 1)
	assert.Nil(t, f.Push([]int16{1, 2, 3}))
	assert.Equal(t, 3, f.Buffered())

	frames := f.Push([]int16{4, 5, 6, 7, 8, 9})
	require.Len(t, frames, 2)
	assert.Equal(t, Frame{1, 2, 3, 4}, frames[0])
	assert.Equal(t, Frame{5, 6, 7, 8}, frames[1])
	assert.Equal(t, 1, f.Buffered())

	// frames do not alias the internal buffer
	frames[0][0] = 100
	assert.Equal(t, Frame{9, 0, 0, 0}, f.Flush())
	assert.Nil(t, f.Flush())
}

func TestFramerChannels(t *testing.T) {
	f := NewFramer(2, 2)
	assert.Equal(t, 4, f.FrameLen())
	frames := f.Push([]int16{1, -1, 2, -2, 3})
	require.Len(t, frames, 1)
	assert.Equal(t, Frame{1, -1, 2, -2}, frames[0])
}

func TestFramerReset(t *testing.T) {
	f := NewFramer(0, 0)
	assert.Equal(t, 1, f.FrameLen())

	f = NewFramer(8, 1)
	f.Push([]int16{1, 2})
	f.Reset()
	assert.Zero(t, f.Buffered())
	assert.Nil(t, f.Flush())
}
