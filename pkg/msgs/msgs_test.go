package msgs

import (
	"testing"

	"github.com/bmharper/cimg/v2"
	"github.com/stretchr/testify/require"
)

func TestWrapFloat32Roundtrip(t *testing.T) {
	pixels := []float32{0, 0.25, 0.5, 1, -3.75, 1e6}
	m := WrapFloat32(Header{Stamp: 42}, 3, 2, pixels)
	require.Equal(t, Encoding32FC1, m.Encoding)
	require.Equal(t, uint32(3), m.Width)
	require.Equal(t, uint32(2), m.Height)
	require.Equal(t, uint32(12), m.Step)
	require.Equal(t, int64(42), m.Header.Stamp)
	require.Equal(t, pixels, m.Float32Pixels())
}

func TestWrapBGR(t *testing.T) {
	img := cimg.NewImage(4, 2, cimg.PixelFormatBGR)
	m := WrapBGR(Header{Stamp: 7, FrameID: "cam"}, img)
	require.Equal(t, EncodingBGR8, m.Encoding)
	require.Equal(t, uint32(4), m.Width)
	require.Equal(t, uint32(2), m.Height)
	require.Equal(t, uint32(12), m.Step)
	require.Equal(t, "cam", m.Header.FrameID)
	require.Len(t, m.Data, 4*2*3)
}
