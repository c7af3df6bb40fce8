// Package msgs defines the bus-native message schemas.
// Messages are CBOR-encoded on the wire, with field layouts that mirror
// the robot side of the bus (sensor images, regions of interest, and
// the perception output messages).
package msgs

import (
	"encoding/binary"
	"math"

	"github.com/bmharper/cimg/v2"
)

// Pixel encodings understood by the node
const (
	EncodingBGR8  = "bgr8"
	EncodingRGB8  = "rgb8"
	Encoding32FC1 = "32FC1"
)

// Header carries the source timestamp (nanoseconds, opaque to the node)
// and the frame of reference of a message.
type Header struct {
	Stamp   int64  `cbor:"stamp"`
	FrameID string `cbor:"frame_id"`
}

// Image is a dense pixel buffer. Step is the number of bytes per row.
type Image struct {
	Header   Header `cbor:"header"`
	Width    uint32 `cbor:"width"`
	Height   uint32 `cbor:"height"`
	Encoding string `cbor:"encoding"`
	Step     uint32 `cbor:"step"`
	Data     []byte `cbor:"data"`
}

// String is a plain directive message (control plane).
type String struct {
	Data string `cbor:"data"`
}

// RegionOfInterest is an axis-aligned rectangle described by its
// top-left corner and extent.
type RegionOfInterest struct {
	XOffset   uint32 `cbor:"x_offset"`
	YOffset   uint32 `cbor:"y_offset"`
	Width     uint32 `cbor:"width"`
	Height    uint32 `cbor:"height"`
	DoRectify bool   `cbor:"do_rectify"`
}

// ImageClassification is the precision-level 1 output.
type ImageClassification struct {
	Header      Header   `cbor:"header"`
	ObjectNames []string `cbor:"object_names"`
}

// ObjectDetection is the precision-level 2 and 3 output.
// Masks is empty for level 2. All slices have equal length.
type ObjectDetection struct {
	Header       Header             `cbor:"header"`
	ClassIndices []int32            `cbor:"class_indices"`
	Scores       []float32          `cbor:"scores"`
	BBoxes       []RegionOfInterest `cbor:"bboxes"`
	Masks        []Image            `cbor:"masks"`
}

// WrapBGR wraps an 8-bit 3-channel image as a bus image message.
// The pixel buffer is referenced, not copied.
func WrapBGR(header Header, img *cimg.Image) Image {
	return Image{
		Header:   header,
		Width:    uint32(img.Width),
		Height:   uint32(img.Height),
		Encoding: EncodingBGR8,
		Step:     uint32(img.Width * 3),
		Data:     img.Pixels,
	}
}

// WrapFloat32 wraps a dense float32 map (eg an instance mask) as a
// single-channel 32-bit float image message.
func WrapFloat32(header Header, width, height int, pixels []float32) Image {
	data := make([]byte, len(pixels)*4)
	for i, v := range pixels {
		binary.LittleEndian.PutUint32(data[i*4:], math.Float32bits(v))
	}
	return Image{
		Header:   header,
		Width:    uint32(width),
		Height:   uint32(height),
		Encoding: Encoding32FC1,
		Step:     uint32(width * 4),
		Data:     data,
	}
}

// Float32Pixels decodes the payload of a 32FC1 image.
func (m *Image) Float32Pixels() []float32 {
	n := len(m.Data) / 4
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(m.Data[i*4:]))
	}
	return out
}
