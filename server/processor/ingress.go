package processor

import (
	"fmt"

	"github.com/bmharper/cimg/v2"
	"github.com/perceptcam/perceptd/pkg/msgs"
)

// decodeImage turns a bus image message into a dense BGR 8-bit pixel
// buffer. Pixel values are preserved; no resizing or color correction.
// The returned image's (Width, Height) match the message's dimensions.
func decodeImage(m *msgs.Image) (*cimg.Image, error) {
	width := int(m.Width)
	height := int(m.Height)
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid image dimensions %vx%v", width, height)
	}

	srcStride := int(m.Step)
	if srcStride == 0 {
		srcStride = width * 3
	}
	if srcStride < width*3 {
		return nil, fmt.Errorf("image step %v too small for width %v", srcStride, width)
	}
	if len(m.Data) < srcStride*(height-1)+width*3 {
		return nil, fmt.Errorf("image payload truncated (%v bytes for %vx%v, step %v)", len(m.Data), width, height, srcStride)
	}

	switch m.Encoding {
	case msgs.EncodingBGR8:
		return compactBGR(m.Data, width, height, srcStride, false), nil
	case msgs.EncodingRGB8:
		return compactBGR(m.Data, width, height, srcStride, true), nil
	default:
		return nil, fmt.Errorf("unsupported image encoding %q", m.Encoding)
	}
}

// compactBGR copies the source rows into a dense BGR buffer, dropping
// any row padding and swapping channels when the source is RGB.
func compactBGR(src []byte, width, height, srcStride int, swapRB bool) *cimg.Image {
	pixels := make([]byte, width*height*3)
	dstStride := width * 3
	for y := 0; y < height; y++ {
		srcRow := src[y*srcStride : y*srcStride+dstStride]
		dstRow := pixels[y*dstStride : (y+1)*dstStride]
		if swapRB {
			for x := 0; x < width; x++ {
				dstRow[x*3+0] = srcRow[x*3+2]
				dstRow[x*3+1] = srcRow[x*3+1]
				dstRow[x*3+2] = srcRow[x*3+0]
			}
		} else {
			copy(dstRow, srcRow)
		}
	}
	return cimg.WrapImage(width, height, cimg.PixelFormatBGR, pixels)
}
