package ort

import (
	"fmt"
	"image"

	"github.com/bmharper/cimg/v2"
	"github.com/fogleman/gg"

	"github.com/perceptcam/perceptd/pkg/nn"
)

// Box/mask overlay colors, cycled by class index
var palette = [][3]int{
	{231, 76, 60},
	{46, 204, 113},
	{52, 152, 219},
	{241, 196, 15},
	{155, 89, 182},
	{230, 126, 34},
	{26, 188, 156},
}

const maskAlpha = 0.45

// renderDetection draws boxes, labels and mask overlays onto a copy of
// the frame, returning a BGR 8-bit image.
func renderDetection(frame *cimg.Image, det *nn.Detection, classes []string, maskThreshold float32) *cimg.Image {
	dc := gg.NewContextForRGBA(bgrToRGBA(frame))

	for i := 0; i < det.Len(); i++ {
		color := palette[det.ClassIndices[i]%len(palette)]
		if i < len(det.Masks) {
			overlayMask(dc, det.Masks[i], color, maskThreshold)
		}
	}

	for i := 0; i < det.Len(); i++ {
		box := det.Boxes[i]
		color := palette[det.ClassIndices[i]%len(palette)]
		dc.SetRGB255(color[0], color[1], color[2])
		dc.SetLineWidth(2)
		dc.DrawRectangle(float64(box.X1), float64(box.Y1), float64(box.Width()), float64(box.Height()))
		dc.Stroke()

		label := labelFor(det.ClassIndices[i], det.Scores[i], classes)
		dc.DrawString(label, float64(box.X1)+2, float64(box.Y1)-3)
	}

	return rgbaToBGR(dc.Image())
}

func labelFor(classIdx int, score float32, classes []string) string {
	if classIdx >= 0 && classIdx < len(classes) {
		return fmt.Sprintf("%v %.2f", classes[classIdx], score)
	}
	return fmt.Sprintf("%v %.2f", classIdx, score)
}

func overlayMask(dc *gg.Context, mask nn.Mask, color [3]int, threshold float32) {
	img, ok := dc.Image().(*image.RGBA)
	if !ok {
		return
	}
	for y := 0; y < mask.Height && y < img.Rect.Dy(); y++ {
		for x := 0; x < mask.Width && x < img.Rect.Dx(); x++ {
			if mask.Pixels[y*mask.Width+x] < threshold {
				continue
			}
			o := img.PixOffset(x, y)
			img.Pix[o+0] = blend(img.Pix[o+0], color[0])
			img.Pix[o+1] = blend(img.Pix[o+1], color[1])
			img.Pix[o+2] = blend(img.Pix[o+2], color[2])
		}
	}
}

func blend(under byte, over int) byte {
	return byte(float64(under)*(1-maskAlpha) + float64(over)*maskAlpha)
}

func bgrToRGBA(src *cimg.Image) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, src.Width, src.Height))
	for y := 0; y < src.Height; y++ {
		for x := 0; x < src.Width; x++ {
			i := (y*src.Width + x) * 3
			o := dst.PixOffset(x, y)
			dst.Pix[o+0] = src.Pixels[i+2]
			dst.Pix[o+1] = src.Pixels[i+1]
			dst.Pix[o+2] = src.Pixels[i+0]
			dst.Pix[o+3] = 255
		}
	}
	return dst
}

func rgbaToBGR(src image.Image) *cimg.Image {
	rgba, ok := src.(*image.RGBA)
	if !ok {
		b := src.Bounds()
		rgba = image.NewRGBA(b)
		for y := b.Min.Y; y < b.Max.Y; y++ {
			for x := b.Min.X; x < b.Max.X; x++ {
				rgba.Set(x, y, src.At(x, y))
			}
		}
	}
	width := rgba.Rect.Dx()
	height := rgba.Rect.Dy()
	pixels := make([]byte, width*height*3)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			o := rgba.PixOffset(rgba.Rect.Min.X+x, rgba.Rect.Min.Y+y)
			i := (y*width + x) * 3
			pixels[i+0] = rgba.Pix[o+2]
			pixels[i+1] = rgba.Pix[o+1]
			pixels[i+2] = rgba.Pix[o+0]
		}
	}
	return cimg.WrapImage(width, height, cimg.PixelFormatBGR, pixels)
}
