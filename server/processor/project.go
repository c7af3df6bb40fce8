package processor

import (
	"fmt"

	"github.com/bmharper/cimg/v2"
	"github.com/perceptcam/perceptd/pkg/msgs"
	"github.com/perceptcam/perceptd/pkg/nn"
)

// publishDetection translates structured detector output into a bus
// message, preserving the detector's iteration order. No filtering,
// thresholding or NMS happens here; that is the session's job.
func (p *Processor) publishDetection(topic string, header msgs.Header, det *nn.Detection, withMasks bool) error {
	n := det.Len()
	if withMasks && len(det.Masks) < n {
		return fmt.Errorf("detection carries %v boxes but only %v masks", n, len(det.Masks))
	}
	out := msgs.ObjectDetection{
		Header:       header,
		ClassIndices: make([]int32, 0, n),
		Scores:       make([]float32, 0, n),
		BBoxes:       make([]msgs.RegionOfInterest, 0, n),
	}
	if withMasks {
		out.Masks = make([]msgs.Image, 0, n)
	}
	for i := 0; i < n; i++ {
		out.ClassIndices = append(out.ClassIndices, int32(det.ClassIndices[i]))
		out.Scores = append(out.Scores, det.Scores[i])
		out.BBoxes = append(out.BBoxes, roiFromBox(det.Boxes[i]))
		if withMasks {
			mask := det.Masks[i]
			out.Masks = append(out.Masks, msgs.WrapFloat32(header, mask.Width, mask.Height, mask.Pixels))
		}
	}
	return p.pub.Publish(topic, &out)
}

// publishVisual re-wraps the session's annotated image as a BGR 8-bit
// bus image on the visualization topic.
func (p *Processor) publishVisual(header msgs.Header, img *cimg.Image) error {
	m := msgs.WrapBGR(header, img)
	return p.pub.Publish(TopicVisual, &m)
}

func roiFromBox(b nn.Box) msgs.RegionOfInterest {
	return msgs.RegionOfInterest{
		XOffset:   uint32(b.X1),
		YOffset:   uint32(b.Y1),
		Width:     uint32(b.Width()),
		Height:    uint32(b.Height()),
		DoRectify: false,
	}
}
