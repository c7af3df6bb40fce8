package ort

import (
	"fmt"
	"sort"

	"github.com/bmharper/cimg/v2"
	ort "github.com/yalue/onnxruntime_go"

	"github.com/perceptcam/perceptd/pkg/nn"
)

// toNCHW converts a dense BGR 8-bit image into the model input layout:
// float32 NCHW, RGB channel order, scaled to [0,1].
func toNCHW(img *cimg.Image) []float32 {
	width := img.Width
	height := img.Height
	plane := width * height
	out := make([]float32, 3*plane)
	src := img.Pixels
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			i := y*width + x
			b := src[i*3+0]
			g := src[i*3+1]
			r := src[i*3+2]
			out[i] = float32(r) / 255
			out[plane+i] = float32(g) / 255
			out[2*plane+i] = float32(b) / 255
		}
	}
	return out
}

type scoredClass struct {
	idx   int
	score float32
}

// topClasses returns the names of all classes clearing the probability
// threshold, most confident first.
func (s *Session) topClasses(scores []float32) []string {
	passing := []scoredClass{}
	for i, score := range scores {
		if score >= s.params.ProbabilityThreshold {
			passing = append(passing, scoredClass{idx: i, score: score})
		}
	}
	sort.Slice(passing, func(a, b int) bool { return passing[a].score > passing[b].score })
	names := make([]string, 0, len(passing))
	for _, c := range passing {
		names = append(names, s.ClassName(c.idx))
	}
	return names
}

// decodeDetection translates the model's boxes/labels/scores(/masks)
// outputs into a Detection, dropping instances below the probability
// threshold. The exported models apply their own NMS.
func (s *Session) decodeDetection(outputs []ort.Value) (*nn.Detection, error) {
	boxes, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return nil, fmt.Errorf("unexpected boxes output type")
	}
	labels, err := toIntSlice(outputs[1])
	if err != nil {
		return nil, err
	}
	scores, ok := outputs[2].(*ort.Tensor[float32])
	if !ok {
		return nil, fmt.Errorf("unexpected scores output type")
	}

	var masks *ort.Tensor[float32]
	if s.kind == KindSegmenter {
		masks, ok = outputs[3].(*ort.Tensor[float32])
		if !ok {
			return nil, fmt.Errorf("unexpected masks output type")
		}
	}

	boxData := boxes.GetData()
	scoreData := scores.GetData()
	n := len(boxData) / 4
	if len(labels) < n || len(scoreData) < n {
		return nil, fmt.Errorf("detector output lengths disagree (boxes %v, labels %v, scores %v)", n, len(labels), len(scoreData))
	}

	frame := nn.FrameRect(s.width, s.height)
	det := &nn.Detection{
		ClassIndices: make([]int, 0, n),
		Scores:       make([]float32, 0, n),
		Boxes:        make([]nn.Box, 0, n),
	}
	var maskData []float32
	var maskH, maskW int
	if masks != nil {
		det.Masks = make([]nn.Mask, 0, n)
		maskData = masks.GetData()
		maskShape := masks.GetShape()
		// [N, 1, h, w]
		maskH = int(maskShape[len(maskShape)-2])
		maskW = int(maskShape[len(maskShape)-1])
	}

	for i := 0; i < n; i++ {
		if scoreData[i] < s.params.ProbabilityThreshold {
			continue
		}
		box := nn.BoxFromCorners(boxData[i*4], boxData[i*4+1], boxData[i*4+2], boxData[i*4+3], frame)
		det.ClassIndices = append(det.ClassIndices, labels[i])
		det.Scores = append(det.Scores, scoreData[i])
		det.Boxes = append(det.Boxes, box)
		if masks != nil {
			instance := maskData[i*maskH*maskW : (i+1)*maskH*maskW]
			det.Masks = append(det.Masks, projectMask(instance, maskW, maskH, box, frame))
		}
	}
	return det, nil
}

// Model exports disagree about the label tensor's element type
func toIntSlice(v ort.Value) ([]int, error) {
	switch t := v.(type) {
	case *ort.Tensor[int64]:
		data := t.GetData()
		out := make([]int, len(data))
		for i, l := range data {
			out[i] = int(l)
		}
		return out, nil
	case *ort.Tensor[int32]:
		data := t.GetData()
		out := make([]int, len(data))
		for i, l := range data {
			out[i] = int(l)
		}
		return out, nil
	case *ort.Tensor[float32]:
		data := t.GetData()
		out := make([]int, len(data))
		for i, l := range data {
			out[i] = int(l)
		}
		return out, nil
	}
	return nil, fmt.Errorf("unexpected labels output type")
}

// projectMask scales the model's fixed-resolution instance mask into
// the box region of a full-frame float32 map. Only the part of the box
// visible inside the frame is written.
func projectMask(instance []float32, maskW, maskH int, box nn.Box, frame nn.Rect) nn.Mask {
	out := nn.Mask{
		Width:  frame.Width,
		Height: frame.Height,
		Pixels: make([]float32, frame.Width*frame.Height),
	}
	boxW := box.Width()
	boxH := box.Height()
	visible := box.ToRect().Intersection(frame)
	if boxW <= 0 || boxH <= 0 || visible.Area() == 0 {
		return out
	}
	for y := visible.Y; y < visible.Y+visible.Height; y++ {
		srcY := (y - box.Y1) * maskH / boxH
		for x := visible.X; x < visible.X+visible.Width; x++ {
			srcX := (x - box.X1) * maskW / boxW
			out.Pixels[y*frame.Width+x] = instance[srcY*maskW+srcX]
		}
	}
	return out
}
