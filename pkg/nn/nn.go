package nn

import (
	"bufio"
	"encoding/json"
	"os"
	"strings"

	"github.com/bmharper/cimg/v2"
)

// Package nn is the neural network interface layer.
// Session implementations live elsewhere (eg pkg/ort); this package
// defines the capability interfaces and the detector output types.

const DefaultProbabilityThreshold = 0.5
const DefaultMaskThreshold = 0.5

// Detection parameters consumed at session creation
type DetectionParams struct {
	ProbabilityThreshold float32 // Value between 0 and 1. Lower values will find more objects. Zero value will use the default.
	MaskThreshold        float32 // Threshold at which a mask pixel is considered part of the instance. Zero value will use the default.
}

// Create a default DetectionParams object
func NewDetectionParams() *DetectionParams {
	return &DetectionParams{
		ProbabilityThreshold: DefaultProbabilityThreshold,
		MaskThreshold:        DefaultMaskThreshold,
	}
}

// Box is a detector bounding box in corner form.
// Invariant: X1 <= X2 and Y1 <= Y2.
type Box struct {
	X1 int `json:"x1"`
	Y1 int `json:"y1"`
	X2 int `json:"x2"`
	Y2 int `json:"y2"`
}

func (b Box) Width() int  { return b.X2 - b.X1 }
func (b Box) Height() int { return b.Y2 - b.Y1 }

func (b Box) ToRect() Rect {
	return Rect{X: b.X1, Y: b.Y1, Width: b.Width(), Height: b.Height()}
}

// Mask is a dense per-pixel float32 map covering one detected instance.
type Mask struct {
	Width  int
	Height int
	Pixels []float32
}

// Detection is the structured output of one detector invocation.
// ClassIndices, Scores, Boxes (and Masks, when the session segments)
// are parallel: all have the same length.
type Detection struct {
	ClassIndices []int
	Scores       []float32
	Boxes        []Box
	Masks        []Mask
}

// Number of detected instances
func (d *Detection) Len() int {
	return len(d.Boxes)
}

// Session capabilities.
// A session exposes only the operations its model supports; callers
// assert the capability they need instead of testing flags at runtime.

// Classifier produces ordered human-readable class names for an image.
type Classifier interface {
	Classify(img *cimg.Image) ([]string, error)
}

// Detector produces structured detections for an image.
// Sessions loaded from a segmentation model also fill Detection.Masks.
type Detector interface {
	Detect(img *cimg.Image) (*Detection, error)
}

// Renderer produces an annotated copy of the input image.
type Renderer interface {
	DetectAndRender(img *cimg.Image) (*cimg.Image, error)
}

// Session is a loaded, ready-to-infer model bound to a fixed input
// geometry. Close must be called when finished.
type Session interface {
	Close()
}

// ModelConfig is saved in a JSON file along with the model weights
type ModelConfig struct {
	Architecture string   `json:"architecture"` // eg "maskrcnn"
	Classes      []string `json:"classes"`      // eg ["person", "bicycle", "car", ...]
}

// Load model config from a JSON file
func LoadModelConfig(filename string) (*ModelConfig, error) {
	b, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}
	config := &ModelConfig{}
	err = json.Unmarshal(b, config)
	if err != nil {
		return nil, err
	}
	return config, nil
}

// Load a text file with class names on each line
func LoadClassFile(filename string) ([]string, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	classes := []string{}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" {
			classes = append(classes, line)
		}
	}
	return classes, nil
}
