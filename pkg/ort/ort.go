// Package ort implements the nn session capabilities on top of ONNX
// Runtime. A session is bound to a fixed input geometry at creation;
// the exported models carry their own NMS, so the only postprocessing
// here is score thresholding and mask projection.
package ort

import (
	"fmt"

	"github.com/bmharper/cimg/v2"
	ort "github.com/yalue/onnxruntime_go"

	"github.com/perceptcam/perceptd/pkg/nn"
)

// Kind selects the model contract the session expects.
type Kind int

const (
	KindClassifier Kind = iota + 1 // score vector output
	KindDetector                   // boxes + labels + scores outputs
	KindSegmenter                  // boxes + labels + scores + masks outputs
)

// Config for creating a session. Width and height come from the first
// frame, not from here.
type Config struct {
	ModelPath   string
	ClassFile   string // Text file with one class name per line (empty falls back to the COCO classes)
	LibraryPath string // ONNX Runtime shared library (empty uses the platform default)
	Kind        Kind
	Params      *nn.DetectionParams
}

// KindForLevel maps a precision level to the session kind.
func KindForLevel(level int) (Kind, error) {
	switch level {
	case 1:
		return KindClassifier, nil
	case 2:
		return KindDetector, nil
	case 3:
		return KindSegmenter, nil
	}
	return 0, fmt.Errorf("invalid precision level %v", level)
}

// Session implements nn.Classifier, nn.Detector and nn.Renderer,
// depending on Kind.
type Session struct {
	kind    Kind
	width   int
	height  int
	classes []string
	params  nn.DetectionParams
	session *ort.DynamicAdvancedSession

	outputNames []string
}

// Initialize the ONNX Runtime environment. Safe to call more than once.
func initRuntime(libraryPath string) error {
	if ort.IsInitialized() {
		return nil
	}
	if libraryPath != "" {
		ort.SetSharedLibraryPath(libraryPath)
	}
	return ort.InitializeEnvironment()
}

// NewSession loads the model and binds it to the given input geometry.
func NewSession(cfg Config, width, height int) (*Session, error) {
	if err := initRuntime(cfg.LibraryPath); err != nil {
		return nil, fmt.Errorf("onnxruntime init: %w", err)
	}

	params := nn.NewDetectionParams()
	if cfg.Params != nil {
		if cfg.Params.ProbabilityThreshold != 0 {
			params.ProbabilityThreshold = cfg.Params.ProbabilityThreshold
		}
		if cfg.Params.MaskThreshold != 0 {
			params.MaskThreshold = cfg.Params.MaskThreshold
		}
	}

	classes := nn.COCOClasses
	if cfg.ClassFile != "" {
		var err error
		classes, err = nn.LoadClassFile(cfg.ClassFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load class file: %w", err)
		}
	}

	var inputNames, outputNames []string
	switch cfg.Kind {
	case KindClassifier:
		inputNames = []string{"input"}
		outputNames = []string{"output"}
	case KindDetector:
		inputNames = []string{"image"}
		outputNames = []string{"boxes", "labels", "scores"}
	case KindSegmenter:
		inputNames = []string{"image"}
		outputNames = []string{"boxes", "labels", "scores", "masks"}
	default:
		return nil, fmt.Errorf("invalid session kind %v", cfg.Kind)
	}

	opts, err := ort.NewSessionOptions()
	if err != nil {
		return nil, err
	}
	defer opts.Destroy()

	session, err := ort.NewDynamicAdvancedSession(cfg.ModelPath, inputNames, outputNames, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to load model %v: %w", cfg.ModelPath, err)
	}

	return &Session{
		kind:        cfg.Kind,
		width:       width,
		height:      height,
		classes:     classes,
		params:      *params,
		session:     session,
		outputNames: outputNames,
	}, nil
}

func (s *Session) Close() {
	if s.session != nil {
		s.session.Destroy()
		s.session = nil
	}
}

// run executes the model against one preprocessed frame and returns
// the raw output values. The caller must destroy them.
func (s *Session) run(img *cimg.Image) ([]ort.Value, error) {
	if img.Width != s.width || img.Height != s.height {
		return nil, fmt.Errorf("frame is %vx%v, but session is bound to %vx%v", img.Width, img.Height, s.width, s.height)
	}
	pixels := toNCHW(img)
	input, err := ort.NewTensor(ort.NewShape(1, 3, int64(s.height), int64(s.width)), pixels)
	if err != nil {
		return nil, err
	}
	defer input.Destroy()

	outputs := make([]ort.Value, len(s.outputNames))
	if err := s.session.Run([]ort.Value{input}, outputs); err != nil {
		return nil, err
	}
	return outputs, nil
}

func destroyAll(values []ort.Value) {
	for _, v := range values {
		if v != nil {
			v.Destroy()
		}
	}
}

// Classify returns the class names whose score clears the probability
// threshold, ordered from most to least confident.
func (s *Session) Classify(img *cimg.Image) ([]string, error) {
	if s.kind != KindClassifier {
		return nil, fmt.Errorf("session is not a classifier")
	}
	outputs, err := s.run(img)
	if err != nil {
		return nil, err
	}
	defer destroyAll(outputs)

	scores, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return nil, fmt.Errorf("unexpected classifier output type")
	}
	return s.topClasses(scores.GetData()), nil
}

// Detect returns structured detections. Segmentation sessions also
// fill the per-instance masks, projected to full-frame maps.
func (s *Session) Detect(img *cimg.Image) (*nn.Detection, error) {
	if s.kind != KindDetector && s.kind != KindSegmenter {
		return nil, fmt.Errorf("session is not a detector")
	}
	outputs, err := s.run(img)
	if err != nil {
		return nil, err
	}
	defer destroyAll(outputs)
	return s.decodeDetection(outputs)
}

// DetectAndRender runs detection and returns an annotated copy of the
// input frame.
func (s *Session) DetectAndRender(img *cimg.Image) (*cimg.Image, error) {
	det, err := s.Detect(img)
	if err != nil {
		return nil, err
	}
	return renderDetection(img, det, s.classes, s.params.MaskThreshold), nil
}

// ClassName returns the human-readable name of a class index, or the
// index itself when no class file was loaded.
func (s *Session) ClassName(idx int) string {
	if idx >= 0 && idx < len(s.classes) {
		return s.classes[idx]
	}
	return fmt.Sprintf("class %v", idx)
}
