package nn

import "fmt"

// Mode is the output mode of a session, as a tagged variant.
// Classification has no visualize path, so "visualize in P1" is
// unrepresentable rather than ignored at runtime.
type Mode interface {
	mode()
	String() string
}

// Classify emits image-level class names (precision level 1).
type Classify struct{}

// Detect emits bounding boxes (precision level 2), or an annotated
// image when Visualize is set.
type Detect struct {
	Visualize bool
}

// DetectAndSegment emits bounding boxes plus per-instance masks
// (precision level 3), or an annotated image when Visualize is set.
type DetectAndSegment struct {
	Visualize bool
}

func (Classify) mode()         {}
func (Detect) mode()           {}
func (DetectAndSegment) mode() {}

func (Classify) String() string { return "classify" }

func (m Detect) String() string {
	if m.Visualize {
		return "detect (visualize)"
	}
	return "detect"
}

func (m DetectAndSegment) String() string {
	if m.Visualize {
		return "detect+segment (visualize)"
	}
	return "detect+segment"
}

// ModeForLevel translates the configured precision level and visualize
// flag into a Mode. Levels outside {1,2,3} are rejected.
func ModeForLevel(level int, visualize bool) (Mode, error) {
	switch level {
	case 1:
		return Classify{}, nil
	case 2:
		return Detect{Visualize: visualize}, nil
	case 3:
		return DetectAndSegment{Visualize: visualize}, nil
	default:
		return nil, fmt.Errorf("invalid precision level %v (must be 1, 2 or 3)", level)
	}
}
