package processor

import (
	"testing"

	"github.com/bmharper/cimg/v2"
	"github.com/cyclopcam/logs"
	"github.com/perceptcam/perceptd/pkg/msgs"
	"github.com/perceptcam/perceptd/pkg/nn"
	"github.com/stretchr/testify/require"
)

type publishedMsg struct {
	topic string
	msg   any
}

type fakePublisher struct {
	published []publishedMsg
}

func (f *fakePublisher) Publish(topic string, msg any) error {
	f.published = append(f.published, publishedMsg{topic: topic, msg: msg})
	return nil
}

func (f *fakePublisher) onTopic(topic string) []any {
	out := []any{}
	for _, p := range f.published {
		if p.topic == topic {
			out = append(out, p.msg)
		}
	}
	return out
}

// stubSession implements all three session capabilities
type stubSession struct {
	names    []string
	det      *nn.Detection
	rendered *cimg.Image

	classifyCalls int
	detectCalls   int
	renderCalls   int
}

func (s *stubSession) Close() {}

func (s *stubSession) Classify(img *cimg.Image) ([]string, error) {
	s.classifyCalls++
	return s.names, nil
}

func (s *stubSession) Detect(img *cimg.Image) (*nn.Detection, error) {
	s.detectCalls++
	return s.det, nil
}

func (s *stubSession) DetectAndRender(img *cimg.Image) (*cimg.Image, error) {
	s.renderCalls++
	return s.rendered, nil
}

func newTestProcessor(t *testing.T, mode nn.Mode, strict bool, sess *stubSession) (*Processor, *fakePublisher, *int) {
	pub := &fakePublisher{}
	initCount := 0
	factory := func(width, height int) (nn.Session, error) {
		initCount++
		return sess, nil
	}
	p := NewProcessor(logs.NewTestingLog(t), pub, mode, factory, strict)
	return p, pub, &initCount
}

func testFrame(width, height int) *msgs.Image {
	return &msgs.Image{
		Header:   msgs.Header{Stamp: 1234567890, FrameID: "camera_color_frame"},
		Width:    uint32(width),
		Height:   uint32(height),
		Encoding: msgs.EncodingBGR8,
		Step:     uint32(width * 3),
		Data:     make([]byte, width*height*3),
	}
}

func TestEmptyFrameDrop(t *testing.T) {
	p, pub, initCount := newTestProcessor(t, nn.Detect{}, false, &stubSession{det: &nn.Detection{}})
	frame := testFrame(640, 480)
	frame.Height = 0
	frame.Data = nil
	require.NoError(t, p.ProcessFrame(frame))
	require.Empty(t, pub.published)
	require.Equal(t, 0, *initCount)
	require.False(t, p.Status().Initialized)
}

func TestClassifyHappyPath(t *testing.T) {
	sess := &stubSession{names: []string{"cup", "book"}}
	p, pub, _ := newTestProcessor(t, nn.Classify{}, false, sess)
	require.NoError(t, p.ProcessFrame(testFrame(640, 480)))

	onP1 := pub.onTopic(TopicP1Output)
	require.Len(t, onP1, 1)
	require.Len(t, pub.published, 1)
	out := onP1[0].(*msgs.ImageClassification)
	require.Equal(t, []string{"cup", "book"}, out.ObjectNames)
	require.Equal(t, int64(1234567890), out.Header.Stamp)
	require.Equal(t, "camera_color_frame", out.Header.FrameID)
	require.Equal(t, 1, sess.classifyCalls)
}

func TestDetectStructured(t *testing.T) {
	sess := &stubSession{
		det: &nn.Detection{
			ClassIndices: []int{3, 7},
			Scores:       []float32{0.9, 0.4},
			Boxes: []nn.Box{
				{X1: 10, Y1: 20, X2: 110, Y2: 220},
				{X1: 5, Y1: 5, X2: 15, Y2: 25},
			},
		},
	}
	p, pub, _ := newTestProcessor(t, nn.Detect{}, false, sess)
	require.NoError(t, p.ProcessFrame(testFrame(640, 480)))

	onP2 := pub.onTopic(TopicP2Output)
	require.Len(t, onP2, 1)
	require.Empty(t, pub.onTopic(TopicVisual))
	require.Empty(t, pub.onTopic(TopicP3Output))

	out := onP2[0].(*msgs.ObjectDetection)
	require.Equal(t, []int32{3, 7}, out.ClassIndices)
	require.Equal(t, []float32{0.9, 0.4}, out.Scores)
	require.Equal(t, []msgs.RegionOfInterest{
		{XOffset: 10, YOffset: 20, Width: 100, Height: 200, DoRectify: false},
		{XOffset: 5, YOffset: 5, Width: 10, Height: 20, DoRectify: false},
	}, out.BBoxes)
	require.Empty(t, out.Masks)
}

func TestDetectVisualize(t *testing.T) {
	sess := &stubSession{rendered: cimg.NewImage(640, 480, cimg.PixelFormatBGR)}
	p, pub, _ := newTestProcessor(t, nn.Detect{Visualize: true}, false, sess)
	require.NoError(t, p.ProcessFrame(testFrame(640, 480)))

	onVisual := pub.onTopic(TopicVisual)
	require.Len(t, onVisual, 1)
	require.Empty(t, pub.onTopic(TopicP2Output))

	out := onVisual[0].(*msgs.Image)
	require.Equal(t, uint32(640), out.Width)
	require.Equal(t, uint32(480), out.Height)
	require.Equal(t, msgs.EncodingBGR8, out.Encoding)
	require.Equal(t, 1, sess.renderCalls)
	require.Equal(t, 0, sess.detectCalls)
}

func TestSegmentVisualize(t *testing.T) {
	sess := &stubSession{rendered: cimg.NewImage(640, 480, cimg.PixelFormatBGR)}
	p, pub, _ := newTestProcessor(t, nn.DetectAndSegment{Visualize: true}, false, sess)
	require.NoError(t, p.ProcessFrame(testFrame(640, 480)))

	onVisual := pub.onTopic(TopicVisual)
	require.Len(t, onVisual, 1)
	require.Empty(t, pub.onTopic(TopicP3Output))
	require.Equal(t, msgs.EncodingBGR8, onVisual[0].(*msgs.Image).Encoding)
	require.Equal(t, 1, sess.renderCalls)
	require.Equal(t, 0, sess.detectCalls)
}

func TestSegmentWithMasks(t *testing.T) {
	maskPixels := make([]float32, 32*32)
	maskPixels[0] = 0.75
	sess := &stubSession{
		det: &nn.Detection{
			ClassIndices: []int{1},
			Scores:       []float32{0.8},
			Boxes:        []nn.Box{{X1: 0, Y1: 0, X2: 32, Y2: 32}},
			Masks:        []nn.Mask{{Width: 32, Height: 32, Pixels: maskPixels}},
		},
	}
	p, pub, _ := newTestProcessor(t, nn.DetectAndSegment{}, false, sess)
	require.NoError(t, p.ProcessFrame(testFrame(640, 480)))

	onP3 := pub.onTopic(TopicP3Output)
	require.Len(t, onP3, 1)
	require.Empty(t, pub.onTopic(TopicVisual))
	require.Empty(t, pub.onTopic(TopicP2Output))

	out := onP3[0].(*msgs.ObjectDetection)
	require.Len(t, out.ClassIndices, 1)
	require.Len(t, out.Scores, 1)
	require.Equal(t, []msgs.RegionOfInterest{
		{XOffset: 0, YOffset: 0, Width: 32, Height: 32, DoRectify: false},
	}, out.BBoxes)
	require.Len(t, out.Masks, 1)
	require.Equal(t, msgs.Encoding32FC1, out.Masks[0].Encoding)
	require.Equal(t, uint32(32), out.Masks[0].Width)
	require.Equal(t, uint32(32), out.Masks[0].Height)
	require.Equal(t, maskPixels, out.Masks[0].Float32Pixels())
}

// A segmentation session must fill masks parallel to the boxes; a
// detection without them fails the frame instead of panicking.
func TestSegmentMissingMasksFatal(t *testing.T) {
	sess := &stubSession{
		det: &nn.Detection{
			ClassIndices: []int{1},
			Scores:       []float32{0.8},
			Boxes:        []nn.Box{{X1: 0, Y1: 0, X2: 32, Y2: 32}},
		},
	}
	p, pub, _ := newTestProcessor(t, nn.DetectAndSegment{}, false, sess)
	err := p.ProcessFrame(testFrame(640, 480))
	require.Error(t, err)
	require.Contains(t, err.Error(), "masks")
	require.Empty(t, pub.onTopic(TopicP3Output))
}

func TestGeometryChangeFatal(t *testing.T) {
	sess := &stubSession{det: &nn.Detection{}}
	p, _, initCount := newTestProcessor(t, nn.Detect{}, false, sess)
	require.NoError(t, p.ProcessFrame(testFrame(640, 480)))
	require.Equal(t, 1, *initCount)

	err := p.ProcessFrame(testFrame(320, 240))
	require.Error(t, err)
	require.Contains(t, err.Error(), "Input camera changed")
	require.Equal(t, 1, *initCount)
}

// Legacy guard: a single-dimension change proceeds against the session
// initialized for the old dimensions.
func TestGeometryChangeSingleDimLegacy(t *testing.T) {
	sess := &stubSession{det: &nn.Detection{}}
	p, pub, _ := newTestProcessor(t, nn.Detect{}, false, sess)
	require.NoError(t, p.ProcessFrame(testFrame(640, 480)))
	require.NoError(t, p.ProcessFrame(testFrame(640, 240)))
	require.Len(t, pub.onTopic(TopicP2Output), 2)
}

func TestGeometryChangeSingleDimStrict(t *testing.T) {
	sess := &stubSession{det: &nn.Detection{}}
	p, _, _ := newTestProcessor(t, nn.Detect{}, true, sess)
	require.NoError(t, p.ProcessFrame(testFrame(640, 480)))
	err := p.ProcessFrame(testFrame(640, 240))
	require.Error(t, err)
	require.Contains(t, err.Error(), "Input camera changed")
}

func TestBootstrapIdempotent(t *testing.T) {
	sess := &stubSession{det: &nn.Detection{}}
	p, pub, initCount := newTestProcessor(t, nn.Detect{}, false, sess)
	for i := 0; i < 3; i++ {
		require.NoError(t, p.ProcessFrame(testFrame(640, 480)))
	}
	require.Equal(t, 1, *initCount)
	require.Len(t, pub.onTopic(TopicP2Output), 3)

	status := p.Status()
	require.True(t, status.Initialized)
	require.Equal(t, 640, status.Width)
	require.Equal(t, 480, status.Height)
}

func TestControlPlane(t *testing.T) {
	sess := &stubSession{det: &nn.Detection{}}
	p, _, _ := newTestProcessor(t, nn.Detect{}, false, sess)
	shutdowns := 0
	p.OnShutdown = func() { shutdowns++ }

	p.ProcessState(&msgs.String{Data: "pause"})
	require.Equal(t, 0, shutdowns)

	p.ProcessState(&msgs.String{Data: "shutdown"})
	require.Equal(t, 1, shutdowns)
}

func TestLatencyProbe(t *testing.T) {
	sess := &stubSession{det: &nn.Detection{}}
	p, _, _ := newTestProcessor(t, nn.Detect{}, false, sess)
	require.NoError(t, p.ProcessFrame(testFrame(640, 480)))
	snap := p.Stats.Snapshot()
	require.Equal(t, int64(1), snap.Frames)
	// Sub-millisecond frames still report a finite rate
	require.Greater(t, snap.LastFPS, 0.0)
	require.LessOrEqual(t, snap.LastFPS, 1e6+1.0)
}

func TestDecodeRGB8(t *testing.T) {
	frame := &msgs.Image{
		Width:    2,
		Height:   1,
		Encoding: msgs.EncodingRGB8,
		Step:     6,
		Data:     []byte{255, 0, 0, 0, 0, 255}, // red, blue in RGB
	}
	img, err := decodeImage(frame)
	require.NoError(t, err)
	require.Equal(t, 2, img.Width)
	require.Equal(t, 1, img.Height)
	// BGR order: red becomes (0,0,255), blue becomes (255,0,0)
	require.Equal(t, []byte{0, 0, 255, 255, 0, 0}, img.Pixels)
}

func TestDecodeRejectsTruncatedPayload(t *testing.T) {
	p, pub, initCount := newTestProcessor(t, nn.Detect{}, false, &stubSession{det: &nn.Detection{}})
	frame := testFrame(640, 480)
	frame.Data = frame.Data[:100]
	require.NoError(t, p.ProcessFrame(frame))
	require.Empty(t, pub.published)
	require.Equal(t, 0, *initCount)
}

func TestDecodeRejectsUnknownEncoding(t *testing.T) {
	p, pub, _ := newTestProcessor(t, nn.Detect{}, false, &stubSession{det: &nn.Detection{}})
	frame := testFrame(640, 480)
	frame.Encoding = "mono8"
	require.NoError(t, p.ProcessFrame(frame))
	require.Empty(t, pub.published)
}

// Row padding in Step must be stripped during decode
func TestDecodePaddedStep(t *testing.T) {
	width, height := 4, 2
	stride := width*3 + 8
	data := make([]byte, stride*height)
	for y := 0; y < height; y++ {
		for i := 0; i < width*3; i++ {
			data[y*stride+i] = byte(y*100 + i)
		}
	}
	frame := &msgs.Image{
		Width:    uint32(width),
		Height:   uint32(height),
		Encoding: msgs.EncodingBGR8,
		Step:     uint32(stride),
		Data:     data,
	}
	img, err := decodeImage(frame)
	require.NoError(t, err)
	require.Equal(t, width, img.Width)
	require.Equal(t, height, img.Height)
	for y := 0; y < height; y++ {
		for i := 0; i < width*3; i++ {
			require.Equal(t, byte(y*100+i), img.Pixels[y*width*3+i])
		}
	}
}
