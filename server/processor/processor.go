// Package processor is the inference dispatch and result-projection
// pipeline: the per-frame state machine between the message bus and
// the neural network session.
package processor

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/bmharper/cimg/v2"
	"github.com/cyclopcam/logs"
	"github.com/perceptcam/perceptd/pkg/bus"
	"github.com/perceptcam/perceptd/pkg/msgs"
	"github.com/perceptcam/perceptd/pkg/nn"
	"github.com/perceptcam/perceptd/server/perfstats"
)

// Bus topics
const (
	TopicImageInput = "/processor/image_input"
	TopicStateInput = "/processor/state_input"
	TopicVisual     = "/processor/output"
	TopicP1Output   = "/processor/epd_p1_output"
	TopicP2Output   = "/processor/epd_p2_output"
	TopicP3Output   = "/processor/epd_p3_output"
)

// Per-topic queue depth on the bus
const QueueDepth = 10

// How many recent frame samples the status API can see
const statsHistorySize = 64

// Publisher is the output half of the bus. Publishes are
// fire-and-forget; no acknowledgement is awaited.
type Publisher interface {
	Publish(topic string, msg any) error
}

// SessionFactory creates the inference session once the first frame's
// geometry is known. The session loads the model and allocates tensors
// sized to width x height.
type SessionFactory func(width, height int) (nn.Session, error)

// sessionState is written exactly once, by bootstrap() on the first
// valid frame. Bus dispatch is single-threaded, so no lock is needed;
// if the host ever moves to a multi-threaded executor, init must be
// protected by a one-shot latch.
type sessionState struct {
	initialized bool
	width       int
	height      int
	session     nn.Session
	classifier  nn.Classifier
	detector    nn.Detector
	renderer    nn.Renderer
}

// StateSummary is the externally visible session state.
type StateSummary struct {
	Initialized bool   `json:"initialized"`
	Width       int    `json:"width"`
	Height      int    `json:"height"`
	Mode        string `json:"mode"`
}

type Processor struct {
	Log   logs.Log
	Stats *perfstats.FrameStats

	// OnShutdown is invoked when a "shutdown" directive arrives on the
	// state topic. Set before Bind().
	OnShutdown func()

	pub            Publisher
	mode           nn.Mode
	strictGeometry bool
	newSession     SessionFactory
	state          sessionState
	summary        atomic.Pointer[StateSummary]
}

func NewProcessor(logger logs.Log, pub Publisher, mode nn.Mode, newSession SessionFactory, strictGeometry bool) *Processor {
	p := &Processor{
		Log:            logger,
		Stats:          perfstats.NewFrameStats(statsHistorySize),
		pub:            pub,
		mode:           mode,
		strictGeometry: strictGeometry,
		newSession:     newSession,
	}
	p.summary.Store(&StateSummary{Mode: mode.String()})
	return p
}

// Bind subscribes the processor's topics on the bus.
func (p *Processor) Bind(b *bus.Bus) error {
	err := b.Subscribe(TopicImageInput, func(payload []byte) error {
		m := msgs.Image{}
		if err := bus.Unmarshal(payload, &m); err != nil {
			p.Log.Warnf("Undecodable image message. Discarding. (%v)", err)
			return nil
		}
		return p.ProcessFrame(&m)
	})
	if err != nil {
		return err
	}
	return b.Subscribe(TopicStateInput, func(payload []byte) error {
		m := msgs.String{}
		if err := bus.Unmarshal(payload, &m); err != nil {
			p.Log.Warnf("Undecodable state message. Discarding. (%v)", err)
			return nil
		}
		p.ProcessState(&m)
		return nil
	})
}

// Close releases the session, if one was initialized.
func (p *Processor) Close() {
	if p.state.session != nil {
		p.state.session.Close()
		p.state.session = nil
	}
}

// Status returns the externally visible session state.
func (p *Processor) Status() StateSummary {
	return *p.summary.Load()
}

// ProcessFrame runs the full per-frame pipeline: ingress validation,
// session bootstrap, dispatch, projection/visualization and the
// latency probe. A non-nil return is fatal and stops the bus loop.
func (p *Processor) ProcessFrame(m *msgs.Image) error {
	if m.Height == 0 {
		p.Log.Warnf("Input image empty. Discarding.")
		return nil
	}
	img, err := decodeImage(m)
	if err != nil {
		p.Log.Warnf("Dropping frame: %v", err)
		return nil
	}

	if err := p.bootstrap(img); err != nil {
		return err
	}

	start := time.Now()
	if err := p.dispatch(m.Header, img); err != nil {
		// Session errors propagate as-is; nothing is published for this frame
		return err
	}
	elapsed := time.Since(start)

	// Clamp to 1us so that a sub-millisecond frame reports a finite rate
	ms := float64(max(elapsed.Nanoseconds(), 1000)) / 1e6
	fps := 1000.0 / ms
	p.Log.Infof("[-FPS-]= %.2f", fps)
	p.Stats.AddFrame(elapsed, fps)
	return nil
}

// bootstrap initializes the session against the first frame's geometry,
// and guards against geometry changes thereafter.
func (p *Processor) bootstrap(img *cimg.Image) error {
	if !p.state.initialized {
		sess, err := p.newSession(img.Width, img.Height)
		if err != nil {
			return fmt.Errorf("session initialization failed: %w", err)
		}
		if err := p.bindCapabilities(sess); err != nil {
			sess.Close()
			return err
		}
		p.state.width = img.Width
		p.state.height = img.Height
		p.state.session = sess
		p.state.initialized = true
		p.summary.Store(&StateSummary{
			Initialized: true,
			Width:       img.Width,
			Height:      img.Height,
			Mode:        p.mode.String(),
		})
		p.Log.Infof("Session initialized for %vx%v input, mode %v", img.Width, img.Height, p.mode)
		return nil
	}

	widthChanged := img.Width != p.state.width
	heightChanged := img.Height != p.state.height
	fatal := widthChanged && heightChanged
	if p.strictGeometry {
		fatal = widthChanged || heightChanged
	}
	if fatal {
		return fmt.Errorf("Input camera changed. Please restart. (session %vx%v, frame %vx%v)",
			p.state.width, p.state.height, img.Width, img.Height)
	}
	return nil
}

// bindCapabilities asserts the session operations required by the mode.
func (p *Processor) bindCapabilities(sess nn.Session) error {
	switch mode := p.mode.(type) {
	case nn.Classify:
		c, ok := sess.(nn.Classifier)
		if !ok {
			return fmt.Errorf("session does not support classification")
		}
		p.state.classifier = c
	case nn.Detect:
		if err := p.bindDetectCapabilities(sess, mode.Visualize); err != nil {
			return err
		}
	case nn.DetectAndSegment:
		if err := p.bindDetectCapabilities(sess, mode.Visualize); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown mode %v", p.mode)
	}
	return nil
}

func (p *Processor) bindDetectCapabilities(sess nn.Session, visualize bool) error {
	if visualize {
		r, ok := sess.(nn.Renderer)
		if !ok {
			return fmt.Errorf("session does not support rendering")
		}
		p.state.renderer = r
		return nil
	}
	d, ok := sess.(nn.Detector)
	if !ok {
		return fmt.Errorf("session does not support detection")
	}
	p.state.detector = d
	return nil
}

// dispatch selects exactly one branch for the frame. visualize implies
// the structured topic is not published, and conversely.
func (p *Processor) dispatch(header msgs.Header, img *cimg.Image) error {
	switch mode := p.mode.(type) {
	case nn.Classify:
		names, err := p.state.classifier.Classify(img)
		if err != nil {
			return err
		}
		return p.pub.Publish(TopicP1Output, &msgs.ImageClassification{
			Header:      header,
			ObjectNames: names,
		})
	case nn.Detect:
		if mode.Visualize {
			return p.renderAndPublish(header, img)
		}
		det, err := p.state.detector.Detect(img)
		if err != nil {
			return err
		}
		return p.publishDetection(TopicP2Output, header, det, false)
	case nn.DetectAndSegment:
		if mode.Visualize {
			return p.renderAndPublish(header, img)
		}
		det, err := p.state.detector.Detect(img)
		if err != nil {
			return err
		}
		return p.publishDetection(TopicP3Output, header, det, true)
	}
	return fmt.Errorf("unknown mode %v", p.mode)
}

func (p *Processor) renderAndPublish(header msgs.Header, img *cimg.Image) error {
	rendered, err := p.state.renderer.DetectAndRender(img)
	if err != nil {
		return err
	}
	return p.publishVisual(header, rendered)
}

// ProcessState handles the control plane. "shutdown" is the only
// recognized directive.
func (p *Processor) ProcessState(m *msgs.String) {
	if m.Data == "shutdown" {
		p.Log.Infof("Shutdown requested over state topic")
		if p.OnShutdown != nil {
			p.OnShutdown()
		}
		return
	}
	p.Log.Warnf("Invalid state requested.")
}
