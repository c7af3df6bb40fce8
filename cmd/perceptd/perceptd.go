package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/akamensky/argparse"
	"github.com/coreos/go-systemd/daemon"
	"github.com/cyclopcam/logs"

	"github.com/perceptcam/perceptd/pkg/bus"
	"github.com/perceptcam/perceptd/pkg/nn"
	"github.com/perceptcam/perceptd/pkg/ort"
	"github.com/perceptcam/perceptd/server/config"
	"github.com/perceptcam/perceptd/server/processor"
	"github.com/perceptcam/perceptd/server/statusapi"
)

func main() {
	parser := argparse.NewParser("perceptd", "Perception node bridging a message bus to an ONNX inference engine")
	configFile := parser.String("c", "config", &argparse.Options{Help: "Configuration file", Default: "perceptd.json"})
	modelPath := parser.String("", "model", &argparse.Options{Help: "Override the ONNX model path", Default: ""})
	level := parser.Int("", "level", &argparse.Options{Help: "Override the precision level (1, 2 or 3)", Default: 0})
	visualize := parser.Flag("", "visualize", &argparse.Options{Help: "Publish annotated images instead of structured output", Default: false})
	err := parser.Parse(os.Args)
	if err != nil {
		fmt.Print(parser.Usage(err))
		os.Exit(1)
	}

	logger, err := logs.NewLog()
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}

	cfg, err := config.Load(*configFile)
	if err != nil {
		logger.Errorf("%v", err)
		os.Exit(1)
	}
	if *modelPath != "" {
		cfg.ModelPath = *modelPath
	}
	if *level != 0 {
		cfg.PrecisionLevel = *level
	}
	if *visualize {
		cfg.Visualize = true
	}
	if err := cfg.Validate(); err != nil {
		logger.Errorf("%v", err)
		os.Exit(1)
	}

	mode, err := nn.ModeForLevel(cfg.PrecisionLevel, cfg.Visualize)
	if err != nil {
		logger.Errorf("%v", err)
		os.Exit(1)
	}
	kind, err := ort.KindForLevel(cfg.PrecisionLevel)
	if err != nil {
		logger.Errorf("%v", err)
		os.Exit(1)
	}

	b, err := bus.New(logger, cfg.PubEndpoint, cfg.SubEndpoint, processor.QueueDepth)
	if err != nil {
		logger.Errorf("%v", err)
		os.Exit(1)
	}

	// The session is created lazily, against the first frame's geometry
	newSession := func(width, height int) (nn.Session, error) {
		return ort.NewSession(ort.Config{
			ModelPath:   cfg.ModelPath,
			ClassFile:   cfg.ClassFile,
			LibraryPath: cfg.OnnxLibrary,
			Kind:        kind,
			Params: &nn.DetectionParams{
				ProbabilityThreshold: cfg.ProbThreshold,
				MaskThreshold:        cfg.MaskThreshold,
			},
		}, width, height)
	}

	proc := processor.NewProcessor(logger, b, mode, newSession, cfg.StrictGeometry)
	proc.OnShutdown = b.Stop
	if err := proc.Bind(b); err != nil {
		logger.Errorf("%v", err)
		os.Exit(1)
	}

	if cfg.StatusAddr != "" {
		api := statusapi.NewServer(logger, cfg.StatusAddr, proc)
		api.Start()
		defer api.Close()
	}

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-signals
		logger.Infof("Received signal %v, shutting down", sig)
		b.Stop()
	}()

	daemon.SdNotify(false, daemon.SdNotifyReady)
	logger.Infof("perceptd running, mode %v, bus sub %v pub %v", mode, cfg.SubEndpoint, cfg.PubEndpoint)

	runErr := b.Run()
	proc.Close()
	b.Close()
	if runErr != nil {
		logger.Errorf("%v", runErr)
		os.Exit(1)
	}
	logger.Infof("perceptd stopped")
}
