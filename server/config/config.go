// Package config loads the node configuration file.
package config

import (
	"encoding/json"
	"fmt"
	"os"
)

// Config is read once at startup. Precision level, visualize mode and
// the model settings are consumed at session initialization and never
// change per-frame.
type Config struct {
	// Bus endpoints
	PubEndpoint string `json:"pubEndpoint"` // Where our output topics are bound, eg "tcp://*:5556"
	SubEndpoint string `json:"subEndpoint"` // Where input topics are received from, eg "tcp://127.0.0.1:5555"

	// HTTP status API listen address (empty disables it)
	StatusAddr string `json:"statusAddr"`

	// Session
	PrecisionLevel int     `json:"precisionLevel"` // 1 = classify, 2 = detect, 3 = detect + segment
	Visualize      bool    `json:"visualize"`      // In levels 2/3, publish an annotated image instead of the structured output
	ModelPath      string  `json:"modelPath"`      // ONNX model file
	ClassFile      string  `json:"classFile"`      // Text file with one class name per line
	OnnxLibrary    string  `json:"onnxLibrary"`    // Path to the ONNX Runtime shared library
	ProbThreshold  float32 `json:"probThreshold"`  // Score threshold (0 = default)
	MaskThreshold  float32 `json:"maskThreshold"`  // Mask binarization threshold (0 = default)

	// If true, a change in either input dimension is fatal.
	// The legacy behavior (false) only fails when both dimensions change.
	StrictGeometry bool `json:"strictGeometry"`
}

func Default() *Config {
	return &Config{
		PubEndpoint:    "tcp://*:5556",
		SubEndpoint:    "tcp://127.0.0.1:5555",
		StatusAddr:     "127.0.0.1:8093",
		PrecisionLevel: 2,
	}
}

// Load reads the config file and validates it.
func Load(filename string) (*Config, error) {
	b, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %v: %w", filename, err)
	}
	cfg := Default()
	if err := json.Unmarshal(b, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %v: %w", filename, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.PrecisionLevel < 1 || c.PrecisionLevel > 3 {
		return fmt.Errorf("invalid precision level %v (must be 1, 2 or 3)", c.PrecisionLevel)
	}
	if c.ModelPath == "" {
		return fmt.Errorf("no model path configured")
	}
	if c.PubEndpoint == "" || c.SubEndpoint == "" {
		return fmt.Errorf("bus endpoints must be configured")
	}
	if c.ProbThreshold < 0 || c.ProbThreshold > 1 {
		return fmt.Errorf("probability threshold %v out of range [0,1]", c.ProbThreshold)
	}
	return nil
}
