package config

import (
	"errors"
	"fmt"
	"math"
)

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	m := c.Matching
	if !isPositiveFinite(m.Threshold) {
		return fmt.Errorf("match_threshold must be a positive finite number, got %f", m.Threshold)
	}
	if m.EmbeddingDim < 1 {
		return fmt.Errorf("embedding_dim must be >= 1, got %d", m.EmbeddingDim)
	}
	if !isPositiveFinite(m.SamplingRate) {
		return fmt.Errorf("sampling_rate must be a positive finite number, got %f", m.SamplingRate)
	}
	if m.ProgressEvery < 1 {
		return fmt.Errorf("progress_every must be >= 1, got %d", m.ProgressEvery)
	}
	if m.MaxImageDim < 0 {
		return fmt.Errorf("max_image_dim must be >= 0, got %d", m.MaxImageDim)
	}
	switch m.OnFrameError {
	case FrameErrorAbort, FrameErrorSkip:
	default:
		return fmt.Errorf("on_frame_error: unsupported value %q (use abort or skip)", m.OnFrameError)
	}

	d := c.Detector
	switch d.Backend {
	case BackendPython:
		if d.WorkerScript == "" {
			return errors.New("worker_script is required for the python backend")
		}
	case BackendDlib:
		if d.ModelsDir == "" {
			return errors.New("models_dir is required for the dlib backend")
		}
	default:
		return fmt.Errorf("backend: unsupported value %q (use python or dlib)", d.Backend)
	}
	if d.WorkerTimeoutSeconds < 1 {
		return fmt.Errorf("worker_timeout_seconds must be >= 1, got %d", d.WorkerTimeoutSeconds)
	}

	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("log format: unsupported value %q", c.Logging.Format)
	}
	return nil
}

func isPositiveFinite(v float64) bool {
	return v > 0 && !math.IsInf(v, 1)
}
