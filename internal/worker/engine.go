package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/andresmejia3/facescan/internal/config"
	"github.com/andresmejia3/facescan/internal/face"
)

// Config is what every backend needs to start.
type Config struct {
	Backend      string
	PythonBin    string
	WorkerScript string
	ModelsDir    string
	Dim          int
	ReadTimeout  time.Duration
}

// ConfigFrom maps application configuration onto engine settings.
func ConfigFrom(cfg *config.Config) Config {
	return Config{
		Backend:      cfg.Detector.Backend,
		PythonBin:    cfg.Detector.PythonBin,
		WorkerScript: cfg.Detector.WorkerScript,
		ModelsDir:    cfg.Detector.ModelsDir,
		Dim:          cfg.Matching.EmbeddingDim,
		ReadTimeout:  cfg.WorkerTimeout(),
	}
}

// Engine is a face detector that owns external resources.
type Engine interface {
	face.Detector
	Close() error
}

// NewEngine starts one engine for the configured backend.
func NewEngine(ctx context.Context, id int, cfg Config) (Engine, error) {
	switch cfg.Backend {
	case config.BackendPython, "":
		return NewPythonWorker(ctx, id, cfg)
	case config.BackendDlib:
		return newDlibEngine(cfg)
	default:
		return nil, fmt.Errorf("unknown detector backend %q", cfg.Backend)
	}
}

// StartPool starts n engines. On failure the engines already running are closed.
func StartPool(ctx context.Context, n int, cfg Config) ([]Engine, error) {
	engines := make([]Engine, 0, n)
	for i := 0; i < n; i++ {
		e, err := NewEngine(ctx, i, cfg)
		if err != nil {
			ClosePool(engines)
			return nil, fmt.Errorf("engine %d: %w", i, err)
		}
		engines = append(engines, e)
	}
	return engines, nil
}

// ClosePool closes every engine, ignoring shutdown errors.
func ClosePool(engines []Engine) {
	for _, e := range engines {
		_ = e.Close()
	}
}

// Detectors exposes engines through the face.Detector interface.
func Detectors(engines []Engine) []face.Detector {
	out := make([]face.Detector, len(engines))
	for i, e := range engines {
		out[i] = e
	}
	return out
}
