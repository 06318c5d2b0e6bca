//go:build dlib

package worker

import (
	"context"
	"fmt"
	"sync"

	goface "github.com/Kagami/go-face"

	"github.com/andresmejia3/facescan/internal/types"
)

const dlibDescriptorSize = len(goface.Descriptor{})

// DlibEngine runs dlib's ResNet face model in-process.
type DlibEngine struct {
	mu  sync.Mutex
	rec *goface.Recognizer
}

func newDlibEngine(cfg Config) (Engine, error) {
	if cfg.Dim != dlibDescriptorSize {
		return nil, fmt.Errorf("dlib produces %d-d descriptors, configured for %d", dlibDescriptorSize, cfg.Dim)
	}
	rec, err := goface.NewRecognizer(cfg.ModelsDir)
	if err != nil {
		return nil, fmt.Errorf("can not initialize face recognizer: %w", err)
	}
	return &DlibEngine{rec: rec}, nil
}

// Detect implements face.Detector. The recognizer is not safe for concurrent use.
func (e *DlibEngine) Detect(ctx context.Context, jpeg []byte) ([]types.FaceResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e.mu.Lock()
	faces, err := e.rec.Recognize(jpeg)
	e.mu.Unlock()
	if err != nil {
		return nil, err
	}

	out := make([]types.FaceResult, len(faces))
	for i, f := range faces {
		r := f.Rectangle
		out[i].Loc = [4]int{r.Min.Y, r.Max.X, r.Max.Y, r.Min.X}
		out[i].Vec = make(types.Embedding, len(f.Descriptor))
		for j, v := range f.Descriptor {
			out[i].Vec[j] = float64(v)
		}
	}
	return out, nil
}

func (e *DlibEngine) Close() error {
	e.rec.Close()
	return nil
}
