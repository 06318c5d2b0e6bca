package face

import (
	"context"
	"os"

	"github.com/andresmejia3/facescan/internal/types"
	"go.uber.org/zap"
)

// Encoder extracts the identity embedding of a single face from an image.
type Encoder struct {
	det    Detector
	dim    int
	maxDim int
	logger *zap.Logger
}

// NewEncoder wires an Encoder around a detector. dim is the expected
// embedding length; maxDim bounds the image size handed to the detector.
func NewEncoder(det Detector, dim, maxDim int, logger *zap.Logger) *Encoder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Encoder{det: det, dim: dim, maxDim: maxDim, logger: logger}
}

// Extract returns the embedding of the first detected face. Any failure to
// read or process the image is logged and reported as ErrNoFaceFound.
func (e *Encoder) Extract(ctx context.Context, img []byte) (types.Embedding, error) {
	jpg, err := PrepareJPEG(img, e.maxDim)
	if err != nil {
		e.logger.Warn("image could not be prepared", zap.Error(err))
		return nil, ErrNoFaceFound
	}

	faces, err := e.det.Detect(ctx, jpg)
	if err != nil {
		e.logger.Warn("face detection failed", zap.Error(err))
		return nil, ErrNoFaceFound
	}
	if len(faces) == 0 {
		return nil, ErrNoFaceFound
	}
	if len(faces) > 1 {
		e.logger.Debug("multiple faces detected, using the first", zap.Int("faces", len(faces)))
	}

	vec := faces[0].Vec
	if err := CheckDim(vec, e.dim); err != nil {
		e.logger.Warn("detector returned an unexpected embedding", zap.Error(err))
		return nil, ErrNoFaceFound
	}
	return append(types.Embedding(nil), vec...), nil
}

// ExtractFile loads an image from disk and extracts its embedding.
func (e *Encoder) ExtractFile(ctx context.Context, path string) (types.Embedding, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		e.logger.Warn("image could not be read", zap.String("path", path), zap.Error(err))
		return nil, ErrNoFaceFound
	}
	vec, err := e.Extract(ctx, data)
	if err != nil {
		e.logger.Debug("no embedding extracted", zap.String("path", path))
	}
	return vec, err
}
