package face

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/andresmejia3/facescan/internal/types"
)

// ErrNoFaceFound signals a clean negative result: the image holds no usable face.
var ErrNoFaceFound = errors.New("no face found")

// Detector is the external face engine: it maps one JPEG image to zero or
// more faces, each with a location and an embedding, in detection order.
type Detector interface {
	Detect(ctx context.Context, jpeg []byte) ([]types.FaceResult, error)
}

// DetectorFunc adapts a plain function to the Detector interface.
type DetectorFunc func(ctx context.Context, jpeg []byte) ([]types.FaceResult, error)

func (f DetectorFunc) Detect(ctx context.Context, jpeg []byte) ([]types.FaceResult, error) {
	return f(ctx, jpeg)
}

// Distance returns the Euclidean distance between two embeddings.
func Distance(a, b types.Embedding) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("embedding length mismatch: %d vs %d", len(a), len(b))
	}
	var sum float64
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return math.Sqrt(sum), nil
}

// Confidence maps a distance onto [0,1]; smaller distances score higher.
func Confidence(distance float64) float64 {
	return math.Max(0, 1-distance)
}

// CheckDim verifies that an embedding has the expected dimensionality.
func CheckDim(vec types.Embedding, dim int) error {
	if len(vec) != dim {
		return fmt.Errorf("expected %d-d embedding, got %d values", dim, len(vec))
	}
	return nil
}
