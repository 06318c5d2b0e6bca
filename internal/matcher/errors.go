package matcher

import "errors"

var (
	// ErrSourceUnavailable means the video could not be opened.
	ErrSourceUnavailable = errors.New("video source unavailable")
	// ErrFrameRateUnavailable means the stream reports no usable native frame rate.
	ErrFrameRateUnavailable = errors.New("video frame rate unavailable")
	// ErrFrameProcessing means a frame could not be read, prepared or analysed.
	ErrFrameProcessing = errors.New("frame processing failed")
	// ErrInvalidTargets means the target set cannot be compared against faces.
	ErrInvalidTargets = errors.New("invalid target set")
)
