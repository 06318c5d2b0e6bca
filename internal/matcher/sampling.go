package matcher

import (
	"fmt"
	"math"
)

// FrameSkip is the stride between sampled frames that approximates the
// requested analysis rate. It is never below 1 and saturates at
// math.MaxInt32 for vanishing rates.
func FrameSkip(nativeFPS, samplingRate float64) int {
	ratio := math.Round(nativeFPS / samplingRate)
	if ratio >= math.MaxInt32 {
		return math.MaxInt32
	}
	if !(ratio >= 1) {
		return 1
	}
	return int(ratio)
}

// Timestamp converts a frame index to seconds from the start of the stream.
func Timestamp(frameIndex int, nativeFPS float64) float64 {
	return float64(frameIndex) / nativeFPS
}

// FormatTimestamp renders seconds as M:SS; minutes are not wrapped into hours.
func FormatTimestamp(seconds float64) string {
	minutes := int(seconds / 60)
	secs := int(math.Mod(seconds, 60))
	return fmt.Sprintf("%d:%02d", minutes, secs)
}

// FrameLabel names a frame the way match events reference it.
func FrameLabel(frameIndex int) string {
	return fmt.Sprintf("frame-%04d", frameIndex)
}
