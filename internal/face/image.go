package face

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
)

const jpegQuality = 90

// PrepareJPEG converts an encoded image into what detectors consume: a JPEG
// no larger than maxDim on either side. maxDim <= 0 disables downscaling,
// and JPEG input that needs no resize is passed through untouched.
func PrepareJPEG(data []byte, maxDim int) ([]byte, error) {
	_, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image header: %w", err)
	}
	if format == "jpeg" && maxDim <= 0 {
		return data, nil
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}

	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()

	if maxDim > 0 && (width > maxDim || height > maxDim) {
		var newWidth, newHeight int
		if width > height {
			newWidth = maxDim
			newHeight = max(1, int(float64(height)*float64(maxDim)/float64(width)))
		} else {
			newHeight = maxDim
			newWidth = max(1, int(float64(width)*float64(maxDim)/float64(height)))
		}
		resized := image.NewRGBA(image.Rect(0, 0, newWidth, newHeight))
		draw.CatmullRom.Scale(resized, resized.Bounds(), img, bounds, draw.Over, nil)
		img = resized
	} else if format == "jpeg" {
		return data, nil
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return nil, fmt.Errorf("failed to encode image: %w", err)
	}
	return buf.Bytes(), nil
}
