package preview

import (
	"bytes"
	"fmt"
	"image"
)

// DefaultMaxPixels caps the decoded size of an upload (about 100MB as RGBA).
const DefaultMaxPixels = 25_000_000

const maxPixelsParam = "maxPixels"

func maxPixelsFrom(params map[string]any) (int, error) {
	limit := GetIntParam(params, maxPixelsParam, DefaultMaxPixels)
	if limit <= 0 {
		return 0, fmt.Errorf("%s must be positive, got %d", maxPixelsParam, limit)
	}
	return limit, nil
}

// checkPixelBudget rejects sizes whose pixel count exceeds maxPixels.
func checkPixelBudget(width, height, maxPixels int) error {
	if width <= 0 || height <= 0 {
		return fmt.Errorf("invalid image size %dx%d", width, height)
	}
	if int64(width)*int64(height) > int64(maxPixels) {
		return fmt.Errorf("image size %dx%d exceeds limit of %d pixels", width, height, maxPixels)
	}
	return nil
}

// decodeWithin reads the image header and decodes the pixels only when the
// announced size fits maxPixels.
func decodeWithin(data []byte, maxPixels int) (image.Image, string, error) {
	config, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("failed to read image header: %w", err)
	}
	if err := checkPixelBudget(config.Width, config.Height, maxPixels); err != nil {
		return nil, "", err
	}
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("failed to decode image: %w", err)
	}
	return img, format, nil
}
