package preview

import (
	"bytes"
	"fmt"
	"image"
	"image/png"
	"log/slog"
)

const fitWidthName = "FitWidthCommand"

// FitWidthCommand shrinks a PNG to at most maxWidth pixels, keeping the aspect ratio.
// Smaller images pass through untouched.
type FitWidthCommand struct {
	maxWidth  int
	maxPixels int
}

func NewFitWidthCommand(params map[string]any) (Command, error) {
	if err := ValidateRequiredParams(params, []string{"maxWidth"}); err != nil {
		return nil, err
	}
	width := GetIntParam(params, "maxWidth", 0)
	if width <= 0 {
		return nil, fmt.Errorf("maxWidth must be positive, got %d", width)
	}
	maxPixels, err := maxPixelsFrom(params)
	if err != nil {
		return nil, err
	}
	return &FitWidthCommand{maxWidth: width, maxPixels: maxPixels}, nil
}

func (c *FitWidthCommand) Name() string {
	return fitWidthName
}

func (c *FitWidthCommand) MaxWidth() int {
	return c.maxWidth
}

func (c *FitWidthCommand) Execute(imageData []byte) ([]byte, error) {
	config, err := png.DecodeConfig(bytes.NewReader(imageData))
	if err != nil {
		return nil, fmt.Errorf("failed to read PNG header: %w", err)
	}
	if err := checkPixelBudget(config.Width, config.Height, c.maxPixels); err != nil {
		return nil, err
	}
	img, err := png.Decode(bytes.NewReader(imageData))
	if err != nil {
		return nil, fmt.Errorf("failed to decode PNG image: %w", err)
	}

	bounds := img.Bounds()
	srcW, srcH := bounds.Dx(), bounds.Dy()
	if srcW <= c.maxWidth {
		return imageData, nil
	}

	dstW := c.maxWidth
	dstH := max(1, srcH*dstW/srcW)
	slog.Debug("FitWidthCommand: scaling image",
		"original_width", srcW,
		"original_height", srcH,
		"target_width", dstW,
		"target_height", dstH)

	dst := image.NewRGBA(image.Rect(0, 0, dstW, dstH))
	// nearest neighbour; each row writes a disjoint slice of dst.Pix
	parallelRows(dstH, func(y int) {
		srcY := bounds.Min.Y + min(y*srcH/dstH, srcH-1)
		for x := 0; x < dstW; x++ {
			srcX := bounds.Min.X + min(x*srcW/dstW, srcW-1)
			dst.Set(x, y, img.At(srcX, srcY))
		}
	})

	var buf bytes.Buffer
	if err := png.Encode(&buf, dst); err != nil {
		return nil, fmt.Errorf("failed to encode scaled PNG image: %w", err)
	}
	return buf.Bytes(), nil
}

func init() {
	if err := DefaultRegistry.Register(fitWidthName, NewFitWidthCommand); err != nil {
		panic(fmt.Sprintf("failed to register %s: %v", fitWidthName, err))
	}
}
