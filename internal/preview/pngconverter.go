package preview

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"log/slog"
	"regexp"
	"strconv"

	_ "image/gif"
	_ "image/jpeg"

	"github.com/srwiley/oksvg"
	"github.com/srwiley/rasterx"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

const pngConverterName = "PngConverterCommand"

var pngSignature = []byte{0x89, 'P', 'N', 'G', 0x0D, 0x0A, 0x1A, 0x0A}

// PngConverterCommand turns any supported upload (jpeg, gif, bmp, tiff, webp, svg) into PNG
type PngConverterCommand struct {
	svgFallbackWidth  int
	svgFallbackHeight int
	maxPixels         int
}

func NewPngConverterCommand(params map[string]any) (Command, error) {
	w := GetIntParam(params, "svgFallbackWidth", 512)
	h := GetIntParam(params, "svgFallbackHeight", 512)
	if w <= 0 || h <= 0 {
		return nil, fmt.Errorf("svg fallback size must be positive, got %dx%d", w, h)
	}
	maxPixels, err := maxPixelsFrom(params)
	if err != nil {
		return nil, err
	}
	return &PngConverterCommand{svgFallbackWidth: w, svgFallbackHeight: h, maxPixels: maxPixels}, nil
}

func (c *PngConverterCommand) Name() string {
	return pngConverterName
}

func (c *PngConverterCommand) Execute(imageData []byte) ([]byte, error) {
	if bytes.HasPrefix(imageData, pngSignature) {
		return imageData, nil
	}
	if isSVGData(imageData) {
		return c.convertSVG(imageData)
	}

	img, format, err := decodeWithin(imageData, c.maxPixels)
	if err != nil {
		return nil, err
	}
	slog.Debug("PngConverterCommand: decoded raster image",
		"format", format,
		"width", img.Bounds().Dx(),
		"height", img.Bounds().Dy())

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("failed to encode image to PNG: %w", err)
	}
	return buf.Bytes(), nil
}

func (c *PngConverterCommand) convertSVG(data []byte) ([]byte, error) {
	w, h, ok := svgExplicitSize(data)
	if !ok {
		w, h = c.svgFallbackWidth, c.svgFallbackHeight
	}
	if err := checkPixelBudget(w, h, c.maxPixels); err != nil {
		return nil, err
	}
	slog.Debug("PngConverterCommand: rendering SVG", "width", w, "height", h, "explicit_size", ok)

	icon, err := oksvg.ReadIconStream(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to parse SVG: %w", err)
	}
	icon.SetTarget(0, 0, float64(w), float64(h))

	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(dst, dst.Bounds(), &image.Uniform{C: color.White}, image.Point{}, draw.Src)

	scanner := rasterx.NewScannerGV(w, h, dst, dst.Bounds())
	icon.Draw(rasterx.NewDasher(w, h, scanner), 1.0)

	var buf bytes.Buffer
	if err := png.Encode(&buf, dst); err != nil {
		return nil, fmt.Errorf("failed to encode rendered SVG as PNG: %w", err)
	}
	return buf.Bytes(), nil
}

var (
	svgTagPattern    = regexp.MustCompile(`(?is)<svg\b[^>]*>`)
	svgWidthPattern  = regexp.MustCompile(`(?i)\swidth\s*=\s*["']\s*(\d+)`)
	svgHeightPattern = regexp.MustCompile(`(?i)\sheight\s*=\s*["']\s*(\d+)`)
)

// isSVGData looks for an <svg tag in the first 4KB
func isSVGData(data []byte) bool {
	head := data[:min(len(data), 4096)]
	return bytes.Contains(bytes.ToLower(head), []byte("<svg"))
}

// svgExplicitSize reads pixel width/height from the root tag; viewBox is not treated as a size.
func svgExplicitSize(data []byte) (int, int, bool) {
	tag := svgTagPattern.Find(data[:min(len(data), 8192)])
	if tag == nil {
		return 0, 0, false
	}
	wm := svgWidthPattern.FindSubmatch(tag)
	hm := svgHeightPattern.FindSubmatch(tag)
	if wm == nil || hm == nil {
		return 0, 0, false
	}
	w, werr := strconv.Atoi(string(wm[1]))
	h, herr := strconv.Atoi(string(hm[1]))
	if werr != nil || herr != nil || w <= 0 || h <= 0 {
		return 0, 0, false
	}
	return w, h, true
}

func init() {
	if err := DefaultRegistry.Register(pngConverterName, NewPngConverterCommand); err != nil {
		panic(fmt.Sprintf("failed to register %s: %v", pngConverterName, err))
	}
}
