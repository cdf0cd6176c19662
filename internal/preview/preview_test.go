package preview

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"hash/crc32"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"strings"
	"testing"
)

// mockCommand is a pass-through or failing command for pipeline tests
type mockCommand struct {
	name        string
	executeFunc func([]byte) ([]byte, error)
}

func (m *mockCommand) Name() string { return m.name }

func (m *mockCommand) Execute(data []byte) ([]byte, error) {
	return m.executeFunc(data)
}

func solidImage(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: 40, G: 120, B: 200, A: 255})
		}
	}
	return img
}

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("png.Encode error: %v", err)
	}
	return buf.Bytes()
}

func encodeJPEG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, nil); err != nil {
		t.Fatalf("jpeg.Encode error: %v", err)
	}
	return buf.Bytes()
}

func decodePNGSize(t *testing.T, data []byte) (int, int) {
	t.Helper()
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("png.Decode error: %v", err)
	}
	return img.Bounds().Dx(), img.Bounds().Dy()
}

func TestDefaultRegistry_HasBuiltins(t *testing.T) {
	for _, name := range []string{"PngConverterCommand", "FitWidthCommand"} {
		if !DefaultRegistry.IsRegistered(name) {
			t.Errorf("expected %s to be registered", name)
		}
	}
}

func TestCommandRegistry_Register(t *testing.T) {
	registry := NewCommandRegistry()
	factory := func(map[string]any) (Command, error) { return &mockCommand{name: "x"}, nil }

	if err := registry.Register("X", factory); err != nil {
		t.Fatalf("Register error: %v", err)
	}
	if err := registry.Register("X", factory); err == nil {
		t.Error("expected error for duplicate registration")
	}
	if err := registry.Register("", factory); err == nil {
		t.Error("expected error for empty name")
	}
	if err := registry.Register("Nil", nil); err == nil {
		t.Error("expected error for nil factory")
	}
	if _, err := registry.Create("Unknown", nil); err == nil {
		t.Error("expected error for unknown command")
	}
}

func TestNewPipelineFromConfig_InvalidParams(t *testing.T) {
	_, err := NewPipelineFromConfig(DefaultRegistry, []CommandConfig{
		{Name: "FitWidthCommand", Params: map[string]any{}},
	})
	if err == nil {
		t.Fatal("expected error for missing maxWidth")
	}
}

func TestPipeline_StopsAtFirstError(t *testing.T) {
	called := false
	pipeline := NewPipeline(
		&mockCommand{name: "fail", executeFunc: func([]byte) ([]byte, error) { return nil, errors.New("boom") }},
		&mockCommand{name: "never", executeFunc: func(d []byte) ([]byte, error) { called = true; return d, nil }},
	)
	if _, err := pipeline.Execute([]byte("x")); err == nil {
		t.Fatal("expected error")
	}
	if called {
		t.Fatal("second command must not run after a failure")
	}
}

func TestPngConverter_ConvertsJPEG(t *testing.T) {
	command, err := NewPngConverterCommand(map[string]any{})
	if err != nil {
		t.Fatalf("NewPngConverterCommand error: %v", err)
	}
	out, err := command.Execute(encodeJPEG(t, solidImage(8, 6)))
	if err != nil {
		t.Fatalf("Execute error: %v", err)
	}
	if w, h := decodePNGSize(t, out); w != 8 || h != 6 {
		t.Fatalf("expected 8x6, got %dx%d", w, h)
	}
}

func TestPngConverter_PassesPNGThrough(t *testing.T) {
	command, _ := NewPngConverterCommand(map[string]any{})
	in := encodePNG(t, solidImage(2, 2))
	out, err := command.Execute(in)
	if err != nil {
		t.Fatalf("Execute error: %v", err)
	}
	if !bytes.Equal(in, out) {
		t.Fatal("expected PNG input to be returned unchanged")
	}
}

func TestPngConverter_RendersSVG(t *testing.T) {
	command, _ := NewPngConverterCommand(map[string]any{"svgFallbackWidth": 20, "svgFallbackHeight": 10})
	svg := []byte(`<svg xmlns="http://www.w3.org/2000/svg" width="16" height="12"><rect width="16" height="12" fill="#3a7"/></svg>`)
	out, err := command.Execute(svg)
	if err != nil {
		t.Fatalf("Execute error: %v", err)
	}
	if w, h := decodePNGSize(t, out); w != 16 || h != 12 {
		t.Fatalf("expected explicit 16x12, got %dx%d", w, h)
	}

	noSize := []byte(`<svg xmlns="http://www.w3.org/2000/svg" viewBox="0 0 4 4"><rect width="4" height="4"/></svg>`)
	out, err = command.Execute(noSize)
	if err != nil {
		t.Fatalf("Execute error: %v", err)
	}
	if w, h := decodePNGSize(t, out); w != 20 || h != 10 {
		t.Fatalf("expected fallback 20x10, got %dx%d", w, h)
	}
}

func TestPngConverter_InvalidImage(t *testing.T) {
	command, _ := NewPngConverterCommand(map[string]any{})
	if _, err := command.Execute([]byte("not an image")); err == nil {
		t.Fatal("expected error for invalid image data")
	}
}

func TestFitWidth_ScalesDownPreservingAspect(t *testing.T) {
	command, err := NewFitWidthCommand(map[string]any{"maxWidth": 50})
	if err != nil {
		t.Fatalf("NewFitWidthCommand error: %v", err)
	}
	out, err := command.Execute(encodePNG(t, solidImage(200, 100)))
	if err != nil {
		t.Fatalf("Execute error: %v", err)
	}
	if w, h := decodePNGSize(t, out); w != 50 || h != 25 {
		t.Fatalf("expected 50x25, got %dx%d", w, h)
	}
}

func TestFitWidth_DoesNotUpscale(t *testing.T) {
	command, _ := NewFitWidthCommand(map[string]any{"maxWidth": 500})
	in := encodePNG(t, solidImage(20, 10))
	out, err := command.Execute(in)
	if err != nil {
		t.Fatalf("Execute error: %v", err)
	}
	if !bytes.Equal(in, out) {
		t.Fatal("expected small image to pass through")
	}
}

func TestFitWidth_InvalidParams(t *testing.T) {
	tests := []map[string]any{
		{},
		{"maxWidth": 0},
		{"maxWidth": -3},
	}
	for _, params := range tests {
		if _, err := NewFitWidthCommand(params); err == nil {
			t.Errorf("expected error for params %v", params)
		}
	}
}

func TestEncoder_DataURI(t *testing.T) {
	pipeline, err := NewPipelineFromConfig(DefaultRegistry, []CommandConfig{
		{Name: "PngConverterCommand", Params: map[string]any{}},
		{Name: "FitWidthCommand", Params: map[string]any{"maxWidth": 10}},
	})
	if err != nil {
		t.Fatalf("NewPipelineFromConfig error: %v", err)
	}
	encoder := NewEncoder(pipeline)

	uri := encoder.DataURI(encodeJPEG(t, solidImage(40, 20)), "image/jpeg")
	const prefix = "data:image/png;base64,"
	if !strings.HasPrefix(uri, prefix) {
		t.Fatalf("expected PNG data URI, got %q", uri[:min(len(uri), 40)])
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(uri, prefix))
	if err != nil {
		t.Fatalf("invalid base64: %v", err)
	}
	if w, h := decodePNGSize(t, raw); w != 10 || h != 5 {
		t.Fatalf("expected 10x5 preview, got %dx%d", w, h)
	}
}

func TestEncoder_FallsBackToOriginal(t *testing.T) {
	encoder := NewEncoder(NewPipeline(&PngConverterCommand{svgFallbackWidth: 1, svgFallbackHeight: 1}))
	data := []byte("HEIC-like bytes the decoder does not know")

	uri := encoder.DataURI(data, "image/heic")
	want := "data:image/heic;base64," + base64.StdEncoding.EncodeToString(data)
	if uri != want {
		t.Fatalf("expected fallback %q, got %q", want, uri)
	}
}

func TestEncoder_EmptyPipelineDetectsContentType(t *testing.T) {
	data := encodePNG(t, solidImage(1, 1))
	uri := NewEncoder(nil).DataURI(data, "")
	if !strings.HasPrefix(uri, "data:image/png;base64,") {
		t.Fatalf("expected detected image/png, got %q", uri[:30])
	}
}

// pngHeaderOnly returns a PNG signature and IHDR announcing an RGBA image of
// the given size, without any pixel data.
func pngHeaderOnly(width, height uint32) []byte {
	ihdr := make([]byte, 13)
	binary.BigEndian.PutUint32(ihdr[0:4], width)
	binary.BigEndian.PutUint32(ihdr[4:8], height)
	ihdr[8] = 8 // bit depth
	ihdr[9] = 6 // truecolor with alpha

	var buf bytes.Buffer
	buf.Write(pngSignature)
	_ = binary.Write(&buf, binary.BigEndian, uint32(len(ihdr)))
	chunk := append([]byte("IHDR"), ihdr...)
	buf.Write(chunk)
	_ = binary.Write(&buf, binary.BigEndian, crc32.ChecksumIEEE(chunk))
	return buf.Bytes()
}

func TestFitWidth_RejectsOversizedHeader(t *testing.T) {
	command, err := NewFitWidthCommand(map[string]any{"maxWidth": 1024})
	if err != nil {
		t.Fatalf("NewFitWidthCommand error: %v", err)
	}
	_, err = command.Execute(pngHeaderOnly(8000, 8000))
	if err == nil || !strings.Contains(err.Error(), "exceeds limit") {
		t.Fatalf("expected pixel limit error, got %v", err)
	}
}

func TestPngConverter_RespectsMaxPixels(t *testing.T) {
	command, err := NewPngConverterCommand(map[string]any{"maxPixels": 100})
	if err != nil {
		t.Fatalf("NewPngConverterCommand error: %v", err)
	}
	if _, err := command.Execute(encodeJPEG(t, solidImage(40, 20))); err == nil {
		t.Error("expected 40x20 jpeg to exceed 100 pixels")
	}

	svg := []byte(`<svg xmlns="http://www.w3.org/2000/svg" width="100000" height="100000"></svg>`)
	if _, err := command.Execute(svg); err == nil {
		t.Error("expected oversized svg to be rejected")
	}

	if _, err := NewPngConverterCommand(map[string]any{"maxPixels": 0}); err == nil {
		t.Error("expected error for non-positive maxPixels")
	}
}

func TestEncoder_OversizedHeaderFallsBackToOriginal(t *testing.T) {
	pipeline, err := NewPipelineFromConfig(DefaultRegistry, []CommandConfig{
		{Name: "PngConverterCommand", Params: map[string]any{}},
		{Name: "FitWidthCommand", Params: map[string]any{"maxWidth": 1024}},
	})
	if err != nil {
		t.Fatalf("NewPipelineFromConfig error: %v", err)
	}
	data := pngHeaderOnly(40000, 40000)

	uri := NewEncoder(pipeline).DataURI(data, "image/png")
	want := "data:image/png;base64," + base64.StdEncoding.EncodeToString(data)
	if uri != want {
		t.Fatalf("expected original bytes to be embedded, got %q", uri[:min(len(uri), 60)])
	}
}
