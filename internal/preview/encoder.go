package preview

import (
	"encoding/base64"
	"log/slog"
	"net/http"
	"strings"
)

// Encoder turns an uploaded image into a data URI for inline display.
type Encoder struct {
	pipeline *Pipeline
}

func NewEncoder(pipeline *Pipeline) *Encoder {
	if pipeline == nil {
		pipeline = NewPipeline()
	}
	return &Encoder{pipeline: pipeline}
}

// DataURI runs the pipeline and embeds its PNG output. When the pipeline is
// empty or fails, the original bytes are embedded with their own content type.
func (e *Encoder) DataURI(imageData []byte, contentType string) string {
	if e.pipeline.Len() > 0 {
		processed, err := e.pipeline.Execute(imageData)
		if err == nil {
			return encodeDataURI("image/png", processed)
		}
		slog.Warn("preview: pipeline failed, embedding original image", "error", err)
	}

	if contentType == "" || !strings.HasPrefix(contentType, "image/") {
		contentType = http.DetectContentType(imageData)
	}
	return encodeDataURI(contentType, imageData)
}

func encodeDataURI(contentType string, data []byte) string {
	return "data:" + contentType + ";base64," + base64.StdEncoding.EncodeToString(data)
}
