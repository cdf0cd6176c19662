package classifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"github.com/jo-hoe/goberry/internal/apperror"
)

const (
	analyzePath            = "/analyze"
	formFieldName          = "file"
	DefaultTimestampLayout = "02.01.2006, 15:04:05"
)

// Upload is the binary image payload submitted for classification.
type Upload struct {
	Name        string
	ContentType string
	Data        []byte
}

type analyzeResponse struct {
	ClassName  string   `json:"class_name"`
	Confidence *float64 `json:"confidence"`
	ImageID    string   `json:"image_id"`
}

// Client wraps the single analyze call of the classification backend.
type Client struct {
	baseURL         string
	httpClient      *http.Client
	location        *time.Location
	timestampLayout string
	now             func() time.Time
}

type Option func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithTimestampFormat sets the location and layout of the display timestamp.
func WithTimestampFormat(location *time.Location, layout string) Option {
	return func(c *Client) {
		if location != nil {
			c.location = location
		}
		if layout != "" {
			c.timestampLayout = layout
		}
	}
}

// WithClock overrides the time source used for the display timestamp.
func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		c.now = now
	}
}

func NewClient(baseURL string, opts ...Option) *Client {
	client := &Client{
		baseURL:         strings.TrimRight(baseURL, "/"),
		httpClient:      &http.Client{},
		location:        time.Local,
		timestampLayout: DefaultTimestampLayout,
		now:             time.Now,
	}
	for _, opt := range opts {
		opt(client)
	}
	return client
}

// Analyze submits one image and returns the classification.
// It issues exactly one request: no retries, no timeout beyond ctx.
func (c *Client) Analyze(ctx context.Context, upload Upload) (*AnalysisResult, error) {
	body, contentType, err := buildMultipartBody(upload)
	if err != nil {
		return nil, fmt.Errorf("failed to build analyze request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+analyzePath, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create analyze request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")

	slog.Debug("classifier: submitting image",
		"filename", upload.Name,
		"size_bytes", len(upload.Data))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &apperror.NetworkFailure{Op: "analyze", Err: err}
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			slog.Warn("classifier: failed to close response body", "error", cerr)
		}
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		return nil, &apperror.RequestFailure{
			Op:         "analyze",
			StatusCode: resp.StatusCode,
			StatusText: resp.Status,
		}
	}

	var payload analyzeResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, apperror.Malformed("failed to decode analyze response: %v", err)
	}

	result := &AnalysisResult{
		Status:     payload.ClassName,
		Confidence: payload.Confidence,
		Timestamp:  c.now().In(c.location).Format(c.timestampLayout),
		ImageID:    payload.ImageID,
	}
	slog.Info("classifier: analysis received",
		"status", result.Status,
		"image_id", result.ImageID)
	return result, nil
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func buildMultipartBody(upload Upload) (io.Reader, string, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	name := upload.Name
	if name == "" {
		name = "upload"
	}
	contentType := upload.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition",
		fmt.Sprintf(`form-data; name="%s"; filename="%s"`, formFieldName, quoteEscaper.Replace(name)))
	header.Set("Content-Type", contentType)

	part, err := writer.CreatePart(header)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(upload.Data); err != nil {
		return nil, "", err
	}
	if err := writer.Close(); err != nil {
		return nil, "", err
	}
	return &buf, writer.FormDataContentType(), nil
}
