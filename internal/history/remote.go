package history

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/jo-hoe/goberry/internal/apperror"
	"github.com/ledongthuc/pdf"
)

const (
	historyPath = "/history"
	exportPath  = "/history/export"

	// ExportFilename is the attachment name offered to the browser.
	ExportFilename = "blueberry-analysis-history.pdf"

	defaultMaxExportBytes = 32 << 20
)

// Remote is the backend holding the analysis history.
type Remote interface {
	List(ctx context.Context) ([]Record, error)
	Delete(ctx context.Context, imageID string) error
	Clear(ctx context.Context) error
	Export(ctx context.Context) (*Export, error)
}

// Export is a PDF produced by the backend.
type Export struct {
	Data  []byte
	Pages int
}

// HTTPRemote talks to the history endpoints of the classification backend.
type HTTPRemote struct {
	baseURL        string
	httpClient     *http.Client
	maxExportBytes int64
}

func NewHTTPRemote(baseURL string, httpClient *http.Client) *HTTPRemote {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &HTTPRemote{
		baseURL:        strings.TrimRight(baseURL, "/"),
		httpClient:     httpClient,
		maxExportBytes: defaultMaxExportBytes,
	}
}

func (r *HTTPRemote) List(ctx context.Context) ([]Record, error) {
	resp, err := r.do(ctx, "list history", http.MethodGet, historyPath)
	if err != nil {
		return nil, err
	}
	defer closeBody(resp)

	var records []Record
	if err := json.NewDecoder(resp.Body).Decode(&records); err != nil {
		return nil, fmt.Errorf("failed to decode history: %w", err)
	}
	return records, nil
}

func (r *HTTPRemote) Delete(ctx context.Context, imageID string) error {
	if imageID == "" {
		return fmt.Errorf("image id is required")
	}
	resp, err := r.do(ctx, "delete history record", http.MethodDelete, historyPath+"/"+url.PathEscape(imageID))
	if err != nil {
		return err
	}
	closeBody(resp)
	return nil
}

func (r *HTTPRemote) Clear(ctx context.Context) error {
	resp, err := r.do(ctx, "clear history", http.MethodDelete, historyPath)
	if err != nil {
		return err
	}
	closeBody(resp)
	return nil
}

// Export downloads the history PDF and checks that it can be opened.
func (r *HTTPRemote) Export(ctx context.Context) (*Export, error) {
	resp, err := r.do(ctx, "export history", http.MethodGet, exportPath)
	if err != nil {
		return nil, err
	}
	defer closeBody(resp)

	data, err := io.ReadAll(io.LimitReader(resp.Body, r.maxExportBytes+1))
	if err != nil {
		return nil, &apperror.NetworkFailure{Op: "export history", Err: err}
	}
	if int64(len(data)) > r.maxExportBytes {
		return nil, fmt.Errorf("history export exceeds %d bytes", r.maxExportBytes)
	}

	pages, err := countPDFPages(data)
	if err != nil {
		return nil, fmt.Errorf("backend returned an unreadable PDF: %w", err)
	}
	slog.Info("history: export received", "size_bytes", len(data), "pages", pages)
	return &Export{Data: data, Pages: pages}, nil
}

// countPDFPages recovers from parser panics on broken documents.
func countPDFPages(data []byte) (pages int, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("failed to parse PDF: %v", rec)
		}
	}()
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return 0, err
	}
	return reader.NumPage(), nil
}

func (r *HTTPRemote) do(ctx context.Context, op, method, path string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, r.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s request: %w", op, err)
	}
	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, &apperror.NetworkFailure{Op: op, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		closeBody(resp)
		return nil, &apperror.RequestFailure{Op: op, StatusCode: resp.StatusCode, StatusText: resp.Status}
	}
	return resp, nil
}

func closeBody(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	if err := resp.Body.Close(); err != nil {
		slog.Warn("history: failed to close response body", "error", err)
	}
}
