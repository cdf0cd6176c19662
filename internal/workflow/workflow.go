package workflow

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/jo-hoe/goberry/internal/classifier"
)

var (
	ErrNoImage    = errors.New("no image selected")
	ErrEmptyImage = errors.New("image is empty")
	ErrBusy       = errors.New("analysis already in progress")
	ErrClosed     = errors.New("workflow is closed")
)

type State int

const (
	Idle State = iota
	ImageSelected
	Submitting
	Resolved
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case ImageSelected:
		return "image-selected"
	case Submitting:
		return "submitting"
	case Resolved:
		return "resolved"
	default:
		return "unknown"
	}
}

// Analyzer classifies one image.
type Analyzer interface {
	Analyze(ctx context.Context, upload classifier.Upload) (*classifier.AnalysisResult, error)
}

// ImageEncoder turns the selected image into inline image data for the result card.
type ImageEncoder interface {
	DataURI(data []byte, contentType string) string
}

// Notifier publishes the history change signal.
type Notifier interface {
	Publish(ctx context.Context) time.Time
}

// Snapshot is a consistent copy of the workflow for rendering.
// Image and Result are shared and must not be modified.
type Snapshot struct {
	State    State
	Image    *classifier.Upload
	Result   *classifier.AnalysisResult
	Err      error
	Progress int
}

// Workflow drives one client's select, submit and clear cycle.
type Workflow struct {
	mu       sync.Mutex
	analyzer Analyzer
	encoder  ImageEncoder
	notifier Notifier
	progress ProgressConfig
	randStep func(n int) int

	state      State
	image      *classifier.Upload
	result     *classifier.AnalysisResult
	err        error
	percent    int
	generation uint64
	stopTicker func()
	closed     bool
}

type Option func(*Workflow)

func WithEncoder(encoder ImageEncoder) Option {
	return func(w *Workflow) {
		w.encoder = encoder
	}
}

func WithNotifier(notifier Notifier) Option {
	return func(w *Workflow) {
		w.notifier = notifier
	}
}

func WithProgress(cfg ProgressConfig) Option {
	return func(w *Workflow) {
		w.progress = cfg.withDefaults()
	}
}

// WithRandom replaces the progress step source; it returns a value in [0, n).
func WithRandom(step func(n int) int) Option {
	return func(w *Workflow) {
		w.randStep = step
	}
}

func New(analyzer Analyzer, opts ...Option) *Workflow {
	w := &Workflow{
		analyzer: analyzer,
		progress: DefaultProgressConfig(),
		randStep: rand.IntN,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Select replaces the current image and drops any previous result.
func (w *Workflow) Select(upload classifier.Upload) error {
	if len(upload.Data) == 0 {
		return ErrEmptyImage
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrClosed
	}
	if w.state == Submitting {
		return ErrBusy
	}

	w.generation++
	w.image = &upload
	w.result = nil
	w.err = nil
	w.percent = 0
	w.state = ImageSelected
	slog.Debug("workflow: image selected", "filename", upload.Name, "size_bytes", len(upload.Data))
	return nil
}

// Submit starts the analysis of the selected image. The returned channel is
// closed once the outcome has been applied or discarded. The request runs on a
// context detached from ctx and is not cancelled once issued.
func (w *Workflow) Submit(ctx context.Context) (<-chan struct{}, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil, ErrClosed
	}
	if w.state == Submitting {
		return nil, ErrBusy
	}
	if w.image == nil {
		return nil, ErrNoImage
	}

	w.generation++
	generation := w.generation
	upload := *w.image
	w.state = Submitting
	w.result = nil
	w.err = nil
	w.percent = 0
	w.stopTicker = w.startTicker(generation)

	done := make(chan struct{})
	go w.run(context.WithoutCancel(ctx), generation, upload, done)
	return done, nil
}

func (w *Workflow) run(ctx context.Context, generation uint64, upload classifier.Upload, done chan struct{}) {
	defer close(done)

	result, err := w.analyzer.Analyze(ctx, upload)

	var merged *classifier.AnalysisResult
	if err == nil && result != nil {
		withImage := result.WithImageURL(w.inlineImage(upload))
		merged = &withImage
	} else if err == nil {
		err = errors.New("analyzer returned no result")
	}

	w.mu.Lock()
	if w.generation != generation {
		notifier := w.notifier
		w.mu.Unlock()
		slog.Info("workflow: discarding outcome of cleared submission")
		// the backend stored the record even though nobody shows it
		if err == nil && notifier != nil {
			notifier.Publish(ctx)
		}
		return
	}
	w.stopTickerLocked()
	if err != nil {
		w.state = ImageSelected
		w.err = err
		w.percent = 0
		w.mu.Unlock()
		slog.Error("workflow: analysis failed", "filename", upload.Name, "error", err)
		return
	}
	w.state = Resolved
	w.result = merged
	w.percent = 100
	notifier := w.notifier
	w.mu.Unlock()

	slog.Info("workflow: analysis resolved", "status", merged.Status, "image_id", merged.ImageID)
	if notifier != nil {
		notifier.Publish(ctx)
	}
}

func (w *Workflow) inlineImage(upload classifier.Upload) string {
	if w.encoder == nil {
		return ""
	}
	return w.encoder.DataURI(upload.Data, upload.ContentType)
}

// Clear returns to Idle from any state. An in-flight outcome is discarded.
func (w *Workflow) Clear() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.resetLocked()
}

// Close stops the ticker and rejects further use.
func (w *Workflow) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.resetLocked()
	w.closed = true
}

func (w *Workflow) resetLocked() {
	w.stopTickerLocked()
	w.generation++
	w.state = Idle
	w.image = nil
	w.result = nil
	w.err = nil
	w.percent = 0
}

func (w *Workflow) stopTickerLocked() {
	if w.stopTicker != nil {
		w.stopTicker()
		w.stopTicker = nil
	}
}

func (w *Workflow) Snapshot() Snapshot {
	w.mu.Lock()
	defer w.mu.Unlock()
	return Snapshot{
		State:    w.state,
		Image:    w.image,
		Result:   w.result,
		Err:      w.err,
		Progress: w.percent,
	}
}
