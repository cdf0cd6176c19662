package frontend

import (
	"errors"
	"html/template"
	"log/slog"
	"strconv"
	"strings"

	"github.com/jo-hoe/goberry/internal/apperror"
	"github.com/jo-hoe/goberry/internal/classifier"
	"github.com/jo-hoe/goberry/internal/history"
)

// MalformedResultMessage is shown instead of a result card that lacks fields.
const MalformedResultMessage = "Ошибка: не хватает данных для отображения результата."

// ResultView is the checked form of a result: either every card field is
// present (OK) or Message explains why nothing can be shown.
type ResultView struct {
	OK         bool
	Message    string
	Status     string
	Confidence string
	Timestamp  string
	ImageID    string
	ImageURL   template.URL
	Advice     string
}

// NewResultView validates r before anything is rendered from it.
func NewResultView(r *classifier.AnalysisResult) ResultView {
	if err := r.Validate(); err != nil {
		slog.Warn("resultView: refusing to render result", "error", err)
		return ResultView{Message: MalformedResultMessage}
	}
	return ResultView{
		OK:         true,
		Status:     r.Status,
		Confidence: formatConfidence(*r.Confidence),
		Timestamp:  r.Timestamp,
		ImageID:    r.ImageID,
		ImageURL:   safeImageURL(r.ImageURL),
		Advice:     history.AdviceText(r.Status),
	}
}

func formatConfidence(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64) + "%"
}

// safeImageURL lets inline images and http(s) links through html/template.
func safeImageURL(raw string) template.URL {
	switch {
	case strings.HasPrefix(raw, "data:image/"),
		strings.HasPrefix(raw, "http://"),
		strings.HasPrefix(raw, "https://"):
		return template.URL(raw)
	default:
		return ""
	}
}

// renderResult executes the result card and contains any failure in an
// inline error panel.
func (t *Template) renderResult(view ResultView) template.HTML {
	html, err := t.RenderFragment("result-card", view)
	if err == nil {
		return html
	}

	var failure *apperror.RenderFailure
	if !errors.As(err, &failure) {
		failure = &apperror.RenderFailure{View: "result-card", Err: err}
	}
	slog.Error("renderResult: failed to render result card", "error", failure)
	panel, perr := t.RenderFragment("render-error", failure)
	if perr != nil {
		return template.HTML(`<div class="error-panel">` + template.HTMLEscapeString(failure.Error()) + `</div>`)
	}
	return panel
}
