package frontend

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"io"

	"github.com/jo-hoe/goberry/internal/apperror"
	"github.com/labstack/echo/v4"
)

//go:embed views/*.html
var templateFS embed.FS

//go:embed views/icon.svg
var assetsFS embed.FS

const viewsPattern = "views/*.html"

// Template renders the embedded views for echo.
type Template struct {
	templates *template.Template
}

func NewTemplate() *Template {
	return &Template{
		templates: template.Must(template.New("").Funcs(templateFuncs).ParseFS(templateFS, viewsPattern)),
	}
}

var templateFuncs = template.FuncMap{
	"percent": func(v int) string { return fmt.Sprintf("%d%%", v) },
}

func (t *Template) Render(w io.Writer, name string, data any, _ echo.Context) error {
	return t.templates.ExecuteTemplate(w, name, data)
}

// RenderFragment executes one named template into memory. Template errors and
// panics are returned as a RenderFailure.
func (t *Template) RenderFragment(name string, data any) (html template.HTML, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = &apperror.RenderFailure{View: name, Err: fmt.Errorf("panic: %v", rec)}
		}
	}()

	var buf bytes.Buffer
	if err := t.templates.ExecuteTemplate(&buf, name, data); err != nil {
		return "", &apperror.RenderFailure{View: name, Err: err}
	}
	return template.HTML(buf.String()), nil
}
