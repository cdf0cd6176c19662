package frontend

import (
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/jo-hoe/goberry/internal/apperror"
	"github.com/jo-hoe/goberry/internal/classifier"
	"github.com/jo-hoe/goberry/internal/common"
	"github.com/jo-hoe/goberry/internal/core"
	"github.com/jo-hoe/goberry/internal/history"
	"github.com/jo-hoe/goberry/internal/preferences"
	"github.com/jo-hoe/goberry/internal/preview"
	"github.com/jo-hoe/goberry/internal/workflow"
	"github.com/labstack/echo/v4"
)

const (
	MainPageName    = "index.html"
	HistoryPageName = "history.html"
	mimePNG         = "image/png"
	mimePDF         = "application/pdf"
)

type FrontendService struct {
	coreService *core.CoreService
	config      *core.ServiceConfig
	sessions    *SessionManager
	renderer    *Template

	faviconOnce sync.Once
	favicon     []byte
	faviconErr  error
}

func NewFrontendService(config *core.ServiceConfig, coreService *core.CoreService) *FrontendService {
	return &FrontendService{
		coreService: coreService,
		config:      config,
		sessions:    NewSessionManager(coreService, config.Session.IdleTimeout),
		renderer:    NewTemplate(),
	}
}

// Sessions exposes the session manager so main can run its eviction loop.
func (service *FrontendService) Sessions() *SessionManager {
	return service.sessions
}

func (service *FrontendService) SetRoutes(e *echo.Echo) {
	e.Renderer = service.renderer
	if e.Validator == nil {
		e.Validator = common.NewEchoValidator()
	}

	e.GET("/", service.indexHandler)
	e.GET("/history", service.historyPageHandler)
	e.GET("/history/export", service.exportHandler)
	e.POST("/theme/toggle", service.themeToggleHandler)

	// upload workflow
	e.POST("/htmx/select", service.htmxSelectHandler)
	e.POST("/htmx/analyze", service.htmxAnalyzeHandler)
	e.GET("/htmx/status", service.htmxStatusHandler)
	e.POST("/htmx/clear", service.htmxClearHandler)

	// history
	e.GET("/htmx/history", service.htmxHistoryListHandler)
	e.DELETE("/htmx/history", service.htmxClearHistoryHandler)
	e.DELETE("/htmx/history/:id", service.htmxDeleteHistoryHandler)
	e.GET("/htmx/history/advice", service.htmxAdviceHandler)

	e.GET("/probe", service.probeHandler)
	e.GET("/icon.svg", service.iconHandler)
	e.GET("/favicon.png", service.faviconHandler)
}

type pageData struct {
	Theme   preferences.Theme
	Active  string
	Panel   *panelData
	History *historyData
}

type panelData struct {
	State      string
	Submitting bool
	Resolved   bool
	HasImage   bool
	ImageName  string
	Preview    template.URL
	Progress   int
	Error      string
	Result     template.HTML
}

type historyRow struct {
	ImageID     string
	DeletePath  string
	AdvicePath  string
	Status      string
	Confidence  string
	DisplayTime string
	ImageURL    template.URL
}

type historyData struct {
	Records  []historyRow
	Total    int
	View     history.View
	Statuses []string
	Error    string
}

type historyQuery struct {
	Sort   string `query:"sort" validate:"omitempty,oneof=date confidence status"`
	Dir    string `query:"dir" validate:"omitempty,oneof=asc desc"`
	Status string `query:"status" validate:"max=256"`
	Reset  bool   `query:"reset"`
}

type adviceData struct {
	Status string
	Text   string
}

func (service *FrontendService) indexHandler(ctx echo.Context) error {
	session := service.sessions.Get(ctx)
	data := pageData{
		Theme:  service.theme(ctx, session),
		Active: "upload",
		Panel:  service.buildPanel(ctx, session),
	}
	service.setNoCache(ctx)
	return ctx.Render(http.StatusOK, MainPageName, data)
}

func (service *FrontendService) historyPageHandler(ctx echo.Context) error {
	session := service.sessions.Get(ctx)
	loadErr := session.History.EnsureLoaded(ctx.Request().Context())
	data := pageData{
		Theme:   service.theme(ctx, session),
		Active:  "history",
		History: service.buildHistory(ctx, session, loadErr, "Ошибка загрузки истории"),
	}
	service.setNoCache(ctx)
	return ctx.Render(http.StatusOK, HistoryPageName, data)
}

func (service *FrontendService) htmxSelectHandler(ctx echo.Context) error {
	session := service.sessions.Get(ctx)
	maxBytes := service.config.Upload.MaxBytes

	file, err := ctx.FormFile("image")
	if err != nil {
		slog.Error("htmxSelectHandler: failed to get uploaded file",
			"status", http.StatusBadRequest, "error", err)
		return ctx.String(http.StatusBadRequest, "Failed to get uploaded file")
	}
	if file.Size > maxBytes {
		slog.Warn("htmxSelectHandler: uploaded file too large",
			"status", http.StatusRequestEntityTooLarge, "size_bytes", file.Size, "filename", file.Filename)
		return ctx.String(http.StatusRequestEntityTooLarge, "Uploaded file is too large")
	}

	src, err := file.Open()
	if err != nil {
		slog.Error("htmxSelectHandler: failed to open uploaded file",
			"status", http.StatusInternalServerError, "error", err, "filename", file.Filename)
		return ctx.String(http.StatusInternalServerError, "Failed to open uploaded file")
	}
	defer func() {
		if cerr := src.Close(); cerr != nil {
			slog.Error("htmxSelectHandler: failed to close uploaded file reader", "error", cerr, "filename", file.Filename)
		}
	}()

	data, err := io.ReadAll(io.LimitReader(src, maxBytes+1))
	if err != nil {
		slog.Error("htmxSelectHandler: failed to read uploaded file",
			"status", http.StatusInternalServerError, "error", err, "filename", file.Filename)
		return ctx.String(http.StatusInternalServerError, "Failed to read uploaded file")
	}

	contentType := file.Header.Get(echo.HeaderContentType)
	if contentType == "" || contentType == echo.MIMEOctetStream {
		contentType = http.DetectContentType(data)
	}

	upload := classifier.Upload{Name: file.Filename, ContentType: contentType, Data: data}
	if err := session.Workflow.Select(upload); err != nil {
		switch {
		case errors.Is(err, workflow.ErrBusy):
			return service.renderPanel(ctx, session)
		case errors.Is(err, workflow.ErrEmptyImage):
			return ctx.String(http.StatusBadRequest, "Uploaded file is empty")
		default:
			slog.Error("htmxSelectHandler: failed to select image",
				"status", http.StatusInternalServerError, "error", err, "filename", file.Filename)
			return ctx.String(http.StatusInternalServerError, "Failed to select image")
		}
	}
	session.SetPreview(service.coreService.Encoder().DataURI(data, contentType))

	return service.renderPanel(ctx, session)
}

func (service *FrontendService) htmxAnalyzeHandler(ctx echo.Context) error {
	session := service.sessions.Get(ctx)

	if _, err := session.Workflow.Submit(ctx.Request().Context()); err != nil {
		switch {
		case errors.Is(err, workflow.ErrBusy):
		case errors.Is(err, workflow.ErrNoImage):
			slog.Warn("htmxAnalyzeHandler: no image selected", "status", http.StatusBadRequest)
			return ctx.String(http.StatusBadRequest, "No image selected")
		default:
			slog.Error("htmxAnalyzeHandler: failed to submit image",
				"status", http.StatusInternalServerError, "error", err)
			return ctx.String(http.StatusInternalServerError, "Failed to submit image")
		}
	}
	return service.renderPanel(ctx, session)
}

func (service *FrontendService) htmxStatusHandler(ctx echo.Context) error {
	return service.renderPanel(ctx, service.sessions.Get(ctx))
}

func (service *FrontendService) htmxClearHandler(ctx echo.Context) error {
	session := service.sessions.Get(ctx)
	session.Workflow.Clear()
	session.SetPreview("")
	return service.renderPanel(ctx, session)
}

func (service *FrontendService) renderPanel(ctx echo.Context, session *Session) error {
	service.setNoCache(ctx)
	return ctx.Render(http.StatusOK, "upload-panel", service.buildPanel(ctx, session))
}

func (service *FrontendService) buildPanel(ctx echo.Context, session *Session) *panelData {
	snap := session.Workflow.Snapshot()
	panel := &panelData{
		State:      snap.State.String(),
		Submitting: snap.State == workflow.Submitting,
		Resolved:   snap.State == workflow.Resolved,
		Progress:   snap.Progress,
	}
	if snap.Image != nil {
		panel.HasImage = true
		panel.ImageName = snap.Image.Name
		panel.Preview = safeImageURL(session.Preview())
	}
	if snap.Err != nil {
		panel.Error = "Ошибка анализа: " + snap.Err.Error()
		if apperror.IsNetworkFailure(snap.Err) && session.shouldAlert(snap.Err) {
			service.triggerAlert(ctx, panel.Error)
		}
	}
	if panel.Resolved {
		panel.Result = service.renderer.renderResult(NewResultView(snap.Result))
	}
	return panel
}

func (service *FrontendService) htmxHistoryListHandler(ctx echo.Context) error {
	session := service.sessions.Get(ctx)

	var query historyQuery
	if err := ctx.Bind(&query); err != nil {
		slog.Warn("htmxHistoryListHandler: failed to bind query", "status", http.StatusBadRequest, "error", err)
		return ctx.String(http.StatusBadRequest, "Invalid query")
	}
	if err := ctx.Validate(&query); err != nil {
		slog.Warn("htmxHistoryListHandler: invalid query", "status", http.StatusBadRequest, "error", err)
		return err
	}

	view := session.History.View()
	if query.Reset {
		view = history.DefaultView()
	} else {
		if query.Sort != "" {
			view.Sort = history.SortKey(query.Sort)
		}
		if query.Dir != "" {
			view.Dir = history.Direction(query.Dir)
		}
		if query.Status != "" {
			view.Status = query.Status
		}
	}
	session.History.SetView(view)

	loadErr := session.History.EnsureLoaded(ctx.Request().Context())
	return service.renderHistory(ctx, session, loadErr, "Ошибка загрузки истории")
}

func (service *FrontendService) htmxDeleteHistoryHandler(ctx echo.Context) error {
	session := service.sessions.Get(ctx)

	id := ctx.Param("id")
	if unescaped, err := url.PathUnescape(id); err == nil {
		id = unescaped
	}
	if id == "" {
		slog.Warn("htmxDeleteHistoryHandler: missing image id",
			"status", http.StatusBadRequest,
			"route", "/htmx/history/:id")
		return ctx.String(http.StatusBadRequest, "Missing image ID")
	}

	err := session.History.Delete(ctx.Request().Context(), id)
	return service.renderHistory(ctx, session, err, "Ошибка удаления записи")
}

func (service *FrontendService) htmxClearHistoryHandler(ctx echo.Context) error {
	session := service.sessions.Get(ctx)
	err := session.History.Clear(ctx.Request().Context())
	return service.renderHistory(ctx, session, err, "Ошибка очистки истории")
}

func (service *FrontendService) htmxAdviceHandler(ctx echo.Context) error {
	status := strings.TrimSpace(ctx.QueryParam("status"))
	return ctx.Render(http.StatusOK, "advice", adviceData{Status: status, Text: history.AdviceText(status)})
}

func (service *FrontendService) renderHistory(ctx echo.Context, session *Session, opErr error, prefix string) error {
	service.setNoCache(ctx)
	return ctx.Render(http.StatusOK, "history-list", service.buildHistory(ctx, session, opErr, prefix))
}

func (service *FrontendService) buildHistory(ctx echo.Context, session *Session, opErr error, prefix string) *historyData {
	records := session.History.Visible()
	data := &historyData{
		Records:  make([]historyRow, 0, len(records)),
		Total:    session.History.Len(),
		View:     session.History.View(),
		Statuses: session.History.Statuses(),
	}
	for _, r := range records {
		data.Records = append(data.Records, historyRow{
			ImageID:     r.ImageID,
			DeletePath:  url.PathEscape(r.ImageID),
			AdvicePath:  "/htmx/history/advice?status=" + url.QueryEscape(r.Status),
			Status:      r.Status,
			Confidence:  formatConfidence(r.Confidence),
			DisplayTime: r.DisplayTime,
			ImageURL:    safeImageURL(r.ImageURL),
		})
	}
	if opErr != nil {
		data.Error = prefix + ": " + opErr.Error()
		if apperror.IsNetworkFailure(opErr) {
			service.triggerAlert(ctx, data.Error)
		}
	}
	return data
}

func (service *FrontendService) exportHandler(ctx echo.Context) error {
	session := service.sessions.Get(ctx)

	export, err := session.History.Export(ctx.Request().Context())
	if err != nil {
		slog.Error("exportHandler: failed to export history",
			"status", http.StatusBadGateway, "error", err)
		return ctx.String(http.StatusBadGateway, "Failed to export history")
	}

	service.setNoCache(ctx)
	ctx.Response().Header().Set(echo.HeaderContentDisposition,
		fmt.Sprintf(`attachment; filename="%s"`, history.ExportFilename))
	return ctx.Blob(http.StatusOK, mimePDF, export.Data)
}

func (service *FrontendService) themeToggleHandler(ctx echo.Context) error {
	session := service.sessions.Get(ctx)

	theme, err := preferences.ToggleTheme(ctx.Request().Context(), service.coreService.Preferences(), session.ID)
	if err != nil {
		slog.Error("themeToggleHandler: failed to persist theme", "client_id", session.ID, "error", err)
	}
	service.setTrigger(ctx, "themeChanged", map[string]string{"theme": string(theme)})
	return ctx.Render(http.StatusOK, "theme-toggle", pageData{Theme: theme})
}

func (service *FrontendService) theme(ctx echo.Context, session *Session) preferences.Theme {
	return preferences.LoadTheme(ctx.Request().Context(), service.coreService.Preferences(), session.ID)
}

func (service *FrontendService) probeHandler(ctx echo.Context) error {
	return ctx.String(http.StatusOK, "ok")
}

func (service *FrontendService) iconHandler(ctx echo.Context) error {
	data, err := assetsFS.ReadFile("views/icon.svg")
	if err != nil {
		slog.Error("iconHandler: failed to read icon.svg", "status", http.StatusInternalServerError, "error", err)
		return ctx.String(http.StatusInternalServerError, "Failed to load icon")
	}
	// Cache for 7 days
	ctx.Response().Header().Set("Cache-Control", "public, max-age=604800, immutable")
	return ctx.Blob(http.StatusOK, "image/svg+xml", data)
}

// faviconHandler serves the icon rasterised once for browsers without SVG favicons.
func (service *FrontendService) faviconHandler(ctx echo.Context) error {
	service.faviconOnce.Do(func() {
		service.favicon, service.faviconErr = service.renderFavicon()
	})
	if service.faviconErr != nil {
		slog.Error("faviconHandler: failed to render favicon", "status", http.StatusInternalServerError, "error", service.faviconErr)
		return ctx.String(http.StatusInternalServerError, "Failed to load icon")
	}
	ctx.Response().Header().Set("Cache-Control", "public, max-age=604800, immutable")
	return ctx.Blob(http.StatusOK, mimePNG, service.favicon)
}

func (service *FrontendService) renderFavicon() ([]byte, error) {
	svg, err := assetsFS.ReadFile("views/icon.svg")
	if err != nil {
		return nil, err
	}
	command, err := preview.NewPngConverterCommand(map[string]any{"svgFallbackWidth": 64, "svgFallbackHeight": 64})
	if err != nil {
		return nil, fmt.Errorf("failed to create favicon command: %w", err)
	}
	return command.Execute(svg)
}

// triggerAlert makes the page show a blocking alert with message.
func (service *FrontendService) triggerAlert(ctx echo.Context, message string) {
	service.setTrigger(ctx, "showAlert", map[string]string{"message": message})
}

func (service *FrontendService) setTrigger(ctx echo.Context, event string, detail map[string]string) {
	payload, err := json.Marshal(map[string]any{event: detail})
	if err != nil {
		slog.Error("setTrigger: failed to encode HX-Trigger", "event", event, "error", err)
		return
	}
	ctx.Response().Header().Set("HX-Trigger", string(payload))
}

func (service *FrontendService) setNoCache(ctx echo.Context) {
	ctx.Response().Header().Set("Cache-Control", "no-store, no-cache, must-revalidate, max-age=0")
	ctx.Response().Header().Set("Pragma", "no-cache")
	ctx.Response().Header().Set("Expires", "0")
}
