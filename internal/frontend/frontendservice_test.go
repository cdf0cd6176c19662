package frontend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jo-hoe/goberry/internal/core"
	"github.com/jo-hoe/goberry/internal/history"
	"github.com/labstack/echo/v4"
)

type fakeBackend struct {
	mu            sync.Mutex
	analyzeStatus int
	analyzeBody   string
	records       []history.Record
	deleted       []string
	cleared       int
	exportPDF     []byte
}

func (b *fakeBackend) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch {
	case r.Method == http.MethodPost && r.URL.Path == "/analyze":
		if b.analyzeStatus != 0 && b.analyzeStatus != http.StatusOK {
			http.Error(w, "backend failure", b.analyzeStatus)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(b.analyzeBody))
	case r.Method == http.MethodGet && r.URL.Path == "/history/export":
		w.Header().Set("Content-Type", "application/pdf")
		_, _ = w.Write(b.exportPDF)
	case r.Method == http.MethodGet && r.URL.Path == "/history":
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(b.records)
	case r.Method == http.MethodDelete && r.URL.Path == "/history":
		b.cleared++
		b.records = nil
	case r.Method == http.MethodDelete && strings.HasPrefix(r.URL.Path, "/history/"):
		id := strings.TrimPrefix(r.URL.Path, "/history/")
		b.deleted = append(b.deleted, id)
		kept := b.records[:0]
		for _, rec := range b.records {
			if rec.ImageID != id {
				kept = append(kept, rec)
			}
		}
		b.records = kept
	default:
		http.NotFound(w, r)
	}
}

type testClient struct {
	t      *testing.T
	e      *echo.Echo
	cookie *http.Cookie
}

func newTestClient(t *testing.T, backend *fakeBackend) *testClient {
	t.Helper()
	server := httptest.NewServer(backend)
	t.Cleanup(server.Close)

	config := core.DefaultConfig()
	config.Backend.URL = server.URL
	config.History.Timezone = "UTC"
	config.Progress.Interval = 5 * time.Millisecond
	config.Commands = core.DefaultCommands()

	coreService, err := core.NewCoreService(context.Background(), config)
	if err != nil {
		t.Fatalf("NewCoreService error: %v", err)
	}
	service := NewFrontendService(config, coreService)
	t.Cleanup(func() {
		service.Sessions().CloseAll()
		_ = coreService.Close()
	})

	e := echo.New()
	service.SetRoutes(e)
	return &testClient{t: t, e: e}
}

func (c *testClient) do(req *http.Request) *httptest.ResponseRecorder {
	c.t.Helper()
	if c.cookie != nil {
		req.AddCookie(c.cookie)
	}
	rec := httptest.NewRecorder()
	c.e.ServeHTTP(rec, req)
	for _, cookie := range rec.Result().Cookies() {
		if cookie.Name == clientCookieName {
			c.cookie = cookie
		}
	}
	return rec
}

func (c *testClient) get(path string) *httptest.ResponseRecorder {
	return c.do(httptest.NewRequest(http.MethodGet, path, nil))
}

func (c *testClient) send(method, path string) *httptest.ResponseRecorder {
	return c.do(httptest.NewRequest(method, path, nil))
}

func (c *testClient) selectImage(name string, data []byte) *httptest.ResponseRecorder {
	c.t.Helper()
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("image", name)
	if err != nil {
		c.t.Fatalf("CreateFormFile error: %v", err)
	}
	_, _ = part.Write(data)
	_ = writer.Close()

	req := httptest.NewRequest(http.MethodPost, "/htmx/select", &body)
	req.Header.Set(echo.HeaderContentType, writer.FormDataContentType())
	return c.do(req)
}

// waitForState polls the status fragment until the panel reports state.
func (c *testClient) waitForState(state string) *httptest.ResponseRecorder {
	c.t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for {
		rec := c.get("/htmx/status")
		if strings.Contains(rec.Body.String(), `data-state="`+state+`"`) {
			return rec
		}
		if time.Now().After(deadline) {
			c.t.Fatalf("timed out waiting for state %q, last body: %s", state, rec.Body.String())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestUploadScenario_ShowsResultCard(t *testing.T) {
	backend := &fakeBackend{analyzeBody: `{"class_name":"Здоровое растение","confidence":92,"image_id":"abc123"}`}
	client := newTestClient(t, backend)

	if rec := client.selectImage("bush.jpg", []byte("jpeg-bytes")); rec.Code != http.StatusOK {
		t.Fatalf("select returned %d: %s", rec.Code, rec.Body.String())
	}
	if rec := client.send(http.MethodPost, "/htmx/analyze"); rec.Code != http.StatusOK {
		t.Fatalf("analyze returned %d: %s", rec.Code, rec.Body.String())
	}

	body := client.waitForState("resolved").Body.String()
	for _, want := range []string{"Здоровое растение", "92%", `class="result-timestamp">Время: `} {
		if !strings.Contains(body, want) {
			t.Errorf("expected result card to contain %q, got: %s", want, body)
		}
	}
	if strings.Contains(body, `class="result-timestamp">Время: </small>`) {
		t.Error("expected a non-empty timestamp")
	}
	if !strings.Contains(body, history.AdviceText(history.StatusHealthy)) {
		t.Error("expected advice text on the result card")
	}
}

func TestUploadScenario_BackendFailureKeepsImage(t *testing.T) {
	backend := &fakeBackend{analyzeStatus: http.StatusInternalServerError}
	client := newTestClient(t, backend)

	client.selectImage("bush.jpg", []byte("jpeg-bytes"))
	alerts := 0
	rec := client.send(http.MethodPost, "/htmx/analyze")
	deadline := time.Now().Add(3 * time.Second)
	for {
		if strings.Contains(rec.Header().Get("HX-Trigger"), "showAlert") {
			alerts++
		}
		if strings.Contains(rec.Body.String(), `data-state="image-selected"`) {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for failure, last body: %s", rec.Body.String())
		}
		time.Sleep(5 * time.Millisecond)
		rec = client.get("/htmx/status")
	}

	body := rec.Body.String()
	if !strings.Contains(body, "Ошибка анализа") || !strings.Contains(body, "500") {
		t.Errorf("expected error indication, got: %s", body)
	}
	if !strings.Contains(body, "bush.jpg") {
		t.Errorf("expected selected image to be kept, got: %s", body)
	}

	// the alert fires once per failure
	if trigger := client.get("/htmx/status").Header().Get("HX-Trigger"); strings.Contains(trigger, "showAlert") {
		alerts++
	}
	if alerts != 1 {
		t.Errorf("expected exactly one showAlert trigger, got %d", alerts)
	}
}

func TestUploadScenario_MalformedResultShowsGuardMessage(t *testing.T) {
	backend := &fakeBackend{analyzeBody: `{"class_name":"","confidence":92,"image_id":"x"}`}
	client := newTestClient(t, backend)

	client.selectImage("bush.jpg", []byte("jpeg-bytes"))
	client.send(http.MethodPost, "/htmx/analyze")

	body := client.waitForState("resolved").Body.String()
	if !strings.Contains(body, MalformedResultMessage) {
		t.Errorf("expected guard message, got: %s", body)
	}
	if strings.Contains(body, "result-card") {
		t.Error("expected no result card for malformed result")
	}
}

func TestUploadPanel_AnalyzeWithoutImage(t *testing.T) {
	client := newTestClient(t, &fakeBackend{})
	if rec := client.send(http.MethodPost, "/htmx/analyze"); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestUploadPanel_Clear(t *testing.T) {
	client := newTestClient(t, &fakeBackend{})
	client.selectImage("bush.jpg", []byte("jpeg-bytes"))

	rec := client.send(http.MethodPost, "/htmx/clear")
	body := rec.Body.String()
	if !strings.Contains(body, `data-state="idle"`) || strings.Contains(body, "bush.jpg") {
		t.Fatalf("expected idle panel without image, got: %s", body)
	}
}

func TestThemeToggle(t *testing.T) {
	client := newTestClient(t, &fakeBackend{})

	if body := client.get("/").Body.String(); strings.Contains(body, `class="dark"`) {
		t.Fatal("expected light theme by default")
	}
	rec := client.send(http.MethodPost, "/theme/toggle")
	if trigger := rec.Header().Get("HX-Trigger"); !strings.Contains(trigger, `"theme":"dark"`) {
		t.Fatalf("expected themeChanged to dark, got %q", trigger)
	}
	if body := client.get("/").Body.String(); !strings.Contains(body, `class="dark"`) {
		t.Fatal("expected dark class on root element after toggle")
	}
}

func historyBackend() *fakeBackend {
	return &fakeBackend{records: []history.Record{
		{ImageID: "one.jpg", Status: history.StatusHealthy, Confidence: 92, Timestamp: "2025-06-01T12:30:45"},
		{ImageID: "two.jpg", Status: history.StatusMold, Confidence: 40, Timestamp: "2025-06-02T08:00:00"},
		{ImageID: "three.jpg", Status: history.StatusHealthy, Confidence: 77, Timestamp: "2025-06-03T09:00:00"},
	}}
}

func TestHistoryPage_ListsRecords(t *testing.T) {
	client := newTestClient(t, historyBackend())

	body := client.get("/history").Body.String()
	for _, want := range []string{"one.jpg", "two.jpg", "three.jpg", "01.06.2025, 12:30:45", "92%"} {
		if !strings.Contains(body, want) {
			t.Errorf("expected history page to contain %q", want)
		}
	}
}

func TestHistory_DeleteRemovesOnlyThatRecord(t *testing.T) {
	backend := historyBackend()
	client := newTestClient(t, backend)
	client.get("/history")

	rec := client.send(http.MethodDelete, "/htmx/history/two.jpg")
	body := rec.Body.String()
	if strings.Contains(body, `data-id="two.jpg"`) {
		t.Error("expected deleted record to be gone")
	}
	if !strings.Contains(body, `data-id="one.jpg"`) || !strings.Contains(body, `data-id="three.jpg"`) {
		t.Error("expected other records to stay")
	}
	backend.mu.Lock()
	defer backend.mu.Unlock()
	if len(backend.deleted) != 1 || backend.deleted[0] != "two.jpg" {
		t.Errorf("expected backend delete of two.jpg, got %v", backend.deleted)
	}
}

func TestHistory_FilterAndSort(t *testing.T) {
	client := newTestClient(t, historyBackend())
	client.get("/history")

	body := client.get("/htmx/history?status=" + url.QueryEscape(history.StatusMold)).Body.String()
	if strings.Contains(body, `data-id="one.jpg"`) || !strings.Contains(body, `data-id="two.jpg"`) {
		t.Errorf("expected only mold records, got: %s", body)
	}

	body = client.get("/htmx/history?status=all&sort=confidence&dir=asc").Body.String()
	two, three, one := strings.Index(body, `data-id="two.jpg"`), strings.Index(body, `data-id="three.jpg"`), strings.Index(body, `data-id="one.jpg"`)
	if two < 0 || !(two < three && three < one) {
		t.Errorf("expected ascending confidence order two, three, one; got positions %d %d %d", two, three, one)
	}

	if rec := client.get("/htmx/history?sort=size"); rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for invalid sort key, got %d", rec.Code)
	}
}

func TestHistory_Clear(t *testing.T) {
	backend := historyBackend()
	client := newTestClient(t, backend)
	client.get("/history")

	body := client.send(http.MethodDelete, "/htmx/history").Body.String()
	if strings.Contains(body, "data-id=") || !strings.Contains(body, "История пуста.") {
		t.Errorf("expected empty history, got: %s", body)
	}
	backend.mu.Lock()
	defer backend.mu.Unlock()
	if backend.cleared != 1 {
		t.Errorf("expected one clear request, got %d", backend.cleared)
	}
}

func TestHistory_Advice(t *testing.T) {
	client := newTestClient(t, &fakeBackend{})
	body := client.get("/htmx/history/advice?status=" + url.QueryEscape(history.StatusDry)).Body.String()
	if !strings.Contains(body, history.AdviceText(history.StatusDry)) {
		t.Errorf("expected advice for dry status, got: %s", body)
	}
}

func TestHistory_AdviceLinkEscapesStatus(t *testing.T) {
	status := `Плесень "серая" \ тест`
	backend := &fakeBackend{records: []history.Record{
		{ImageID: "odd.jpg", Status: status, Confidence: 50, Timestamp: "2025-06-01T12:30:45"},
	}}
	client := newTestClient(t, backend)

	page := client.get("/history").Body.String()
	match := regexp.MustCompile(`hx-get="(/htmx/history/advice\?status=[^"]*)"`).FindStringSubmatch(page)
	if match == nil {
		t.Fatalf("expected advice link in history list, got: %s", page)
	}
	link := html.UnescapeString(match[1])
	if want := "/htmx/history/advice?status=" + url.QueryEscape(status); link != want {
		t.Fatalf("expected advice link %q, got %q", want, link)
	}

	body := client.get(link).Body.String()
	if !strings.Contains(body, html.EscapeString(status)) {
		t.Errorf("expected advice for %q, got: %s", status, body)
	}
	if !strings.Contains(body, history.AdviceText(status)) {
		t.Errorf("expected default advice text, got: %s", body)
	}
}

func TestHistory_Export(t *testing.T) {
	backend := &fakeBackend{exportPDF: minimalPDF()}
	client := newTestClient(t, backend)

	rec := client.get("/history/export")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if got := rec.Header().Get(echo.HeaderContentDisposition); got != `attachment; filename="blueberry-analysis-history.pdf"` {
		t.Errorf("unexpected Content-Disposition %q", got)
	}
	if got := rec.Header().Get(echo.HeaderContentType); got != "application/pdf" {
		t.Errorf("unexpected Content-Type %q", got)
	}
	if !bytes.Equal(rec.Body.Bytes(), backend.exportPDF) {
		t.Error("expected PDF bytes to be passed through")
	}

	backend.mu.Lock()
	backend.exportPDF = []byte("not a pdf")
	backend.mu.Unlock()
	if rec := client.get("/history/export"); rec.Code != http.StatusBadGateway {
		t.Errorf("expected 502 for broken export, got %d", rec.Code)
	}
}

func TestStaticRoutes(t *testing.T) {
	client := newTestClient(t, &fakeBackend{})

	if rec := client.get("/probe"); rec.Code != http.StatusOK {
		t.Errorf("expected probe 200, got %d", rec.Code)
	}
	if rec := client.get("/icon.svg"); rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "<svg") {
		t.Errorf("expected svg icon, got %d", rec.Code)
	}
	rec := client.get("/favicon.png")
	if rec.Code != http.StatusOK || !bytes.HasPrefix(rec.Body.Bytes(), []byte("\x89PNG")) {
		t.Errorf("expected png favicon, got %d", rec.Code)
	}
}

// minimalPDF builds a valid one-page document.
func minimalPDF() []byte {
	objects := []string{
		"<< /Type /Catalog /Pages 2 0 R >>",
		"<< /Type /Pages /Kids [3 0 R] /Count 1 >>",
		"<< /Type /Page /Parent 2 0 R /MediaBox [0 0 200 200] >>",
	}
	var buf bytes.Buffer
	buf.WriteString("%PDF-1.4\n")
	offsets := make([]int, len(objects))
	for i, obj := range objects {
		offsets[i] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", i+1, obj)
	}
	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n0000000000 65535 f \n", len(objects)+1)
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(objects)+1, xref)
	return buf.Bytes()
}
