package web

import (
	"context"
	"image"
	"image/png"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dmorgan81/liblibstudio/internal/config"
	"github.com/dmorgan81/liblibstudio/internal/generate"
	"github.com/dmorgan81/liblibstudio/internal/liblib"
	"github.com/dmorgan81/liblibstudio/internal/log"
	"github.com/dmorgan81/liblibstudio/internal/metrics"
	"github.com/dmorgan81/liblibstudio/internal/page"
	"github.com/dmorgan81/liblibstudio/internal/session"
	"github.com/dmorgan81/liblibstudio/internal/store"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeGenerator struct {
	mu      sync.Mutex
	calls   []generate.Params
	ctxErrs []error
	err     error
	img     image.Image
	started chan struct{}
	release chan struct{}
}

func (g *fakeGenerator) Generate(ctx context.Context, p generate.Params) (generate.Result, error) {
	g.mu.Lock()
	g.calls = append(g.calls, p)
	g.ctxErrs = append(g.ctxErrs, ctx.Err())
	g.mu.Unlock()
	if g.started != nil {
		g.started <- struct{}{}
		<-g.release
	}
	if g.err != nil {
		return generate.Result{}, g.err
	}
	img := g.img
	if img == nil {
		img = image.NewRGBA(image.Rect(0, 0, 600, 300))
	}
	return generate.Result{
		JobID:   "job-1",
		Image:   generate.Image{Image: img, Format: "png"},
		Elapsed: 3 * time.Second,
	}, nil
}

func (g *fakeGenerator) params() []generate.Params {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]generate.Params(nil), g.calls...)
}

type recordingUploader struct {
	mu      sync.Mutex
	uploads []store.UploadParams
}

func (u *recordingUploader) Upload(_ context.Context, p store.UploadParams) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.uploads = append(u.uploads, p)
	return nil
}

type fixture struct {
	handler  http.Handler
	metrics  *metrics.Collector
	sessions *session.Store
	gen      *fakeGenerator
	records  *recordingUploader
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{gen: &fakeGenerator{}, records: &recordingUploader{}, metrics: metrics.New(prometheus.NewRegistry())}
	f.sessions = session.NewStore(func(liblib.Credentials) generate.Generator { return f.gen })
	f.handler = New(
		f.sessions,
		&page.Templator{},
		&store.Recorder{Primary: f.records},
		f.metrics,
		log.New(io.Discard, slog.LevelInfo),
		config.DefaultTemplateUUID,
	).Routes()
	return f
}

func (f *fixture) send(t *testing.T, cookie *http.Cookie, method, target string, form url.Values) *httptest.ResponseRecorder {
	t.Helper()
	return f.sendContext(t, context.Background(), cookie, method, target, form)
}

func (f *fixture) sendContext(t *testing.T, ctx context.Context, cookie *http.Cookie, method, target string, form url.Values) *httptest.ResponseRecorder {
	t.Helper()
	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}
	req := httptest.NewRequest(method, target, body).WithContext(ctx)
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	if cookie != nil {
		req.AddCookie(cookie)
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func (f *fixture) login(t *testing.T) (*http.Cookie, *session.Session) {
	t.Helper()
	rec := f.send(t, nil, http.MethodPost, "/login", url.Values{
		"name":       {"alice"},
		"access_key": {"ak"},
		"secret_key": {"sk"},
	})
	require.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/chat", rec.Header().Get("Location"))

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	sess, err := f.sessions.Get(cookies[0].Value)
	require.NoError(t, err)
	return cookies[0], sess
}

func TestLoginRequiresAllFields(t *testing.T) {
	f := newFixture(t)

	rec := f.send(t, nil, http.MethodPost, "/login", url.Values{"name": {"alice"}, "access_key": {"ak"}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), msgIncomplete)
	assert.Zero(t, f.sessions.Len())
}

func TestLoginPageOffersDefaultTemplate(t *testing.T) {
	rec := newFixture(t).send(t, nil, http.MethodGet, "/login", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), config.DefaultTemplateUUID)
}

func TestLoginDefaultsTemplateUUID(t *testing.T) {
	f := newFixture(t)
	_, sess := f.login(t)
	assert.Equal(t, liblib.Credentials{AccessKey: "ak", SecretKey: "sk", TemplateUUID: config.DefaultTemplateUUID}, sess.Credentials)
	assert.Equal(t, "alice", sess.Username)
}

func TestStudioRequiresSession(t *testing.T) {
	f := newFixture(t)
	for _, target := range []string{"/", "/chat", "/images/x"} {
		rec := f.send(t, nil, http.MethodGet, target, nil)
		assert.Equal(t, http.StatusSeeOther, rec.Code, target)
		assert.Equal(t, "/login", rec.Header().Get("Location"), target)
	}

	rec := f.send(t, &http.Cookie{Name: cookieName, Value: "stale"}, http.MethodGet, "/chat", nil)
	assert.Equal(t, http.StatusSeeOther, rec.Code)
}

func TestUnknownModeIsNotFound(t *testing.T) {
	f := newFixture(t)
	cookie, _ := f.login(t)
	assert.Equal(t, http.StatusNotFound, f.send(t, cookie, http.MethodGet, "/fancy", nil).Code)
}

func TestChatGeneratesAndRecords(t *testing.T) {
	f := newFixture(t)
	cookie, sess := f.login(t)

	rec := f.send(t, cookie, http.MethodPost, "/chat", url.Values{"prompt": {" a cat "}})
	require.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, []generate.Params{{Prompt: "a cat"}}, f.gen.params())

	artifact, ok := sess.Latest(session.ModeChat)
	require.True(t, ok)
	assert.Equal(t, 3*time.Second, artifact.Elapsed)

	history := sess.History()
	require.Len(t, history, 4)
	assert.Equal(t, session.Message{Role: session.RoleUser, Text: "a cat"}, history[1])
	assert.Equal(t, msgGenerated, history[2].Text)
	assert.Equal(t, artifact.ID, history[3].ImageID)

	body := f.send(t, cookie, http.MethodGet, "/chat", nil).Body.String()
	assert.Contains(t, body, "a cat")
	assert.Contains(t, body, msgGenerated)
	assert.Contains(t, body, "/images/"+artifact.ID+"/thumb")

	require.Len(t, f.records.uploads, 1)
	assert.Equal(t, artifact.PNG, f.records.uploads[0].Data)
	assert.True(t, strings.HasPrefix(f.records.uploads[0].Name, "alice/chat/"))
}

func TestImagesServePNGAndThumbnail(t *testing.T) {
	f := newFixture(t)
	cookie, sess := f.login(t)
	require.Equal(t, http.StatusSeeOther, f.send(t, cookie, http.MethodPost, "/basic", url.Values{"prompt": {"dog"}}).Code)
	artifact, ok := sess.Latest(session.ModeBasic)
	require.True(t, ok)

	rec := f.send(t, cookie, http.MethodGet, "/images/"+artifact.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	assert.Empty(t, rec.Header().Get("Content-Disposition"))
	full, err := png.Decode(rec.Body)
	require.NoError(t, err)
	assert.Equal(t, 600, full.Bounds().Dx())

	rec = f.send(t, cookie, http.MethodGet, "/images/"+artifact.ID+"?download=1", nil)
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "attachment")

	rec = f.send(t, cookie, http.MethodGet, "/images/"+artifact.ID+"/thumb", nil)
	thumb, err := png.Decode(rec.Body)
	require.NoError(t, err)
	assert.Equal(t, 256, thumb.Bounds().Dx())
	assert.Equal(t, 128, thumb.Bounds().Dy())

	assert.Equal(t, http.StatusNotFound, f.send(t, cookie, http.MethodGet, "/images/missing", nil).Code)
}

func TestBasicDoesNotRecord(t *testing.T) {
	f := newFixture(t)
	cookie, _ := f.login(t)

	require.Equal(t, http.StatusSeeOther, f.send(t, cookie, http.MethodPost, "/basic", url.Values{"prompt": {"dog"}}).Code)
	assert.Empty(t, f.records.uploads)
}

func TestAdvancedPassesParameters(t *testing.T) {
	f := newFixture(t)
	cookie, _ := f.login(t)

	rec := f.send(t, cookie, http.MethodPost, "/advanced", url.Values{
		"prompt":    {"castle"},
		"steps":     {"35"},
		"width":     {"768"},
		"height":    {"1024"},
		"cfg_scale": {"9"},
		"sampler":   {"DPM++ 2M Karras"},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []generate.Params{{
		Prompt:   "castle",
		Steps:    35,
		Width:    768,
		Height:   1024,
		Sampler:  "DPM++ 2M Karras",
		CFGScale: 9,
	}}, f.gen.params())
	assert.Len(t, f.records.uploads, 1)
}

func TestAdvancedDefaults(t *testing.T) {
	f := newFixture(t)
	cookie, _ := f.login(t)

	f.send(t, cookie, http.MethodPost, "/advanced", url.Values{"prompt": {"castle"}})
	assert.Equal(t, []generate.Params{{
		Prompt:   "castle",
		Steps:    20,
		Width:    512,
		Height:   512,
		Sampler:  "Euler a",
		CFGScale: 7,
	}}, f.gen.params())
}

func TestAdvancedRejectsOutOfRange(t *testing.T) {
	f := newFixture(t)
	cookie, _ := f.login(t)

	for _, form := range []url.Values{
		{"prompt": {"x"}, "steps": {"5"}},
		{"prompt": {"x"}, "cfg_scale": {"21"}},
		{"prompt": {"x"}, "width": {"640"}},
		{"prompt": {"x"}, "sampler": {"LMS"}},
		{"prompt": {"x"}, "steps": {"many"}},
	} {
		rec := f.send(t, cookie, http.MethodPost, "/advanced", form)
		assert.Equal(t, http.StatusBadRequest, rec.Code, form.Encode())
	}
	assert.Empty(t, f.gen.params())
}

func TestEmptyPromptIsRejected(t *testing.T) {
	f := newFixture(t)
	cookie, _ := f.login(t)

	rec := f.send(t, cookie, http.MethodPost, "/basic", url.Values{"prompt": {"   "}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "请输入提示词")
	assert.Empty(t, f.gen.params())
}

func TestGenerationFailureIsShown(t *testing.T) {
	f := newFixture(t)
	f.gen.err = &generate.JobError{ID: "job-1", Status: generate.StatusFailed, Code: 3}
	cookie, sess := f.login(t)

	rec := f.send(t, cookie, http.MethodPost, "/basic", url.Values{"prompt": {"dog"}})
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Contains(t, rec.Body.String(), "状态码：3")
	_, ok := sess.Latest(session.ModeBasic)
	assert.False(t, ok)

	f.gen.err = generate.ErrTimeout
	rec = f.send(t, cookie, http.MethodPost, "/chat", url.Values{"prompt": {"dog"}})
	assert.Equal(t, http.StatusSeeOther, rec.Code)
	history := sess.History()
	assert.Equal(t, errorMessage(generate.ErrTimeout), history[len(history)-1].Text)
	assert.Empty(t, f.records.uploads)
}

func TestTransportDetailsStayHidden(t *testing.T) {
	msg := errorMessage(&url.Error{Op: "Post", URL: "https://openapi.liblibai.cloud", Err: liblib.ErrTransport})
	assert.NotContains(t, msg, "openapi")
}

func TestConcurrentGenerationConflicts(t *testing.T) {
	f := newFixture(t)
	f.gen.started = make(chan struct{})
	f.gen.release = make(chan struct{})
	cookie, _ := f.login(t)

	done := make(chan int)
	go func() {
		done <- f.send(t, cookie, http.MethodPost, "/basic", url.Values{"prompt": {"one"}}).Code
	}()
	<-f.gen.started

	rec := f.send(t, cookie, http.MethodPost, "/basic", url.Values{"prompt": {"two"}})
	assert.Equal(t, http.StatusConflict, rec.Code)

	close(f.gen.release)
	assert.Equal(t, http.StatusSeeOther, <-done)
	assert.Len(t, f.gen.params(), 1)
}

func TestSessionsDoNotShareImages(t *testing.T) {
	f := newFixture(t)
	alice, aliceSess := f.login(t)
	bob, _ := f.login(t)

	f.send(t, alice, http.MethodPost, "/basic", url.Values{"prompt": {"dog"}})
	artifact, ok := aliceSess.Latest(session.ModeBasic)
	require.True(t, ok)

	assert.Equal(t, http.StatusOK, f.send(t, alice, http.MethodGet, "/images/"+artifact.ID, nil).Code)
	assert.Equal(t, http.StatusNotFound, f.send(t, bob, http.MethodGet, "/images/"+artifact.ID, nil).Code)
}

func TestLogoutDropsSession(t *testing.T) {
	f := newFixture(t)
	cookie, sess := f.login(t)

	rec := f.send(t, cookie, http.MethodPost, "/logout", nil)
	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/login", rec.Header().Get("Location"))
	_, err := f.sessions.Get(sess.ID)
	assert.ErrorIs(t, err, session.ErrNotFound)
	assert.Equal(t, http.StatusSeeOther, f.send(t, cookie, http.MethodGet, "/chat", nil).Code)
}

func TestHealthAndMetrics(t *testing.T) {
	f := newFixture(t)
	cookie, _ := f.login(t)
	f.send(t, cookie, http.MethodPost, "/basic", url.Values{"prompt": {"dog"}})

	rec := f.send(t, nil, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())

	body := f.send(t, nil, http.MethodGet, "/metrics", nil).Body.String()
	assert.Contains(t, body, `liblibstudio_generations_total{mode="basic",outcome="ok"} 1`)
	assert.Contains(t, body, `liblibstudio_http_requests_total{method="POST",route="/login",status="303"} 1`)
}

func TestGenerationSurvivesClientDisconnect(t *testing.T) {
	f := newFixture(t)
	cookie, sess := f.login(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	f.sendContext(t, ctx, cookie, http.MethodPost, "/chat", url.Values{"prompt": {"dog"}})

	assert.Equal(t, []error{nil}, f.gen.ctxErrs)
	_, ok := sess.Latest(session.ModeChat)
	assert.True(t, ok)
	assert.Len(t, f.records.uploads, 1)
}

func TestEncodingFailureIsCountedAsMaterialize(t *testing.T) {
	f := newFixture(t)
	f.gen.img = image.NewRGBA(image.Rect(0, 0, 0, 0))
	cookie, sess := f.login(t)

	rec := f.send(t, cookie, http.MethodPost, "/basic", url.Values{"prompt": {"dog"}})
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Contains(t, rec.Body.String(), errorMessage(generate.ErrMaterialize))
	_, ok := sess.Latest(session.ModeBasic)
	assert.False(t, ok)

	body := f.send(t, nil, http.MethodGet, "/metrics", nil).Body.String()
	assert.Contains(t, body, `liblibstudio_generations_total{mode="basic",outcome="materialize"} 1`)
	assert.NotContains(t, body, `outcome="ok"`)
}
