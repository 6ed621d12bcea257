package web

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dmorgan81/liblibstudio/internal/generate"
	"github.com/dmorgan81/liblibstudio/internal/liblib"
	"github.com/dmorgan81/liblibstudio/internal/log"
	"github.com/dmorgan81/liblibstudio/internal/page"
	"github.com/dmorgan81/liblibstudio/internal/session"
	"github.com/dmorgan81/liblibstudio/internal/store"
	"github.com/go-chi/chi/v5"
	"github.com/samber/lo"
)

const (
	msgIncomplete = "请完整填写信息！"
	msgGenerated  = "我已经为你生成好了这张图，你可以查看或下载 👇"
	msgBusy       = "上一张图片还在生成中，请稍候。"
)

var (
	sizes    = []int{512, 768, 1024}
	samplers = []string{"Euler a", "DPM++ 2M Karras"}

	defaultForm = page.AdvancedForm{
		Steps:    20,
		Width:    512,
		Height:   512,
		CFGScale: 7,
		Sampler:  samplers[0],
	}

	errInvalidForm = errors.New("web: invalid form")
)

func (s *Server) loginPage(w http.ResponseWriter, r *http.Request) {
	s.render(w, r, http.StatusOK, "login", page.Login{TemplateUUID: s.templateUUID})
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	log := log.FromContextOrDiscard(r.Context())
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	name := r.PostForm.Get("name")
	creds := liblib.Credentials{
		AccessKey:    strings.TrimSpace(r.PostForm.Get("access_key")),
		SecretKey:    strings.TrimSpace(r.PostForm.Get("secret_key")),
		TemplateUUID: strings.TrimSpace(r.PostForm.Get("template_uuid")),
	}
	if creds.TemplateUUID == "" {
		creds.TemplateUUID = s.templateUUID
	}

	sess, err := s.sessions.Create(name, creds)
	if err != nil {
		log.Info("login rejected", "error", err)
		s.render(w, r, http.StatusBadRequest, "login", page.Login{
			Name:         name,
			TemplateUUID: creds.TemplateUUID,
			Error:        msgIncomplete,
		})
		return
	}

	log.Info("logged in", "user", sess.Username)
	http.SetCookie(w, &http.Cookie{
		Name:     cookieName,
		Value:    sess.ID,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	http.Redirect(w, r, "/"+string(session.ModeChat), http.StatusSeeOther)
}

func (s *Server) logout(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r.Context())
	s.sessions.Delete(sess.ID)
	log.FromContextOrDiscard(r.Context()).Info("logged out")
	http.SetCookie(w, expiredCookie())
	http.Redirect(w, r, "/login", http.StatusSeeOther)
}

func (s *Server) studio(w http.ResponseWriter, r *http.Request) {
	mode, ok := session.ParseMode(chi.URLParam(r, "mode"))
	if !ok {
		http.NotFound(w, r)
		return
	}
	s.render(w, r, http.StatusOK, string(mode), s.studioData(sessionFrom(r.Context()), mode, defaultForm))
}

func (s *Server) studioData(sess *session.Session, mode session.Mode, form page.AdvancedForm) page.Studio {
	data := page.Studio{
		Username: sess.Username,
		Mode:     string(mode),
		Modes:    lo.Map(session.Modes, func(m session.Mode, _ int) string { return string(m) }),
		Form:     form,
	}
	data.Form.Sizes = sizes
	data.Form.Samplers = samplers

	if a, ok := sess.Latest(mode); ok {
		data.Latest = &page.Artifact{ID: a.ID, Prompt: a.Prompt}
		data.Prompt = a.Prompt
	}
	if mode == session.ModeChat {
		data.History = lo.Map(sess.History(), func(m session.Message, _ int) page.Message {
			msg := page.Message{User: m.Role == session.RoleUser, Text: m.Text}
			if a, ok := sess.Artifact(m.ImageID); ok {
				msg.Image = &page.Artifact{ID: a.ID, Prompt: a.Prompt}
			}
			return msg
		})
	}
	return data
}

func (s *Server) generate(w http.ResponseWriter, r *http.Request) {
	mode, ok := session.ParseMode(chi.URLParam(r, "mode"))
	if !ok {
		http.NotFound(w, r)
		return
	}
	sess := sessionFrom(r.Context())
	log := log.FromContextOrDiscard(r.Context()).With("mode", mode)

	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	params, form, err := parseForm(mode, r)
	if err != nil {
		data := s.studioData(sess, mode, form)
		data.Prompt = params.Prompt
		data.Error = errorMessage(err)
		s.render(w, r, http.StatusBadRequest, string(mode), data)
		return
	}

	if !sess.Begin() {
		http.Error(w, msgBusy, http.StatusConflict)
		return
	}
	defer sess.End()

	if mode == session.ModeChat {
		sess.Append(session.Message{Role: session.RoleUser, Text: params.Prompt})
	}

	// Generation outlives the client connection.
	ctx := context.WithoutCancel(r.Context())

	log.Info("generating image", "params", params)
	start := time.Now()
	res, err := sess.Generator.Generate(ctx, params)
	if err == nil {
		err = s.keep(ctx, sess, mode, params.Prompt, res)
	}
	outcome := generate.Classify(err)
	s.metrics.RecordGeneration(string(mode), outcome, time.Since(start))

	if err != nil {
		log.Error("generating image failed", "outcome", outcome, "error", err)
		if mode == session.ModeChat {
			sess.Append(session.Message{Role: session.RoleAssistant, Text: errorMessage(err)})
			http.Redirect(w, r, "/"+string(mode), http.StatusSeeOther)
			return
		}
		data := s.studioData(sess, mode, form)
		data.Prompt = params.Prompt
		data.Error = errorMessage(err)
		s.render(w, r, statusFor(err), string(mode), data)
		return
	}

	log.Info("image generated", "job", res.JobID, "seconds", res.Seconds())
	if mode == session.ModeAdvanced {
		data := s.studioData(sess, mode, form)
		s.render(w, r, http.StatusOK, string(mode), data)
		return
	}
	http.Redirect(w, r, "/"+string(mode), http.StatusSeeOther)
}

// keep stores the generated image in the session and, outside the basic
// layout, archives it.
func (s *Server) keep(ctx context.Context, sess *session.Session, mode session.Mode, prompt string, res generate.Result) error {
	data, err := page.EncodePNG(res.Image.Image)
	if err != nil {
		return fmt.Errorf("%w: %w", generate.ErrMaterialize, err)
	}
	thumb, err := page.EncodePNG(page.Thumbnail(res.Image.Image, page.ThumbnailSize))
	if err != nil {
		return fmt.Errorf("%w: %w", generate.ErrMaterialize, err)
	}

	artifact := &session.Artifact{
		Mode:    mode,
		Prompt:  prompt,
		PNG:     data,
		Thumb:   thumb,
		Elapsed: res.Elapsed,
	}
	sess.AddArtifact(artifact)

	if mode == session.ModeChat {
		sess.Append(
			session.Message{Role: session.RoleAssistant, Text: msgGenerated},
			session.Message{Role: session.RoleAssistant, ImageID: artifact.ID},
		)
	}
	if mode != session.ModeBasic {
		s.recorder.Save(ctx, store.Record{
			Username: sess.Username,
			Mode:     string(mode),
			Prompt:   prompt,
			PNG:      data,
			Duration: res.Elapsed,
			Time:     artifact.CreatedAt,
		})
	}
	return nil
}

func parseForm(mode session.Mode, r *http.Request) (generate.Params, page.AdvancedForm, error) {
	form := defaultForm
	params := generate.Params{Prompt: strings.TrimSpace(r.PostForm.Get("prompt"))}
	if params.Prompt == "" {
		return params, form, generate.ErrEmptyPrompt
	}
	if mode != session.ModeAdvanced {
		return params, form, nil
	}

	var errs []error
	intField := func(name string, def, low, high int) int {
		raw := strings.TrimSpace(r.PostForm.Get(name))
		if raw == "" {
			return def
		}
		v, err := strconv.Atoi(raw)
		if err != nil || v < low || v > high {
			errs = append(errs, fmt.Errorf("%w: %s must be between %d and %d", errInvalidForm, name, low, high))
			return def
		}
		return v
	}
	form.Steps = intField("steps", defaultForm.Steps, 10, 50)
	form.CFGScale = intField("cfg_scale", defaultForm.CFGScale, 1, 20)
	form.Width = intField("width", defaultForm.Width, sizes[0], sizes[len(sizes)-1])
	form.Height = intField("height", defaultForm.Height, sizes[0], sizes[len(sizes)-1])
	for _, v := range []int{form.Width, form.Height} {
		if !lo.Contains(sizes, v) {
			errs = append(errs, fmt.Errorf("%w: size %d is not offered", errInvalidForm, v))
		}
	}
	if sampler := r.PostForm.Get("sampler"); sampler != "" {
		if lo.Contains(samplers, sampler) {
			form.Sampler = sampler
		} else {
			errs = append(errs, fmt.Errorf("%w: unknown sampler %q", errInvalidForm, sampler))
		}
	}

	params.Steps = form.Steps
	params.Width = form.Width
	params.Height = form.Height
	params.CFGScale = float64(form.CFGScale)
	params.Sampler = form.Sampler
	return params, form, errors.Join(errs...)
}

// errorMessage is what the user sees. Transport details stay in the logs.
func errorMessage(err error) string {
	var (
		protocolErr *generate.ProtocolError
		jobErr      *generate.JobError
	)
	switch {
	case errors.Is(err, generate.ErrEmptyPrompt):
		return "请输入提示词。"
	case errors.Is(err, errInvalidForm):
		return "参数无效：" + err.Error()
	case errors.As(err, &protocolErr):
		return "Liblib 提交失败：" + protocolErr.Raw
	case errors.As(err, &jobErr):
		return fmt.Sprintf("生图任务失败，状态码：%d", jobErr.Code)
	case errors.Is(err, generate.ErrTimeout):
		return "生图超时，请稍后重试。"
	case errors.Is(err, generate.ErrMaterialize):
		return "图片下载失败，请重试。"
	default:
		return "网络异常，请稍后重试。"
	}
}

func statusFor(err error) int {
	switch generate.Classify(err) {
	case "invalid":
		return http.StatusBadRequest
	case "timeout":
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}

func (s *Server) image(w http.ResponseWriter, r *http.Request) {
	s.serveArtifact(w, r, func(a *session.Artifact) []byte { return a.PNG })
}

func (s *Server) thumbnail(w http.ResponseWriter, r *http.Request) {
	s.serveArtifact(w, r, func(a *session.Artifact) []byte { return a.Thumb })
}

func (s *Server) serveArtifact(w http.ResponseWriter, r *http.Request, body func(*session.Artifact) []byte) {
	a, ok := sessionFrom(r.Context()).Artifact(chi.URLParam(r, "id"))
	if !ok {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "private, max-age=3600")
	if r.URL.Query().Get("download") != "" {
		name := fmt.Sprintf("%s_%s.png", a.Mode, a.CreatedAt.Format("20060102_150405"))
		w.Header().Set("Content-Disposition", `attachment; filename="`+name+`"`)
	}
	_, _ = w.Write(body(a))
}
