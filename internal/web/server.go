package web

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/dmorgan81/liblibstudio/internal/log"
	"github.com/dmorgan81/liblibstudio/internal/metrics"
	"github.com/dmorgan81/liblibstudio/internal/page"
	"github.com/dmorgan81/liblibstudio/internal/session"
	"github.com/dmorgan81/liblibstudio/internal/store"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/samber/do"
)

const cookieName = "liblib_session"

type Server struct {
	sessions     *session.Store
	templator    *page.Templator
	recorder     *store.Recorder
	metrics      *metrics.Collector
	logger       *slog.Logger
	templateUUID string
	http         *http.Server
}

func NewServer(i *do.Injector) (*Server, error) {
	s := New(
		do.MustInvoke[*session.Store](i),
		do.MustInvoke[*page.Templator](i),
		do.MustInvoke[*store.Recorder](i),
		do.MustInvoke[*metrics.Collector](i),
		do.MustInvoke[*slog.Logger](i),
		do.MustInvokeNamed[string](i, "template_uuid"),
	)
	s.http.Addr = do.MustInvokeNamed[string](i, "addr")
	return s, nil
}

func New(sessions *session.Store, templator *page.Templator, recorder *store.Recorder, collector *metrics.Collector, logger *slog.Logger, templateUUID string) *Server {
	s := &Server{
		sessions:     sessions,
		templator:    templator,
		recorder:     recorder,
		metrics:      collector,
		logger:       logger,
		templateUUID: templateUUID,
	}
	s.http = &http.Server{
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(s.logRequests)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
	r.Method(http.MethodGet, "/metrics", s.metrics.Handler())

	r.Get("/login", s.loginPage)
	r.Post("/login", s.login)

	r.Group(func(r chi.Router) {
		r.Use(s.requireSession)
		r.Get("/", func(w http.ResponseWriter, r *http.Request) {
			http.Redirect(w, r, "/"+string(session.ModeChat), http.StatusSeeOther)
		})
		r.Post("/logout", s.logout)
		r.Get("/images/{id}", s.image)
		r.Get("/images/{id}/thumb", s.thumbnail)
		r.Get("/{mode}", s.studio)
		r.Post("/{mode}", s.generate)
	})
	return r
}

func (s *Server) ListenAndServe(ctx context.Context) error {
	s.logger.Info("listening", "addr", s.http.Addr)
	s.http.BaseContext = func(net.Listener) context.Context { return ctx }
	if err := s.http.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown lets in-flight generations finish for as long as one may take.
func (s *Server) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	return s.http.Shutdown(ctx)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logger := s.logger.WithGroup("http").With(
			"request_id", middleware.GetReqID(r.Context()),
			"method", r.Method,
			"path", r.URL.Path,
		)
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()

		next.ServeHTTP(ww, r.WithContext(log.NewContext(r.Context(), logger)))

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		s.metrics.RecordHTTPRequest(r.Method, route, status)
		logger.Info("request served", "status", status, "duration", time.Since(start))
	})
}

type sessionKey struct{}

func (s *Server) requireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie(cookieName)
		if err != nil {
			http.Redirect(w, r, "/login", http.StatusSeeOther)
			return
		}
		sess, err := s.sessions.Get(cookie.Value)
		if err != nil {
			http.SetCookie(w, expiredCookie())
			http.Redirect(w, r, "/login", http.StatusSeeOther)
			return
		}
		ctx := context.WithValue(r.Context(), sessionKey{}, sess)
		ctx = log.NewContext(ctx, log.FromContextOrDiscard(ctx).With("user", sess.Username))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func sessionFrom(ctx context.Context) *session.Session {
	return ctx.Value(sessionKey{}).(*session.Session)
}

func expiredCookie() *http.Cookie {
	return &http.Cookie{Name: cookieName, Path: "/", MaxAge: -1, HttpOnly: true}
}

func (s *Server) render(w http.ResponseWriter, r *http.Request, status int, name string, data any) {
	body, err := s.templator.Template(r.Context(), name, data)
	if err != nil {
		log.FromContextOrDiscard(r.Context()).Error("rendering page failed", "name", name, "error", err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}
