package api

import (
	"context"
	"html/template"
	"net/http"
	"time"

	"burnbin/cfg"
	"burnbin/svc/lim"
	"burnbin/svc/util"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/hlog"
)

type Pinger interface {
	Ping(ctx context.Context) error
}

type StyleSource interface {
	CSS() (string, error)
}

// Deps are the collaborators of the HTTP boundary. Cache may be nil when
// Redis is not configured.
type Deps struct {
	Paste   PasteService
	Limiter *lim.Limiter
	Styles  StyleSource
	DB      Pinger
	Cache   Pinger
}

type Server struct {
	router     *chi.Mux
	templates  *template.Template
	styles     StyleSource
	cfg        *cfg.Cfg
	db         Pinger
	rdb        Pinger
	httpServer *http.Server
}

func NewServer(c *cfg.Cfg, d Deps) (*Server, error) {
	if d.Paste == nil || d.Limiter == nil || d.Styles == nil || d.DB == nil {
		return nil, errors.New("api: missing dependency (paste, limiter, styles, or db)")
	}
	tmpl, err := parseTemplates()
	if err != nil {
		return nil, err
	}
	r := chi.NewRouter()
	s := &Server{
		router:    r,
		templates: tmpl,
		styles:    d.Styles,
		cfg:       c,
		db:        d.DB,
		rdb:       d.Cache,
		httpServer: &http.Server{
			Addr:           ":" + c.Port,
			Handler:        r,
			ReadTimeout:    15 * time.Second,
			WriteTimeout:   15 * time.Second,
			IdleTimeout:    60 * time.Second,
			MaxHeaderBytes: 256 * 1024,
		},
	}
	mw := NewMw(d.Limiter, c)
	hdl := &Hdl{srv: s, paste: d.Paste}

	r.Group(func(r chi.Router) {
		r.Use(mw.Recoverer)
		r.Get("/health", s.Health)
		r.Get("/ready", s.Ready)
	})
	r.Group(func(r chi.Router) {
		r.Use(mw.Recoverer)
		r.Use(mw.BasicAuthMetrics)
		r.Handle("/metrics", promhttp.Handler())
		r.Mount("/debug", middleware.Profiler())
	})

	r.Group(func(r chi.Router) {
		r.Use(mw.Recoverer)
		r.Use(mw.RequestID)
		r.Use(hlog.NewHandler(util.GetLogger()))
		r.Use(hlog.AccessHandler(func(req *http.Request, status, size int, dur time.Duration) {
			hlog.FromRequest(req).Info().
				Str("method", req.Method).
				Str("path", req.URL.Path).
				Int("status", status).
				Int("size", size).
				Dur("duration", dur).
				Str("request_id", util.GetRequestID(req.Context())).
				Msg("http request")
		}))
		if len(c.TrustedProxies) > 0 {
			r.Use(middleware.RealIP)
		}
		r.Use(mw.ContextTimeout)
		r.Use(mw.SecurityHeaders)
		r.Use(mw.Observe)
		r.Get("/style.css", hdl.Style)
		r.With(mw.RateLimit(lim.EndpointView)).Get("/{key}", hdl.GetPaste)
		r.With(mw.RateLimit(lim.EndpointUnlock)).Post("/{key}", hdl.UnlockPaste)
		r.With(mw.RateLimit(lim.EndpointDelete)).Get("/delete/{id}", hdl.DeletePaste)
		r.With(mw.RateLimit(lim.EndpointDelete)).Delete("/{key}", hdl.DeletePasteAPI)
	})
	return s, nil
}
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
func (s *Server) Start() error {
	util.Info().Str("port", s.cfg.Port).Msg("starting server")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		util.Error().Err(err).Str("port", s.cfg.Port).Msg("server failed to start")
		return err
	}
	return nil
}
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}
