package api

import (
	"bytes"
	"embed"
	"html/template"
	"net/http"

	"burnbin/pkg/key"
	"burnbin/svc/util"

	"github.com/pkg/errors"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

const siteName = "burnbin"

type page struct {
	Title string
	Theme string
	Body  template.HTML
}

type pasteData struct {
	Key         key.Key
	Title       string
	HTML        template.HTML
	IsAvailable bool
	CanDelete   bool
}

type passwordData struct {
	Key   string
	Retry bool
}

type errorData struct {
	Status    int
	Message   string
	RequestID string
}

type deletedData struct {
	ID string
}

func parseTemplates() (*template.Template, error) {
	t, err := template.New("layout").ParseFS(templateFS, "templates/*.tmpl")
	if err != nil {
		return nil, errors.Wrap(err, "parse templates")
	}
	return t, nil
}

// render executes name-body inside the layout and writes it with status.
// Every page is marked no-store: a burned paste must not survive in a
// browser or proxy cache.
func (s *Server) render(w http.ResponseWriter, status int, name, title, theme string, data any) {
	body := &bytes.Buffer{}
	if err := s.templates.ExecuteTemplate(body, name+"-body", data); err != nil {
		s.templateError(w, name, err)
		return
	}
	if title == "" {
		title = siteName
	}
	out := &bytes.Buffer{}
	if err := s.templates.ExecuteTemplate(out, "layout", page{
		Title: title,
		Theme: theme,
		Body:  template.HTML(body.String()),
	}); err != nil {
		s.templateError(w, "layout", err)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_, _ = out.WriteTo(w)
}
func (s *Server) templateError(w http.ResponseWriter, name string, err error) {
	util.Error().Err(err).Str("template", name).Msg("render template")
	http.Error(w, "internal server error", http.StatusInternalServerError)
}
