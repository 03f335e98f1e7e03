package api

import (
	"context"
	"html/template"
	"net/http"
	"strings"
	"unicode"
	"unicode/utf8"

	"burnbin/pkg/domain"
	"burnbin/pkg/key"
	"burnbin/svc/access"
	"burnbin/svc/svc"
	"burnbin/svc/util"

	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/hlog"
	"golang.org/x/text/unicode/norm"
)

const (
	themeCookie    = "theme"
	maxThemeLen    = 32
	maxTitleRunes  = 256
	maxPasswordLen = 1024
	maxFormSize    = 4 * 1024
)

// PasteService is the read/delete surface the handlers drive.
type PasteService interface {
	Read(ctx context.Context, req svc.ReadReq) (svc.Outcome, error)
	Delete(ctx context.Context, id, token string) error
}

type Hdl struct {
	srv   *Server
	paste PasteService
}

// GetPaste renders GET /{key}.
func (h *Hdl) GetPaste(w http.ResponseWriter, r *http.Request) {
	h.read(w, r, nil)
}

// UnlockPaste renders POST /{key}, the password form submission.
func (h *Hdl) UnlockPaste(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxFormSize)
	if err := r.ParseForm(); err != nil {
		hlog.FromRequest(r).Warn().Err(err).Msg("invalid password form")
		h.retryPrompt(w, r)
		return
	}
	var password domain.Password
	if vals, ok := r.PostForm["password"]; ok && len(vals) > 0 {
		if len(vals[0]) > maxPasswordLen {
			hlog.FromRequest(r).Warn().Int("len", len(vals[0])).Msg("password too long")
			h.retryPrompt(w, r)
			return
		}
		password = domain.NewPassword(vals[0])
	}
	h.read(w, r, password)
}

// retryPrompt answers a submission that never reached the store with the
// password form again. A malformed key still gets the not found page.
func (h *Hdl) retryPrompt(w http.ResponseWriter, r *http.Request) {
	theme := themeFor(w, r)
	rawKey := chi.URLParam(r, "key")
	if _, err := key.Parse(rawKey); err != nil {
		h.writeErr(w, r, errors.Wrap(domain.ErrInvalidKey, err.Error()), theme)
		return
	}
	h.srv.render(w, http.StatusUnauthorized, "password", "password required", theme, passwordData{
		Key:   rawKey,
		Retry: true,
	})
}

func (h *Hdl) read(w http.ResponseWriter, r *http.Request, password domain.Password) {
	theme := themeFor(w, r)
	rawKey := chi.URLParam(r, "key")
	out, err := h.paste.Read(r.Context(), svc.ReadReq{
		Key:           rawKey,
		Password:      password,
		IdentityToken: identityToken(r),
		Theme:         theme,
	})
	if err != nil {
		h.writeErr(w, r, err, theme)
		return
	}
	switch o := out.(type) {
	case *svc.View:
		title := sanitizeTitle(o.Title)
		h.srv.render(w, http.StatusOK, "paste", title, o.Theme, pasteData{
			Key:         o.Key,
			Title:       title,
			HTML:        template.HTML(o.HTML),
			IsAvailable: o.IsAvailable,
			CanDelete:   o.CanDelete,
		})
	case *svc.PasswordPrompt:
		if o.Retry {
			hlog.FromRequest(r).Warn().
				Str("key", o.Key).
				Str("client_ip", util.RedactIP(r.RemoteAddr)).
				Msg("failed password attempt")
		}
		h.srv.render(w, http.StatusUnauthorized, "password", "password required", o.Theme, passwordData{
			Key:   o.Key,
			Retry: o.Retry,
		})
	default:
		panic("api: unhandled read outcome")
	}
}

// DeletePaste serves GET /delete/{id} from the paste page link.
func (h *Hdl) DeletePaste(w http.ResponseWriter, r *http.Request) {
	theme := themeFor(w, r)
	id := chi.URLParam(r, "id")
	if err := h.paste.Delete(r.Context(), id, identityToken(r)); err != nil {
		h.writeErr(w, r, err, theme)
		return
	}
	hlog.FromRequest(r).Info().Str("id", id).Msg("paste deleted")
	h.srv.render(w, http.StatusOK, "deleted", "deleted", theme, deletedData{ID: id})
}

// DeletePasteAPI serves DELETE /{key} and answers with a bare status.
func (h *Hdl) DeletePasteAPI(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "key")
	if err := h.paste.Delete(r.Context(), id, identityToken(r)); err != nil {
		status, _ := errorStatus(err)
		if status >= 500 {
			hlog.FromRequest(r).Error().Err(err).Str("id", id).Msg("failed to delete paste")
		}
		w.Header().Set("X-Request-ID", util.GetRequestID(r.Context()))
		w.WriteHeader(status)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Style serves the stylesheet matching the highlighter's class names.
func (h *Hdl) Style(w http.ResponseWriter, r *http.Request) {
	css, err := h.srv.styles.CSS()
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("failed to build stylesheet")
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/css; charset=utf-8")
	w.Header().Set("Cache-Control", "public, max-age=86400")
	_, _ = w.Write([]byte(baseCSS + css))
}
func (h *Hdl) writeErr(w http.ResponseWriter, r *http.Request, err error, theme string) {
	requestID := util.GetRequestID(r.Context())
	status, msg := errorStatus(err)
	if status >= 500 {
		hlog.FromRequest(r).Error().
			Err(err).
			Str("request_id", requestID).
			Msg("request failed")
	}
	h.srv.render(w, status, "error", msg, theme, errorData{
		Status:    status,
		Message:   msg,
		RequestID: requestID,
	})
}

// errorStatus maps a service error to a status and a message that is safe
// to show. Invalid keys are reported exactly like missing pastes.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable, "request timed out"
	case errors.Is(err, domain.ErrInvalidKey):
		return domain.ErrNotFound.Status, domain.ErrNotFound.Msg
	default:
		return domain.Status(err), domain.Msg(err)
	}
}

func identityToken(r *http.Request) string {
	c, err := r.Cookie(access.CookieName)
	if err != nil {
		return ""
	}
	return c.Value
}

// themeFor picks the theme from the query string, falling back to the theme
// cookie. A theme given in the query is remembered in the cookie.
func themeFor(w http.ResponseWriter, r *http.Request) string {
	if t := r.URL.Query().Get("theme"); t != "" {
		if !validTheme(t) {
			return ""
		}
		http.SetCookie(w, &http.Cookie{
			Name:     themeCookie,
			Value:    t,
			Path:     "/",
			MaxAge:   365 * 24 * 60 * 60,
			HttpOnly: true,
			SameSite: http.SameSiteLaxMode,
		})
		return t
	}
	if c, err := r.Cookie(themeCookie); err == nil && validTheme(c.Value) {
		return c.Value
	}
	return ""
}
func validTheme(t string) bool {
	if t == "" || len(t) > maxThemeLen {
		return false
	}
	for i := 0; i < len(t); i++ {
		c := t[i]
		if !(c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' || c == '-' || c == '_') {
			return false
		}
	}
	return true
}

func sanitizeTitle(s string) string {
	if !utf8.ValidString(s) {
		s = strings.ToValidUTF8(s, "")
	}
	s = norm.NFC.String(s)
	s = strings.Map(func(r rune) rune {
		if r == '\t' {
			return ' '
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, s)
	s = strings.TrimSpace(s)
	if utf8.RuneCountInString(s) > maxTitleRunes {
		s = string([]rune(s)[:maxTitleRunes])
	}
	return s
}

const baseCSS = `body{margin:0;font-family:system-ui,sans-serif}
main{max-width:1200px;margin:0 auto;padding:1rem}
.paste-header{display:flex;justify-content:space-between;align-items:baseline}
.paste pre{overflow-x:auto;padding:.5rem}
.burned{color:#b00}
.error{color:#b00}
.theme-dark{background:#111;color:#ddd}
`
