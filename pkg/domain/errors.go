package domain

import (
	"net/http"

	"github.com/pkg/errors"
)

// Read-path taxonomy. Nothing else crosses the orchestrator boundary.
var (
	ErrInvalidKey       = NewErr("INVALID_KEY", "paste not found", http.StatusNotFound)
	ErrNotFound         = NewErr("PASTE_NOT_FOUND", "paste not found", http.StatusNotFound)
	ErrPasswordRequired = NewErr("PASSWORD_REQUIRED", "password required", http.StatusUnauthorized)
	ErrHighlightFailure = NewErr("HIGHLIGHT_FAILURE", "could not render paste", http.StatusInternalServerError)
	ErrCookieDecode     = NewErr("COOKIE_DECODE_FAILURE", "invalid identity cookie", http.StatusBadRequest)
	ErrForbidden        = NewErr("FORBIDDEN", "not allowed to delete this paste", http.StatusForbidden)
	ErrInternal         = NewErr("INTERNAL_ERROR", "internal error", http.StatusInternalServerError)
)

type Err struct {
	Code   string `json:"code"`
	Msg    string `json:"message"`
	Status int    `json:"-"`
}

func (e *Err) Error() string { return e.Msg }
func NewErr(code, msg string, status int) *Err {
	return &Err{Code: code, Msg: msg, Status: status}
}

// Status returns the HTTP status for err, 500 when err is outside the taxonomy.
func Status(err error) int {
	if e := asErr(err); e != nil {
		return e.Status
	}
	return http.StatusInternalServerError
}

// Code returns the stable error code for err.
func Code(err error) string {
	if e := asErr(err); e != nil {
		return e.Code
	}
	return ErrInternal.Code
}

// Msg returns the user-facing message for err. Internal causes are never exposed.
func Msg(err error) string {
	if e := asErr(err); e != nil {
		return e.Msg
	}
	return ErrInternal.Msg
}

func asErr(err error) *Err {
	if err == nil {
		return nil
	}
	if e, ok := err.(*Err); ok {
		return e
	}
	if e, ok := errors.Cause(err).(*Err); ok {
		return e
	}
	return nil
}
