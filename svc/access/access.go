// Package access decides whether a caller owns a paste.
package access

import (
	"strconv"

	"burnbin/pkg/domain"
	"burnbin/svc/util"

	"github.com/pkg/errors"
)

// CookieName is the signed cookie that carries the caller's numeric identity.
const CookieName = "uid"

type Opener interface {
	Open(name, signed string) (string, error)
}

type Controller struct {
	cookies Opener
}

func NewController(cookies Opener) *Controller {
	return &Controller{cookies: cookies}
}

// Identity decodes a signed uid cookie value.
func (c *Controller) Identity(token string) (int64, error) {
	value, err := c.cookies.Open(CookieName, token)
	if err != nil {
		return 0, errors.Wrap(domain.ErrCookieDecode, err.Error())
	}
	uid, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, errors.Wrap(domain.ErrCookieDecode, "uid is not numeric")
	}
	return uid, nil
}

// CanDelete reports whether token decodes to exactly owner. An empty token,
// an anonymous paste or any decode failure yields false.
func (c *Controller) CanDelete(token string, owner *int64) bool {
	if token == "" || owner == nil {
		return false
	}
	uid, err := c.Identity(token)
	if err != nil {
		util.Debug().
			Err(err).
			Str("token", util.RedactToken(token)).
			Msg("identity cookie rejected")
		return false
	}
	return uid == *owner
}
