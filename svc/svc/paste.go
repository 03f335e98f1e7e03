package svc

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"burnbin/metrics"
	"burnbin/pkg/domain"
	"burnbin/pkg/key"
	"burnbin/svc/util"

	"github.com/pkg/errors"
)

// Store is the paste database as seen by the read path. Lookup is the only
// arbiter of Regular, Burned, Expired and missing; its decision is never
// memoized here.
type Store interface {
	Lookup(ctx context.Context, id string, password domain.Password) (domain.Entry, error)
	Owner(ctx context.Context, id string) (*int64, error)
	Delete(ctx context.Context, id string) error
}

type Highlighter interface {
	Highlight(ctx context.Context, data domain.Data, ext string) (domain.HTML, error)
}

// RenderCache memoizes rendered output. It applies no policy of its own.
type RenderCache interface {
	Get(k key.Key) (domain.HTML, bool)
	Put(k key.Key, html domain.HTML)
	RemoveID(id string) int
}

type AccessController interface {
	CanDelete(token string, owner *int64) bool
}

// ReadReq is one inbound read. Password is nil when no password form was
// submitted; it is wiped before Read returns.
type ReadReq struct {
	Key           string
	Password      domain.Password
	IdentityToken string
	Theme         string
}

// Outcome is the non-error result of Read: *View or *PasswordPrompt.
type Outcome interface {
	outcome()
}

type View struct {
	Key   key.Key
	HTML  domain.HTML
	Title string
	// IsAvailable is false for a burned paste: it cannot be viewed again.
	IsAvailable bool
	CanDelete   bool
	Theme       string
}

// PasswordPrompt asks the caller for the paste password. Key is the raw key
// as requested so the form posts back to the same URL; Retry is set when a
// password was supplied and rejected.
type PasswordPrompt struct {
	Key   string
	Theme string
	Retry bool
}

func (*View) outcome()           {}
func (*PasswordPrompt) outcome() {}

type Paste struct {
	store    Store
	hl       Highlighter
	cache    RenderCache
	access   AccessController
	shutdown atomic.Bool
	opWg     sync.WaitGroup
}

func NewPaste(store Store, hl Highlighter, cache RenderCache, access AccessController) *Paste {
	if store == nil || hl == nil || cache == nil || access == nil {
		panic("paste service: nil dependency (store, highlighter, cache, or access)")
	}
	return &Paste{
		store:  store,
		hl:     hl,
		cache:  cache,
		access: access,
	}
}

// Shutdown rejects new operations and waits for in-flight ones.
func (p *Paste) Shutdown() {
	p.shutdown.Store(true)
	done := make(chan struct{})
	go func() {
		p.opWg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		util.Warn().Msg("paste operations didn't finish in time")
	}
	util.Debug().Msg("paste service shutdown complete")
}
func (p *Paste) begin() error {
	if p.shutdown.Load() {
		return errors.Wrap(domain.ErrInternal, "service shutting down")
	}
	p.opWg.Add(1)
	return nil
}

// Read resolves req into a View or a PasswordPrompt. Errors are always one
// of ErrInvalidKey, ErrNotFound, ErrHighlightFailure, ErrInternal or the
// context's own error.
func (p *Paste) Read(ctx context.Context, req ReadReq) (Outcome, error) {
	defer req.Password.Wipe()
	if err := p.begin(); err != nil {
		return nil, err
	}
	defer p.opWg.Done()

	k, err := key.Parse(req.Key)
	if err != nil {
		metrics.PasteReads.WithLabelValues("invalid_key").Inc()
		return nil, errors.Wrap(domain.ErrInvalidKey, err.Error())
	}
	log := util.GetLogger().With().
		Str("request_id", util.GetRequestID(ctx)).
		Str("id", k.ID).
		Logger()

	entry, err := p.store.Lookup(ctx, k.ID, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrPasswordRequired):
			metrics.PasteReads.WithLabelValues("password_required").Inc()
			log.Debug().Bool("retry", req.Password != nil).Msg("password required")
			return &PasswordPrompt{Key: req.Key, Theme: req.Theme, Retry: req.Password != nil}, nil
		case errors.Is(err, domain.ErrNotFound):
			metrics.PasteReads.WithLabelValues("not_found").Inc()
			return nil, domain.ErrNotFound
		case ctx.Err() != nil:
			return nil, ctx.Err()
		default:
			metrics.PasteReads.WithLabelValues("error").Inc()
			log.Error().Err(err).Msg("paste lookup failed")
			return nil, errors.Wrap(domain.ErrInternal, "lookup")
		}
	}

	var (
		data      domain.Data
		available bool
	)
	switch e := entry.(type) {
	case domain.Regular:
		data, available = e.Data, true
	case domain.Burned:
		data = e.Data
		metrics.PasteBurned.Inc()
	case domain.Expired:
		metrics.PasteReads.WithLabelValues("expired").Inc()
		return nil, domain.ErrNotFound
	default:
		panic(fmt.Sprintf("paste service: unhandled entry %T", entry))
	}

	// Burned content and anything read with a password stay out of the cache.
	cacheable := available && req.Password == nil
	var (
		html domain.HTML
		hit  bool
	)
	if cacheable {
		html, hit = p.cache.Get(k)
		if hit {
			metrics.CacheHits.Inc()
		} else {
			metrics.CacheMisses.Inc()
		}
	}
	if !hit {
		start := time.Now()
		html, err = p.hl.Highlight(ctx, data, k.Ext)
		metrics.HighlightDuration.Observe(time.Since(start).Seconds())
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			metrics.PasteReads.WithLabelValues("highlight_failure").Inc()
			log.Warn().Err(err).Str("ext", k.Ext).Msg("highlight failed")
			return nil, errors.Wrap(domain.ErrHighlightFailure, err.Error())
		}
	}

	canDelete := p.access.CanDelete(req.IdentityToken, data.UID)

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if cacheable && !hit {
		p.cache.Put(k, html)
	}
	if available {
		metrics.PasteReads.WithLabelValues("regular").Inc()
	} else {
		metrics.PasteReads.WithLabelValues("burned").Inc()
	}
	log.Debug().Bool("cache_hit", hit).Bool("available", available).Msg("paste read")
	return &View{
		Key:         k,
		HTML:        html,
		Title:       data.Title,
		IsAvailable: available,
		CanDelete:   canDelete,
		Theme:       req.Theme,
	}, nil
}

// Delete removes the paste named by rawID when token identifies its owner,
// and drops every cached rendering of it.
func (p *Paste) Delete(ctx context.Context, rawID, token string) error {
	if err := p.begin(); err != nil {
		return err
	}
	defer p.opWg.Done()

	k, err := key.Parse(rawID)
	if err != nil {
		return errors.Wrap(domain.ErrInvalidKey, err.Error())
	}
	owner, err := p.store.Owner(ctx, k.ID)
	if err != nil {
		return p.mapStoreErr(ctx, err, k.ID, "owner lookup failed")
	}
	if !p.access.CanDelete(token, owner) {
		return domain.ErrForbidden
	}
	if err := p.store.Delete(ctx, k.ID); err != nil {
		return p.mapStoreErr(ctx, err, k.ID, "delete failed")
	}
	purged := p.cache.RemoveID(k.ID)
	metrics.PasteDeleted.Inc()
	util.Info().
		Str("request_id", util.GetRequestID(ctx)).
		Str("id", k.ID).
		Int("purged_renders", purged).
		Msg("paste deleted by owner")
	return nil
}
func (p *Paste) mapStoreErr(ctx context.Context, err error, id, msg string) error {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return domain.ErrNotFound
	case ctx.Err() != nil:
		return ctx.Err()
	default:
		util.Error().
			Err(err).
			Str("request_id", util.GetRequestID(ctx)).
			Str("id", id).
			Msg(msg)
		return errors.Wrap(domain.ErrInternal, msg)
	}
}
