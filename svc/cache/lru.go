package cache

import (
	"burnbin/pkg/domain"
	"burnbin/pkg/key"
	"errors"

	lru "github.com/hashicorp/golang-lru/v2"
)

const maxSize = 100000

// Render memoizes highlighted output per key. It holds no policy: callers
// decide what may be stored. Safe for concurrent use; concurrent Puts of the
// same key leave exactly one of the written values.
type Render struct {
	c *lru.Cache[key.Key, domain.HTML]
}

func NewRender(size int) (*Render, error) {
	if size <= 0 {
		return nil, errors.New("cache size must be positive")
	}
	if size > maxSize {
		return nil, errors.New("cache size too large")
	}
	c, err := lru.New[key.Key, domain.HTML](size)
	if err != nil {
		return nil, err
	}
	return &Render{c: c}, nil
}
func (r *Render) Get(k key.Key) (domain.HTML, bool) {
	return r.c.Get(k)
}
func (r *Render) Put(k key.Key, html domain.HTML) {
	r.c.Add(k, html)
}

// RemoveID drops every cached rendering of id, whatever its extension.
func (r *Render) RemoveID(id string) int {
	removed := 0
	for _, k := range r.c.Keys() {
		if k.ID == id && r.c.Remove(k) {
			removed++
		}
	}
	return removed
}
func (r *Render) Len() int {
	return r.c.Len()
}
