package api

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"burnbin/cfg"
	"burnbin/pkg/domain"
	"burnbin/svc/access"
	"burnbin/svc/auth"
	"burnbin/svc/cache"
	"burnbin/svc/db"
	"burnbin/svc/highlight"
	"burnbin/svc/lim"
	"burnbin/svc/svc"
	"burnbin/svc/util"
)

type testEnv struct {
	srv    *Server
	store  *db.SQLite
	signer *util.Signer
	render *cache.Render
}

func newTestEnv(t *testing.T, limits lim.Options) *testEnv {
	t.Helper()
	hasher, err := auth.NewHasher(auth.Params{Time: 1, Memory: 8 * 1024, Parallelism: 1, KeyLen: 32},
		[]byte("0123456789ABCDEF0123456789ABCDEF"), 2)
	if err != nil {
		t.Fatal(err)
	}
	hasher.SetMinVerify(0)
	t.Cleanup(hasher.Stop)

	store, err := db.NewSQLite(filepath.Join(t.TempDir(), "api.db"), hasher)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })

	render, err := cache.NewRender(32)
	if err != nil {
		t.Fatal(err)
	}
	signer, err := util.NewSigner([]byte("abcdefghijklmnopqrstuvwxyz012345"))
	if err != nil {
		t.Fatal(err)
	}
	hl := highlight.New(highlight.Options{Style: "github", Workers: 2, MaxBytes: 1 << 20})
	paste := svc.NewPaste(store, hl, render, access.NewController(signer))

	limiter := lim.New(limits, nil)
	t.Cleanup(limiter.Stop)

	c := &cfg.Cfg{Port: "0", ContextTimeout: 5 * time.Second}
	srv, err := NewServer(c, Deps{
		Paste:   paste,
		Limiter: limiter,
		Styles:  hl,
		DB:      store,
	})
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	return &testEnv{srv: srv, store: store, signer: signer, render: render}
}

var roomyLimits = lim.Options{RPM: 1000, Burst: 1000, ConservativeLimit: 1000}

func (e *testEnv) insert(t *testing.T, p *domain.Paste) string {
	t.Helper()
	id, err := e.store.Insert(context.Background(), p)
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	return id
}

func (e *testEnv) do(t *testing.T, req *http.Request) (*http.Response, string) {
	t.Helper()
	rec := httptest.NewRecorder()
	e.srv.ServeHTTP(rec, req)
	res := rec.Result()
	body, _ := io.ReadAll(res.Body)
	return res, string(body)
}

func (e *testEnv) uidCookie(uid string) *http.Cookie {
	return &http.Cookie{Name: access.CookieName, Value: e.signer.Sign(access.CookieName, uid)}
}

func TestViewRegularPaste(t *testing.T) {
	e := newTestEnv(t, roomyLimits)
	id := e.insert(t, &domain.Paste{Text: "package main\n\nfunc main() {}\n", Title: "main.go"})

	res, body := e.do(t, httptest.NewRequest("GET", "/"+id, nil))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, body %s", res.StatusCode, body)
	}
	if !strings.Contains(body, "<title>main.go</title>") {
		t.Error("title missing from page")
	}
	if !strings.Contains(body, "func") || !strings.Contains(body, "permalink") {
		t.Error("rendered paste missing")
	}
	if strings.Contains(body, `class="delete"`) {
		t.Error("anonymous paste must not offer deletion")
	}
	if res.Header.Get("Cache-Control") != "no-store" {
		t.Errorf("Cache-Control = %q", res.Header.Get("Cache-Control"))
	}
	if !strings.Contains(res.Header.Get("Content-Security-Policy"), "form-action 'self'") {
		t.Error("CSP header missing")
	}
	if e.render.Len() != 1 {
		t.Errorf("render cache len = %d, want 1", e.render.Len())
	}

	res, _ = e.do(t, httptest.NewRequest("GET", "/"+id+".py", nil))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("with ext status = %d", res.StatusCode)
	}
	if e.render.Len() != 2 {
		t.Errorf("render cache len = %d, want 2", e.render.Len())
	}
}

func TestViewEscapesContent(t *testing.T) {
	e := newTestEnv(t, roomyLimits)
	id := e.insert(t, &domain.Paste{Text: "<script>alert(1)</script>", Title: "<b>x</b>"})
	_, body := e.do(t, httptest.NewRequest("GET", "/"+id, nil))
	if strings.Contains(body, "<script>") || strings.Contains(body, "<b>x</b>") {
		t.Fatal("paste content or title rendered unescaped")
	}
}

func TestMissingAndInvalidLookAlike(t *testing.T) {
	e := newTestEnv(t, roomyLimits)
	missing, missingBody := e.do(t, httptest.NewRequest("GET", "/doesnotexist", nil))
	invalid, invalidBody := e.do(t, httptest.NewRequest("GET", "/bad~key", nil))
	if missing.StatusCode != http.StatusNotFound || invalid.StatusCode != http.StatusNotFound {
		t.Fatalf("statuses = %d, %d", missing.StatusCode, invalid.StatusCode)
	}
	strip := func(s string) string {
		i := strings.Index(s, `class="request-id"`)
		if i < 0 {
			return s
		}
		return s[:i]
	}
	if strip(missingBody) != strip(invalidBody) {
		t.Error("invalid key page differs from not found page")
	}

	id := e.insert(t, &domain.Paste{Text: "x", ExpiresAt: time.Now().Add(-time.Minute)})
	expired, expiredBody := e.do(t, httptest.NewRequest("GET", "/"+id, nil))
	if expired.StatusCode != http.StatusNotFound || strip(expiredBody) != strip(missingBody) {
		t.Error("expired paste page differs from not found page")
	}
}

func TestPasswordFlow(t *testing.T) {
	e := newTestEnv(t, roomyLimits)
	id := e.insert(t, &domain.Paste{Text: "top secret", Password: domain.NewPassword("s3cret")})

	res, body := e.do(t, httptest.NewRequest("GET", "/"+id, nil))
	if res.StatusCode != http.StatusUnauthorized || !strings.Contains(body, `name="password"`) {
		t.Fatalf("status = %d, want password prompt", res.StatusCode)
	}
	if strings.Contains(body, "Wrong password") {
		t.Error("first prompt must not complain")
	}

	post := func(pw string) (*http.Response, string) {
		form := url.Values{"password": {pw}}
		req := httptest.NewRequest("POST", "/"+id, strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		return e.do(t, req)
	}
	res, body = post("nope")
	if res.StatusCode != http.StatusUnauthorized || !strings.Contains(body, "Wrong password") {
		t.Fatalf("wrong password: status = %d", res.StatusCode)
	}
	res, body = post("s3cret")
	if res.StatusCode != http.StatusOK || strings.Contains(body, `name="password"`) {
		t.Fatalf("right password: status = %d", res.StatusCode)
	}
	if e.render.Len() != 0 {
		t.Error("protected paste reached the render cache")
	}
}

func TestUnusableSubmissionRepromptsPassword(t *testing.T) {
	e := newTestEnv(t, roomyLimits)
	id := e.insert(t, &domain.Paste{Text: "keep me", Password: domain.NewPassword("s3cret"), BurnAfterRead: true})

	tooLong := url.Values{"password": {strings.Repeat("x", maxPasswordLen+1)}}
	req := httptest.NewRequest("POST", "/"+id, strings.NewReader(tooLong.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	res, body := e.do(t, req)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("too long: status = %d, want 401", res.StatusCode)
	}
	if !strings.Contains(body, `name="password"`) || !strings.Contains(body, "Wrong password") {
		t.Error("too long password should re-render the prompt with a retry notice")
	}
	if !strings.Contains(body, `action="/`+id+`"`) {
		t.Error("prompt must post back to the same key")
	}

	req = httptest.NewRequest("POST", "/"+id, strings.NewReader("password=%zz"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	res, body = e.do(t, req)
	if res.StatusCode != http.StatusUnauthorized || !strings.Contains(body, `name="password"`) {
		t.Fatalf("malformed form: status = %d, want the password prompt", res.StatusCode)
	}

	req = httptest.NewRequest("POST", "/bad~key", strings.NewReader("password=%zz"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if res, _ := e.do(t, req); res.StatusCode != http.StatusNotFound {
		t.Fatalf("malformed form on bad key: status = %d, want 404", res.StatusCode)
	}

	form := url.Values{"password": {"s3cret"}}
	req = httptest.NewRequest("POST", "/"+id, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if res, _ := e.do(t, req); res.StatusCode != http.StatusOK {
		t.Fatalf("paste was consumed by a rejected submission: status = %d", res.StatusCode)
	}
}

func TestBurnAfterReading(t *testing.T) {
	e := newTestEnv(t, roomyLimits)
	id := e.insert(t, &domain.Paste{Text: "read me once", BurnAfterRead: true})
	res, body := e.do(t, httptest.NewRequest("GET", "/"+id, nil))
	if res.StatusCode != http.StatusOK || !strings.Contains(body, "cannot be opened again") {
		t.Fatalf("first read status = %d", res.StatusCode)
	}
	if strings.Contains(body, "permalink") {
		t.Error("burned paste must not offer a link back")
	}
	res, _ = e.do(t, httptest.NewRequest("GET", "/"+id, nil))
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("second read status = %d, want 404", res.StatusCode)
	}
	if e.render.Len() != 0 {
		t.Error("burned paste reached the render cache")
	}
}

func TestDeleteByOwner(t *testing.T) {
	e := newTestEnv(t, roomyLimits)
	uid := int64(42)
	id := e.insert(t, &domain.Paste{Text: "mine", UID: &uid})

	req := httptest.NewRequest("GET", "/"+id, nil)
	req.AddCookie(e.uidCookie("42"))
	_, body := e.do(t, req)
	if !strings.Contains(body, "/delete/"+id) {
		t.Fatal("owner should see the delete link")
	}

	req = httptest.NewRequest("GET", "/delete/"+id, nil)
	req.AddCookie(e.uidCookie("7"))
	if res, _ := e.do(t, req); res.StatusCode != http.StatusForbidden {
		t.Fatalf("stranger delete status = %d, want 403", res.StatusCode)
	}

	req = httptest.NewRequest("DELETE", "/"+id, nil)
	if res, _ := e.do(t, req); res.StatusCode != http.StatusForbidden {
		t.Fatalf("cookieless DELETE status = %d, want 403", res.StatusCode)
	}

	req = httptest.NewRequest("GET", "/delete/"+id, nil)
	req.AddCookie(e.uidCookie("42"))
	if res, _ := e.do(t, req); res.StatusCode != http.StatusOK {
		t.Fatalf("owner delete status = %d", res.StatusCode)
	}
	if e.render.Len() != 0 {
		t.Error("deleted paste render still cached")
	}
	if res, _ := e.do(t, httptest.NewRequest("GET", "/"+id, nil)); res.StatusCode != http.StatusNotFound {
		t.Fatalf("read after delete status = %d", res.StatusCode)
	}
}

func TestForgedCookieStillReads(t *testing.T) {
	e := newTestEnv(t, roomyLimits)
	uid := int64(42)
	id := e.insert(t, &domain.Paste{Text: "mine", UID: &uid})
	req := httptest.NewRequest("GET", "/"+id, nil)
	req.AddCookie(&http.Cookie{Name: access.CookieName, Value: "NDI.forged"})
	res, body := e.do(t, req)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, a bad cookie must not block reading", res.StatusCode)
	}
	if strings.Contains(body, "/delete/") {
		t.Error("forged cookie granted deletion")
	}
}

func TestThemeCookie(t *testing.T) {
	e := newTestEnv(t, roomyLimits)
	id := e.insert(t, &domain.Paste{Text: "x"})
	res, body := e.do(t, httptest.NewRequest("GET", "/"+id+"?theme=dark", nil))
	if !strings.Contains(body, `class="theme-dark"`) {
		t.Error("theme not applied")
	}
	var found bool
	for _, c := range res.Cookies() {
		if c.Name == themeCookie && c.Value == "dark" {
			found = true
		}
	}
	if !found {
		t.Error("theme cookie not set")
	}
	req := httptest.NewRequest("GET", "/"+id, nil)
	req.AddCookie(&http.Cookie{Name: themeCookie, Value: "dark"})
	if _, body := e.do(t, req); !strings.Contains(body, `class="theme-dark"`) {
		t.Error("theme cookie ignored")
	}
}

func TestStyleHealthReady(t *testing.T) {
	e := newTestEnv(t, roomyLimits)
	res, body := e.do(t, httptest.NewRequest("GET", "/style.css", nil))
	if res.StatusCode != http.StatusOK || !strings.HasPrefix(res.Header.Get("Content-Type"), "text/css") {
		t.Fatalf("style.css status = %d", res.StatusCode)
	}
	if !strings.Contains(body, ".chroma") {
		t.Error("stylesheet lacks highlighter classes")
	}
	if res, _ := e.do(t, httptest.NewRequest("GET", "/health", nil)); res.StatusCode != http.StatusOK {
		t.Errorf("health status = %d", res.StatusCode)
	}
	res, body = e.do(t, httptest.NewRequest("GET", "/ready", nil))
	if res.StatusCode != http.StatusOK || !strings.Contains(body, `"cache":"unavailable"`) {
		t.Errorf("ready = %d %s", res.StatusCode, body)
	}
}

func TestRateLimited(t *testing.T) {
	e := newTestEnv(t, lim.Options{RPM: 1, Burst: 1, ConservativeLimit: 1})
	id := e.insert(t, &domain.Paste{Text: "x"})
	if res, _ := e.do(t, httptest.NewRequest("GET", "/"+id, nil)); res.StatusCode != http.StatusOK {
		t.Fatalf("first status = %d", res.StatusCode)
	}
	res, _ := e.do(t, httptest.NewRequest("GET", "/"+id, nil))
	if res.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("second status = %d, want 429", res.StatusCode)
	}
	if res.Header.Get("Retry-After") == "" {
		t.Error("Retry-After missing")
	}
}
