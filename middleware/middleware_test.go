package middleware

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/MrEthical07/sessiongate"
	"github.com/MrEthical07/sessiongate/session"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newMiddlewareEngine(t *testing.T) (*sessiongate.Engine, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	engine, err := sessiongate.New().
		WithSecrets(bytes.Repeat([]byte("m"), 32)).
		WithRedis(rdb).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(func() {
		engine.Close()
		rdb.Close()
		mr.Close()
	})
	return engine, mr
}

func responseCookie(rec *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, c := range rec.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func TestSessionCreatesAnonymousSessionAndSetsCookie(t *testing.T) {
	engine, _ := newMiddlewareEngine(t)

	var seen *session.Session
	h := Session(engine)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = sessiongate.SessionFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	if seen == nil || seen.Authenticated() {
		t.Fatalf("expected anonymous session in context, got %+v", seen)
	}
	c := responseCookie(rec, engine.Config().Cookie.SessionName)
	if c == nil || !c.HttpOnly || c.Path != "/" {
		t.Fatalf("expected HttpOnly session cookie on /, got %+v", c)
	}
}

func TestSessionReusesCookieAcrossRequests(t *testing.T) {
	engine, _ := newMiddlewareEngine(t)

	var ids []string
	h := Session(engine)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ids = append(ids, sessiongate.SessionFromContext(r.Context()).SessionID)
	}))

	first := httptest.NewRecorder()
	h.ServeHTTP(first, httptest.NewRequest(http.MethodGet, "/", nil))
	c := responseCookie(first, engine.Config().Cookie.SessionName)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: c.Name, Value: c.Value})
	second := httptest.NewRecorder()
	h.ServeHTTP(second, req)

	if len(ids) != 2 || ids[0] != ids[1] {
		t.Fatalf("expected the same session twice, got %v", ids)
	}
	if again := responseCookie(second, c.Name); again == nil || again.Value != c.Value {
		t.Fatalf("expected the rolling cookie to be re-issued, got %+v", again)
	}
}

func TestSessionStoreFailureAnswers500(t *testing.T) {
	engine, mr := newMiddlewareEngine(t)
	mr.Close()

	called := false
	h := Session(engine)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { called = true }))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	if called {
		t.Fatal("handler must not run when the store is down")
	}
	if body := rec.Body.String(); body != internalErrorBody+"\n" {
		t.Fatalf("unexpected body %q", body)
	}
}

func TestRequireAfterEstablish(t *testing.T) {
	engine, _ := newMiddlewareEngine(t)
	names := engine.Config().Cookie

	login := Session(engine)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, err := Establish(w, r, engine, "user-1"); err != nil {
			t.Errorf("Establish: %v", err)
		}
	}))
	protected := Session(engine)(Require(engine)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})))

	// Anonymous callers are denied.
	rec := httptest.NewRecorder()
	protected.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/private", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for anonymous caller, got %d", rec.Code)
	}
	if body := rec.Body.String(); body != "unauthorized\n" {
		t.Fatalf("denial body must not carry a reason, got %q", body)
	}

	loginRec := httptest.NewRecorder()
	login.ServeHTTP(loginRec, httptest.NewRequest(http.MethodPost, "/login", nil))
	sc := responseCookie(loginRec, names.SessionName)
	dc := responseCookie(loginRec, names.DeviceName)
	if sc == nil || dc == nil {
		t.Fatalf("expected both cookies after establish, got %v", loginRec.Result().Cookies())
	}

	req := httptest.NewRequest(http.MethodGet, "/private", nil)
	req.AddCookie(&http.Cookie{Name: sc.Name, Value: sc.Value})
	req.AddCookie(&http.Cookie{Name: dc.Name, Value: dc.Value})
	rec = httptest.NewRecorder()
	protected.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 after establish, got %d", rec.Code)
	}

	// Session cookie alone is not enough.
	req = httptest.NewRequest(http.MethodGet, "/private", nil)
	req.AddCookie(&http.Cookie{Name: sc.Name, Value: sc.Value})
	rec = httptest.NewRecorder()
	protected.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without device cookie, got %d", rec.Code)
	}
}

func TestRequireCapability(t *testing.T) {
	engine, _ := newMiddlewareEngine(t)
	names := engine.Config().Cookie

	deny := sessiongate.Capability{Name: "admin", Allow: func(*session.Session) bool { return false }}

	var sc, dc *http.Cookie
	login := Session(engine)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		res, err := Establish(w, r, engine, "user-2")
		if err != nil {
			t.Errorf("Establish: %v", err)
			return
		}
		sc, dc = res.SessionCookie, res.DeviceCookie
	}))
	login.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/login", nil))

	h := Session(engine)(Require(engine, deny)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})))
	req := httptest.NewRequest(http.MethodGet, "/admin", nil)
	req.AddCookie(&http.Cookie{Name: names.SessionName, Value: sc.Value})
	req.AddCookie(&http.Cookie{Name: names.DeviceName, Value: dc.Value})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 from failing capability, got %d", rec.Code)
	}
}

func TestLogoutClearsCookiesAndRecord(t *testing.T) {
	engine, _ := newMiddlewareEngine(t)
	names := engine.Config().Cookie

	var sid string
	h := Session(engine)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sid = sessiongate.SessionFromContext(r.Context()).SessionID
		if err := Logout(w, r, engine); err != nil {
			t.Errorf("Logout: %v", err)
		}
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/logout", nil))

	for _, name := range []string{names.SessionName, names.DeviceName} {
		var last *http.Cookie
		for _, c := range rec.Result().Cookies() {
			if c.Name == name {
				last = c
			}
		}
		if last == nil || last.MaxAge >= 0 {
			t.Fatalf("expected %s to be expired, got %+v", name, last)
		}
	}
	if _, err := engine.GetSession(t.Context(), sid); err == nil {
		t.Fatal("expected the session record to be deleted")
	}
}

func TestClientIPUsesRemoteHost(t *testing.T) {
	var got string
	h := ClientIP(nil)(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		got = remoteHost(r)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "203.0.113.9:4242"
	h.ServeHTTP(httptest.NewRecorder(), req)
	if got != "203.0.113.9" {
		t.Fatalf("expected host only, got %q", got)
	}
}

func TestNilEngine(t *testing.T) {
	rec := httptest.NewRecorder()
	Session(nil)(http.NotFoundHandler()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	Require(nil)(http.NotFoundHandler()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
}

func cookieCount(rec *httptest.ResponseRecorder, name string) int {
	n := 0
	for _, c := range rec.Result().Cookies() {
		if c.Name == name {
			n++
		}
	}
	return n
}

func TestEstablishAndLogoutSendOneCookiePerName(t *testing.T) {
	engine, _ := newMiddlewareEngine(t)
	names := engine.Config().Cookie

	var established *sessiongate.EstablishResult
	login := Session(engine)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Add("Set-Cookie", "theme=dark; Path=/")
		res, err := Establish(w, r, engine, "user-3")
		if err != nil {
			t.Errorf("Establish: %v", err)
			return
		}
		established = res
	}))
	rec := httptest.NewRecorder()
	login.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/login", nil))

	for _, name := range []string{names.SessionName, names.DeviceName} {
		if n := cookieCount(rec, name); n != 1 {
			t.Fatalf("expected one %s cookie on login, got %d", name, n)
		}
	}
	if cookieCount(rec, "theme") != 1 {
		t.Fatal("unrelated cookies must be kept")
	}
	if sc := responseCookie(rec, names.SessionName); sc.Value != established.SessionCookie.Value {
		t.Fatalf("login response must carry the rotated session cookie, got %q", sc.Value)
	}

	logout := Session(engine)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := Logout(w, r, engine); err != nil {
			t.Errorf("Logout: %v", err)
		}
	}))
	req := httptest.NewRequest(http.MethodPost, "/logout", nil)
	req.AddCookie(&http.Cookie{Name: names.SessionName, Value: established.SessionCookie.Value})
	rec = httptest.NewRecorder()
	logout.ServeHTTP(rec, req)

	if n := cookieCount(rec, names.SessionName); n != 1 {
		t.Fatalf("expected one session cookie on logout, got %d", n)
	}
	if sc := responseCookie(rec, names.SessionName); sc.MaxAge >= 0 {
		t.Fatalf("expected an expired session cookie, got %+v", sc)
	}
}
