package bugtrack_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/oarkflow/bugtrack"
	"github.com/oarkflow/bugtrack/stores"
)

func newTrackerServer(t *testing.T, catalog *stores.MemoryStore) http.Handler {
	t.Helper()
	engine := bugtrack.MustNewEngine(nil)
	t.Cleanup(engine.Close)
	users := map[string]*bugtrack.User{
		"alice": {ID: "alice", Roles: []string{"user"}},
		"dave":  {ID: "dave", Roles: []string{"developer"}},
	}
	opts := &bugtrack.HTTPAuthOptions{
		Engine: engine,
		Routes: bugtrack.RouteTable{
			{Pattern: "GET /games/:id", Action: bugtrack.ActionRead, Entity: bugtrack.EntityGame},
			{Pattern: "PUT /games/:id", Entity: bugtrack.EntityGame},
			{Pattern: "GET /games", Action: bugtrack.ActionIndex, Entity: bugtrack.EntityGame},
		},
		Principal: func(r *http.Request) (*bugtrack.Principal, error) {
			if u, ok := users[r.Header.Get("X-User")]; ok {
				return bugtrack.NewPrincipal(u), nil
			}
			return bugtrack.Anonymous(), nil
		},
		Target: func(r *http.Request, route bugtrack.Route) (bugtrack.Target, error) {
			id := bugtrack.RouteParamsFromContext(r.Context())["id"]
			if id == "" {
				return nil, nil
			}
			g, err := catalog.GetGame(r.Context(), id)
			if err != nil {
				return nil, err
			}
			return g, nil
		},
	}
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		d, _ := bugtrack.DecisionFromContext(r.Context())
		p := bugtrack.PrincipalFromContext(r.Context())
		w.Write([]byte(p.UserID() + ":" + d.MatchedBy))
	})
	return bugtrack.NewHTTPAuthMiddleware(opts)(next)
}

func TestHTTPMiddleware(t *testing.T) {
	ctx := context.Background()
	catalog := stores.NewMemoryStore()
	active := &bugtrack.Bundle{ID: "b1", Name: "Summer", Description: "d", State: bugtrack.BundleActive}
	_ = catalog.SaveBundle(ctx, active)
	_ = catalog.SaveGame(ctx, &bugtrack.Game{ID: "open", Name: "Open", BundleID: "b1", State: bugtrack.GameNormal})
	_ = catalog.SaveGame(ctx, &bugtrack.Game{ID: "beta", Name: "Beta", BundleID: "b1", State: bugtrack.GameTesting})
	srv := newTrackerServer(t, catalog)

	cases := []struct {
		method, path, user string
		code               int
		body               string
	}{
		{http.MethodGet, "/games/open", "alice", http.StatusOK, "alice:game.user.4"},
		{http.MethodGet, "/games/beta", "alice", http.StatusForbidden, bugtrack.MessageAccessDenied},
		{http.MethodGet, "/games/beta", "dave", http.StatusOK, "dave:game.developer.1"},
		{http.MethodPut, "/games/open", "alice", http.StatusForbidden, bugtrack.MessageAccessDenied},
		{http.MethodPut, "/games/open", "dave", http.StatusOK, "dave:game.developer.1"},
		{http.MethodGet, "/games/missing", "alice", http.StatusNotFound, "not found"},
		{http.MethodGet, "/games", "", http.StatusOK, ":game.unverified.1"},
		{http.MethodGet, "/about", "", http.StatusOK, ":"},
	}
	for _, c := range cases {
		req := httptest.NewRequest(c.method, c.path, nil)
		req.Header.Set("X-User", c.user)
		resp := httptest.NewRecorder()
		srv.ServeHTTP(resp, req)
		if resp.Code != c.code {
			t.Fatalf("%s %s as %q: expected %d, got %d", c.method, c.path, c.user, c.code, resp.Code)
		}
		if got := strings.TrimSpace(resp.Body.String()); got != c.body {
			t.Fatalf("%s %s as %q: expected body %q, got %q", c.method, c.path, c.user, c.body, got)
		}
	}
}

func TestWriteErrorRedirectsExpiredReset(t *testing.T) {
	resp := httptest.NewRecorder()
	bugtrack.WriteError(resp, httptest.NewRequest(http.MethodPost, "/password_reset/x", nil), bugtrack.ErrResetExpired)
	if resp.Code != http.StatusSeeOther {
		t.Fatalf("expected 303, got %d", resp.Code)
	}
	loc, err := url.Parse(resp.Header().Get("Location"))
	if err != nil {
		t.Fatalf("parse location: %v", err)
	}
	if loc.Path != bugtrack.ForgotPasswordPath || loc.Query().Get("alert") != bugtrack.AlertResetExpired {
		t.Fatalf("unexpected redirect: %s", loc)
	}

	resp = httptest.NewRecorder()
	bugtrack.WriteError(resp, httptest.NewRequest(http.MethodGet, "/", nil), errors.New("boom"))
	if resp.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", resp.Code)
	}
}

func TestPasswordResetHandler(t *testing.T) {
	ctx := context.Background()
	users := stores.NewMemoryStore()
	_ = users.SaveUser(ctx, &bugtrack.User{ID: "u1", Email: "alice@example.com"})
	clock := &fakeClock{t: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	mailer := bugtrack.NewMemoryMailer()
	resets := bugtrack.NewPasswordResets(users, mailer,
		bugtrack.WithResetClock(clock.Now),
		bugtrack.WithBcryptCost(bcrypt.MinCost),
		bugtrack.WithTokenFunc(func() string { return "tok" }),
	)
	h := bugtrack.PasswordResetHandler(resets)

	post := func(path string, form url.Values) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		resp := httptest.NewRecorder()
		h.ServeHTTP(resp, req)
		return resp
	}

	resp := post("/password_reset", url.Values{"email": {"alice@example.com"}})
	if resp.Code != http.StatusSeeOther || !strings.Contains(resp.Header().Get("Location"), url.QueryEscape(bugtrack.NoticeResetSent)) {
		t.Fatalf("unexpected request response: %d %s", resp.Code, resp.Header().Get("Location"))
	}
	if len(mailer.Sent()) != 1 {
		t.Fatalf("expected reset mail")
	}

	get := httptest.NewRecorder()
	h.ServeHTTP(get, httptest.NewRequest(http.MethodGet, "/password_reset/tok/edit", nil))
	if get.Code != http.StatusOK || !strings.Contains(get.Body.String(), "alice@example.com") {
		t.Fatalf("unexpected edit response: %d %s", get.Code, get.Body.String())
	}
	get = httptest.NewRecorder()
	h.ServeHTTP(get, httptest.NewRequest(http.MethodGet, "/password_reset/bogus/edit", nil))
	if get.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown token, got %d", get.Code)
	}

	resp = post("/password_reset/tok", url.Values{"password": {"a"}, "password_confirmation": {"b"}})
	if resp.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 on mismatch, got %d", resp.Code)
	}

	clock.Advance(3 * time.Hour)
	resp = post("/password_reset/tok", url.Values{"password": {"new"}, "password_confirmation": {"new"}})
	if resp.Code != http.StatusSeeOther || !strings.HasPrefix(resp.Header().Get("Location"), bugtrack.ForgotPasswordPath) {
		t.Fatalf("expected redirect to forgot password, got %d %s", resp.Code, resp.Header().Get("Location"))
	}
	u, _ := users.GetUser(ctx, "u1")
	if u.CheckPassword("new") {
		t.Fatalf("expired reset must not change the password")
	}
}
