package middlewares_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/geocoder89/taskora/internal/auth"
	"github.com/geocoder89/taskora/internal/domain/project"
	"github.com/geocoder89/taskora/internal/domain/user"
	"github.com/geocoder89/taskora/internal/http/middlewares"
	"github.com/geocoder89/taskora/internal/repo/memory"
	"github.com/gin-gonic/gin"
)

func init() {
	gin.SetMode(gin.TestMode)
}

var gateNow = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

type gateFixture struct {
	users   *memory.UsersRepo
	members *memory.MembersRepo
	tokens  *auth.Manager
	router  *gin.Engine
}

type gateResult struct {
	UserID string `json:"userId"`
	Role   string `json:"role"`
}

func newManager(secret string) *auth.Manager {
	return auth.NewManager(
		auth.KeyConfig{Secret: secret, TTL: time.Hour},
		auth.KeyConfig{Secret: secret + "-refresh", TTL: 24 * time.Hour},
		30*time.Second,
	).WithClock(func() time.Time { return gateNow })
}

func setupGate(t *testing.T, membersStore auth.MembershipStore) (*gateFixture, *memory.MembersRepo) {
	t.Helper()

	f := &gateFixture{
		users:   memory.NewUsersRepo(),
		members: memory.NewMembersRepo(),
		tokens:  newManager("access-secret"),
	}
	if membersStore == nil {
		membersStore = f.members
	}

	gate := middlewares.NewGate(
		f.tokens,
		auth.NewIdentityResolver(f.users),
		auth.NewMembershipAuthority(membersStore),
		nil,
		nil,
	)

	r := gin.New()
	r.Use(middlewares.RequestID(), middlewares.ErrorHandler("dev", nil))

	echo := func(c *gin.Context) {
		u, _ := middlewares.CurrentUser(c)
		role, _ := middlewares.CurrentRole(c)
		c.JSON(http.StatusOK, gateResult{UserID: u.ID, Role: string(role)})
	}

	r.GET("/me", gate.RequireAuth(), echo)
	r.GET("/projects/:projectId", gate.RequireAuth(), gate.RequireProjectRole(), echo)
	r.DELETE("/projects/:projectId", gate.RequireAuth(), gate.RequireProjectRole(project.RoleAdmin), echo)
	r.PUT("/projects/:projectId", gate.RequireAuth(), gate.RequireProjectRole(project.RoleAdmin, project.RoleMember), echo)
	r.GET("/projects/:projectId/param", gate.RequireAuth(), gate.RequireProjectRole(), func(c *gin.Context) {
		c.String(http.StatusOK, c.Param("projectId"))
	})
	// no :projectId in the route
	r.GET("/orphan", gate.RequireAuth(), gate.RequireProjectRole(), echo)

	f.router = r
	return f, f.members
}

func (f *gateFixture) addUser(t *testing.T, username string) user.User {
	t.Helper()
	u, err := f.users.Create(context.Background(), user.User{
		Username:     username,
		Email:        username + "@example.com",
		PasswordHash: "hash",
	})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	return u
}

func (f *gateFixture) token(t *testing.T, userID string) string {
	t.Helper()
	tok, _, err := f.tokens.GenerateAccessToken(userID)
	if err != nil {
		t.Fatalf("GenerateAccessToken: %v", err)
	}
	return tok
}

func (f *gateFixture) do(method, path, bearer string, cookie *http.Cookie) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	if cookie != nil {
		req.AddCookie(cookie)
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) middlewares.ErrorBody {
	t.Helper()
	var body middlewares.ErrorBody
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode error body: %v (%s)", err, w.Body.String())
	}
	return body
}

func decodeResult(t *testing.T, w *httptest.ResponseRecorder) gateResult {
	t.Helper()
	var res gateResult
	if err := json.Unmarshal(w.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode result: %v (%s)", err, w.Body.String())
	}
	return res
}

func TestGate_ValidTokenPasses(t *testing.T) {
	f, _ := setupGate(t, nil)
	u := f.addUser(t, "alice")

	w := f.do(http.MethodGet, "/me", f.token(t, u.ID), nil)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if got := decodeResult(t, w).UserID; got != u.ID {
		t.Fatalf("currentUser.id = %q, want %q", got, u.ID)
	}
}

func TestGate_CookieWinsOverHeader(t *testing.T) {
	f, _ := setupGate(t, nil)
	alice := f.addUser(t, "alice")
	bob := f.addUser(t, "bob")

	cookie := &http.Cookie{Name: middlewares.AccessTokenCookie, Value: f.token(t, alice.ID)}
	w := f.do(http.MethodGet, "/me", f.token(t, bob.ID), cookie)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if got := decodeResult(t, w).UserID; got != alice.ID {
		t.Fatalf("expected cookie subject %q, got %q", alice.ID, got)
	}
}

func TestGate_InvalidTokensAreRejectedUniformly(t *testing.T) {
	f, _ := setupGate(t, nil)
	u := f.addUser(t, "alice")

	foreign, _, err := newManager("some-other-secret").GenerateAccessToken(u.ID)
	if err != nil {
		t.Fatalf("GenerateAccessToken: %v", err)
	}
	refresh, _, err := f.tokens.GenerateRefreshToken(u.ID)
	if err != nil {
		t.Fatalf("GenerateRefreshToken: %v", err)
	}
	expired, _, err := newManager("access-secret").
		WithClock(func() time.Time { return gateNow.Add(-2 * time.Hour) }).
		GenerateAccessToken(u.ID)
	if err != nil {
		t.Fatalf("GenerateAccessToken: %v", err)
	}

	tests := []struct {
		name  string
		token string
	}{
		{"wrong secret", foreign},
		{"refresh token", refresh},
		{"expired", expired},
		{"garbage", "not-a-jwt"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := f.do(http.MethodGet, "/me", tt.token, nil)

			if w.Code != http.StatusUnauthorized {
				t.Fatalf("expected 401, got %d", w.Code)
			}
			body := decodeError(t, w)
			if body.Success || body.Message != "Invalid access token" {
				t.Fatalf("unexpected body: %+v", body)
			}
			// the router runs ErrorHandler in dev mode; the rejection reason stays server side
			if body.Detail != "" {
				t.Fatalf("401 body carries detail %q", body.Detail)
			}
		})
	}
}

func TestGate_MissingTokenSkipsStores(t *testing.T) {
	f, members := setupGate(t, nil)
	f.addUser(t, "alice")

	for _, path := range []string{"/me", "/projects/p1"} {
		w := f.do(http.MethodGet, path, "", nil)

		if w.Code != http.StatusUnauthorized {
			t.Fatalf("%s: expected 401, got %d", path, w.Code)
		}
		if msg := decodeError(t, w).Message; msg != "Unauthorized request" {
			t.Fatalf("%s: message = %q", path, msg)
		}
	}

	if f.users.Reads() != 0 || members.Reads() != 0 {
		t.Fatalf("expected no store reads, got users=%d members=%d", f.users.Reads(), members.Reads())
	}
}

func TestGate_NonBearerHeaderIsMissingToken(t *testing.T) {
	f, _ := setupGate(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized || decodeError(t, w).Message != "Unauthorized request" {
		t.Fatalf("expected missing-token 401, got %d %s", w.Code, w.Body.String())
	}
}

func TestGate_DeletedUserIsInvalidToken(t *testing.T) {
	f, _ := setupGate(t, nil)
	u := f.addUser(t, "alice")
	tok := f.token(t, u.ID)

	f.users.Delete(u.ID)

	w := f.do(http.MethodGet, "/me", tok, nil)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
	if msg := decodeError(t, w).Message; msg != "Invalid access token" {
		t.Fatalf("message = %q", msg)
	}
}

func TestGate_ProjectRoles(t *testing.T) {
	tests := []struct {
		name       string
		method     string
		role       project.Role // "" means no membership
		wantStatus int
		wantMsg    string
		wantRole   string
	}{
		{"non member", http.MethodGet, "", http.StatusForbidden, "You are not a member of this project", ""},
		{"member on admin route", http.MethodDelete, project.RoleMember, http.StatusForbidden, "You do not have permission to perform this action", ""},
		{"admin on admin or member route", http.MethodPut, project.RoleAdmin, http.StatusOK, "", "admin"},
		{"member on any member route", http.MethodGet, project.RoleMember, http.StatusOK, "", "member"},
		{"admin on admin route", http.MethodDelete, project.RoleAdmin, http.StatusOK, "", "admin"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, members := setupGate(t, nil)
			u := f.addUser(t, "alice")
			if tt.role != "" {
				members.Set(u.ID, "p1", tt.role)
			}

			w := f.do(tt.method, "/projects/p1", f.token(t, u.ID), nil)

			if w.Code != tt.wantStatus {
				t.Fatalf("expected %d, got %d: %s", tt.wantStatus, w.Code, w.Body.String())
			}
			if tt.wantStatus != http.StatusOK {
				body := decodeError(t, w)
				if body.Success || body.Message != tt.wantMsg {
					t.Fatalf("unexpected body: %+v", body)
				}
				return
			}
			if got := decodeResult(t, w).Role; got != tt.wantRole {
				t.Fatalf("currentRole = %q, want %q", got, tt.wantRole)
			}
		})
	}
}

func TestGate_ProjectIDIsCanonicalized(t *testing.T) {
	const canonical = "8b4c2a52-6d1e-4f3a-9a57-0d7c1b2e3f40"

	f, members := setupGate(t, nil)
	u := f.addUser(t, "alice")
	members.Set(u.ID, canonical, project.RoleMember)

	for _, spelling := range []string{
		canonical,
		"urn:uuid:" + canonical,
		"8B4C2A52-6D1E-4F3A-9A57-0D7C1B2E3F40",
		"8b4c2a526d1e4f3a9a570d7c1b2e3f40",
	} {
		w := f.do(http.MethodGet, "/projects/"+spelling+"/param", f.token(t, u.ID), nil)
		if w.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d: %s", spelling, w.Code, w.Body.String())
		}
		if got := w.Body.String(); got != canonical {
			t.Fatalf("%s: handler saw %q, want %q", spelling, got, canonical)
		}
	}
}

func TestGate_MembershipInOtherProjectDoesNotCount(t *testing.T) {
	f, members := setupGate(t, nil)
	u := f.addUser(t, "alice")
	members.Set(u.ID, "p2", project.RoleAdmin)

	w := f.do(http.MethodGet, "/projects/p1", f.token(t, u.ID), nil)

	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", w.Code)
	}
}

func TestGate_MissingProjectIDIsBadRequest(t *testing.T) {
	f, _ := setupGate(t, nil)
	u := f.addUser(t, "alice")

	w := f.do(http.MethodGet, "/orphan", f.token(t, u.ID), nil)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	if msg := decodeError(t, w).Message; msg != "Project ID is missing" {
		t.Fatalf("message = %q", msg)
	}
}

type failingMembers struct{}

func (failingMembers) FindRole(context.Context, string, string) (project.Role, error) {
	return "", errors.New("connection refused")
}

func TestGate_MembershipStoreFailureIsInternal(t *testing.T) {
	f, _ := setupGate(t, failingMembers{})
	u := f.addUser(t, "alice")

	w := f.do(http.MethodGet, "/projects/p1", f.token(t, u.ID), nil)

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", w.Code)
	}
	body := decodeError(t, w)
	if body.Message != "Internal Server Error" || body.Detail == "" {
		t.Fatalf("unexpected body: %+v", body)
	}
}

func TestGate_RepeatedRequestsDecideAlike(t *testing.T) {
	f, members := setupGate(t, nil)
	u := f.addUser(t, "alice")
	members.Set(u.ID, "p1", project.RoleMember)
	tok := f.token(t, u.ID)

	for i := 0; i < 3; i++ {
		if w := f.do(http.MethodGet, "/projects/p1", tok, nil); w.Code != http.StatusOK {
			t.Fatalf("attempt %d: expected 200, got %d", i, w.Code)
		}
		if w := f.do(http.MethodDelete, "/projects/p1", tok, nil); w.Code != http.StatusForbidden {
			t.Fatalf("attempt %d: expected 403, got %d", i, w.Code)
		}
	}
}

func TestGate_FailureBodyCarriesRequestID(t *testing.T) {
	f, _ := setupGate(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("X-Request-Id", "req-123")
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)

	body := decodeError(t, w)
	if body.RequestID != "req-123" || body.StatusCode != http.StatusUnauthorized || body.Errors == nil {
		t.Fatalf("unexpected body: %+v", body)
	}
}
