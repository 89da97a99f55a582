package httpserver

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrSnakeDoc/smartmarks/internal/domain"
	"github.com/MrSnakeDoc/smartmarks/internal/feed"
	"github.com/MrSnakeDoc/smartmarks/internal/httpserver/deps"
	"github.com/MrSnakeDoc/smartmarks/internal/logger"
	"github.com/MrSnakeDoc/smartmarks/internal/reconcile"
	"github.com/MrSnakeDoc/smartmarks/internal/session"
	redisstore "github.com/MrSnakeDoc/smartmarks/internal/store/redis"
	"github.com/MrSnakeDoc/smartmarks/internal/views"
)

const cookieName = "smartmarks_session"

type stubProvider struct{}

func (stubProvider) Name() string { return "google" }

func (stubProvider) AuthCodeURL(state string) string {
	return "https://accounts.example/auth?state=" + state
}

func (stubProvider) Identify(context.Context, string) (domain.Identity, error) {
	return domain.Identity{ID: "google:alice", Email: "alice@example.com", Provider: "google"}, nil
}

type testEnv struct {
	handler  http.Handler
	redis    *miniredis.Miniredis
	sessions *session.Manager
	views    *views.Registry
	trigger  chan struct{}
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	srv := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	log := logger.NewNop()
	sessions := session.NewManager(client, session.Options{SessionTTL: time.Hour, StateTTL: time.Minute}, log, stubProvider{})
	store := redisstore.NewStore(client, feed.NewPublisher(client), log)
	subscriber := feed.NewSubscriber(client, log)

	engineDeps := reconcile.Deps{
		Store:     store,
		Subscribe: reconcile.Subscriber(subscriber.Subscribe),
		Sessions:  sessions,
		Logger:    log,
	}
	registry := views.NewRegistry(func(ctx context.Context, token string) (*reconcile.Engine, error) {
		return reconcile.Open(ctx, engineDeps, token)
	}, log)
	t.Cleanup(registry.CloseAll)

	trigger := make(chan struct{}, 1)
	d := deps.Deps{
		Logger:         log,
		StartTime:      time.Now(),
		Version:        "test",
		RequestTimeout: 5 * time.Second,
		RedisClient:    client,
		Sessions:       sessions,
		Views:          registry,
		Provider:       "google",
		SessionCookie:  cookieName,
		SessionTTL:     time.Hour,
		RateLimitBurst: 100,
		RateLimitRate:  100,
		ReloadTrigger:  trigger,
	}

	return &testEnv{
		handler:  NewRouter(log, d),
		redis:    srv,
		sessions: sessions,
		views:    registry,
		trigger:  trigger,
	}
}

func (env *testEnv) signIn(t *testing.T, id string) string {
	t.Helper()
	token, err := env.sessions.Create(context.Background(), domain.Identity{ID: id})
	require.NoError(t, err)
	return token
}

func (env *testEnv) do(t *testing.T, method, target, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if token != "" {
		req.AddCookie(&http.Cookie{Name: cookieName, Value: token})
	}
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	return rec
}

type listBody struct {
	Loading   bool `json:"loading"`
	Count     int  `json:"count"`
	Bookmarks []struct {
		ID    string `json:"id"`
		Title string `json:"title"`
		URL   string `json:"url"`
		Link  string `json:"link"`
	} `json:"bookmarks"`
}

func decodeList(t *testing.T, rec *httptest.ResponseRecorder) listBody {
	t.Helper()
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var body listBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestBookmarksRequireSession(t *testing.T) {
	env := newTestEnv(t)

	for _, tc := range []struct{ method, target string }{
		{http.MethodGet, "/api/bookmarks"},
		{http.MethodPost, "/api/bookmarks"},
		{http.MethodDelete, "/api/bookmarks/abc"},
		{http.MethodGet, "/api/bookmarks/stream"},
		{http.MethodGet, "/api/me"},
	} {
		rec := env.do(t, tc.method, tc.target, "", `{}`)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, "%s %s", tc.method, tc.target)
		assert.Contains(t, rec.Body.String(), `"redirect":"/login"`)
	}

	rec := env.do(t, http.MethodGet, "/api/bookmarks", "expired-token", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Zero(t, env.views.Count())
}

func TestCreateListDelete(t *testing.T) {
	env := newTestEnv(t)
	token := env.signIn(t, "google:alice")

	empty := decodeList(t, env.do(t, http.MethodGet, "/api/bookmarks", token, ""))
	assert.False(t, empty.Loading)
	assert.Zero(t, empty.Count)

	rec := env.do(t, http.MethodPost, "/api/bookmarks", token, `{"title":"Example","url":"example.com"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var created struct {
		ID   string `json:"id"`
		URL  string `json:"url"`
		Link string `json:"link"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, "example.com", created.URL)
	assert.Equal(t, "https://example.com", created.Link)

	list := decodeList(t, env.do(t, http.MethodGet, "/api/bookmarks", token, ""))
	require.Equal(t, 1, list.Count)
	assert.Equal(t, created.ID, list.Bookmarks[0].ID)
	assert.Equal(t, "Example", list.Bookmarks[0].Title)

	rec = env.do(t, http.MethodDelete, "/api/bookmarks/"+created.ID, token, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	list = decodeList(t, env.do(t, http.MethodGet, "/api/bookmarks", token, ""))
	assert.Zero(t, list.Count)
}

func TestCreateWithEmptyFieldIsNoop(t *testing.T) {
	env := newTestEnv(t)
	token := env.signIn(t, "google:alice")

	rec := env.do(t, http.MethodPost, "/api/bookmarks", token, `{"title":"  ","url":"example.com"}`)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/bookmarks", token, `not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	list := decodeList(t, env.do(t, http.MethodGet, "/api/bookmarks", token, ""))
	assert.Zero(t, list.Count)
}

func TestDeleteUnknownIsNotFoundAndRefetches(t *testing.T) {
	env := newTestEnv(t)
	token := env.signIn(t, "google:alice")

	rec := env.do(t, http.MethodPost, "/api/bookmarks", token, `{"title":"Keep","url":"keep.example"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = env.do(t, http.MethodDelete, "/api/bookmarks/does-not-exist", token, "")
	assert.Equal(t, http.StatusNotFound, rec.Code, rec.Body.String())

	list := decodeList(t, env.do(t, http.MethodGet, "/api/bookmarks", token, ""))
	assert.Equal(t, 1, list.Count)
}

func TestExpiredSessionLosesItsView(t *testing.T) {
	env := newTestEnv(t)
	token := env.signIn(t, "google:alice")

	decodeList(t, env.do(t, http.MethodGet, "/api/bookmarks", token, ""))
	require.Equal(t, 1, env.views.Count())

	env.redis.FastForward(2 * time.Hour)

	_, ok, err := env.sessions.CurrentUser(context.Background(), token)
	require.NoError(t, err)
	require.False(t, ok)

	rec := env.do(t, http.MethodGet, "/api/bookmarks", token, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), `"redirect":"/login"`)

	rec = env.do(t, http.MethodPost, "/api/bookmarks", token, `{"title":"x","url":"x.example"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code, rec.Body.String())
	assert.Equal(t, 0, env.views.Count())
}

func TestSignOutElsewhereLosesItsView(t *testing.T) {
	env := newTestEnv(t)
	token := env.signIn(t, "google:alice")

	rec := env.do(t, http.MethodPost, "/api/bookmarks", token, `{"title":"Keep","url":"keep.example"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	// Another replica ends the session; this one still holds the view.
	require.NoError(t, env.sessions.SignOut(context.Background(), token))

	rec = env.do(t, http.MethodDelete, "/api/bookmarks/anything", token, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, 0, env.views.Count())
}

func TestUpdateBookmark(t *testing.T) {
	env := newTestEnv(t)
	token := env.signIn(t, "google:alice")

	rec := env.do(t, http.MethodPost, "/api/bookmarks", token, `{"title":"Old","url":"old.example"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	var created struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))

	rec = env.do(t, http.MethodPatch, "/api/bookmarks/"+created.ID, token, `{"title":"New","url":"new.example"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	list := decodeList(t, env.do(t, http.MethodGet, "/api/bookmarks", token, ""))
	require.Equal(t, 1, list.Count)
	assert.Equal(t, "New", list.Bookmarks[0].Title)

	rec = env.do(t, http.MethodPatch, "/api/bookmarks/nope", token, `{"title":"x","url":"y"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodPatch, "/api/bookmarks/"+created.ID, token, `{"title":"","url":"y"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListFilter(t *testing.T) {
	env := newTestEnv(t)
	token := env.signIn(t, "google:alice")

	for _, body := range []string{
		`{"title":"GitHub","url":"github.com"}`,
		`{"title":"Weather","url":"weather.example"}`,
	} {
		require.Equal(t, http.StatusCreated, env.do(t, http.MethodPost, "/api/bookmarks", token, body).Code)
	}

	list := decodeList(t, env.do(t, http.MethodGet, "/api/bookmarks?q=github", token, ""))
	require.Equal(t, 1, list.Count)
	assert.Equal(t, "GitHub", list.Bookmarks[0].Title)
}

func TestOtherSessionConverges(t *testing.T) {
	env := newTestEnv(t)
	laptop := env.signIn(t, "google:alice")
	phone := env.signIn(t, "google:alice")
	stranger := env.signIn(t, "google:bob")

	// Open all three views before the write.
	decodeList(t, env.do(t, http.MethodGet, "/api/bookmarks", laptop, ""))
	decodeList(t, env.do(t, http.MethodGet, "/api/bookmarks", phone, ""))
	decodeList(t, env.do(t, http.MethodGet, "/api/bookmarks", stranger, ""))

	rec := env.do(t, http.MethodPost, "/api/bookmarks", laptop, `{"title":"Shared","url":"shared.example"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	require.Eventually(t, func() bool {
		return decodeList(t, env.do(t, http.MethodGet, "/api/bookmarks", phone, "")).Count == 1
	}, 2*time.Second, 10*time.Millisecond)

	assert.Zero(t, decodeList(t, env.do(t, http.MethodGet, "/api/bookmarks", stranger, "")).Count)
}

func TestImport(t *testing.T) {
	env := newTestEnv(t)
	token := env.signIn(t, "google:alice")

	yaml := `---
- Developer:
    - Github:
        - abbr: GH
          href: https://github.com/
    - Broken:
        - abbr: BR
- Social:
    - Reddit:
        - href: reddit.com
`
	rec := env.do(t, http.MethodPost, "/api/bookmarks/import", token, yaml)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"imported":2,"skipped":1}`, rec.Body.String())

	list := decodeList(t, env.do(t, http.MethodGet, "/api/bookmarks", token, ""))
	assert.Equal(t, 2, list.Count)

	rec = env.do(t, http.MethodPost, "/api/bookmarks/import", token, "- [broken")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRefresh(t *testing.T) {
	env := newTestEnv(t)
	token := env.signIn(t, "google:alice")

	rec := env.do(t, http.MethodPost, "/api/bookmarks/refresh", token, "")
	list := decodeList(t, rec)
	assert.Zero(t, list.Count)
}

func TestLoginAndCallback(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/login?next=/inbox", "", "")
	require.Equal(t, http.StatusFound, rec.Code)

	location, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	state := location.Query().Get("state")
	require.NotEmpty(t, state)

	rec = env.do(t, http.MethodGet, "/auth/callback?state="+state+"&code=abc", "", "")
	require.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/inbox", rec.Header().Get("Location"))

	var token string
	for _, c := range rec.Result().Cookies() {
		if c.Name == cookieName {
			token = c.Value
			assert.True(t, c.HttpOnly)
		}
	}
	require.NotEmpty(t, token)

	rec = env.do(t, http.MethodGet, "/api/me", token, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"id":"google:alice"`)

	// A state is single use.
	rec = env.do(t, http.MethodGet, "/auth/callback?state="+state+"&code=abc", "", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLoginUnknownProvider(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/login?provider=myspace", "", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCallbackProviderError(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/auth/callback?error=access_denied", "", "")
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/login", rec.Header().Get("Location"))
}

func TestLogout(t *testing.T) {
	env := newTestEnv(t)
	token := env.signIn(t, "google:alice")

	decodeList(t, env.do(t, http.MethodGet, "/api/bookmarks", token, ""))
	require.Equal(t, 1, env.views.Count())

	rec := env.do(t, http.MethodPost, "/logout", token, "")
	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/login", rec.Header().Get("Location"))
	assert.Zero(t, env.views.Count())

	rec = env.do(t, http.MethodGet, "/api/bookmarks", token, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHealthAndReadiness(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/healthz", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)

	rec = env.do(t, http.MethodGet, "/readyz", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodGet, "/infra", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"mode":"operational"`)

	env.redis.Close()

	rec = env.do(t, http.MethodGet, "/readyz", "", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = env.do(t, http.MethodGet, "/infra", "", "")
	assert.Contains(t, rec.Body.String(), `"mode":"down"`)
}

func TestReload(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/reload", "", "")
	assert.Equal(t, http.StatusAccepted, rec.Code)

	// Nobody drains the trigger in this test.
	rec = env.do(t, http.MethodPost, "/reload", "", "")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	<-env.trigger
}

func TestStream(t *testing.T) {
	env := newTestEnv(t)
	token := env.signIn(t, "google:alice")

	srv := httptest.NewServer(env.handler)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/bookmarks/stream", http.NoBody)
	require.NoError(t, err)
	req.AddCookie(&http.Cookie{Name: cookieName, Value: token})

	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	events := make(chan listBody, 16)
	go func() {
		defer close(events)
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, "data: ") {
				continue
			}
			var body listBody
			if json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &body) == nil {
				events <- body
			}
		}
	}()

	first := <-events
	assert.Zero(t, first.Count)

	rec := env.do(t, http.MethodPost, "/api/bookmarks", token, `{"title":"Live","url":"live.example"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	for {
		select {
		case body, ok := <-events:
			require.True(t, ok, "stream ended early")
			if body.Count == 1 {
				assert.Equal(t, "Live", body.Bookmarks[0].Title)
				return
			}
		case <-ctx.Done():
			t.Fatal("no snapshot with the new bookmark")
		}
	}
}
