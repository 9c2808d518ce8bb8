package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/richardliu001/subscription-webhooks/internal/config"
	"github.com/richardliu001/subscription-webhooks/internal/logger"
	"github.com/richardliu001/subscription-webhooks/internal/pkg/clock"
	"github.com/richardliu001/subscription-webhooks/internal/repo"
	"github.com/richardliu001/subscription-webhooks/internal/scheduler"
	"github.com/richardliu001/subscription-webhooks/internal/service"
	"github.com/richardliu001/subscription-webhooks/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const adminToken = "s3cret"

func init() {
	gin.SetMode(gin.TestMode)
}

type switchDispatcher struct {
	mu   sync.Mutex
	fail bool
}

func (d *switchDispatcher) Dispatch(context.Context, string, []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.fail {
		return errors.New("subscription store unavailable")
	}
	return nil
}

func (d *switchDispatcher) set(fail bool) {
	d.mu.Lock()
	d.fail = fail
	d.mu.Unlock()
}

type fakePinger struct{ err error }

func (p fakePinger) PingContext(context.Context) error { return p.err }

type server struct {
	engine     *gin.Engine
	repo       *repo.Repository
	dispatcher *switchDispatcher
}

func newServer(t *testing.T, opts Options) *server {
	t.Helper()
	clk := clock.NewMockClock(testutil.Epoch)
	r := repo.NewRepository(testutil.NewDB(t), nil, clk, logger.NewNop())
	d := &switchDispatcher{}
	svc := service.NewWebhookService(r, r, d, logger.NewNop())
	sched := scheduler.New(clk, 0, logger.NewNop())
	require.NoError(t, sched.AddDailyJob("expire-lapsed-subscriptions", 3, func(context.Context) error { return nil }))
	if opts.RateLimit.RPS == 0 {
		opts.RateLimit = config.RateLimitConfig{RPS: 1000, Burst: 1000}
	}
	if opts.AdminToken == "" {
		opts.AdminToken = adminToken
	}
	return &server{engine: NewRouter(svc, sched, fakePinger{}, opts, logger.NewNop()), repo: r, dispatcher: d}
}

func (s *server) do(method, path, body string, admin bool) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if admin {
		req.Header.Set("Authorization", "Bearer "+adminToken)
	}
	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), v))
}

const createdBody = `{"eventName":"subscription_created","eventId":"evt_1","data":{"subscription_id":"sub_1"}}`

func TestWebhook_Accepted(t *testing.T) {
	s := newServer(t, Options{})

	w := s.do(http.MethodPost, "/webhooks/lemonsqueezy", createdBody, false)
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get(RequestIDHeader))

	var res service.Result
	decode(t, w, &res)
	assert.True(t, res.Received)
	assert.NotEmpty(t, res.EventID)
	assert.False(t, res.Cached)

	w = s.do(http.MethodPost, "/webhooks/lemonsqueezy", createdBody, false)
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, w, &res)
	assert.True(t, res.Cached)
}

func TestWebhook_DispatchFailureStillOK(t *testing.T) {
	s := newServer(t, Options{})
	s.dispatcher.set(true)

	w := s.do(http.MethodPost, "/webhooks/lemonsqueezy", createdBody, false)
	require.Equal(t, http.StatusOK, w.Code)

	var res service.Result
	decode(t, w, &res)
	assert.True(t, res.Received)
	assert.NotEmpty(t, res.Warning)

	item, err := s.repo.GetRetryItem(context.Background(), res.EventID)
	require.NoError(t, err)
	assert.Equal(t, 1, item.RetryCount)
}

func TestWebhook_BadRequests(t *testing.T) {
	s := newServer(t, Options{})

	for name, body := range map[string]string{
		"not json":        `{`,
		"missing id":      `{"eventName":"subscription_created","data":{}}`,
		"non-object data": `{"eventName":"subscription_created","eventId":"evt_1","data":"x"}`,
	} {
		w := s.do(http.MethodPost, "/webhooks/lemonsqueezy", body, false)
		assert.Equal(t, http.StatusBadRequest, w.Code, name)
	}
}

func TestWebhook_RateLimited(t *testing.T) {
	s := newServer(t, Options{RateLimit: config.RateLimitConfig{RPS: 1, Burst: 1}})

	assert.Equal(t, http.StatusOK, s.do(http.MethodPost, "/webhooks/lemonsqueezy", createdBody, false).Code)
	assert.Equal(t, http.StatusTooManyRequests, s.do(http.MethodPost, "/webhooks/lemonsqueezy", createdBody, false).Code)
}

func TestRequestID_Propagated(t *testing.T) {
	s := newServer(t, Options{})
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(RequestIDHeader, "rid-42")
	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, req)
	assert.Equal(t, "rid-42", w.Header().Get(RequestIDHeader))
}

func TestAdmin_RequiresToken(t *testing.T) {
	s := newServer(t, Options{})

	assert.Equal(t, http.StatusUnauthorized, s.do(http.MethodGet, "/admin/webhooks/events", "", false).Code)

	req := httptest.NewRequest(http.MethodGet, "/admin/webhooks/events", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	assert.Equal(t, http.StatusOK, s.do(http.MethodGet, "/admin/webhooks/events", "", true).Code)
}

func TestAdmin_DisabledWithoutToken(t *testing.T) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/admin/webhooks/events", nil)
	c.Request.Header.Set("Authorization", "Bearer ")
	AdminAuthMiddleware("")(c)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.True(t, c.IsAborted())
}

func TestAdmin_ListAndGetEvents(t *testing.T) {
	s := newServer(t, Options{})
	s.dispatcher.set(true)
	w := s.do(http.MethodPost, "/webhooks/lemonsqueezy", createdBody, false)
	var res service.Result
	decode(t, w, &res)

	w = s.do(http.MethodGet, "/admin/webhooks/events?processed=false&take=500", "", true)
	require.Equal(t, http.StatusOK, w.Code)
	var page struct {
		Items []struct {
			ID         string `json:"id"`
			ErrorCount int    `json:"errorCount"`
		} `json:"items"`
		Total int64 `json:"total"`
		Take  int   `json:"take"`
	}
	decode(t, w, &page)
	assert.EqualValues(t, 1, page.Total)
	assert.Equal(t, repo.MaxPageSize, page.Take)
	require.Len(t, page.Items, 1)
	assert.Equal(t, res.EventID, page.Items[0].ID)
	assert.Equal(t, 1, page.Items[0].ErrorCount)

	w = s.do(http.MethodGet, "/admin/webhooks/events/"+res.EventID, "", true)
	require.Equal(t, http.StatusOK, w.Code)
	var detail struct {
		Event     struct{ ID string }       `json:"event"`
		RetryItem *struct{ RetryCount int } `json:"retryItem"`
	}
	decode(t, w, &detail)
	assert.Equal(t, res.EventID, detail.Event.ID)
	require.NotNil(t, detail.RetryItem)
	assert.Equal(t, 1, detail.RetryItem.RetryCount)

	assert.Equal(t, http.StatusNotFound, s.do(http.MethodGet, "/admin/webhooks/events/nope", "", true).Code)
	assert.Equal(t, http.StatusBadRequest, s.do(http.MethodGet, "/admin/webhooks/events?processed=maybe", "", true).Code)
	assert.Equal(t, http.StatusBadRequest, s.do(http.MethodGet, "/admin/webhooks/events?skip=-1", "", true).Code)
}

func TestAdmin_ReplayRetryAndSweep(t *testing.T) {
	s := newServer(t, Options{})
	s.dispatcher.set(true)
	w := s.do(http.MethodPost, "/webhooks/lemonsqueezy", createdBody, false)
	var res service.Result
	decode(t, w, &res)

	assert.Equal(t, http.StatusInternalServerError, s.do(http.MethodPost, "/admin/webhooks/events/"+res.EventID+"/retry", "", true).Code)

	s.dispatcher.set(false)
	require.Equal(t, http.StatusOK, s.do(http.MethodPost, "/admin/webhooks/events/"+res.EventID+"/replay", "", true).Code)

	w = s.do(http.MethodPost, "/admin/webhooks/sweep", "", true)
	require.Equal(t, http.StatusOK, w.Code)
	var rep service.SweepReport
	decode(t, w, &rep)
	assert.Equal(t, 1, rep.Succeeded)

	w = s.do(http.MethodPost, "/admin/webhooks/events/"+res.EventID+"/retry", "", true)
	require.Equal(t, http.StatusOK, w.Code)
	var again service.Result
	decode(t, w, &again)
	assert.True(t, again.Cached)

	assert.Equal(t, http.StatusNotFound, s.do(http.MethodPost, "/admin/webhooks/events/nope/replay", "", true).Code)
}

func TestAdmin_PendingAndFailed(t *testing.T) {
	s := newServer(t, Options{})
	s.dispatcher.set(true)
	s.do(http.MethodPost, "/webhooks/lemonsqueezy", createdBody, false)

	w := s.do(http.MethodGet, "/admin/webhooks/pending?limit=5", "", true)
	require.Equal(t, http.StatusOK, w.Code)
	var pending []map[string]interface{}
	decode(t, w, &pending)
	assert.Len(t, pending, 1)

	w = s.do(http.MethodGet, "/admin/webhooks/failed", "", true)
	require.Equal(t, http.StatusOK, w.Code)
	var failed []map[string]interface{}
	decode(t, w, &failed)
	assert.Empty(t, failed)

	assert.Equal(t, http.StatusBadRequest, s.do(http.MethodGet, "/admin/webhooks/pending?limit=x", "", true).Code)
}

func TestAdmin_SchedulerStatus(t *testing.T) {
	s := newServer(t, Options{})

	w := s.do(http.MethodGet, "/admin/scheduler/status", "", true)
	require.Equal(t, http.StatusOK, w.Code)
	var st scheduler.Status
	decode(t, w, &st)
	assert.False(t, st.Running)
	require.Len(t, st.Jobs, 1)
	assert.Equal(t, "expire-lapsed-subscriptions", st.Jobs[0].Name)
	assert.NotNil(t, st.IntervalJobs)
}

func TestHealth(t *testing.T) {
	s := newServer(t, Options{})
	assert.Equal(t, http.StatusOK, s.do(http.MethodGet, "/healthz", "", false).Code)
	assert.Equal(t, http.StatusOK, s.do(http.MethodGet, "/readyz", "", false).Code)

	r := gin.New()
	RegisterHealthHandlers(r, fakePinger{err: errors.New("connection refused")})
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}
