package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/creatorkit/creatorkit/autodm/engine"
	"github.com/creatorkit/creatorkit/autodm/notify"
	"github.com/creatorkit/creatorkit/autodm/platform"
	"github.com/creatorkit/creatorkit/autodm/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testServer(t *testing.T, config Config) (*Server, *engine.Engine, *platform.MockPlatform) {
	t.Helper()
	eng, mock := engine.EngineTestFixture(t)
	hub, ok := eng.Notifier.(*notify.Hub)
	require.True(t, ok)
	require.NoError(t, eng.Store.CreateRule(context.Background(), &store.AutomationRule{
		CreatorID: engine.TestCreatorID,
		Platform:  engine.TestPlatform,
		Keyword:   "price",
		DMMessage: "Hey {{name}}, it's {{link}}",
		Link:      "https://shop.example.com",
		IsActive:  true,
	}))
	return NewServer(eng, hub, config), eng, mock
}

func commentBody(t *testing.T, evt engine.CommentEvent) *strings.Reader {
	t.Helper()
	b, err := json.Marshal(evt)
	require.NoError(t, err)
	return strings.NewReader(string(b))
}

func doRequest(srv *Server, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	return rec
}

func TestHealthCheck(t *testing.T) {
	assert := assert.New(t)
	srv, _, _ := testServer(t, Config{})

	rec := doRequest(srv, httptest.NewRequest(http.MethodGet, "/_health", nil))
	assert.Equal(http.StatusOK, rec.Code)

	var status GenericStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal("autodm", status.Daemon)
	assert.Equal("ok", status.Status)
}

func TestCommentWebhook(t *testing.T) {
	assert := assert.New(t)
	srv, _, mock := testServer(t, Config{})

	req := httptest.NewRequest(http.MethodPost, "/v1/webhooks/comment", commentBody(t, engine.FixtureCommentEvent("c1", "u1", "price?")))
	req.Header.Set("Content-Type", "application/json")
	rec := doRequest(srv, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var out engine.Outcome
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(engine.StatusDelivered, out.Status)
	assert.True(out.DMSent)
	assert.Equal(1, mock.DMCount())

	// redelivery of the same comment is a policy outcome, not an HTTP error
	req = httptest.NewRequest(http.MethodPost, "/v1/webhooks/comment", commentBody(t, engine.FixtureCommentEvent("c1", "u1", "price?")))
	req.Header.Set("Content-Type", "application/json")
	rec = doRequest(srv, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(engine.StatusBlocked, out.Status)
	assert.Equal(engine.ReasonDuplicateEvent, out.Reason)
	assert.Equal(1, mock.DMCount())
}

func TestCommentWebhookInvalid(t *testing.T) {
	assert := assert.New(t)
	srv, _, mock := testServer(t, Config{})

	evt := engine.FixtureCommentEvent("", "u1", "price?")
	req := httptest.NewRequest(http.MethodPost, "/v1/webhooks/comment", commentBody(t, evt))
	req.Header.Set("Content-Type", "application/json")
	rec := doRequest(srv, req)
	assert.Equal(http.StatusBadRequest, rec.Code)

	req = httptest.NewRequest(http.MethodPost, "/v1/webhooks/comment", strings.NewReader("{not json"))
	req.Header.Set("Content-Type", "application/json")
	rec = doRequest(srv, req)
	assert.Equal(http.StatusBadRequest, rec.Code)

	var body GenericError
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal("Bad Request", body.Error)
	assert.Equal(0, mock.DMCount())
}

func TestCommentWebhookSecret(t *testing.T) {
	assert := assert.New(t)
	srv, _, mock := testServer(t, Config{WebhookSecret: "s3cret"})

	req := httptest.NewRequest(http.MethodPost, "/v1/webhooks/comment", commentBody(t, engine.FixtureCommentEvent("c1", "u1", "price?")))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(webhookSecretHeader, "wrong")
	assert.Equal(http.StatusUnauthorized, doRequest(srv, req).Code)
	assert.Equal(0, mock.DMCount())

	req = httptest.NewRequest(http.MethodPost, "/v1/webhooks/comment", commentBody(t, engine.FixtureCommentEvent("c1", "u1", "price?")))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(webhookSecretHeader, "s3cret")
	assert.Equal(http.StatusOK, doRequest(srv, req).Code)
	assert.Equal(1, mock.DMCount())
}

func TestAdminSweep(t *testing.T) {
	assert := assert.New(t)

	srv, _, _ := testServer(t, Config{})
	rec := doRequest(srv, httptest.NewRequest(http.MethodPost, "/v1/admin/sweep", nil))
	assert.Equal(http.StatusNotFound, rec.Code)

	srv, _, _ = testServer(t, Config{AdminPassword: "hunter2"})
	rec = doRequest(srv, httptest.NewRequest(http.MethodPost, "/v1/admin/sweep", nil))
	assert.Equal(http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/v1/admin/sweep", nil)
	req.SetBasicAuth("admin", "hunter2")
	rec = doRequest(srv, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var res engine.SweepResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(0, res.Checked)
}

func TestRuleSeed(t *testing.T) {
	assert := assert.New(t)

	var seeds []ruleSeed
	require.NoError(t, json.Unmarshal([]byte(`[
		{"creatorId": "creator1", "keyword": "link", "dmMessage": "here: {{link}}", "link": "https://example.com"},
		{"creatorId": "creator1", "keyword": "guide", "matchType": "exact", "isActive": false,
		 "followGate": {"enabled": true, "replyToNonFollower": "follow first!", "checkDurationHours": 48}},
		{"creatorId": "creator1", "keyword": "bad", "matchType": "regex"}
	]`), &seeds))
	require.Len(t, seeds, 3)

	r, err := seeds[0].toRule()
	require.NoError(t, err)
	assert.Equal("instagram", r.Platform)
	assert.Equal(store.MatchContains, r.MatchType)
	assert.True(r.IsActive)
	assert.False(r.FollowGate.Enabled)

	r, err = seeds[1].toRule()
	require.NoError(t, err)
	assert.Equal(store.MatchExact, r.MatchType)
	assert.False(r.IsActive)
	assert.True(r.FollowGate.Enabled)
	assert.Equal(48, r.FollowGate.CheckDurationHours)

	_, err = seeds[2].toRule()
	assert.Error(err)
}
