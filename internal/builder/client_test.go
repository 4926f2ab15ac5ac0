package builder

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"curricula/api/internal/app"
	"curricula/api/internal/auth"
	"curricula/api/internal/config"
	"curricula/api/internal/lifecycle"
	"curricula/api/internal/snapshot"
	"curricula/api/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const secret = "builder-secret"

func startAPI(t *testing.T) (*httptest.Server, *store.MemoryStore) {
	t.Helper()
	mem := store.NewMemoryStore()
	mem.AddCourse("course-1")
	svc := app.New(config.Config{JWTSecret: secret, AutosaveDebounce: 1500 * time.Millisecond}, mem, nil, nil)
	require.NoError(t, svc.Bootstrap(context.Background(), "course-1", liveContent()))
	srv := httptest.NewServer(app.NewHTTPServer(svc, "*").Handler())
	t.Cleanup(srv.Close)
	return srv, mem
}

func clientFor(t *testing.T, baseURL string, actor lifecycle.Actor) *HTTPClient {
	t.Helper()
	token, err := auth.IssueToken([]byte(secret), actor.ID, actor.Name, string(actor.Role), time.Hour)
	require.NoError(t, err)
	return NewHTTPClient(baseURL, token)
}

func TestHTTPClientDrivesDraftThroughReview(t *testing.T) {
	srv, _ := startAPI(t)
	ctx := context.Background()
	client := clientFor(t, srv.URL, mentor)

	sched := &fakeScheduler{}
	s := NewSession(client, "course-1", mentor, WithScheduler(sched))
	require.NoError(t, s.Load(ctx))
	assert.Equal(t, lifecycle.NoDraft, s.State())

	moduleID := s.AddModule("Wrap up")
	_, err := s.AddLesson(moduleID, "Recap", snapshot.ContentText)
	require.NoError(t, err)
	sched.fire(t)
	require.NoError(t, s.Err())
	assert.Equal(t, StatusSaved, s.Status())
	assert.Equal(t, lifecycle.Draft, s.State())

	require.NoError(t, s.Submit(ctx))
	assert.Equal(t, lifecycle.PendingApproval, s.State())

	content, err := client.LoadContent(ctx, "course-1")
	require.NoError(t, err)
	require.NotNil(t, content.Draft)
	assert.Equal(t, "PENDING_APPROVAL", content.Draft.Status)
	require.NotNil(t, content.Summary)
	assert.Equal(t, 1, content.Summary.ModulesAdded)
	assert.Equal(t, 1, content.Summary.LessonsAdded)

	require.NoError(t, s.Withdraw(ctx))
	content, err = client.LoadContent(ctx, "course-1")
	require.NoError(t, err)
	assert.Equal(t, lifecycle.Draft, content.State)
}

func TestHTTPClientSaveLiveAdoptsIDs(t *testing.T) {
	srv, _ := startAPI(t)
	ctx := context.Background()
	client := clientFor(t, srv.URL, admin)

	s := NewSession(client, "course-1", admin, WithScheduler(&fakeScheduler{}))
	require.NoError(t, s.Load(ctx))
	moduleID := s.AddModule("Appendix")
	require.NoError(t, s.SaveLive(ctx))

	snap := s.Snapshot()
	require.Len(t, snap.Modules, 3)
	assert.True(t, snap.Modules[2].ID.IsPersisted())
	assert.NotEqual(t, moduleID, s.Selected())
	assert.Equal(t, snap.Modules[2].ID, s.Selected())
	assert.Equal(t, StatusSaved, s.Status())

	content, err := client.LoadContent(ctx, "course-1")
	require.NoError(t, err)
	assert.Equal(t, snap.Modules[2].ID, content.Live.Modules[2].ID)
}

func TestHTTPClientDecodesErrorEnvelope(t *testing.T) {
	srv, mem := startAPI(t)
	ctx := context.Background()

	_, err := clientFor(t, srv.URL, mentor).SubmitDraft(ctx, "course-1")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusConflict, apiErr.Status)
	assert.Equal(t, "INVALID_STATE", apiErr.Code)
	assert.Equal(t, lifecycle.CodeNoDraft, apiErr.Details["reason"])
	assert.False(t, apiErr.Temporary())

	_, err = NewHTTPClient(srv.URL, "").LoadContent(ctx, "course-1")
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusUnauthorized, apiErr.Status)

	mem.SetUnavailable(true)
	_, err = clientFor(t, srv.URL, mentor).LoadContent(ctx, "course-1")
	require.True(t, errors.As(err, &apiErr))
	assert.True(t, apiErr.Temporary())
}

func TestHTTPClientReadsAutosaveDebounce(t *testing.T) {
	srv, _ := startAPI(t)
	d, err := NewHTTPClient(srv.URL, "").AutosaveDebounce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1500*time.Millisecond, d)
}
