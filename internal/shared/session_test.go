package shared

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestSessionManager(t *testing.T) (*SessionManager, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewSessionManager(client, "pettycash_session", "secret", time.Hour, false), mr
}

func TestSessionRoundTripStoresUser(t *testing.T) {
	sm, mr := newTestSessionManager(t)
	ctx := context.Background()

	sess, err := sm.Load(ctx, httptest.NewRequest(http.MethodGet, "/", nil))
	require.NoError(t, err)
	sess.SetUser("42")

	rec := httptest.NewRecorder()
	require.NoError(t, sm.Commit(ctx, rec, nil, sess))
	require.True(t, mr.Exists("session:"+sess.ID))

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(cookies[0])
	loaded, err := sm.Load(ctx, req)
	require.NoError(t, err)
	require.Equal(t, "42", loaded.User())

	actor, err := ActorIDFromContext(ContextWithSession(ctx, loaded))
	require.NoError(t, err)
	require.Equal(t, int64(42), actor)
}

func TestAnonymousSessionIsNotPersisted(t *testing.T) {
	sm, mr := newTestSessionManager(t)
	ctx := context.Background()

	sess, err := sm.Load(ctx, httptest.NewRequest(http.MethodGet, "/", nil))
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	require.NoError(t, sm.Commit(ctx, rec, nil, sess))
	require.Empty(t, mr.Keys())
	require.Empty(t, rec.Result().Cookies())

	_, err = ActorIDFromContext(ContextWithSession(ctx, sess))
	require.ErrorIs(t, err, ErrUnauthenticated)
}

func TestDestroyedSessionIsRemoved(t *testing.T) {
	sm, mr := newTestSessionManager(t)
	ctx := context.Background()

	sess, err := sm.Load(ctx, httptest.NewRequest(http.MethodGet, "/", nil))
	require.NoError(t, err)
	sess.SetUser("7")
	require.NoError(t, sm.Commit(ctx, httptest.NewRecorder(), nil, sess))

	sm.Destroy(sess)
	rec := httptest.NewRecorder()
	require.NoError(t, sm.Commit(ctx, rec, nil, sess))
	require.False(t, mr.Exists("session:"+sess.ID))
	require.Equal(t, -1, rec.Result().Cookies()[0].MaxAge)
}
