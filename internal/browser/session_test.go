package browser

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonesrussell/ticketwatch/internal/config"
	"github.com/jonesrussell/ticketwatch/internal/logger"
)

func newStubSession(t *testing.T) *Session {
	t.Helper()
	s := &Session{
		id:        "test-session",
		ctx:       context.Background(),
		createdAt: time.Now(),
		lastUsed:  time.Now(),
		site:      &config.SiteConfig{},
		timeout:   5 * time.Second,
		logger:    logger.NewNop(),
	}
	s.alive.Store(true)
	return s
}

func TestSession_IsExpired_RequestBudget(t *testing.T) {
	s := newStubSession(t)

	for i := 0; i < 19; i++ {
		s.UpdateUsage()
	}
	assert.False(t, s.IsExpired(20, 12*time.Hour))

	s.UpdateUsage()
	assert.True(t, s.IsExpired(20, 12*time.Hour))
}

func TestSession_IsExpired_Age(t *testing.T) {
	s := newStubSession(t)
	s.createdAt = time.Now().Add(-13 * time.Hour)

	assert.True(t, s.IsExpired(20, 12*time.Hour))

	s.createdAt = time.Now().Add(-11 * time.Hour)
	assert.False(t, s.IsExpired(20, 12*time.Hour))
}

func TestSession_UpdateUsage(t *testing.T) {
	s := newStubSession(t)
	before := s.lastUsed

	time.Sleep(time.Millisecond)
	s.UpdateUsage()

	assert.Equal(t, 1, s.RequestCount())
	assert.True(t, s.lastUsed.After(before))
}

func TestSession_CloseIsIdempotent(t *testing.T) {
	canceled := 0
	s := newStubSession(t)
	s.cancel = func() { canceled++ }

	s.Close()
	assert.False(t, s.Alive())
	assert.False(t, s.LoggedIn())
	assert.Equal(t, 1, canceled)

	s.Close()
	assert.Equal(t, 1, canceled, "second close must be a no-op")
}

func TestSession_EnsureLoginWithoutCredentials(t *testing.T) {
	s := newStubSession(t)

	// No credentials configured means the session stays anonymous.
	assert.False(t, s.EnsureLogin(context.Background()))
	assert.False(t, s.LoggedIn())
}

func TestLatestStateFile(t *testing.T) {
	dir := t.TempDir()

	older := filepath.Join(dir, "session_old.json")
	newer := filepath.Join(dir, "session_new.json")
	require.NoError(t, os.WriteFile(older, []byte("{}"), 0o600))
	require.NoError(t, os.WriteFile(newer, []byte("{}"), 0o600))
	past := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(older, past, past))

	// Unrelated files are ignored.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o600))

	got, err := latestStateFile(dir)
	require.NoError(t, err)
	assert.Equal(t, newer, got)
}

func TestLatestStateFile_Empty(t *testing.T) {
	_, err := latestStateFile(t.TempDir())
	assert.Error(t, err)
}

func TestSessionStateRoundTrip(t *testing.T) {
	dir := t.TempDir()

	saved := sessionState{
		SavedAt: time.Now().UTC(),
		Cookies: []*network.Cookie{
			{Name: "auth", Value: "tok-123", Domain: ".stubhub.com", Path: "/", Secure: true, HTTPOnly: true, Expires: float64(time.Now().Add(24 * time.Hour).Unix())},
			{Name: "pref", Value: "en", Domain: ".stubhub.com", Path: "/"},
		},
	}
	data, err := json.Marshal(saved)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "session_a.json"), data, 0o600))

	path, state, err := loadLatestState(dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "session_a.json"), path)
	require.Len(t, state.Cookies, 2)

	params := cookieParams(state.Cookies)
	require.Len(t, params, 2)
	assert.Equal(t, "auth", params[0].Name)
	assert.Equal(t, "tok-123", params[0].Value)
	assert.Equal(t, ".stubhub.com", params[0].Domain)
	assert.True(t, params[0].Secure)
	assert.True(t, params[0].HTTPOnly)
	require.NotNil(t, params[0].Expires, "persistent cookie keeps its expiry")
	assert.Nil(t, params[1].Expires, "session cookie has no expiry")
}

func TestLoadLatestState_EmptyCookies(t *testing.T) {
	dir := t.TempDir()

	data, err := json.Marshal(sessionState{SavedAt: time.Now().UTC()})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "session_a.json"), data, 0o600))

	// An empty jar must not restore, otherwise a fresh session would be
	// classified as logged in without any credentials behind it.
	_, _, err = loadLatestState(dir)
	assert.Error(t, err)
}

func TestLoadLatestState_CorruptSnapshot(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "session_a.json"), []byte("{not json"), 0o600))

	_, _, err := loadLatestState(dir)
	assert.Error(t, err)
}
