package main

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/copyleftdev/tixrush/internal/config"
	"github.com/copyleftdev/tixrush/internal/mocks"
	"github.com/copyleftdev/tixrush/internal/taskstypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestWriteAccounts(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	accounts := []taskstypes.Account{
		{Email: "a@example.com", Cookies: []taskstypes.Cookie{
			{Name: "session_id", Value: "x", Domain: ".example.com", Expires: float64(now.Add(72 * time.Hour).Unix())},
			{Name: "lang", Value: "vi", Domain: ".example.com"},
		}},
		{Email: "b@example.com", Cookies: []taskstypes.Cookie{{Name: "lang", Value: "vi", Domain: ".example.com"}}},
		{Email: "0901234567", Cookies: []taskstypes.Cookie{{Name: "session_id", Value: "y", Domain: ".example.com"}}},
		{Email: "c@example.com", Cookies: []taskstypes.Cookie{
			{Name: "session_id", Value: "z", Domain: ".example.com", Expires: float64(now.Add(-2 * time.Hour).Unix())},
		}},
	}

	var buf bytes.Buffer
	require.NoError(t, writeAccounts(&buf, accounts, "session_id", now))
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 6)

	assert.Contains(t, lines[0], "AUTH EXPIRES")
	assert.Contains(t, lines[1], "a@example.com")
	assert.Contains(t, lines[1], "yes")
	assert.Contains(t, lines[1], "3 days from now")
	assert.Contains(t, lines[2], "no (session_id missing)")
	assert.Contains(t, lines[3], "no (identifier)")
	assert.Contains(t, lines[4], "expired 2 hours ago")
	assert.Equal(t, "2 of 4 accounts valid", lines[5])
}

func TestAuthExpiry_SessionCookie(t *testing.T) {
	a := taskstypes.Account{Cookies: []taskstypes.Cookie{{Name: "session_id", Value: "x"}}}
	assert.Equal(t, "session", authExpiry(a, "session_id", time.Now()))
	assert.Equal(t, "-", authExpiry(taskstypes.Account{}, "session_id", time.Now()))
}

func TestNewLogger(t *testing.T) {
	l, err := newLogger("warn", false)
	require.NoError(t, err)
	assert.False(t, l.Core().Enabled(-1))

	l, err = newLogger("info", true)
	require.NoError(t, err)
	assert.True(t, l.Core().Enabled(-1))

	_, err = newLogger("loud", false)
	assert.Error(t, err)
}

func TestCheckPage(t *testing.T) {
	cfg := config.Default()
	page := mocks.NewMockSession()
	page.SetBodyText("Sự kiện mở bán lúc 10:00")
	page.SetElements(cfg.Selectors.ZoneElements, "Zone A", "Zone B")

	var buf bytes.Buffer
	require.NoError(t, checkPage(context.Background(), &buf, page, cfg, "https://tickets.example.com/event/42"))

	out := buf.String()
	assert.Contains(t, out, "PASS navigate https://tickets.example.com/event/42")
	assert.Contains(t, out, "INFO book button: 0 match(es)")
	assert.Contains(t, out, "INFO zone elements: 2 match(es)")
	assert.Equal(t, []string{"https://tickets.example.com/event/42"}, page.Navigations())
}

func TestCheckPage_NavigateFailure(t *testing.T) {
	page := mocks.NewMockSession()
	page.NavigateErr = errors.New("net::ERR_NAME_NOT_RESOLVED")

	var buf bytes.Buffer
	err := checkPage(context.Background(), &buf, page, config.Default(), "https://nowhere.invalid")
	assert.Error(t, err)
	assert.Contains(t, buf.String(), "FAIL navigate")
}

func TestWithInterruptGrace(t *testing.T) {
	parent, interrupt := context.WithCancel(context.Background())
	runCtx, cancel := withInterruptGrace(parent, 50*time.Millisecond, zap.NewNop())
	defer cancel()

	interrupt()
	time.Sleep(10 * time.Millisecond)
	assert.NoError(t, runCtx.Err())

	select {
	case <-runCtx.Done():
	case <-time.After(time.Second):
		t.Fatal("run context outlived the grace period")
	}
	assert.ErrorIs(t, runCtx.Err(), context.Canceled)
}

func TestWithInterruptGrace_CancelWithoutInterrupt(t *testing.T) {
	runCtx, cancel := withInterruptGrace(context.Background(), time.Hour, zap.NewNop())
	cancel()
	assert.ErrorIs(t, runCtx.Err(), context.Canceled)
}
