package internal

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/copyleftdev/tixrush/internal/config"
	"github.com/copyleftdev/tixrush/internal/mocks"
	"github.com/copyleftdev/tixrush/internal/notify"
	"github.com/copyleftdev/tixrush/internal/server"
	"github.com/copyleftdev/tixrush/internal/store"
	"github.com/copyleftdev/tixrush/internal/tasks"
	"github.com/copyleftdev/tixrush/internal/taskstypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type webhookCapture struct {
	mu       sync.Mutex
	messages []notify.Message
}

func (c *webhookCapture) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	var msg notify.Message
	if err := json.Unmarshal(body, &msg); err == nil {
		c.mu.Lock()
		c.messages = append(c.messages, msg)
		c.mu.Unlock()
	}
	w.WriteHeader(http.StatusNoContent)
}

func (c *webhookCapture) all() []notify.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]notify.Message(nil), c.messages...)
}

// End to end: accounts on disk, two browsers behind one proxy, webhook
// delivery and the status API over the finished registry.
func TestTixrushWorkflow(t *testing.T) {
	ctx := context.Background()
	logger := zaptest.NewLogger(t)

	hook := &webhookCapture{}
	hookSrv := httptest.NewServer(hook)
	defer hookSrv.Close()

	cfg := config.Default()
	cfg.Target.URL = "https://tickets.example.com/event/42"
	cfg.Notify.WebhookURL = hookSrv.URL
	cfg.Notify.Timeout = 2 * time.Second
	cfg.Proxies = []string{"10.1.1.1:3128:user:pass"}
	cfg.Timing = config.TimingConfig{
		PollInterval:   time.Millisecond,
		TaskTimeout:    10 * time.Second,
		DetailsTimeout: 30 * time.Millisecond,
		DetailsPoll:    5 * time.Millisecond,
	}

	fs, err := store.NewFileStore(filepath.Join(t.TempDir(), "accounts.toml"))
	require.NoError(t, err)
	for _, email := range []string{"a@example.com", "b@example.com"} {
		require.NoError(t, fs.SaveAccount(ctx, taskstypes.Account{
			Email:   email,
			Cookies: []taskstypes.Cookie{{Name: "session_id", Value: "tok-" + email, Domain: ".example.com", Path: "/"}},
		}))
	}
	require.NoError(t, fs.SaveAccount(ctx, taskstypes.Account{Email: "stale@example.com"}))

	sessions := &mocks.MockSessionFactory{
		Build: func(*taskstypes.Proxy) (*mocks.MockSession, error) {
			s := mocks.NewMockSession()
			s.SetVisible(cfg.Selectors.BookButton, true)
			s.SetElements(cfg.Selectors.ZoneElements, "Zone VIP")
			s.SetElements(cfg.Selectors.SeatElements[0], "A1", "A2", "A3")
			s.SetText(cfg.Selectors.CartContainer, "Zone VIP - Row A - Seats 1, 2")
			return s, nil
		},
	}

	sink := notify.NewWebhookSink(cfg.Notify, logger)
	manager := tasks.NewManager(cfg, fs, sessions, sink, logger)
	require.NoError(t, manager.Run(ctx))

	closeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, sink.Close(closeCtx))

	// One start message and one success per valid account.
	messages := hook.all()
	require.Len(t, messages, 3)
	successes := 0
	for _, m := range messages {
		if len(m.Embeds) > 0 && m.Embeds[0].Color == 0x2ECC71 {
			successes++
		}
	}
	assert.Equal(t, 2, successes)

	for _, p := range sessions.Proxies() {
		require.NotNil(t, p)
		assert.Equal(t, "user", p.Username)
	}

	api := httptest.NewServer(server.NewRouter(cfg.Security, manager, logger))
	defer api.Close()

	resp, err := http.Get(api.URL + "/api/v1/tasks")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var listed server.ListTasksResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&listed))
	require.Equal(t, 2, listed.Count)
	for _, rec := range listed.Tasks {
		assert.Equal(t, taskstypes.StatusFinished, rec.Status)
		assert.Equal(t, "10.1.1.1:3128", rec.Proxy)
		assert.Equal(t, 2, rec.Seats)
	}
}
