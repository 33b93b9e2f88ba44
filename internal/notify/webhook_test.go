package notify

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/copyleftdev/tixrush/internal/config"
	"github.com/copyleftdev/tixrush/internal/taskstypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

type capture struct {
	mu     sync.Mutex
	bodies []Message
}

func (c *capture) handler(status int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		var msg Message
		if err := json.Unmarshal(raw, &msg); err == nil {
			c.mu.Lock()
			c.bodies = append(c.bodies, msg)
			c.mu.Unlock()
		}
		w.WriteHeader(status)
	}
}

func (c *capture) messages() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Message(nil), c.bodies...)
}

func TestWebhookSink_DeliversEachEvent(t *testing.T) {
	c := &capture{}
	srv := httptest.NewServer(c.handler(http.StatusNoContent))
	defer srv.Close()

	sink := NewWebhookSink(config.NotifyConfig{WebhookURL: srv.URL, Username: "tixrush"}, zaptest.NewLogger(t))
	sink.NotifyStart(3)
	sink.NotifySuccess(taskstypes.SuccessEvent("a@example.com", "Zone A", 2,
		taskstypes.NewTicketResult([]string{"TCK-1"}, "Row 5"), &taskstypes.Proxy{Server: "http://10.0.0.1:8080"}))
	sink.NotifyError("b@example.com", "navigate: net::ERR_TIMED_OUT")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, sink.Close(ctx))

	msgs := c.messages()
	require.Len(t, msgs, 3)

	titles := map[string]Embed{}
	for _, m := range msgs {
		require.Len(t, m.Embeds, 1)
		assert.Equal(t, "tixrush", m.Username)
		titles[m.Embeds[0].Title] = m.Embeds[0]
	}

	start := titles["Monitoring started"]
	assert.Contains(t, start.Description, "3 account(s)")

	success := titles["Tickets acquired"]
	assert.Equal(t, colorSuccess, success.Color)
	assert.Contains(t, success.Fields, EmbedField{Name: "Seats", Value: "2", Inline: true})
	assert.Contains(t, success.Fields, EmbedField{Name: "Proxy", Value: "10.0.0.1:8080", Inline: true})
	assert.Contains(t, success.Fields, EmbedField{Name: "Ticket ID", Value: "TCK-1", Inline: true})

	failed := titles["Task failed"]
	assert.Equal(t, "navigate: net::ERR_TIMED_OUT", failed.Description)
	assert.Contains(t, failed.Fields, EmbedField{Name: "Account", Value: "b@example.com"})
}

func TestWebhookSink_FailuresAreSwallowed(t *testing.T) {
	c := &capture{}
	srv := httptest.NewServer(c.handler(http.StatusInternalServerError))
	defer srv.Close()

	sink := NewWebhookSink(config.NotifyConfig{WebhookURL: srv.URL}, zap.NewNop())
	assert.NotPanics(t, func() { sink.NotifyError("a@example.com", "boom") })
	require.NoError(t, sink.Close(context.Background()))
	assert.Len(t, c.messages(), 1)
}

func TestWebhookSink_UnreachableEndpoint(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	sink := NewWebhookSink(config.NotifyConfig{WebhookURL: url, Timeout: time.Second}, zap.NewNop())
	sink.NotifyStart(1)
	assert.NoError(t, sink.Close(context.Background()))
}

func TestWebhookSink_CloseBoundedByContext(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	sink := NewWebhookSink(config.NotifyConfig{WebhookURL: srv.URL, Timeout: 5 * time.Second}, zap.NewNop())
	sink.NotifyStart(1)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, sink.Close(ctx), context.DeadlineExceeded)
}

func TestFormat_TruncatesLongDetails(t *testing.T) {
	details := strings.Repeat("Zone A Row 1 Seat 1\n", 200)
	body, err := Format("", taskstypes.SuccessEvent("a@example.com", "Zone A", 1, taskstypes.NewTicketResult(nil, details), nil))
	require.NoError(t, err)

	var msg Message
	require.NoError(t, json.Unmarshal(body, &msg))
	var got string
	for _, f := range msg.Embeds[0].Fields {
		if f.Name == "Details" {
			got = f.Value
		}
		assert.NotEmpty(t, f.Value)
	}
	assert.Equal(t, maxFieldValue, len([]rune(got)))
	assert.True(t, strings.HasSuffix(got, "…"))
}

func TestFormat_UnknownKind(t *testing.T) {
	_, err := Format("", taskstypes.Event{Kind: "bogus"})
	assert.Error(t, err)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "Hạng…", truncate("Hạng VIP", 5))
	assert.Equal(t, "-", fieldValue(""))
}
