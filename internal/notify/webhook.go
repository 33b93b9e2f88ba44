// Package notify delivers task events to a chat webhook.
package notify

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/copyleftdev/tixrush/internal/config"
	"github.com/copyleftdev/tixrush/internal/taskstypes"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Sink consumes task events. Calls return immediately; delivery failures
// are logged by the sink and never reported back.
type Sink interface {
	NotifyStart(count int)
	NotifySuccess(ev taskstypes.Event)
	NotifyError(account, message string)
}

var _ Sink = (*WebhookSink)(nil)

// Discord allows 5 webhook requests per 2 seconds.
const (
	webhookRate  = 400 * time.Millisecond
	webhookBurst = 5
)

// WebhookSink posts every event as its own request on its own goroutine.
type WebhookSink struct {
	url      string
	username string
	client   *http.Client
	limiter  *rate.Limiter
	logger   *zap.Logger
	inflight sync.WaitGroup
}

func NewWebhookSink(cfg config.NotifyConfig, logger *zap.Logger) *WebhookSink {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WebhookSink{
		url:      cfg.WebhookURL,
		username: cfg.Username,
		client:   &http.Client{Timeout: timeout},
		limiter:  rate.NewLimiter(rate.Every(webhookRate), webhookBurst),
		logger:   logger.Named("notify"),
	}
}

func (s *WebhookSink) NotifyStart(count int) {
	s.dispatch(taskstypes.StartEvent(count))
}

func (s *WebhookSink) NotifySuccess(ev taskstypes.Event) {
	ev.Kind = taskstypes.EventSuccess
	s.dispatch(ev)
}

func (s *WebhookSink) NotifyError(account, message string) {
	s.dispatch(taskstypes.ErrorEvent(account, message))
}

func (s *WebhookSink) dispatch(ev taskstypes.Event) {
	body, err := Format(s.username, ev)
	if err != nil {
		s.logger.Error("failed to format notification", zap.String("kind", string(ev.Kind)), zap.Error(err))
		return
	}

	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		if err := s.post(body); err != nil {
			s.logger.Error("notification delivery failed",
				zap.String("kind", string(ev.Kind)),
				zap.String("account", ev.Account),
				zap.Error(err),
			)
			return
		}
		s.logger.Debug("notification delivered", zap.String("kind", string(ev.Kind)), zap.String("account", ev.Account))
	}()
}

func (s *WebhookSink) post(body []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), s.client.Timeout+time.Minute)
	defer cancel()
	if err := s.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook returned %s", resp.Status)
	}
	return nil
}

// Close waits for in-flight deliveries until ctx is done.
func (s *WebhookSink) Close(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.inflight.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		s.logger.Warn("notifications still in flight at shutdown")
		return ctx.Err()
	}
}
