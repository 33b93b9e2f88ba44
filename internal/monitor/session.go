package monitor

import (
	"context"
	"errors"
	"time"

	"github.com/copyleftdev/tixrush/internal/selection"
	"github.com/copyleftdev/tixrush/internal/taskstypes"
	"go.uber.org/zap"
)

var ErrNoValidCookies = errors.New("no valid cookies to apply")

// Session is one isolated browser context bound to exactly one account.
type Session interface {
	selection.Page

	// BlockResources denies image, stylesheet, font and media fetches.
	BlockResources(ctx context.Context) error
	SetCookies(ctx context.Context, cookies []taskstypes.Cookie) error
	Navigate(ctx context.Context, url string, timeout time.Duration) error
	Close() error
}

// SessionFactory opens a fresh session, routed through proxy when non-nil.
type SessionFactory interface {
	NewSession(ctx context.Context, proxy *taskstypes.Proxy) (Session, error)
}

// Notifier receives the single terminal event of a task.
type Notifier interface {
	NotifySuccess(ev taskstypes.Event)
	NotifyError(account, message string)
}

type cookieSetter interface {
	SetCookies(ctx context.Context, cookies []taskstypes.Cookie) error
}

// ApplyCookies injects the complete records among cookies and returns how
// many were applied. Records without a name, value or domain are dropped.
// Zero remaining records is ErrNoValidCookies; a set without authCookie is
// applied anyway with a warning.
func ApplyCookies(ctx context.Context, s cookieSetter, cookies []taskstypes.Cookie, authCookie string, logger *zap.Logger) (int, error) {
	valid := make([]taskstypes.Cookie, 0, len(cookies))
	hasAuth := false
	for _, c := range cookies {
		if !c.Complete() {
			continue
		}
		if c.Name == authCookie {
			hasAuth = true
		}
		valid = append(valid, c)
	}

	if dropped := len(cookies) - len(valid); dropped > 0 {
		logger.Debug("dropped incomplete cookies", zap.Int("dropped", dropped))
	}
	if len(valid) == 0 {
		logger.Warn("no valid cookies to apply", zap.Int("records", len(cookies)))
		return 0, ErrNoValidCookies
	}
	if !hasAuth {
		logger.Warn("authentication cookie missing, continuing without it", zap.String("cookie", authCookie))
	}

	if err := s.SetCookies(ctx, valid); err != nil {
		return 0, err
	}
	logger.Info("cookies applied", zap.Int("count", len(valid)))
	return len(valid), nil
}
