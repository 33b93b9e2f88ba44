package browser

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/chromedp/chromedp"
	"github.com/copyleftdev/tixrush/internal/config"
	"github.com/copyleftdev/tixrush/internal/monitor"
	"github.com/copyleftdev/tixrush/internal/taskstypes"
	"go.uber.org/zap"
)

var ErrShuttingDown = errors.New("browser manager is shutting down")

// Compile-time check to ensure Manager can back monitor tasks.
var _ monitor.SessionFactory = (*Manager)(nil)

// Manager launches one Chrome process per session. Each session gets its own
// allocator so every account can run behind a different proxy.
type Manager struct {
	cfg    config.BrowserConfig
	logger *zap.Logger

	mu       sync.Mutex
	closing  bool
	activeWg sync.WaitGroup
}

func NewManager(cfg config.BrowserConfig, logger *zap.Logger) *Manager {
	return &Manager{
		cfg:    cfg,
		logger: logger.Named("browser"),
	}
}

// NewSession implements monitor.SessionFactory with the configured headless mode.
func (m *Manager) NewSession(ctx context.Context, proxy *taskstypes.Proxy) (monitor.Session, error) {
	return m.OpenSession(ctx, proxy, m.cfg.Headless)
}

// OpenSession starts a browser bound to ctx. Cancelling ctx or calling Close
// on the session kills the browser process.
func (m *Manager) OpenSession(ctx context.Context, proxy *taskstypes.Proxy, headless bool) (*Session, error) {
	m.mu.Lock()
	if m.closing {
		m.mu.Unlock()
		return nil, ErrShuttingDown
	}
	m.activeWg.Add(1)
	m.mu.Unlock()

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, m.allocatorOptions(proxy, headless)...)
	sugar := m.logger.Sugar()
	tabCtx, tabCancel := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(sugar.Debugf),
		chromedp.WithErrorf(sugar.Debugf),
	)

	s := &Session{
		ctx:    tabCtx,
		proxy:  proxy,
		logger: m.logger.With(zap.String("proxy", proxy.Display())),
	}
	s.cancel = func() {
		tabCancel()
		allocCancel()
		m.activeWg.Done()
	}

	chromedp.ListenTarget(tabCtx, s.onEvent)

	// The first Run allocates the browser and must not carry a timeout.
	if err := chromedp.Run(tabCtx); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("start browser: %w", err)
	}
	if proxy.HasAuth() {
		if err := s.enableInterception(ctx); err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("enable proxy authentication: %w", err)
		}
	}

	s.logger.Debug("browser session started", zap.Bool("headless", headless))
	return s, nil
}

func (m *Manager) allocatorOptions(proxy *taskstypes.Proxy, headless bool) []chromedp.ExecAllocatorOption {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-setuid-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("mute-audio", true),
		chromedp.IgnoreCertErrors,
	)

	if m.cfg.WindowWidth > 0 && m.cfg.WindowHeight > 0 {
		opts = append(opts, chromedp.WindowSize(m.cfg.WindowWidth, m.cfg.WindowHeight))
	}
	if m.cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(m.cfg.UserAgent))
	}
	if m.cfg.ExecutablePath != "" {
		opts = append(opts, chromedp.ExecPath(m.cfg.ExecutablePath))
	}
	if server := proxyServer(proxy); server != "" {
		opts = append(opts, chromedp.ProxyServer(server))
	}
	return opts
}

// proxyServer returns the --proxy-server value. Credentials are never passed
// on the command line; they are answered through auth challenges instead.
func proxyServer(proxy *taskstypes.Proxy) string {
	if proxy == nil {
		return ""
	}
	return proxy.Server
}

// Shutdown refuses new sessions and waits for open ones to close.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.logger.Info("shutting down browser manager")

	m.mu.Lock()
	m.closing = true
	m.mu.Unlock()

	done := make(chan struct{})
	go func() {
		m.activeWg.Wait()
		close(done)
	}()

	select {
	case <-done:
		m.logger.Info("all browser sessions closed")
		return nil
	case <-ctx.Done():
		m.logger.Warn("shutdown timeout reached with browser sessions still open")
		return ctx.Err()
	}
}
