package browser

import (
	"context"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/fetch"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"github.com/copyleftdev/tixrush/internal/dom"
	"github.com/copyleftdev/tixrush/internal/monitor"
	"github.com/copyleftdev/tixrush/internal/taskstypes"
	"go.uber.org/zap"
)

// Bound for single page queries. Explicit waits carry their own timeout.
const actionTimeout = 10 * time.Second

var _ monitor.Session = (*Session)(nil)

// Resource types denied once blocking is on.
var blockedResources = []network.ResourceType{
	network.ResourceTypeImage,
	network.ResourceTypeStylesheet,
	network.ResourceTypeFont,
	network.ResourceTypeMedia,
}

// Session is one browser tab in its own browser process.
type Session struct {
	ctx    context.Context
	cancel func()
	proxy  *taskstypes.Proxy
	logger *zap.Logger

	mu        sync.Mutex
	blocking  bool
	closeOnce sync.Once
}

// run executes actions on the tab, bounded by timeout and by the caller's ctx.
func (s *Session) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithTimeout(s.ctx, timeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	if err := chromedp.Run(runCtx, actions...); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
	return nil
}

func (s *Session) Exists(ctx context.Context, selector string) (bool, error) {
	var present bool
	err := s.run(ctx, actionTimeout, dom.IsElementPresentAction(selector, &present))
	return present, err
}

func (s *Session) Visible(ctx context.Context, selector string) (bool, error) {
	var visible bool
	err := s.run(ctx, actionTimeout, dom.AnyVisibleAction(selector, &visible))
	return visible, err
}

func (s *Session) Count(ctx context.Context, selector string) (int, error) {
	var n int
	err := s.run(ctx, actionTimeout, dom.CountAction(selector, &n))
	return n, err
}

func (s *Session) WaitVisible(ctx context.Context, selector string, timeout time.Duration) error {
	return s.run(ctx, timeout, dom.WaitVisibleAction(selector))
}

func (s *Session) BoundingBox(ctx context.Context, selector string) (taskstypes.Rect, error) {
	var r taskstypes.Rect
	err := s.run(ctx, actionTimeout, dom.BoundingBoxAction(selector, &r))
	return r, err
}

func (s *Session) Click(ctx context.Context, selector string) error {
	return s.run(ctx, actionTimeout, dom.ClickNthAction(selector, 0))
}

func (s *Session) ClickNth(ctx context.Context, selector string, index int) error {
	return s.run(ctx, actionTimeout, dom.ClickNthAction(selector, index))
}

func (s *Session) Resolve(ctx context.Context, selector string) ([]taskstypes.NodeRef, error) {
	var refs []taskstypes.NodeRef
	err := s.run(ctx, actionTimeout, dom.ResolveNodesAction(selector, &refs))
	return refs, err
}

func (s *Session) ClickNode(ctx context.Context, ref taskstypes.NodeRef) error {
	return s.run(ctx, actionTimeout, dom.ClickNodeAction(ref))
}

func (s *Session) ClickAt(ctx context.Context, x, y float64) error {
	return s.run(ctx, actionTimeout, dom.ClickAtAction(x, y))
}

func (s *Session) Text(ctx context.Context, selector string) (string, error) {
	var text string
	err := s.run(ctx, actionTimeout, dom.FirstTextAction(selector, &text))
	return text, err
}

func (s *Session) Texts(ctx context.Context, selector string) ([]string, error) {
	var texts []string
	err := s.run(ctx, actionTimeout, dom.AllTextsAction(selector, &texts))
	return texts, err
}

func (s *Session) ClearAndType(ctx context.Context, selector, text string) error {
	return s.run(ctx, actionTimeout, dom.ClearAndTypeAction(selector, text))
}

func (s *Session) HTML(ctx context.Context) (string, error) {
	var doc string
	err := s.run(ctx, actionTimeout, dom.GetFullHTMLAction(&doc))
	return doc, err
}

func (s *Session) BodyText(ctx context.Context) (string, error) {
	var text string
	err := s.run(ctx, actionTimeout, dom.GetTextContentAction(&text))
	return text, err
}

func (s *Session) Navigate(ctx context.Context, url string, timeout time.Duration) error {
	return s.run(ctx, timeout,
		dom.NavigateAction(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
}

func (s *Session) SetCookies(ctx context.Context, cookies []taskstypes.Cookie) error {
	return s.run(ctx, actionTimeout, network.SetCookies(cookieParams(cookies)))
}

// Cookies exports every cookie the browser holds.
func (s *Session) Cookies(ctx context.Context) ([]taskstypes.Cookie, error) {
	var raw []*network.Cookie
	err := s.run(ctx, actionTimeout, chromedp.ActionFunc(func(ctx context.Context) error {
		c, err := network.GetCookies().Do(ctx)
		if err != nil {
			return err
		}
		raw = c
		return nil
	}))
	if err != nil {
		return nil, err
	}
	return fromNetworkCookies(raw), nil
}

// BlockResources turns on request interception for heavy resource types.
func (s *Session) BlockResources(ctx context.Context) error {
	s.mu.Lock()
	s.blocking = true
	s.mu.Unlock()
	return s.enableInterception(ctx)
}

// enableInterception (re)installs the fetch patterns for the current mode.
// Proxy authentication needs every request paused; blocking alone only
// needs the blocked types.
func (s *Session) enableInterception(ctx context.Context) error {
	s.mu.Lock()
	blocking := s.blocking
	s.mu.Unlock()

	var patterns []*fetch.RequestPattern
	if s.proxy.HasAuth() {
		patterns = []*fetch.RequestPattern{{URLPattern: "*", RequestStage: fetch.RequestStageRequest}}
	} else if blocking {
		for _, rt := range blockedResources {
			patterns = append(patterns, &fetch.RequestPattern{URLPattern: "*", ResourceType: rt, RequestStage: fetch.RequestStageRequest})
		}
	}
	if len(patterns) == 0 {
		return nil
	}
	return s.run(ctx, actionTimeout, fetch.Enable().WithPatterns(patterns).WithHandleAuthRequests(s.proxy.HasAuth()))
}

func (s *Session) onEvent(ev interface{}) {
	switch ev := ev.(type) {
	case *fetch.EventRequestPaused:
		go s.handlePaused(ev)
	case *fetch.EventAuthRequired:
		go s.handleAuth(ev)
	}
}

func (s *Session) executor() context.Context {
	return cdp.WithExecutor(s.ctx, chromedp.FromContext(s.ctx).Target)
}

func (s *Session) isBlocked(rt network.ResourceType) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.blocking {
		return false
	}
	for _, b := range blockedResources {
		if rt == b {
			return true
		}
	}
	return false
}

func (s *Session) handlePaused(ev *fetch.EventRequestPaused) {
	ctx := s.executor()
	var err error
	if s.isBlocked(ev.ResourceType) {
		err = fetch.FailRequest(ev.RequestID, network.ErrorReasonBlockedByClient).Do(ctx)
	} else {
		err = fetch.ContinueRequest(ev.RequestID).Do(ctx)
	}
	if err != nil && s.ctx.Err() == nil {
		s.logger.Debug("paused request not resolved", zap.String("url", ev.Request.URL), zap.Error(err))
	}
}

func (s *Session) handleAuth(ev *fetch.EventAuthRequired) {
	resp := &fetch.AuthChallengeResponse{Response: fetch.AuthChallengeResponseResponseCancelAuth}
	if ev.AuthChallenge != nil && ev.AuthChallenge.Source == fetch.AuthChallengeSourceProxy && s.proxy.HasAuth() {
		resp = &fetch.AuthChallengeResponse{
			Response: fetch.AuthChallengeResponseResponseProvideCredentials,
			Username: s.proxy.Username,
			Password: s.proxy.Password,
		}
	}
	if err := fetch.ContinueWithAuth(ev.RequestID, resp).Do(s.executor()); err != nil && s.ctx.Err() == nil {
		s.logger.Warn("proxy authentication not answered", zap.Error(err))
	}
}

// Close kills the tab and its browser process. Safe to call more than once.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.cancel()
		s.logger.Debug("browser session closed")
	})
	return nil
}
