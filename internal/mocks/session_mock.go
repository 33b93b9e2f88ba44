package mocks

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/copyleftdev/tixrush/internal/monitor"
	"github.com/copyleftdev/tixrush/internal/taskstypes"
)

// MockSession is a MockPage with the session lifecycle recorded.
type MockSession struct {
	*MockPage

	mu          sync.Mutex
	cookies     []taskstypes.Cookie
	navigations []string
	blocked     bool
	closed      bool

	BlockErr    error
	CookieErr   error
	NavigateErr error
	// OnNavigate runs after a successful navigation.
	OnNavigate func(s *MockSession, url string)
}

func NewMockSession() *MockSession {
	return &MockSession{MockPage: NewMockPage()}
}

func (s *MockSession) BlockResources(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.BlockErr != nil {
		return s.BlockErr
	}
	s.blocked = true
	return nil
}

func (s *MockSession) SetCookies(ctx context.Context, cookies []taskstypes.Cookie) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.CookieErr != nil {
		return s.CookieErr
	}
	s.cookies = append(s.cookies, cookies...)
	return nil
}

func (s *MockSession) Navigate(ctx context.Context, url string, timeout time.Duration) error {
	s.mu.Lock()
	if s.NavigateErr != nil {
		s.mu.Unlock()
		return s.NavigateErr
	}
	s.navigations = append(s.navigations, url)
	hook := s.OnNavigate
	s.mu.Unlock()

	if hook != nil {
		hook(s, url)
	}
	return nil
}

func (s *MockSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *MockSession) Cookies() []taskstypes.Cookie {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]taskstypes.Cookie(nil), s.cookies...)
}

func (s *MockSession) Navigations() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.navigations...)
}

func (s *MockSession) Blocked() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.blocked
}

func (s *MockSession) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// ErrNoSession is returned by MockSessionFactory when Build is unset.
var ErrNoSession = errors.New("mock: no session configured")

// MockSessionFactory builds sessions through Build and records the proxy
// each one was requested with.
type MockSessionFactory struct {
	mu       sync.Mutex
	proxies  []*taskstypes.Proxy
	sessions []*MockSession

	Build func(proxy *taskstypes.Proxy) (*MockSession, error)
}

func (f *MockSessionFactory) NewSession(ctx context.Context, proxy *taskstypes.Proxy) (monitor.Session, error) {
	f.mu.Lock()
	f.proxies = append(f.proxies, proxy)
	build := f.Build
	f.mu.Unlock()

	if build == nil {
		return nil, ErrNoSession
	}
	s, err := build(proxy)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.sessions = append(f.sessions, s)
	f.mu.Unlock()
	return s, nil
}

// Proxies returns the proxy of every NewSession call, in call order.
func (f *MockSessionFactory) Proxies() []*taskstypes.Proxy {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*taskstypes.Proxy(nil), f.proxies...)
}

// Sessions returns every session handed out so far.
func (f *MockSessionFactory) Sessions() []*MockSession {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*MockSession(nil), f.sessions...)
}
