// Package login captures a fresh session for an account through a visible
// browser and stores its cookies.
package login

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/copyleftdev/tixrush/internal/auth"
	"github.com/copyleftdev/tixrush/internal/config"
	"github.com/copyleftdev/tixrush/internal/dom"
	"github.com/copyleftdev/tixrush/internal/store"
	"github.com/copyleftdev/tixrush/internal/taskstypes"
	"go.uber.org/zap"
)

var (
	ErrInvalidEmail = errors.New("account identifier must be an email address")
	ErrLoginTimeout = errors.New("authentication cookie did not appear before the login timeout")
)

var (
	emailFields    = []string{`input[type="email"]`, `input[name="email"]`, `input[name="username"]`, `input[autocomplete="username"]`}
	passwordFields = []string{`input[type="password"]`, `input[name="password"]`}
	submitButtons  = []string{`button[type="submit"]`, `input[type="submit"]`, `button[class*="login"]`}

	codeFields = []string{
		`input[autocomplete="one-time-code"]`, `input[name="otp"]`, `input[name="security_code"]`,
		`#verification_code`, `input[id*="2fa"]`, `input[id*="mfa"]`, `input[name="code"]`,
	}
	codePrompts = []string{
		"enter verification code", "two-factor authentication", "security code", "enter the code",
		"mã xác thực", "mã xác minh",
	}
)

// Page is the subset of a browser session the login flow drives.
type Page interface {
	Navigate(ctx context.Context, url string, timeout time.Duration) error
	Exists(ctx context.Context, selector string) (bool, error)
	ClearAndType(ctx context.Context, selector, text string) error
	Click(ctx context.Context, selector string) error
	BodyText(ctx context.Context) (string, error)
	Cookies(ctx context.Context) ([]taskstypes.Cookie, error)
}

// AccountSaver persists the captured account.
type AccountSaver interface {
	SaveAccount(ctx context.Context, account taskstypes.Account) error
}

type Credentials struct {
	Email string
	// Password and TOTPSecret are optional; without them the user completes
	// the form by hand.
	Password   string
	TOTPSecret string
}

type Flow struct {
	target  config.TargetConfig
	timing  config.TimingConfig
	saver   AccountSaver
	logger  *zap.Logger
	poll    time.Duration
	codeFor func(secret string) (string, error)
}

func NewFlow(cfg *config.Config, saver AccountSaver, logger *zap.Logger) *Flow {
	return &Flow{
		target:  cfg.Target,
		timing:  cfg.Timing,
		saver:   saver,
		logger:  logger.Named("login"),
		poll:    time.Second,
		codeFor: auth.GenerateTOTP,
	}
}

// Run opens the login page, fills what it can, waits for the authentication
// cookie and saves the account. The whole flow is bounded by the login
// timeout.
func (f *Flow) Run(ctx context.Context, page Page, creds Credentials) (taskstypes.Account, error) {
	email := strings.TrimSpace(creds.Email)
	if !store.IsEmailLike(email) {
		return taskstypes.Account{}, fmt.Errorf("%w: %q", ErrInvalidEmail, creds.Email)
	}
	logger := f.logger.With(zap.String("account", email))

	if f.timing.LoginTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.timing.LoginTimeout)
		defer cancel()
	}

	url := f.target.LoginURL
	if url == "" {
		url = f.target.URL
	}
	if err := page.Navigate(ctx, url, f.timing.NavigationTimeout); err != nil {
		return taskstypes.Account{}, fmt.Errorf("open login page: %w", err)
	}
	logger.Info("login page open", zap.String("url", url))

	if creds.Password != "" {
		if err := f.fillCredentials(ctx, page, email, creds.Password); err != nil {
			logger.Warn("could not fill the login form, finish it in the browser", zap.Error(err))
		}
	} else {
		logger.Info("waiting for manual login in the browser window")
	}

	cookies, err := f.awaitAuthCookie(ctx, page, creds.TOTPSecret, logger)
	if err != nil {
		return taskstypes.Account{}, err
	}

	account := taskstypes.Account{Email: email, Cookies: cookies}
	if err := f.saver.SaveAccount(context.WithoutCancel(ctx), account); err != nil {
		return taskstypes.Account{}, fmt.Errorf("save account: %w", err)
	}
	logger.Info("session captured", zap.Int("cookies", len(cookies)))
	return account, nil
}

func (f *Flow) fillCredentials(ctx context.Context, page Page, email, password string) error {
	emailSel, err := firstPresent(ctx, page, emailFields)
	if err != nil {
		return fmt.Errorf("email field: %w", err)
	}
	if err := page.ClearAndType(ctx, emailSel, email); err != nil {
		return fmt.Errorf("type email: %w", err)
	}
	pwSel, err := firstPresent(ctx, page, passwordFields)
	if err != nil {
		return fmt.Errorf("password field: %w", err)
	}
	if err := page.ClearAndType(ctx, pwSel, password); err != nil {
		return fmt.Errorf("type password: %w", err)
	}
	return submit(ctx, page)
}

// awaitAuthCookie polls the browser cookies until the authentication cookie
// carries a value, answering a 2FA prompt once when a secret is known.
func (f *Flow) awaitAuthCookie(ctx context.Context, page Page, secret string, logger *zap.Logger) ([]taskstypes.Cookie, error) {
	codeSent := false
	for {
		cookies, err := page.Cookies(ctx)
		if err == nil && hasAuthCookie(cookies, f.target.AuthCookie) {
			return cookies, nil
		}
		if err != nil {
			logger.Debug("cookie export failed", zap.Error(err))
		}

		if secret != "" && !codeSent {
			if prompt, how := detectCodePrompt(ctx, page, logger); prompt {
				logger.Info("2FA prompt detected", zap.String("via", how))
				if err := f.enterCode(ctx, page, secret); err != nil {
					logger.Warn("could not enter the 2FA code, finish it in the browser", zap.Error(err))
				}
				codeSent = true
			}
		}

		if err := dom.Pause(ctx, f.poll); err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				return nil, ErrLoginTimeout
			}
			return nil, err
		}
	}
}

func (f *Flow) enterCode(ctx context.Context, page Page, secret string) error {
	code, err := f.codeFor(secret)
	if err != nil {
		return err
	}
	sel, err := firstPresent(ctx, page, codeFields)
	if err != nil {
		return fmt.Errorf("code field: %w", err)
	}
	if err := page.ClearAndType(ctx, sel, code); err != nil {
		return fmt.Errorf("type code: %w", err)
	}
	return submit(ctx, page)
}

// detectCodePrompt looks for a one-time-code input first, then for prompt
// wording in the page text.
func detectCodePrompt(ctx context.Context, page Page, logger *zap.Logger) (bool, string) {
	for _, sel := range codeFields {
		ok, err := page.Exists(ctx, sel)
		if err != nil {
			logger.Debug("2FA selector check failed", zap.String("selector", sel), zap.Error(err))
			continue
		}
		if ok {
			return true, "selector " + sel
		}
	}

	text, err := page.BodyText(ctx)
	if err != nil {
		logger.Debug("page text unavailable for 2FA check", zap.Error(err))
		return false, ""
	}
	lower := strings.ToLower(text)
	for _, p := range codePrompts {
		if strings.Contains(lower, p) {
			return true, "text " + p
		}
	}
	return false, ""
}

func submit(ctx context.Context, page Page) error {
	sel, err := firstPresent(ctx, page, submitButtons)
	if err != nil {
		return fmt.Errorf("submit button: %w", err)
	}
	return page.Click(ctx, sel)
}

func firstPresent(ctx context.Context, page Page, selectors []string) (string, error) {
	for _, sel := range selectors {
		if ok, err := page.Exists(ctx, sel); err == nil && ok {
			return sel, nil
		}
	}
	return "", errors.New("not found")
}

func hasAuthCookie(cookies []taskstypes.Cookie, name string) bool {
	for _, c := range cookies {
		if c.Name == name && c.Value != "" {
			return true
		}
	}
	return false
}
