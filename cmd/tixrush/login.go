package main

import (
	"context"
	"fmt"
	"os"

	"github.com/copyleftdev/tixrush/internal/browser"
	"github.com/copyleftdev/tixrush/internal/login"
	"github.com/copyleftdev/tixrush/internal/store"
	"github.com/copyleftdev/tixrush/internal/taskstypes"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type loginOptions struct {
	email      string
	password   string
	totpSecret string
	proxy      string
}

func newLoginCmd(root *rootOptions) *cobra.Command {
	opts := &loginOptions{}
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in through a visible browser and store the session cookies",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if opts.password == "" {
				opts.password = os.Getenv("TIXRUSH_LOGIN_PASSWORD")
			}
			if opts.totpSecret == "" {
				opts.totpSecret = os.Getenv("TIXRUSH_LOGIN_TOTP_SECRET")
			}
			return runLogin(cmd, root, opts)
		},
	}

	cmd.Flags().StringVar(&opts.email, "email", "", "account email (required)")
	cmd.Flags().StringVar(&opts.password, "password", "", "password to prefill (or TIXRUSH_LOGIN_PASSWORD)")
	cmd.Flags().StringVar(&opts.totpSecret, "totp-secret", "", "base32 TOTP secret for 2FA prompts (or TIXRUSH_LOGIN_TOTP_SECRET)")
	cmd.Flags().StringVar(&opts.proxy, "proxy", "", "proxy for the login browser")
	_ = cmd.MarkFlagRequired("email")

	return cmd
}

func runLogin(cmd *cobra.Command, root *rootOptions, opts *loginOptions) error {
	ctx := cmd.Context()
	cfg, logger, err := root.load()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	var proxy *taskstypes.Proxy
	if opts.proxy != "" {
		if proxy, err = taskstypes.ParseProxy(opts.proxy); err != nil {
			return err
		}
	}

	accounts, err := store.NewFileStore(cfg.Accounts.File)
	if err != nil {
		return err
	}
	browsers := browser.NewManager(cfg.Browser, logger)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Browser.ShutdownTimeout)
		defer cancel()
		if err := browsers.Shutdown(shutdownCtx); err != nil {
			logger.Warn("browser shutdown", zap.Error(err))
		}
	}()

	sess, err := browsers.OpenSession(ctx, proxy, false)
	if err != nil {
		return fmt.Errorf("open browser: %w", err)
	}
	defer func() { _ = sess.Close() }()

	flow := login.NewFlow(cfg, accounts, logger)
	account, err := flow.Run(ctx, sess, login.Credentials{
		Email:      opts.email,
		Password:   opts.password,
		TOTPSecret: opts.totpSecret,
	})
	if err != nil {
		return err
	}

	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "saved %d cookies for %s to %s\n", len(account.Cookies), account.Email, accounts.Path())
	return nil
}
