package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/copyleftdev/tixrush/internal/browser"
	"github.com/copyleftdev/tixrush/internal/config"
	"github.com/copyleftdev/tixrush/internal/selection"
	"github.com/copyleftdev/tixrush/internal/taskstypes"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newCheckCmd(root *rootOptions) *cobra.Command {
	var (
		url     string
		proxy   string
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Launch a browser, open the event page and report what the selectors see",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := root.load()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			if url == "" {
				url = cfg.Target.URL
			}
			if url == "" {
				url = "about:blank"
			}
			var p *taskstypes.Proxy
			if proxy != "" {
				if p, err = taskstypes.ParseProxy(proxy); err != nil {
					return err
				}
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			browsers := browser.NewManager(cfg.Browser, logger)
			defer func() {
				if err := browsers.Shutdown(context.Background()); err != nil {
					logger.Warn("browser shutdown", zap.Error(err))
				}
			}()

			sess, err := browsers.OpenSession(ctx, p, cfg.Browser.Headless)
			if err != nil {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "FAIL browser launch: %v\n", err)
				return err
			}
			defer func() { _ = sess.Close() }()

			return checkPage(ctx, cmd.OutOrStdout(), sess, cfg, url)
		},
	}

	cmd.Flags().StringVar(&url, "url", "", "page to open (default: target.url)")
	cmd.Flags().StringVar(&proxy, "proxy", "", "route the browser through this proxy")
	cmd.Flags().DurationVar(&timeout, "timeout", 60*time.Second, "overall time limit")
	return cmd
}

type checkedPage interface {
	selection.Page
	Navigate(ctx context.Context, url string, timeout time.Duration) error
}

// checkPage opens url and prints which configured selectors currently match.
func checkPage(ctx context.Context, out io.Writer, page checkedPage, cfg *config.Config, url string) error {
	if err := page.Navigate(ctx, url, cfg.Timing.NavigationTimeout); err != nil {
		_, _ = fmt.Fprintf(out, "FAIL navigate %s: %v\n", url, err)
		return err
	}
	_, _ = fmt.Fprintf(out, "PASS navigate %s\n", url)

	if text, err := page.BodyText(ctx); err == nil {
		_, _ = fmt.Fprintf(out, "PASS page text: %d characters\n", len(text))
	} else {
		_, _ = fmt.Fprintf(out, "FAIL page text: %v\n", err)
	}

	sel := cfg.Selectors
	probes := []struct {
		name     string
		selector string
	}{
		{"book button", sel.BookButton},
		{"seat map", sel.SeatMap},
		{"zone elements", sel.ZoneElements},
		{"zone canvas", sel.ZoneCanvas},
		{"cart", sel.CartContainer},
	}
	for _, pr := range probes {
		n, err := page.Count(ctx, pr.selector)
		if err != nil {
			_, _ = fmt.Fprintf(out, "FAIL %s: %v\n", pr.name, err)
			continue
		}
		_, _ = fmt.Fprintf(out, "INFO %s: %d match(es)\n", pr.name, n)
	}
	return nil
}
