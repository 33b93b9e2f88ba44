package main

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/copyleftdev/tixrush/internal/store"
	"github.com/copyleftdev/tixrush/internal/taskstypes"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

func newAccountsCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "accounts",
		Short: "List stored accounts and whether they can be monitored",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := root.load()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			fs, err := store.NewFileStore(cfg.Accounts.File)
			if err != nil {
				return err
			}
			accounts, err := fs.LoadAccounts(cmd.Context())
			if err != nil {
				return err
			}
			return writeAccounts(cmd.OutOrStdout(), accounts, cfg.Target.AuthCookie, time.Now())
		},
	}
}

// writeAccounts prints one row per account with its validity and the
// expiry of its authentication cookie.
func writeAccounts(out io.Writer, accounts []taskstypes.Account, authCookie string, now time.Time) error {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "EMAIL\tVALID\tCOOKIES\tAUTH EXPIRES")
	valid := 0
	for _, a := range accounts {
		status := "yes"
		switch {
		case !store.IsEmailLike(a.Email):
			status = "no (identifier)"
		case store.ValidateAccount(a, authCookie) != nil:
			status = "no (" + authCookie + " missing)"
		default:
			valid++
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", a.Email, status, len(a.Cookies), authExpiry(a, authCookie, now))
	}
	if err := w.Flush(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(out, "%d of %d accounts valid\n", valid, len(accounts))
	return err
}

func authExpiry(a taskstypes.Account, authCookie string, now time.Time) string {
	for _, c := range a.Cookies {
		if c.Name != authCookie {
			continue
		}
		if c.Expires <= 0 {
			return "session"
		}
		exp := time.Unix(int64(c.Expires), 0)
		if !exp.After(now) {
			return "expired " + humanize.RelTime(exp, now, "ago", "from now")
		}
		return humanize.RelTime(exp, now, "ago", "from now")
	}
	return "-"
}
