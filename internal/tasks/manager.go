// Package tasks turns the stored accounts into a queue of monitor tasks and
// runs them in parallel, one browser per account.
package tasks

import (
	"context"
	"errors"
	"fmt"

	"github.com/copyleftdev/tixrush/internal/config"
	"github.com/copyleftdev/tixrush/internal/monitor"
	"github.com/copyleftdev/tixrush/internal/notify"
	"github.com/copyleftdev/tixrush/internal/store"
	"github.com/copyleftdev/tixrush/internal/taskstypes"
	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

var ErrNoValidAccounts = errors.New("no valid accounts to monitor")

// AccountSource supplies the stored accounts.
type AccountSource interface {
	LoadAccounts(ctx context.Context) ([]taskstypes.Account, error)
}

type Manager struct {
	cfg      *config.Config
	accounts AccountSource
	sessions monitor.SessionFactory
	sink     notify.Sink
	logger   *zap.Logger
	registry *Registry
	taskOpts []monitor.Option
}

type ManagerOption func(*Manager)

// WithTaskOptions passes extra options to every monitor task.
func WithTaskOptions(opts ...monitor.Option) ManagerOption {
	return func(m *Manager) { m.taskOpts = append(m.taskOpts, opts...) }
}

func NewManager(cfg *config.Config, accounts AccountSource, sessions monitor.SessionFactory, sink notify.Sink, logger *zap.Logger, opts ...ManagerOption) *Manager {
	m := &Manager{
		cfg:      cfg,
		accounts: accounts,
		sessions: sessions,
		sink:     sink,
		logger:   logger.Named("orchestrator"),
		registry: NewRegistry(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// GetTaskStatus returns a copy of one task record.
func (m *Manager) GetTaskStatus(id uuid.UUID) (TaskRecord, error) {
	return m.registry.Get(id)
}

// ListTasks returns copies of every task record.
func (m *Manager) ListTasks() []TaskRecord {
	return m.registry.List()
}

// Run loads and filters accounts, sends the start notification and blocks
// until every task has finished or timed out. Only pre-flight failures are
// returned; task failures are reported per account.
func (m *Manager) Run(ctx context.Context) error {
	if err := m.cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	loaded, err := m.accounts.LoadAccounts(ctx)
	if err != nil {
		return fmt.Errorf("load accounts: %w", err)
	}
	valid := FilterAccounts(loaded, m.cfg.Target.AuthCookie, m.logger)
	if len(valid) == 0 {
		return ErrNoValidAccounts
	}

	proxies := ParseProxies(m.cfg.Proxies, m.logger)
	queue := BuildQueue(valid, proxies)

	m.logger.Info("starting monitor tasks",
		zap.Int("accounts", len(queue)),
		zap.Int("proxies", len(proxies)),
		zap.Duration("task_timeout", m.cfg.Timing.TaskTimeout),
	)
	m.sink.NotifyStart(len(queue))

	jobs := make([]Job, 0, len(queue))
	for _, item := range queue {
		jobs = append(jobs, m.newJob(item))
	}

	pool := NewPool(len(jobs), m.cfg.Timing.TaskTimeout, m.logger)
	poolErr := pool.Run(ctx, jobs, m.recordResult)

	failed := multierr.Errors(poolErr)
	m.logger.Info("all monitor tasks finished",
		zap.Int("tasks", len(jobs)),
		zap.Int("failed", len(failed)),
	)
	for _, err := range failed {
		m.logger.Debug("task failure", zap.Error(err))
	}
	return nil
}

func (m *Manager) newJob(item taskstypes.WorkItem) Job {
	id := m.registry.Add(item)
	opts := append([]monitor.Option{
		monitor.WithProgress(func(p monitor.Progress) {
			m.registry.Update(id, func(rec *TaskRecord) {
				rec.Status = p.Status
				rec.Zone = p.Zone
				rec.Seats = p.Seats
				rec.TicketID = p.TicketID
				if p.Err != nil {
					rec.Error = p.Err.Error()
				}
			})
		}),
	}, m.taskOpts...)

	run := func(ctx context.Context, release func() bool) error {
		task := monitor.New(item, m.cfg, m.sessions, m.sink, m.logger, append(opts[:len(opts):len(opts)], monitor.WithDeadlineRelease(release))...)
		return task.Run(ctx)
	}
	return Job{ID: id, Name: item.Account.Email, Run: run}
}

func (m *Manager) recordResult(job Job, err error) {
	if err == nil {
		return
	}
	m.registry.Update(job.ID, func(rec *TaskRecord) {
		rec.Error = err.Error()
		if errors.Is(err, ErrTaskTimeout) {
			rec.Status = taskstypes.StatusTimedOut
		}
	})
	if errors.Is(err, ErrTaskTimeout) {
		m.logger.Warn("task timed out", zap.String("account", job.Name))
	}
}

// FilterAccounts keeps accounts with an email-like identifier and the
// authentication cookie, warning with the number discarded.
func FilterAccounts(accounts []taskstypes.Account, authCookie string, logger *zap.Logger) []taskstypes.Account {
	valid := make([]taskstypes.Account, 0, len(accounts))
	for _, a := range accounts {
		if !store.IsEmailLike(a.Email) {
			logger.Debug("skipping account without email identifier", zap.String("account", a.Email))
			continue
		}
		if err := store.ValidateAccount(a, authCookie); err != nil {
			logger.Debug("skipping account", zap.Error(err))
			continue
		}
		valid = append(valid, a)
	}
	if dropped := len(accounts) - len(valid); dropped > 0 {
		logger.Warn("discarded invalid accounts",
			zap.Int("invalid", dropped),
			zap.Int("valid", len(valid)),
			zap.String("auth_cookie", authCookie),
		)
	}
	return valid
}

// ParseProxies parses the configured proxy list, dropping malformed entries.
func ParseProxies(raw []string, logger *zap.Logger) []*taskstypes.Proxy {
	proxies := make([]*taskstypes.Proxy, 0, len(raw))
	for _, r := range raw {
		p, err := taskstypes.ParseProxy(r)
		if err != nil {
			logger.Warn("ignoring malformed proxy", zap.Error(err))
			continue
		}
		proxies = append(proxies, p)
	}
	return proxies
}

// BuildQueue produces one work item per account, assigning proxies
// round-robin. With no proxies every item runs direct.
func BuildQueue(accounts []taskstypes.Account, proxies []*taskstypes.Proxy) []taskstypes.WorkItem {
	queue := make([]taskstypes.WorkItem, 0, len(accounts))
	for i, a := range accounts {
		item := taskstypes.WorkItem{Account: a}
		if len(proxies) > 0 {
			item.Proxy = proxies[i%len(proxies)]
		}
		queue = append(queue, item)
	}
	return queue
}
