// Package monitor runs the per-account lifecycle: prepare a session, poll
// until booking opens, acquire, then hold the cart for manual payment.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"time"

	"github.com/copyleftdev/tixrush/internal/booking"
	"github.com/copyleftdev/tixrush/internal/config"
	"github.com/copyleftdev/tixrush/internal/dom"
	"github.com/copyleftdev/tixrush/internal/selection"
	"github.com/copyleftdev/tixrush/internal/taskstypes"
	"go.uber.org/zap"
)

// ErrDeadlinePassed is returned when acquisition finished after the task's
// deadline had already fired. No notification is sent.
var ErrDeadlinePassed = errors.New("task deadline passed before acquisition finished")

// Progress is reported on every status change.
type Progress struct {
	Status   taskstypes.TaskStatus
	Zone     string
	Seats    int
	TicketID string
	Err      error
}

type Option func(*Task)

// WithSampler replaces the random source used by the selection heuristics.
func WithSampler(s selection.Sampler) Option {
	return func(t *Task) { t.sampler = s }
}

// WithProgress registers a callback for status changes.
func WithProgress(fn func(Progress)) Option {
	return func(t *Task) { t.onProgress = fn }
}

// WithDeadlineRelease registers the call that lifts the task's deadline once
// acquisition has finished, so the hold runs for its full duration. A false
// result means the deadline fired first.
func WithDeadlineRelease(release func() bool) Option {
	return func(t *Task) { t.release = release }
}

type Task struct {
	item       taskstypes.WorkItem
	cfg        *config.Config
	sessions   SessionFactory
	notifier   Notifier
	sampler    selection.Sampler
	logger     *zap.Logger
	onProgress func(Progress)
	release    func() bool

	progress Progress
	notified bool
}

func New(item taskstypes.WorkItem, cfg *config.Config, sessions SessionFactory, notifier Notifier, logger *zap.Logger, opts ...Option) *Task {
	t := &Task{
		item:     item,
		cfg:      cfg,
		sessions: sessions,
		notifier: notifier,
		logger:   logger.With(zap.String("account", item.Account.Email), zap.String("proxy", item.Proxy.Display())),
		progress: Progress{Status: taskstypes.StatusPending},
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.sampler == nil {
		h := fnv.New64a()
		_, _ = h.Write([]byte(item.Account.Email))
		t.sampler = selection.NewRandomSampler(uint64(time.Now().UnixNano()) ^ h.Sum64())
	}
	return t
}

// Status returns the latest reported status.
func (t *Task) Status() taskstypes.TaskStatus {
	return t.progress.Status
}

func (t *Task) report(status taskstypes.TaskStatus) {
	t.progress.Status = status
	t.logger.Debug("task status", zap.String("status", string(status)))
	if t.onProgress != nil {
		t.onProgress(t.progress)
	}
}

// Run drives the task to completion. It returns nil after a successful hold,
// the task's error after sending an error notification, or the context's
// error without notifying when the task was cancelled from outside.
func (t *Task) Run(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = t.fail(ctx, fmt.Errorf("unexpected panic: %v", r))
		}
	}()

	t.report(taskstypes.StatusStarting)
	t.logger.Info("starting monitor task")

	sess, err := t.sessions.NewSession(ctx, t.item.Proxy)
	if err != nil {
		return t.fail(ctx, fmt.Errorf("open session: %w", err))
	}
	defer func() {
		if cerr := sess.Close(); cerr != nil {
			t.logger.Debug("session close failed", zap.Error(cerr))
		}
	}()

	if err := sess.BlockResources(ctx); err != nil {
		t.logger.Warn("resource blocking not enabled", zap.Error(err))
	}

	t.report(taskstypes.StatusApplyingCookies)
	if _, err := ApplyCookies(ctx, sess, t.item.Account.Cookies, t.cfg.Target.AuthCookie, t.logger); err != nil {
		return t.fail(ctx, fmt.Errorf("apply cookies: %w", err))
	}

	t.report(taskstypes.StatusNavigating)
	if err := sess.Navigate(ctx, t.cfg.Target.URL, t.cfg.Timing.NavigationTimeout); err != nil {
		return t.fail(ctx, fmt.Errorf("navigate to %s: %w", t.cfg.Target.URL, err))
	}

	heur := selection.New(t.cfg, t.sampler, t.logger)
	handler := booking.NewHandler(sess, heur, t.cfg.Selectors, booking.TimingFromConfig(t.cfg.Timing), t.logger)

	t.report(taskstypes.StatusPolling)
	if err := t.poll(ctx, handler); err != nil {
		return err
	}

	t.report(taskstypes.StatusAcquiring)
	if err := t.acquire(ctx, handler); err != nil {
		t.logger.Info("acquisition abandoned", zap.Error(err))
		return err
	}

	t.report(taskstypes.StatusHolding)
	t.logger.Info("holding session for manual payment", zap.Duration("hold", t.cfg.Timing.HoldDuration))
	if err := dom.Pause(ctx, t.cfg.Timing.HoldDuration); err != nil {
		t.logger.Info("hold ended early", zap.Error(err))
	}

	t.report(taskstypes.StatusFinished)
	return nil
}

// poll retries the book button until it is clicked. It has no iteration
// bound and only stops when ctx does.
func (t *Task) poll(ctx context.Context, handler *booking.Handler) error {
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if handler.ClickBookButton(ctx) {
			t.logger.Info("booking is open", zap.Int("attempts", attempt))
			return nil
		}
		t.logger.Debug("booking not open yet", zap.Int("attempt", attempt))
		if err := dom.Pause(ctx, t.cfg.Timing.PollInterval); err != nil {
			return err
		}
	}
}

// acquire runs every step once in order, whatever the earlier steps returned.
// It only fails when ctx ended first, in which case nothing is sent.
func (t *Task) acquire(ctx context.Context, handler *booking.Handler) error {
	zone := handler.SelectZone(ctx)
	seats := handler.SelectSeats(ctx)
	if len(seats) == 0 {
		t.logger.Warn("no seats selected, acquisition incomplete")
	}
	confirmed := handler.ConfirmBooking(ctx)
	ticket := handler.ExtractTicketDetails(ctx)

	t.progress.Zone = zone.Label()
	t.progress.Seats = len(seats)
	t.progress.TicketID = ticket.FirstID
	t.logger.Info("acquisition finished",
		zap.String("zone", zone.Label()),
		zap.Int("seats", len(seats)),
		zap.Bool("confirmed", confirmed),
		zap.String("ticket", ticket.FirstID),
	)

	if err := ctx.Err(); err != nil {
		return err
	}
	if t.release != nil && !t.release() {
		return ErrDeadlinePassed
	}
	t.notified = true
	t.notifier.NotifySuccess(taskstypes.SuccessEvent(t.item.Account.Email, zone.Label(), len(seats), ticket, t.item.Proxy))
	return nil
}

// fail moves the task to errored and sends its one error notification.
// When ctx is already done the failure belongs to whoever cancelled it.
func (t *Task) fail(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		t.logger.Info("task cancelled", zap.Error(err))
		return fmt.Errorf("%w: %w", ctxErr, err)
	}

	t.progress.Err = err
	t.report(taskstypes.StatusErrored)
	t.logger.Error("monitor task failed", zap.Error(err))
	if !t.notified {
		t.notified = true
		t.notifier.NotifyError(t.item.Account.Email, err.Error())
	}
	return err
}
