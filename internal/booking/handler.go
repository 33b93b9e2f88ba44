// Package booking sequences one session through the booking flow:
// click book, select zone, select seats, confirm, read the cart.
//
// Handler methods never return errors. Every failure is folded into the
// return value (false, a sentinel zone, an empty seat list or the failure
// ticket payload) so the caller can treat each step uniformly.
package booking

import (
	"context"
	"time"

	"github.com/copyleftdev/tixrush/internal/config"
	"github.com/copyleftdev/tixrush/internal/dom"
	"github.com/copyleftdev/tixrush/internal/selection"
	"github.com/copyleftdev/tixrush/internal/taskstypes"
	"go.uber.org/zap"
)

type State int

const (
	StateIdle State = iota
	StateAwaitingButton
	StateZoneSelection
	StateSeatSelection
	StateConfirming
	StateExtractingDetails
	StateDone
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingButton:
		return "awaiting_button"
	case StateZoneSelection:
		return "zone_selection"
	case StateSeatSelection:
		return "seat_selection"
	case StateConfirming:
		return "confirming"
	case StateExtractingDetails:
		return "extracting_details"
	case StateDone:
		return "done"
	default:
		return "unknown"
	}
}

// Timing holds the handler's own waits; selection delays live in the heuristics.
type Timing struct {
	BookButton        time.Duration
	SeatMap           time.Duration
	ConfirmSettle     time.Duration
	ConfirmAfterClick time.Duration
}

func TimingFromConfig(t config.TimingConfig) Timing {
	return Timing{
		BookButton:        t.BookButtonTimeout,
		SeatMap:           t.SeatMapTimeout,
		ConfirmSettle:     t.ConfirmSettle,
		ConfirmAfterClick: t.ConfirmAfterClick,
	}
}

type Handler struct {
	page      selection.Page
	heur      *selection.Heuristics
	selectors config.SelectorConfig
	timing    Timing
	logger    *zap.Logger
	state     State
}

func NewHandler(page selection.Page, heur *selection.Heuristics, selectors config.SelectorConfig, timing Timing, logger *zap.Logger) *Handler {
	return &Handler{
		page:      page,
		heur:      heur,
		selectors: selectors,
		timing:    timing,
		logger:    logger,
		state:     StateIdle,
	}
}

// State returns the furthest step reached.
func (h *Handler) State() State {
	return h.state
}

// advance moves forward only; calling an earlier step again does not rewind.
func (h *Handler) advance(to State) {
	if to > h.state {
		h.logger.Debug("booking state", zap.Stringer("from", h.state), zap.Stringer("to", to))
		h.state = to
	}
}

func (h *Handler) recoverStep(step string) {
	if r := recover(); r != nil {
		h.logger.Error("booking step panicked", zap.String("step", step), zap.Any("panic", r))
	}
}

// ClickBookButton reports whether the book control appeared and was clicked.
// A false result means "not yet available".
func (h *Handler) ClickBookButton(ctx context.Context) (available bool) {
	defer h.recoverStep("book_button")
	h.advance(StateAwaitingButton)

	if err := h.page.WaitVisible(ctx, h.selectors.BookButton, h.timing.BookButton); err != nil {
		h.logger.Debug("book button not available", zap.Error(err))
		return false
	}
	if err := h.page.Click(ctx, h.selectors.BookButton); err != nil {
		h.logger.Debug("book button click failed", zap.Error(err))
		return false
	}

	if err := h.page.WaitVisible(ctx, h.selectors.SeatMap, h.timing.SeatMap); err != nil {
		h.logger.Debug("seat map not visible after booking click, continuing", zap.Error(err))
	}
	return true
}

func (h *Handler) SelectZone(ctx context.Context) (outcome taskstypes.ZoneOutcome) {
	outcome = taskstypes.ZoneOutcome{Kind: taskstypes.ZoneFailed}
	defer h.recoverStep("zone")
	h.advance(StateZoneSelection)

	outcome = h.heur.SelectZone(ctx, h.page)
	h.logger.Info("zone selection finished", zap.String("zone", outcome.Label()))
	return outcome
}

func (h *Handler) SelectSeats(ctx context.Context) (seats []string) {
	defer h.recoverStep("seats")
	h.advance(StateSeatSelection)

	return h.heur.SelectSeats(ctx, h.page)
}

// ConfirmBooking clicks the confirm/checkout control when present.
func (h *Handler) ConfirmBooking(ctx context.Context) (confirmed bool) {
	defer h.recoverStep("confirm")
	h.advance(StateConfirming)

	if err := dom.Pause(ctx, h.timing.ConfirmSettle); err != nil {
		return false
	}
	exists, err := h.page.Exists(ctx, h.selectors.Confirm)
	if err != nil || !exists {
		h.logger.Info("no confirm control found")
		return false
	}
	if err := h.page.Click(ctx, h.selectors.Confirm); err != nil {
		h.logger.Warn("confirm click failed", zap.Error(err))
		return false
	}
	if err := dom.Pause(ctx, h.timing.ConfirmAfterClick); err != nil {
		return false
	}
	return true
}

func (h *Handler) ExtractTicketDetails(ctx context.Context) (result taskstypes.TicketResult) {
	result = taskstypes.FailedTicketResult()
	defer h.recoverStep("details")
	h.advance(StateExtractingDetails)

	result = h.heur.ExtractTicketDetails(ctx, h.page)
	h.advance(StateDone)
	return result
}
