package selection

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/copyleftdev/tixrush/internal/config"
	"github.com/copyleftdev/tixrush/internal/dom"
	"github.com/copyleftdev/tixrush/internal/taskstypes"
	"go.uber.org/zap"
	"golang.org/x/text/unicode/norm"
)

var (
	// English and Vietnamese zone vocabulary.
	zoneLexicon = regexp.MustCompile(`(?i)\b(zone|section|area|block|stand|khu|vùng|hạng)\b`)
	// Order summary markers: total amount in either language.
	totalMarker = regexp.MustCompile(`(?i)(total|tổng\s*(cộng|tiền)|thành\s*tiền)`)
	// Seat/row-like lines for the cart fallback scan.
	seatLine = regexp.MustCompile(`(?i)(\b(seat|row|zone|section|khu)\b|ghế|hàng|vé)`)
)

const (
	maxZoneNameLen = 80
	maxSeatLineLen = 120
	maxSeatLines   = 20
)

// Heuristics holds the stateless selection strategies and the knobs they
// read. One value is built per session.
type Heuristics struct {
	Selectors config.SelectorConfig
	Limits    Limits
	Delays    Delays
	Sampler   Sampler
	Logger    *zap.Logger
}

func New(cfg *config.Config, sampler Sampler, logger *zap.Logger) *Heuristics {
	return &Heuristics{
		Selectors: cfg.Selectors,
		Limits:    LimitsFromConfig(cfg.Limits),
		Delays:    DelaysFromConfig(cfg.Timing),
		Sampler:   sampler,
		Logger:    logger,
	}
}

// SelectZone picks a zone from a canvas map, else from discrete zone
// elements. It returns after a confirmation signal, after the canvas attempt
// bound, or on a fault; the outcome kind tells these apart.
func (h *Heuristics) SelectZone(ctx context.Context, p Page) (outcome taskstypes.ZoneOutcome) {
	defer func() {
		if r := recover(); r != nil {
			h.Logger.Error("zone selection panicked", zap.Any("panic", r))
			outcome = taskstypes.ZoneOutcome{Kind: taskstypes.ZoneFailed}
		}
	}()

	box, ok, err := h.canvasBox(ctx, p, h.Selectors.ZoneCanvas)
	if err != nil {
		h.Logger.Debug("zone canvas lookup failed", zap.Error(err))
		return taskstypes.ZoneOutcome{Kind: taskstypes.ZoneFailed}
	}
	if ok {
		return h.selectZoneOnCanvas(ctx, p, box)
	}
	return h.selectZoneElement(ctx, p)
}

func (h *Heuristics) selectZoneOnCanvas(ctx context.Context, p Page, box taskstypes.Rect) taskstypes.ZoneOutcome {
	for attempt := 1; attempt <= h.Limits.ZoneCanvasAttempts; attempt++ {
		x, y := samplePoint(box, zoneRegion, h.Sampler)
		if err := p.ClickAt(ctx, x, y); err != nil {
			h.Logger.Debug("zone canvas click failed", zap.Int("attempt", attempt), zap.Error(err))
		}
		if err := dom.Pause(ctx, h.Delays.ZoneClickSettle); err != nil {
			return taskstypes.ZoneOutcome{Kind: taskstypes.ZoneFailed}
		}

		if h.zoneConfirmed(ctx, p) {
			h.Logger.Debug("zone confirmed on canvas", zap.Int("attempt", attempt))
			if err := dom.Pause(ctx, h.Delays.ZoneSettle); err != nil {
				return taskstypes.ZoneOutcome{Kind: taskstypes.ZoneFailed}
			}
			return taskstypes.ZoneOutcome{Kind: taskstypes.ZoneFound, Name: h.extractZoneName(ctx, p)}
		}
	}
	h.Logger.Info("no zone confirmed on canvas", zap.Int("attempts", h.Limits.ZoneCanvasAttempts))
	return taskstypes.ZoneOutcome{Kind: taskstypes.ZoneTimedOut}
}

func (h *Heuristics) selectZoneElement(ctx context.Context, p Page) taskstypes.ZoneOutcome {
	n, err := p.Count(ctx, h.Selectors.ZoneElements)
	if err != nil {
		h.Logger.Debug("zone element lookup failed", zap.Error(err))
		return taskstypes.ZoneOutcome{Kind: taskstypes.ZoneFailed}
	}
	if n == 0 {
		return taskstypes.ZoneOutcome{Kind: taskstypes.ZoneNotPresent}
	}

	pick := h.Sampler.IntN(n)
	if err := p.ClickNth(ctx, h.Selectors.ZoneElements, pick); err != nil {
		h.Logger.Debug("zone element click failed", zap.Int("index", pick), zap.Error(err))
		return taskstypes.ZoneOutcome{Kind: taskstypes.ZoneFailed}
	}
	if err := dom.Pause(ctx, h.Delays.ZoneSettle); err != nil {
		return taskstypes.ZoneOutcome{Kind: taskstypes.ZoneFailed}
	}
	return taskstypes.ZoneOutcome{Kind: taskstypes.ZoneFound, Name: h.extractZoneName(ctx, p)}
}

// zoneConfirmed tests for a visible dialog or a zone-tagged overlay.
func (h *Heuristics) zoneConfirmed(ctx context.Context, p Page) bool {
	if visible, err := p.Visible(ctx, h.Selectors.ZoneDialog); err == nil && visible {
		return true
	}
	exists, err := p.Exists(ctx, h.Selectors.ZoneOverlay)
	return err == nil && exists
}

// extractZoneName tries the precise selector, then lexicon-matching headings,
// then the open dialog's header. Empty means no label could be read.
func (h *Heuristics) extractZoneName(ctx context.Context, p Page) string {
	extractors := []func(context.Context, Page) string{
		h.zoneNameFromSelector,
		h.zoneNameFromHeadings,
		h.zoneNameFromDialog,
	}
	for _, extract := range extractors {
		if name := extract(ctx, p); name != "" {
			return name
		}
	}
	return ""
}

func (h *Heuristics) zoneNameFromSelector(ctx context.Context, p Page) string {
	text, err := p.Text(ctx, h.Selectors.ZoneName)
	if err != nil {
		return ""
	}
	return cleanZoneName(text)
}

func (h *Heuristics) zoneNameFromHeadings(ctx context.Context, p Page) string {
	texts, err := p.Texts(ctx, h.Selectors.ZoneHeadings)
	if err != nil {
		return ""
	}
	for _, text := range texts {
		name := cleanZoneName(text)
		if name != "" && zoneLexicon.MatchString(name) {
			return name
		}
	}
	return ""
}

func (h *Heuristics) zoneNameFromDialog(ctx context.Context, p Page) string {
	text, err := p.Text(ctx, h.Selectors.DialogHeader)
	if err != nil {
		return ""
	}
	return cleanZoneName(text)
}

// cleanZoneName keeps the first non-empty line, rejecting oversized blobs.
func cleanZoneName(text string) string {
	line := firstLine(text)
	if len(line) > maxZoneNameLen {
		return ""
	}
	return line
}

func firstLine(text string) string {
	for _, line := range strings.Split(norm.NFC.String(text), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			return line
		}
	}
	return ""
}

// SelectSeats runs the seat strategies in strict order and returns the first
// non-empty result. An empty result means every strategy found nothing.
func (h *Heuristics) SelectSeats(ctx context.Context, p Page) (seats []string) {
	defer func() {
		if r := recover(); r != nil {
			h.Logger.Error("seat selection panicked", zap.Any("panic", r))
			seats = nil
		}
	}()

	strategies := []struct {
		name string
		run  func(context.Context, Page) []string
	}{
		{"canvas", h.seatsFromCanvas},
		{"elements", h.seatsFromElements},
		{"quantity", h.seatsFromQuantity},
	}
	for _, s := range strategies {
		if ctx.Err() != nil {
			return nil
		}
		if got := s.run(ctx, p); len(got) > 0 {
			if len(got) > h.Limits.MaxSeats {
				got = got[:h.Limits.MaxSeats]
			}
			h.Logger.Info("seats selected", zap.String("strategy", s.name), zap.Strings("seats", got))
			return got
		}
	}
	h.Logger.Info("no seats selected by any strategy")
	return nil
}

// seatsFromCanvas clicks random points of the seat map and collects the
// distinct tooltip labels that appear.
func (h *Heuristics) seatsFromCanvas(ctx context.Context, p Page) []string {
	box, ok, err := h.canvasBox(ctx, p, h.Selectors.SeatCanvas)
	if err != nil || !ok {
		return nil
	}

	var seats []string
	seen := make(map[string]bool)
	for attempt := 1; attempt <= h.Limits.SeatCanvasAttempts && len(seats) < h.Limits.MaxSeats; attempt++ {
		x, y := samplePoint(box, seatRegion, h.Sampler)
		if err := p.ClickAt(ctx, x, y); err != nil {
			continue
		}
		if err := dom.Pause(ctx, h.Delays.SeatCanvasSettle); err != nil {
			break
		}
		text, err := p.Text(ctx, h.Selectors.SeatTooltip)
		if err != nil {
			continue
		}
		label := firstLine(text)
		if label == "" || seen[label] {
			continue
		}
		seen[label] = true
		seats = append(seats, label)
	}
	return seats
}

// seatsFromElements clicks discrete available seats, labelling each by
// position. Matches are resolved once: a clicked seat usually drops out of
// the "available" selector.
func (h *Heuristics) seatsFromElements(ctx context.Context, p Page) []string {
	for _, selector := range h.Selectors.SeatElements {
		refs, err := p.Resolve(ctx, selector)
		if err != nil || len(refs) == 0 {
			continue
		}

		want := min(len(refs), h.Limits.MaxSeats)
		var seats []string
		for i, ref := range refs[:want] {
			if err := p.ClickNode(ctx, ref); err != nil {
				h.Logger.Debug("seat click failed", zap.String("selector", selector), zap.Int("index", i), zap.Error(err))
				continue
			}
			seats = append(seats, fmt.Sprintf("Seat %d", i+1))
			if err := dom.Pause(ctx, h.Delays.SeatClickSettle); err != nil {
				break
			}
		}
		return seats
	}
	return nil
}

// seatsFromQuantity sets the first quantity input to the seat cap.
func (h *Heuristics) seatsFromQuantity(ctx context.Context, p Page) []string {
	for _, selector := range h.Selectors.QuantityInput {
		exists, err := p.Exists(ctx, selector)
		if err != nil || !exists {
			continue
		}
		if err := p.ClearAndType(ctx, selector, strconv.Itoa(h.Limits.MaxSeats)); err != nil {
			h.Logger.Debug("quantity input failed", zap.String("selector", selector), zap.Error(err))
			continue
		}
		return []string{fmt.Sprintf("Quantity: %d", h.Limits.MaxSeats)}
	}
	return nil
}

// canvasBox reports the bounding box of a rendered canvas, if any.
func (h *Heuristics) canvasBox(ctx context.Context, p Page, selector string) (taskstypes.Rect, bool, error) {
	exists, err := p.Exists(ctx, selector)
	if err != nil || !exists {
		return taskstypes.Rect{}, false, err
	}
	box, err := p.BoundingBox(ctx, selector)
	if err != nil {
		return taskstypes.Rect{}, false, err
	}
	return box, !box.Empty(), nil
}

// ExtractTicketDetails waits for the order summary and reads ticket ids and
// a detail block. Failures produce the fixed failure payload.
func (h *Heuristics) ExtractTicketDetails(ctx context.Context, p Page) (result taskstypes.TicketResult) {
	defer func() {
		if r := recover(); r != nil {
			h.Logger.Error("ticket detail extraction panicked", zap.Any("panic", r))
			result = taskstypes.FailedTicketResult()
		}
	}()

	if err := h.waitForSummary(ctx, p); err != nil {
		h.Logger.Warn("order summary did not appear", zap.Error(err))
		return taskstypes.FailedTicketResult()
	}

	ids, err := p.Texts(ctx, h.Selectors.TicketIDs)
	if err != nil {
		return taskstypes.FailedTicketResult()
	}
	ids = nonEmpty(ids)

	details, err := p.Text(ctx, h.Selectors.CartContainer)
	if err != nil {
		return taskstypes.FailedTicketResult()
	}
	details = strings.TrimSpace(details)
	if details == "" {
		details = h.scanSeatLines(ctx, p)
	}
	return taskstypes.NewTicketResult(ids, details)
}

func (h *Heuristics) waitForSummary(ctx context.Context, p Page) error {
	ctx, cancel := context.WithTimeout(ctx, h.Delays.DetailsTimeout)
	defer cancel()

	poll := h.Delays.DetailsPoll
	if poll <= 0 {
		poll = time.Millisecond
	}
	for {
		if exists, err := p.Exists(ctx, h.Selectors.CartContainer); err == nil && exists {
			return nil
		}
		if text, err := p.BodyText(ctx); err == nil && totalMarker.MatchString(text) {
			return nil
		}
		if err := dom.Pause(ctx, poll); err != nil {
			return err
		}
	}
}

// scanSeatLines falls back to seat/row-like lines anywhere on the page.
func (h *Heuristics) scanSeatLines(ctx context.Context, p Page) string {
	doc, err := p.HTML(ctx)
	if err != nil {
		return taskstypes.CheckCartManually
	}
	lines, err := dom.VisibleTextLines(doc)
	if err != nil {
		return taskstypes.CheckCartManually
	}

	var matched []string
	for _, line := range lines {
		// Decomposed Vietnamese diacritics would miss the lexicon.
		line = norm.NFC.String(line)
		if len(line) <= maxSeatLineLen && seatLine.MatchString(line) {
			matched = append(matched, line)
			if len(matched) == maxSeatLines {
				break
			}
		}
	}
	if len(matched) == 0 {
		return taskstypes.CheckCartManually
	}
	return strings.Join(matched, "\n")
}

func nonEmpty(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
