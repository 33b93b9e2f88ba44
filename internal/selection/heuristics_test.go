package selection_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/copyleftdev/tixrush/internal/config"
	"github.com/copyleftdev/tixrush/internal/mocks"
	"github.com/copyleftdev/tixrush/internal/selection"
	"github.com/copyleftdev/tixrush/internal/taskstypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var testSelectors = config.SelectorConfig{
	BookButton:    "#book",
	SeatMap:       "#seat-map",
	ZoneCanvas:    "canvas.zones",
	ZoneElements:  ".zone",
	ZoneName:      ".zone-name",
	ZoneHeadings:  "h2",
	ZoneDialog:    "[role=dialog]",
	ZoneOverlay:   ".zone-overlay",
	DialogHeader:  ".modal-title",
	SeatCanvas:    "canvas.seats",
	SeatTooltip:   ".tooltip",
	SeatElements:  []string{".seat.available", "[data-available=true]"},
	QuantityInput: []string{"input.qty", "input[type=number]"},
	Confirm:       "#confirm",
	CartContainer: "#cart",
	TicketIDs:     ".ticket-id",
}

func newHeuristics(sampler selection.Sampler) *selection.Heuristics {
	return &selection.Heuristics{
		Selectors: testSelectors,
		Limits: selection.Limits{
			MaxSeats:           2,
			ZoneCanvasAttempts: 20,
			SeatCanvasAttempts: 10,
		},
		Delays: selection.Delays{
			DetailsTimeout: 50 * time.Millisecond,
			DetailsPoll:    5 * time.Millisecond,
		},
		Sampler: sampler,
		Logger:  zap.NewNop(),
	}
}

func TestNew_ReadsConfig(t *testing.T) {
	cfg := config.Default()
	h := selection.New(cfg, &mocks.SequenceSampler{}, zap.NewNop())

	assert.Equal(t, cfg.Limits.MaxSeats, h.Limits.MaxSeats)
	assert.Equal(t, cfg.Limits.SeatCanvasAttempts, h.Limits.SeatCanvasAttempts)
	assert.Equal(t, cfg.Timing.DetailsTimeout, h.Delays.DetailsTimeout)
	assert.Equal(t, cfg.Selectors.Confirm, h.Selectors.Confirm)
}

func TestSamplePoint_StaysInsideRegion(t *testing.T) {
	box := taskstypes.Rect{X: 100, Y: 50, Width: 1000, Height: 400}
	sampler := selection.NewRandomSampler(7)

	for i := 0; i < 500; i++ {
		x, y := selection.SamplePoint(box, selection.ZoneRegion, sampler)
		assert.GreaterOrEqual(t, x, 100+0.15*1000)
		assert.LessOrEqual(t, x, 100+0.85*1000)
		assert.GreaterOrEqual(t, y, 50+0.15*400)
		assert.LessOrEqual(t, y, 50+0.85*400)
	}

	x, y := selection.SamplePoint(box, selection.SeatRegion, &mocks.SequenceSampler{Floats: []float64{0, 0}})
	assert.InDelta(t, 300.0, x, 1e-9)
	assert.InDelta(t, 130.0, y, 1e-9)
}

func TestSelectZone_DiscreteElements(t *testing.T) {
	page := mocks.NewMockPage()
	page.SetElements(".zone", "A", "B", "C")
	page.OnClickNth = func(p *mocks.MockPage, selector string, index int) {
		p.SetText(".zone-name", "Zone B\nRows 1-10")
	}

	h := newHeuristics(&mocks.SequenceSampler{Ints: []int{1}})
	outcome := h.SelectZone(context.Background(), page)

	assert.Equal(t, taskstypes.ZoneFound, outcome.Kind)
	assert.Equal(t, "Zone B", outcome.Label())
	assert.Equal(t, []int{1}, page.NthClicks(".zone"))
	assert.Empty(t, page.PointClicks())
}

func TestSelectZone_CanvasWithoutConfirmationTimesOut(t *testing.T) {
	page := mocks.NewMockPage()
	box := taskstypes.Rect{X: 0, Y: 0, Width: 1000, Height: 500}
	page.SetBox("canvas.zones", box)

	h := newHeuristics(selection.NewRandomSampler(42))
	outcome := h.SelectZone(context.Background(), page)

	assert.Equal(t, taskstypes.ZoneTimedOut, outcome.Kind)
	assert.Equal(t, taskstypes.ZoneSelectionTimeout, outcome.Label())

	clicks := page.PointClicks()
	require.Len(t, clicks, 20)
	for _, c := range clicks {
		assert.GreaterOrEqual(t, c.X, 150.0)
		assert.LessOrEqual(t, c.X, 850.0)
		assert.GreaterOrEqual(t, c.Y, 75.0)
		assert.LessOrEqual(t, c.Y, 425.0)
	}
}

func TestSelectZone_CanvasConfirmedByDialog(t *testing.T) {
	page := mocks.NewMockPage()
	page.SetBox("canvas.zones", taskstypes.Rect{Width: 800, Height: 600})
	clicks := 0
	page.OnClickAt = func(p *mocks.MockPage, x, y float64) {
		clicks++
		if clicks == 3 {
			p.SetVisible("[role=dialog]", true)
			p.SetText(".modal-title", "Khu VIP A")
		}
	}

	h := newHeuristics(&mocks.SequenceSampler{})
	outcome := h.SelectZone(context.Background(), page)

	assert.Equal(t, taskstypes.ZoneFound, outcome.Kind)
	assert.Equal(t, "Khu VIP A", outcome.Name)
	assert.Len(t, page.PointClicks(), 3)
}

func TestSelectZone_CanvasConfirmedByOverlayWithoutLabel(t *testing.T) {
	page := mocks.NewMockPage()
	page.SetBox("canvas.zones", taskstypes.Rect{Width: 800, Height: 600})
	page.OnClickAt = func(p *mocks.MockPage, x, y float64) {
		p.SetPresent(".zone-overlay", true)
	}

	h := newHeuristics(&mocks.SequenceSampler{})
	outcome := h.SelectZone(context.Background(), page)

	assert.Equal(t, taskstypes.ZoneFound, outcome.Kind)
	assert.Equal(t, taskstypes.ZoneSelected, outcome.Label())
	assert.Len(t, page.PointClicks(), 1)
}

func TestSelectZone_NameFromLexiconHeading(t *testing.T) {
	page := mocks.NewMockPage()
	page.SetElements(".zone", "only")
	page.SetElements("h2", "Summer Festival 2025", "Section 104")

	h := newHeuristics(&mocks.SequenceSampler{})
	outcome := h.SelectZone(context.Background(), page)

	assert.Equal(t, "Section 104", outcome.Label())
}

func TestSelectZone_RejectsOversizedName(t *testing.T) {
	page := mocks.NewMockPage()
	page.SetElements(".zone", "only")
	page.SetText(".zone-name", "Zone "+strings.Repeat("x", 90))
	page.SetText(".modal-title", "Hạng B")

	h := newHeuristics(&mocks.SequenceSampler{})
	assert.Equal(t, "Hạng B", h.SelectZone(context.Background(), page).Label())
}

func TestSelectZone_NothingOnPage(t *testing.T) {
	h := newHeuristics(&mocks.SequenceSampler{})
	outcome := h.SelectZone(context.Background(), mocks.NewMockPage())

	assert.Equal(t, taskstypes.ZoneNotPresent, outcome.Kind)
	assert.Equal(t, taskstypes.ZoneDirect, outcome.Label())
}

func TestSelectZone_LookupFault(t *testing.T) {
	page := mocks.NewMockPage()
	page.SetError("canvas.zones", errors.New("target closed"))

	h := newHeuristics(&mocks.SequenceSampler{})
	outcome := h.SelectZone(context.Background(), page)

	assert.Equal(t, taskstypes.ZoneFailed, outcome.Kind)
	assert.Equal(t, taskstypes.ZoneUnknown, outcome.Label())
}

func TestSelectZone_PanicIsContained(t *testing.T) {
	page := mocks.NewMockPage()
	page.SetElements(".zone", "A")
	page.OnClickNth = func(p *mocks.MockPage, selector string, index int) {
		panic("boom")
	}

	h := newHeuristics(&mocks.SequenceSampler{})
	var outcome taskstypes.ZoneOutcome
	assert.NotPanics(t, func() { outcome = h.SelectZone(context.Background(), page) })
	assert.Equal(t, taskstypes.ZoneUnknown, outcome.Label())
}

func TestSelectSeats_CanvasCollectsDistinctTooltips(t *testing.T) {
	page := mocks.NewMockPage()
	page.SetBox("canvas.seats", taskstypes.Rect{Width: 600, Height: 600})
	labels := []string{"Row A Seat 1\nAvailable", "Row A Seat 1\nAvailable", "Row A Seat 2"}
	clicks := 0
	page.OnClickAt = func(p *mocks.MockPage, x, y float64) {
		p.SetText(".tooltip", labels[clicks%len(labels)])
		clicks++
	}
	// Elements exist too; the canvas strategy must win.
	page.SetElements(".seat.available", "s1", "s2")

	h := newHeuristics(&mocks.SequenceSampler{})
	seats := h.SelectSeats(context.Background(), page)

	assert.Equal(t, []string{"Row A Seat 1", "Row A Seat 2"}, seats)
	assert.Len(t, page.PointClicks(), 3)
	assert.Empty(t, page.NodeClicks())
}

func TestSelectSeats_CanvasBoundedByAttempts(t *testing.T) {
	page := mocks.NewMockPage()
	page.SetBox("canvas.seats", taskstypes.Rect{Width: 600, Height: 600})
	page.SetElements("[data-available=true]", "a")

	h := newHeuristics(&mocks.SequenceSampler{})
	seats := h.SelectSeats(context.Background(), page)

	assert.Len(t, page.PointClicks(), 10)
	assert.Equal(t, []string{"Seat 1"}, seats)
}

func TestSelectSeats_ElementsFirstMatchingSelectorCapped(t *testing.T) {
	page := mocks.NewMockPage()
	page.SetElements("[data-available=true]", "a", "b", "c", "d", "e")
	page.SetPresent("input[type=number]", true)

	h := newHeuristics(&mocks.SequenceSampler{})
	seats := h.SelectSeats(context.Background(), page)

	assert.Equal(t, []string{"Seat 1", "Seat 2"}, seats)
	assert.Equal(t, page.Nodes("[data-available=true]")[:2], page.NodeClicks())
	_, typed := page.Typed("input[type=number]")
	assert.False(t, typed)
}

func TestSelectSeats_ClickedSeatsLeaveTheSelector(t *testing.T) {
	page := mocks.NewMockPage()
	page.SetElements(".seat.available", "s1", "s2", "s3")
	resolved := page.Nodes(".seat.available")
	page.OnClickNode = func(p *mocks.MockPage, selector string, ref taskstypes.NodeRef) {
		p.RemoveNode(selector, ref)
	}

	h := newHeuristics(&mocks.SequenceSampler{})
	seats := h.SelectSeats(context.Background(), page)

	assert.Equal(t, []string{"Seat 1", "Seat 2"}, seats)
	assert.Equal(t, resolved[:2], page.NodeClicks())
	assert.Equal(t, resolved[2:], page.Nodes(".seat.available"))
}

func TestSelectSeats_QuantityFallback(t *testing.T) {
	page := mocks.NewMockPage()
	page.SetPresent("input[type=number]", true)

	h := newHeuristics(&mocks.SequenceSampler{})
	seats := h.SelectSeats(context.Background(), page)

	assert.Equal(t, []string{"Quantity: 2"}, seats)
	typed, ok := page.Typed("input[type=number]")
	require.True(t, ok)
	assert.Equal(t, "2", typed)
}

func TestSelectSeats_NothingFound(t *testing.T) {
	h := newHeuristics(&mocks.SequenceSampler{})
	assert.Empty(t, h.SelectSeats(context.Background(), mocks.NewMockPage()))
}

func TestSelectSeats_CancelledContext(t *testing.T) {
	page := mocks.NewMockPage()
	page.SetElements(".seat.available", "a")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	h := newHeuristics(&mocks.SequenceSampler{})
	assert.Empty(t, h.SelectSeats(ctx, page))
}

func TestExtractTicketDetails_FromCart(t *testing.T) {
	page := mocks.NewMockPage()
	page.SetText("#cart", "  Zone A, Row 3, Seat 12\nTotal 1.200.000  ")
	page.SetElements(".ticket-id", "TK-1001", " ", "TK-1002")

	h := newHeuristics(&mocks.SequenceSampler{})
	res := h.ExtractTicketDetails(context.Background(), page)

	assert.Equal(t, []string{"TK-1001", "TK-1002"}, res.TicketIDs)
	assert.Equal(t, "TK-1001", res.FirstID)
	assert.Equal(t, "Zone A, Row 3, Seat 12\nTotal 1.200.000", res.Details)
}

func TestExtractTicketDetails_ScansSeatLines(t *testing.T) {
	page := mocks.NewMockPage()
	page.SetBodyText("Xác nhận\nTổng cộng: 2.000.000 VND")
	page.SetHTML(`<html><body>
		<h1>Xác nhận</h1>
		<div><p>Khu A - Hàng 3 - Ghế 12</p><p>Tổng cộng: 2.000.000 VND</p></div>
		<script>var seat = 1;</script>
	</body></html>`)

	h := newHeuristics(&mocks.SequenceSampler{})
	res := h.ExtractTicketDetails(context.Background(), page)

	assert.Equal(t, taskstypes.NoTicketID, res.FirstID)
	assert.Empty(t, res.TicketIDs)
	assert.Equal(t, "Khu A - Hàng 3 - Ghế 12", res.Details)
}

func TestExtractTicketDetails_DecomposedDiacritics(t *testing.T) {
	page := mocks.NewMockPage()
	page.SetBodyText("Tổng cộng: 1.000.000 VND")
	// "Ghế số 12" with combining marks.
	page.SetHTML("<html><body><p>Ghe\u0302\u0301 so\u0302\u0301 12</p></body></html>")

	h := newHeuristics(&mocks.SequenceSampler{})
	res := h.ExtractTicketDetails(context.Background(), page)

	assert.Equal(t, "Ghế số 12", res.Details)
}

func TestExtractTicketDetails_NoSeatLines(t *testing.T) {
	page := mocks.NewMockPage()
	page.SetBodyText("Total: 10 USD")
	page.SetHTML(`<html><body><p>Total: 10 USD</p></body></html>`)

	h := newHeuristics(&mocks.SequenceSampler{})
	res := h.ExtractTicketDetails(context.Background(), page)

	assert.Equal(t, taskstypes.CheckCartManually, res.Details)
}

func TestExtractTicketDetails_SummaryNeverAppears(t *testing.T) {
	h := newHeuristics(&mocks.SequenceSampler{})

	start := time.Now()
	res := h.ExtractTicketDetails(context.Background(), mocks.NewMockPage())

	assert.Equal(t, taskstypes.FailedTicketResult(), res)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestExtractTicketDetails_ReadFault(t *testing.T) {
	page := mocks.NewMockPage()
	page.SetText("#cart", "something")
	page.SetError(".ticket-id", errors.New("detached"))

	h := newHeuristics(&mocks.SequenceSampler{})
	assert.Equal(t, taskstypes.FailedTicketResult(), h.ExtractTicketDetails(context.Background(), page))
}
