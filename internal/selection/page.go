// Package selection picks a zone, seats and a quantity on a seating page whose
// structure is neither controlled nor stable. Every operation degrades through
// an ordered list of fallbacks and ends within a bounded number of attempts.
package selection

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/copyleftdev/tixrush/internal/config"
	"github.com/copyleftdev/tixrush/internal/taskstypes"
)

// Page is the live page handle the heuristics drive. Lookups never wait;
// WaitVisible is the only blocking query.
type Page interface {
	Exists(ctx context.Context, selector string) (bool, error)
	Visible(ctx context.Context, selector string) (bool, error)
	Count(ctx context.Context, selector string) (int, error)
	WaitVisible(ctx context.Context, selector string, timeout time.Duration) error
	BoundingBox(ctx context.Context, selector string) (taskstypes.Rect, error)
	Click(ctx context.Context, selector string) error
	ClickNth(ctx context.Context, selector string, index int) error
	// Resolve captures the current matches of selector as stable handles.
	Resolve(ctx context.Context, selector string) ([]taskstypes.NodeRef, error)
	ClickNode(ctx context.Context, ref taskstypes.NodeRef) error
	ClickAt(ctx context.Context, x, y float64) error
	Text(ctx context.Context, selector string) (string, error)
	Texts(ctx context.Context, selector string) ([]string, error)
	ClearAndType(ctx context.Context, selector, text string) error
	HTML(ctx context.Context) (string, error)
	BodyText(ctx context.Context) (string, error)
}

// Sampler is the random source behind exploratory clicking.
type Sampler interface {
	// Float64 returns a value in [0, 1).
	Float64() float64
	// IntN returns a value in [0, n).
	IntN(n int) int
}

// NewRandomSampler returns a sampler seeded from seed. Samplers are not
// shared across sessions.
func NewRandomSampler(seed uint64) Sampler {
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

// Delays are the named settle waits between UI actions.
type Delays struct {
	ZoneClickSettle  time.Duration
	ZoneSettle       time.Duration
	SeatClickSettle  time.Duration
	SeatCanvasSettle time.Duration
	DetailsTimeout   time.Duration
	DetailsPoll      time.Duration
}

func DelaysFromConfig(t config.TimingConfig) Delays {
	return Delays{
		ZoneClickSettle:  t.ZoneClickSettle,
		ZoneSettle:       t.ZoneSettle,
		SeatClickSettle:  t.SeatClickSettle,
		SeatCanvasSettle: t.SeatCanvasSettle,
		DetailsTimeout:   t.DetailsTimeout,
		DetailsPoll:      t.DetailsPoll,
	}
}

// Limits bound the exploratory loops.
type Limits struct {
	MaxSeats           int
	ZoneCanvasAttempts int
	SeatCanvasAttempts int
}

func LimitsFromConfig(l config.LimitsConfig) Limits {
	return Limits{
		MaxSeats:           l.MaxSeats,
		ZoneCanvasAttempts: l.ZoneCanvasAttempts,
		SeatCanvasAttempts: l.SeatCanvasAttempts,
	}
}

// Region is the fraction of a bounding box that random clicks may land in.
type Region struct {
	Min, Max float64
}

var (
	// Outer 15% of a zone map is decoration.
	zoneRegion = Region{Min: 0.15, Max: 0.85}
	seatRegion = Region{Min: 0.20, Max: 0.80}
)

// samplePoint picks a point inside r restricted to region on both axes.
func samplePoint(r taskstypes.Rect, region Region, s Sampler) (float64, float64) {
	span := region.Max - region.Min
	x := r.X + r.Width*(region.Min+s.Float64()*span)
	y := r.Y + r.Height*(region.Min+s.Float64()*span)
	return x, y
}
