package mocks

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/copyleftdev/tixrush/internal/taskstypes"
)

// ErrWaitTimeout is returned by MockPage.WaitVisible for selectors that never show.
var ErrWaitTimeout = errors.New("mock: wait timed out")

// Point is one recorded coordinate click.
type Point struct {
	X, Y float64
}

// MockPage is a scriptable in-memory page. Selectors are matched by exact
// string. Hooks run after the corresponding click has been recorded and may
// mutate the page through its setters.
type MockPage struct {
	mu sync.Mutex

	present map[string]bool
	visible map[string]bool
	counts  map[string]int
	texts   map[string][]string
	boxes   map[string]taskstypes.Rect
	errs    map[string]error
	html    string
	body    string

	// attached holds every node ref ever issued; a node stays clickable
	// after it stops matching its selector.
	nodes    map[string][]taskstypes.NodeRef
	attached map[taskstypes.NodeRef]string
	lastNode taskstypes.NodeRef

	clicks      []string
	nthClicks   map[string][]int
	pointClicks []Point
	nodeClicks  []taskstypes.NodeRef
	typed       map[string]string
	waits       map[string]int

	OnClick    func(p *MockPage, selector string)
	OnClickNth func(p *MockPage, selector string, index int)
	OnClickAt  func(p *MockPage, x, y float64)

	// OnClickNode receives the selector the node was first matched by.
	OnClickNode func(p *MockPage, selector string, ref taskstypes.NodeRef)
}

func NewMockPage() *MockPage {
	return &MockPage{
		present:   make(map[string]bool),
		visible:   make(map[string]bool),
		counts:    make(map[string]int),
		texts:     make(map[string][]string),
		boxes:     make(map[string]taskstypes.Rect),
		errs:      make(map[string]error),
		nodes:     make(map[string][]taskstypes.NodeRef),
		attached:  make(map[taskstypes.NodeRef]string),
		nthClicks: make(map[string][]int),
		typed:     make(map[string]string),
		waits:     make(map[string]int),
	}
}

// SetVisible marks selector present and visible (or neither).
func (p *MockPage) SetVisible(selector string, visible bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.visible[selector] = visible
	p.present[selector] = visible
}

// SetPresent marks selector present in the DOM without making it visible.
func (p *MockPage) SetPresent(selector string, present bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.present[selector] = present
}

// SetElements sets the matches of selector: count, and one text per element.
// Each element gets a fresh node ref.
func (p *MockPage) SetElements(selector string, texts ...string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	refs := make([]taskstypes.NodeRef, len(texts))
	for i := range texts {
		p.lastNode++
		refs[i] = p.lastNode
		p.attached[p.lastNode] = selector
	}
	p.nodes[selector] = refs
	p.counts[selector] = len(texts)
	p.texts[selector] = texts
	p.present[selector] = len(texts) > 0
	p.visible[selector] = len(texts) > 0
}

// SetText sets a single match with the given text.
func (p *MockPage) SetText(selector, text string) {
	p.SetElements(selector, text)
}

func (p *MockPage) SetBox(selector string, r taskstypes.Rect) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.boxes[selector] = r
	p.present[selector] = true
	p.visible[selector] = true
}

// SetError makes every call on selector fail with err.
func (p *MockPage) SetError(selector string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.errs[selector] = err
}

func (p *MockPage) SetHTML(doc string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.html = doc
}

func (p *MockPage) SetBodyText(text string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.body = text
}

func (p *MockPage) Exists(ctx context.Context, selector string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.errs[selector]; err != nil {
		return false, err
	}
	return p.present[selector], ctx.Err()
}

func (p *MockPage) Visible(ctx context.Context, selector string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.errs[selector]; err != nil {
		return false, err
	}
	return p.visible[selector], ctx.Err()
}

func (p *MockPage) Count(ctx context.Context, selector string) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.errs[selector]; err != nil {
		return 0, err
	}
	return p.counts[selector], ctx.Err()
}

// WaitVisible returns immediately: nil when visible, ErrWaitTimeout otherwise.
func (p *MockPage) WaitVisible(ctx context.Context, selector string, timeout time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.waits[selector]++
	if err := p.errs[selector]; err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if !p.visible[selector] {
		return ErrWaitTimeout
	}
	return nil
}

func (p *MockPage) BoundingBox(ctx context.Context, selector string) (taskstypes.Rect, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.errs[selector]; err != nil {
		return taskstypes.Rect{}, err
	}
	return p.boxes[selector], nil
}

func (p *MockPage) Click(ctx context.Context, selector string) error {
	p.mu.Lock()
	if err := p.errs[selector]; err != nil {
		p.mu.Unlock()
		return err
	}
	if !p.present[selector] {
		p.mu.Unlock()
		return fmt.Errorf("mock: no element for %q", selector)
	}
	p.clicks = append(p.clicks, selector)
	hook := p.OnClick
	p.mu.Unlock()

	if hook != nil {
		hook(p, selector)
	}
	return nil
}

func (p *MockPage) ClickNth(ctx context.Context, selector string, index int) error {
	p.mu.Lock()
	if err := p.errs[selector]; err != nil {
		p.mu.Unlock()
		return err
	}
	if index < 0 || index >= p.counts[selector] {
		p.mu.Unlock()
		return fmt.Errorf("mock: no element %d for %q", index, selector)
	}
	p.nthClicks[selector] = append(p.nthClicks[selector], index)
	hook := p.OnClickNth
	p.mu.Unlock()

	if hook != nil {
		hook(p, selector, index)
	}
	return nil
}

func (p *MockPage) Resolve(ctx context.Context, selector string) ([]taskstypes.NodeRef, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.errs[selector]; err != nil {
		return nil, err
	}
	return append([]taskstypes.NodeRef(nil), p.nodes[selector]...), ctx.Err()
}

func (p *MockPage) ClickNode(ctx context.Context, ref taskstypes.NodeRef) error {
	p.mu.Lock()
	selector, ok := p.attached[ref]
	if !ok {
		p.mu.Unlock()
		return fmt.Errorf("mock: node %d is not attached", ref)
	}
	if err := p.errs[selector]; err != nil {
		p.mu.Unlock()
		return err
	}
	p.nodeClicks = append(p.nodeClicks, ref)
	hook := p.OnClickNode
	p.mu.Unlock()

	if hook != nil {
		hook(p, selector, ref)
	}
	return nil
}

// Nodes returns the refs currently matching selector.
func (p *MockPage) Nodes(selector string) []taskstypes.NodeRef {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]taskstypes.NodeRef(nil), p.nodes[selector]...)
}

// RemoveNode drops ref from the matches of selector, as a page does when a
// clicked seat loses its "available" class. The node stays clickable.
func (p *MockPage) RemoveNode(selector string, ref taskstypes.NodeRef) {
	p.mu.Lock()
	defer p.mu.Unlock()
	refs := p.nodes[selector]
	texts := p.texts[selector]
	for i, r := range refs {
		if r != ref {
			continue
		}
		p.nodes[selector] = append(refs[:i:i], refs[i+1:]...)
		if i < len(texts) {
			p.texts[selector] = append(texts[:i:i], texts[i+1:]...)
		}
		break
	}
	n := len(p.nodes[selector])
	p.counts[selector] = n
	p.present[selector] = n > 0
	p.visible[selector] = n > 0
}

func (p *MockPage) ClickAt(ctx context.Context, x, y float64) error {
	p.mu.Lock()
	p.pointClicks = append(p.pointClicks, Point{X: x, Y: y})
	hook := p.OnClickAt
	p.mu.Unlock()

	if hook != nil {
		hook(p, x, y)
	}
	return nil
}

func (p *MockPage) Text(ctx context.Context, selector string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.errs[selector]; err != nil {
		return "", err
	}
	if t := p.texts[selector]; len(t) > 0 {
		return t[0], nil
	}
	return "", nil
}

func (p *MockPage) Texts(ctx context.Context, selector string) ([]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.errs[selector]; err != nil {
		return nil, err
	}
	return append([]string(nil), p.texts[selector]...), nil
}

func (p *MockPage) ClearAndType(ctx context.Context, selector, text string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.errs[selector]; err != nil {
		return err
	}
	if !p.present[selector] {
		return fmt.Errorf("mock: no input for %q", selector)
	}
	p.typed[selector] = text
	return nil
}

func (p *MockPage) HTML(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.html, nil
}

func (p *MockPage) BodyText(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.body, nil
}

// Clicks returns the selectors passed to Click, in order.
func (p *MockPage) Clicks() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.clicks...)
}

// NthClicks returns the indices clicked for selector, in order.
func (p *MockPage) NthClicks(selector string) []int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]int(nil), p.nthClicks[selector]...)
}

// NodeClicks returns every node ref clicked, in order.
func (p *MockPage) NodeClicks() []taskstypes.NodeRef {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]taskstypes.NodeRef(nil), p.nodeClicks...)
}

// PointClicks returns every coordinate click, in order.
func (p *MockPage) PointClicks() []Point {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Point(nil), p.pointClicks...)
}

// Typed returns the last text typed into selector.
func (p *MockPage) Typed(selector string) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	v, ok := p.typed[selector]
	return v, ok
}

// Waits returns how many times WaitVisible was called for selector.
func (p *MockPage) Waits(selector string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.waits[selector]
}
