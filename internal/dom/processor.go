package dom

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/chromedp/cdproto/cdp"
	cdpdom "github.com/chromedp/cdproto/dom"
	"github.com/chromedp/chromedp"
	"github.com/copyleftdev/tixrush/internal/taskstypes"
	"golang.org/x/net/html"
)

// Pause waits for d or until ctx is done. Zero and negative durations
// return immediately, which lets tests run every settle delay at zero cost.
func Pause(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// jsString quotes s as a JavaScript string literal.
func jsString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

const visibleFn = `function(el) {
	const s = window.getComputedStyle(el);
	const r = el.getBoundingClientRect();
	return s.display !== 'none' && s.visibility !== 'hidden' && s.opacity !== '0' && r.width > 0 && r.height > 0;
}`

func GetFullHTMLAction(res *string) chromedp.Action {
	return chromedp.Evaluate(`document.documentElement.outerHTML`, res)
}

func GetTextContentAction(res *string) chromedp.Action {
	return chromedp.Evaluate(`document.body ? document.body.innerText : ""`, res)
}

// CountAction counts elements matching selector without waiting.
func CountAction(selector string, res *int) chromedp.Action {
	return chromedp.Evaluate(fmt.Sprintf(`document.querySelectorAll(%s).length`, jsString(selector)), res)
}

// AnyVisibleAction reports whether at least one match is rendered and visible.
func AnyVisibleAction(selector string, res *bool) chromedp.Action {
	script := fmt.Sprintf(`(() => {
	const visible = %s;
	return Array.from(document.querySelectorAll(%s)).some(visible);
})()`, visibleFn, jsString(selector))
	return chromedp.Evaluate(script, res)
}

// FirstTextAction reads the innerText of the first match, or "" when none.
func FirstTextAction(selector string, res *string) chromedp.Action {
	script := fmt.Sprintf(`(() => {
	const el = document.querySelector(%s);
	return el ? (el.innerText || el.textContent || "").trim() : "";
})()`, jsString(selector))
	return chromedp.Evaluate(script, res)
}

// AllTextsAction reads the trimmed innerText of every match.
func AllTextsAction(selector string, res *[]string) chromedp.Action {
	script := fmt.Sprintf(`Array.from(document.querySelectorAll(%s)).map(el => (el.innerText || el.textContent || "").trim())`, jsString(selector))
	return chromedp.Evaluate(script, res)
}

// BoundingBoxAction reads the first match's bounding client rect. A missing
// element yields an empty Rect rather than an error.
func BoundingBoxAction(selector string, res *taskstypes.Rect) chromedp.Action {
	script := fmt.Sprintf(`(() => {
	const el = document.querySelector(%s);
	if (!el) return {x: 0, y: 0, width: 0, height: 0};
	const r = el.getBoundingClientRect();
	return {x: r.left, y: r.top, width: r.width, height: r.height};
})()`, jsString(selector))
	return chromedp.Evaluate(script, res)
}

// ClickNthAction dispatches a real mouse click on the index-th match.
func ClickNthAction(selector string, index int) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		var nodes []*cdp.Node
		if err := chromedp.Nodes(selector, &nodes, chromedp.ByQueryAll, chromedp.AtLeast(0)).Do(ctx); err != nil {
			return err
		}
		if index < 0 || index >= len(nodes) {
			return fmt.Errorf("no element %d for %q (found %d)", index, selector, len(nodes))
		}
		return chromedp.MouseClickNode(nodes[index]).Do(ctx)
	})
}

func ClickAtAction(x, y float64) chromedp.Action {
	return chromedp.MouseClickXY(x, y)
}

// ResolveNodesAction captures the backend ids of every current match.
func ResolveNodesAction(selector string, res *[]taskstypes.NodeRef) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		var nodes []*cdp.Node
		if err := chromedp.Nodes(selector, &nodes, chromedp.ByQueryAll, chromedp.AtLeast(0)).Do(ctx); err != nil {
			return err
		}
		refs := make([]taskstypes.NodeRef, 0, len(nodes))
		for _, n := range nodes {
			refs = append(refs, taskstypes.NodeRef(n.BackendNodeID))
		}
		*res = refs
		return nil
	})
}

// ClickNodeAction scrolls a resolved element into view and clicks the centre
// of its first content quad.
func ClickNodeAction(ref taskstypes.NodeRef) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		id := cdp.BackendNodeID(ref)
		if err := cdpdom.ScrollIntoViewIfNeeded().WithBackendNodeID(id).Do(ctx); err != nil {
			return fmt.Errorf("scroll node %d into view: %w", ref, err)
		}
		quads, err := cdpdom.GetContentQuads().WithBackendNodeID(id).Do(ctx)
		if err != nil {
			return fmt.Errorf("node %d layout: %w", ref, err)
		}
		if len(quads) == 0 || len(quads[0]) < 8 {
			return fmt.Errorf("node %d is not rendered", ref)
		}
		x, y := quadCenter(quads[0])
		return chromedp.MouseClickXY(x, y).Do(ctx)
	})
}

func quadCenter(q cdpdom.Quad) (float64, float64) {
	var x, y float64
	for i := 0; i < 8; i += 2 {
		x += q[i]
		y += q[i+1]
	}
	return x / 4, y / 4
}

// ClearAndTypeAction replaces the value of an input.
func ClearAndTypeAction(selector string, text string) chromedp.Action {
	return chromedp.Tasks{
		chromedp.Clear(selector, chromedp.ByQuery),
		chromedp.SendKeys(selector, text, chromedp.ByQuery),
	}
}

func NavigateAction(url string) chromedp.Action {
	return chromedp.Navigate(url)
}

func WaitVisibleAction(selector string) chromedp.Action {
	return chromedp.WaitVisible(selector, chromedp.ByQuery)
}

// IsElementPresentAction checks if an element exists without waiting for visibility.
func IsElementPresentAction(selector string, isPresent *bool) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		var n int
		if err := CountAction(selector, &n).Do(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			// Invalid selectors and detached documents read as "not found".
			*isPresent = false
			return nil
		}
		*isPresent = n > 0
		return nil
	})
}

var skippedTags = map[string]bool{
	"script": true, "style": true, "noscript": true, "template": true,
	"head": true, "meta": true, "link": true, "svg": true,
}

var blockTags = map[string]bool{
	"html": true, "body": true, "div": true, "p": true, "br": true, "hr": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"ul": true, "ol": true, "li": true, "table": true, "thead": true, "tbody": true,
	"tfoot": true, "tr": true, "section": true, "article": true, "header": true,
	"footer": true, "main": true, "aside": true, "nav": true, "form": true,
	"dl": true, "dt": true, "dd": true, "pre": true, "blockquote": true,
}

// VisibleTextLines approximates innerText line breaking: text is grouped by
// block-level elements and whitespace is collapsed. Hidden elements
// (hidden attribute, aria-hidden, inline display:none) are skipped.
func VisibleTextLines(htmlContent string) ([]string, error) {
	doc, err := html.Parse(strings.NewReader(htmlContent))
	if err != nil {
		return nil, err
	}

	var lines []string
	var cur strings.Builder
	flush := func() {
		line := strings.Join(strings.Fields(cur.String()), " ")
		if line != "" {
			lines = append(lines, line)
		}
		cur.Reset()
	}

	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.TextNode:
			cur.WriteString(n.Data)
			cur.WriteByte(' ')
			return
		case html.ElementNode:
			if skippedTags[n.Data] || isHidden(n) {
				return
			}
			if n.Data == "td" || n.Data == "th" {
				cur.WriteByte(' ')
			}
		case html.CommentNode, html.DoctypeNode, html.ErrorNode:
			return
		}

		block := n.Type == html.ElementNode && blockTags[n.Data]
		if block {
			flush()
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
		if block {
			flush()
		}
	}
	walk(doc)
	flush()

	return lines, nil
}

func isHidden(n *html.Node) bool {
	for _, a := range n.Attr {
		switch a.Key {
		case "hidden":
			return true
		case "aria-hidden":
			if a.Val == "true" {
				return true
			}
		case "style":
			style := strings.ReplaceAll(strings.ToLower(a.Val), " ", "")
			if strings.Contains(style, "display:none") || strings.Contains(style, "visibility:hidden") {
				return true
			}
		}
	}
	return false
}
