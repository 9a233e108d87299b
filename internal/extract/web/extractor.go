// File: internal/extract/web/extractor.go
// Description: Rendered-page snapshot extraction. Operates on a page
// borrowed from the browser pool; never creates or destroys pool resources
// itself.

package web

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
	"golang.org/x/net/html"

	"github.com/parityscan/parity-cli/api/schemas"
	"github.com/parityscan/parity-cli/internal/config"
	"github.com/parityscan/parity-cli/internal/faults"
)

// elementCensus is the in-page script collecting comparable elements. Kept
// to visible elements with a bounding box; deeply nested wrappers are
// uninteresting for layout comparison.
const elementCensus = `
(() => {
	const out = [];
	const selectorFor = (el) => {
		if (el.id) return '#' + el.id;
		let sel = el.tagName.toLowerCase();
		if (el.classList.length) sel += '.' + el.classList[0];
		return sel;
	};
	const walk = (el) => {
		const rect = el.getBoundingClientRect();
		const style = window.getComputedStyle(el);
		if (rect.width > 0 && rect.height > 0 && style.visibility !== 'hidden') {
			out.push({
				selector: selectorFor(el),
				tag: el.tagName.toLowerCase(),
				text: (el.childElementCount === 0 ? el.textContent || '' : '').trim().slice(0, 200),
				box: {x: rect.x + window.scrollX, y: rect.y + window.scrollY,
					width: rect.width, height: rect.height},
				color: style.color,
				fontSize: parseFloat(style.fontSize) || 0,
			});
		}
		for (const child of el.children) walk(child);
	};
	walk(document.body);
	return out;
})()`

// Extractor captures web snapshots through chromedp commands against a
// borrowed page context.
type Extractor struct {
	cfg    config.WebConfig
	logger *zap.Logger
}

// NewExtractor builds a web extractor.
func NewExtractor(cfg config.WebConfig, logger *zap.Logger) *Extractor {
	return &Extractor{cfg: cfg, logger: logger.Named("web_extractor")}
}

// censusElement mirrors the JSON shape produced by elementCensus.
type censusElement struct {
	Selector string              `json:"selector"`
	Tag      string              `json:"tag"`
	Text     string              `json:"text"`
	Box      schemas.BoundingBox `json:"box"`
	Color    string              `json:"color"`
	FontSize float64             `json:"fontSize"`
}

// ExtractSnapshot navigates the borrowed page to url, applies auth when
// configured, and captures title, HTML, a full-page screenshot, and the
// element census. The operation honors ctx: cancelling it aborts the
// underlying automation commands.
func (e *Extractor) ExtractSnapshot(ctx context.Context, targetURL string, auth *schemas.AuthConfig, pg schemas.Page) (*schemas.WebSnapshot, error) {
	runCtx, cancel := context.WithCancel(pg.Context())
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	if auth != nil && auth.Mode != "" {
		headers, err := authHeaders(auth)
		if err != nil {
			return nil, faults.Tag(fmt.Errorf("authentication setup failed: %w", err), faults.KindAuth)
		}
		if err := chromedp.Run(runCtx,
			network.Enable(),
			network.SetExtraHTTPHeaders(headers),
		); err != nil {
			return nil, e.wrapRunError("authenticate", err, ctx)
		}
	}

	start := time.Now()
	var title, outerHTML string
	err := chromedp.Run(runCtx,
		chromedp.Navigate(targetURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Title(&title),
		chromedp.OuterHTML("html", &outerHTML, chromedp.ByQuery),
	)
	if err != nil {
		return nil, e.wrapRunError("navigate", err, ctx)
	}

	snapshot := &schemas.WebSnapshot{
		URL:        targetURL,
		Title:      title,
		HTML:       outerHTML,
		CapturedAt: time.Now(),
	}

	var shot []byte
	if err := chromedp.Run(runCtx, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		shot, err = page.CaptureScreenshot().WithCaptureBeyondViewport(true).Do(ctx)
		return err
	})); err != nil {
		// A lost screenshot degrades the report but not the comparison.
		e.logger.Warn("Screenshot capture failed", zap.String("url", targetURL), zap.Error(err))
	}
	snapshot.Screenshot = shot

	var elements []censusElement
	if err := chromedp.Run(runCtx, chromedp.Evaluate(elementCensus, &elements)); err != nil {
		e.logger.Warn("Element census failed, falling back to static DOM walk",
			zap.String("url", targetURL), zap.Error(err))
		fallback, ferr := staticCensus(outerHTML)
		if ferr != nil {
			return nil, faults.Tag(
				fmt.Errorf("element census failed (%v) and fallback failed: %w", err, ferr),
				faults.KindSelector)
		}
		snapshot.Elements = fallback
	} else {
		for _, el := range elements {
			snapshot.Elements = append(snapshot.Elements, schemas.WebElement{
				Selector: el.Selector,
				Tag:      el.Tag,
				Text:     el.Text,
				Box:      el.Box,
				Color:    el.Color,
				FontSize: el.FontSize,
			})
		}
	}

	e.logger.Debug("Web snapshot captured",
		zap.String("url", targetURL),
		zap.Int("elements", len(snapshot.Elements)),
		zap.Duration("took", time.Since(start)))
	return snapshot, nil
}

// wrapRunError tags chromedp failures with the most specific kind we can
// determine locally.
func (e *Extractor) wrapRunError(op string, err error, ctx context.Context) error {
	if ctx.Err() != nil {
		return faults.Tag(fmt.Errorf("%s aborted: %w", op, err), faults.KindTimeout)
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "context canceled") || strings.Contains(msg, "websocket") {
		return faults.Tag(fmt.Errorf("%s failed, browser likely disconnected: %w", op, err), faults.KindCrash)
	}
	return fmt.Errorf("%s failed: %w", op, err)
}

// staticCensus extracts a text-bearing element list from raw HTML. It has
// no layout information, so boxes are zero; the compare engine treats such
// elements as text-only evidence.
func staticCensus(rawHTML string) ([]schemas.WebElement, error) {
	root, err := html.Parse(strings.NewReader(rawHTML))
	if err != nil {
		return nil, fmt.Errorf("failed to parse captured HTML: %w", err)
	}
	var out []schemas.WebElement
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			text := directText(n)
			if text != "" {
				out = append(out, schemas.WebElement{
					Selector: n.Data,
					Tag:      n.Data,
					Text:     text,
				})
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
	return out, nil
}

func directText(n *html.Node) string {
	var sb strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.TextNode {
			sb.WriteString(c.Data)
		}
	}
	return strings.TrimSpace(sb.String())
}
