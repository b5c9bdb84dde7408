package browser

import (
	"context"
	"fmt"
	"strings"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/dom"
	cdpruntime "github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"

	"github.com/a3tai/rat-autofill/internal/locator"
)

// ChromeBrowser drives a Chromium instance through the DevTools protocol.
type ChromeBrowser struct {
	opts Options
}

// NewChromeBrowser creates a Chromium driver.
func NewChromeBrowser(opts Options) *ChromeBrowser {
	return &ChromeBrowser{opts: opts}
}

// Open launches a fresh browser process and returns a session on a blank tab.
// The process lives until the session is closed, not until ctx ends.
func (b *ChromeBrowser) Open(ctx context.Context) (Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", b.opts.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-notifications", true),
		chromedp.Flag("disable-popup-blocking", true),
		chromedp.Flag("blink-settings", "imagesEnabled=false"),
	)
	if b.opts.Bin != "" {
		opts = append(opts, chromedp.ExecPath(b.opts.Bin))
	}
	if b.opts.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(b.opts.UserAgent))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	tabCtx, tabCancel := chromedp.NewContext(allocCtx)

	// the first Run starts the browser and binds it to tabCtx
	if err := chromedp.Run(tabCtx); err != nil {
		tabCancel()
		allocCancel()
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	return &chromeSession{tab: tabCtx, tabCancel: tabCancel, allocCancel: allocCancel}, nil
}

type chromeSession struct {
	tab         context.Context
	tabCancel   context.CancelFunc
	allocCancel context.CancelFunc
	closed      bool
}

// run executes actions on the tab, bounded by ctx's deadline and cancellation.
func (s *chromeSession) run(ctx context.Context, actions ...chromedp.Action) error {
	if s.closed {
		return ErrSessionClosed
	}

	runCtx, cancel := context.WithCancel(s.tab)
	defer cancel()
	if deadline, ok := ctx.Deadline(); ok {
		var cancelDeadline context.CancelFunc
		runCtx, cancelDeadline = context.WithDeadline(runCtx, deadline)
		defer cancelDeadline()
	}
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	if err := chromedp.Run(runCtx, actions...); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return err
	}
	return nil
}

func (s *chromeSession) Navigate(ctx context.Context, url string) error {
	if err := s.run(ctx, chromedp.Navigate(url)); err != nil {
		return fmt.Errorf("navigate %s: %w", url, err)
	}
	return nil
}

func (s *chromeSession) URL(ctx context.Context) (string, error) {
	var location string
	if err := s.run(ctx, chromedp.Location(&location)); err != nil {
		return "", err
	}
	return location, nil
}

func (s *chromeSession) Locate(ctx context.Context, l locator.Locator) ([]Element, error) {
	var (
		selector string
		by       chromedp.QueryOption
	)
	switch l.By {
	case locator.ByCSS:
		selector, by = l.Pattern, chromedp.ByQueryAll
	case locator.ByXPath:
		selector, by = l.Pattern, chromedp.BySearch
	case locator.ByName:
		selector, by = attrSelector("name", l.Pattern), chromedp.ByQueryAll
	case locator.ByID:
		selector, by = attrSelector("id", l.Pattern), chromedp.ByQueryAll
	default:
		return nil, fmt.Errorf("unsupported strategy: %s", l.By)
	}

	var nodes []*cdp.Node
	if err := s.run(ctx, chromedp.Nodes(selector, &nodes, by, chromedp.AtLeast(0))); err != nil {
		return nil, err
	}

	elements := make([]Element, 0, len(nodes))
	for _, node := range nodes {
		if node.NodeType != cdp.NodeTypeElement {
			continue
		}
		elements = append(elements, &chromeElement{session: s, node: node})
	}
	return elements, nil
}

func (s *chromeSession) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true

	err := chromedp.Cancel(s.tab)
	s.tabCancel()
	s.allocCancel()
	return err
}

type chromeElement struct {
	session *chromeSession
	node    *cdp.Node
}

func (e *chromeElement) ids() []cdp.NodeID {
	return []cdp.NodeID{e.node.NodeID}
}

func (e *chromeElement) Clear(ctx context.Context) error {
	return e.call(ctx, `function() {
		this.value = '';
		this.dispatchEvent(new Event('input', { bubbles: true }));
	}`)
}

func (e *chromeElement) Type(ctx context.Context, text string) error {
	return e.session.run(ctx, chromedp.SendKeys(e.ids(), text, chromedp.ByNodeID))
}

func (e *chromeElement) Click(ctx context.Context) error {
	return e.session.run(ctx, chromedp.Click(e.ids(), chromedp.ByNodeID))
}

func (e *chromeElement) DispatchClick(ctx context.Context) error {
	return e.call(ctx, `function() { this.click(); }`)
}

func (e *chromeElement) Selected(ctx context.Context) (bool, error) {
	var checked bool
	err := e.session.run(ctx, chromedp.JavascriptAttribute(e.ids(), "checked", &checked, chromedp.ByNodeID))
	return checked, err
}

func (e *chromeElement) Text(ctx context.Context) (string, error) {
	var text string
	err := e.session.run(ctx, chromedp.JavascriptAttribute(e.ids(), "innerText", &text, chromedp.ByNodeID))
	return strings.TrimSpace(text), err
}

// call runs fn with this bound to the element.
func (e *chromeElement) call(ctx context.Context, fn string) error {
	return e.session.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		obj, err := dom.ResolveNode().WithNodeID(e.node.NodeID).Do(ctx)
		if err != nil {
			return fmt.Errorf("resolve node: %w", err)
		}
		_, exception, err := cdpruntime.CallFunctionOn(fn).WithObjectID(obj.ObjectID).Do(ctx)
		if err != nil {
			return err
		}
		if exception != nil {
			return fmt.Errorf("script exception: %s", exception.Text)
		}
		return nil
	}))
}

// attrSelector builds an exact attribute match selector.
func attrSelector(attr, value string) string {
	escaped := strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(value)
	return fmt.Sprintf(`[%s="%s"]`, attr, escaped)
}
