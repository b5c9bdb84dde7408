package browser

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/antchfx/htmlquery"
	"golang.org/x/net/html"

	"github.com/a3tai/rat-autofill/internal/locator"
)

const (
	defaultUserAgent     = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	defaultStaticTimeout = 20 * time.Second
)

// StaticBrowser emulates a browser for plain HTML forms without running
// scripts: pages are fetched over HTTP with a cookie jar, probed with goquery
// (CSS) and htmlquery (XPath), and forms are submitted by encoding their
// controls the way a browser would.
type StaticBrowser struct {
	opts   Options
	client func(jar http.CookieJar) *http.Client
}

// NewStaticBrowser creates a static HTML driver.
func NewStaticBrowser(opts Options) *StaticBrowser {
	return &StaticBrowser{
		opts: opts,
		client: func(jar http.CookieJar) *http.Client {
			return &http.Client{Jar: jar, Timeout: defaultStaticTimeout}
		},
	}
}

// Open returns a session with an empty cookie jar.
func (b *StaticBrowser) Open(_ context.Context) (Session, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create cookie jar: %w", err)
	}

	userAgent := b.opts.UserAgent
	if userAgent == "" {
		userAgent = defaultUserAgent
	}

	return &staticSession{
		client:    b.client(jar),
		userAgent: userAgent,
	}, nil
}

type staticSession struct {
	client    *http.Client
	userAgent string
	closed    bool

	base    *url.URL
	doc     *html.Node
	values  map[*html.Node]string
	checked map[*html.Node]bool
}

func (s *staticSession) Navigate(ctx context.Context, target string) error {
	if s.closed {
		return ErrSessionClosed
	}
	u, err := s.resolve(target)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return err
	}
	return s.load(req)
}

func (s *staticSession) URL(_ context.Context) (string, error) {
	if s.closed {
		return "", ErrSessionClosed
	}
	if s.base == nil {
		return "about:blank", nil
	}
	return s.base.String(), nil
}

func (s *staticSession) Locate(_ context.Context, l locator.Locator) (elements []Element, err error) {
	if s.closed {
		return nil, ErrSessionClosed
	}
	if s.doc == nil {
		return nil, nil
	}

	defer func() {
		if rec := recover(); rec != nil {
			elements, err = nil, fmt.Errorf("locate %s: %v", l, rec)
		}
	}()

	var nodes []*html.Node
	switch l.By {
	case locator.ByCSS:
		nodes = goquery.NewDocumentFromNode(s.doc).Find(l.Pattern).Nodes
	case locator.ByName:
		nodes = goquery.NewDocumentFromNode(s.doc).Find(attrSelector("name", l.Pattern)).Nodes
	case locator.ByID:
		nodes = goquery.NewDocumentFromNode(s.doc).Find(attrSelector("id", l.Pattern)).Nodes
	case locator.ByXPath:
		nodes, err = htmlquery.QueryAll(s.doc, l.Pattern)
		if err != nil {
			return nil, fmt.Errorf("locate %s: %w", l, err)
		}
	default:
		return nil, fmt.Errorf("unsupported strategy: %s", l.By)
	}

	for _, n := range nodes {
		if n.Type == html.ElementNode {
			elements = append(elements, &staticElement{s: s, node: n})
		}
	}
	return elements, nil
}

func (s *staticSession) Close() error {
	s.closed = true
	s.client.CloseIdleConnections()
	return nil
}

func (s *staticSession) resolve(ref string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(ref))
	if err != nil {
		return nil, fmt.Errorf("invalid url %q: %w", ref, err)
	}
	if s.base != nil {
		u = s.base.ResolveReference(u)
	}
	return u, nil
}

func (s *staticSession) load(req *http.Request) error {
	req.Header.Set("User-Agent", s.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")

	res, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.StatusCode >= http.StatusBadRequest {
		_, _ = io.Copy(io.Discard, res.Body)
		return fmt.Errorf("%s %s: status HTTP %d", req.Method, req.URL, res.StatusCode)
	}

	doc, err := html.Parse(res.Body)
	if err != nil {
		return fmt.Errorf("failed to parse %s: %w", req.URL, err)
	}

	s.base = res.Request.URL
	s.doc = doc
	s.values = make(map[*html.Node]string)
	s.checked = make(map[*html.Node]bool)
	return nil
}

// value returns the current value of a form control.
func (s *staticSession) value(n *html.Node) string {
	if v, ok := s.values[n]; ok {
		return v
	}
	if n.Data == "textarea" {
		return goquery.NewDocumentFromNode(n).Text()
	}
	return attr(n, "value")
}

// isChecked returns the current checked state of a radio or checkbox.
func (s *staticSession) isChecked(n *html.Node) bool {
	if v, ok := s.checked[n]; ok {
		return v
	}
	_, ok := attrLookup(n, "checked")
	return ok
}

func (s *staticSession) click(ctx context.Context, n *html.Node) error {
	if s.closed {
		return ErrSessionClosed
	}

	switch {
	case n.Data == "input" && inputType(n) == "radio":
		s.checkRadio(n)
	case n.Data == "input" && inputType(n) == "checkbox":
		s.checked[n] = !s.isChecked(n)
	case isSubmitter(n):
		if form := ancestor(n, "form"); form != nil {
			return s.submit(ctx, form, n)
		}
	case n.Data == "a":
		if href, ok := attrLookup(n, "href"); ok && !strings.HasPrefix(href, "#") &&
			!strings.HasPrefix(strings.ToLower(href), "javascript:") {
			return s.Navigate(ctx, href)
		}
	}
	return nil
}

func (s *staticSession) checkRadio(n *html.Node) {
	name := attr(n, "name")
	scope := ancestor(n, "form")
	if scope == nil {
		scope = s.doc
	}
	goquery.NewDocumentFromNode(scope).Find(`input[type="radio"]`).Each(func(_ int, sel *goquery.Selection) {
		if other := sel.Nodes[0]; name != "" && attr(other, "name") == name {
			s.checked[other] = false
		}
	})
	s.checked[n] = true
}

// submit encodes the controls of form as a browser would for submitter and
// loads the response as the current page.
func (s *staticSession) submit(ctx context.Context, form, submitter *html.Node) error {
	values := url.Values{}
	goquery.NewDocumentFromNode(form).Find("input, textarea, select").Each(func(_ int, sel *goquery.Selection) {
		n := sel.Nodes[0]
		name := attr(n, "name")
		if name == "" {
			return
		}
		if _, disabled := attrLookup(n, "disabled"); disabled {
			return
		}
		switch n.Data {
		case "textarea":
			values.Add(name, s.value(n))
		case "select":
			values.Add(name, selectedOption(sel))
		default:
			switch inputType(n) {
			case "radio", "checkbox":
				if s.isChecked(n) {
					v := attr(n, "value")
					if v == "" {
						v = "on"
					}
					values.Add(name, v)
				}
			case "submit", "image", "button", "reset", "file":
			default:
				values.Add(name, s.value(n))
			}
		}
	})
	if name := attr(submitter, "name"); name != "" {
		values.Add(name, attr(submitter, "value"))
	}

	action, err := s.resolve(attr(form, "action"))
	if err != nil {
		return err
	}

	var req *http.Request
	if strings.EqualFold(attr(form, "method"), http.MethodPost) {
		req, err = http.NewRequestWithContext(ctx, http.MethodPost, action.String(), strings.NewReader(values.Encode()))
		if err == nil {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}
	} else {
		action.RawQuery = values.Encode()
		req, err = http.NewRequestWithContext(ctx, http.MethodGet, action.String(), nil)
	}
	if err != nil {
		return err
	}
	return s.load(req)
}

type staticElement struct {
	s    *staticSession
	node *html.Node
}

func (e *staticElement) Clear(_ context.Context) error {
	if e.s.closed {
		return ErrSessionClosed
	}
	if !isTextControl(e.node) {
		return fmt.Errorf("element <%s> is not editable", e.node.Data)
	}
	e.s.values[e.node] = ""
	return nil
}

func (e *staticElement) Type(_ context.Context, text string) error {
	if e.s.closed {
		return ErrSessionClosed
	}
	if !isTextControl(e.node) {
		return fmt.Errorf("element <%s> is not editable", e.node.Data)
	}
	e.s.values[e.node] = e.s.value(e.node) + text
	return nil
}

func (e *staticElement) Click(ctx context.Context) error {
	return e.s.click(ctx, e.node)
}

func (e *staticElement) DispatchClick(ctx context.Context) error {
	return e.s.click(ctx, e.node)
}

func (e *staticElement) Selected(_ context.Context) (bool, error) {
	if e.s.closed {
		return false, ErrSessionClosed
	}
	return e.s.isChecked(e.node), nil
}

func (e *staticElement) Text(_ context.Context) (string, error) {
	if e.s.closed {
		return "", ErrSessionClosed
	}
	return strings.TrimSpace(goquery.NewDocumentFromNode(e.node).Text()), nil
}

func attrLookup(n *html.Node, key string) (string, bool) {
	for _, a := range n.Attr {
		if strings.EqualFold(a.Key, key) {
			return a.Val, true
		}
	}
	return "", false
}

func attr(n *html.Node, key string) string {
	v, _ := attrLookup(n, key)
	return v
}

func inputType(n *html.Node) string {
	t := strings.ToLower(attr(n, "type"))
	if t == "" {
		return "text"
	}
	return t
}

func isSubmitter(n *html.Node) bool {
	switch n.Data {
	case "button":
		t := strings.ToLower(attr(n, "type"))
		return t == "" || t == "submit"
	case "input":
		t := inputType(n)
		return t == "submit" || t == "image"
	}
	return false
}

func isTextControl(n *html.Node) bool {
	if n.Data == "textarea" {
		return true
	}
	if n.Data != "input" {
		return false
	}
	switch inputType(n) {
	case "radio", "checkbox", "submit", "image", "button", "reset", "file", "hidden":
		return false
	}
	return true
}

func ancestor(n *html.Node, tag string) *html.Node {
	for p := n.Parent; p != nil; p = p.Parent {
		if p.Type == html.ElementNode && p.Data == tag {
			return p
		}
	}
	return nil
}

func selectedOption(sel *goquery.Selection) string {
	opt := sel.Find("option[selected]").First()
	if opt.Length() == 0 {
		opt = sel.Find("option").First()
	}
	if v, ok := opt.Attr("value"); ok {
		return v
	}
	return strings.TrimSpace(opt.Text())
}
