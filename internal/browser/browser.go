// Package browser defines the page-control capability used by the form
// automation and provides two drivers: a Chromium driver built on chromedp and
// a lightweight static HTML driver built on net/http, goquery and htmlquery.
package browser

import (
	"context"
	"errors"
	"fmt"

	"github.com/a3tai/rat-autofill/internal/locator"
)

const (
	DriverChrome = "chrome"
	DriverStatic = "http"
)

// ErrSessionClosed is returned by operations on a closed session.
var ErrSessionClosed = errors.New("browser session is closed")

// Element is a live reference to one element of the current page.
type Element interface {
	Clear(ctx context.Context) error
	Type(ctx context.Context, text string) error
	Click(ctx context.Context) error
	// DispatchClick fires the element's click handler directly in the DOM,
	// skipping the visibility and interactability checks of Click.
	DispatchClick(ctx context.Context) error
	Selected(ctx context.Context) (bool, error)
	Text(ctx context.Context) (string, error)
}

// Session is one stateful browsing context. It is not safe for concurrent use.
type Session interface {
	Navigate(ctx context.Context, url string) error
	URL(ctx context.Context) (string, error)
	// Locate returns every element matching l on the current page without
	// waiting. An empty result is not an error.
	Locate(ctx context.Context, l locator.Locator) ([]Element, error)
	Close() error
}

// Browser opens sessions.
type Browser interface {
	Open(ctx context.Context) (Session, error)
}

// Options configures a driver.
type Options struct {
	Driver    string
	Headless  bool
	Bin       string
	UserAgent string
}

// New returns the driver named by opts.Driver.
func New(opts Options) (Browser, error) {
	switch opts.Driver {
	case DriverChrome, "":
		return NewChromeBrowser(opts), nil
	case DriverStatic:
		return NewStaticBrowser(opts), nil
	default:
		return nil, fmt.Errorf("unsupported browser driver: %s", opts.Driver)
	}
}
