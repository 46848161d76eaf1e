// Package pw adapts a playwright-go page to the event interfaces the
// observer consumes. It is the only package that touches the browser
// driver; everything above it runs against event.Page and can use
// in-memory fakes.
package pw

import (
	"context"
	"strings"

	"github.com/pkg/errors"
	"github.com/playwright-community/playwright-go"

	"github.com/tabscope/tabscope/event"
)

// Ensure the adapter satisfies the event model.
var (
	_ event.Page     = (*Page)(nil)
	_ event.Request  = request{}
	_ event.Response = response{}
)

// Page wraps a playwright page as an event.Page. Events forwarded from
// the driver are re-emitted through the embedded emitter in arrival
// order.
type Page struct {
	*event.Emitter
	page playwright.Page
}

// Attach wraps page and starts forwarding its request, requestfinished,
// response and close events.
func Attach(page playwright.Page) *Page {
	p := &Page{Emitter: event.NewEmitter(), page: page}
	page.OnRequest(func(req playwright.Request) {
		p.Emit(event.PageRequest, request{req})
	})
	page.OnRequestFinished(func(req playwright.Request) {
		p.Emit(event.PageRequestFinished, request{req})
	})
	page.OnResponse(func(res playwright.Response) {
		p.Emit(event.PageResponse, response{res})
	})
	page.OnClose(func(playwright.Page) {
		p.Emit(event.PageClose, nil)
	})
	return p
}

func (p *Page) URL() string { return p.page.URL() }

func (p *Page) IsClosed() bool { return p.page.IsClosed() }

// WaitReady blocks until the DOM content loaded milestone. The driver
// does not take a context; ctx is accepted for interface compatibility.
func (p *Page) WaitReady(_ context.Context) error {
	err := p.page.WaitForLoadState(playwright.PageWaitForLoadStateOptions{
		State: playwright.LoadStateDomcontentloaded,
	})
	return translateClosed(err)
}

// Screenshot captures the page into a PNG at path.
func (p *Page) Screenshot(_ context.Context, path string, fullPage bool) error {
	_, err := p.page.Screenshot(playwright.PageScreenshotOptions{
		Path:     playwright.String(path),
		FullPage: playwright.Bool(fullPage),
	})
	return translateClosed(err)
}

// Video returns the page's screen recording, or nil if none was
// requested for the context.
func (p *Page) Video() event.Video {
	if v := p.page.Video(); v != nil {
		return v
	}
	return nil
}

// WaitClosed returns a callback for hooks.TeardownFunc that closes the
// browser context and blocks until it is fully closed, guaranteeing any
// recorded video file has been flushed.
func WaitClosed(bctx playwright.BrowserContext) func(context.Context) error {
	return func(context.Context) error {
		return bctx.Close()
	}
}

// translateClosed maps the driver's closed-target failure class onto
// the typed event.ErrTargetClosed kind. The driver only exposes the
// condition as message text, so the match lives here, at the boundary,
// and nowhere else.
func translateClosed(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	if strings.Contains(msg, "has been closed") || strings.Contains(msg, "Target closed") {
		return errors.Wrap(event.ErrTargetClosed, msg)
	}
	return err
}

type request struct {
	req playwright.Request
}

func (r request) URL() string { return r.req.URL() }
func (r request) Method() string { return r.req.Method() }
func (r request) ResourceType() string { return r.req.ResourceType() }
func (r request) PostData() (string, error) { return r.req.PostData() }

type response struct {
	res playwright.Response
}

func (r response) URL() string { return r.res.URL() }
func (r response) Status() int { return r.res.Status() }
func (r response) ContentType() string { return r.res.Headers()["content-type"] }
func (r response) Body() ([]byte, error) { return r.res.Body() }
func (r response) Text() (string, error) { return r.res.Text() }
func (r response) Request() event.Request { return request{r.res.Request()} }
