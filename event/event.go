// Package event defines the page lifecycle event model the observer
// consumes. Concrete browser drivers (see the pw package) adapt their
// own page objects to these interfaces so the rest of the pipeline can
// run against in-memory fakes.
package event

import (
	"context"

	"github.com/pkg/errors"
)

const (
	// PageRequest is emitted when a request is started.
	PageRequest string = "request"

	// PageRequestFinished is emitted when a request is finished.
	PageRequestFinished string = "requestfinished"

	// PageResponse is emitted when a response is received.
	PageResponse string = "response"

	// PageClose is emitted when a page is closed.
	PageClose string = "close"
)

// ErrTargetClosed reports that the page, context or browser behind an
// operation has already been closed. Drivers must translate their own
// closure failures into this kind so callers can use errors.Is instead
// of matching message text.
var ErrTargetClosed = errors.New("target page is closed")

// Request is an outbound network request observed on a page.
type Request interface {
	// URL returns the full request URL.
	URL() string
	// Method returns the HTTP method.
	Method() string
	// ResourceType returns the engine's resource type tag, e.g.
	// "document", "script", "image".
	ResourceType() string
	// PostData returns the request body, if any.
	PostData() (string, error)
}

// Response is a network response observed on a page.
type Response interface {
	// URL returns the response URL.
	URL() string
	// Status returns the HTTP status code.
	Status() int
	// ContentType returns the content-type header value, which may be
	// empty.
	ContentType() string
	// Body returns the raw response body bytes.
	Body() ([]byte, error)
	// Text returns the response body decoded as text.
	Text() (string, error)
	// Request returns the request this response belongs to.
	Request() Request
}

// Video is a finished screen recording of a page.
type Video interface {
	// Path returns the on-disk path of the recording once it has been
	// finalized.
	Path() (string, error)
}

// Source delivers page lifecycle events to registered handlers.
// Handlers for one source fire in arrival order; a handler must return
// before the next event is delivered.
type Source interface {
	// On registers a handler for the named event and returns a
	// function that removes it again.
	On(event string, handler func(data any)) (off func())
}

// Page is the observed browser page. It is externally owned; the
// observer never closes it.
type Page interface {
	Source

	// URL returns the page's current URL.
	URL() string
	// IsClosed reports whether the page has been closed.
	IsClosed() bool
	// WaitReady blocks until the page reached the DOM-content-loaded
	// milestone, so a capture does not record a blank transitional
	// frame.
	WaitReady(ctx context.Context) error
	// Screenshot captures the page into a PNG file at path.
	Screenshot(ctx context.Context, path string, fullPage bool) error
	// Video returns the page's screen recording, or nil if none was
	// requested.
	Video() Video
}
