// Package observer implements the per-page observation pipeline: it
// listens to a page's network and lifecycle events, classifies them,
// keeps an ordered session log, and dispatches artifact capture and
// rendering. The observer is strictly a bystander: nothing in here may
// fail or block the automation session it watches.
package observer

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/pkg/errors"

	"github.com/tabscope/tabscope/event"
	"github.com/tabscope/tabscope/log"
	"github.com/tabscope/tabscope/render"
	"github.com/tabscope/tabscope/storage"
)

// maxInlineDump caps how much of a decoded data: URL payload is printed
// when a closed page can no longer be screenshotted.
const maxInlineDump = 5120

// ArtifactRenderer is the narrow rendering capability the observer
// depends on. The render package provides the real implementation;
// tests substitute a recording stub.
type ArtifactRenderer interface {
	RenderFile(ctx context.Context, path string) error
	RenderResponseBody(ctx context.Context, resp event.Response) error
}

// Options configure one observer. The zero value is not useful; start
// from DefaultOptions.
type Options struct {
	// RenderCommand is the terminal image renderer invocation.
	RenderCommand string
	// FullPage captures the whole scrollable page instead of the
	// viewport.
	FullPage bool
	// AutoScreenshot captures a "before" screenshot when a document
	// navigation request starts.
	AutoScreenshot bool
	// DumpContent renders successful document response bodies.
	DumpContent bool
	// Listen attaches the event listeners at construction. When false
	// the observer stays inert until Start is called.
	Listen bool
	// LogAssetRequests reports subordinate asset requests too.
	LogAssetRequests bool
	// LogPostParams prints form-encoded POST bodies as key/value pairs.
	LogPostParams bool
	// Verbose surfaces already-closed-target conditions that are
	// otherwise swallowed.
	Verbose bool
}

// DefaultOptions resolves the default configuration once, reading the
// render command override through env. A nil env uses the process
// environment.
func DefaultOptions(env render.EnvFunc) Options {
	return Options{
		RenderCommand:    render.DefaultCommand(env),
		FullPage:         true,
		AutoScreenshot:   true,
		DumpContent:      false,
		Listen:           true,
		LogAssetRequests: false,
		LogPostParams:    true,
		Verbose:          false,
	}
}

// Entry is one logged response summary.
type Entry struct {
	Status int
	Method string
	Path   string
}

// Observer watches a single page. Its listeners fire in the order the
// engine delivers events; it shares no state with observers of other
// pages.
type Observer struct {
	page     event.Page
	opts     Options
	renderer ArtifactRenderer
	logger   *log.Logger
	out      io.Writer
	now      func() time.Time

	requests int
	session  []Entry
	offs     []func()

	ok   func(a ...any) string
	bad  func(a ...any) string
	dim  func(a ...any) string
	warn func(a ...any) string
}

// New creates an observer for page. If opts.Listen is set the event
// listeners are attached immediately; otherwise call Start. A nil
// logger discards internal logs, a nil out writes to stdout.
func New(page event.Page, opts Options, renderer ArtifactRenderer, logger *log.Logger, out io.Writer) *Observer {
	if logger == nil {
		logger = log.NewNullLogger()
	}
	if out == nil {
		out = os.Stdout
	}
	o := &Observer{
		page:     page,
		opts:     opts,
		renderer: renderer,
		logger:   logger,
		out:      out,
		now:      time.Now,
		ok:       color.New(color.FgGreen).SprintFunc(),
		bad:      color.New(color.FgRed).SprintFunc(),
		dim:      color.New(color.FgCyan).SprintFunc(),
		warn:     color.New(color.FgYellow).SprintFunc(),
	}
	if opts.Listen {
		o.Start()
	}
	return o
}

// Start attaches the event listeners. Calling Start on a listening
// observer is a no-op. The request counter is not reset; it only
// resets at construction.
func (o *Observer) Start() {
	if len(o.offs) > 0 {
		return
	}
	o.offs = []func(){
		o.page.On(event.PageRequest, o.onRequest),
		o.page.On(event.PageRequestFinished, o.onRequestFinished),
		o.page.On(event.PageResponse, o.onResponse),
		o.page.On(event.PageClose, o.onClose),
	}
	o.logger.Debugf("Observer:Start", "listening on %s", o.page.URL())
}

// Stop detaches the event listeners.
func (o *Observer) Stop() {
	for _, off := range o.offs {
		off()
	}
	o.offs = nil
	o.logger.Debugf("Observer:Stop", "stopped listening on %s", o.page.URL())
}

// SessionLog returns a copy of the accumulated response log.
func (o *Observer) SessionLog() []Entry {
	return append([]Entry(nil), o.session...)
}

func (o *Observer) onResponse(data any) {
	resp, ok := data.(event.Response)
	if !ok {
		return
	}
	if !event.IsPrimaryDocument(resp.Request().ResourceType()) {
		return
	}

	class := event.Classify(resp.Status())
	if class == event.ClassRedirect {
		// Automatic redirect chains are noise; suppress entirely.
		o.logger.Debugf("Observer:onResponse", "suppressing redirect %d %s", resp.Status(), resp.URL())
		return
	}

	entry := Entry{
		Status: resp.Status(),
		Method: resp.Request().Method(),
		Path:   pathQuery(resp.URL()),
	}
	o.session = append(o.session, entry)
	o.printStatus(class, entry)

	if class == event.ClassError {
		return
	}
	if o.opts.DumpContent {
		if err := o.renderer.RenderResponseBody(context.Background(), resp); err != nil {
			o.logger.Debugf("Observer:onResponse", "rendering body of %s: %v", resp.URL(), err)
		}
	}
}

func (o *Observer) onRequest(data any) {
	req, ok := data.(event.Request)
	if !ok {
		return
	}
	o.requests++
	if o.requests == 1 {
		// The page's first navigation has no previous state worth
		// comparing against.
		o.logger.Debugf("Observer:onRequest", "skipping first request %s", req.URL())
		return
	}

	if req.Method() != http.MethodGet || !event.IsPrimaryDocument(req.ResourceType()) {
		if o.opts.LogAssetRequests {
			o.printRequest(req)
		}
		return
	}

	o.printRequest(req)
	if o.opts.AutoScreenshot {
		// "Before" image of the page a navigation is about to replace.
		o.CaptureScreenshot(context.Background(), nil)
	}
}

func (o *Observer) onRequestFinished(data any) {
	req, ok := data.(event.Request)
	if !ok {
		return
	}
	if req.Method() != http.MethodPost || !o.opts.LogPostParams {
		return
	}

	body, err := req.PostData()
	if err != nil {
		o.logger.Debugf("Observer:onRequestFinished", "reading POST body of %s: %v", req.URL(), err)
		return
	}
	if body == "" {
		return
	}
	values, err := url.ParseQuery(body)
	if err != nil {
		o.logger.Debugf("Observer:onRequestFinished", "parsing POST body of %s: %v", req.URL(), err)
		return
	}

	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(o.out, "  %s=%s\n", k, strings.Join(values[k], ","))
	}
}

func (o *Observer) onClose(any) {
	u := o.page.URL()
	fmt.Fprintf(o.out, "%s page closed %s\n", o.warn("✖"), u)

	// A closed page cannot be screenshotted; an inline HTML document in
	// the closing URL is the next best final artifact.
	if o.opts.AutoScreenshot {
		if doc, ok := decodeInlineDocument(u); ok {
			if len(doc) > maxInlineDump {
				doc = doc[:maxInlineDump]
			}
			fmt.Fprintln(o.out, doc)
		}
	}

	o.DumpSessionLog()
}

// CaptureScreenshot captures the page (or pageOverride, if given) into
// a fresh temp PNG and forwards it to the renderer. An already-closed
// target degrades to a no-op, or one diagnostic line in verbose mode.
func (o *Observer) CaptureScreenshot(ctx context.Context, pageOverride event.Page) {
	page := pageOverride
	if page == nil {
		page = o.page
	}

	if page.IsClosed() {
		if o.opts.Verbose {
			o.diag("cannot capture %s, page is already closed", page.URL())
		} else {
			o.logger.Debugf("Observer:CaptureScreenshot", "page %s already closed", page.URL())
		}
		return
	}

	if err := page.WaitReady(ctx); err != nil {
		o.reportCaptureError(page, err)
		return
	}

	path, err := storage.TempFile("tabscope", "png")
	if err != nil {
		o.diag("%v", err)
		return
	}
	if err := page.Screenshot(ctx, path, o.opts.FullPage); err != nil {
		o.reportCaptureError(page, err)
		return
	}

	if err := o.renderer.RenderFile(ctx, path); err != nil {
		o.logger.Debugf("Observer:CaptureScreenshot", "rendering %s: %v", path, err)
	}
}

// reportCaptureError swallows the closed-target kind unless verbose;
// every other capture failure is always reported.
func (o *Observer) reportCaptureError(page event.Page, err error) {
	if errors.Is(err, event.ErrTargetClosed) && !o.opts.Verbose {
		o.logger.Debugf("Observer:CaptureScreenshot", "target gone mid-capture: %v", err)
		return
	}
	o.diag("capturing %s: %v", page.URL(), err)
}

// RenderArtifactFile renders an already-captured artifact file.
func (o *Observer) RenderArtifactFile(ctx context.Context, path string) {
	if err := o.renderer.RenderFile(ctx, path); err != nil {
		o.logger.Debugf("Observer:RenderArtifactFile", "rendering %s: %v", path, err)
	}
}

// DumpSessionLog prints the ordered (status, method, path) log with a
// date prefix. The log itself is never cleared.
func (o *Observer) DumpSessionLog() {
	fmt.Fprintf(o.out, "%s session coverage:\n", o.now().Format("2006-01-02 15:04:05"))
	for _, e := range o.session {
		fmt.Fprintf(o.out, "  %d %s %s\n", e.Status, e.Method, e.Path)
	}
}

func (o *Observer) printStatus(class event.Class, e Entry) {
	mark := o.ok("●")
	if class == event.ClassError {
		mark = o.bad("✘")
	}
	fmt.Fprintf(o.out, "%s %d %s %s\n", mark, e.Status, e.Method, e.Path)
}

func (o *Observer) printRequest(req event.Request) {
	fmt.Fprintf(o.out, "%s %s %s\n", o.dim("→"), req.Method(), req.URL())
}

func (o *Observer) diag(format string, args ...any) {
	fmt.Fprintf(o.out, "%s %s\n", o.warn("⚠"), fmt.Sprintf(format, args...))
}

// pathQuery reduces a URL to its path plus query for the session log.
func pathQuery(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	pq := u.Path
	if pq == "" {
		pq = "/"
	}
	if u.RawQuery != "" {
		pq += "?" + u.RawQuery
	}
	return pq
}

// decodeInlineDocument extracts the payload of a base64-encoded data:
// URL. It returns false for anything else.
func decodeInlineDocument(raw string) (string, bool) {
	rest, ok := strings.CutPrefix(raw, "data:")
	if !ok {
		return "", false
	}
	meta, payload, ok := strings.Cut(rest, ",")
	if !ok || !strings.Contains(meta, "base64") {
		return "", false
	}
	decoded, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", false
	}
	return string(decoded), true
}
