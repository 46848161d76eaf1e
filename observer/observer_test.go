package observer

import (
	"bytes"
	"context"
	"encoding/base64"
	"strings"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tabscope/tabscope/event"
	"github.com/tabscope/tabscope/log"
)

func init() {
	// Markers are asserted literally below.
	color.NoColor = true
}

func noEnv(string) (string, bool) { return "", false }

type fakePage struct {
	*event.Emitter
	url     string
	closed  bool
	waitErr error
	shotErr error
	shots   []string
	full    []bool
	video   event.Video
}

func newFakePage(url string) *fakePage {
	return &fakePage{Emitter: event.NewEmitter(), url: url}
}

func (p *fakePage) URL() string { return p.url }
func (p *fakePage) IsClosed() bool { return p.closed }
func (p *fakePage) WaitReady(context.Context) error { return p.waitErr }
func (p *fakePage) Video() event.Video { return p.video }

func (p *fakePage) Screenshot(_ context.Context, path string, fullPage bool) error {
	if p.shotErr != nil {
		return p.shotErr
	}
	p.shots = append(p.shots, path)
	p.full = append(p.full, fullPage)
	return nil
}

type fakeRequest struct {
	url          string
	method       string
	resourceType string
	postData     string
}

func (r fakeRequest) URL() string { return r.url }
func (r fakeRequest) Method() string { return r.method }
func (r fakeRequest) ResourceType() string { return r.resourceType }
func (r fakeRequest) PostData() (string, error) { return r.postData, nil }

type fakeResponse struct {
	url    string
	status int
	ct     string
	body   string
	req    fakeRequest
}

func (r fakeResponse) URL() string { return r.url }
func (r fakeResponse) Status() int { return r.status }
func (r fakeResponse) ContentType() string { return r.ct }
func (r fakeResponse) Body() ([]byte, error) { return []byte(r.body), nil }
func (r fakeResponse) Text() (string, error) { return r.body, nil }
func (r fakeResponse) Request() event.Request { return r.req }

type stubRenderer struct {
	files  []string
	bodies []event.Response
}

func (s *stubRenderer) RenderFile(_ context.Context, path string) error {
	s.files = append(s.files, path)
	return nil
}

func (s *stubRenderer) RenderResponseBody(_ context.Context, resp event.Response) error {
	s.bodies = append(s.bodies, resp)
	return nil
}

func newTestObserver(t *testing.T, page *fakePage, opts Options) (*Observer, *stubRenderer, *bytes.Buffer) {
	t.Helper()
	rend := &stubRenderer{}
	var out bytes.Buffer
	o := New(page, opts, rend, log.NewNullLogger(), &out)
	return o, rend, &out
}

func docResponse(status int, method, url string) fakeResponse {
	return fakeResponse{
		url:    url,
		status: status,
		ct:     "text/html; charset=utf-8",
		body:   "<title>Example Domain</title>",
		req:    fakeRequest{url: url, method: method, resourceType: "document"},
	}
}

func TestResponseStatusLines(t *testing.T) {
	t.Parallel()

	t.Run("success_emits_status_line", func(t *testing.T) {
		t.Parallel()

		page := newFakePage("https://example.com/")
		o, _, out := newTestObserver(t, page, DefaultOptions(noEnv))

		page.Emit(event.PageResponse, event.Response(docResponse(200, "GET", "https://example.com/page?q=1")))

		assert.Contains(t, out.String(), "200 GET /page?q=1")
		require.Len(t, o.SessionLog(), 1)
		assert.Equal(t, Entry{Status: 200, Method: "GET", Path: "/page?q=1"}, o.SessionLog()[0])
	})

	t.Run("redirect_is_fully_suppressed", func(t *testing.T) {
		t.Parallel()

		page := newFakePage("https://example.com/")
		opts := DefaultOptions(noEnv)
		opts.DumpContent = true
		o, rend, out := newTestObserver(t, page, opts)

		page.Emit(event.PageResponse, event.Response(docResponse(302, "GET", "https://example.com/old")))

		assert.Empty(t, out.String())
		assert.Empty(t, rend.bodies)
		assert.Empty(t, o.SessionLog())
	})

	t.Run("asset_responses_are_ignored", func(t *testing.T) {
		t.Parallel()

		page := newFakePage("https://example.com/")
		o, _, out := newTestObserver(t, page, DefaultOptions(noEnv))

		resp := docResponse(200, "GET", "https://example.com/app.js")
		resp.req.resourceType = "script"
		page.Emit(event.PageResponse, event.Response(resp))

		assert.Empty(t, out.String())
		assert.Empty(t, o.SessionLog())
	})
}

func TestErrorResponseLoggedButNotRendered(t *testing.T) {
	t.Parallel()

	page := newFakePage("https://example.com/")
	opts := DefaultOptions(noEnv)
	opts.DumpContent = true
	o, rend, out := newTestObserver(t, page, opts)

	page.Emit(event.PageResponse, event.Response(docResponse(404, "GET", "https://example.com/missing")))

	assert.Contains(t, out.String(), "✘ 404 GET /missing")
	assert.Empty(t, rend.bodies)
	require.Len(t, o.SessionLog(), 1)
}

func TestDumpContentDispatch(t *testing.T) {
	t.Parallel()

	page := newFakePage("https://example.com/")
	opts := DefaultOptions(noEnv)
	opts.DumpContent = true
	_, rend, _ := newTestObserver(t, page, opts)

	resp := docResponse(200, "GET", "https://example.com/")
	page.Emit(event.PageResponse, event.Response(resp))

	require.Len(t, rend.bodies, 1)
	body, err := rend.bodies[0].Text()
	require.NoError(t, err)
	assert.Equal(t, "<title>Example Domain</title>", body)
}

func TestFirstRequestNeverReported(t *testing.T) {
	t.Parallel()

	docGet := func(url string) event.Request {
		return fakeRequest{url: url, method: "GET", resourceType: "document"}
	}

	t.Run("second_request_reports_and_screenshots", func(t *testing.T) {
		t.Parallel()

		page := newFakePage("https://example.com/")
		_, rend, out := newTestObserver(t, page, DefaultOptions(noEnv))

		page.Emit(event.PageRequest, docGet("https://example.com/"))
		assert.Empty(t, out.String())
		assert.Empty(t, page.shots)

		page.Emit(event.PageRequest, docGet("https://example.com/next"))
		assert.Contains(t, out.String(), "→ GET https://example.com/next")
		assert.Len(t, page.shots, 1)
		assert.Len(t, rend.files, 1)
	})

	t.Run("no_screenshot_without_auto_screenshot", func(t *testing.T) {
		t.Parallel()

		page := newFakePage("https://example.com/")
		opts := DefaultOptions(noEnv)
		opts.AutoScreenshot = false
		_, _, out := newTestObserver(t, page, opts)

		page.Emit(event.PageRequest, docGet("https://example.com/"))
		page.Emit(event.PageRequest, docGet("https://example.com/next"))

		assert.Contains(t, out.String(), "→ GET https://example.com/next")
		assert.Empty(t, page.shots)
	})

	t.Run("asset_requests_gated_by_option", func(t *testing.T) {
		t.Parallel()

		asset := fakeRequest{url: "https://example.com/app.js", method: "GET", resourceType: "script"}

		page := newFakePage("https://example.com/")
		_, _, out := newTestObserver(t, page, DefaultOptions(noEnv))
		page.Emit(event.PageRequest, event.Request(asset))
		page.Emit(event.PageRequest, event.Request(asset))
		assert.Empty(t, out.String())

		page = newFakePage("https://example.com/")
		opts := DefaultOptions(noEnv)
		opts.LogAssetRequests = true
		_, _, out = newTestObserver(t, page, opts)
		page.Emit(event.PageRequest, event.Request(asset))
		page.Emit(event.PageRequest, event.Request(asset))
		assert.Contains(t, out.String(), "→ GET https://example.com/app.js")
	})
}

func TestPostParamsLogged(t *testing.T) {
	t.Parallel()

	post := fakeRequest{
		url:          "https://example.com/login",
		method:       "POST",
		resourceType: "document",
		postData:     "user=ada&tags=x&tags=y",
	}

	t.Run("printed_sorted", func(t *testing.T) {
		t.Parallel()

		page := newFakePage("https://example.com/")
		_, _, out := newTestObserver(t, page, DefaultOptions(noEnv))

		page.Emit(event.PageRequestFinished, event.Request(post))
		assert.Equal(t, "  tags=x,y\n  user=ada\n", out.String())
	})

	t.Run("disabled_by_option", func(t *testing.T) {
		t.Parallel()

		page := newFakePage("https://example.com/")
		opts := DefaultOptions(noEnv)
		opts.LogPostParams = false
		_, _, out := newTestObserver(t, page, opts)

		page.Emit(event.PageRequestFinished, event.Request(post))
		assert.Empty(t, out.String())
	})

	t.Run("get_requests_skipped", func(t *testing.T) {
		t.Parallel()

		page := newFakePage("https://example.com/")
		_, _, out := newTestObserver(t, page, DefaultOptions(noEnv))

		page.Emit(event.PageRequestFinished, event.Request(
			fakeRequest{url: "https://example.com/", method: "GET", resourceType: "document"}))
		assert.Empty(t, out.String())
	})
}

func TestCaptureScreenshotClosedPage(t *testing.T) {
	t.Parallel()

	t.Run("silent_by_default", func(t *testing.T) {
		t.Parallel()

		page := newFakePage("https://example.com/")
		page.closed = true
		o, rend, out := newTestObserver(t, page, DefaultOptions(noEnv))

		o.CaptureScreenshot(context.Background(), nil)

		assert.Empty(t, out.String())
		assert.Empty(t, page.shots)
		assert.Empty(t, rend.files)
	})

	t.Run("one_diagnostic_line_when_verbose", func(t *testing.T) {
		t.Parallel()

		page := newFakePage("https://example.com/")
		page.closed = true
		opts := DefaultOptions(noEnv)
		opts.Verbose = true
		o, _, out := newTestObserver(t, page, opts)

		o.CaptureScreenshot(context.Background(), nil)

		assert.Equal(t, 1, strings.Count(out.String(), "\n"))
		assert.Contains(t, out.String(), "⚠")
		assert.Empty(t, page.shots)
	})
}

func TestCaptureScreenshotTargetGoneMidCapture(t *testing.T) {
	t.Parallel()

	t.Run("closed_kind_swallowed", func(t *testing.T) {
		t.Parallel()

		page := newFakePage("https://example.com/")
		page.shotErr = errors.Wrap(event.ErrTargetClosed, "session detached")
		o, _, out := newTestObserver(t, page, DefaultOptions(noEnv))

		o.CaptureScreenshot(context.Background(), nil)
		assert.Empty(t, out.String())
	})

	t.Run("closed_kind_reported_when_verbose", func(t *testing.T) {
		t.Parallel()

		page := newFakePage("https://example.com/")
		page.shotErr = errors.Wrap(event.ErrTargetClosed, "session detached")
		opts := DefaultOptions(noEnv)
		opts.Verbose = true
		o, _, out := newTestObserver(t, page, opts)

		o.CaptureScreenshot(context.Background(), nil)
		assert.Equal(t, 1, strings.Count(out.String(), "\n"))
	})

	t.Run("other_failures_always_reported", func(t *testing.T) {
		t.Parallel()

		page := newFakePage("https://example.com/")
		page.waitErr = errors.New("render process gone")
		o, _, out := newTestObserver(t, page, DefaultOptions(noEnv))

		o.CaptureScreenshot(context.Background(), nil)
		assert.Contains(t, out.String(), "render process gone")
	})
}

func TestCaptureScreenshotUsesFullPageOption(t *testing.T) {
	t.Parallel()

	page := newFakePage("https://example.com/")
	opts := DefaultOptions(noEnv)
	opts.FullPage = false
	o, rend, _ := newTestObserver(t, page, opts)

	o.CaptureScreenshot(context.Background(), nil)

	require.Len(t, page.shots, 1)
	assert.False(t, page.full[0])
	assert.True(t, strings.HasSuffix(page.shots[0], ".png"), "got %q", page.shots[0])
	require.Len(t, rend.files, 1)
	assert.Equal(t, page.shots[0], rend.files[0])
}

func TestDumpSessionLog(t *testing.T) {
	t.Parallel()

	page := newFakePage("https://example.com/")
	o, _, out := newTestObserver(t, page, DefaultOptions(noEnv))
	o.now = func() time.Time { return time.Date(2026, 2, 3, 15, 4, 5, 0, time.UTC) }

	page.Emit(event.PageResponse, event.Response(docResponse(200, "GET", "https://example.com/a")))
	page.Emit(event.PageResponse, event.Response(docResponse(404, "GET", "https://example.com/b")))
	page.Emit(event.PageResponse, event.Response(docResponse(201, "POST", "https://example.com/c?x=1")))
	out.Reset()

	o.DumpSessionLog()

	want := "2026-02-03 15:04:05 session coverage:\n" +
		"  200 GET /a\n" +
		"  404 GET /b\n" +
		"  201 POST /c?x=1\n"
	assert.Equal(t, want, out.String())

	// Dumping never clears the log.
	out.Reset()
	o.DumpSessionLog()
	assert.Equal(t, want, out.String())
}

func TestPageClose(t *testing.T) {
	t.Parallel()

	t.Run("reports_and_dumps_session_log", func(t *testing.T) {
		t.Parallel()

		page := newFakePage("https://example.com/bye")
		_, _, out := newTestObserver(t, page, DefaultOptions(noEnv))

		page.Emit(event.PageResponse, event.Response(docResponse(200, "GET", "https://example.com/bye")))
		page.Emit(event.PageClose, nil)

		assert.Contains(t, out.String(), "✖ page closed https://example.com/bye")
		assert.Contains(t, out.String(), "session coverage:")
	})

	t.Run("inline_document_printed", func(t *testing.T) {
		t.Parallel()

		doc := "<html><body>final state</body></html>"
		page := newFakePage("data:text/html;base64," + base64.StdEncoding.EncodeToString([]byte(doc)))
		_, _, out := newTestObserver(t, page, DefaultOptions(noEnv))

		page.Emit(event.PageClose, nil)
		assert.Contains(t, out.String(), doc)
	})

	t.Run("inline_document_truncated", func(t *testing.T) {
		t.Parallel()

		doc := strings.Repeat("A", 6000)
		page := newFakePage("data:text/html;base64," + base64.StdEncoding.EncodeToString([]byte(doc)))
		_, _, out := newTestObserver(t, page, DefaultOptions(noEnv))

		page.Emit(event.PageClose, nil)
		assert.Contains(t, out.String(), strings.Repeat("A", 5120))
		assert.NotContains(t, out.String(), strings.Repeat("A", 5121))
	})

	t.Run("inline_document_skipped_without_screenshots", func(t *testing.T) {
		t.Parallel()

		doc := "<html>final</html>"
		page := newFakePage("data:text/html;base64," + base64.StdEncoding.EncodeToString([]byte(doc)))
		opts := DefaultOptions(noEnv)
		opts.AutoScreenshot = false
		_, _, out := newTestObserver(t, page, opts)

		page.Emit(event.PageClose, nil)
		assert.NotContains(t, out.String(), doc)
	})
}

func TestTwoPhaseLifecycle(t *testing.T) {
	t.Parallel()

	page := newFakePage("https://example.com/")
	opts := DefaultOptions(noEnv)
	opts.Listen = false
	o, _, out := newTestObserver(t, page, opts)

	resp := docResponse(200, "GET", "https://example.com/a")
	page.Emit(event.PageResponse, event.Response(resp))
	assert.Empty(t, out.String(), "inert before Start")

	o.Start()
	page.Emit(event.PageResponse, event.Response(resp))
	assert.Contains(t, out.String(), "200 GET /a")

	out.Reset()
	o.Stop()
	page.Emit(event.PageResponse, event.Response(resp))
	assert.Empty(t, out.String(), "inert after Stop")
}

func TestRenderArtifactFile(t *testing.T) {
	t.Parallel()

	page := newFakePage("https://example.com/")
	o, rend, _ := newTestObserver(t, page, DefaultOptions(noEnv))

	o.RenderArtifactFile(context.Background(), "/tmp/shot.png")
	assert.Equal(t, []string{"/tmp/shot.png"}, rend.files)
}

func TestPathQuery(t *testing.T) {
	t.Parallel()

	tests := []struct {
		raw  string
		want string
	}{
		{raw: "https://example.com/a/b?q=1", want: "/a/b?q=1"},
		{raw: "https://example.com", want: "/"},
		{raw: "https://example.com/", want: "/"},
		{raw: "://nope", want: "://nope"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, pathQuery(tt.raw), "url %q", tt.raw)
	}
}
