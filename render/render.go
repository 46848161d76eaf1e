// Package render turns captured artifacts into terminal output by
// shelling out to external tools: a terminal image renderer for
// screenshots, a text-mode browser for HTML, and a video converter for
// screen recordings. Rendering is a debugging aid; no failure in this
// package is ever allowed to escalate beyond a diagnostic line.
package render

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"

	"github.com/tabscope/tabscope/event"
	"github.com/tabscope/tabscope/log"
	"github.com/tabscope/tabscope/storage"
)

const (
	// DefaultImageCommand is the built-in terminal image renderer.
	DefaultImageCommand = "imgcat"

	// EnvRenderCommand overrides the default image renderer command.
	EnvRenderCommand = "TABSCOPE_RENDER_CMD"
)

// defaultTextCommand reads raw HTML on stdin and dumps formatted text.
var defaultTextCommand = []string{"w3m", "-T", "text/html", "-dump"}

// fallbackImageCommands are probed, in order, when the configured
// command uses the inline-image protocol in a terminal that cannot
// display it (e.g. under tmux).
var fallbackImageCommands = []string{"chafa", "viu", "timg", "catimg"}

// EnvFunc looks up an environment variable.
type EnvFunc func(key string) (string, bool)

// LookPathFunc reports where an executable lives, like exec.LookPath.
// Injected so fallback probing is testable without touching PATH.
type LookPathFunc func(file string) (string, error)

// Renderer executes external rendering tools and prints their output.
type Renderer struct {
	cmd       string
	textCmd   []string
	out       io.Writer
	logger    *log.Logger
	persister storage.Persister
	lookPath  LookPathFunc
	env       EnvFunc

	warn func(a ...any) string
}

// Option configures a Renderer.
type Option func(*Renderer)

// WithOutput sets the terminal writer. Defaults to os.Stdout.
func WithOutput(w io.Writer) Option { return func(r *Renderer) { r.out = w } }

// WithLogger sets the internal logger.
func WithLogger(l *log.Logger) Option { return func(r *Renderer) { r.logger = l } }

// WithEnv sets the environment lookup used for terminal detection.
func WithEnv(fn EnvFunc) Option { return func(r *Renderer) { r.env = fn } }

// WithLookPath sets the tool availability probe.
func WithLookPath(fn LookPathFunc) Option { return func(r *Renderer) { r.lookPath = fn } }

// WithPersister sets the artifact persister.
func WithPersister(p storage.Persister) Option { return func(r *Renderer) { r.persister = p } }

// WithTextCommand overrides the text-mode browser invocation.
func WithTextCommand(args ...string) Option { return func(r *Renderer) { r.textCmd = args } }

// DefaultCommand resolves the image renderer command from the
// environment override, falling back to the built-in default.
func DefaultCommand(env EnvFunc) string {
	if env == nil {
		env = os.LookupEnv
	}
	if cmd, ok := env(EnvRenderCommand); ok && cmd != "" {
		return cmd
	}
	return DefaultImageCommand
}

// New creates a Renderer for the given image command. Fallback
// selection runs once, here: if the command cannot work in the current
// terminal an installed alternative is substituted with a one-line
// notice.
func New(command string, opts ...Option) *Renderer {
	r := &Renderer{
		textCmd:   defaultTextCommand,
		out:       os.Stdout,
		logger:    log.NewNullLogger(),
		persister: &storage.DiskPersister{},
		lookPath:  exec.LookPath,
		env:       os.LookupEnv,
		warn:      color.New(color.FgYellow).SprintFunc(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.cmd = r.resolveCommand(command)
	return r
}

// Command returns the image command in use after fallback selection.
func (r *Renderer) Command() string { return r.cmd }

// resolveCommand applies the fallback policy. Only the inline-image
// protocol is known to break; anything else is taken as-is and allowed
// to fail naturally.
func (r *Renderer) resolveCommand(cmd string) string {
	if !strings.Contains(cmd, "imgcat") || !r.inlineImagesUnusable() {
		return cmd
	}
	for _, alt := range fallbackImageCommands {
		if _, err := r.lookPath(alt); err == nil {
			fmt.Fprintf(r.out, "%s %s\n", r.warn("⚠"),
				fmt.Sprintf("%s cannot draw in this terminal, using %s instead", cmd, alt))
			r.logger.Debugf("Renderer:resolveCommand", "falling back from %q to %q", cmd, alt)
			return alt
		}
	}
	return cmd
}

// inlineImagesUnusable reports whether the iTerm-style inline-image
// protocol cannot reach the terminal: tmux re-parses the escape
// sequences, and a non-terminal stdout has no image support at all.
func (r *Renderer) inlineImagesUnusable() bool {
	if v, ok := r.env("TMUX"); ok && v != "" {
		return true
	}
	if f, ok := r.out.(*os.File); ok {
		return !isatty.IsTerminal(f.Fd()) && !isatty.IsCygwinTerminal(f.Fd())
	}
	return false
}

// RenderFile runs the image command on path and prints its stdout. A
// failing or missing renderer produces a single diagnostic line; the
// returned error exists for callers that want to log it and must not
// be escalated.
func (r *Renderer) RenderFile(ctx context.Context, path string) error {
	parts := strings.Fields(r.cmd)
	if len(parts) == 0 {
		r.diag("no render command configured, cannot display %s", path)
		return fmt.Errorf("empty render command")
	}
	args := append(parts[1:len(parts):len(parts)], path)

	out, err := exec.CommandContext(ctx, parts[0], args...).Output()
	if err != nil {
		r.diag("rendering %s with %q: %v", path, r.cmd, err)
		return fmt.Errorf("rendering %q: %w", path, err)
	}
	_, _ = r.out.Write(out)
	return nil
}

// RenderText pipes raw HTML through the text-mode browser and streams
// its stdout to the terminal line by line, so long pages display
// incrementally instead of after a full buffer collect.
func (r *Renderer) RenderText(ctx context.Context, body io.Reader) error {
	cmd := exec.CommandContext(ctx, r.textCmd[0], r.textCmd[1:]...) //nolint:gosec
	cmd.Stdin = body

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		r.diag("piping %s output: %v", r.textCmd[0], err)
		return fmt.Errorf("piping %s output: %w", r.textCmd[0], err)
	}
	if err := cmd.Start(); err != nil {
		r.diag("starting %s: %v", r.textCmd[0], err)
		return fmt.Errorf("starting %s: %w", r.textCmd[0], err)
	}

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		fmt.Fprintln(r.out, scanner.Text())
	}
	if serr := scanner.Err(); serr != nil {
		r.diag("reading %s output: %v", r.textCmd[0], serr)
	}
	if err := cmd.Wait(); err != nil {
		r.diag("%s exited: %v", r.textCmd[0], err)
		return fmt.Errorf("%s exited: %w", r.textCmd[0], err)
	}
	return nil
}

// RenderResponseBody displays a response body: image bodies go through
// a temp file and the image command, everything else is treated as
// text. Error and redirect responses are skipped even though the
// observer filters them before dispatch.
func (r *Renderer) RenderResponseBody(ctx context.Context, resp event.Response) error {
	if c := event.Classify(resp.Status()); c != event.ClassSuccess {
		r.logger.Debugf("Renderer:RenderResponseBody", "skipping %s response %s", c, resp.URL())
		return nil
	}

	if ct := resp.ContentType(); strings.HasPrefix(ct, "image") {
		body, err := resp.Body()
		if err != nil {
			r.diag("reading image body of %s: %v", resp.URL(), err)
			return fmt.Errorf("reading image body: %w", err)
		}
		path, err := storage.TempFile("tabscope", imageExt(ct))
		if err != nil {
			r.diag("%v", err)
			return err
		}
		if err := r.persister.Persist(ctx, path, bytes.NewReader(body)); err != nil {
			r.diag("%v", err)
			return err
		}
		return r.RenderFile(ctx, path)
	}

	text, err := resp.Text()
	if err != nil {
		r.diag("reading body of %s: %v", resp.URL(), err)
		return fmt.Errorf("reading response body: %w", err)
	}
	return r.RenderText(ctx, strings.NewReader(text))
}

// imageExt extracts the file extension from an image content type,
// e.g. "image/jpeg; charset=binary" yields "jpeg".
func imageExt(contentType string) string {
	ext := strings.TrimPrefix(contentType, "image/")
	if i := strings.IndexAny(ext, "; "); i >= 0 {
		ext = ext[:i]
	}
	if ext == "" || ext == contentType {
		return "png"
	}
	return ext
}

// diag prints a single marked diagnostic line on the terminal.
func (r *Renderer) diag(format string, args ...any) {
	fmt.Fprintf(r.out, "%s %s\n", r.warn("⚠"), fmt.Sprintf(format, args...))
}
