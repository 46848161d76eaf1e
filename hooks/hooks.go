// Package hooks provides the two test-runner integration points: a
// pre-test factory that attaches an observer to the test's page, and a
// post-test factory that captures failure diagnostics and converts any
// screen recording for terminal playback.
package hooks

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/tabscope/tabscope/event"
	"github.com/tabscope/tabscope/log"
	"github.com/tabscope/tabscope/observer"
	"github.com/tabscope/tabscope/render"
)

// Renderer is the rendering capability the hooks need. Satisfied by
// *render.Renderer; tests substitute a recording stub.
type Renderer interface {
	RenderFile(ctx context.Context, path string) error
	RenderResponseBody(ctx context.Context, resp event.Response) error
	ConvertVideo(ctx context.Context, template, videoPath, gifPath string) error
}

// Config wires the hooks. Zero fields get working defaults.
type Config struct {
	// Options for the observers constructed by the setup hook. A zero
	// value resolves DefaultOptions from the process environment.
	Options *observer.Options
	// Renderer executes the external tools. Defaults to a real
	// render.Renderer built from Options.RenderCommand.
	Renderer Renderer
	// ConvertTemplate is the video conversion command template with
	// {video} and {gif} placeholders. Empty uses the built-in default.
	ConvertTemplate string
	// Logger for internal diagnostics.
	Logger *log.Logger
	// Out is the terminal writer. Defaults to os.Stdout.
	Out io.Writer
}

func (c Config) withDefaults() Config {
	if c.Options == nil {
		opts := observer.DefaultOptions(nil)
		c.Options = &opts
	}
	if c.Logger == nil {
		c.Logger = log.NewNullLogger()
	}
	if c.Out == nil {
		c.Out = os.Stdout
	}
	if c.Renderer == nil {
		c.Renderer = render.New(c.Options.RenderCommand,
			render.WithOutput(c.Out), render.WithLogger(c.Logger))
	}
	return c
}

// SetupFunc returns the pre-test callback. Register it with the test
// framework's before-test hook; it attaches a passively listening
// observer to the test's page.
func SetupFunc(cfg Config) func(page event.Page) *observer.Observer {
	cfg = cfg.withDefaults()
	return func(page event.Page) *observer.Observer {
		return observer.New(page, *cfg.Options, cfg.Renderer, cfg.Logger, cfg.Out)
	}
}

// TeardownFunc returns the post-test callback. On a failed test it
// forces one screenshot capture-and-render regardless of the observer's
// configuration, then waits for the browsing context to close so any
// recorded video is fully flushed, converts a non-empty recording to an
// animated GIF and renders it. A missing or zero-byte video is a no-op.
// waitClosed may be nil when the runner closes the context itself
// before calling the hook.
func TeardownFunc(cfg Config) func(ctx context.Context, page event.Page, obs *observer.Observer, failed bool, waitClosed func(context.Context) error) error {
	cfg = cfg.withDefaults()
	return func(ctx context.Context, page event.Page, obs *observer.Observer, failed bool, waitClosed func(context.Context) error) error {
		if obs == nil {
			opts := *cfg.Options
			opts.Listen = false
			obs = observer.New(page, opts, cfg.Renderer, cfg.Logger, cfg.Out)
		}

		if failed {
			// Failure diagnostics take priority over configuration.
			obs.CaptureScreenshot(ctx, page)
		}

		if waitClosed != nil {
			if err := waitClosed(ctx); err != nil {
				cfg.Logger.Warnf("hooks:Teardown", "waiting for context close: %v", err)
			}
		}

		video := page.Video()
		if video == nil {
			return nil
		}
		videoPath, err := video.Path()
		if err != nil {
			cfg.Logger.Debugf("hooks:Teardown", "no video path: %v", err)
			return nil
		}
		fi, err := os.Stat(videoPath)
		if err != nil || fi.Size() == 0 {
			// Recorders leave a zero-byte placeholder when nothing was
			// captured; that is not an error.
			cfg.Logger.Debugf("hooks:Teardown", "no usable video at %q", videoPath)
			return nil
		}

		gifPath := strings.TrimSuffix(videoPath, filepath.Ext(videoPath)) + ".gif"
		if err := cfg.Renderer.ConvertVideo(ctx, cfg.ConvertTemplate, videoPath, gifPath); err != nil {
			// Already reported; treated as "no artifact produced".
			return nil
		}
		if err := cfg.Renderer.RenderFile(ctx, gifPath); err != nil {
			cfg.Logger.Debugf("hooks:Teardown", "rendering %s: %v", gifPath, err)
		}
		return nil
	}
}
