package render

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// DefaultConvertTemplate turns a screen recording into an animated GIF.
// Frame rate and scale are tuned for terminal playback, not fidelity.
const DefaultConvertTemplate = "ffmpeg -y -loglevel error -i {video} -vf fps=5,scale=640:-1:flags=lanczos {gif}"

// Placeholders substituted in the conversion template.
const (
	placeholderVideo = "{video}"
	placeholderGIF   = "{gif}"
)

// ConvertVideo runs the conversion command template with the
// placeholders replaced by real paths. Success is exit-code based; a
// failed conversion is reported and returned but never fatal.
func (r *Renderer) ConvertVideo(ctx context.Context, template, videoPath, gifPath string) error {
	if template == "" {
		template = DefaultConvertTemplate
	}

	parts := strings.Fields(template)
	if len(parts) < 2 {
		r.diag("invalid video conversion template %q", template)
		return fmt.Errorf("invalid video conversion template %q", template)
	}
	args := make([]string, 0, len(parts)-1)
	for _, p := range parts[1:] {
		p = strings.ReplaceAll(p, placeholderVideo, videoPath)
		p = strings.ReplaceAll(p, placeholderGIF, gifPath)
		args = append(args, p)
	}

	cmd := exec.CommandContext(ctx, parts[0], args...) //nolint:gosec
	if out, err := cmd.CombinedOutput(); err != nil {
		r.diag("converting %s: %v", videoPath, err)
		r.logger.Debugf("Renderer:ConvertVideo", "converter output: %s", out)
		return fmt.Errorf("converting %q: %w", videoPath, err)
	}
	r.logger.Debugf("Renderer:ConvertVideo", "converted %q to %q", videoPath, gifPath)
	return nil
}
