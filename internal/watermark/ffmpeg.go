package watermark

import (
	"context"
	"fmt"
	"os/exec"
)

// Text is the fixed overlay burned into every output frame.
const Text = "ReelForge"

type VideoParams struct {
	InputPath  string
	OutputPath string
	Text       string
	FontPath   string
}

// DrawTextFilter builds the ffmpeg drawtext filter for the fixed overlay:
// bold small font, semi-transparent white, drop shadow, anchored to the
// bottom-right with 2%-of-width padding.
func DrawTextFilter(text, fontPath string) string {
	escaped := EscapeFFmpegText(text)
	return fmt.Sprintf(
		"drawtext=text='%s':fontfile='%s':"+
			"fontcolor=white@0.55:fontsize=h*0.035:"+
			"shadowcolor=black@0.45:shadowx=2:shadowy=2:"+
			"x=w-text_w-w*0.02:y=h-text_h-w*0.02",
		escaped, fontPath,
	)
}

// Apply re-encodes the input video with the overlay drawn onto every frame.
// Unlike a live capture pipeline, the output frame rate follows the source,
// so the result is deterministic across machines.
func Apply(ctx context.Context, p VideoParams) error {
	cmd := exec.CommandContext(ctx, "ffmpeg",
		"-i", p.InputPath,
		"-vf", DrawTextFilter(p.Text, p.FontPath),
		"-c:v", "libx264",
		"-crf", "20",
		"-preset", "fast",
		"-c:a", "copy",
		"-movflags", "+faststart",
		"-y",
		p.OutputPath,
	)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("ffmpeg watermark: %w\noutput: %s", err, string(output))
	}
	return nil
}

// Renderer applies the fixed watermark to video files.
type Renderer struct {
	FontPath string
	Text     string
}

func (r *Renderer) Render(ctx context.Context, inputPath, outputPath string) error {
	text := r.Text
	if text == "" {
		text = Text
	}
	return Apply(ctx, VideoParams{
		InputPath:  inputPath,
		OutputPath: outputPath,
		Text:       text,
		FontPath:   r.FontPath,
	})
}
