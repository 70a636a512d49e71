package watermark

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
)

type ProbeResult struct {
	DurationSecs float64
	Width        int64
	Height       int64
	VideoCodec   string
}

type ffprobeOutput struct {
	Streams []struct {
		CodecType string `json:"codec_type"`
		CodecName string `json:"codec_name"`
		Width     int64  `json:"width"`
		Height    int64  `json:"height"`
	} `json:"streams"`
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

// Probe reads the video stream dimensions and container duration of a file.
// It fails when the file has no video stream.
func Probe(ctx context.Context, filePath string) (*ProbeResult, error) {
	cmd := exec.CommandContext(ctx, "ffprobe",
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		filePath,
	)
	output, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("ffprobe: %w", err)
	}

	var parsed ffprobeOutput
	if err := json.Unmarshal(output, &parsed); err != nil {
		return nil, fmt.Errorf("parse ffprobe output: %w", err)
	}

	result := &ProbeResult{}
	if parsed.Format.Duration != "" {
		result.DurationSecs, _ = strconv.ParseFloat(parsed.Format.Duration, 64)
	}
	for _, s := range parsed.Streams {
		if s.CodecType == "video" {
			result.VideoCodec = s.CodecName
			result.Width = s.Width
			result.Height = s.Height
			break
		}
	}
	if result.VideoCodec == "" {
		return nil, errors.New("ffprobe: no video stream")
	}
	return result, nil
}
