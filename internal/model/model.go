package model

import "time"

// Run states. A run is terminal in StateReady or StateFailed; a degraded run
// (watermarking failed, original presented) is still StateReady with
// Watermarked=false.
const (
	StatePending    = "PENDING"
	StateSubmitting = "SUBMITTING"
	StatePolling    = "POLLING"
	StateRendering  = "RENDERING"
	StateReady      = "READY"
	StateFailed     = "FAILED"
)

// Error kinds recorded on failed runs.
const (
	ErrKindQuota     = "quota"
	ErrKindProvider  = "provider"
	ErrKindTransport = "transport"
	ErrKindNoOutput  = "no_output"
	ErrKindTimeout   = "timeout"
)

// Fixed download filenames. The original name marks an output whose
// watermarking failed and which carries the unmodified provider bytes.
const (
	DownloadFilename         = "reelforge-video.mp4"
	DownloadFilenameOriginal = "reelforge-video-original.mp4"
)

// Run is one generation run: submit, poll, fetch, render, present.
type Run struct {
	ID              string
	State           string
	Prompt          string
	DurationSeconds int
	AspectRatio     string
	HasImage        bool
	ImageMime       string
	OperationName   string
	Watermarked     bool
	VideoPath       string
	SHA256          string
	SizeBytes       int64
	Width           *int64
	Height          *int64
	VideoDuration   *float64
	ErrorKind       string
	ErrorMessage    string
	CreatedAt       time.Time
	StartedAt       *time.Time
	CompletedAt     *time.Time
}

// Terminal reports whether the run has reached a final state.
func (r *Run) Terminal() bool {
	return r.State == StateReady || r.State == StateFailed
}
