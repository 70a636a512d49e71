// Package veo is a typed client for the long-running video generation
// surface of the generative language API: submit a predictLongRunning
// request, poll the returned operation until done, then download the
// generated video bytes.
package veo

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

var (
	// ErrNoVideos is returned when the operation completes without any
	// generated videos.
	ErrNoVideos = errors.New("generation completed with no videos")

	// ErrPollTimeout is returned when the operation does not complete
	// within the configured attempt budget.
	ErrPollTimeout = errors.New("timed out waiting for operation to complete")
)

// GenerationRequest describes one generation. Image is nil when no
// reference image was supplied.
type GenerationRequest struct {
	Prompt          string
	Image           *ReferenceImage
	DurationSeconds int
	AspectRatio     string
}

// ReferenceImage is an optional image conditioning the generation.
type ReferenceImage struct {
	Data     []byte
	MIMEType string
}

// Operation is the remote job handle. VideoURIs is populated only once
// Done is true.
type Operation struct {
	Name      string
	Done      bool
	VideoURIs []string
}

// ProviderError is the structured error shape the API returns, both inside
// a failed operation and as a non-2xx response body.
type ProviderError struct {
	Code    int    `json:"code"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider error %d (%s): %s", e.Code, e.Status, e.Message)
}

// QuotaExceeded reports whether this error is the quota-exhausted case,
// which the UI routes to a dedicated notice.
func (e *ProviderError) QuotaExceeded() bool {
	return e.Code == http.StatusTooManyRequests || e.Status == "RESOURCE_EXHAUSTED"
}

type Client struct {
	httpClient      *http.Client
	baseURL         string
	apiKey          string
	model           string
	pollInterval    time.Duration
	maxPollAttempts int
}

type Options struct {
	BaseURL         string
	APIKey          string
	Model           string
	PollInterval    time.Duration
	MaxPollAttempts int
	HTTPClient      *http.Client
}

func NewClient(opts Options) *Client {
	c := &Client{
		httpClient:      opts.HTTPClient,
		baseURL:         strings.TrimSuffix(opts.BaseURL, "/"),
		apiKey:          opts.APIKey,
		model:           opts.Model,
		pollInterval:    opts.PollInterval,
		maxPollAttempts: opts.MaxPollAttempts,
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: 120 * time.Second}
	}
	if c.pollInterval <= 0 {
		c.pollInterval = time.Second
	}
	if c.maxPollAttempts <= 0 {
		c.maxPollAttempts = 300
	}
	return c
}

// Wire types.

type predictRequest struct {
	Instances  []instance `json:"instances"`
	Parameters parameters `json:"parameters"`
}

type instance struct {
	Prompt string       `json:"prompt"`
	Image  *inlineImage `json:"image,omitempty"`
}

type inlineImage struct {
	BytesBase64Encoded string `json:"bytesBase64Encoded"`
	MimeType           string `json:"mimeType"`
}

type parameters struct {
	AspectRatio     string `json:"aspectRatio"`
	DurationSeconds int    `json:"durationSeconds"`
	SampleCount     int    `json:"sampleCount"`
}

type operationResponse struct {
	Name     string           `json:"name"`
	Done     bool             `json:"done"`
	Error    *ProviderError   `json:"error,omitempty"`
	Response *operationResult `json:"response,omitempty"`
}

type operationResult struct {
	GenerateVideoResponse *generateVideoResponse `json:"generateVideoResponse,omitempty"`
}

type generateVideoResponse struct {
	GeneratedSamples []generatedSample `json:"generatedSamples"`
}

type generatedSample struct {
	Video videoRef `json:"video"`
}

type videoRef struct {
	URI string `json:"uri"`
}

// Start submits the generation request and returns the initial operation
// handle. The image instance field is present only when a reference image
// was supplied.
func (c *Client) Start(ctx context.Context, req GenerationRequest) (*Operation, error) {
	inst := instance{Prompt: req.Prompt}
	if req.Image != nil {
		inst.Image = &inlineImage{
			BytesBase64Encoded: base64.StdEncoding.EncodeToString(req.Image.Data),
			MimeType:           req.Image.MIMEType,
		}
	}
	body := predictRequest{
		Instances: []instance{inst},
		Parameters: parameters{
			AspectRatio:     req.AspectRatio,
			DurationSeconds: req.DurationSeconds,
			SampleCount:     1,
		},
	}

	endpoint := fmt.Sprintf("%s/v1beta/models/%s:predictLongRunning?key=%s",
		c.baseURL, c.model, url.QueryEscape(c.apiKey))

	op, err := c.doOperation(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return nil, err
	}
	if op.Name == "" {
		return nil, errors.New("response missing operation name")
	}
	return op, nil
}

// GetOperation re-queries the operation status once.
func (c *Client) GetOperation(ctx context.Context, name string) (*Operation, error) {
	endpoint := fmt.Sprintf("%s/v1beta/%s?key=%s", c.baseURL, name, url.QueryEscape(c.apiKey))
	op, err := c.doOperation(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	if op.Name == "" {
		op.Name = name
	}
	return op, nil
}

// Wait polls the operation until it is done, up to the attempt budget.
// Exactly the first done response's results are consumed. onPoll, when
// non-nil, is invoked before each status query with the 1-based attempt
// number.
func (c *Client) Wait(ctx context.Context, op *Operation, onPoll func(attempt int)) (*Operation, error) {
	if op.Done {
		return op, nil
	}
	for attempt := 1; attempt <= c.maxPollAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(c.pollInterval):
		}

		if onPoll != nil {
			onPoll(attempt)
		}
		next, err := c.GetOperation(ctx, op.Name)
		if err != nil {
			return nil, err
		}
		if next.Done {
			return next, nil
		}
		op = next
	}
	return nil, ErrPollTimeout
}

// Download fetches the raw video bytes from a generated video URI,
// appending the API key query parameter the download endpoint requires.
func (c *Client) Download(ctx context.Context, uri string) ([]byte, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return nil, fmt.Errorf("parse download uri: %w", err)
	}
	q := u.Query()
	q.Set("key", c.apiKey)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return nil, readAPIError(resp)
	}
	return io.ReadAll(resp.Body)
}

// Generate runs the full submit, poll-until-done, fetch sequence and
// returns the first generated video's bytes.
func (c *Client) Generate(ctx context.Context, req GenerationRequest) ([]byte, error) {
	op, err := c.Start(ctx, req)
	if err != nil {
		return nil, err
	}
	op, err = c.Wait(ctx, op, nil)
	if err != nil {
		return nil, err
	}
	if len(op.VideoURIs) == 0 {
		return nil, ErrNoVideos
	}
	return c.Download(ctx, op.VideoURIs[0])
}

func (c *Client) doOperation(ctx context.Context, method, endpoint string, body any) (*Operation, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return nil, readAPIError(resp)
	}

	var parsed operationResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode operation: %w", err)
	}
	if parsed.Done && parsed.Error != nil {
		return nil, parsed.Error
	}

	op := &Operation{Name: parsed.Name, Done: parsed.Done}
	if parsed.Done && parsed.Response != nil && parsed.Response.GenerateVideoResponse != nil {
		for _, s := range parsed.Response.GenerateVideoResponse.GeneratedSamples {
			if s.Video.URI != "" {
				op.VideoURIs = append(op.VideoURIs, s.Video.URI)
			}
		}
	}
	return op, nil
}

// readAPIError turns a non-2xx response into a *ProviderError when the body
// matches the structured shape, or a raw-text error otherwise.
func readAPIError(resp *http.Response) error {
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("api error (%d): %v", resp.StatusCode, err)
	}
	var wrapper struct {
		Error *ProviderError `json:"error"`
	}
	if err := json.Unmarshal(data, &wrapper); err == nil && wrapper.Error != nil && wrapper.Error.Code != 0 {
		return wrapper.Error
	}
	text := strings.TrimSpace(string(data))
	if text == "" {
		text = resp.Status
	}
	return fmt.Errorf("api error (%d): %s", resp.StatusCode, text)
}
