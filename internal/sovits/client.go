// Package sovits provides the HTTP client and generation engine for the
// GPT-SoVITS api_v2 service.
//
// The client encodes the explicit api_v2 contract: JSON synthesis requests
// against /tts, model weight swaps via query-parameter GETs, and a root
// endpoint probe for liveness.
package sovits

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// API endpoints and paths.
const (
	apiTTS              = "/tts"
	apiSetGPTWeights    = "/set_gpt_weights"
	apiSetSoVITSWeights = "/set_sovits_weights"
	apiControl          = "/control"
)

// HTTP headers.
const (
	headerContentType = "Content-Type"
	contentTypeJSON   = "application/json"
)

// Default sampling values matching api_v2's own defaults.
const (
	defaultTopK            = 5
	defaultTopP            = 1.0
	defaultTemperature     = 1.0
	defaultTextSplitMethod = "cut5"
	defaultBatchSize       = 1
	defaultSpeedFactor     = 1.0
	defaultLanguage        = "zh"
)

// Static errors.
var (
	ErrTextEmpty        = errors.New("text cannot be empty")
	ErrRefAudioEmpty    = errors.New("reference audio path cannot be empty")
	ErrWeightsPathEmpty = errors.New("weights path cannot be empty")
	ErrEmptyAudio       = errors.New("received empty audio data")
	ErrServiceUnhealthy = errors.New("api_v2 service is not reachable")
)

// Client is an HTTP client for a running GPT-SoVITS api_v2 instance.
type Client struct {
	httpClient *http.Client
	baseURL    string
}

// TTSRequest is the JSON payload for a /tts synthesis call. The field set
// mirrors the api_v2 contract; zero values for sampling parameters are
// replaced with the service defaults before sending.
type TTSRequest struct {
	Text             string   `json:"text"`
	TextLang         string   `json:"text_lang"`
	RefAudioPath     string   `json:"ref_audio_path"`
	PromptText       string   `json:"prompt_text"`
	PromptLang       string   `json:"prompt_lang"`
	AuxRefAudioPaths []string `json:"aux_ref_audio_paths,omitempty"`
	TopK             int      `json:"top_k"`
	TopP             float64  `json:"top_p"`
	Temperature      float64  `json:"temperature"`
	TextSplitMethod  string   `json:"text_split_method"`
	BatchSize        int      `json:"batch_size"`
	SpeedFactor      float64  `json:"speed_factor"`
	StreamingMode    bool     `json:"streaming_mode"`
}

// errorResponse is the structured error body api_v2 returns on failures.
type errorResponse struct {
	Message string `json:"message"`
}

// NewClient creates a client for the api_v2 service at baseURL
// (e.g. "http://127.0.0.1:9880"). The timeout applies to every request.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Health probes the service root. api_v2 registers no handler at "/", so a
// 404 still proves the server is up; only transport failures and 5xx count
// as unhealthy.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/", http.NoBody)
	if err != nil {
		return fmt.Errorf("failed to create health request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w at %s: %w", ErrServiceUnhealthy, c.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNotFound {
		return fmt.Errorf("%w: unexpected status %s", ErrServiceUnhealthy, resp.Status)
	}

	return nil
}

// Synthesize sends a /tts request and returns the raw WAV data.
func (c *Client) Synthesize(ctx context.Context, req TTSRequest) ([]byte, error) {
	if req.Text == "" {
		return nil, ErrTextEmpty
	}

	if req.RefAudioPath == "" {
		return nil, ErrRefAudioEmpty
	}

	applyDefaults(&req)

	requestBody, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal tts request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		c.baseURL+apiTTS,
		bytes.NewBuffer(requestBody),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create tts request: %w", err)
	}

	httpReq.Header.Set(headerContentType, contentTypeJSON)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to send tts request to %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.parseErrorResponse(resp)
	}

	audioData, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read audio data: %w", err)
	}

	if len(audioData) == 0 {
		return nil, ErrEmptyAudio
	}

	return audioData, nil
}

// SetGPTWeights points the service at a trained GPT stage-1 checkpoint.
func (c *Client) SetGPTWeights(ctx context.Context, weightsPath string) error {
	return c.setWeights(ctx, apiSetGPTWeights, weightsPath)
}

// SetSoVITSWeights points the service at a trained SoVITS stage-2 checkpoint.
func (c *Client) SetSoVITSWeights(ctx context.Context, weightsPath string) error {
	return c.setWeights(ctx, apiSetSoVITSWeights, weightsPath)
}

// Restart asks the service to restart itself via the /control endpoint.
func (c *Client) Restart(ctx context.Context) error {
	body, err := json.Marshal(map[string]string{"command": "restart"})
	if err != nil {
		return fmt.Errorf("failed to marshal control request: %w", err)
	}

	req, err := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		c.baseURL+apiControl,
		bytes.NewBuffer(body),
	)
	if err != nil {
		return fmt.Errorf("failed to create control request: %w", err)
	}

	req.Header.Set(headerContentType, contentTypeJSON)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send control request: %w", err)
	}
	defer resp.Body.Close()

	return nil
}

// setWeights performs the query-parameter GET the api_v2 weight endpoints use.
func (c *Client) setWeights(ctx context.Context, endpoint, weightsPath string) error {
	if weightsPath == "" {
		return ErrWeightsPathEmpty
	}

	query := url.Values{}
	query.Set("weights_path", weightsPath)

	requestURL := c.baseURL + endpoint + "?" + query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, http.NoBody)
	if err != nil {
		return fmt.Errorf("failed to create weights request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to set weights via %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return c.parseErrorResponse(resp)
	}

	return nil
}

// parseErrorResponse attempts to decode a structured JSON error from the
// service, falling back to the raw body so diagnostics are never lost.
func (c *Client) parseErrorResponse(resp *http.Response) error {
	body, readErr := io.ReadAll(resp.Body)
	if readErr != nil {
		return fmt.Errorf("api_v2 returned %s and the body could not be read: %w", resp.Status, readErr)
	}

	var errorResp errorResponse

	err := json.Unmarshal(body, &errorResp)
	if err == nil && errorResp.Message != "" {
		return fmt.Errorf("api_v2 error (%s): %s", resp.Status, errorResp.Message)
	}

	return fmt.Errorf("api_v2 returned non-OK status: %s, body: %s", resp.Status, string(body))
}

func applyDefaults(req *TTSRequest) {
	if req.TextLang == "" {
		req.TextLang = defaultLanguage
	}

	if req.PromptLang == "" {
		req.PromptLang = req.TextLang
	}

	if req.TopK == 0 {
		req.TopK = defaultTopK
	}

	if req.TopP == 0 {
		req.TopP = defaultTopP
	}

	if req.Temperature == 0 {
		req.Temperature = defaultTemperature
	}

	if req.TextSplitMethod == "" {
		req.TextSplitMethod = defaultTextSplitMethod
	}

	if req.BatchSize == 0 {
		req.BatchSize = defaultBatchSize
	}

	if req.SpeedFactor == 0 {
		req.SpeedFactor = defaultSpeedFactor
	}
}
