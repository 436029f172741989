package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"sync"
	"time"

	"chat-bridge/internal/domain"
)

const (
	defaultBaseURL        = "https://api.openai.com/v1"
	responseHeaderTimeout = 30 * time.Second
	maxErrorBody          = 4096
	maxWholeBody          = 1 << 20
	keyFetchTimeout       = 5 * time.Second
)

// responsesRequest is the minimal request shape for the Responses endpoint.
type responsesRequest struct {
	Model        string              `json:"model"`
	Instructions string              `json:"instructions,omitempty"`
	Input        domain.Conversation `json:"input"`
	Stream       bool                `json:"stream"`
}

// responseObject is the subset of a non-streamed Responses payload we read.
type responseObject struct {
	ID         string `json:"id"`
	Status     string `json:"status"`
	OutputText string `json:"output_text"`
	Output     []struct {
		Type    string `json:"type"`
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	} `json:"output"`
	Error *apiError `json:"error"`
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// tokenPayload is the expected JSON shape stored in SSM for the API token.
type tokenPayload struct {
	Token string `json:"token"`
}

type Getter interface {
	GetParameter(ctx context.Context, name string) (string, error)
}

// HTTPStatusError captures non-2xx upstream responses with status-aware context.
type HTTPStatusError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("openai: unexpected status %d from %s: %s", e.StatusCode, e.URL, e.Body)
}

func (e *HTTPStatusError) HTTPStatusCode() int {
	return e.StatusCode
}

// Client is a focused OpenAI-compatible client for the Responses API.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	getter      Getter
	paramPrefix string

	keyMu  sync.Mutex
	apiKey string
}

type Option func(*Client)

func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimSpace(baseURL)
	}
}

// WithHTTPClient replaces the streaming HTTP client. A nil client is ignored.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		if httpClient != nil {
			c.httpClient = httpClient
		}
	}
}

// NewClient creates a new Client backed by the given paramstore.Getter for
// API key retrieval. The key is fetched from SSM on the first call to
// CreateResponse and reused for the lifetime of the process once a fetch
// succeeds.
func NewClient(ps Getter, paramPrefix string, opts ...Option) (*Client, error) {
	if ps == nil {
		return nil, errors.New("openai: paramstore getter must not be nil")
	}
	paramPrefix = strings.TrimRight(strings.TrimSpace(paramPrefix), "/")
	if paramPrefix == "" {
		return nil, errors.New("openai: parameter prefix must not be empty")
	}
	c := &Client{
		baseURL:     defaultBaseURL,
		httpClient:  newStreamingHTTPClient(),
		getter:      ps,
		paramPrefix: paramPrefix,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// newStreamingHTTPClient bounds the wait for response headers only. A
// whole-request timeout would cut long generations; those are bounded by the
// caller's context instead.
func newStreamingHTTPClient() *http.Client {
	t := http.DefaultTransport.(*http.Transport).Clone()
	t.ResponseHeaderTimeout = responseHeaderTimeout
	return &http.Client{Transport: t}
}

// resolveAPIKey returns the cached API key, fetching it from SSM while none is
// cached. Failures are not cached; the next call fetches again. The fetch is
// detached from the caller's cancellation so one dropped request cannot fail it.
func (c *Client) resolveAPIKey(ctx context.Context) (string, error) {
	c.keyMu.Lock()
	defer c.keyMu.Unlock()
	if c.apiKey != "" {
		return c.apiKey, nil
	}

	fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), keyFetchTimeout)
	defer cancel()
	key, err := fetchAPIKeyFromParamStore(fetchCtx, c.getter, c.tokenParameterName())
	if err != nil {
		return "", err
	}
	c.apiKey = key
	return key, nil
}

func (c *Client) tokenParameterName() string {
	return c.paramPrefix + "/open-ai-token"
}

func responsesURL(baseURL string) string {
	base := strings.TrimRight(baseURL, "/")
	if base == "" {
		base = defaultBaseURL
	}
	if strings.HasSuffix(base, "/v1") {
		return base + "/responses"
	}
	return base + "/v1/responses"
}

// CreateResponse sends the request and returns a stream output when the
// upstream answers with an event stream, or a whole output otherwise. The
// stream's lifetime is bound to ctx.
func (c *Client) CreateResponse(ctx context.Context, in domain.InferenceRequest) (domain.InferenceOutput, error) {
	if strings.TrimSpace(in.ModelID) == "" {
		return domain.InferenceOutput{}, errors.New("openai: model must not be empty")
	}

	apiKey, err := c.resolveAPIKey(ctx)
	if err != nil {
		return domain.InferenceOutput{}, err
	}

	input := in.Input
	if input == nil {
		input = domain.Conversation{}
	}
	body, err := json.Marshal(responsesRequest{
		Model:        in.ModelID,
		Instructions: in.Instructions,
		Input:        input,
		Stream:       in.Stream,
	})
	if err != nil {
		return domain.InferenceOutput{}, fmt.Errorf("openai: marshal request: %w", err)
	}

	url := responsesURL(c.baseURL)

	req, reqErr := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if reqErr != nil {
		return domain.InferenceOutput{}, fmt.Errorf("openai: create request: %w", reqErr)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+apiKey)
	if in.Stream {
		req.Header.Set("Accept", "text/event-stream, application/json")
	}

	res, doErr := c.httpClient.Do(req)
	if doErr != nil {
		return domain.InferenceOutput{}, fmt.Errorf("openai: request failed: %w", doErr)
	}

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		defer func() { _ = res.Body.Close() }()
		buf, _ := io.ReadAll(io.LimitReader(res.Body, maxErrorBody))
		return domain.InferenceOutput{}, fmt.Errorf("openai: request failed: %w", &HTTPStatusError{
			StatusCode: res.StatusCode,
			URL:        url,
			Body:       string(buf),
		})
	}

	if isEventStream(res.Header.Get("Content-Type")) {
		return domain.StreamOutput(newEventStream(res.Body)), nil
	}

	defer func() { _ = res.Body.Close() }()
	raw, err := io.ReadAll(io.LimitReader(res.Body, maxWholeBody))
	if err != nil {
		return domain.InferenceOutput{}, fmt.Errorf("openai: read response body: %w", err)
	}
	return decodeWholeResponse(raw)
}

func isEventStream(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return mediaType == "text/event-stream"
}

// decodeWholeResponse prefers the response's output text; a payload without
// any text is handed on as raw JSON.
func decodeWholeResponse(raw []byte) (domain.InferenceOutput, error) {
	var payload responseObject
	if err := json.Unmarshal(raw, &payload); err != nil {
		return domain.InferenceOutput{}, fmt.Errorf("openai: decode response: %w", err)
	}
	if payload.Status == "failed" && payload.Error != nil {
		return domain.InferenceOutput{}, fmt.Errorf("openai: response failed: %s", payload.Error.Message)
	}
	if payload.OutputText != "" {
		return domain.WholeOutput(payload.OutputText), nil
	}

	var text strings.Builder
	found := false
	for _, item := range payload.Output {
		for _, part := range item.Content {
			if part.Type != "output_text" {
				continue
			}
			text.WriteString(part.Text)
			found = true
		}
	}
	if found {
		return domain.WholeOutput(text.String()), nil
	}
	return domain.WholeOutput(json.RawMessage(raw)), nil
}

func fetchAPIKeyFromParamStore(ctx context.Context, getter Getter, name string) (string, error) {
	if getter == nil {
		return "", errors.New("openai: paramstore getter is nil")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return "", errors.New("openai: token parameter name is empty")
	}

	raw, err := getter.GetParameter(ctx, name)
	if err != nil {
		return "", fmt.Errorf("openai: fetch token from paramstore: %w", err)
	}
	var tp tokenPayload
	if err := json.Unmarshal([]byte(raw), &tp); err != nil {
		return "", fmt.Errorf("openai: unmarshal paramstore token value as JSON: %w", err)
	}
	if tp.Token == "" {
		return "", fmt.Errorf("openai: API token is empty")
	}
	return tp.Token, nil
}
