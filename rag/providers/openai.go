package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

func init() {
	RegisterEmbedder("openai", NewOpenAIEmbedder)
}

// Default settings for the OpenAI embedder.
const (
	defaultEmbeddingAPI = "https://api.openai.com/v1/embeddings"
	defaultModelName    = "text-embedding-3-small"
	defaultMaxRetries   = 3
	defaultTimeout      = 60 * time.Second

	// maxInputChars is a conservative cap on a single input text; the API
	// rejects longer inputs with a much less helpful message.
	maxInputChars = 1_000_000
)

// OpenAIEmbedder calls an OpenAI-compatible embeddings endpoint over HTTPS
// with a bearer token. Transient failures are retried internally with
// exponential backoff; rate-limit responses honor the server's Retry-After
// hint. The embedder is safe for concurrent use.
type OpenAIEmbedder struct {
	apiKey     string
	client     *http.Client
	apiURL     string
	modelName  string
	dimensions int
	maxRetries int
}

// NewOpenAIEmbedder creates an OpenAI embedding provider. The configuration
// requires "api_key" and optionally accepts:
//   - model: embedding model (default text-embedding-3-small)
//   - api_url: custom endpoint URL
//   - timeout: per-request time.Duration (default 60s)
//   - dimensions: output dimensionality when it cannot be inferred from the model
//   - max_retries: retry cap for transient failures (default 3)
func NewOpenAIEmbedder(config map[string]interface{}) (Embedder, error) {
	apiKey, ok := config["api_key"].(string)
	if !ok || apiKey == "" {
		return nil, fmt.Errorf("API key is required for OpenAI embedder")
	}

	e := &OpenAIEmbedder{
		apiKey:     apiKey,
		client:     &http.Client{Timeout: defaultTimeout},
		apiURL:     defaultEmbeddingAPI,
		modelName:  defaultModelName,
		maxRetries: defaultMaxRetries,
	}

	if model, ok := config["model"].(string); ok && model != "" {
		e.modelName = model
	}
	if apiURL, ok := config["api_url"].(string); ok && apiURL != "" {
		e.apiURL = apiURL
	}
	if timeout, ok := config["timeout"].(time.Duration); ok {
		e.client.Timeout = timeout
	}
	if retries, ok := config["max_retries"].(int); ok && retries >= 0 {
		e.maxRetries = retries
	}
	if dims, ok := config["dimensions"].(int); ok && dims > 0 {
		e.dimensions = dims
	} else {
		e.dimensions = modelDimensions(e.modelName)
		if e.dimensions == 0 {
			return nil, fmt.Errorf("unknown model %q: set the dimensions option explicitly", e.modelName)
		}
	}

	return e, nil
}

func modelDimensions(model string) int {
	switch model {
	case "text-embedding-3-small", "text-embedding-ada-002":
		return 1536
	case "text-embedding-3-large":
		return 3072
	}
	return 0
}

// Dimensions returns the output dimensionality of the configured model.
func (e *OpenAIEmbedder) Dimensions() int {
	return e.dimensions
}

// Embed converts one text into its vector representation.
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedBatch converts texts into vectors, preserving order. An empty input
// returns an empty result without any network call.
func (e *OpenAIEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	for i, text := range texts {
		if strings.TrimSpace(text) == "" {
			return nil, &APIError{Code: ErrInvalidInput, Message: fmt.Sprintf("text %d is empty", i)}
		}
		if len(text) > maxInputChars {
			return nil, &APIError{Code: ErrInvalidInput, Message: fmt.Sprintf("text %d exceeds %d characters", i, maxInputChars)}
		}
	}

	for attempt := 0; ; attempt++ {
		vectors, err := e.request(ctx, texts)
		if err == nil {
			return vectors, nil
		}

		var apiErr *APIError
		if !errors.As(err, &apiErr) || !apiErr.Retriable() || attempt >= e.maxRetries {
			return nil, err
		}

		delay := 250 * time.Millisecond << uint(attempt)
		if apiErr.RetryAfter > 0 {
			delay = apiErr.RetryAfter
		}
		select {
		case <-ctx.Done():
			return nil, &APIError{Code: ErrTimeout, Message: ctx.Err().Error()}
		case <-time.After(delay):
		}
	}
}

type embeddingRequest struct {
	Input []string `json:"input"`
	Model string   `json:"model"`
}

type embeddingResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	} `json:"error"`
}

// request performs one embeddings call without retrying.
func (e *OpenAIEmbedder) request(ctx context.Context, texts []string) ([][]float32, error) {
	reqBody, err := json.Marshal(embeddingRequest{
		Input: texts,
		Model: e.modelName,
	})
	if err != nil {
		return nil, fmt.Errorf("error marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.apiURL, bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+e.apiKey)

	resp, err := e.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, &APIError{Code: ErrTimeout, Message: ctx.Err().Error()}
		}
		return nil, &APIError{Code: ErrTimeout, Message: err.Error()}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &APIError{Code: ErrAPIError, Message: "error reading response body: " + err.Error()}
	}

	if resp.StatusCode != http.StatusOK {
		return nil, classifyStatus(resp, body)
	}

	var embeddingResp embeddingResponse
	if err := json.Unmarshal(body, &embeddingResp); err != nil {
		return nil, &APIError{Code: ErrAPIError, Status: resp.StatusCode, Message: "error unmarshaling response: " + err.Error()}
	}
	if len(embeddingResp.Data) != len(texts) {
		return nil, &APIError{
			Code:    ErrAPIError,
			Status:  resp.StatusCode,
			Message: fmt.Sprintf("expected %d embeddings, got %d", len(texts), len(embeddingResp.Data)),
		}
	}

	vectors := make([][]float32, len(texts))
	for _, d := range embeddingResp.Data {
		if d.Index < 0 || d.Index >= len(texts) {
			return nil, &APIError{Code: ErrAPIError, Message: fmt.Sprintf("embedding index %d out of range", d.Index)}
		}
		if len(d.Embedding) == 0 {
			return nil, &APIError{Code: ErrAPIError, Message: fmt.Sprintf("empty embedding at index %d", d.Index)}
		}
		vectors[d.Index] = d.Embedding
	}
	for i, v := range vectors {
		if v == nil {
			return nil, &APIError{Code: ErrAPIError, Message: fmt.Sprintf("missing embedding for input %d", i)}
		}
	}
	return vectors, nil
}

// classifyStatus maps an HTTP failure to the provider error taxonomy.
func classifyStatus(resp *http.Response, body []byte) *APIError {
	message := strings.TrimSpace(string(body))
	var parsed embeddingResponse
	if json.Unmarshal(body, &parsed) == nil && parsed.Error != nil {
		message = parsed.Error.Message
		if parsed.Error.Code == "insufficient_quota" || parsed.Error.Type == "insufficient_quota" {
			return &APIError{Code: ErrQuotaExceeded, Status: resp.StatusCode, Message: message}
		}
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return &APIError{Code: ErrUnauthorized, Status: resp.StatusCode, Message: message}
	case resp.StatusCode == http.StatusTooManyRequests:
		return &APIError{
			Code:       ErrRateLimitExceeded,
			Status:     resp.StatusCode,
			Message:    message,
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
		}
	case resp.StatusCode == http.StatusRequestTimeout:
		return &APIError{Code: ErrTimeout, Status: resp.StatusCode, Message: message}
	case resp.StatusCode >= 500:
		return &APIError{Code: ErrAPIError, Status: resp.StatusCode, Message: message}
	case resp.StatusCode >= 400:
		return &APIError{Code: ErrInvalidInput, Status: resp.StatusCode, Message: message}
	}
	return &APIError{Code: ErrAPIError, Status: resp.StatusCode, Message: message}
}

func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}
	if secs, err := strconv.Atoi(header); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(header); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}
