// Package anthropic implements provider.Provider against the Anthropic
// /v1/messages API over plain HTTP.
package anthropic

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"github.com/pario-ai/sendchat/pkg/models"
	"github.com/pario-ai/sendchat/pkg/provider"
)

const (
	// DefaultURL is the public Anthropic API endpoint.
	DefaultURL = "https://api.anthropic.com"
	// DefaultVersion is sent as the anthropic-version header.
	DefaultVersion = "2023-06-01"
	// DefaultMaxTokens is used when the request does not set max tokens;
	// the API requires a value.
	DefaultMaxTokens = 4096
)

// Client is an Anthropic Messages API provider.
type Client struct {
	name    string
	baseURL string
	apiKey  string
	version string
	http    *http.Client
}

// New creates a Client. An empty baseURL selects DefaultURL and a nil
// httpClient selects http.DefaultClient.
func New(name, baseURL, apiKey string, httpClient *http.Client) *Client {
	if baseURL == "" {
		baseURL = DefaultURL
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		name:    name,
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		version: DefaultVersion,
		http:    httpClient,
	}
}

// Name returns the configured provider name.
func (c *Client) Name() string { return c.name }

// Complete implements provider.Provider.
func (c *Client) Complete(ctx context.Context, req *models.CompletionRequest) (*models.CompletionResponse, error) {
	body, err := json.Marshal(toAnthropicRequest(req))
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	resp, err := c.doUpstreamRequest(ctx, req.ExtraHeaders, body)
	if err != nil {
		return nil, provider.Wrap(c.name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, c.statusError(resp)
	}

	if req.Stream {
		out, err := readStream(c.name, resp.Body)
		if err != nil {
			return nil, provider.Wrap(c.name, err)
		}
		return out, nil
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, provider.Wrap(c.name, fmt.Errorf("read response: %w", err))
	}
	var anthResp models.AnthropicResponse
	if err := json.Unmarshal(data, &anthResp); err != nil {
		return nil, &provider.Error{
			Kind:     provider.KindMalformedResponse,
			Provider: c.name,
			Err:      fmt.Errorf("decode response: %w", err),
		}
	}
	return fromAnthropicResponse(&anthResp), nil
}

// doUpstreamRequest posts body to the messages endpoint. The caller owns
// resp.Body.
func (c *Client) doUpstreamRequest(ctx context.Context, extra map[string]string, body []byte) (*http.Response, error) {
	target, err := url.Parse(c.baseURL + "/v1/messages")
	if err != nil {
		return nil, fmt.Errorf("invalid provider URL: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target.String(), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("anthropic-version", c.version)
	for k, v := range extra {
		req.Header.Set(k, v)
	}

	return c.http.Do(req)
}

func (c *Client) statusError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	msg := strings.TrimSpace(string(data))

	var envelope models.AnthropicError
	if err := json.Unmarshal(data, &envelope); err == nil && envelope.Error.Message != "" {
		msg = envelope.Error.Message
	}
	return provider.NewStatusError(c.name, resp.StatusCode, errors.New(msg))
}

func toAnthropicRequest(req *models.CompletionRequest) *models.AnthropicRequest {
	out := &models.AnthropicRequest{
		Model:     req.Model,
		MaxTokens: DefaultMaxTokens,
		Stream:    req.Stream,
	}
	temp := req.Temperature
	out.Temperature = &temp
	if req.MaxTokens != nil {
		out.MaxTokens = *req.MaxTokens
	}

	var system []string
	for _, m := range req.Messages {
		if m.Role == models.RoleSystem {
			system = append(system, m.Content)
			continue
		}
		out.Messages = append(out.Messages, m)
	}
	out.System = strings.Join(system, "\n\n")

	for _, f := range req.Functions {
		schema := f.Parameters
		if schema == nil {
			schema = map[string]any{"type": "object"}
		}
		out.Tools = append(out.Tools, models.AnthropicTool{
			Name:        f.Name,
			Description: f.Description,
			InputSchema: schema,
		})
	}
	return out
}

func fromAnthropicResponse(resp *models.AnthropicResponse) *models.CompletionResponse {
	var text strings.Builder
	var calls []models.ToolCall
	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			text.WriteString(block.Text)
		case "tool_use":
			args, _ := json.Marshal(block.Input)
			calls = append(calls, models.ToolCall{ID: block.ID, Name: block.Name, Arguments: string(args)})
		}
	}

	out := &models.CompletionResponse{
		ID:     resp.ID,
		Object: "chat.completion",
		Model:  resp.Model,
		Choices: []models.Choice{{
			Message:      &models.Message{Role: models.RoleAssistant, Content: text.String()},
			ToolCalls:    calls,
			FinishReason: resp.StopReason,
		}},
	}
	if resp.Usage != nil {
		out.Usage = resp.Usage.ToUsage()
	}
	return out
}

// readStream accumulates an Anthropic SSE stream into a single response.
func readStream(name string, r io.Reader) (*models.CompletionResponse, error) {
	out := &models.CompletionResponse{Object: "chat.completion"}
	var text strings.Builder
	var stop string
	calls := make(map[int]*models.ToolCall)

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := []byte(strings.TrimPrefix(line, "data: "))
		var evt models.AnthropicStreamEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			continue
		}

		switch evt.Type {
		case "message_start":
			var msg struct {
				ID    string                 `json:"id"`
				Model string                 `json:"model"`
				Usage *models.AnthropicUsage `json:"usage,omitempty"`
			}
			if err := json.Unmarshal(evt.Message, &msg); err == nil {
				out.ID = msg.ID
				out.Model = msg.Model
				if msg.Usage != nil {
					out.Usage = msg.Usage.ToUsage()
				}
			}
		case "content_block_start":
			var block models.AnthropicContent
			if err := json.Unmarshal(evt.ContentBlock, &block); err == nil && block.Type == "tool_use" {
				calls[evt.Index] = &models.ToolCall{ID: block.ID, Name: block.Name}
			}
		case "content_block_delta":
			var d models.AnthropicDelta
			if err := json.Unmarshal(evt.Delta, &d); err != nil {
				continue
			}
			switch d.Type {
			case "text_delta":
				text.WriteString(d.Text)
			case "input_json_delta":
				if call, ok := calls[evt.Index]; ok {
					call.Arguments += d.PartialJSON
				}
			}
		case "message_delta":
			var d models.AnthropicDelta
			if err := json.Unmarshal(evt.Delta, &d); err == nil && d.StopReason != "" {
				stop = d.StopReason
			}
			if evt.Usage != nil {
				if out.Usage == nil {
					out.Usage = &models.Usage{}
				}
				out.Usage.CompletionTokens = evt.Usage.OutputTokens
				out.Usage.TotalTokens = out.Usage.PromptTokens + evt.Usage.OutputTokens
			}
		case "error":
			var envelope models.AnthropicError
			_ = json.Unmarshal(data, &envelope)
			return nil, &provider.Error{
				Kind:     kindForErrorType(envelope.Error.Type),
				Provider: name,
				Err:      fmt.Errorf("stream error: %s", envelope.Error.Message),
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading stream: %w", err)
	}

	choice := models.Choice{
		Message:      &models.Message{Role: models.RoleAssistant, Content: text.String()},
		FinishReason: stop,
	}
	indexes := make([]int, 0, len(calls))
	for i := range calls {
		indexes = append(indexes, i)
	}
	sort.Ints(indexes)
	for _, i := range indexes {
		call := *calls[i]
		if call.Arguments == "" {
			call.Arguments = "{}"
		}
		choice.ToolCalls = append(choice.ToolCalls, call)
	}
	out.Choices = []models.Choice{choice}
	return out, nil
}

// kindForErrorType maps the error.type of an in-stream error event.
func kindForErrorType(t string) provider.Kind {
	switch t {
	case "overloaded_error":
		return provider.KindUnavailable
	case "rate_limit_error":
		return provider.KindRateLimit
	case "api_error":
		return provider.KindServer
	case "invalid_request_error":
		return provider.KindBadRequest
	default:
		return provider.KindUnknown
	}
}
