// Package openai implements provider.Provider on top of the official
// openai-go SDK's Chat Completions API. Any OpenAI-compatible endpoint can be
// targeted through option.WithBaseURL.
package openai

import (
	"context"
	"errors"
	"sort"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/shared"

	"github.com/pario-ai/sendchat/pkg/models"
	"github.com/pario-ai/sendchat/pkg/provider"
)

// Client is a Chat Completions provider.
type Client struct {
	cli  openai.Client
	name string
}

// New creates a Client. The SDK's own retries are disabled; retrying is the
// dispatcher's job.
func New(name string, opts ...option.RequestOption) *Client {
	opts = append([]option.RequestOption{option.WithMaxRetries(0)}, opts...)
	return &Client{
		cli:  openai.NewClient(opts...),
		name: name,
	}
}

// Name returns the configured provider name.
func (c *Client) Name() string { return c.name }

// Complete implements provider.Provider.
func (c *Client) Complete(ctx context.Context, req *models.CompletionRequest) (*models.CompletionResponse, error) {
	params := openai.ChatCompletionNewParams{
		Model:       shared.ChatModel(req.Model),
		Messages:    messagesToChatParams(req.Messages),
		Temperature: openai.Float(req.Temperature),
	}
	if req.MaxTokens != nil {
		params.MaxTokens = openai.Int(int64(*req.MaxTokens))
	}
	if len(req.Functions) > 0 {
		params.Tools = functionsToChatTools(req.Functions)
	}

	opts := headerOptions(req.ExtraHeaders)
	if req.Stream {
		return c.completeStream(ctx, params, opts)
	}

	resp, err := c.cli.Chat.Completions.New(ctx, params, opts...)
	if err != nil {
		return nil, c.wrapError(err)
	}
	return fromChatCompletion(resp), nil
}

// completeStream performs a streaming request and accumulates the chunks
// into a single response.
func (c *Client) completeStream(ctx context.Context, params openai.ChatCompletionNewParams, opts []option.RequestOption) (*models.CompletionResponse, error) {
	stream := c.cli.Chat.Completions.NewStreaming(ctx, params, opts...)
	defer stream.Close()

	resp := &models.CompletionResponse{Object: "chat.completion"}
	var content string
	var finish string
	tcMap := make(map[int64]*models.ToolCall)

	for stream.Next() {
		chunk := stream.Current()
		if chunk.ID != "" {
			resp.ID = chunk.ID
		}
		if chunk.Model != "" {
			resp.Model = chunk.Model
		}
		if chunk.Created != 0 {
			resp.Created = chunk.Created
		}
		if chunk.Usage.TotalTokens > 0 {
			resp.Usage = &models.Usage{
				PromptTokens:     int(chunk.Usage.PromptTokens),
				CompletionTokens: int(chunk.Usage.CompletionTokens),
				TotalTokens:      int(chunk.Usage.TotalTokens),
			}
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		choice := chunk.Choices[0]
		content += choice.Delta.Content
		if choice.FinishReason != "" {
			finish = string(choice.FinishReason)
		}
		for _, tc := range choice.Delta.ToolCalls {
			existing, ok := tcMap[tc.Index]
			if !ok {
				existing = &models.ToolCall{}
				tcMap[tc.Index] = existing
			}
			if tc.ID != "" {
				existing.ID = tc.ID
			}
			existing.Name += tc.Function.Name
			existing.Arguments += tc.Function.Arguments
		}
	}
	if err := stream.Err(); err != nil {
		return nil, c.wrapError(err)
	}

	choice := models.Choice{
		Message:      &models.Message{Role: models.RoleAssistant, Content: content},
		FinishReason: finish,
	}
	indexes := make([]int64, 0, len(tcMap))
	for i := range tcMap {
		indexes = append(indexes, i)
	}
	sort.Slice(indexes, func(a, b int) bool { return indexes[a] < indexes[b] })
	for _, i := range indexes {
		choice.ToolCalls = append(choice.ToolCalls, *tcMap[i])
	}
	resp.Choices = []models.Choice{choice}
	return resp, nil
}

func (c *Client) wrapError(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return provider.NewStatusError(c.name, apiErr.StatusCode, err)
	}
	return provider.Wrap(c.name, err)
}

func headerOptions(headers map[string]string) []option.RequestOption {
	if len(headers) == 0 {
		return nil
	}
	keys := make([]string, 0, len(headers))
	for k := range headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	opts := make([]option.RequestOption, 0, len(keys))
	for _, k := range keys {
		opts = append(opts, option.WithHeader(k, headers[k]))
	}
	return opts
}

func messagesToChatParams(msgs []models.Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case models.RoleSystem:
			out = append(out, openai.ChatCompletionMessageParamUnion{
				OfSystem: &openai.ChatCompletionSystemMessageParam{
					Content: openai.ChatCompletionSystemMessageParamContentUnion{
						OfString: openai.String(m.Content),
					},
				},
			})
		case models.RoleAssistant:
			out = append(out, openai.ChatCompletionMessageParamUnion{
				OfAssistant: &openai.ChatCompletionAssistantMessageParam{
					Content: openai.ChatCompletionAssistantMessageParamContentUnion{
						OfString: openai.String(m.Content),
					},
				},
			})
		default:
			out = append(out, openai.ChatCompletionMessageParamUnion{
				OfUser: &openai.ChatCompletionUserMessageParam{
					Content: openai.ChatCompletionUserMessageParamContentUnion{
						OfString: openai.String(m.Content),
					},
				},
			})
		}
	}
	return out
}

func functionsToChatTools(fns []models.Function) []openai.ChatCompletionToolUnionParam {
	out := make([]openai.ChatCompletionToolUnionParam, len(fns))
	for i, f := range fns {
		def := shared.FunctionDefinitionParam{
			Name:       f.Name,
			Parameters: shared.FunctionParameters(f.Parameters),
		}
		if f.Description != "" {
			def.Description = openai.String(f.Description)
		}
		out[i] = openai.ChatCompletionToolUnionParam{
			OfFunction: &openai.ChatCompletionFunctionToolParam{Function: def},
		}
	}
	return out
}

func fromChatCompletion(resp *openai.ChatCompletion) *models.CompletionResponse {
	out := &models.CompletionResponse{
		ID:      resp.ID,
		Object:  string(resp.Object),
		Created: resp.Created,
		Model:   resp.Model,
	}
	if resp.Usage.TotalTokens > 0 {
		out.Usage = &models.Usage{
			PromptTokens:     int(resp.Usage.PromptTokens),
			CompletionTokens: int(resp.Usage.CompletionTokens),
			TotalTokens:      int(resp.Usage.TotalTokens),
		}
	}
	for _, ch := range resp.Choices {
		choice := models.Choice{
			Index:        int(ch.Index),
			Message:      &models.Message{Role: string(ch.Message.Role), Content: ch.Message.Content},
			FinishReason: string(ch.FinishReason),
		}
		for _, tc := range ch.Message.ToolCalls {
			if tc.Type == "function" {
				fn := tc.AsFunction()
				choice.ToolCalls = append(choice.ToolCalls, models.ToolCall{
					ID:        fn.ID,
					Name:      fn.Function.Name,
					Arguments: fn.Function.Arguments,
				})
			}
		}
		out.Choices = append(out.Choices, choice)
	}
	return out
}
