package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"OnchainAgent/internal/llm"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const (
	defaultModelName = sdk.ModelClaude3_5Sonnet20241022
	defaultMaxTokens = 4096
	defaultTimeout   = 60 * time.Second
)

// Config 描述了调用 Anthropic Messages API 所需的信息。
type Config struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float64
	MaxTokens   int64
	Timeout     time.Duration
	MaxRetries  int
	HTTPClient  *http.Client
}

// Client 将 Claude 的 tool_use 能力适配为 llm.ChatModel。
type Client struct {
	client      sdk.Client
	model       sdk.Model
	maxTokens   int64
	temperature float64
}

// NewClient 根据配置创建 Anthropic 客户端。
func NewClient(cfg Config) (*Client, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errors.New("未提供 Anthropic API Key")
	}

	model := sdk.Model(strings.TrimSpace(cfg.Model))
	if model == "" {
		model = defaultModelName
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithRequestTimeout(timeout),
		option.WithMaxRetries(cfg.MaxRetries),
	}
	if baseURL := strings.TrimSpace(cfg.BaseURL); baseURL != "" {
		opts = append(opts, option.WithBaseURL(strings.TrimRight(baseURL, "/")+"/"))
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, option.WithHTTPClient(cfg.HTTPClient))
	}

	return &Client{
		client:      sdk.NewClient(opts...),
		model:       model,
		maxTokens:   maxTokens,
		temperature: cfg.Temperature,
	}, nil
}

// Chat 发送一轮对话，返回文本块与 tool_use 块。
func (c *Client) Chat(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	params := sdk.MessageNewParams{
		Model:       c.model,
		MaxTokens:   c.maxTokens,
		Messages:    buildMessages(req.Messages),
		Temperature: sdk.Float(c.temperature),
	}
	if system := strings.TrimSpace(req.System); system != "" {
		params.System = []sdk.TextBlockParam{{Text: system}}
	}
	if len(req.Tools) > 0 {
		params.Tools = buildTools(req.Tools)
	}

	resp, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("请求 Anthropic 失败: %w", err)
	}

	out := &llm.ChatResponse{}
	var texts []string
	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			if text := block.AsText().Text; strings.TrimSpace(text) != "" {
				texts = append(texts, text)
			}
		case "tool_use":
			toolUse := block.AsToolUse()
			args, err := json.Marshal(toolUse.Input)
			if err != nil {
				return nil, fmt.Errorf("解析 tool_use 参数失败: %w", err)
			}
			out.ToolCalls = append(out.ToolCalls, llm.ToolCall{
				ID:        toolUse.ID,
				Name:      toolUse.Name,
				Arguments: args,
			})
		}
	}
	out.Text = strings.TrimSpace(strings.Join(texts, "\n"))
	return out, nil
}

// buildMessages 把连续的工具结果合并进同一条 user 消息，满足 Messages API 的轮次要求。
func buildMessages(history []llm.Message) []sdk.MessageParam {
	messages := make([]sdk.MessageParam, 0, len(history))
	var pending []sdk.ContentBlockParamUnion

	flush := func() {
		if len(pending) > 0 {
			messages = append(messages, sdk.NewUserMessage(pending...))
			pending = nil
		}
	}

	for _, m := range history {
		switch m.Role {
		case llm.RoleTool:
			isErr := strings.HasPrefix(m.Content, "Error:")
			pending = append(pending, sdk.NewToolResultBlock(m.ToolCallID, m.Content, isErr))
		case llm.RoleUser:
			flush()
			messages = append(messages, sdk.NewUserMessage(sdk.NewTextBlock(m.Content)))
		case llm.RoleAssistant:
			flush()
			var blocks []sdk.ContentBlockParamUnion
			if m.Content != "" {
				blocks = append(blocks, sdk.NewTextBlock(m.Content))
			}
			for _, tc := range m.ToolCalls {
				var input any
				if err := json.Unmarshal(tc.ArgumentsOrEmpty(), &input); err != nil {
					input = map[string]any{}
				}
				blocks = append(blocks, sdk.NewToolUseBlock(tc.ID, input, tc.Name))
			}
			if len(blocks) > 0 {
				messages = append(messages, sdk.NewAssistantMessage(blocks...))
			}
		}
	}
	flush()
	return messages
}

func buildTools(specs []llm.ToolSpec) []sdk.ToolUnionParam {
	tools := make([]sdk.ToolUnionParam, 0, len(specs))
	for _, spec := range specs {
		schema := sdk.ToolInputSchemaParam{}
		if properties, ok := spec.Parameters["properties"]; ok {
			schema.Properties = properties
		}
		switch required := spec.Parameters["required"].(type) {
		case []string:
			schema.Required = required
		case []any:
			for _, r := range required {
				if s, ok := r.(string); ok {
					schema.Required = append(schema.Required, s)
				}
			}
		}

		tool := sdk.ToolUnionParamOfTool(schema, spec.Name)
		if tool.OfTool != nil && spec.Description != "" {
			tool.OfTool.Description = sdk.String(spec.Description)
		}
		tools = append(tools, tool)
	}
	return tools
}
