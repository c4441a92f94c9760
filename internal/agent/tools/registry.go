// Package tools 提供智能体可调用的链上工具以及工具注册表。
package tools

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"

	xerrors "OnchainAgent/internal/errors"
	"OnchainAgent/internal/llm"
	"OnchainAgent/internal/observability/metrics"
)

// Tool 描述一个可被大模型调用的函数。
type Tool struct {
	Name        string
	Description string
	// Parameters 是 JSON Schema 形式的参数定义。
	Parameters map[string]any
	Call       func(ctx context.Context, args json.RawMessage) (string, error)
}

// Registry 按名称保存工具，实现 agent.Toolbox。
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry 创建注册表并注册给定工具。
func NewRegistry(tools ...Tool) (*Registry, error) {
	r := &Registry{tools: make(map[string]Tool)}
	for _, tool := range tools {
		if err := r.Register(tool); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register 注册工具，名称重复时返回错误。
func (r *Registry) Register(tool Tool) error {
	name := strings.TrimSpace(tool.Name)
	if name == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "工具名称不能为空")
	}
	if tool.Call == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "工具 "+name+" 缺少实现")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[name]; exists {
		return xerrors.New(xerrors.CodeInvalidArgument, "工具 "+name+" 已注册")
	}
	tool.Name = name
	r.tools[name] = tool
	return nil
}

// Names 返回按字母排序的工具名称。
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Specs 返回提供给大模型的工具描述。
func (r *Registry) Specs() []llm.ToolSpec {
	names := r.Names()
	r.mu.RLock()
	defer r.mu.RUnlock()
	specs := make([]llm.ToolSpec, 0, len(names))
	for _, name := range names {
		tool := r.tools[name]
		params := tool.Parameters
		if params == nil {
			params = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		specs = append(specs, llm.ToolSpec{Name: tool.Name, Description: tool.Description, Parameters: params})
	}
	return specs
}

// Call 执行指定工具。
func (r *Registry) Call(ctx context.Context, name string, args json.RawMessage) (string, error) {
	r.mu.RLock()
	tool, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		err := xerrors.New(xerrors.CodeNotFound, "unknown tool "+name)
		metrics.ObserveToolCall(name, err)
		return "", err
	}
	if len(args) == 0 {
		args = json.RawMessage("{}")
	}

	out, err := tool.Call(ctx, args)
	metrics.ObserveToolCall(name, err)
	return out, err
}

func decodeArgs(args json.RawMessage, dst any) error {
	if err := json.Unmarshal(args, dst); err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "工具参数格式错误")
	}
	return nil
}

func objectSchema(required []string, properties map[string]any) map[string]any {
	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

func stringProp(description string) map[string]any {
	return map[string]any{"type": "string", "description": description}
}
