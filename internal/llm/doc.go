// Package llm defines the vendor neutral chat model contract used by the
// agent executor: conversation messages, tool declarations and tool calls.
// Concrete providers live in the openai, anthropic and pythonbridge
// subpackages.
package llm
