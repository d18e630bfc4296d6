// Package llm builds LLM-backed executors. The factory hides the provider
// behind the ports.Executor interface; only Anthropic is wired today.
package llm
