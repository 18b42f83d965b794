package llm

import (
	"sort"
	"strings"
)

// Provider identifies a model provider.
type Provider string

const (
	ProviderOpenAI    Provider = "OpenAI"
	ProviderAnthropic Provider = "Anthropic"
	ProviderGroq      Provider = "Groq"
	ProviderDeepSeek  Provider = "DeepSeek"
	ProviderOllama    Provider = "Ollama"
)

// NormalizeProvider maps free-form provider strings to the canonical set.
func NormalizeProvider(s string) Provider {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "openai":
		return ProviderOpenAI
	case "anthropic":
		return ProviderAnthropic
	case "groq":
		return ProviderGroq
	case "deepseek":
		return ProviderDeepSeek
	case "ollama":
		return ProviderOllama
	default:
		return Provider(s)
	}
}

// SupportsJSONMode reports whether the provider can be asked for a bare JSON
// object natively. Other providers go through fenced-block extraction.
func SupportsJSONMode(provider string) bool {
	switch NormalizeProvider(provider) {
	case ProviderOpenAI, ProviderGroq, ProviderDeepSeek, ProviderOllama:
		return true
	default:
		return false
	}
}

// ModelInfo describes one selectable cloud model.
type ModelInfo struct {
	DisplayName string   `json:"display_name"`
	ModelName   string   `json:"model_name"`
	Provider    Provider `json:"provider"`
}

// CloudModels enumerates the cloud models offered to clients, in display
// order.
func CloudModels() []ModelInfo {
	return []ModelInfo{
		{DisplayName: "GPT-4o", ModelName: "gpt-4o", Provider: ProviderOpenAI},
		{DisplayName: "GPT-4o Mini", ModelName: "gpt-4o-mini", Provider: ProviderOpenAI},
		{DisplayName: "o3 Mini", ModelName: "o3-mini", Provider: ProviderOpenAI},
		{DisplayName: "Claude Sonnet", ModelName: "claude-3-5-sonnet-latest", Provider: ProviderAnthropic},
		{DisplayName: "Claude Haiku", ModelName: "claude-3-5-haiku-latest", Provider: ProviderAnthropic},
		{DisplayName: "Llama 3.3 70B", ModelName: "llama-3.3-70b-versatile", Provider: ProviderGroq},
		{DisplayName: "DeepSeek V3", ModelName: "deepseek-chat", Provider: ProviderDeepSeek},
		{DisplayName: "DeepSeek R1", ModelName: "deepseek-reasoner", Provider: ProviderDeepSeek},
	}
}

// GroupedByProvider returns the cloud models grouped for the providers
// listing, with providers in alphabetical order.
func GroupedByProvider() map[string][]ModelInfo {
	grouped := make(map[string][]ModelInfo)
	for _, m := range CloudModels() {
		grouped[string(m.Provider)] = append(grouped[string(m.Provider)], m)
	}
	return grouped
}

// ProviderNames returns the providers that have at least one cloud model.
func ProviderNames() []string {
	grouped := GroupedByProvider()
	names := make([]string, 0, len(grouped))
	for name := range grouped {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
