package ollama

import (
	"os"

	"github.com/BurntSushi/toml"
)

// RecommendedModel is one entry of the curated local-model list.
type RecommendedModel struct {
	DisplayName string `json:"display_name" toml:"display_name"`
	ModelName   string `json:"model_name" toml:"model_name"`
	Provider    string `json:"provider" toml:"provider"`
}

type recommendedManifest struct {
	Models []RecommendedModel `toml:"models"`
}

// fallbackRecommended is served when no manifest file is available.
var fallbackRecommended = []RecommendedModel{
	{DisplayName: "Llama 3.1 (8B)", ModelName: "llama3.1:latest", Provider: "Ollama"},
	{DisplayName: "Gemma 2 (9B)", ModelName: "gemma2:9b", Provider: "Ollama"},
	{DisplayName: "Mistral Small (22B)", ModelName: "mistral-small:latest", Provider: "Ollama"},
	{DisplayName: "Qwen 2.5 (7B)", ModelName: "qwen2.5:latest", Provider: "Ollama"},
	{DisplayName: "DeepSeek R1 (8B)", ModelName: "deepseek-r1:8b", Provider: "Ollama"},
}

// RecommendedModels loads the curated list from the manifest at path,
// falling back to a small hardcoded set when the file is absent or broken.
func RecommendedModels(path string) []RecommendedModel {
	if path == "" {
		return fallbackRecommended
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fallbackRecommended
	}
	var manifest recommendedManifest
	if err := toml.Unmarshal(data, &manifest); err != nil || len(manifest.Models) == 0 {
		return fallbackRecommended
	}
	return manifest.Models
}
