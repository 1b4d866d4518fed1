package ai

// Provider names a backend family reachable through langchaingo.
type Provider string

const (
	// ProviderOpenAI covers OpenAI and any OpenAI-compatible server (vLLM, LocalAI, Ollama /v1).
	ProviderOpenAI Provider = "openai"
	// ProviderOllama talks to Ollama's native API.
	ProviderOllama Provider = "ollama"
	// ProviderAnthropic talks to the Anthropic API. Generation only.
	ProviderAnthropic Provider = "anthropic"
)

// GenerateOptions tunes a single LanguageModel.Generate call.
type GenerateOptions struct {
	// Model overrides the provider's default model.
	Model string

	// Temperature controls sampling. 0 means deterministic.
	Temperature float64

	// JSON asks the model to reply with a JSON document.
	JSON bool

	// System is an optional system instruction sent before the prompt.
	System string
}

// Deterministic returns options with temperature pinned to 0.
func Deterministic(model string) GenerateOptions {
	return GenerateOptions{Model: model, Temperature: 0}
}
