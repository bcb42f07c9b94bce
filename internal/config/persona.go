package config

import "fmt"

const (
	ProviderGemini    = "gemini"
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
)

const (
	PersonaNone       = "none"
	PersonaNeutral    = "neutral"
	PersonaEmpathetic = "empathetic"
)

var builtinPersonas = map[string]string{
	PersonaNone:    "",
	PersonaNeutral: "あなたは親切で有能なAIアシスタントです。ユーザーの質問に正確かつ簡潔に日本語で答えてください。",
	PersonaEmpathetic: "あなたは温かく共感力のあるAIアシスタントです。" +
		"ユーザーの気持ちに寄り添い、否定せずに話を聞き、やさしい言葉で日本語で答えてください。",
}

// PersonaPrompt resolves the active persona preamble. An explicit
// persona_text wins over the named persona. File-defined personas shadow
// the built-in ones. The empty string means no preamble.
func (c *Config) PersonaPrompt() (string, error) {
	if c.LLM.PersonaText != "" {
		return c.LLM.PersonaText, nil
	}
	name := c.LLM.Persona
	if name == "" {
		return "", nil
	}
	if text, ok := c.Personas[name]; ok {
		return text, nil
	}
	if text, ok := builtinPersonas[name]; ok {
		return text, nil
	}
	return "", fmt.Errorf("unknown persona %q", name)
}
