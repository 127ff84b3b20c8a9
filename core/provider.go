package core

import (
	"context"
	"fmt"

	"github.com/stevegt/chatbook/anthropic"
	"github.com/stevegt/chatbook/client"
	"github.com/stevegt/chatbook/gemini"
	"github.com/stevegt/chatbook/mock"
	"github.com/stevegt/chatbook/openai"
	"github.com/stevegt/chatbook/prompt"
)

// NewClient builds the provider client for m.  An empty apiKey makes
// the provider fall back to its usual environment variable; if that
// is empty too the error wraps client.ErrMissingCredential.  baseURL
// is optional.
func NewClient(ctx context.Context, m *Model, apiKey, baseURL string) (c client.ChatClient, err error) {
	switch m.Provider {
	case ProviderGemini:
		var gc *gemini.GeminiChatClient
		gc, err = gemini.NewGeminiChatClient(ctx, apiKey, m.Upstream, baseURL)
		if err == nil {
			c = gc
		}
	case ProviderOpenAI:
		var oc *openai.OpenAIChatClient
		oc, err = openai.NewOpenAIChatClient(apiKey, m.Upstream, baseURL)
		if err == nil {
			c = oc
		}
	case ProviderAnthropic:
		opts := []anthropic.Option{anthropic.WithAPIKey(apiKey)}
		if baseURL != "" {
			opts = append(opts, anthropic.WithBaseURL(baseURL))
		}
		var ac *anthropic.AnthropicChatClient
		ac, err = anthropic.NewAnthropicChatClient(m.Upstream, opts...)
		if err == nil {
			c = ac
		}
	case ProviderMock:
		c = mock.NewClient()
	default:
		err = fmt.Errorf("model %s: unknown provider %q", m.Name, m.Provider)
	}
	return
}

// RolesFor returns the role names the provider's structured payload
// expects.
func RolesFor(provider string) prompt.RoleMap {
	switch provider {
	case ProviderGemini:
		return prompt.GeminiRoles
	case ProviderAnthropic:
		return prompt.AnthropicRoles
	default:
		return prompt.OpenAIRoles
	}
}
