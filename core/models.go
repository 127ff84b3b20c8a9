package core

import (
	"fmt"
	"sort"
)

// DefaultModel is used when no model is named.
var DefaultModel = "gemini-2.5-pro"

// Provider names.
const (
	ProviderGemini    = "gemini"
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderMock      = "mock"
)

// Model is a type for model name and characteristics
type Model struct {
	Name       string
	TokenLimit int
	Provider   string
	Upstream   string
	active     bool
}

func (m *Model) String() string {
	status := ""
	if m.active {
		status = "*"
	}
	return fmt.Sprintf("%1s %-20s %-10s tokens: %d", status, m.Name, m.Provider, m.TokenLimit)
}

// Models is the table of models chatbook knows how to reach.
type Models struct {
	Available map[string]*Model
}

// NewModels creates a new Models object.
func NewModels() (models *Models) {
	models = &Models{}
	models.Available = make(map[string]*Model)
	add := func(name string, tokenLimit int, provider string, upstream string) {
		models.Available[name] = &Model{
			Name:       name,
			TokenLimit: tokenLimit,
			Provider:   provider,
			Upstream:   upstream,
		}
	}

	add("gemini-2.5-pro", 1048576, ProviderGemini, "gemini-2.5-pro")
	add("gemini-2.5-flash", 1048576, ProviderGemini, "gemini-2.5-flash")
	add("gemini-2.0-flash", 1048576, ProviderGemini, "gemini-2.0-flash")

	add("gpt-4o", 128000, ProviderOpenAI, "gpt-4o")
	add("gpt-4o-mini", 128000, ProviderOpenAI, "gpt-4o-mini")
	add("gpt-4-turbo", 128000, ProviderOpenAI, "gpt-4-turbo")

	add("claude-sonnet-4-5", 200000, ProviderAnthropic, "claude-sonnet-4-5")
	add("claude-haiku-4-5", 200000, ProviderAnthropic, "claude-haiku-4-5")

	// offline; echoes the utterance back
	add("mock", 8192, ProviderMock, "mock")

	return
}

// FindModel returns the model with the given name.  An empty name
// selects DefaultModel.  The returned model is marked active.
func (models *Models) FindModel(model string) (m *Model, err error) {
	if model == "" {
		model = DefaultModel
	}
	m, ok := models.Available[model]
	if !ok {
		err = fmt.Errorf("model %q not found", model)
		return
	}
	for _, other := range models.Available {
		other.active = false
	}
	m.active = true
	return
}

// ListModels returns the available models sorted by provider name
// and model name.
func (models *Models) ListModels() (list []*Model) {
	for _, m := range models.Available {
		list = append(list, m)
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].Provider == list[j].Provider {
			return list[i].Name < list[j].Name
		}
		return list[i].Provider < list[j].Provider
	})
	return
}
