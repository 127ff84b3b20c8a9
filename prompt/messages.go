package prompt

import (
	"strings"

	"github.com/stevegt/chatbook/client"
)

// RoleMap translates chatbook role names into a provider's role names.
// Roles missing from the map pass through unchanged.
type RoleMap map[string]string

// GeminiRoles is for APIs that call the assistant "model".
var GeminiRoles = RoleMap{
	client.RoleUser:      client.RoleUser,
	client.RoleAssistant: client.RoleModel,
}

// OpenAIRoles and AnthropicRoles use our names as-is.
var (
	OpenAIRoles    = RoleMap{}
	AnthropicRoles = RoleMap{}
)

// Map returns the provider name for role.
func (m RoleMap) Map(role string) string {
	if mapped, ok := m[role]; ok {
		return mapped
	}
	return role
}

// Messages builds the structured payload for a stateless call: the
// history with roles remapped, followed by the new utterance as a
// user message.  History content is stripped the same way Render
// strips it; empty turns are dropped since most APIs reject them.
func Messages(history []client.ChatMsg, utterance string, roles RoleMap) (msgs []client.ChatMsg) {
	msgs = make([]client.ChatMsg, 0, len(history)+1)
	for _, msg := range history {
		content := strings.TrimSpace(msg.Content)
		if content == "" {
			continue
		}
		msgs = append(msgs, client.ChatMsg{Role: roles.Map(msg.Role), Content: content})
	}
	msgs = append(msgs, client.ChatMsg{Role: roles.Map(client.RoleUser), Content: utterance})
	return
}
