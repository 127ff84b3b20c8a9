package prompt

import (
	"strings"

	"github.com/stevegt/chatbook/client"
)

// DefaultMaxChars is the prompt budget used when none is configured.
const DefaultMaxChars = 8000

// Policy selects what happens when a rendered prompt is over budget.
type Policy string

const (
	// PolicyTail keeps the last maxChars characters of the fully
	// assembled prompt.  Once the history is long enough the system
	// instruction falls off the front.
	PolicyTail Policy = "tail"
	// PolicyKeepSystem keeps the system instruction and fills the rest
	// of the budget with the tail of the conversation.
	PolicyKeepSystem Policy = "keep-system"
	// PolicyNone never truncates.
	PolicyNone Policy = "none"
)

// Policies lists the accepted policy names, in help-text order.
var Policies = []Policy{PolicyTail, PolicyKeepSystem, PolicyNone}

// Renderer turns a conversation into a single prompt string for a
// stateless generation call.
type Renderer struct {
	Sysmsg   string
	MaxChars int
	Policy   Policy
	// TrimUtterance strips whitespace from the new utterance the same
	// way stored turns are stripped.  Off by default.
	TrimUtterance bool
}

// NewRenderer returns a Renderer with the default budget and policy.
func NewRenderer(sysmsg string) *Renderer {
	return &Renderer{
		Sysmsg:   sysmsg,
		MaxChars: DefaultMaxChars,
		Policy:   PolicyTail,
	}
}

// Render builds the prompt for utterance given the prior history.
func (r *Renderer) Render(history []client.ChatMsg, utterance string) string {
	if r.TrimUtterance {
		utterance = strings.TrimSpace(utterance)
	}
	head := r.Sysmsg + "\n\n"
	body := "User: " + utterance + "\nAssistant:"
	if len(history) > 0 {
		body = joinHistory(history) + "\n" + body
	}
	switch r.Policy {
	case PolicyNone:
		return head + body
	case PolicyKeepSystem:
		return keepHead(head, body, r.MaxChars)
	default:
		return Tail(head+body, r.MaxChars)
	}
}

// Render is the plain form of the assembler: tail truncation, history
// turns stripped, utterance inserted as given.
func Render(sysmsg string, history []client.ChatMsg, utterance string, maxChars int) string {
	r := &Renderer{Sysmsg: sysmsg, MaxChars: maxChars, Policy: PolicyTail}
	return r.Render(history, utterance)
}

// Label returns the inline role label for a stored role.
func Label(role string) string {
	switch role {
	case client.RoleAssistant, client.RoleModel:
		return "Assistant"
	default:
		return "User"
	}
}

// joinHistory formats each turn as "Label: content", one per line.
// Content newlines are passed through as-is.
func joinHistory(history []client.ChatMsg) string {
	lines := make([]string, 0, len(history))
	for _, msg := range history {
		lines = append(lines, Label(msg.Role)+": "+strings.TrimSpace(msg.Content))
	}
	return strings.Join(lines, "\n")
}

// Tail returns the last maxChars characters of txt.  Characters are
// code points, not bytes, so multi-byte text is never split inside a
// rune.  maxChars <= 0 means no limit.
func Tail(txt string, maxChars int) string {
	if maxChars <= 0 {
		return txt
	}
	// fast path: a string can't have more runes than bytes
	if len(txt) <= maxChars {
		return txt
	}
	runes := []rune(txt)
	if len(runes) <= maxChars {
		return txt
	}
	return string(runes[len(runes)-maxChars:])
}

// keepHead keeps head verbatim and spends what is left of the budget
// on the tail of body.  If head doesn't fit on its own we fall back
// to plain tail truncation.
func keepHead(head, body string, maxChars int) string {
	full := head + body
	if maxChars <= 0 || Len(full) <= maxChars {
		return full
	}
	room := maxChars - Len(head)
	if room <= 0 {
		return Tail(full, maxChars)
	}
	return head + Tail(body, room)
}

// Len returns the length of txt in characters.
func Len(txt string) int {
	return len([]rune(txt))
}
