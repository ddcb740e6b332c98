package chat

import "strings"

// FormatMessages builds the conversation sent upstream: the system prompt,
// then the user and assistant turns of history in order, then the new user
// message. History entries with any other role are dropped.
func FormatMessages(systemPrompt, user string, history []Message) []Message {
	if strings.TrimSpace(systemPrompt) == "" {
		systemPrompt = DefaultSystemPrompt
	}

	msgs := make([]Message, 0, len(history)+2)
	msgs = append(msgs, Message{Role: RoleSystem, Content: systemPrompt})
	for _, m := range history {
		if m.Role == RoleUser || m.Role == RoleAssistant {
			msgs = append(msgs, Message{Role: m.Role, Content: m.Content})
		}
	}
	return append(msgs, Message{Role: RoleUser, Content: user})
}
