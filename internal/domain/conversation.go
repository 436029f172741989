package domain

// Conversation is the caller-supplied ordered list of turns. Slice order is
// turn order.
type Conversation []ChatMessage

// WithoutSystem returns the conversation minus every system-role message,
// preserving the order of the remaining turns. The receiver is not modified.
func (c Conversation) WithoutSystem() Conversation {
	out := make(Conversation, 0, len(c))
	for _, m := range c {
		if m.Role == RoleSystem {
			continue
		}
		out = append(out, m)
	}
	return out
}
