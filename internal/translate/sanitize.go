package translate

// Sanitize drops wholly-empty assistant turns, coalesces adjacent
// same-role messages by concatenating their blocks, and optionally
// prepends an empty-user placeholder when the upstream requires strict
// alternation and the first message is assistant.
func Sanitize(messages []Message, requireLeadingUser bool) []Message {
	messages = dropEmptyAssistantTurns(messages)
	messages = coalesceSameRole(messages)
	if requireLeadingUser {
		messages = padLeadingUser(messages)
	}
	return messages
}

func dropEmptyAssistantTurns(messages []Message) []Message {
	out := make([]Message, 0, len(messages))
	for _, m := range messages {
		if m.Role == RoleAssistant && len(m.Blocks) == 0 {
			continue
		}
		out = append(out, m)
	}
	return out
}

// coalesceSameRole concatenates consecutive messages sharing a role into a
// single message: "consecutive same-role messages produced
// by merging are concatenated before dispatch."
func coalesceSameRole(messages []Message) []Message {
	if len(messages) == 0 {
		return messages
	}
	out := make([]Message, 0, len(messages))
	out = append(out, messages[0])
	for _, m := range messages[1:] {
		last := &out[len(out)-1]
		if last.Role == m.Role && m.Role != RoleSystem {
			last.Blocks = append(last.Blocks, m.Blocks...)
			continue
		}
		out = append(out, m)
	}
	return out
}

func padLeadingUser(messages []Message) []Message {
	for _, m := range messages {
		if m.Role == RoleSystem {
			continue
		}
		if m.Role == RoleAssistant {
			placeholder := Message{Role: RoleUser, Blocks: []Block{{Type: BlockText, Text: ""}}}
			return append([]Message{placeholder}, messages...)
		}
		break
	}
	return messages
}
