package chat

import "relay/internal/store"

// Merge combines the durable history with the ephemeral streaming buffer
// into one ordered, deduplicated view. Pure function of its inputs.
//
// The rules:
//   - persisted messages come first, in store order, and are never touched;
//   - streaming entries are appended only when assistant-authored and not
//     already persisted under the same id;
//   - user entries are sourced from persisted only, because user input is
//     written durably before the model stream starts;
//   - when the durable history is not yet loaded (unknown rather than
//     empty), the view falls back to streaming-only so a fresh visitor
//     still sees immediate feedback.
func Merge(persisted []store.Message, loaded bool, streaming []*UIMessage) []UIMessage {
	if !loaded {
		out := make([]UIMessage, 0, len(streaming))
		for _, m := range streaming {
			out = append(out, *m)
		}
		return out
	}

	out := make([]UIMessage, 0, len(persisted)+len(streaming))
	seen := make(map[string]struct{}, len(persisted))
	for _, m := range persisted {
		seen[m.ID] = struct{}{}
		out = append(out, UIMessage{
			ID:    m.ID,
			Role:  m.Role,
			Parts: []MessagePart{{Type: PartText, Text: m.Content}},
		})
	}
	for _, m := range streaming {
		if m.Role != store.RoleAssistant {
			continue
		}
		if _, dup := seen[m.ID]; dup {
			continue
		}
		out = append(out, *m)
	}
	return out
}
