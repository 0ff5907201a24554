package chat

// Transcript is the ordered, reconciled view of one conversation.
type Transcript []Message

// IndexByID returns the position of the message with the given id, or -1.
// Placeholders without ids never match.
func IndexByID(t Transcript, id string) int {
	if id == "" {
		return -1
	}
	for i, msg := range t {
		if msg.ID == id {
			return i
		}
	}
	return -1
}

// FindOpenTool returns the position of the first tool message on node whose
// status is not terminal, or -1. The scan deliberately matches by node, not
// id: finalize frames for tools arrive without the id of the call they
// close.
func FindOpenTool(t Transcript, node string) int {
	for i, msg := range t {
		if msg.Node == node && msg.IsTool() && !msg.Status.IsTerminal() {
			return i
		}
	}
	return -1
}

// Last returns the final message, if any.
func Last(t Transcript) (Message, bool) {
	if len(t) == 0 {
		return Message{}, false
	}
	return t[len(t)-1], true
}

// CountByKind returns how many messages have the given kind.
func CountByKind(t Transcript, kind Kind) int {
	n := 0
	for _, msg := range t {
		if msg.Kind == kind {
			n++
		}
	}
	return n
}

// Clone returns a copy safe to hand to consumers while the reconciler keeps
// mutating the original.
func Clone(t Transcript) Transcript {
	out := make(Transcript, len(t))
	copy(out, t)
	return out
}
