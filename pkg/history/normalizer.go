package history

import (
	"github.com/opsmith-ai/opsmith/pkg/chat"
	"github.com/opsmith-ai/opsmith/pkg/logger"
)

// PageSize is the fixed page length of the conversation store. A page
// shorter than this is the last page.
const PageSize = 30

// Normalize converts one store page (delivered newest-first) into the
// chronological transcript shape the reconcilers produce. Records that
// neither display nor interrupt are dropped, and terminal tool records
// close the matching open tool call in the accumulated output instead of
// appending a duplicate.
func Normalize(page []Record) chat.Transcript {
	out := make(chat.Transcript, 0, len(page))

	for i := len(page) - 1; i >= 0; i-- {
		msg, err := page[i].Decode()
		if err != nil {
			logger.Warn("skipping undecodable history record: %v", err)
			continue
		}
		if !msg.IsDisplayable() {
			continue
		}

		if msg.IsTool() && msg.Status.IsTerminal() {
			if j := chat.FindOpenTool(out, msg.Node); j >= 0 {
				out[j] = msg
				continue
			}
			// No open call within this page. Matching across pages is not
			// attempted; a call left open on an older page stays open.
		}

		out = append(out, msg)
	}

	return out
}

// HasMore reports whether another (older) page exists after this one.
func HasMore(page []Record) bool {
	return len(page) == PageSize
}
