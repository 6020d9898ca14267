package chat

import (
	"time"

	"github.com/zhouzirui/skychat/backend/internal/analysis/intent"
)

// Entry is one exchange in the transcript: the user's message and the reply
// shown for it. Entries are never modified after they are appended.
type Entry struct {
	ID        string       `json:"id"`
	User      string       `json:"user"`
	Bot       string       `json:"bot"`
	Route     intent.Route `json:"route"`
	CreatedAt time.Time    `json:"createdAt"`
}
