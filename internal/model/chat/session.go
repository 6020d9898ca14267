package chat

import "time"

// State 表示会话控制器当前是否有请求在途。
type State string

const (
	StateIdle    State = "idle"
	StateSending State = "sending"
)

// Session captures a transient anonymous conversation.
type Session struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"createdAt"`
}

// Snapshot is a point-in-time copy of a session's view state.
type Snapshot struct {
	SessionID string  `json:"sessionId"`
	State     State   `json:"state"`
	Draft     string  `json:"draft"`
	LastReply string  `json:"lastReply,omitempty"`
	Entries   []Entry `json:"entries"`
}
