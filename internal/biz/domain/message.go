package domain

import "time"

// Session types used by the private-message API
const (
	SessionTypeUser     = 1
	SessionTypeFanGroup = 2
	SessionTypeAll      = 4
)

// Message types as delivered by fetch_session_msgs
const (
	MsgTypeText   = 1
	MsgTypeImage  = 2
	MsgTypeNotify = 10
	MsgTypeVideo  = 11
	MsgTypeSystem = 18
)

// Talker represents one conversation peer of an account
type Talker struct {
	ID          int64
	SessionType int
	Name        string
	LastMsgAt   time.Time
	UnreadCount int
}

// DirectMessage represents one private message in a conversation
type DirectMessage struct {
	SeqNo     int64 // monotonic per conversation, used as the cursor
	MsgKey    int64
	TalkerID  int64
	SenderUID string
	MsgType   int
	Content   string // raw JSON payload from the API
	Text      string // extracted text, empty for non-text types
	At        time.Time
}

// IsFrom reports whether the message was sent by the given account
func (m *DirectMessage) IsFrom(uid string) bool {
	return m.SenderUID == uid
}

// IsText reports whether the message carries plain text
func (m *DirectMessage) IsText() bool {
	return m.MsgType == MsgTypeText
}

// OlderThan reports whether the message predates now by more than maxAge
func (m *DirectMessage) OlderThan(now time.Time, maxAge time.Duration) bool {
	return now.Sub(m.At) > maxAge
}
