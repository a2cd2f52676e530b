package domain

import "time"

// Outcome classifies what happened to one evaluated message
type Outcome string

const (
	OutcomeSent       Outcome = "sent"
	OutcomeThrottled  Outcome = "suppressed-by-throttle"
	OutcomeDailyLimit Outcome = "suppressed-by-daily-limit"
	OutcomeSendFailed Outcome = "send-failed"
	OutcomeNoMatch    Outcome = "no-match"
)

// ReplyEvent is the immutable record of one message-processing outcome.
// Produced by the poller, consumed by the stats collector.
type ReplyEvent struct {
	AccountUID string
	TalkerID   int64
	TalkerName string
	RuleID     int64 // 0 when no rule matched
	Message    string
	Reply      string
	Outcome    Outcome
	Error      string // set for send-failed and retry-exhausted outcomes
	At         time.Time
}
