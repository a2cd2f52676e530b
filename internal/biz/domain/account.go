package domain

import (
	"fmt"
	"time"
)

// Account is one logged-in Bilibili identity managed by the engine
type Account struct {
	UID       string
	Name      string
	Cookies   map[string]string // full cookie jar from login
	Active    bool              // eligible for polling
	Settings  ReplySettings
	CreatedAt time.Time
	UpdatedAt time.Time
}

// CSRF returns the bili_jct cookie, which write endpoints require as a
// form parameter.
func (a *Account) CSRF() string {
	return a.Cookies["bili_jct"]
}

// ReplySettings are the per-account knobs for pacing and scanning.
// All durations are in seconds.
type ReplySettings struct {
	AutoReplyEnabled bool `json:"auto_reply_enabled"`
	ReplyDelayMin    int  `json:"reply_delay_min"`
	ReplyDelayMax    int  `json:"reply_delay_max"`
	MinReplyGap      int  `json:"min_reply_gap"`
	DailyLimit       int  `json:"daily_limit"` // 0 means unlimited
	ScanInterval     int  `json:"scan_interval"`
}

// DefaultReplySettings mirrors the factory defaults for a new account
func DefaultReplySettings() ReplySettings {
	return ReplySettings{
		ReplyDelayMin: 2,
		ReplyDelayMax: 8,
		MinReplyGap:   60,
		DailyLimit:    100,
		ScanInterval:  8,
	}
}

// Validate rejects settings that would stall or flood the engine
func (s ReplySettings) Validate() error {
	if s.ReplyDelayMin < 0 {
		return fmt.Errorf("reply delay min must not be negative")
	}
	if s.ReplyDelayMax < s.ReplyDelayMin {
		return fmt.Errorf("reply delay max %d is below min %d", s.ReplyDelayMax, s.ReplyDelayMin)
	}
	if s.MinReplyGap < 0 {
		return fmt.Errorf("min reply gap must not be negative")
	}
	if s.DailyLimit < 0 {
		return fmt.Errorf("daily limit must not be negative")
	}
	if s.ScanInterval < 1 {
		return fmt.Errorf("scan interval must be at least 1 second")
	}
	return nil
}
