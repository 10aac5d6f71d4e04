package models

import "time"

// Record represents one recipe of the cookbook catalog
type Record struct {
	ID         int64  `json:"id"`
	Name       string `json:"name"`
	PageStart  int    `json:"page_start"`
	PageEnd    int    `json:"page_end"`
	HasPicture bool   `json:"has_picture"`
}

// State is the position of a conversation in the browsing cycle
type State string

const (
	StateStart    State = "start"
	StateBrowsing State = "browsing"
)

// Session represents the browsing state of one conversation
type Session struct {
	ChatID    int64     `json:"chat_id"`
	State     State     `json:"state"`
	History   []int64   `json:"history"` // most recently shown last
	UpdatedAt time.Time `json:"updated_at"`
}

// Last returns the most recently shown record id.
func (s Session) Last() (int64, bool) {
	if s.State != StateBrowsing || len(s.History) == 0 {
		return 0, false
	}
	return s.History[len(s.History)-1], true
}

// Intent is a user command understood by the bot
type Intent string

const (
	IntentHelp   Intent = "help"
	IntentNew    Intent = "new"
	IntentAccept Intent = "accept"
	IntentNext   Intent = "next"
)

// Request is one intent issued in one conversation
type Request struct {
	ID     string
	ChatID int64
	Intent Intent
}

// TextFormat tells the messaging layer how to interpret outgoing text
type TextFormat string

const (
	FormatPlain      TextFormat = ""
	FormatMarkdownV2 TextFormat = "MarkdownV2"
)
