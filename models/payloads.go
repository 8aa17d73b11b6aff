package models

import "time"

// Record keys used by the command set.
const (
	RecordKeyTally       = "tally"
	RecordKeyRollHistory = "rolls"
	RecordKeyProfile     = "profile"
	// RecordKeyReminderPrefix is followed by the id of the interaction that created the reminder
	RecordKeyReminderPrefix = "reminder/"
)

// MaxRollHistory bounds the roll log kept per member
const MaxRollHistory = 20

type TallyPayload struct {
	Count     int64     `json:"count"`
	UpdatedBy string    `json:"updated_by"`
	UpdatedAt time.Time `json:"updated_at"`
}

type RollEntry struct {
	Expression string    `json:"expression"`
	Total      int64     `json:"total"`
	Breakdown  string    `json:"breakdown"`
	RolledAt   time.Time `json:"rolled_at"`
}

type RollHistoryPayload struct {
	Entries []RollEntry `json:"entries"`
}

// Append adds an entry and trims the log to MaxRollHistory, newest last.
func (p *RollHistoryPayload) Append(entry RollEntry) {
	p.Entries = append(p.Entries, entry)
	if len(p.Entries) > MaxRollHistory {
		p.Entries = p.Entries[len(p.Entries)-MaxRollHistory:]
	}
}

type ProfilePayload struct {
	RollCount  int64      `json:"roll_count"`
	LastRollAt *time.Time `json:"last_roll_at,omitempty"`
}

type ReminderPayload struct {
	UserID    string    `json:"user_id"`
	Message   string    `json:"message"`
	DueAt     time.Time `json:"due_at"`
	CreatedAt time.Time `json:"created_at"`
}

// Reminder is a scheduled DM, addressed by the key of the record that stores it.
type Reminder struct {
	Key string
	ReminderPayload
}
