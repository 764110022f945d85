package history

import (
	"time"

	"gorm.io/gorm"
)

// SessionRecord is a persisted connect/disconnect audit entry for one
// client session.
type SessionRecord struct {
	ID               uint       `gorm:"primarykey" json:"id"`
	SessionID        string     `gorm:"index;size:64;not null" json:"session_id"`
	Callsign         string     `gorm:"index;size:20" json:"callsign"`
	Name             string     `gorm:"size:100" json:"name"`
	RemoteAddr       string     `gorm:"size:64" json:"remote_addr"`
	ConnectedAt      time.Time  `gorm:"index;not null" json:"connected_at"`
	DisconnectedAt   *time.Time `json:"disconnected_at"`
	DisconnectReason string     `gorm:"size:100" json:"disconnect_reason"`
	CreatedAt        time.Time  `json:"created_at"`
}

// TableName specifies the table name for SessionRecord.
func (SessionRecord) TableName() string {
	return "session_records"
}

// BeforeCreate ensures timestamps are set.
func (s *SessionRecord) BeforeCreate(tx *gorm.DB) error {
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now()
	}
	if s.ConnectedAt.IsZero() {
		s.ConnectedAt = time.Now()
	}
	return nil
}

// Duration reports the session length, using now if still connected.
func (s *SessionRecord) Duration() time.Duration {
	end := time.Now()
	if s.DisconnectedAt != nil {
		end = *s.DisconnectedAt
	}
	return end.Sub(s.ConnectedAt)
}

// TxEventRecord is a persisted TX ownership transition, covering grants,
// preemptions, releases, and idle timeouts.
type TxEventRecord struct {
	ID          uint      `gorm:"primarykey" json:"id"`
	SessionID   string    `gorm:"index;size:64;not null" json:"session_id"`
	Priority    string    `gorm:"size:16" json:"priority"`
	Event       string    `gorm:"size:16;not null" json:"event"` // granted, preempted, released
	PreemptedBy string    `gorm:"size:64" json:"preempted_by"`
	OccurredAt  time.Time `gorm:"index;not null" json:"occurred_at"`
	CreatedAt   time.Time `json:"created_at"`
}

// TableName specifies the table name for TxEventRecord.
func (TxEventRecord) TableName() string {
	return "tx_event_records"
}

// BeforeCreate ensures timestamps are set.
func (t *TxEventRecord) BeforeCreate(tx *gorm.DB) error {
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}
	if t.OccurredAt.IsZero() {
		t.OccurredAt = time.Now()
	}
	return nil
}
