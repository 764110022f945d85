package history

import (
	"time"

	"gorm.io/gorm"
)

// Repository handles session/TX history database operations.
type Repository struct {
	db *gorm.DB
}

// NewRepository creates a new history repository.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// RecordSessionConnect inserts a new session record and returns its ID.
func (r *Repository) RecordSessionConnect(sessionID, callsign, name, remoteAddr string) (uint, error) {
	rec := &SessionRecord{
		SessionID:   sessionID,
		Callsign:    callsign,
		Name:        name,
		RemoteAddr:  remoteAddr,
		ConnectedAt: time.Now(),
	}
	if err := r.db.Create(rec).Error; err != nil {
		return 0, err
	}
	return rec.ID, nil
}

// RecordSessionDisconnect marks the most recent open session record for
// sessionID as disconnected.
func (r *Repository) RecordSessionDisconnect(sessionID, reason string) error {
	now := time.Now()
	return r.db.Model(&SessionRecord{}).
		Where("session_id = ? AND disconnected_at IS NULL", sessionID).
		Updates(map[string]interface{}{
			"disconnected_at":   now,
			"disconnect_reason": reason,
		}).Error
}

// RecordTxEvent inserts a TX ownership transition record.
func (r *Repository) RecordTxEvent(sessionID, priority, event, preemptedBy string) error {
	rec := &TxEventRecord{
		SessionID:   sessionID,
		Priority:    priority,
		Event:       event,
		PreemptedBy: preemptedBy,
		OccurredAt:  time.Now(),
	}
	return r.db.Create(rec).Error
}

// RecentSessions retrieves the most recent N session records.
func (r *Repository) RecentSessions(limit int) ([]SessionRecord, error) {
	var sessions []SessionRecord
	err := r.db.Order("connected_at DESC").Limit(limit).Find(&sessions).Error
	return sessions, err
}

// RecentTxEvents retrieves the most recent N TX event records.
func (r *Repository) RecentTxEvents(limit int) ([]TxEventRecord, error) {
	var events []TxEventRecord
	err := r.db.Order("occurred_at DESC").Limit(limit).Find(&events).Error
	return events, err
}

// DeleteOlderThan deletes session records (and their disconnect info)
// connected before the given time.
func (r *Repository) DeleteOlderThan(before time.Time) (int64, error) {
	result := r.db.Where("connected_at < ?", before).Delete(&SessionRecord{})
	return result.RowsAffected, result.Error
}
