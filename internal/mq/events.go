package mq

import "time"

// ReadingValidatedEvent is published after an admin accepts a reading
type ReadingValidatedEvent struct {
	ReadingID string    `json:"reading_id"`
	MeterID   string    `json:"meter_id"`
	AccountID string    `json:"account_id"`
	Month     int       `json:"month"`
	Year      int       `json:"year"`
	Value     string    `json:"value"`
	DecidedBy string    `json:"decided_by"`
	DecidedAt time.Time `json:"decided_at"`
}
