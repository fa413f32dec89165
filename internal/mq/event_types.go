package mq

import (
	"time"

	"dailydrive/internal/model"
)

const (
	ExchangeName = "habits"
)

// DatasetRoutingKey returns the per-user routing key for dataset change
// events, e.g. "dataset.updated.u123".
func DatasetRoutingKey(userID string) string {
	return "dataset.updated." + userID
}

// DatasetUpdatedPayload is published after a device commits a write to the
// remote document. OriginID identifies the writing device so consumers can
// recognize their own events; HasPendingWrites must be false once the write
// is confirmed committed.
type DatasetUpdatedPayload struct {
	EventID          string                     `json:"event_id"`
	UserID           string                     `json:"user_id"`
	OriginID         string                     `json:"origin_id"`
	Habits           []model.HabitDefinition    `json:"habits"`
	Days             map[string]model.DayRecord `json:"days"`
	HasPendingWrites bool                       `json:"has_pending_writes"`
	UpdatedAt        time.Time                  `json:"updated_at"`
}
