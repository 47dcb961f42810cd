package models

import (
	"time"
)

// AlertType classifies what went wrong
type AlertType string

const (
	AlertFetchFailure    AlertType = "fetch_failure"
	AlertAnomalousData   AlertType = "anomalous_data"
	AlertDeliveryFailure AlertType = "delivery_failure"
)

// Alert is one operator-visible escalation entry. The log is append-only;
// alerts are never updated or deleted by the watcher.
type Alert struct {
	ID        uint      `json:"-" gorm:"primaryKey"`
	Type      AlertType `json:"type" gorm:"column:type;not null;index"`
	Message   string    `json:"message" gorm:"column:message;type:text"`
	CreatedAt time.Time `json:"created_at" gorm:"column:created_at;index"`
}

// TableName specifies the table name for the Alert model
func (Alert) TableName() string {
	return "alerts"
}
