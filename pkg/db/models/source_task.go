package models

import (
	"time"
)

// SourceTask describes one extraction target: where to fetch and which
// table row to match. Task names are unique across the registry.
type SourceTask struct {
	ID        uint      `json:"-" gorm:"primaryKey"`
	Name      string    `json:"name" gorm:"column:name;uniqueIndex;not null"`
	URL       string    `json:"url" gorm:"column:url;not null"`
	MatchKey  string    `json:"selector" gorm:"column:selector;not null"`
	CreatedAt time.Time `json:"created_at" gorm:"column:created_at"`
	UpdatedAt time.Time `json:"updated_at" gorm:"column:updated_at"`
}

// TableName specifies the table name for the SourceTask model
func (SourceTask) TableName() string {
	return "source_tasks"
}
