package models

import (
	"time"
)

// PriceRecord is one extracted daily quotation. Records are append-only;
// the unique (name, price_date) index gives day-level deduplication.
type PriceRecord struct {
	ID         uint      `json:"-" gorm:"primaryKey"`
	Name       string    `json:"name" gorm:"column:name;not null;uniqueIndex:idx_price_records_name_date"`
	PriceRange string    `json:"priceRange" gorm:"column:price_range"`
	AvgPrice   float64   `json:"avgPrice" gorm:"column:avg_price"`
	Change     float64   `json:"change" gorm:"column:change"`
	Unit       string    `json:"unit" gorm:"column:unit"`
	PriceDate  int       `json:"date" gorm:"column:price_date;not null;uniqueIndex:idx_price_records_name_date;index"`
	CreatedAt  time.Time `json:"created_at" gorm:"column:created_at"`
}

// TableName specifies the table name for the PriceRecord model
func (PriceRecord) TableName() string {
	return "price_records"
}

// Anomalous reports whether the record carries an implausible average
// price. Such records are still persisted but raised as alerts.
func (r *PriceRecord) Anomalous() bool {
	return r.AvgPrice <= 0
}
