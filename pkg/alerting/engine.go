// Package alerting maintains consecutive-failure counters and the
// append-only alert log. Fetch and delivery failures are debounced to
// one alert per threshold run; anomalous data alerts on every occurrence.
package alerting

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"aluwatch/pkg/daykey"
	"aluwatch/pkg/db/models"
)

// Category names a consecutive-failure counter. Each category escalates
// independently.
type Category string

const (
	CategoryFetch    Category = "fetch"
	CategoryDelivery Category = "delivery"
)

// DefaultThreshold is how many consecutive failures of one category
// produce one alert.
const DefaultThreshold = 3

// AlertSink delivers an alert text to the secondary notification
// channel. Sends are best-effort; a failed send is only logged.
type AlertSink interface {
	SendAlertText(ctx context.Context, text string) error
}

// Engine tracks failure counters and writes the alert log
type Engine struct {
	mu        sync.Mutex
	counters  map[Category]int
	threshold int
	db        *gorm.DB
	sink      AlertSink
	logger    *logrus.Logger
}

// New creates an Engine. A threshold below one falls back to the default.
func New(db *gorm.DB, sink AlertSink, threshold int, logger *logrus.Logger) *Engine {
	if threshold < 1 {
		threshold = DefaultThreshold
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Engine{
		counters:  make(map[Category]int),
		threshold: threshold,
		db:        db,
		sink:      sink,
		logger:    logger,
	}
}

// ReportFailure increments the category counter. When the counter
// reaches the threshold one alert is emitted and the counter resets to
// zero, so the next alert requires another full run of consecutive
// failures.
func (e *Engine) ReportFailure(ctx context.Context, category Category, detail string) {
	e.mu.Lock()
	e.counters[category]++
	count := e.counters[category]
	crossed := count >= e.threshold
	if crossed {
		e.counters[category] = 0
	}
	e.mu.Unlock()

	log := e.logger.WithFields(logrus.Fields{
		"category":      category,
		"failure_count": count,
		"threshold":     e.threshold,
	})
	log.WithField("detail", detail).Warn("Failure reported")

	if !crossed {
		return
	}

	alertType := categoryAlertType(category)
	message := fmt.Sprintf("%d consecutive %s failures, latest: %s", count, category, detail)
	e.emit(ctx, alertType, message)
}

// ReportSuccess resets the category counter after a successful operation
func (e *Engine) ReportSuccess(category Category) {
	e.mu.Lock()
	e.counters[category] = 0
	e.mu.Unlock()
}

// ReportAnomaly records an implausible price record. Anomalies are not
// debounced; every occurrence produces an alert.
func (e *Engine) ReportAnomaly(ctx context.Context, record *models.PriceRecord) {
	message := fmt.Sprintf("anomalous average price %v for %s on %s",
		record.AvgPrice, record.Name, daykey.Format(record.PriceDate))
	e.emit(ctx, models.AlertAnomalousData, message)
}

// FailureCount returns the current consecutive-failure count for a category
func (e *Engine) FailureCount(category Category) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.counters[category]
}

// AlertsBetween returns alerts created in [from, to], newest first,
// capped at limit.
func (e *Engine) AlertsBetween(ctx context.Context, fromKey, toKey int, limit int) ([]models.Alert, error) {
	if limit <= 0 || limit > 100 {
		limit = 100
	}

	from := daykey.ToTime(fromKey, time.Local)
	to := daykey.ToTime(toKey, time.Local).AddDate(0, 0, 1)

	var alerts []models.Alert
	err := e.db.WithContext(ctx).
		Where("created_at >= ? AND created_at < ?", from, to).
		Order("id DESC").
		Limit(limit).
		Find(&alerts).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query alerts: %w", err)
	}
	return alerts, nil
}

// emit persists the alert and dispatches it to the secondary channel.
// Storage failures and send failures are logged only; the alerting path
// never escalates its own problems.
func (e *Engine) emit(ctx context.Context, alertType models.AlertType, message string) {
	log := e.logger.WithFields(logrus.Fields{
		"alert_type": alertType,
		"message":    message,
	})

	alert := models.Alert{Type: alertType, Message: message}
	if err := e.db.WithContext(ctx).Create(&alert).Error; err != nil {
		log.WithError(err).Error("Failed to persist alert")
	} else {
		log.Warn("Alert recorded")
	}

	if e.sink == nil {
		return
	}
	text := fmt.Sprintf("[aluwatch] %s: %s", alertType, message)
	if err := e.sink.SendAlertText(ctx, text); err != nil {
		log.WithError(err).Error("Failed to dispatch alert to notification channel")
	}
}

func categoryAlertType(category Category) models.AlertType {
	if category == CategoryDelivery {
		return models.AlertDeliveryFailure
	}
	return models.AlertFetchFailure
}
