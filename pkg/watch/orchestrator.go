// Package watch drives the daily acquisition, persistence, delivery and
// alerting loop. One cycle walks every registered source sequentially;
// the day's obligation is met when a record dated today has been
// persisted, and at most one successful outbound delivery happens per
// calendar day.
package watch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"aluwatch/pkg/alerting"
	"aluwatch/pkg/daykey"
	"aluwatch/pkg/db/models"
	"aluwatch/pkg/extractor"
	"aluwatch/pkg/pricestore"
	"aluwatch/pkg/registry"
)

// TaskLister returns the registered source tasks
type TaskLister interface {
	List(ctx context.Context) ([]models.SourceTask, error)
}

// RecordStore is the slice of the price store the loop needs
type RecordStore interface {
	Append(ctx context.Context, record *models.PriceRecord) error
	HasRecordForDate(ctx context.Context, dateKey int) (bool, error)
}

// DeliverySink posts a record to the downstream webhook
type DeliverySink interface {
	DeliverRecord(ctx context.Context, record *models.PriceRecord) error
}

// FailureReporter is the slice of the alert engine the loop needs
type FailureReporter interface {
	ReportFailure(ctx context.Context, category alerting.Category, detail string)
	ReportSuccess(category alerting.Category)
	ReportAnomaly(ctx context.Context, record *models.PriceRecord)
}

// OrchestratorConfig wires the loop's collaborators
type OrchestratorConfig struct {
	Registry  TaskLister
	Store     RecordStore
	Extractor extractor.Extractor
	Sink      DeliverySink
	Alerts    FailureReporter
	Config    *Config
	Logger    *logrus.Logger
}

// Orchestrator owns the per-day cycle state: the delivered-today flag
// and the single retry loop handle. Cycle execution is serialized so
// the daily trigger and the retry loop can never interleave.
type Orchestrator struct {
	registry  TaskLister
	store     RecordStore
	extractor extractor.Extractor
	sink      DeliverySink
	alerts    FailureReporter
	config    *Config
	logger    *logrus.Logger

	// runMu is the single-slot exclusion lock around a cycle
	runMu sync.Mutex

	stateMu        sync.Mutex
	deliveredToday bool
	retryCancel    context.CancelFunc
}

// NewOrchestrator validates the wiring and creates the loop
func NewOrchestrator(cfg OrchestratorConfig) (*Orchestrator, error) {
	if cfg.Registry == nil {
		return nil, fmt.Errorf("registry is required")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("record store is required")
	}
	if cfg.Extractor == nil {
		return nil, fmt.Errorf("extractor is required")
	}
	if cfg.Sink == nil {
		return nil, fmt.Errorf("delivery sink is required")
	}
	if cfg.Alerts == nil {
		return nil, fmt.Errorf("failure reporter is required")
	}
	if cfg.Config == nil {
		return nil, fmt.Errorf("config is required")
	}
	if err := cfg.Config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}

	return &Orchestrator{
		registry:  cfg.Registry,
		store:     cfg.Store,
		extractor: cfg.Extractor,
		sink:      cfg.Sink,
		alerts:    cfg.Alerts,
		config:    cfg.Config,
		logger:    cfg.Logger,
	}, nil
}

// Today returns the current day key in the configured timezone
func (o *Orchestrator) Today() int {
	return daykey.Today(o.config.Location)
}

// RunDailyCycle is the entry point for the daily schedule trigger. The
// caller has already applied the trading-day predicate.
func (o *Orchestrator) RunDailyCycle(ctx context.Context) {
	log := o.logger.WithField("run_id", uuid.NewString())
	log.Info("Daily cycle triggered")

	outcomes, err := o.RunAllSources(ctx)
	if err != nil {
		log.WithError(err).Error("Daily cycle failed")
		return
	}

	for _, outcome := range outcomes {
		fields := logrus.Fields{
			"source":     outcome.Source,
			"fetch":      outcome.Fetch,
			"persisted":  outcome.Persisted,
			"delivery":   outcome.Delivery,
			"price_date": outcome.DayKey,
		}
		if outcome.Err != nil {
			fields["error"] = outcome.Err
		}
		log.WithFields(fields).Info("Source outcome")
	}
}

// RunAllSources performs one cycle: short-circuit if today's obligation
// is already met, otherwise walk every source sequentially and arm the
// retry loop when the obligation is still unmet afterwards. Safe to
// invoke from concurrently firing timers.
func (o *Orchestrator) RunAllSources(ctx context.Context) ([]SourceOutcome, error) {
	o.runMu.Lock()
	defer o.runMu.Unlock()

	today := o.Today()
	log := o.logger.WithField("price_date", today)

	satisfied, err := o.store.HasRecordForDate(ctx, today)
	if err != nil {
		// Cannot tell whether the obligation is met; run the cycle and
		// let day-level dedup absorb any repeat work.
		log.WithError(err).Error("Failed to check daily obligation, running cycle anyway")
	}
	if satisfied {
		log.Debug("Daily obligation already satisfied, skipping cycle")
		o.stopRetryLoop("obligation satisfied")
		return nil, nil
	}

	tasks, err := o.listTasks(ctx)
	if err != nil {
		o.StartRetryLoop()
		return nil, err
	}

	outcomes := make([]SourceOutcome, 0, len(tasks))
	for _, task := range tasks {
		outcomes = append(outcomes, o.runTask(ctx, task, today))
	}

	for _, outcome := range outcomes {
		if outcome.SatisfiesObligation(today) {
			o.stopRetryLoop("obligation satisfied")
			return outcomes, nil
		}
	}

	log.Warn("Daily obligation unmet after cycle, arming retry loop")
	o.StartRetryLoop()
	return outcomes, nil
}

// listTasks loads the registry and guarantees the primary source is
// present and processed first.
func (o *Orchestrator) listTasks(ctx context.Context) ([]models.SourceTask, error) {
	tasks, err := o.registry.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list source tasks: %w", err)
	}

	ordered := make([]models.SourceTask, 0, len(tasks)+1)
	for _, task := range tasks {
		if task.Name == registry.PrimarySourceName {
			ordered = append([]models.SourceTask{task}, ordered...)
		} else {
			ordered = append(ordered, task)
		}
	}

	if len(ordered) == 0 || ordered[0].Name != registry.PrimarySourceName {
		ordered = append([]models.SourceTask{{
			Name:     registry.PrimarySourceName,
			URL:      "https://www.ccmn.cn/",
			MatchKey: registry.PrimarySourceName,
		}}, ordered...)
	}

	return ordered, nil
}

// runTask pushes one source through extract, persist and deliver
func (o *Orchestrator) runTask(ctx context.Context, task models.SourceTask, today int) SourceOutcome {
	log := o.logger.WithField("source", task.Name)
	outcome := SourceOutcome{Source: task.Name, Delivery: NotAttempted}

	record, err := o.extractor.Extract(ctx, task)
	switch {
	case errors.Is(err, extractor.ErrNoMatch):
		log.Warn("Source reachable but no matching row found")
		o.alerts.ReportFailure(ctx, alerting.CategoryFetch,
			fmt.Sprintf("no matching row for %s at %s", task.Name, task.URL))
		outcome.Fetch = FetchEmpty
		outcome.Err = err
		return outcome
	case err != nil:
		log.WithError(err).Error("Extraction failed")
		o.alerts.ReportFailure(ctx, alerting.CategoryFetch,
			fmt.Sprintf("extraction failed for %s: %v", task.Name, err))
		outcome.Fetch = FetchError
		outcome.Err = err
		return outcome
	}

	outcome.Fetch = FetchOK
	outcome.DayKey = record.PriceDate
	o.alerts.ReportSuccess(alerting.CategoryFetch)

	switch err := o.store.Append(ctx, record); {
	case errors.Is(err, pricestore.ErrDuplicateRecord):
		log.WithField("price_date", record.PriceDate).Info("Record already stored for this day")
		outcome.Persisted = true
	case err != nil:
		// Storage failures are logged, never escalated through the
		// alert channel, and not retried within the cycle.
		log.WithError(err).Error("Failed to persist record")
		outcome.Err = err
		return outcome
	default:
		outcome.Persisted = true
		if record.Anomalous() {
			log.WithField("avg_price", record.AvgPrice).Warn("Persisted record has anomalous average price")
			o.alerts.ReportAnomaly(ctx, record)
		}
	}

	if record.PriceDate != today {
		log.WithFields(logrus.Fields{
			"price_date": record.PriceDate,
			"today":      today,
		}).Warn("Record is not dated today, skipping delivery")
		return outcome
	}

	outcome.Delivery = o.deliver(ctx, record)
	return outcome
}

// deliver is the delivery gate: at most one successful outbound send
// per calendar day, no local retry of a failed attempt.
func (o *Orchestrator) deliver(ctx context.Context, record *models.PriceRecord) DeliveryStatus {
	o.stateMu.Lock()
	alreadyDelivered := o.deliveredToday
	o.stateMu.Unlock()

	if alreadyDelivered {
		o.logger.WithField("source", record.Name).Info("Delivery already happened today, skipping")
		return Skipped
	}

	if err := o.sink.DeliverRecord(ctx, record); err != nil {
		o.logger.WithError(err).WithField("source", record.Name).Error("Delivery failed")
		o.alerts.ReportFailure(ctx, alerting.CategoryDelivery,
			fmt.Sprintf("delivery failed for %s: %v", record.Name, err))
		return DeliveryFailed
	}

	o.stateMu.Lock()
	o.deliveredToday = true
	o.stateMu.Unlock()

	o.alerts.ReportSuccess(alerting.CategoryDelivery)
	return Delivered
}

// StartRetryLoop arms the retry timer. Idempotent: a no-op while a
// retry loop is already active.
func (o *Orchestrator) StartRetryLoop() {
	o.stateMu.Lock()
	if o.retryCancel != nil {
		o.stateMu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	o.retryCancel = cancel
	o.stateMu.Unlock()

	o.logger.WithField("interval", o.config.RetryInterval).Info("Retry loop armed")
	go o.retryLoop(ctx)
}

func (o *Orchestrator) retryLoop(ctx context.Context) {
	ticker := time.NewTicker(o.config.RetryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			satisfied, err := o.store.HasRecordForDate(ctx, o.Today())
			if err != nil {
				o.logger.WithError(err).Error("Retry tick failed to check daily obligation")
			}
			if satisfied {
				o.stopRetryLoop("obligation satisfied")
				return
			}
			if _, err := o.RunAllSources(ctx); err != nil {
				o.logger.WithError(err).Error("Retry cycle failed")
			}
		}
	}
}

// stopRetryLoop tears the retry timer down, if armed
func (o *Orchestrator) stopRetryLoop(reason string) {
	o.stateMu.Lock()
	defer o.stateMu.Unlock()

	if o.retryCancel == nil {
		return
	}
	o.retryCancel()
	o.retryCancel = nil
	o.logger.WithField("reason", reason).Info("Retry loop stopped")
}

// ResetDaily is invoked at the midnight boundary: the delivered-today
// flag clears and any active retry loop is cancelled. This is the only
// teardown path for the retry loop besides satisfaction.
func (o *Orchestrator) ResetDaily() {
	o.stateMu.Lock()
	o.deliveredToday = false
	o.stateMu.Unlock()

	o.stopRetryLoop("midnight reset")
	o.logger.Info("Daily state reset")
}

// Shutdown cancels the retry loop on process exit
func (o *Orchestrator) Shutdown() {
	o.stopRetryLoop("shutdown")
}

// Status describes the current cycle state for the admin surface
type Status struct {
	DeliveredToday bool `json:"delivered_today"`
	RetryArmed     bool `json:"retry_armed"`
	Today          int  `json:"today"`
}

// CurrentStatus returns a snapshot of the cycle state
func (o *Orchestrator) CurrentStatus() Status {
	o.stateMu.Lock()
	defer o.stateMu.Unlock()
	return Status{
		DeliveredToday: o.deliveredToday,
		RetryArmed:     o.retryCancel != nil,
		Today:          o.Today(),
	}
}
