// Package registry manages the set of named extraction targets. The
// primary source is seeded automatically and can be edited but never
// removed.
package registry

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"aluwatch/pkg/db"
	"aluwatch/pkg/db/models"
)

// PrimarySourceName is the protected source seeded on startup. Deleting
// it is rejected at the registry boundary.
const PrimarySourceName = "A00铝"

// Defaults for the seeded primary source
const (
	primarySourceURL      = "https://www.ccmn.cn/"
	primarySourceMatchKey = "A00铝"
)

var (
	// ErrPrimarySource is returned when a delete targets the protected primary source
	ErrPrimarySource = fmt.Errorf("task %q is the primary source and cannot be deleted", PrimarySourceName)
	// ErrDuplicateName is returned when a create or rename collides with an existing task
	ErrDuplicateName = errors.New("a task with this name already exists")
	// ErrTaskNotFound is returned when the named task does not exist
	ErrTaskNotFound = errors.New("task not found")
)

// Registry provides CRUD over source tasks with a unique-name invariant
type Registry struct {
	db     *gorm.DB
	logger *logrus.Logger
}

// New creates a Registry backed by the given database
func New(db *gorm.DB, logger *logrus.Logger) *Registry {
	if logger == nil {
		logger = logrus.New()
	}
	return &Registry{db: db, logger: logger}
}

// EnsurePrimary seeds the primary source task if it is absent, so the
// watcher works against an empty database.
func (r *Registry) EnsurePrimary(ctx context.Context) error {
	task := models.SourceTask{
		Name:     PrimarySourceName,
		URL:      primarySourceURL,
		MatchKey: primarySourceMatchKey,
	}

	result := r.db.WithContext(ctx).
		Where("name = ?", PrimarySourceName).
		FirstOrCreate(&task)
	if result.Error != nil {
		return fmt.Errorf("failed to seed primary source task: %w", result.Error)
	}

	if result.RowsAffected > 0 {
		r.logger.WithField("source", PrimarySourceName).Info("Seeded primary source task")
	}
	return nil
}

// List returns all registered tasks ordered by creation time
func (r *Registry) List(ctx context.Context) ([]models.SourceTask, error) {
	var tasks []models.SourceTask
	if err := r.db.WithContext(ctx).Order("id").Find(&tasks).Error; err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	return tasks, nil
}

// Get returns the task with the given name
func (r *Registry) Get(ctx context.Context, name string) (*models.SourceTask, error) {
	var task models.SourceTask
	err := r.db.WithContext(ctx).Where("name = ?", name).First(&task).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrTaskNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load task %q: %w", name, err)
	}
	return &task, nil
}

// Create registers a new task. Names are unique across the registry.
func (r *Registry) Create(ctx context.Context, task *models.SourceTask) error {
	if err := validateTask(task); err != nil {
		return err
	}

	if err := r.db.WithContext(ctx).Create(task).Error; err != nil {
		if db.IsUniqueViolation(err) {
			return ErrDuplicateName
		}
		return fmt.Errorf("failed to create task %q: %w", task.Name, err)
	}

	r.logger.WithFields(logrus.Fields{
		"source":    task.Name,
		"url":       task.URL,
		"match_key": task.MatchKey,
	}).Info("Registered source task")
	return nil
}

// Update edits the task currently named oldName. Renames are allowed,
// including for the primary source; only deletion is protected.
func (r *Registry) Update(ctx context.Context, oldName string, task *models.SourceTask) error {
	if err := validateTask(task); err != nil {
		return err
	}

	existing, err := r.Get(ctx, oldName)
	if err != nil {
		return err
	}

	existing.Name = task.Name
	existing.URL = task.URL
	existing.MatchKey = task.MatchKey

	if err := r.db.WithContext(ctx).Save(existing).Error; err != nil {
		if db.IsUniqueViolation(err) {
			return ErrDuplicateName
		}
		return fmt.Errorf("failed to update task %q: %w", oldName, err)
	}

	r.logger.WithFields(logrus.Fields{
		"source":   oldName,
		"new_name": task.Name,
	}).Info("Updated source task")
	return nil
}

// Delete removes the named task. The primary source is rejected before
// any database work happens.
func (r *Registry) Delete(ctx context.Context, name string) error {
	if name == PrimarySourceName {
		return ErrPrimarySource
	}

	result := r.db.WithContext(ctx).Where("name = ?", name).Delete(&models.SourceTask{})
	if result.Error != nil {
		return fmt.Errorf("failed to delete task %q: %w", name, result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrTaskNotFound
	}

	r.logger.WithField("source", name).Info("Deleted source task")
	return nil
}

func validateTask(task *models.SourceTask) error {
	if task == nil {
		return errors.New("task is required")
	}
	if task.Name == "" || task.URL == "" || task.MatchKey == "" {
		return errors.New("task name, url and selector are all required")
	}
	return nil
}
