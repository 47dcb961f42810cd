// Package extractor turns a source task into a normalized price record.
// The watch loop consumes the Extractor interface and treats the three
// outcomes distinctly: a record, no matching row, or an error.
package extractor

import (
	"context"
	"errors"

	"aluwatch/pkg/db/models"
)

// ErrNoMatch is returned when the source page was reachable but no
// table row matched the task's match key. For escalation purposes it
// counts as a fetch failure like any other extraction error.
var ErrNoMatch = errors.New("no table row matched the task selector")

// Extractor produces zero-or-one price record for a source task
type Extractor interface {
	Extract(ctx context.Context, task models.SourceTask) (*models.PriceRecord, error)
}
