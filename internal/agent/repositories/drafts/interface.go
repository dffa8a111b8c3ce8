package drafts

import (
	"context"

	"github.com/dmitrijs2005/propcheck/internal/agent/models"
)

// Repository stores at most one draft per job.
type Repository interface {
	// Save inserts or replaces the draft for d.JobID.
	Save(ctx context.Context, d *models.Draft) error

	// Get returns the draft for jobID or common.ErrorNotFound.
	Get(ctx context.Context, jobID string) (*models.Draft, error)

	// Delete removes the draft for jobID. Missing drafts are not an error.
	Delete(ctx context.Context, jobID string) error

	// List returns the job ids that have a saved draft, most recent first.
	List(ctx context.Context) ([]string, error)
}
