package staging

import (
	"context"

	"github.com/dmitrijs2005/propcheck/internal/agent/models"
)

// Repository describes the staging area used by the upload pipeline.
type Repository interface {
	// Store persists blob under a fresh local id and returns it.
	Store(ctx context.Context, jobID, attributeID string, blob models.Blob) (string, error)

	// Retrieve returns the payload stored under localID.
	Retrieve(ctx context.Context, localID string) (models.Blob, error)

	// Delete removes the payload. Deleting an unknown id is not an error.
	Delete(ctx context.Context, localID string) error

	// ListByJob returns the local ids staged for a job, oldest first.
	ListByJob(ctx context.Context, jobID string) ([]string, error)
}
