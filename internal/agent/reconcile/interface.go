package reconcile

import (
	"context"

	"github.com/dmitrijs2005/propcheck/internal/agent/checklist"
	"github.com/dmitrijs2005/propcheck/internal/agent/models"
	"github.com/dmitrijs2005/propcheck/internal/agent/uploadqueue"
)

// Queue is the upload queue as used during the drain step.
type Queue interface {
	checklist.Enqueuer
	Item(id string) (uploadqueue.ItemView, bool)
	Retry(id string) error
	WaitForAll(ctx context.Context) error
}

type Connectivity interface {
	Online() bool
}

// Directory supplies the remote name to id lookup tables.
type Directory interface {
	Locations(ctx context.Context) ([]models.NamedID, error)
	Attributes(ctx context.Context) ([]models.NamedID, error)
	Statuses(ctx context.Context) ([]models.NamedID, error)
}

// ChecklistWriter upserts rows keyed by (job, location, attribute) as one
// all-or-nothing batch.
type ChecklistWriter interface {
	UpsertChecklist(ctx context.Context, rows []models.ChecklistRow) error
}

type JobUpdater interface {
	UpdateJob(ctx context.Context, jobID string, upd models.JobUpdate) error
}
