package services

import (
	"context"

	"github.com/dmitrijs2005/propcheck/internal/agent/reconcile"
	"github.com/dmitrijs2005/propcheck/internal/agent/uploadqueue"
)

// Queue is the upload queue as used by job sessions.
type Queue interface {
	reconcile.Queue
	Remove(id string) bool
	Status() uploadqueue.Status
}

type Submitter interface {
	Submit(ctx context.Context, req reconcile.Request) (reconcile.Result, error)
}

// SubmitRecorder is told the outcome of every submit, e.g. for metrics.
type SubmitRecorder interface {
	SubmitFinished(outcome string)
}
