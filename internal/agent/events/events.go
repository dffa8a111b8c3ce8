// Package events publishes job lifecycle notifications for other services
// (dashboards, schedulers). Publishing is best effort: a lost event never
// affects the checklist that was submitted.
package events

import (
	"context"
	"time"
)

// JobSubmitted is emitted after a checklist was written and the job moved on.
type JobSubmitted struct {
	JobID       string    `json:"job_id"`
	Stage       string    `json:"stage"`
	Status      string    `json:"status"`
	Rows        int       `json:"rows"`
	Skipped     int       `json:"skipped"`
	SubmittedAt time.Time `json:"submitted_at"`
}

type Publisher interface {
	PublishJobSubmitted(ctx context.Context, ev JobSubmitted) error
}

// Nop drops every event.
type Nop struct{}

func (Nop) PublishJobSubmitted(context.Context, JobSubmitted) error { return nil }
