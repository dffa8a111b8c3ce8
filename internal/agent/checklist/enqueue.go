package checklist

import (
	"fmt"

	"github.com/dmitrijs2005/propcheck/internal/agent/models"
	"github.com/dmitrijs2005/propcheck/internal/agent/uploadqueue"
	"github.com/dmitrijs2005/propcheck/internal/common"
)

// Enqueuer is the part of the upload queue a checklist hands work to.
type Enqueuer interface {
	Enqueue(item uploadqueue.Item, cb uploadqueue.Callbacks) string
}

// Enqueue hands the attachment to q and keeps its state in step with the
// queue item. onChange, if set, runs after every state change coming from the
// queue; it runs on the queue goroutine before the staging copy is deleted.
// An error from onChange after a completed upload keeps the staging copy.
func (c *Checklist) Enqueue(q Enqueuer, attachmentID string, onChange func() error) (string, error) {
	_, att, ok := c.Find(attachmentID)
	if !ok {
		return "", fmt.Errorf("attachment %s: %w", attachmentID, common.ErrorNotFound)
	}
	if _, done := att.Path(); done {
		return "", fmt.Errorf("attachment %s already uploaded: %w", attachmentID, common.ErrInvalidState)
	}
	if !att.Recoverable() {
		return "", fmt.Errorf("attachment %s has no payload left: %w", attachmentID, common.ErrInvalidState)
	}

	changed := func() error {
		if onChange != nil {
			return onChange()
		}
		return nil
	}

	c.MarkQueued(attachmentID, "")

	qid := q.Enqueue(uploadqueue.Item{
		JobID:       att.JobID,
		AttributeID: att.AttributeID,
		Prefix:      c.stage.UploadPrefix(),
		LocalID:     att.LocalID(),
		Blob:        att.InMemoryBlob(),
	}, uploadqueue.Callbacks{
		OnProgress: func(s models.ItemStatus) {
			if c.MarkUploading(attachmentID, s == models.ItemUploading) {
				_ = changed()
			}
		},
		OnComplete: func(path string) error {
			if c.MarkUploaded(attachmentID, path) {
				return changed()
			}
			return nil
		},
		OnError: func(err error) {
			if c.MarkFailed(attachmentID, err.Error()) {
				_ = changed()
			}
		},
	})

	c.setQueueID(attachmentID, qid)
	return qid, nil
}
